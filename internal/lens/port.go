package lens

import "io"

// SerialPorter is the minimal interface the lens needs from a serial port.
// go.bug.st/serial ports satisfy it, as do SimulatedPort and test fakes.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}
