package lens

import (
	"fmt"

	"go.bug.st/serial"
)

// OpenSerial opens the focus motor controller at path.
func OpenSerial(path string, opts PortOptions) (*Lens[serial.Port], error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return New[serial.Port](port), nil
}
