// Package lens drives a serial-attached focus motor controller. A Lens
// implements af.Sensor: capability queries are answered by the device, and
// focus commands are handed to a writer goroutine that only ever keeps the
// most recent position, so the AF frame path never waits on the UART.
//
// Lines read from the device are also fanned out to subscribers for the
// debug tail endpoint.
package lens

import (
	"bufio"
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/autofocus/internal/af"
	"github.com/banshee-data/autofocus/internal/monitoring"
)

var (
	ErrWriteFailed = errors.New("lens: short write to serial port")
	ErrClosed      = errors.New("lens: closed")
	ErrNoReply     = errors.New("lens: no capability reply from device")
)

// DefaultReplyTimeout bounds how long FocusCapability waits for the device.
const DefaultReplyTimeout = 2 * time.Second

// Lens is a focus motor controller on a serial port.
type Lens[T SerialPorter] struct {
	port         T
	replyTimeout time.Duration

	commandMu sync.Mutex
	queryMu   sync.Mutex
	replies   chan string
	pending   chan int

	subscriberMu sync.Mutex
	subscribers  map[string]chan string

	closingMu sync.Mutex
	closing   bool
	done      chan struct{}

	acked      atomic.Int64
	writes     atomic.Uint64
	superseded atomic.Uint64
	rejected   atomic.Uint64
}

var _ af.Sensor = (*Lens[SerialPorter])(nil)

// New wraps port. Monitor and Run must be started before the lens is used
// as an af.Sensor.
func New[T SerialPorter](port T) *Lens[T] {
	l := &Lens[T]{
		port:         port,
		replyTimeout: DefaultReplyTimeout,
		replies:      make(chan string, 1),
		pending:      make(chan int, 1),
		subscribers:  make(map[string]chan string),
		done:         make(chan struct{}),
	}
	l.acked.Store(-1)
	return l
}

// SetReplyTimeout changes how long FocusCapability waits for the device.
func (l *Lens[T]) SetReplyTimeout(d time.Duration) {
	l.queryMu.Lock()
	defer l.queryMu.Unlock()
	l.replyTimeout = d
}

// randomID generates a random subscriber ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// Subscribe returns a channel receiving every line read from the device.
// Slow subscribers miss lines rather than stall the reader.
func (l *Lens[T]) Subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string, 8)
	l.subscriberMu.Lock()
	defer l.subscriberMu.Unlock()
	if l.isClosing() {
		close(ch)
		return id, ch
	}
	l.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (l *Lens[T]) Unsubscribe(id string) {
	l.subscriberMu.Lock()
	defer l.subscriberMu.Unlock()
	if ch, ok := l.subscribers[id]; ok {
		close(ch)
		delete(l.subscribers, id)
	}
}

// SendCommand writes one command line to the device.
func (l *Lens[T]) SendCommand(command string) error {
	l.commandMu.Lock()
	defer l.commandMu.Unlock()
	if !strings.HasSuffix(command, "\n") {
		command += "\n"
	}
	n, err := l.port.Write([]byte(command))
	if err != nil {
		return err
	}
	if n != len(command) {
		return ErrWriteFailed
	}
	return nil
}

// FocusCapability asks the device for its actuator range and position.
func (l *Lens[T]) FocusCapability() (af.Capability, error) {
	if l.isClosing() {
		return af.Capability{}, ErrClosed
	}
	l.queryMu.Lock()
	defer l.queryMu.Unlock()

	// A reply that arrived after an earlier query timed out is stale.
	select {
	case <-l.replies:
	default:
	}
	if err := l.SendCommand(CmdCapability); err != nil {
		return af.Capability{}, err
	}

	timer := time.NewTimer(l.replyTimeout)
	defer timer.Stop()
	select {
	case line := <-l.replies:
		return ParseCapability(line)
	case <-timer.C:
		return af.Capability{}, ErrNoReply
	case <-l.done:
		return af.Capability{}, ErrClosed
	}
}

// SetFocus queues pos for the writer goroutine and returns immediately. A
// position not yet written is replaced by the newer one.
func (l *Lens[T]) SetFocus(pos int) error {
	if l.isClosing() {
		return ErrClosed
	}
	for {
		select {
		case l.pending <- pos:
			return nil
		default:
		}
		select {
		case <-l.pending:
			l.superseded.Add(1)
		default:
		}
	}
}

// Run writes queued positions to the device until ctx is done or the lens
// is closed.
func (l *Lens[T]) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.done:
			return nil
		case pos := <-l.pending:
			if err := l.SendCommand(FormatPosition(pos)); err != nil {
				monitoring.Logf("lens: write position %d: %v", pos, err)
				continue
			}
			l.writes.Add(1)
		}
	}
}

// Monitor reads lines from the device, routes protocol replies and fans
// every line out to subscribers.
func (l *Lens[T]) Monitor(ctx context.Context) error {
	scan := bufio.NewScanner(l.port)

	lineChan := make(chan string)
	scanErrChan := make(chan error, 1)

	// The blocking scan runs on its own goroutine so cancellation is not held
	// up by a quiet device.
	go func() {
		defer close(lineChan)
		for scan.Scan() {
			select {
			case lineChan <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			select {
			case scanErrChan <- err:
			case <-ctx.Done():
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-scanErrChan:
			if l.isClosing() {
				return nil
			}
			return err

		case line, ok := <-lineChan:
			if !ok {
				return nil
			}
			if l.isClosing() {
				return nil
			}
			l.route(line)

			l.subscriberMu.Lock()
			for _, ch := range l.subscribers {
				select {
				case ch <- line:
				default:
				}
			}
			l.subscriberMu.Unlock()
		}
	}
}

func (l *Lens[T]) route(line string) {
	switch ClassifyLine(line) {
	case LineCapability:
		select {
		case l.replies <- line:
		default:
			monitoring.Logf("lens: dropping unsolicited capability reply %q", line)
		}
	case LineAck:
		pos, err := ParseAck(line)
		if err != nil {
			monitoring.Logf("lens: %v", err)
			return
		}
		l.acked.Store(int64(pos))
	case LineError:
		l.rejected.Add(1)
		monitoring.Logf("lens: device rejected command: %s", line)
	}
}

func (l *Lens[T]) isClosing() bool {
	l.closingMu.Lock()
	defer l.closingMu.Unlock()
	return l.closing
}

// Close stops the writer, closes subscriber channels and closes the port.
func (l *Lens[T]) Close() error {
	l.closingMu.Lock()
	if l.closing {
		l.closingMu.Unlock()
		return nil
	}
	l.closing = true
	close(l.done)
	l.closingMu.Unlock()

	l.subscriberMu.Lock()
	for id, ch := range l.subscribers {
		close(ch)
		delete(l.subscribers, id)
	}
	l.subscriberMu.Unlock()
	return l.port.Close()
}

// Stats is a snapshot of the writer counters.
type Stats struct {
	// AckedPosition is the last position the device accepted, -1 before the
	// first ack.
	AckedPosition int    `json:"acked_position"`
	Writes        uint64 `json:"writes"`
	Superseded    uint64 `json:"superseded"`
	Rejected      uint64 `json:"rejected"`
}

// Stats returns the writer counters.
func (l *Lens[T]) Stats() Stats {
	return Stats{
		AckedPosition: int(l.acked.Load()),
		Writes:        l.writes.Load(),
		Superseded:    l.superseded.Load(),
		Rejected:      l.rejected.Load(),
	}
}
