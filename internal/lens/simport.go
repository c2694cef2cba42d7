package lens

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/banshee-data/autofocus/internal/af"
)

var errPortClosed = errors.New("serial port closed")

// SimulatedPort emulates a focus motor controller behind a serial port. The
// host side reads and writes it like a real port; commands are answered
// in-process. Moves complete instantly.
type SimulatedPort struct {
	mu    sync.Mutex
	cond  *sync.Cond
	capab af.Capability

	out     bytes.Buffer // device -> host
	partial bytes.Buffer // incomplete host line
	closed  bool

	moves    int
	commands []string
}

// NewSimulatedPort returns a controller with an actuator over rng resting at
// pos.
func NewSimulatedPort(rng af.FocusRange, pos int) *SimulatedPort {
	p := &SimulatedPort{capab: af.Capability{Supported: true, Range: rng, Position: rng.Clamp(pos)}}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// NewFixedFocusPort returns a controller that reports no actuator.
func NewFixedFocusPort() *SimulatedPort {
	p := &SimulatedPort{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Read blocks until the device has output or the port is closed.
func (p *SimulatedPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.out.Len() == 0 && !p.closed {
		p.cond.Wait()
	}
	if p.out.Len() == 0 {
		return 0, io.EOF
	}
	return p.out.Read(b)
}

// Write accepts host command bytes and answers every complete line.
func (p *SimulatedPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, errPortClosed
	}
	p.partial.Write(b)
	for {
		line, err := p.partial.ReadString('\n')
		if err != nil {
			// Put the incomplete tail back for the next write.
			rest := line
			p.partial.Reset()
			p.partial.WriteString(rest)
			break
		}
		p.handle(strings.TrimSpace(line))
	}
	p.cond.Broadcast()
	return len(b), nil
}

func (p *SimulatedPort) handle(line string) {
	if line == "" {
		return
	}
	p.commands = append(p.commands, line)
	switch {
	case line == CmdCapability:
		p.reply(FormatCapability(p.capab))
	case strings.HasPrefix(line, "POS"):
		pos, err := ParsePosition(line)
		if err != nil {
			p.reply(replyError + " bad position")
			return
		}
		if !p.capab.Supported {
			p.reply(replyError + " no actuator")
			return
		}
		p.capab.Position = p.capab.Range.Clamp(pos)
		p.moves++
		p.reply(FormatAck(p.capab.Position))
	default:
		p.reply(replyError + " unknown command")
	}
}

func (p *SimulatedPort) reply(line string) {
	p.out.WriteString(line)
	p.out.WriteByte('\n')
}

// Close wakes blocked readers; further writes fail.
func (p *SimulatedPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.cond.Broadcast()
	return nil
}

// Position returns where the simulated lens sits.
func (p *SimulatedPort) Position() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.capab.Position
}

// Moves returns how many move commands the device executed.
func (p *SimulatedPort) Moves() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.moves
}

// Commands returns every command line the device received.
func (p *SimulatedPort) Commands() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.commands...)
}
