package lens

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/banshee-data/autofocus/internal/af"
)

// Focus motor controller line protocol. Every line ends in '\n'.
//
//	host -> device   CAP?            query actuator capability
//	device -> host   CAP s min max p s is 1 when an actuator is fitted
//	host -> device   POS n           move to position n
//	device -> host   OK n            move accepted, lens heading to n
//	device -> host   ERR reason      command rejected
const (
	CmdCapability = "CAP?"

	replyCapability = "CAP"
	replyOK         = "OK"
	replyError      = "ERR"
)

// Line kinds returned by ClassifyLine.
const (
	LineCapability = "capability"
	LineAck        = "ack"
	LineError      = "error"
	LineUnknown    = "unknown"
)

// ClassifyLine returns the kind of a device line.
func ClassifyLine(line string) string {
	switch strings.SplitN(strings.TrimSpace(line), " ", 2)[0] {
	case replyCapability:
		return LineCapability
	case replyOK:
		return LineAck
	case replyError:
		return LineError
	}
	return LineUnknown
}

// FormatPosition renders a move command.
func FormatPosition(pos int) string {
	return fmt.Sprintf("POS %d", pos)
}

// ParsePosition parses a move command sent by the host.
func ParsePosition(line string) (int, error) {
	fields := strings.Fields(line)
	if len(fields) != 2 || fields[0] != "POS" {
		return 0, fmt.Errorf("malformed move command %q", line)
	}
	return strconv.Atoi(fields[1])
}

// FormatCapability renders a capability reply.
func FormatCapability(c af.Capability) string {
	supported := 0
	if c.Supported {
		supported = 1
	}
	return fmt.Sprintf("%s %d %d %d %d", replyCapability, supported, c.Range.Min, c.Range.Max, c.Position)
}

// ParseCapability parses a capability reply.
func ParseCapability(line string) (af.Capability, error) {
	fields := strings.Fields(line)
	if len(fields) != 5 || fields[0] != replyCapability {
		return af.Capability{}, fmt.Errorf("malformed capability reply %q", line)
	}
	var vals [4]int
	for i, f := range fields[1:] {
		v, err := strconv.Atoi(f)
		if err != nil {
			return af.Capability{}, fmt.Errorf("capability field %d in %q: %w", i+1, line, err)
		}
		vals[i] = v
	}
	return af.Capability{
		Supported: vals[0] == 1,
		Range:     af.FocusRange{Min: vals[1], Max: vals[2]},
		Position:  vals[3],
	}, nil
}

// FormatAck renders the device's reply to an accepted move.
func FormatAck(pos int) string {
	return fmt.Sprintf("%s %d", replyOK, pos)
}

// ParseAck parses an OK reply and returns the accepted position.
func ParseAck(line string) (int, error) {
	fields := strings.Fields(line)
	if len(fields) != 2 || fields[0] != replyOK {
		return 0, fmt.Errorf("malformed ack %q", line)
	}
	return strconv.Atoi(fields[1])
}
