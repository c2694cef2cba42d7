package af

import (
	"fmt"
	"strings"
)

// State is the lifecycle state of an AF context.
type State int

const (
	StateIdle State = iota
	StateConfigured
	StateSearching
	StateSettled
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConfigured:
		return "configured"
	case StateSearching:
		return "searching"
	case StateSettled:
		return "settled"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Strategy selects the focus search algorithm.
type Strategy int

const (
	StrategyInvalid Strategy = iota
	StrategyFullRange
	StrategyHillClimbing
	StrategyAdaptiveRange
	strategyMax
)

// Valid reports whether s names one of the three search algorithms.
func (s Strategy) Valid() bool {
	return s > StrategyInvalid && s < strategyMax
}

func (s Strategy) String() string {
	switch s {
	case StrategyFullRange:
		return "full-range"
	case StrategyHillClimbing:
		return "hill-climbing"
	case StrategyAdaptiveRange:
		return "adaptive-range"
	default:
		return "invalid"
	}
}

// ParseStrategy accepts the canonical names plus the short forms used on the
// command line ("full", "hill", "adaptive").
func ParseStrategy(name string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "full-range", "fullrange", "full":
		return StrategyFullRange, nil
	case "hill-climbing", "hillclimbing", "hill":
		return StrategyHillClimbing, nil
	case "adaptive-range", "adaptiverange", "adaptive":
		return StrategyAdaptiveRange, nil
	}
	return StrategyInvalid, fmt.Errorf("unknown strategy %q: %w", name, ErrInvalidParameter)
}

// TriggerMode selects between a single convergence cycle and continuous
// re-triggering. It is chosen by calling OneShot or Start.
type TriggerMode int

const (
	ModeNone TriggerMode = iota
	ModeOneShot
	ModeContinuous
	ModeStopped
)

func (m TriggerMode) String() string {
	switch m {
	case ModeOneShot:
		return "one-shot"
	case ModeContinuous:
		return "continuous"
	case ModeStopped:
		return "stopped"
	default:
		return "none"
	}
}

// FocusRange is the closed interval of lens positions an actuator accepts.
type FocusRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// Span returns Max-Min.
func (r FocusRange) Span() int { return r.Max - r.Min }

// Valid reports whether the range is non-empty.
func (r FocusRange) Valid() bool { return r.Max > r.Min }

// Clamp limits pos to the range.
func (r FocusRange) Clamp(pos int) int {
	if pos < r.Min {
		return r.Min
	}
	if pos > r.Max {
		return r.Max
	}
	return pos
}

// Capability is what a sensor reports about its focus actuator. Position is
// where the lens currently sits; searches that work locally start there.
type Capability struct {
	Supported bool
	Range     FocusRange
	Position  int
}

// Sensor is the actuator/sensor collaborator. SetFocus is fire-and-forget:
// implementations must not block the frame path on device I/O.
type Sensor interface {
	FocusCapability() (Capability, error)
	SetFocus(pos int) error
}

// Config selects the sensors and strategy for Configure. SubSensor is optional
// and used on dual-camera rigs; it follows the primary lens.
type Config struct {
	Sensor    Sensor
	SubSensor Sensor
	Strategy  Strategy
}

// Status is a snapshot of the context. Running, Strategy and Sharpness are the
// classic status triple; the rest is for diagnostics.
type Status struct {
	Running   bool
	Strategy  Strategy
	Sharpness float64

	State         State
	Mode          TriggerMode
	Locked        bool
	Position      int
	BestPosition  int
	BestSharpness float64
	Frames        int
}
