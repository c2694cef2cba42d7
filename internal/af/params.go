package af

import (
	"fmt"
	"math"
)

// Params holds the tunable thresholds of the search engine. Zero values are
// replaced by defaults in applyParamDefaults, so a partially filled Params is
// safe to pass to Init.
type Params struct {
	// Full-range scan step in lens units. 0 derives the step from
	// FullRangePoints.
	FullRangeStep   int
	FullRangePoints int

	// Hill-climbing.
	InitialStep      int
	MinStep          int
	MaxStep          int
	GrowFactor       float64
	ShrinkRatio      float64
	NoiseRatio       float64
	StableFrames     int
	InitialDirection int

	// Adaptive-range.
	Passes       int
	PassPoints   int
	ShrinkFactor float64

	// Continuous re-trigger.
	DriftMargin float64
	DriftFrames int

	// ShotMargin is the fraction below the best sharpness still accepted by
	// ShotCheck.
	ShotMargin float64

	// MaxSearchFrames bounds a single search; 0 means unlimited.
	MaxSearchFrames int
	// MinFocusSharpness is the floor below which a converged search is
	// reported as not focused.
	MinFocusSharpness float64

	// EventQueueSize is the capacity subscribers of this context pass to
	// NewEventQueue.
	EventQueueSize int
}

// DefaultParams returns the engine defaults.
func DefaultParams() Params {
	return Params{
		FullRangePoints:  17,
		InitialStep:      8,
		MinStep:          1,
		MaxStep:          64,
		GrowFactor:       1.0,
		ShrinkRatio:      0.5,
		NoiseRatio:       0.005,
		StableFrames:     3,
		InitialDirection: 1,
		Passes:           3,
		PassPoints:       9,
		ShrinkFactor:     4,
		DriftMargin:      0.25,
		DriftFrames:      5,
		ShotMargin:       0.1,
		EventQueueSize:   16,
	}
}

func applyParamDefaults(p Params) Params {
	d := DefaultParams()
	if p.FullRangePoints <= 1 {
		p.FullRangePoints = d.FullRangePoints
	}
	if p.InitialStep <= 0 {
		p.InitialStep = d.InitialStep
	}
	if p.MinStep <= 0 {
		p.MinStep = d.MinStep
	}
	if p.MaxStep <= 0 {
		p.MaxStep = d.MaxStep
	}
	if p.MaxStep < p.InitialStep {
		p.MaxStep = p.InitialStep
	}
	if p.GrowFactor < 1 {
		p.GrowFactor = d.GrowFactor
	}
	if p.ShrinkRatio <= 0 || p.ShrinkRatio >= 1 {
		p.ShrinkRatio = d.ShrinkRatio
	}
	if p.NoiseRatio < 0 {
		p.NoiseRatio = d.NoiseRatio
	}
	if p.StableFrames <= 0 {
		p.StableFrames = d.StableFrames
	}
	if p.InitialDirection >= 0 {
		p.InitialDirection = 1
	} else {
		p.InitialDirection = -1
	}
	if p.Passes <= 0 {
		p.Passes = d.Passes
	}
	if p.PassPoints <= 2 {
		p.PassPoints = d.PassPoints
	}
	if p.ShrinkFactor <= 1 {
		p.ShrinkFactor = d.ShrinkFactor
	}
	if p.DriftMargin <= 0 || p.DriftMargin >= 1 {
		p.DriftMargin = d.DriftMargin
	}
	if p.DriftFrames <= 0 {
		p.DriftFrames = d.DriftFrames
	}
	if p.ShotMargin <= 0 || p.ShotMargin >= 1 {
		p.ShotMargin = d.ShotMargin
	}
	if p.MaxSearchFrames < 0 {
		p.MaxSearchFrames = 0
	}
	if p.EventQueueSize <= 0 {
		p.EventQueueSize = d.EventQueueSize
	}
	return p
}

// Validate rejects values that defaults cannot repair.
func (p Params) Validate() error {
	if p.FullRangeStep < 0 {
		return fmt.Errorf("full_range_step must be non-negative, got %d: %w", p.FullRangeStep, ErrInvalidParameter)
	}
	if p.MinStep > 0 && p.InitialStep > 0 && p.MinStep > p.InitialStep {
		return fmt.Errorf("min_step %d exceeds initial_step %d: %w", p.MinStep, p.InitialStep, ErrInvalidParameter)
	}
	if math.IsNaN(p.MinFocusSharpness) || p.MinFocusSharpness < 0 {
		return fmt.Errorf("min_focus_sharpness must be non-negative: %w", ErrInvalidParameter)
	}
	for name, v := range map[string]float64{
		"grow_factor":   p.GrowFactor,
		"shrink_ratio":  p.ShrinkRatio,
		"noise_ratio":   p.NoiseRatio,
		"shrink_factor": p.ShrinkFactor,
		"drift_margin":  p.DriftMargin,
		"shot_margin":   p.ShotMargin,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%s must be finite: %w", name, ErrInvalidParameter)
		}
	}
	return nil
}
