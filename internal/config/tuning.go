package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/banshee-data/autofocus/internal/af"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
const DefaultConfigPath = "config/autofocus.defaults.json"

// Trigger modes accepted by the mode field.
const (
	ModeOneShot    = "oneshot"
	ModeContinuous = "continuous"
)

// TuningConfig is the JSON tuning file for an AF context. Every field is
// optional: nil fields fall back to the engine defaults through the Get*
// methods, so partial files are safe.
type TuningConfig struct {
	Strategy *string `json:"strategy,omitempty"` // full | hill | adaptive
	Mode     *string `json:"mode,omitempty"`     // oneshot | continuous

	// Full-range scan
	FullRangeStep   *int `json:"full_range_step,omitempty"`
	FullRangePoints *int `json:"full_range_points,omitempty"`

	// Hill-climbing
	InitialStep      *int     `json:"initial_step,omitempty"`
	MinStep          *int     `json:"min_step,omitempty"`
	MaxStep          *int     `json:"max_step,omitempty"`
	GrowFactor       *float64 `json:"grow_factor,omitempty"`
	ShrinkRatio      *float64 `json:"shrink_ratio,omitempty"`
	NoiseRatio       *float64 `json:"noise_ratio,omitempty"`
	StableFrames     *int     `json:"stable_frames,omitempty"`
	InitialDirection *int     `json:"initial_direction,omitempty"`

	// Adaptive-range
	Passes       *int     `json:"passes,omitempty"`
	PassPoints   *int     `json:"pass_points,omitempty"`
	ShrinkFactor *float64 `json:"shrink_factor,omitempty"`

	// Continuous mode re-trigger
	DriftMargin *float64 `json:"drift_margin,omitempty"`
	DriftFrames *int     `json:"drift_frames,omitempty"`

	ShotMargin        *float64 `json:"shot_margin,omitempty"`
	MaxSearchFrames   *int     `json:"max_search_frames,omitempty"`
	MinFocusSharpness *float64 `json:"min_focus_sharpness,omitempty"`
	EventQueueSize    *int     `json:"event_queue_size,omitempty"`

	// Measurement ingress
	WindowWeights      []float64 `json:"window_weights,omitempty"`
	NormalizeLuminance *bool     `json:"normalize_luminance,omitempty"`
	MinLuminance       *float64  `json:"min_luminance,omitempty"`

	// Simulator frame pacing
	FrameInterval *string `json:"frame_interval,omitempty"` // duration string like "33ms"
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a config with every field populated from the
// engine defaults.
func DefaultTuningConfig() *TuningConfig {
	d := af.DefaultParams()
	in := af.DefaultIngress()
	return &TuningConfig{
		Strategy:           ptrString("hill"),
		Mode:               ptrString(ModeOneShot),
		FullRangeStep:      ptrInt(d.FullRangeStep),
		FullRangePoints:    ptrInt(d.FullRangePoints),
		InitialStep:        ptrInt(d.InitialStep),
		MinStep:            ptrInt(d.MinStep),
		MaxStep:            ptrInt(d.MaxStep),
		GrowFactor:         ptrFloat64(d.GrowFactor),
		ShrinkRatio:        ptrFloat64(d.ShrinkRatio),
		NoiseRatio:         ptrFloat64(d.NoiseRatio),
		StableFrames:       ptrInt(d.StableFrames),
		InitialDirection:   ptrInt(d.InitialDirection),
		Passes:             ptrInt(d.Passes),
		PassPoints:         ptrInt(d.PassPoints),
		ShrinkFactor:       ptrFloat64(d.ShrinkFactor),
		DriftMargin:        ptrFloat64(d.DriftMargin),
		DriftFrames:        ptrInt(d.DriftFrames),
		ShotMargin:         ptrFloat64(d.ShotMargin),
		MaxSearchFrames:    ptrInt(d.MaxSearchFrames),
		MinFocusSharpness:  ptrFloat64(d.MinFocusSharpness),
		EventQueueSize:     ptrInt(d.EventQueueSize),
		WindowWeights:      append([]float64(nil), in.Weights[:]...),
		NormalizeLuminance: ptrBool(in.NormalizeLuminance),
		MinLuminance:       ptrFloat64(in.MinLuminance),
		FrameInterval:      ptrString("33ms"),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file must have a .json extension and be under 1MB.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath from the current directory or
// one of its parents. Panics if the file cannot be loaded; intended for tests.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are usable. Values that the
// engine would silently replace with defaults are still rejected here so a
// typo in a tuning file is reported instead of ignored.
func (c *TuningConfig) Validate() error {
	if c.Strategy != nil {
		if _, err := af.ParseStrategy(*c.Strategy); err != nil {
			return err
		}
	}
	if c.Mode != nil {
		switch strings.ToLower(*c.Mode) {
		case ModeOneShot, ModeContinuous:
		default:
			return fmt.Errorf("mode must be %q or %q, got %q", ModeOneShot, ModeContinuous, *c.Mode)
		}
	}

	for name, v := range map[string]*int{
		"full_range_step":   c.FullRangeStep,
		"max_search_frames": c.MaxSearchFrames,
	} {
		if v != nil && *v < 0 {
			return fmt.Errorf("%s must be non-negative, got %d", name, *v)
		}
	}
	for name, v := range map[string]*int{
		"initial_step":     c.InitialStep,
		"min_step":         c.MinStep,
		"max_step":         c.MaxStep,
		"stable_frames":    c.StableFrames,
		"passes":           c.Passes,
		"drift_frames":     c.DriftFrames,
		"event_queue_size": c.EventQueueSize,
	} {
		if v != nil && *v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, *v)
		}
	}
	if c.FullRangePoints != nil && *c.FullRangePoints < 2 {
		return fmt.Errorf("full_range_points must be at least 2, got %d", *c.FullRangePoints)
	}
	if c.PassPoints != nil && *c.PassPoints < 3 {
		return fmt.Errorf("pass_points must be at least 3, got %d", *c.PassPoints)
	}
	if c.InitialDirection != nil && *c.InitialDirection != 1 && *c.InitialDirection != -1 {
		return fmt.Errorf("initial_direction must be 1 or -1, got %d", *c.InitialDirection)
	}
	if c.MinStep != nil && c.InitialStep != nil && *c.MinStep > *c.InitialStep {
		return fmt.Errorf("min_step %d exceeds initial_step %d", *c.MinStep, *c.InitialStep)
	}

	for name, v := range map[string]*float64{
		"shrink_ratio": c.ShrinkRatio,
		"drift_margin": c.DriftMargin,
		"shot_margin":  c.ShotMargin,
	} {
		if v != nil && (*v <= 0 || *v >= 1) {
			return fmt.Errorf("%s must be between 0 and 1 exclusive, got %f", name, *v)
		}
	}
	if c.NoiseRatio != nil && (*c.NoiseRatio < 0 || *c.NoiseRatio >= 1) {
		return fmt.Errorf("noise_ratio must be in [0, 1), got %f", *c.NoiseRatio)
	}
	if c.GrowFactor != nil && *c.GrowFactor < 1 {
		return fmt.Errorf("grow_factor must be at least 1, got %f", *c.GrowFactor)
	}
	if c.ShrinkFactor != nil && *c.ShrinkFactor <= 1 {
		return fmt.Errorf("shrink_factor must be greater than 1, got %f", *c.ShrinkFactor)
	}
	if c.MinFocusSharpness != nil && *c.MinFocusSharpness < 0 {
		return fmt.Errorf("min_focus_sharpness must be non-negative, got %f", *c.MinFocusSharpness)
	}
	if c.MinLuminance != nil && *c.MinLuminance < 0 {
		return fmt.Errorf("min_luminance must be non-negative, got %f", *c.MinLuminance)
	}

	if c.WindowWeights != nil {
		if len(c.WindowWeights) != af.NumWindows {
			return fmt.Errorf("window_weights must have %d entries, got %d", af.NumWindows, len(c.WindowWeights))
		}
		var sum float64
		for _, w := range c.WindowWeights {
			if w < 0 {
				return fmt.Errorf("window_weights must be non-negative, got %v", c.WindowWeights)
			}
			sum += w
		}
		if sum == 0 {
			return fmt.Errorf("window_weights must enable at least one window")
		}
	}

	if c.FrameInterval != nil && *c.FrameInterval != "" {
		d, err := time.ParseDuration(*c.FrameInterval)
		if err != nil {
			return fmt.Errorf("invalid frame_interval '%s': %w", *c.FrameInterval, err)
		}
		if d <= 0 {
			return fmt.Errorf("frame_interval must be positive, got %s", d)
		}
	}
	return nil
}

// GetStrategy returns the configured search strategy, hill-climbing by default.
func (c *TuningConfig) GetStrategy() af.Strategy {
	if c.Strategy == nil {
		return af.StrategyHillClimbing
	}
	s, err := af.ParseStrategy(*c.Strategy)
	if err != nil {
		return af.StrategyHillClimbing
	}
	return s
}

// GetMode returns ModeOneShot or ModeContinuous.
func (c *TuningConfig) GetMode() string {
	if c.Mode == nil || strings.ToLower(*c.Mode) != ModeContinuous {
		return ModeOneShot
	}
	return ModeContinuous
}

// GetFrameInterval parses and returns the FrameInterval as a time.Duration.
func (c *TuningConfig) GetFrameInterval() time.Duration {
	if c.FrameInterval == nil || *c.FrameInterval == "" {
		return 33 * time.Millisecond
	}
	d, err := time.ParseDuration(*c.FrameInterval)
	if err != nil || d <= 0 {
		return 33 * time.Millisecond
	}
	return d
}

func getInt(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func getFloat(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

// Params converts the tuning file into engine parameters. Unset fields take
// the engine defaults.
func (c *TuningConfig) Params() af.Params {
	d := af.DefaultParams()
	return af.Params{
		FullRangeStep:     getInt(c.FullRangeStep, d.FullRangeStep),
		FullRangePoints:   getInt(c.FullRangePoints, d.FullRangePoints),
		InitialStep:       getInt(c.InitialStep, d.InitialStep),
		MinStep:           getInt(c.MinStep, d.MinStep),
		MaxStep:           getInt(c.MaxStep, d.MaxStep),
		GrowFactor:        getFloat(c.GrowFactor, d.GrowFactor),
		ShrinkRatio:       getFloat(c.ShrinkRatio, d.ShrinkRatio),
		NoiseRatio:        getFloat(c.NoiseRatio, d.NoiseRatio),
		StableFrames:      getInt(c.StableFrames, d.StableFrames),
		InitialDirection:  getInt(c.InitialDirection, d.InitialDirection),
		Passes:            getInt(c.Passes, d.Passes),
		PassPoints:        getInt(c.PassPoints, d.PassPoints),
		ShrinkFactor:      getFloat(c.ShrinkFactor, d.ShrinkFactor),
		DriftMargin:       getFloat(c.DriftMargin, d.DriftMargin),
		DriftFrames:       getInt(c.DriftFrames, d.DriftFrames),
		ShotMargin:        getFloat(c.ShotMargin, d.ShotMargin),
		MaxSearchFrames:   getInt(c.MaxSearchFrames, d.MaxSearchFrames),
		MinFocusSharpness: getFloat(c.MinFocusSharpness, d.MinFocusSharpness),
		EventQueueSize:    getInt(c.EventQueueSize, d.EventQueueSize),
	}
}

// Ingress returns the measurement ingress settings.
func (c *TuningConfig) Ingress() af.Ingress {
	in := af.DefaultIngress()
	if len(c.WindowWeights) == af.NumWindows {
		copy(in.Weights[:], c.WindowWeights)
	}
	if c.NormalizeLuminance != nil {
		in.NormalizeLuminance = *c.NormalizeLuminance
	}
	in.MinLuminance = getFloat(c.MinLuminance, in.MinLuminance)
	return in
}
