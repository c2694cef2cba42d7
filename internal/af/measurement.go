package af

import (
	"fmt"
	"math"
)

// NumWindows is the number of AFM measurement windows (A, B, C).
const NumWindows = 3

// Window is one AFM measurement window result.
type Window struct {
	Sharpness  uint32
	Luminance  uint32
	PixelCount uint32
}

// Measurement is one frame of raw AFM statistics.
type Measurement struct {
	Frame   uint64
	Windows [NumWindows]Window
}

// Sample is the engine's view of one frame: a sharpness score and whether it
// can be trusted. It is consumed by exactly one ProcessFrame call.
type Sample struct {
	Frame     uint64
	Sharpness float64
	Luminance float64
	Valid     bool
}

func (s *Sample) check() error {
	if s == nil {
		return fmt.Errorf("nil sample: %w", ErrInvalidParameter)
	}
	if !s.Valid {
		return fmt.Errorf("sample %d flagged invalid: %w", s.Frame, ErrInvalidParameter)
	}
	if math.IsNaN(s.Sharpness) || math.IsInf(s.Sharpness, 0) || s.Sharpness < 0 {
		return fmt.Errorf("sample %d sharpness %v out of range: %w", s.Frame, s.Sharpness, ErrInvalidParameter)
	}
	return nil
}

// Ingress adapts AFM window results into a Sample.
type Ingress struct {
	// Weights per window; a zero weight disables the window.
	Weights [NumWindows]float64
	// NormalizeLuminance divides the weighted sharpness by the weighted mean
	// luminance so that exposure changes do not look like focus changes.
	NormalizeLuminance bool
	// MinLuminance marks darker frames invalid.
	MinLuminance float64
}

// DefaultIngress uses window A only, without luminance normalization.
func DefaultIngress() Ingress {
	return Ingress{Weights: [NumWindows]float64{1, 0, 0}}
}

// Sample converts m. The result is never an error; unusable statistics produce
// a Sample with Valid=false which ProcessFrame rejects.
func (in Ingress) Sample(m Measurement) Sample {
	var sharp, lum, wsum float64
	for i, w := range m.Windows {
		weight := in.Weights[i]
		if weight <= 0 || w.PixelCount == 0 {
			continue
		}
		sharp += weight * float64(w.Sharpness)
		lum += weight * float64(w.Luminance) / float64(w.PixelCount)
		wsum += weight
	}

	s := Sample{Frame: m.Frame}
	if wsum == 0 {
		return s
	}
	s.Luminance = lum / wsum
	if s.Luminance < in.MinLuminance {
		return s
	}
	if in.NormalizeLuminance {
		if s.Luminance <= 0 {
			return s
		}
		sharp /= s.Luminance
	}
	if math.IsNaN(sharp) || math.IsInf(sharp, 0) {
		return s
	}
	s.Sharpness = sharp
	s.Valid = true
	return s
}
