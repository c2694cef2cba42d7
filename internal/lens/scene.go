package lens

import (
	"math"
	"math/rand/v2"
	"sync"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/banshee-data/autofocus/internal/af"
)

// Scene synthesizes AFM statistics for a lens position: a Gaussian focus
// response per measurement window with multiplicative sensor noise.
type Scene struct {
	mu sync.Mutex

	// Center is the in-focus lens position.
	Center float64
	// Width is the depth of the focus response in lens units.
	Width float64
	// Peak and Floor bound the window A sharpness.
	Peak  float64
	Floor float64
	// Luminance is the mean pixel value reported by every window.
	Luminance float64
	// Pixels per window.
	Pixels uint32

	noise distuv.Normal
}

// windowGain scales the response of windows B and C, which sit off the
// optical center and are softer.
var windowGain = [af.NumWindows]float64{1, 0.6, 0.3}

// NewScene returns a scene focused at center. noise is the relative standard
// deviation of the sharpness; seed makes runs repeatable.
func NewScene(center, width, noise float64, seed uint64) *Scene {
	return &Scene{
		Center:    center,
		Width:     width,
		Peak:      4000,
		Floor:     200,
		Luminance: 120,
		Pixels:    64 * 64,
		noise:     distuv.Normal{Mu: 0, Sigma: noise, Src: rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)},
	}
}

// MoveTo changes the in-focus position, e.g. when the subject moves.
func (s *Scene) MoveTo(center float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Center = center
}

// Sharpness returns the noiseless window A response at pos.
func (s *Scene) Sharpness(pos int) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.response(pos)
}

func (s *Scene) response(pos int) float64 {
	d := (float64(pos) - s.Center) / s.Width
	return s.Floor + s.Peak*math.Exp(-0.5*d*d)
}

// Measure returns the AFM statistics of one frame taken at pos.
func (s *Scene) Measure(frame uint64, pos int) af.Measurement {
	s.mu.Lock()
	defer s.mu.Unlock()

	base := s.response(pos)
	m := af.Measurement{Frame: frame}
	for i := range m.Windows {
		v := base * windowGain[i]
		if s.noise.Sigma > 0 {
			v *= 1 + s.noise.Rand()
		}
		m.Windows[i] = af.Window{
			Sharpness:  uint32(math.Max(0, math.Round(v))),
			Luminance:  uint32(math.Round(s.Luminance * float64(s.Pixels))),
			PixelCount: s.Pixels,
		}
	}
	return m
}
