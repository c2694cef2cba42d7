package af

import "math"

// hillClimbSearch follows the sharpness gradient with a shrinking step.
type hillClimbSearch struct {
	rng FocusRange
	p   Params

	dir      int
	step     float64
	prev     float64
	havePrev bool
	// deltas holds the most recent relative sharpness changes, at most
	// StableFrames of them.
	deltas []float64
	peak   peak
}

func (h *hillClimbSearch) start(pos int) int {
	h.dir = h.p.InitialDirection
	if h.dir == 0 {
		h.dir = 1
	}
	h.reset()
	return h.rng.Clamp(pos)
}

func (h *hillClimbSearch) reset() {
	h.step = float64(h.p.InitialStep)
	h.prev = 0
	h.havePrev = false
	h.deltas = h.deltas[:0]
	h.peak = peak{}
}

// restart keeps the climb direction.
func (h *hillClimbSearch) restart(pos int) int {
	h.reset()
	return h.rng.Clamp(pos)
}

func (h *hillClimbSearch) advance(pos int, sharpness float64) (int, bool) {
	h.peak.observe(pos, sharpness)

	if !h.havePrev {
		h.prev, h.havePrev = sharpness, true
		if h.rng.Clamp(pos+h.dir*int(math.Round(h.step))) == pos {
			h.dir = -h.dir
		}
		return h.move(pos)
	}

	delta := sharpness - h.prev
	h.pushDelta(delta, h.prev)
	h.prev = sharpness

	switch {
	case delta > 0:
		h.step = math.Min(h.step*h.p.GrowFactor, float64(h.p.MaxStep))
	case delta < 0:
		h.dir = -h.dir
		h.step *= h.p.ShrinkRatio
	}

	if h.step < float64(h.p.MinStep) || h.stable() {
		return h.peak.pos, true
	}
	return h.move(pos)
}

// move commands one step from pos. A lens pinned at a range limit while the
// climb points outward has nowhere sharper to go.
func (h *hillClimbSearch) move(pos int) (int, bool) {
	next := h.rng.Clamp(pos + h.dir*int(math.Round(h.step)))
	if next == pos {
		return h.peak.pos, true
	}
	return next, false
}

func (h *hillClimbSearch) pushDelta(d, prev float64) {
	rel := math.Inf(1)
	switch {
	case prev != 0:
		rel = d / math.Abs(prev)
	case d == 0:
		rel = 0
	}
	if len(h.deltas) >= h.p.StableFrames {
		copy(h.deltas, h.deltas[1:])
		h.deltas = h.deltas[:len(h.deltas)-1]
	}
	h.deltas = append(h.deltas, rel)
}

// stable reports whether the last StableFrames changes all stayed inside the
// noise band.
func (h *hillClimbSearch) stable() bool {
	if len(h.deltas) < h.p.StableFrames {
		return false
	}
	for _, rel := range h.deltas {
		if math.Abs(rel) > h.p.NoiseRatio {
			return false
		}
	}
	return true
}

func (h *hillClimbSearch) best() (int, float64, bool) {
	return h.peak.pos, h.peak.sharpness, h.peak.ok
}
