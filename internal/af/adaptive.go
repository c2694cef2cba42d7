package af

import "math"

// adaptiveSearch runs a bounded series of scans. Each pass narrows the window
// around the best point so far and refines the step by the same factor.
type adaptiveSearch struct {
	rng FocusRange
	p   Params

	pass  int
	width float64
	lo    int
	hi    int
	sc    scan
	peak  peak
}

func (a *adaptiveSearch) start(int) int {
	a.pass = 0
	a.peak = peak{}
	a.width = float64(a.rng.Span())
	a.lo, a.hi = a.rng.Min, a.rng.Max
	a.sc = newScan(spanGrid(float64(a.lo), float64(a.hi), a.p.PassPoints))
	return a.sc.current()
}

func (a *adaptiveSearch) advance(_ int, sharpness float64) (int, bool) {
	a.peak.observe(a.sc.current(), sharpness)
	if !a.sc.record(sharpness) {
		return a.sc.current(), false
	}

	if a.pass+1 >= a.p.Passes {
		return a.peak.pos, true
	}
	nextWidth := a.width / a.p.ShrinkFactor
	if nextWidth/float64(a.p.PassPoints-1) < float64(a.p.MinStep) {
		return a.peak.pos, true
	}

	a.pass++
	a.width = nextWidth
	a.lo, a.hi = a.window(a.peak.pos, nextWidth)
	a.sc = newScan(spanGrid(float64(a.lo), float64(a.hi), a.p.PassPoints))
	return a.sc.current(), false
}

// window centers a sub-range of the given width on center, sliding it back
// inside the focus range when it would overhang an end.
func (a *adaptiveSearch) window(center int, width float64) (int, int) {
	half := int(math.Round(width / 2))
	lo, hi := center-half, center+half
	if lo < a.rng.Min {
		hi += a.rng.Min - lo
		lo = a.rng.Min
	}
	if hi > a.rng.Max {
		lo -= hi - a.rng.Max
		hi = a.rng.Max
	}
	return a.rng.Clamp(lo), a.rng.Clamp(hi)
}

// restart begins a fresh first pass from the candidate nearest pos; the
// narrowed windows were derived from history that is being discarded.
func (a *adaptiveSearch) restart(pos int) int {
	a.start(pos)
	a.sc = newScan(resumeFrom(a.sc.candidates, pos))
	return a.sc.current()
}

func (a *adaptiveSearch) best() (int, float64, bool) {
	return a.peak.pos, a.peak.sharpness, a.peak.ok
}
