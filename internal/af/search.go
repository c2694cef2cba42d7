package af

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// searcher is the per-strategy search state. The state machine feeds it the
// lens position a sample was taken at and gets back the next position to
// command. Implementations clamp every position they return to the range.
type searcher interface {
	// start initializes the search from the current lens position and
	// returns the first position to command.
	start(pos int) int
	// advance consumes one sample taken at pos.
	advance(pos int, sharpness float64) (next int, converged bool)
	// restart discards accumulated history and resumes from pos without
	// touching convergence bookkeeping held by the state machine.
	restart(pos int) int
	// best returns the sharpest point seen since the last start/restart.
	best() (pos int, sharpness float64, ok bool)
}

func newSearcher(s Strategy, rng FocusRange, p Params) searcher {
	switch s {
	case StrategyFullRange:
		return &fullRangeSearch{rng: rng, step: p.FullRangeStep, points: p.FullRangePoints}
	case StrategyHillClimbing:
		return &hillClimbSearch{rng: rng, p: p}
	case StrategyAdaptiveRange:
		return &adaptiveSearch{rng: rng, p: p}
	}
	return nil
}

// peak tracks the best (position, sharpness) pair. Ties keep the earlier
// point.
type peak struct {
	pos       int
	sharpness float64
	ok        bool
}

func (b *peak) observe(pos int, sharpness float64) {
	if !b.ok || sharpness > b.sharpness {
		b.pos, b.sharpness, b.ok = pos, sharpness, true
	}
}

// scan walks an ordered list of candidate positions, recording one sample per
// candidate.
type scan struct {
	candidates []int
	values     []float64
}

func newScan(candidates []int) scan {
	return scan{candidates: candidates, values: make([]float64, 0, len(candidates))}
}

// current is the candidate the next sample belongs to.
func (s *scan) current() int {
	if len(s.values) < len(s.candidates) {
		return s.candidates[len(s.values)]
	}
	return s.candidates[len(s.candidates)-1]
}

// record stores v for the current candidate and reports whether every
// candidate has now been visited.
func (s *scan) record(v float64) bool {
	if len(s.values) < len(s.candidates) {
		s.values = append(s.values, v)
	}
	return len(s.values) == len(s.candidates)
}

// argmax returns the candidate with the highest recorded value; the first one
// wins on ties.
func (s *scan) argmax() (int, float64, bool) {
	if len(s.values) == 0 {
		return 0, 0, false
	}
	i := floats.MaxIdx(s.values)
	return s.candidates[i], s.values[i], true
}

// stepGrid returns lo, lo+step, ... and always ends on hi.
func stepGrid(lo, hi, step int) []int {
	if step <= 0 || hi <= lo {
		return []int{lo}
	}
	grid := make([]int, 0, (hi-lo)/step+2)
	for p := lo; p < hi; p += step {
		grid = append(grid, p)
	}
	return append(grid, hi)
}

// resumeFrom reorders grid to begin at the candidate nearest pos. The walk
// continues upward to the end, then covers the candidates below the start in
// descending order, so each candidate is still visited once.
func resumeFrom(grid []int, pos int) []int {
	if len(grid) < 2 {
		return grid
	}
	start := 0
	for i, c := range grid {
		if abs(c-pos) < abs(grid[start]-pos) {
			start = i
		}
	}
	out := make([]int, 0, len(grid))
	out = append(out, grid[start:]...)
	for i := start - 1; i >= 0; i-- {
		out = append(out, grid[i])
	}
	return out
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// spanGrid creates n evenly spaced integer positions between lo and hi
// inclusive. Rounded duplicates are dropped while preserving order.
func spanGrid(lo, hi float64, n int) []int {
	if n < 2 || hi <= lo {
		return []int{int(math.Round((lo + hi) / 2))}
	}
	vals := floats.Span(make([]float64, n), lo, hi)
	grid := make([]int, 0, n)
	for _, v := range vals {
		iv := int(math.Round(v))
		if len(grid) == 0 || grid[len(grid)-1] != iv {
			grid = append(grid, iv)
		}
	}
	return grid
}
