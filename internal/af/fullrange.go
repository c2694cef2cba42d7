package af

// fullRangeSearch visits every candidate across the focus range once and
// settles on the sharpest.
type fullRangeSearch struct {
	rng    FocusRange
	step   int
	points int

	sc scan
}

func (f *fullRangeSearch) candidates() []int {
	if f.step > 0 {
		return stepGrid(f.rng.Min, f.rng.Max, f.step)
	}
	return spanGrid(float64(f.rng.Min), float64(f.rng.Max), f.points)
}

func (f *fullRangeSearch) start(int) int {
	f.sc = newScan(f.candidates())
	return f.sc.current()
}

func (f *fullRangeSearch) advance(_ int, sharpness float64) (int, bool) {
	if !f.sc.record(sharpness) {
		return f.sc.current(), false
	}
	pos, _, _ := f.sc.argmax()
	return pos, true
}

// restart discards the samples recorded so far and rescans every candidate,
// beginning with the one nearest pos.
func (f *fullRangeSearch) restart(pos int) int {
	f.sc = newScan(resumeFrom(f.candidates(), pos))
	return f.sc.current()
}

func (f *fullRangeSearch) best() (int, float64, bool) {
	return f.sc.argmax()
}
