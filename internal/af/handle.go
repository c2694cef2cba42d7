// Package af implements the autofocus control engine: a per-camera state
// machine that consumes per-frame sharpness statistics, drives the lens
// through one of three search strategies, decides when focus has settled and
// reports move/finish events to a subscriber.
//
// A Handle is safe for concurrent use by a control path (Configure, Start,
// Stop, TryLock, ...) and a frame path (ProcessFrame). Mutating operations are
// serialized; Settled, Status and ShotCheck only take a read lock.
package af

import (
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"

	"github.com/banshee-data/autofocus/internal/monitoring"
	"github.com/banshee-data/autofocus/internal/timeutil"
)

const (
	// maxCandidates bounds per-search allocations.
	maxCandidates = 10000
	// maxEventQueueSize bounds every event queue allocation.
	maxEventQueueSize = 1 << 16
)

// InstanceConfig configures Init.
type InstanceConfig struct {
	// Name labels log lines; the handle ID is used when empty.
	Name    string
	Params  Params
	Ingress *Ingress
	Clock   timeutil.Clock
}

// Handle is one AF context. It is created by Init and owned by the caller
// until Release; every method of a released handle fails with ErrWrongHandle.
type Handle struct {
	id      string
	params  Params
	ingress Ingress
	clock   timeutil.Clock
	logf    func(format string, v ...interface{})

	mu       sync.RWMutex
	released bool
	state    State
	mode     TriggerMode
	strategy Strategy
	locked   bool

	cfg    Config
	rng    FocusRange
	subRng FocusRange

	search     searcher
	position   int
	sharpness  float64
	haveSample bool
	best       peak

	settledSharpness float64
	focused          bool
	searchFrames     int
	driftFrames      int
	frames           int

	queue *EventQueue
}

// Init creates an idle AF context.
func Init(cfg InstanceConfig) (*Handle, error) {
	if err := cfg.Params.Validate(); err != nil {
		return nil, err
	}
	p := applyParamDefaults(cfg.Params)
	if p.FullRangePoints > maxCandidates || p.PassPoints > maxCandidates {
		return nil, fmt.Errorf("search buffers exceed %d entries: %w", maxCandidates, ErrOutOfMemory)
	}
	if p.EventQueueSize > maxEventQueueSize {
		return nil, fmt.Errorf("event queue exceeds %d entries: %w", maxEventQueueSize, ErrOutOfMemory)
	}

	h := &Handle{
		id:      uuid.NewString(),
		params:  p,
		ingress: DefaultIngress(),
		clock:   cfg.Clock,
	}
	if cfg.Ingress != nil {
		h.ingress = *cfg.Ingress
	}
	if h.clock == nil {
		h.clock = timeutil.RealClock{}
	}
	name := cfg.Name
	if name == "" {
		name = h.id[:8]
	}
	h.logf = monitoring.Prefixed(fmt.Sprintf("[af %s] ", name))
	return h, nil
}

// ID returns the unique identifier assigned at Init.
func (h *Handle) ID() string {
	return h.id
}

// Params returns the effective parameters after defaults were applied.
func (h *Handle) Params() Params {
	return h.params
}

func (h *Handle) usable() error {
	if h == nil || h.released {
		return ErrWrongHandle
	}
	return nil
}

// Configure binds the sensors and the search strategy. It is valid from Idle
// or Configured and fails with ErrUnsupported when a sensor has no focus
// actuator.
func (h *Handle) Configure(cfg Config) error {
	if h == nil {
		return ErrWrongHandle
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.usable(); err != nil {
		return err
	}
	if cfg.Sensor == nil {
		return fmt.Errorf("configure: nil sensor: %w", ErrInvalidParameter)
	}
	if !cfg.Strategy.Valid() {
		return fmt.Errorf("configure: strategy %d: %w", cfg.Strategy, ErrInvalidParameter)
	}
	if h.state != StateIdle && h.state != StateConfigured {
		return fmt.Errorf("configure in %s: %w", h.state, ErrWrongState)
	}
	if h.locked {
		return fmt.Errorf("configure while locked: %w", ErrFailure)
	}

	rng, subRng, pos, err := h.probe(cfg)
	if err != nil {
		return err
	}

	h.cfg = cfg
	h.rng, h.subRng = rng, subRng
	h.position = pos
	h.strategy = cfg.Strategy
	h.mode = ModeNone
	h.search = newSearcher(h.strategy, h.rng, h.params)
	h.resetTracking()
	h.state = StateConfigured
	h.logf("configured %s over [%d,%d]", h.strategy, rng.Min, rng.Max)
	return nil
}

// Reconfigure re-applies the last successful configuration, e.g. after a
// resolution change. Strategy and trigger mode are kept; the search state of
// the current strategy starts over, in place when a search is running.
func (h *Handle) Reconfigure() error {
	if h == nil {
		return ErrWrongHandle
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.usable(); err != nil {
		return err
	}
	if h.state == StateIdle {
		return fmt.Errorf("reconfigure before configure: %w", ErrWrongState)
	}

	rng, subRng, pos, err := h.probe(h.cfg)
	if err != nil {
		return err
	}
	h.rng, h.subRng = rng, subRng
	h.position = pos
	h.search = newSearcher(h.strategy, h.rng, h.params)
	if h.state == StateSearching {
		h.best = peak{}
		h.searchFrames = 0
		h.command(h.search.start(h.position))
	}
	h.logf("reconfigured %s over [%d,%d] in %s", h.strategy, rng.Min, rng.Max, h.state)
	return nil
}

// probe queries focus capability of the primary and, if present, the sub
// sensor. The returned position is the primary lens position clamped to its
// range.
func (h *Handle) probe(cfg Config) (FocusRange, FocusRange, int, error) {
	capab, err := cfg.Sensor.FocusCapability()
	if err != nil {
		return FocusRange{}, FocusRange{}, 0, fmt.Errorf("%w: query focus capability: %w", ErrFailure, err)
	}
	if !capab.Supported {
		return FocusRange{}, FocusRange{}, 0, fmt.Errorf("sensor has no focus actuator: %w", ErrUnsupported)
	}
	if !capab.Range.Valid() {
		return FocusRange{}, FocusRange{}, 0, fmt.Errorf("focus range [%d,%d]: %w", capab.Range.Min, capab.Range.Max, ErrInvalidParameter)
	}
	if s := h.params.FullRangeStep; s > 0 && capab.Range.Span()/s+2 > maxCandidates {
		return FocusRange{}, FocusRange{}, 0, fmt.Errorf("full-range step %d too fine for span %d: %w", s, capab.Range.Span(), ErrInvalidParameter)
	}

	var subRng FocusRange
	if cfg.SubSensor != nil {
		sub, err := cfg.SubSensor.FocusCapability()
		if err != nil {
			return FocusRange{}, FocusRange{}, 0, fmt.Errorf("%w: query sub sensor focus capability: %w", ErrFailure, err)
		}
		if !sub.Supported {
			return FocusRange{}, FocusRange{}, 0, fmt.Errorf("sub sensor has no focus actuator: %w", ErrUnsupported)
		}
		if !sub.Range.Valid() {
			return FocusRange{}, FocusRange{}, 0, fmt.Errorf("sub sensor focus range [%d,%d]: %w", sub.Range.Min, sub.Range.Max, ErrInvalidParameter)
		}
		subRng = sub.Range
	}
	return capab.Range, subRng, capab.Range.Clamp(capab.Position), nil
}

// Start begins a continuous search with the given strategy.
func (h *Handle) Start(s Strategy) error {
	return h.trigger(s, ModeContinuous)
}

// OneShot begins a single convergence cycle with the given strategy.
func (h *Handle) OneShot(s Strategy) error {
	return h.trigger(s, ModeOneShot)
}

func (h *Handle) trigger(s Strategy, mode TriggerMode) error {
	if h == nil {
		return ErrWrongHandle
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.usable(); err != nil {
		return err
	}
	if !s.Valid() {
		return fmt.Errorf("%s: strategy %d: %w", mode, s, ErrInvalidParameter)
	}
	if h.locked {
		return fmt.Errorf("%s while locked: %w", mode, ErrFailure)
	}
	switch h.state {
	case StateConfigured, StateSettled, StateStopped:
	default:
		return fmt.Errorf("%s in %s: %w", mode, h.state, ErrWrongState)
	}

	h.beginSearch(s, mode)
	h.emit(MoveEvent{Start: true})
	return nil
}

// Reset restarts as a one-shot search with the given strategy. Unlike Stop
// followed by OneShot it emits only the start-side move event.
func (h *Handle) Reset(s Strategy) error {
	if h == nil {
		return ErrWrongHandle
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.usable(); err != nil {
		return err
	}
	if !s.Valid() {
		return fmt.Errorf("reset: strategy %d: %w", s, ErrInvalidParameter)
	}
	if h.locked {
		return fmt.Errorf("reset while locked: %w", ErrFailure)
	}
	if h.state == StateIdle {
		return fmt.Errorf("reset in %s: %w", h.state, ErrWrongState)
	}

	h.beginSearch(s, ModeOneShot)
	h.emit(MoveEvent{Start: true})
	return nil
}

// Stop ends a running or settled search. A locked context keeps its trigger
// mode so that a later Start after Unlock is an explicit mode change.
func (h *Handle) Stop() error {
	if h == nil {
		return ErrWrongHandle
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.usable(); err != nil {
		return err
	}
	if h.state != StateSearching && h.state != StateSettled {
		return fmt.Errorf("stop in %s: %w", h.state, ErrWrongState)
	}

	h.search = newSearcher(h.strategy, h.rng, h.params)
	h.state = StateStopped
	if !h.locked {
		h.mode = ModeStopped
	}
	h.driftFrames = 0
	h.emit(MoveEvent{Start: false})
	h.logf("stopped at %d", h.position)
	return nil
}

// ProcessFrame feeds one frame's sample. While searching it advances the
// search and commands the next lens position; once settled it watches for
// sharpness drift in continuous mode. A failed call changes nothing.
func (h *Handle) ProcessFrame(s *Sample) error {
	if h == nil {
		return ErrWrongHandle
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.usable(); err != nil {
		return err
	}
	if h.state != StateSearching && h.state != StateSettled {
		return fmt.Errorf("process frame in %s: %w", h.state, ErrWrongState)
	}
	if err := s.check(); err != nil {
		return err
	}

	h.frames++
	h.sharpness, h.haveSample = s.Sharpness, true
	if h.state == StateSearching {
		h.step(s.Sharpness)
	} else {
		h.watch(s.Sharpness)
	}
	return nil
}

// ProcessMeasurement converts raw AFM statistics with the handle's Ingress and
// processes the resulting sample.
func (h *Handle) ProcessMeasurement(m Measurement) error {
	if h == nil {
		return ErrWrongHandle
	}
	s := h.ingress.Sample(m)
	return h.ProcessFrame(&s)
}

func (h *Handle) step(sharpness float64) {
	h.searchFrames++
	next, converged := h.search.advance(h.position, sharpness)
	if pos, sharp, ok := h.search.best(); ok {
		h.best = peak{pos: pos, sharpness: sharp, ok: true}
	}

	focused := true
	if !converged && h.params.MaxSearchFrames > 0 && h.searchFrames >= h.params.MaxSearchFrames {
		h.logf("search budget of %d frames exhausted", h.params.MaxSearchFrames)
		converged, focused = true, false
		if h.best.ok {
			next = h.best.pos
		} else {
			next = h.position
		}
	}
	h.command(next)

	if converged {
		if h.best.sharpness < h.params.MinFocusSharpness {
			focused = false
		}
		h.settle(focused)
	}
}

func (h *Handle) settle(focused bool) {
	h.state = StateSettled
	h.focused = focused
	h.settledSharpness = h.best.sharpness
	h.driftFrames = 0
	if h.mode == ModeContinuous {
		h.emit(MoveEvent{Start: false})
	}
	h.emit(FinishEvent{Focused: focused})
	h.logf("settled at %d sharpness=%.3f focused=%v after %d frames", h.position, h.settledSharpness, focused, h.searchFrames)
}

// watch implements the continuous re-trigger policy.
func (h *Handle) watch(sharpness float64) {
	if h.mode != ModeContinuous || h.locked {
		h.driftFrames = 0
		return
	}
	if sharpness < h.settledSharpness*(1-h.params.DriftMargin) {
		h.driftFrames++
	} else {
		h.driftFrames = 0
	}
	if h.driftFrames < h.params.DriftFrames {
		return
	}
	h.logf("sharpness drifted to %.3f from %.3f for %d frames, re-triggering", sharpness, h.settledSharpness, h.driftFrames)
	h.beginSearch(h.strategy, ModeContinuous)
	h.emit(MoveEvent{Start: true})
}

func (h *Handle) beginSearch(s Strategy, mode TriggerMode) {
	h.strategy = s
	h.mode = mode
	h.search = newSearcher(s, h.rng, h.params)
	h.best = peak{}
	h.searchFrames = 0
	h.driftFrames = 0
	h.focused = false
	h.state = StateSearching
	h.command(h.search.start(h.position))
	h.logf("%s %s search from %d", mode, s, h.position)
}

func (h *Handle) resetTracking() {
	h.best = peak{}
	h.sharpness, h.haveSample = 0, false
	h.settledSharpness = 0
	h.focused = false
	h.searchFrames, h.driftFrames = 0, 0
}

// command moves the lens. Actuator errors are logged only: commands are
// fire-and-forget and the next frame issues a fresh one.
func (h *Handle) command(pos int) {
	pos = h.rng.Clamp(pos)
	h.position = pos
	if err := h.cfg.Sensor.SetFocus(pos); err != nil {
		h.logf("set focus %d: %v", pos, err)
	}
	if h.cfg.SubSensor != nil {
		sub := mapPosition(pos, h.rng, h.subRng)
		if err := h.cfg.SubSensor.SetFocus(sub); err != nil {
			h.logf("set sub focus %d: %v", sub, err)
		}
	}
}

// mapPosition maps pos proportionally from one focus range onto another.
func mapPosition(pos int, from, to FocusRange) int {
	if !from.Valid() {
		return to.Min
	}
	frac := float64(pos-from.Min) / float64(from.Span())
	return to.Clamp(to.Min + int(math.Round(frac*float64(to.Span()))))
}

func (h *Handle) emit(p Payload) {
	if h.queue == nil {
		return
	}
	if h.queue.push(p, h.clock.Now()) {
		h.logf("event queue full, dropped oldest event")
	}
}

// Settled reports whether the search has converged.
func (h *Handle) Settled() bool {
	if h == nil {
		return false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return !h.released && h.state == StateSettled
}

// Status returns a snapshot of the context. A released handle reports the
// zero Status.
func (h *Handle) Status() Status {
	if h == nil {
		return Status{}
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.released {
		return Status{}
	}
	return Status{
		Running:       h.state == StateSearching || (h.state == StateSettled && h.mode == ModeContinuous),
		Strategy:      h.strategy,
		Sharpness:     h.sharpness,
		State:         h.state,
		Mode:          h.mode,
		Locked:        h.locked,
		Position:      h.position,
		BestPosition:  h.best.pos,
		BestSharpness: h.best.sharpness,
		Frames:        h.frames,
	}
}

// Focused reports whether the last convergence reached an acceptable focus.
func (h *Handle) Focused() bool {
	if h == nil {
		return false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return !h.released && h.state == StateSettled && h.focused
}

// ShotCheck reports whether the current frame is sharp enough for a still
// capture: within ShotMargin of the best sharpness the active search found.
func (h *Handle) ShotCheck() bool {
	if h == nil {
		return false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.released || !h.haveSample || !h.best.ok {
		return false
	}
	return h.sharpness >= h.best.sharpness*(1-h.params.ShotMargin)
}

// TryLock sets the lock flag. Locking prevents trigger mode and strategy
// changes and suppresses continuous re-triggering until Unlock. Stop is still
// honoured while locked, but leaves the trigger mode untouched.
func (h *Handle) TryLock() error {
	if h == nil {
		return ErrWrongHandle
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.usable(); err != nil {
		return err
	}
	if h.locked {
		return fmt.Errorf("already locked: %w", ErrFailure)
	}
	h.locked = true
	return nil
}

// Unlock clears the lock flag; unlocking an unlocked context is a no-op.
func (h *Handle) Unlock() error {
	if h == nil {
		return ErrWrongHandle
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.usable(); err != nil {
		return err
	}
	h.locked = false
	return nil
}

// MeasureRestart makes a running search drop its history and continue from
// the current lens position, e.g. after a hill-climb stalled on a local
// maximum. Scanning strategies rescan every candidate starting with the one
// nearest the lens. Outside Searching it does nothing.
func (h *Handle) MeasureRestart() error {
	if h == nil {
		return ErrWrongHandle
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.usable(); err != nil {
		return err
	}
	if h.state == StateIdle {
		return fmt.Errorf("measure restart in %s: %w", h.state, ErrWrongState)
	}
	if h.state != StateSearching {
		return nil
	}
	h.best = peak{}
	h.searchFrames = 0
	h.command(h.search.restart(h.position))
	h.logf("search restarted at %d", h.position)
	return nil
}

// RegisterEventQueue attaches the subscriber queue. A previously attached
// queue is closed and its undelivered events are dropped.
func (h *Handle) RegisterEventQueue(q *EventQueue) error {
	if h == nil {
		return ErrWrongHandle
	}
	if q == nil {
		return fmt.Errorf("register nil event queue: %w", ErrInvalidParameter)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.usable(); err != nil {
		return err
	}
	if h.queue != nil && h.queue != q {
		h.queue.detach()
	}
	h.queue = q
	return nil
}

// Release cancels any search, closes the event queue and invalidates the
// handle. It waits for an in-flight ProcessFrame to return.
func (h *Handle) Release() error {
	if h == nil {
		return ErrWrongHandle
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.usable(); err != nil {
		return err
	}
	if h.queue != nil {
		h.queue.Close()
		h.queue = nil
	}
	h.released = true
	h.search = nil
	h.cfg = Config{}
	h.state = StateIdle
	h.logf("released")
	return nil
}
