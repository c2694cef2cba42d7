package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/autofocus/internal/af"
	"github.com/banshee-data/autofocus/internal/config"
	"github.com/banshee-data/autofocus/internal/db"
	"github.com/banshee-data/autofocus/internal/httputil"
	"github.com/banshee-data/autofocus/internal/lens"
	"github.com/banshee-data/autofocus/internal/monitor"
	"github.com/banshee-data/autofocus/internal/timeutil"
	"github.com/banshee-data/autofocus/internal/version"
)

// runStore is the subset of *db.DB the frame loop writes to.
type runStore interface {
	BeginRun(camera string, strategy af.Strategy, mode af.TriggerMode, rng af.FocusRange, params af.Params, started time.Time) (string, error)
	RecordFrames(runID string, frames []db.Frame) error
	RecordEvent(runID string, ev af.Event) error
	FinishRun(runID string, finished time.Time, focused bool, status af.Status) error
}

// simulator drives one AF context from a synthetic scene, one measurement
// per tick.
type simulator struct {
	camera   string
	h        *af.Handle
	queue    *af.EventQueue
	scene    *lens.Scene
	clock    timeutil.Clock
	interval time.Duration
	strategy af.Strategy
	mode     string
	rng      af.FocusRange

	// maxFrames stops the loop; 0 runs until the context ends.
	maxFrames int
	// moveAt moves the scene's focus to moveTo on that frame; 0 disables.
	moveAt int
	moveTo float64

	store    runStore
	recorder *monitor.Recorder

	runID   string
	pending []db.Frame
	frame   int
	cycles  int
}

// newSimulator creates the AF context and binds it to sensor. Run triggers
// the first search.
func newSimulator(camera string, sensor af.Sensor, scene *lens.Scene, tuning *config.TuningConfig, clock timeutil.Clock) (*simulator, error) {
	ingress := tuning.Ingress()
	h, err := af.Init(af.InstanceConfig{
		Name:    camera,
		Params:  tuning.Params(),
		Ingress: &ingress,
		Clock:   clock,
	})
	if err != nil {
		return nil, fmt.Errorf("init: %w", err)
	}
	s := &simulator{
		camera:   camera,
		h:        h,
		queue:    af.NewEventQueue(h.Params().EventQueueSize, camera),
		scene:    scene,
		clock:    clock,
		interval: tuning.GetFrameInterval(),
		strategy: tuning.GetStrategy(),
		mode:     tuning.GetMode(),
	}
	if err := h.RegisterEventQueue(s.queue); err != nil {
		h.Release()
		return nil, err
	}
	if err := h.Configure(af.Config{Sensor: sensor, Strategy: s.strategy}); err != nil {
		h.Release()
		return nil, fmt.Errorf("configure: %w", err)
	}
	capab, err := sensor.FocusCapability()
	if err != nil {
		h.Release()
		return nil, err
	}
	s.rng = capab.Range
	return s, nil
}

// trigger starts the search in the configured mode.
func (s *simulator) trigger() error {
	if s.mode == config.ModeContinuous {
		return s.h.Start(s.strategy)
	}
	return s.h.OneShot(s.strategy)
}

// Run ticks until maxFrames, the context ends, or a one-shot search settles.
func (s *simulator) Run(ctx context.Context) error {
	if err := s.trigger(); err != nil {
		return err
	}
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for s.maxFrames == 0 || s.frame < s.maxFrames {
		select {
		case <-ctx.Done():
			s.flush()
			return ctx.Err()
		case <-ticker.C():
		}
		if err := s.step(); err != nil {
			return err
		}
		if s.mode != config.ModeContinuous && s.h.Settled() && s.queue.Len() == 0 {
			break
		}
	}
	s.flush()
	return nil
}

// step processes one frame: measure the scene where the lens was commanded,
// feed the engine, record the result and drain events.
func (s *simulator) step() error {
	s.frame++
	if s.moveAt > 0 && s.frame == s.moveAt {
		log.Printf("frame %d: scene focus moves to %.0f", s.frame, s.moveTo)
		s.scene.MoveTo(s.moveTo)
	}

	// Events raised by triggers between frames open their run first.
	before := s.h.Status()
	s.drainEvents(before)

	pos := before.Position
	err := s.h.ProcessMeasurement(s.scene.Measure(uint64(s.frame), pos))
	switch {
	case errors.Is(err, af.ErrWrongState), errors.Is(err, af.ErrInvalidParameter):
		log.Printf("frame %d skipped: %v", s.frame, err)
	case err != nil:
		return err
	}

	st := s.h.Status()
	if s.recorder != nil {
		s.recorder.Record(s.frame, st)
	}
	s.pending = append(s.pending, db.Frame{
		Frame:     s.frame,
		Position:  pos,
		Sharpness: st.Sharpness,
		State:     st.State.String(),
	})
	s.drainEvents(st)
	return nil
}

func (s *simulator) drainEvents(st af.Status) {
	for {
		ev, ok := s.queue.TryReceive()
		if !ok {
			return
		}
		switch p := ev.Payload.(type) {
		case af.MoveEvent:
			if p.Start {
				s.beginRun(ev.At, st)
			}
			s.recordEvent(ev)
		case af.FinishEvent:
			s.recordEvent(ev)
			s.cycles++
			log.Printf("cycle %d finished at frame %d: focused=%v position=%d sharpness=%.1f",
				s.cycles, s.frame, p.Focused, st.Position, st.BestSharpness)
			s.finishRun(ev.At, p.Focused, st)
		}
	}
}

func (s *simulator) beginRun(at time.Time, st af.Status) {
	if s.store == nil {
		return
	}
	s.flush()
	id, err := s.store.BeginRun(s.camera, s.strategy, st.Mode, s.rng, s.h.Params(), at)
	if err != nil {
		log.Printf("failed to begin run: %v", err)
		return
	}
	s.runID = id
}

func (s *simulator) recordEvent(ev af.Event) {
	if s.store == nil || s.runID == "" {
		return
	}
	if err := s.store.RecordEvent(s.runID, ev); err != nil {
		log.Printf("failed to record event: %v", err)
	}
}

func (s *simulator) finishRun(at time.Time, focused bool, st af.Status) {
	if s.store == nil || s.runID == "" {
		return
	}
	s.flush()
	if err := s.store.FinishRun(s.runID, at, focused, st); err != nil {
		log.Printf("failed to finish run: %v", err)
	}
	s.runID = ""
}

// flush writes buffered frames to the open run. Frames outside a run are
// dropped.
func (s *simulator) flush() {
	frames := s.pending
	s.pending = nil
	if s.store == nil || s.runID == "" || len(frames) == 0 {
		return
	}
	if err := s.store.RecordFrames(s.runID, frames); err != nil {
		log.Printf("failed to record %d frames: %v", len(frames), err)
	}
}

// attachAdminRoutes mounts the context's status and a re-trigger endpoint.
func (s *simulator) attachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("af", "Autofocus context status (JSON)", func(w http.ResponseWriter, r *http.Request) {
		st := s.h.Status()
		httputil.WriteJSONOK(w, map[string]interface{}{
			"id":             s.h.ID(),
			"camera":         s.camera,
			"state":          st.State.String(),
			"mode":           st.Mode.String(),
			"strategy":       st.Strategy.String(),
			"running":        st.Running,
			"locked":         st.Locked,
			"position":       st.Position,
			"sharpness":      st.Sharpness,
			"best_position":  st.BestPosition,
			"best_sharpness": st.BestSharpness,
			"frames":         st.Frames,
			"focused":        s.h.Focused(),
			"queue_dropped":  s.queue.Dropped(),
			"version":        version.String(),
		})
	})
	debug.HandleSilentFunc("af-trigger", func(w http.ResponseWriter, r *http.Request) {
		if !httputil.RequireMethod(w, r, http.MethodPost) {
			return
		}
		if err := s.h.OneShot(s.strategy); err != nil {
			httputil.WriteJSONError(w, http.StatusConflict, err.Error())
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})
}

// Close releases the context.
func (s *simulator) Close() error {
	return s.h.Release()
}
