package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/autofocus/internal/af"
)

// ErrRunNotFound is returned when a run ID does not exist.
var ErrRunNotFound = errors.New("focus run not found")

// Event kinds stored in focus_events.kind.
const (
	EventMove   = "move"
	EventFinish = "finish"
)

// Run is one recorded convergence session.
type Run struct {
	RunID         string        `json:"run_id"`
	Camera        string        `json:"camera"`
	Strategy      string        `json:"strategy"`
	Mode          string        `json:"mode"`
	Range         af.FocusRange `json:"range"`
	Params        af.Params     `json:"params"`
	Started       time.Time     `json:"started"`
	Finished      *time.Time    `json:"finished,omitempty"`
	Focused       *bool         `json:"focused,omitempty"`
	FinalPosition *int          `json:"final_position,omitempty"`
	BestSharpness *float64      `json:"best_sharpness,omitempty"`
	Frames        int           `json:"frames"`
}

// Frame is one sample examined by a run.
type Frame struct {
	Frame     int     `json:"frame"`
	Position  int     `json:"position"`
	Sharpness float64 `json:"sharpness"`
	State     string  `json:"state"`
}

// EventRecord is a stored af.Event. Value is 1 for Move(start) and
// Finish(focused), 0 otherwise.
type EventRecord struct {
	Seq   uint64    `json:"seq"`
	Kind  string    `json:"kind"`
	Value int       `json:"value"`
	At    time.Time `json:"at"`
}

// BeginRun creates a run row and returns its ID.
func (db *DB) BeginRun(camera string, strategy af.Strategy, mode af.TriggerMode, rng af.FocusRange, params af.Params, started time.Time) (string, error) {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("failed to encode params: %w", err)
	}
	runID := uuid.NewString()
	_, err = db.Exec(`
		INSERT INTO focus_runs (run_id, camera, strategy, mode, range_min, range_max, params_json, started_unix_nanos)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, camera, strategy.String(), mode.String(), rng.Min, rng.Max, string(paramsJSON), started.UnixNano())
	if err != nil {
		return "", fmt.Errorf("failed to insert run: %w", err)
	}
	return runID, nil
}

// RecordFrames appends frames to a run in one transaction.
func (db *DB) RecordFrames(runID string, frames []Frame) error {
	if len(frames) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO focus_frames (run_id, frame, position, sharpness, state)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, f := range frames {
		if _, err := stmt.Exec(runID, f.Frame, f.Position, f.Sharpness, f.State); err != nil {
			return fmt.Errorf("failed to insert frame %d: %w", f.Frame, err)
		}
	}
	if _, err := tx.Exec(`UPDATE focus_runs SET frames = frames + ? WHERE run_id = ?`, len(frames), runID); err != nil {
		return err
	}
	return tx.Commit()
}

// RecordEvent stores one delivered event.
func (db *DB) RecordEvent(runID string, ev af.Event) error {
	var kind string
	var value bool
	switch p := ev.Payload.(type) {
	case af.MoveEvent:
		kind, value = EventMove, p.Start
	case af.FinishEvent:
		kind, value = EventFinish, p.Focused
	default:
		return fmt.Errorf("unknown event payload %T", ev.Payload)
	}
	_, err := db.Exec(`
		INSERT INTO focus_events (run_id, seq, kind, value, at_unix_nanos)
		VALUES (?, ?, ?, ?, ?)`,
		runID, ev.Seq, kind, boolToInt(value), ev.At.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to insert event %d: %w", ev.Seq, err)
	}
	return nil
}

// FinishRun records the outcome of a run.
func (db *DB) FinishRun(runID string, finished time.Time, focused bool, status af.Status) error {
	res, err := db.Exec(`
		UPDATE focus_runs
		SET finished_unix_nanos = ?, focused = ?, final_position = ?, best_sharpness = ?
		WHERE run_id = ?`,
		finished.UnixNano(), boolToInt(focused), status.Position, status.BestSharpness, runID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

const runColumns = `run_id, camera, strategy, mode, range_min, range_max, params_json,
	started_unix_nanos, finished_unix_nanos, focused, final_position, best_sharpness, frames`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var (
		r          Run
		paramsJSON string
		started    int64
		finished   sql.NullInt64
		focused    sql.NullInt64
		finalPos   sql.NullInt64
		best       sql.NullFloat64
	)
	if err := row.Scan(&r.RunID, &r.Camera, &r.Strategy, &r.Mode, &r.Range.Min, &r.Range.Max, &paramsJSON,
		&started, &finished, &focused, &finalPos, &best, &r.Frames); err != nil {
		return Run{}, err
	}
	if err := json.Unmarshal([]byte(paramsJSON), &r.Params); err != nil {
		return Run{}, fmt.Errorf("run %s params: %w", r.RunID, err)
	}
	r.Started = time.Unix(0, started).UTC()
	if finished.Valid {
		t := time.Unix(0, finished.Int64).UTC()
		r.Finished = &t
	}
	if focused.Valid {
		v := focused.Int64 == 1
		r.Focused = &v
	}
	if finalPos.Valid {
		v := int(finalPos.Int64)
		r.FinalPosition = &v
	}
	if best.Valid {
		v := best.Float64
		r.BestSharpness = &v
	}
	return r, nil
}

// Run returns a single run.
func (db *DB) Run(runID string) (Run, error) {
	r, err := scanRun(db.QueryRow(`SELECT `+runColumns+` FROM focus_runs WHERE run_id = ?`, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return r, err
}

// Runs returns the most recent runs, newest first. limit <= 0 returns all.
func (db *DB) Runs(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.Query(`SELECT `+runColumns+` FROM focus_runs ORDER BY started_unix_nanos DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Frames returns a run's frames in order.
func (db *DB) Frames(runID string) ([]Frame, error) {
	rows, err := db.Query(`
		SELECT frame, position, sharpness, state FROM focus_frames
		WHERE run_id = ? ORDER BY frame`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var frames []Frame
	for rows.Next() {
		var f Frame
		if err := rows.Scan(&f.Frame, &f.Position, &f.Sharpness, &f.State); err != nil {
			return nil, err
		}
		frames = append(frames, f)
	}
	return frames, rows.Err()
}

// Events returns a run's events in delivery order.
func (db *DB) Events(runID string) ([]EventRecord, error) {
	rows, err := db.Query(`
		SELECT seq, kind, value, at_unix_nanos FROM focus_events
		WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRecord
	for rows.Next() {
		var e EventRecord
		var at int64
		if err := rows.Scan(&e.Seq, &e.Kind, &e.Value, &at); err != nil {
			return nil, err
		}
		e.At = time.Unix(0, at).UTC()
		events = append(events, e)
	}
	return events, rows.Err()
}

// DeleteRun removes a run with its frames and events.
func (db *DB) DeleteRun(runID string) error {
	res, err := db.Exec(`DELETE FROM focus_runs WHERE run_id = ?`, runID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
