package db

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/autofocus/internal/af"
	"github.com/banshee-data/autofocus/internal/monitoring"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPragmasApplied(t *testing.T) {
	db := openTestDB(t)

	var journalMode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)

	var busyTimeout int
	require.NoError(t, db.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout))
	assert.Equal(t, 5000, busyTimeout)

	var foreignKeys int
	require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&foreignKeys))
	assert.Equal(t, 1, foreignKeys)
}

func TestMigrations(t *testing.T) {
	db := openTestDB(t)

	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	// Reopening an up-to-date database is a no-op.
	again, err := Open(db.Path())
	require.NoError(t, err)
	require.NoError(t, again.Close())

	require.NoError(t, db.MigrateDown())
	version, _, err = db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE name = 'focus_events'`).Scan(&n))
	assert.Zero(t, n)

	require.NoError(t, db.MigrateUp())
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE name = 'focus_events'`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestRunLifecycle(t *testing.T) {
	db := openTestDB(t)
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	params := af.DefaultParams()

	runID, err := db.BeginRun("cam0", af.StrategyHillClimbing, af.ModeOneShot, af.FocusRange{Min: 0, Max: 1000}, params, started)
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	frames := []Frame{
		{Frame: 1, Position: 0, Sharpness: 120, State: "searching"},
		{Frame: 2, Position: 8, Sharpness: 180.5, State: "searching"},
		{Frame: 3, Position: 16, Sharpness: 175, State: "settled"},
	}
	require.NoError(t, db.RecordFrames(runID, frames[:2]))
	require.NoError(t, db.RecordFrames(runID, frames[2:]))
	require.NoError(t, db.RecordFrames(runID, nil))

	require.NoError(t, db.RecordEvent(runID, af.Event{Payload: af.MoveEvent{Start: true}, Seq: 1, At: started}))
	require.NoError(t, db.RecordEvent(runID, af.Event{Payload: af.FinishEvent{Focused: true}, Seq: 2, At: started.Add(time.Second)}))

	finished := started.Add(2 * time.Second)
	require.NoError(t, db.FinishRun(runID, finished, true, af.Status{Position: 8, BestSharpness: 180.5}))

	run, err := db.Run(runID)
	require.NoError(t, err)
	focused, pos, best := true, 8, 180.5
	want := Run{
		RunID:         runID,
		Camera:        "cam0",
		Strategy:      "hill-climbing",
		Mode:          "one-shot",
		Range:         af.FocusRange{Min: 0, Max: 1000},
		Params:        params,
		Started:       started,
		Finished:      &finished,
		Focused:       &focused,
		FinalPosition: &pos,
		BestSharpness: &best,
		Frames:        3,
	}
	if diff := cmp.Diff(want, run); diff != "" {
		t.Errorf("Run mismatch (-want +got):\n%s", diff)
	}

	gotFrames, err := db.Frames(runID)
	require.NoError(t, err)
	if diff := cmp.Diff(frames, gotFrames); diff != "" {
		t.Errorf("Frames mismatch (-want +got):\n%s", diff)
	}

	events, err := db.Events(runID)
	require.NoError(t, err)
	wantEvents := []EventRecord{
		{Seq: 1, Kind: EventMove, Value: 1, At: started},
		{Seq: 2, Kind: EventFinish, Value: 1, At: started.Add(time.Second)},
	}
	if diff := cmp.Diff(wantEvents, events); diff != "" {
		t.Errorf("Events mismatch (-want +got):\n%s", diff)
	}
}

func TestUnfinishedRunHasNoOutcome(t *testing.T) {
	db := openTestDB(t)
	runID, err := db.BeginRun("cam0", af.StrategyFullRange, af.ModeContinuous, af.FocusRange{Min: 0, Max: 10}, af.Params{}, time.Unix(10, 0))
	require.NoError(t, err)

	run, err := db.Run(runID)
	require.NoError(t, err)
	assert.Nil(t, run.Finished)
	assert.Nil(t, run.Focused)
	assert.Nil(t, run.FinalPosition)
	assert.Zero(t, run.Frames)
}

func TestRunsNewestFirst(t *testing.T) {
	db := openTestDB(t)
	base := time.Unix(1000, 0)
	var ids []string
	for i := 0; i < 3; i++ {
		id, err := db.BeginRun("cam0", af.StrategyAdaptiveRange, af.ModeOneShot, af.FocusRange{Min: 0, Max: 100}, af.Params{}, base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
		ids = append(ids, id)
	}

	runs, err := db.Runs(0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, []string{ids[2], ids[1], ids[0]}, []string{runs[0].RunID, runs[1].RunID, runs[2].RunID})

	runs, err = db.Runs(2)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestMissingRun(t *testing.T) {
	db := openTestDB(t)

	_, err := db.Run("nope")
	assert.ErrorIs(t, err, ErrRunNotFound)
	assert.ErrorIs(t, db.FinishRun("nope", time.Now(), false, af.Status{}), ErrRunNotFound)
	assert.ErrorIs(t, db.DeleteRun("nope"), ErrRunNotFound)

	// Frames must reference an existing run.
	assert.Error(t, db.RecordFrames("nope", []Frame{{Frame: 1}}))
}

func TestRecordEventRejectsUnknownPayload(t *testing.T) {
	db := openTestDB(t)
	runID, err := db.BeginRun("cam0", af.StrategyHillClimbing, af.ModeOneShot, af.FocusRange{Min: 0, Max: 10}, af.Params{}, time.Now())
	require.NoError(t, err)

	assert.Error(t, db.RecordEvent(runID, af.Event{}))
}

func TestDeleteRunCascades(t *testing.T) {
	db := openTestDB(t)
	runID, err := db.BeginRun("cam0", af.StrategyHillClimbing, af.ModeOneShot, af.FocusRange{Min: 0, Max: 10}, af.Params{}, time.Now())
	require.NoError(t, err)
	require.NoError(t, db.RecordFrames(runID, []Frame{{Frame: 1, State: "searching"}}))
	require.NoError(t, db.RecordEvent(runID, af.Event{Payload: af.MoveEvent{Start: true}, Seq: 1, At: time.Now()}))

	require.NoError(t, db.DeleteRun(runID))

	frames, err := db.Frames(runID)
	require.NoError(t, err)
	assert.Empty(t, frames)
	events, err := db.Events(runID)
	require.NoError(t, err)
	assert.Empty(t, events)
}
