package monitor

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/autofocus/internal/af"
	"github.com/banshee-data/autofocus/internal/testutil"
)

func record(r *Recorder, positions []int, sharpness []float64) {
	for i := range positions {
		r.Record(i+1, af.Status{Position: positions[i], Sharpness: sharpness[i], State: af.StateSearching})
	}
}

func TestSummarize(t *testing.T) {
	points := []TracePoint{
		{Frame: 1, Position: 0, Sharpness: 10},
		{Frame: 2, Position: 8, Sharpness: 30},
		{Frame: 3, Position: 16, Sharpness: 20},
		{Frame: 4, Position: 12, Sharpness: 40},
		{Frame: 5, Position: 12, Sharpness: 40},
		{Frame: 6, Position: 14, Sharpness: 35},
	}
	got := Summarize(points)
	want := Summary{
		Frames:          6,
		MeanSharpness:   175.0 / 6,
		MaxSharpness:    40,
		BestPosition:    12,
		FinalPosition:   14,
		Travel:          8 + 8 + 4 + 2,
		Reversals:       2,
		StdDevSharpness: got.StdDevSharpness,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Summarize mismatch (-want +got):\n%s", diff)
	}
	assert.Greater(t, got.StdDevSharpness, 0.0)
}

func TestSummarize_Degenerate(t *testing.T) {
	assert.Equal(t, Summary{}, Summarize(nil))

	one := Summarize([]TracePoint{{Frame: 1, Position: 5, Sharpness: 9}})
	assert.Equal(t, 1, one.Frames)
	assert.Zero(t, one.StdDevSharpness)
	assert.Equal(t, 5, one.BestPosition)
}

func TestRecorder_StartStop(t *testing.T) {
	r := NewRecorder("cam0")
	assert.True(t, r.IsEnabled())
	record(r, []int{1, 2}, []float64{3, 4})
	assert.Equal(t, 2, r.SampleCount())

	r.Stop()
	assert.False(t, r.IsEnabled())
	r.Record(3, af.Status{})
	assert.Equal(t, 2, r.SampleCount())

	dir := filepath.Join(t.TempDir(), "plots")
	require.NoError(t, r.Start(dir))
	assert.Zero(t, r.SampleCount())
	assert.Equal(t, dir, r.OutputDir())
	assert.DirExists(t, dir)

	r.Record(1, af.Status{Position: 7, Sharpness: 1, State: af.StateSettled})
	assert.Equal(t, []TracePoint{{Frame: 1, Position: 7, Sharpness: 1, State: af.StateSettled, StateName: "settled"}}, r.Points())
}

func TestRecorder_Concurrent(t *testing.T) {
	r := NewRecorder("cam0")
	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				r.Record(i, af.Status{Position: i})
				_ = r.Summary()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 400, r.SampleCount())
}

func TestGeneratePlots(t *testing.T) {
	r := NewRecorder("cam0")
	_, err := r.GeneratePlots()
	assert.Error(t, err, "no output dir")

	dir := t.TempDir()
	require.NoError(t, r.Start(dir))
	n, err := r.GeneratePlots()
	require.NoError(t, err)
	assert.Zero(t, n)

	record(r, []int{0, 10, 20, 30, 20}, []float64{100, 300, 500, 200, 500})
	n, err = r.GeneratePlots()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	for _, name := range []string{"cam0_position.png", "cam0_sharpness.png", "cam0_focus_curve.png"} {
		info, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err, name)
		assert.Greater(t, info.Size(), int64(0))
	}
}

func TestMakePlotOutputDir(t *testing.T) {
	now := time.Date(2026, 1, 7, 17, 31, 29, 0, time.UTC)
	assert.Equal(t, filepath.Join("plots", "cam0", "20260107_173129"), MakePlotOutputDir("plots", "cam0", now))
	assert.Equal(t, filepath.Join("plots", "live", "20260107_173129"), MakePlotOutputDir("plots", "", now))
}

func TestAttachAdminRoutes(t *testing.T) {
	r := NewRecorder("cam0")
	mux := http.NewServeMux()
	r.AttachAdminRoutes(mux)

	assert.Equal(t, http.StatusNotFound, testutil.ServeDebug(mux, http.MethodGet, "/debug/focus-chart").Code)

	rec := testutil.ServeDebug(mux, http.MethodGet, "/debug/focus-trace")
	require.Equal(t, http.StatusOK, rec.Code)
	var empty traceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &empty))
	assert.Empty(t, empty.Points)

	record(r, []int{0, 50, 100}, []float64{10, 90, 20})

	rec = testutil.ServeDebug(mux, http.MethodGet, "/debug/focus-chart")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "Focus Curve")

	rec = testutil.ServeDebug(mux, http.MethodGet, "/debug/focus-trace")
	require.Equal(t, http.StatusOK, rec.Code)
	var got traceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "cam0", got.Camera)
	assert.Len(t, got.Points, 3)
	assert.Equal(t, 50, got.Summary.BestPosition)
	assert.Equal(t, "searching", got.Points[0].StateName)
}
