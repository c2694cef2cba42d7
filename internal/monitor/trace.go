// Package monitor records the lens position and sharpness of every frame an
// autofocus context processes, and renders them as PNG plots or HTML charts.
package monitor

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/autofocus/internal/af"
)

// TracePoint is one processed frame.
type TracePoint struct {
	Frame     int      `json:"frame"`
	Position  int      `json:"position"`
	Sharpness float64  `json:"sharpness"`
	State     af.State `json:"-"`
	StateName string   `json:"state"`
}

// Recorder accumulates a focus trace. It is safe for concurrent use: the
// frame loop records while debug handlers read.
type Recorder struct {
	mu        sync.Mutex
	enabled   bool
	camera    string
	outputDir string
	started   time.Time
	points    []TracePoint
}

// NewRecorder returns a recorder for camera. Recording starts enabled.
func NewRecorder(camera string) *Recorder {
	return &Recorder{camera: camera, enabled: true}
}

// Start clears the trace and sets the directory GeneratePlots writes to.
func (r *Recorder) Start(outputDir string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if outputDir != "" {
		if err := os.MkdirAll(outputDir, 0755); err != nil {
			return fmt.Errorf("failed to create output dir: %w", err)
		}
	}
	r.outputDir = outputDir
	r.enabled = true
	r.started = time.Time{}
	r.points = nil
	return nil
}

// Stop disables recording. The trace is kept for plotting.
func (r *Recorder) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled = false
}

// IsEnabled reports whether Record appends.
func (r *Recorder) IsEnabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enabled
}

// Record appends the context's status after a frame.
func (r *Recorder) Record(frame int, st af.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.enabled {
		return
	}
	if r.started.IsZero() {
		r.started = time.Now()
	}
	r.points = append(r.points, TracePoint{
		Frame:     frame,
		Position:  st.Position,
		Sharpness: st.Sharpness,
		State:     st.State,
		StateName: st.State.String(),
	})
}

// Points returns a copy of the trace.
func (r *Recorder) Points() []TracePoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]TracePoint(nil), r.points...)
}

// SampleCount returns the number of recorded frames.
func (r *Recorder) SampleCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.points)
}

// OutputDir returns where plots are written.
func (r *Recorder) OutputDir() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outputDir
}

// Summary condenses a trace.
type Summary struct {
	Frames          int     `json:"frames"`
	MeanSharpness   float64 `json:"mean_sharpness"`
	StdDevSharpness float64 `json:"stddev_sharpness"`
	MaxSharpness    float64 `json:"max_sharpness"`
	BestPosition    int     `json:"best_position"`
	FinalPosition   int     `json:"final_position"`
	// Travel is the total distance the lens was commanded to move.
	Travel int `json:"travel"`
	// Reversals counts changes of movement direction.
	Reversals int `json:"reversals"`
}

// Summarize computes statistics over points.
func Summarize(points []TracePoint) Summary {
	if len(points) == 0 {
		return Summary{}
	}
	sharp := make([]float64, len(points))
	for i, p := range points {
		sharp[i] = p.Sharpness
	}
	mean, std := stat.MeanStdDev(sharp, nil)
	if math.IsNaN(std) {
		std = 0
	}
	best := floats.MaxIdx(sharp)

	s := Summary{
		Frames:          len(points),
		MeanSharpness:   mean,
		StdDevSharpness: std,
		MaxSharpness:    sharp[best],
		BestPosition:    points[best].Position,
		FinalPosition:   points[len(points)-1].Position,
	}
	lastDir := 0
	for i := 1; i < len(points); i++ {
		d := points[i].Position - points[i-1].Position
		if d == 0 {
			continue
		}
		s.Travel += abs(d)
		dir := 1
		if d < 0 {
			dir = -1
		}
		if lastDir != 0 && dir != lastDir {
			s.Reversals++
		}
		lastDir = dir
	}
	return s
}

// Summary summarizes the recorded trace.
func (r *Recorder) Summary() Summary {
	return Summarize(r.Points())
}

// FormatTimestamp generates a timestamp string for directory naming.
func FormatTimestamp(t time.Time) string {
	return t.Format("20060102_150405")
}

// MakePlotOutputDir returns baseDir/<camera>/<timestamp>.
func MakePlotOutputDir(baseDir, camera string, now time.Time) string {
	if camera == "" {
		camera = "live"
	}
	return filepath.Join(baseDir, camera, FormatTimestamp(now))
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
