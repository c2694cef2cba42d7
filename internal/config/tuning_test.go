package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/autofocus/internal/af"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

func TestDefaultTuningConfig(t *testing.T) {
	cfg := DefaultTuningConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults do not validate: %v", err)
	}
	if diff := cmp.Diff(af.DefaultParams(), cfg.Params()); diff != "" {
		t.Errorf("Params() mismatch (-want +got):\n%s", diff)
	}
	if cfg.GetStrategy() != af.StrategyHillClimbing {
		t.Errorf("GetStrategy() = %v, want hill-climbing", cfg.GetStrategy())
	}
	if cfg.GetMode() != ModeOneShot {
		t.Errorf("GetMode() = %q, want %q", cfg.GetMode(), ModeOneShot)
	}
	if cfg.GetFrameInterval() != 33*time.Millisecond {
		t.Errorf("GetFrameInterval() = %v, want 33ms", cfg.GetFrameInterval())
	}
}

func TestGetterDefaults(t *testing.T) {
	cfg := EmptyTuningConfig()
	if diff := cmp.Diff(af.DefaultParams(), cfg.Params()); diff != "" {
		t.Errorf("empty config Params() mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(af.DefaultIngress(), cfg.Ingress()); diff != "" {
		t.Errorf("empty config Ingress() mismatch (-want +got):\n%s", diff)
	}
	if cfg.GetStrategy() != af.StrategyHillClimbing {
		t.Errorf("GetStrategy() = %v", cfg.GetStrategy())
	}
	if cfg.GetMode() != ModeOneShot {
		t.Errorf("GetMode() = %q", cfg.GetMode())
	}
}

func TestLoadTuningConfig(t *testing.T) {
	path := writeConfig(t, "test_config.json", `{
  "strategy": "adaptive",
  "mode": "Continuous",
  "full_range_step": 25,
  "initial_step": 12,
  "noise_ratio": 0.01,
  "passes": 4,
  "drift_frames": 9,
  "window_weights": [0.5, 0.25, 0.25],
  "normalize_luminance": true,
  "frame_interval": "10ms"
}`)

	cfg, err := LoadTuningConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.GetStrategy() != af.StrategyAdaptiveRange {
		t.Errorf("GetStrategy() = %v, want adaptive-range", cfg.GetStrategy())
	}
	if cfg.GetMode() != ModeContinuous {
		t.Errorf("GetMode() = %q, want continuous", cfg.GetMode())
	}
	if cfg.GetFrameInterval() != 10*time.Millisecond {
		t.Errorf("GetFrameInterval() = %v, want 10ms", cfg.GetFrameInterval())
	}

	want := af.DefaultParams()
	want.FullRangeStep = 25
	want.InitialStep = 12
	want.NoiseRatio = 0.01
	want.Passes = 4
	want.DriftFrames = 9
	if diff := cmp.Diff(want, cfg.Params()); diff != "" {
		t.Errorf("Params() mismatch (-want +got):\n%s", diff)
	}

	in := cfg.Ingress()
	if in.Weights != [af.NumWindows]float64{0.5, 0.25, 0.25} {
		t.Errorf("Ingress weights = %v", in.Weights)
	}
	if !in.NormalizeLuminance {
		t.Error("expected NormalizeLuminance")
	}
}

func TestLoadTuningConfigPartial(t *testing.T) {
	path := writeConfig(t, "partial.json", `{"shot_margin": 0.2}`)
	cfg, err := LoadTuningConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	want := af.DefaultParams()
	want.ShotMargin = 0.2
	if diff := cmp.Diff(want, cfg.Params()); diff != "" {
		t.Errorf("Params() mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadTuningConfigMissing(t *testing.T) {
	if _, err := LoadTuningConfig(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadTuningConfigInvalid(t *testing.T) {
	path := writeConfig(t, "broken.json", `{"initial_step": `)
	if _, err := LoadTuningConfig(path); err == nil {
		t.Error("expected error for malformed JSON")
	}

	path = writeConfig(t, "bad.json", `{"shrink_ratio": 1.5}`)
	_, err := LoadTuningConfig(path)
	if err == nil || !strings.Contains(err.Error(), "shrink_ratio") {
		t.Errorf("expected shrink_ratio validation error, got %v", err)
	}
}

func TestLoadTuningConfigRejectsNonJSON(t *testing.T) {
	path := writeConfig(t, "tuning.yaml", "initial_step: 4\n")
	if _, err := LoadTuningConfig(path); err == nil {
		t.Error("expected error for non-.json extension")
	}
}

func TestLoadTuningConfigRejectsLargeFile(t *testing.T) {
	body := `{"strategy": "hill", "pad": "` + strings.Repeat("x", 1024*1024) + `"}`
	path := writeConfig(t, "large.json", body)
	_, err := LoadTuningConfig(path)
	if err == nil || !strings.Contains(err.Error(), "too large") {
		t.Errorf("expected size error, got %v", err)
	}
}

func TestLoadDefaultConfigFile(t *testing.T) {
	cfg := MustLoadDefaultConfig()
	if diff := cmp.Diff(af.DefaultParams(), cfg.Params()); diff != "" {
		t.Errorf("%s drifted from engine defaults (-engine +file):\n%s", DefaultConfigPath, diff)
	}
	if diff := cmp.Diff(af.DefaultIngress(), cfg.Ingress()); diff != "" {
		t.Errorf("%s ingress drifted (-engine +file):\n%s", DefaultConfigPath, diff)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     TuningConfig
		wantErr string
	}{
		{"unknown strategy", TuningConfig{Strategy: ptrString("contrast")}, "unknown strategy"},
		{"unknown mode", TuningConfig{Mode: ptrString("burst")}, "mode"},
		{"negative step", TuningConfig{FullRangeStep: ptrInt(-1)}, "full_range_step"},
		{"zero initial step", TuningConfig{InitialStep: ptrInt(0)}, "initial_step"},
		{"one full-range point", TuningConfig{FullRangePoints: ptrInt(1)}, "full_range_points"},
		{"two pass points", TuningConfig{PassPoints: ptrInt(2)}, "pass_points"},
		{"direction", TuningConfig{InitialDirection: ptrInt(0)}, "initial_direction"},
		{"min over initial", TuningConfig{MinStep: ptrInt(9), InitialStep: ptrInt(8)}, "min_step"},
		{"drift margin", TuningConfig{DriftMargin: ptrFloat64(0)}, "drift_margin"},
		{"noise ratio", TuningConfig{NoiseRatio: ptrFloat64(-0.1)}, "noise_ratio"},
		{"grow factor", TuningConfig{GrowFactor: ptrFloat64(0.5)}, "grow_factor"},
		{"shrink factor", TuningConfig{ShrinkFactor: ptrFloat64(1)}, "shrink_factor"},
		{"min sharpness", TuningConfig{MinFocusSharpness: ptrFloat64(-1)}, "min_focus_sharpness"},
		{"weights length", TuningConfig{WindowWeights: []float64{1}}, "window_weights"},
		{"weights negative", TuningConfig{WindowWeights: []float64{1, -1, 0}}, "window_weights"},
		{"weights all zero", TuningConfig{WindowWeights: []float64{0, 0, 0}}, "window_weights"},
		{"frame interval", TuningConfig{FrameInterval: ptrString("fast")}, "frame_interval"},
		{"negative frame interval", TuningConfig{FrameInterval: ptrString("-1s")}, "frame_interval"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}

	ok := TuningConfig{Strategy: ptrString("FULL"), NoiseRatio: ptrFloat64(0), NormalizeLuminance: ptrBool(true)}
	if err := ok.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestGetFrameInterval(t *testing.T) {
	tests := []struct {
		value *string
		want  time.Duration
	}{
		{nil, 33 * time.Millisecond},
		{ptrString(""), 33 * time.Millisecond},
		{ptrString("bogus"), 33 * time.Millisecond},
		{ptrString("0s"), 33 * time.Millisecond},
		{ptrString("100ms"), 100 * time.Millisecond},
	}
	for _, tt := range tests {
		cfg := TuningConfig{FrameInterval: tt.value}
		if got := cfg.GetFrameInterval(); got != tt.want {
			t.Errorf("GetFrameInterval(%v) = %v, want %v", tt.value, got, tt.want)
		}
	}
}
