package monitor

import (
	"fmt"
	"image/color"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

var (
	positionColor  = color.RGBA{R: 38, G: 130, B: 142, A: 255}
	sharpnessColor = color.RGBA{R: 253, G: 150, B: 37, A: 255}
)

// GeneratePlots writes the position trace, the sharpness trace and the
// sampled focus curve as PNG files into the output directory. It returns the
// number of files written.
func (r *Recorder) GeneratePlots() (int, error) {
	r.mu.Lock()
	dir, camera := r.outputDir, r.camera
	points := append([]TracePoint(nil), r.points...)
	r.mu.Unlock()

	if dir == "" {
		return 0, fmt.Errorf("no output directory configured")
	}
	if len(points) == 0 {
		return 0, nil
	}

	posPts := make(plotter.XYs, len(points))
	sharpPts := make(plotter.XYs, len(points))
	curvePts := make(plotter.XYs, len(points))
	for i, p := range points {
		posPts[i] = plotter.XY{X: float64(p.Frame), Y: float64(p.Position)}
		sharpPts[i] = plotter.XY{X: float64(p.Frame), Y: p.Sharpness}
		curvePts[i] = plotter.XY{X: float64(p.Position), Y: p.Sharpness}
	}

	pPos := plot.New()
	pPos.Title.Text = fmt.Sprintf("%s - Lens Position", camera)
	pPos.X.Label.Text = "Frame"
	pPos.Y.Label.Text = "Position"
	posLine, err := plotter.NewLine(posPts)
	if err != nil {
		return 0, err
	}
	posLine.Color = positionColor
	posLine.Width = vg.Points(1)
	pPos.Add(posLine)

	pSharp := plot.New()
	pSharp.Title.Text = fmt.Sprintf("%s - Sharpness", camera)
	pSharp.X.Label.Text = "Frame"
	pSharp.Y.Label.Text = "Sharpness"
	sharpLine, err := plotter.NewLine(sharpPts)
	if err != nil {
		return 0, err
	}
	sharpLine.Color = sharpnessColor
	sharpLine.Width = vg.Points(1)
	pSharp.Add(sharpLine)

	pCurve := plot.New()
	pCurve.Title.Text = fmt.Sprintf("%s - Focus Curve", camera)
	pCurve.X.Label.Text = "Position"
	pCurve.Y.Label.Text = "Sharpness"
	scatter, err := plotter.NewScatter(curvePts)
	if err != nil {
		return 0, err
	}
	scatter.GlyphStyle.Color = sharpnessColor
	scatter.GlyphStyle.Radius = vg.Points(2)
	pCurve.Add(scatter)

	files := []struct {
		p    *plot.Plot
		name string
	}{
		{pPos, "position.png"},
		{pSharp, "sharpness.png"},
		{pCurve, "focus_curve.png"},
	}
	for i, f := range files {
		path := filepath.Join(dir, fmt.Sprintf("%s_%s", camera, f.name))
		if err := f.p.Save(14*vg.Inch, 6*vg.Inch, path); err != nil {
			return i, fmt.Errorf("save %s: %w", f.name, err)
		}
	}
	return len(files), nil
}
