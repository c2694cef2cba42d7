package monitor

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"tailscale.com/tsweb"

	"github.com/banshee-data/autofocus/internal/httputil"
)

// AttachAdminRoutes mounts the focus trace chart and its JSON on mux's
// /debug/ tree.
func (r *Recorder) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("focus-chart", "Focus trace charts (position, sharpness, focus curve)", r.handleChart)
	debug.HandleFunc("focus-trace", "Focus trace and summary (JSON)", r.handleTrace)
}

var errNoTrace = errors.New("no focus trace recorded")

type traceResponse struct {
	Camera  string       `json:"camera"`
	Summary Summary      `json:"summary"`
	Points  []TracePoint `json:"points"`
}

func (r *Recorder) handleTrace(w http.ResponseWriter, req *http.Request) {
	points := r.Points()
	if points == nil {
		points = []TracePoint{}
	}
	httputil.WriteJSONOK(w, traceResponse{
		Camera:  r.camera,
		Summary: Summarize(points),
		Points:  points,
	})
}

func (r *Recorder) handleChart(w http.ResponseWriter, req *http.Request) {
	page, err := r.chartPage()
	if errors.Is(err, errNoTrace) {
		httputil.WriteJSONError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// chartPage builds the HTML page for the current trace.
func (r *Recorder) chartPage() (*components.Page, error) {
	points := r.Points()
	if len(points) == 0 {
		return nil, errNoTrace
	}
	sum := Summarize(points)

	frames := make([]int, len(points))
	positions := make([]opts.LineData, len(points))
	sharpness := make([]opts.LineData, len(points))
	curve := make([]opts.ScatterData, len(points))
	for i, p := range points {
		frames[i] = p.Frame
		positions[i] = opts.LineData{Value: p.Position}
		sharpness[i] = opts.LineData{Value: p.Sharpness}
		curve[i] = opts.ScatterData{Value: []interface{}{p.Position, p.Sharpness}}
	}
	subtitle := fmt.Sprintf("camera=%s frames=%d best=%d final=%d reversals=%d",
		r.camera, sum.Frames, sum.BestPosition, sum.FinalPosition, sum.Reversals)

	pos := charts.NewLine()
	pos.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Autofocus Trace", Width: "100%", Height: "360px"}),
		charts.WithTitleOpts(opts.Title{Title: "Lens Position", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Frame"}),
	)
	pos.SetXAxis(frames).AddSeries("position", positions)

	sharp := charts.NewLine()
	sharp.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "360px"}),
		charts.WithTitleOpts(opts.Title{Title: "Sharpness"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Frame"}),
	)
	sharp.SetXAxis(frames).AddSeries("sharpness", sharpness)

	sc := charts.NewScatter()
	sc.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "360px"}),
		charts.WithTitleOpts(opts.Title{Title: "Focus Curve"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Position", Type: "value"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Sharpness"}),
	)
	sc.AddSeries("samples", curve, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 6}))

	page := components.NewPage()
	page.AddCharts(pos, sharp, sc)
	return page, nil
}
