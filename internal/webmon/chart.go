package webmon

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/dronefence/turret/internal/aim"
	"github.com/dronefence/turret/internal/httputil"
)

// handleAimChart renders the closed-loop telemetry as an HTML line chart.
// Debugging-only: reload to refresh, no live updates.
func (s *Server) handleAimChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.opts.Telemetry == nil {
		httputil.WriteJSONError(w, http.StatusNotFound, "no telemetry source")
		return
	}

	samples := s.opts.Telemetry.Samples()
	var closed []aim.Sample
	for _, sample := range samples {
		if sample.Mode == aim.ClosedLoop {
			closed = append(closed, sample)
		}
	}
	if len(closed) == 0 {
		httputil.WriteJSONError(w, http.StatusNotFound, "no closed-loop samples yet")
		return
	}

	labels := make([]string, 0, len(closed))
	errX := make([]opts.LineData, 0, len(closed))
	errY := make([]opts.LineData, 0, len(closed))
	outX := make([]opts.LineData, 0, len(closed))
	outY := make([]opts.LineData, 0, len(closed))
	t0 := closed[0].Time
	for _, sample := range closed {
		labels = append(labels, fmt.Sprintf("%.1fs", sample.Time.Sub(t0).Seconds()))
		errX = append(errX, opts.LineData{Value: sample.ErrX})
		errY = append(errY, opts.LineData{Value: sample.ErrY})
		outX = append(outX, opts.LineData{Value: sample.OutX})
		outY = append(outY, opts.LineData{Value: sample.OutY})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Aiming telemetry", Theme: "dark", Width: "1200px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Aiming error and PID output", Subtitle: fmt.Sprintf("samples=%d", len(closed))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Degrees"}),
	)
	line.SetXAxis(labels).
		AddSeries("error x", errX).
		AddSeries("error y", errY).
		AddSeries("output x", outX).
		AddSeries("output y", outY)

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
