package aim

import (
	"fmt"
	"image/color"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// telemetryCapacity bounds the sample ring. At typical bus rates this holds
// several minutes of aiming history.
const telemetryCapacity = 4096

// Sample is one control iteration's record.
type Sample struct {
	Time time.Time
	Mode Mode

	// Closed-loop fields
	ErrX, ErrY float64
	OutX, OutY float64

	// Open-loop fields
	AbsX, AbsY float64
}

// Telemetry keeps a bounded ring of control samples for the live monitor and
// the shutdown plot.
type Telemetry struct {
	mu      sync.Mutex
	samples []Sample
	start   int
}

// NewTelemetry creates an empty recorder.
func NewTelemetry() *Telemetry {
	return &Telemetry{}
}

// Record appends a sample, evicting the oldest once at capacity.
func (t *Telemetry) Record(s Sample) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.samples) < telemetryCapacity {
		t.samples = append(t.samples, s)
		return
	}
	t.samples[t.start] = s
	t.start = (t.start + 1) % len(t.samples)
}

// Samples returns the recorded samples oldest-first.
func (t *Telemetry) Samples() []Sample {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Sample, 0, len(t.samples))
	out = append(out, t.samples[t.start:]...)
	out = append(out, t.samples[:t.start]...)
	return out
}

// Summary aggregates the closed-loop error history.
type Summary struct {
	Samples  int     `json:"samples"`
	MeanErrX float64 `json:"mean_err_x"`
	MeanErrY float64 `json:"mean_err_y"`
	StdErrX  float64 `json:"std_err_x"`
	StdErrY  float64 `json:"std_err_y"`
}

// Summarize computes error statistics over the recorded closed-loop samples.
func (t *Telemetry) Summarize() Summary {
	var errX, errY []float64
	for _, s := range t.Samples() {
		if s.Mode != ClosedLoop {
			continue
		}
		errX = append(errX, s.ErrX)
		errY = append(errY, s.ErrY)
	}
	if len(errX) == 0 {
		return Summary{}
	}
	return Summary{
		Samples:  len(errX),
		MeanErrX: stat.Mean(errX, nil),
		MeanErrY: stat.Mean(errY, nil),
		StdErrX:  stat.StdDev(errX, nil),
		StdErrY:  stat.StdDev(errY, nil),
	}
}

// WritePlot renders the closed-loop error and output history to a PNG.
// Called on shutdown so a tracking session leaves an inspectable trace.
func (t *Telemetry) WritePlot(path string) error {
	samples := t.Samples()

	errXPts := make(plotter.XYs, 0, len(samples))
	errYPts := make(plotter.XYs, 0, len(samples))
	outXPts := make(plotter.XYs, 0, len(samples))
	outYPts := make(plotter.XYs, 0, len(samples))

	var t0 time.Time
	for _, s := range samples {
		if s.Mode != ClosedLoop {
			continue
		}
		if t0.IsZero() {
			t0 = s.Time
		}
		x := s.Time.Sub(t0).Seconds()
		errXPts = append(errXPts, plotter.XY{X: x, Y: s.ErrX})
		errYPts = append(errYPts, plotter.XY{X: x, Y: s.ErrY})
		outXPts = append(outXPts, plotter.XY{X: x, Y: s.OutX})
		outYPts = append(outYPts, plotter.XY{X: x, Y: s.OutY})
	}

	if len(errXPts) == 0 {
		return fmt.Errorf("no closed-loop samples to plot")
	}

	p := plot.New()
	p.Title.Text = "Aiming error and PID output"
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = "Degrees"

	series := []struct {
		label string
		pts   plotter.XYs
		color color.Color
	}{
		{"error x", errXPts, color.RGBA{R: 220, G: 60, B: 60, A: 255}},
		{"error y", errYPts, color.RGBA{R: 60, G: 60, B: 220, A: 255}},
		{"output x", outXPts, color.RGBA{R: 220, G: 160, B: 60, A: 255}},
		{"output y", outYPts, color.RGBA{R: 60, G: 180, B: 120, A: 255}},
	}
	for _, s := range series {
		line, err := plotter.NewLine(s.pts)
		if err != nil {
			return err
		}
		line.Color = s.color
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(s.label, line)
	}
	p.Legend.Top = true

	if err := p.Save(14*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("save aim plot: %w", err)
	}
	return nil
}
