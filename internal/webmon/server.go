// Package webmon serves a localhost monitoring surface for the turret
// processes: current target, carriage position, control state, and a
// rendered chart of the recent aiming telemetry.
//
// Endpoints are debugging-only and bind to loopback; there is no auth.
package webmon

import (
	"context"
	"net/http"
	"time"

	"github.com/dronefence/turret/internal/aim"
	"github.com/dronefence/turret/internal/geometry"
	"github.com/dronefence/turret/internal/httputil"
	"github.com/dronefence/turret/internal/monitoring"
	"github.com/dronefence/turret/internal/track"
)

// Options wires the server to whichever process hosts it. Nil sources leave
// their endpoints answering 404, so the acquisition and aiming processes can
// share the package and expose only what they have.
type Options struct {
	// Target returns the current estimate, if any.
	Target func() (track.Wire, bool)

	// State returns a short human-readable state label.
	State func() string

	// Position returns the carriage's cached x/y position.
	Position func() (float64, float64)

	// Telemetry is the aiming sample recorder.
	Telemetry *aim.Telemetry
}

// Server is the monitoring HTTP server.
type Server struct {
	opts Options
	mux  *http.ServeMux
}

// NewServer builds the handler set from the available sources.
func NewServer(opts Options) *Server {
	s := &Server{opts: opts, mux: http.NewServeMux()}
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/api/target", s.handleTarget)
	s.mux.HandleFunc("/api/state", s.handleState)
	s.mux.HandleFunc("/api/position", s.handlePosition)
	s.mux.HandleFunc("/api/telemetry", s.handleTelemetry)
	s.mux.HandleFunc("/api/telemetry/summary", s.handleTelemetrySummary)
	s.mux.HandleFunc("/charts/aim", s.handleAimChart)
	return s
}

// Handler returns the route multiplexer, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe serves until the context is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			monitoring.Logf("webmon: shutdown: %v", err)
		}
	}()

	monitoring.Logf("webmon: listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, map[string]string{"status": "ok"})
}

func (s *Server) handleTarget(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.opts.Target == nil {
		httputil.WriteJSONError(w, http.StatusNotFound, "no target source")
		return
	}
	wire, ok := s.opts.Target()
	if !ok {
		httputil.WriteJSONError(w, http.StatusNotFound, "no live target")
		return
	}
	httputil.WriteJSONOK(w, wire)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.opts.State == nil {
		httputil.WriteJSONError(w, http.StatusNotFound, "no state source")
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"state": s.opts.State()})
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.opts.Position == nil {
		httputil.WriteJSONError(w, http.StatusNotFound, "no carriage attached")
		return
	}
	x, y := s.opts.Position()
	// The rotation axis is also reported in the actuator's native steps.
	httputil.WriteJSONOK(w, map[string]any{
		"x":       x,
		"y":       y,
		"x_steps": geometry.AngleToSteps(x),
	})
}

func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.opts.Telemetry == nil {
		httputil.WriteJSONError(w, http.StatusNotFound, "no telemetry source")
		return
	}
	httputil.WriteJSONOK(w, telemetryPayload(s.opts.Telemetry.Samples()))
}

func (s *Server) handleTelemetrySummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.opts.Telemetry == nil {
		httputil.WriteJSONError(w, http.StatusNotFound, "no telemetry source")
		return
	}
	httputil.WriteJSONOK(w, s.opts.Telemetry.Summarize())
}

type telemetrySample struct {
	Time time.Time `json:"time"`
	Mode string    `json:"mode"`
	ErrX float64   `json:"err_x"`
	ErrY float64   `json:"err_y"`
	OutX float64   `json:"out_x"`
	OutY float64   `json:"out_y"`
	AbsX float64   `json:"abs_x"`
	AbsY float64   `json:"abs_y"`
}

func telemetryPayload(samples []aim.Sample) []telemetrySample {
	out := make([]telemetrySample, 0, len(samples))
	for _, s := range samples {
		out = append(out, telemetrySample{
			Time: s.Time,
			Mode: s.Mode.String(),
			ErrX: s.ErrX, ErrY: s.ErrY,
			OutX: s.OutX, OutY: s.OutY,
			AbsX: s.AbsX, AbsY: s.AbsY,
		})
	}
	return out
}
