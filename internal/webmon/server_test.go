package webmon

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dronefence/turret/internal/aim"
	"github.com/dronefence/turret/internal/geometry"
	"github.com/dronefence/turret/internal/track"
)

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s := NewServer(Options{})
	rec := get(t, s, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTargetEndpoint(t *testing.T) {
	e := [2]float64{1.5, -0.5}
	wire := track.Wire{
		ID:      "abc",
		Camera:  1,
		Abs:     [2]float64{140, 119},
		Tracked: true,
		Error:   &e,
	}
	s := NewServer(Options{
		Target: func() (track.Wire, bool) { return wire, true },
	})

	rec := get(t, s, "/api/target")
	require.Equal(t, http.StatusOK, rec.Code)

	var got track.Wire
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "abc", got.ID)
	assert.Equal(t, [2]float64{140, 119}, got.Abs)
	require.NotNil(t, got.Error)
	assert.Equal(t, e, *got.Error)
}

func TestTargetEndpointWithoutTarget(t *testing.T) {
	s := NewServer(Options{
		Target: func() (track.Wire, bool) { return track.Wire{}, false },
	})
	rec := get(t, s, "/api/target")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUnwiredSourcesReturn404(t *testing.T) {
	s := NewServer(Options{})
	for _, path := range []string{"/api/target", "/api/state", "/api/position", "/api/telemetry", "/charts/aim"} {
		rec := get(t, s, path)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
}

func TestPositionEndpoint(t *testing.T) {
	s := NewServer(Options{
		Position: func() (float64, float64) { return 1400, 119.5 },
	})

	rec := get(t, s, "/api/position")
	require.Equal(t, http.StatusOK, rec.Code)

	var got map[string]float64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 1400.0, got["x"])
	assert.Equal(t, 119.5, got["y"])
	assert.Equal(t, float64(geometry.AngleToSteps(1400)), got["x_steps"],
		"rotation axis reported in actuator steps as well")
}

func TestStateEndpoint(t *testing.T) {
	s := NewServer(Options{
		State: func() string { return "tracking" },
	})
	rec := get(t, s, "/api/state")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tracking")
}

func TestTelemetryEndpoint(t *testing.T) {
	tel := aim.NewTelemetry()
	tel.Record(aim.Sample{Time: time.Unix(1700000000, 0), Mode: aim.ClosedLoop, ErrX: 2, OutX: 1})
	s := NewServer(Options{Telemetry: tel})

	rec := get(t, s, "/api/telemetry")
	require.Equal(t, http.StatusOK, rec.Code)

	var got []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "closed-loop", got[0]["mode"])
	assert.Equal(t, 2.0, got[0]["err_x"])
}

func TestAimChartRenders(t *testing.T) {
	tel := aim.NewTelemetry()
	base := time.Unix(1700000000, 0)
	for i := 0; i < 10; i++ {
		tel.Record(aim.Sample{
			Time: base.Add(time.Duration(i) * 100 * time.Millisecond),
			Mode: aim.ClosedLoop,
			ErrX: float64(10 - i),
		})
	}
	s := NewServer(Options{Telemetry: tel})

	rec := get(t, s, "/charts/aim")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Header().Get("Content-Type"), "text/html"))
	assert.Contains(t, rec.Body.String(), "echarts")
}

func TestAimChartWithoutClosedLoopSamples(t *testing.T) {
	tel := aim.NewTelemetry()
	tel.Record(aim.Sample{Mode: aim.OpenLoop, AbsX: 140})
	s := NewServer(Options{Telemetry: tel})

	rec := get(t, s, "/charts/aim")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	s := NewServer(Options{})
	req := httptest.NewRequest(http.MethodPost, "/api/target", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
