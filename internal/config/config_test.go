package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "turret.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestEmptyConfigDefaults(t *testing.T) {
	cfg := Empty()

	assert.Equal(t, "/dev/ttyUSB0", cfg.GetSerialDevice())
	assert.Equal(t, 115200, cfg.GetBaudRate())
	assert.Equal(t, time.Second, cfg.GetOverviewPollTimeout())
	assert.Equal(t, 3*time.Second, cfg.GetStandbyRescanTimeout())
	assert.Equal(t, 5*time.Second, cfg.GetShortDuration())
	assert.Equal(t, 10*time.Second, cfg.GetLongDuration())
	assert.Equal(t, 119.0, cfg.GetHorizonY())
	assert.Equal(t, []string{"127.0.0.1:8700"}, cfg.GetBusConsumers())
	assert.Equal(t, 0.4, cfg.GetKpX())
	assert.Equal(t, 0.0, cfg.GetStartX())
	assert.Equal(t, 119.0, cfg.GetStartY(), "park elevation follows the horizon")
	assert.Equal(t, 0.45, cfg.GetOverviewNMS())
	assert.Equal(t, 0.45, cfg.GetTrackingNMS())
}

func TestPerProfileNMSOverrides(t *testing.T) {
	path := writeConfig(t, `{
		"nms_threshold": 0.5,
		"tracking_nms": 0.3
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 0.5, cfg.GetOverviewNMS(), "unset profile falls back to the shared threshold")
	assert.Equal(t, 0.3, cfg.GetTrackingNMS())
}

func TestStartPositionFromConfig(t *testing.T) {
	path := writeConfig(t, `{
		"start_x": 45.5,
		"start_y": 100,
		"horizon_y": 115
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 45.5, cfg.GetStartX())
	assert.Equal(t, 100.0, cfg.GetStartY())
}

func TestPartialConfigKeepsOtherDefaults(t *testing.T) {
	path := writeConfig(t, `{
		"serial_device": "/dev/ttyACM0",
		"long_duration": "20s",
		"kp_x": 1.5,
		"cameras": [
			{"stream": "rtsp://cam0/live", "view_angle_x": 120},
			{"stream": "0", "x_calibration": -2.5}
		],
		"aim_camera": 1
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyACM0", cfg.GetSerialDevice())
	assert.Equal(t, 20*time.Second, cfg.GetLongDuration())
	assert.Equal(t, 5*time.Second, cfg.GetShortDuration(), "untouched field keeps default")
	assert.Equal(t, 1.5, cfg.GetKpX())
	assert.Equal(t, 0.4, cfg.GetKpY())

	require.Len(t, cfg.Cameras, 2)
	assert.Equal(t, 120.0, cfg.Cameras[0].GetViewAngleX())
	assert.Equal(t, 90.0, cfg.Cameras[1].GetViewAngleX(), "camera default applies per camera")
	assert.Equal(t, -2.5, cfg.Cameras[1].GetXCalibration())
	assert.Equal(t, 0.0, cfg.Cameras[0].GetXCalibration())
	assert.Equal(t, 1, cfg.GetAimCamera())
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"bad duration", `{"short_duration": "fast"}`},
		{"negative baud", `{"baud_rate": -9600}`},
		{"camera without stream", `{"cameras": [{"view_angle_x": 90}]}`},
		{"view angle out of range", `{"cameras": [{"stream": "0", "view_angle_x": 400}]}`},
		{"aim camera out of range", `{"cameras": [{"stream": "0"}], "aim_camera": 3}`},
		{"confidence out of range", `{"tracking_confidence": 1.5}`},
		{"nms out of range", `{"overview_nms": -0.1}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadRequiresJSONExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "turret.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
