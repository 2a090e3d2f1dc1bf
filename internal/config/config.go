// Package config holds the runtime tuning for the acquisition and aiming
// processes. All fields are optional in the JSON file; the Get* accessors
// supply defaults, so a partial config is always safe to load.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dronefence/turret/internal/targetbus"
)

// Camera describes one fixed overview camera or the carriage-mounted aiming
// camera.
type Camera struct {
	// Stream is the capture source: an RTSP/HTTP URL or a local device
	// index as a string ("0").
	Stream string `json:"stream"`

	ViewAngleX *float64 `json:"view_angle_x,omitempty"` // horizontal field of view, degrees
	ViewAngleY *float64 `json:"view_angle_y,omitempty"` // vertical field of view, degrees

	// XCalibration is the mounting offset added to the x aim angle derived
	// from this camera's detections.
	XCalibration *float64 `json:"x_calibration,omitempty"`
}

// Config is the root configuration shared by both processes. The schema is
// loaded once at startup; there is no runtime update path.
type Config struct {
	// Serial link to the carriage controller
	SerialDevice *string `json:"serial_device,omitempty"`
	BaudRate     *int    `json:"baud_rate,omitempty"`

	// Persistent carriage state
	StorePath *string `json:"store_path,omitempty"`

	// Target bus addresses
	BusConsumers []string `json:"bus_consumers,omitempty"` // where the acquirer publishes
	ListenAddr   *string  `json:"listen_addr,omitempty"`   // where the aimer listens
	MonitorAddr  *string  `json:"monitor_addr,omitempty"`  // local web monitor

	// Detection model. The overview and tracking profiles take separate
	// confidence floors and NMS IoU thresholds; nms_threshold is the shared
	// fallback when a per-profile value is unset.
	ModelPath          *string  `json:"model_path,omitempty"`
	TargetClass        *int     `json:"target_class,omitempty"`
	OverviewConfidence *float64 `json:"overview_confidence,omitempty"`
	TrackingConfidence *float64 `json:"tracking_confidence,omitempty"`
	NMSThreshold       *float64 `json:"nms_threshold,omitempty"`
	OverviewNMS        *float64 `json:"overview_nms,omitempty"`
	TrackingNMS        *float64 `json:"tracking_nms,omitempty"`

	// Cameras. AimCamera indexes into Cameras; the rest are overview.
	Cameras   []Camera `json:"cameras,omitempty"`
	AimCamera *int     `json:"aim_camera,omitempty"`

	// Geometry: the aim y angle for a target sitting on the horizon.
	HorizonY *float64 `json:"horizon_y,omitempty"`

	// Carriage park position for operator moves (carriagectl -start)
	StartX *float64 `json:"start_x,omitempty"`
	StartY *float64 `json:"start_y,omitempty"`

	// Acquisition cadence (duration strings like "1s")
	OverviewPollTimeout  *string `json:"overview_poll_timeout,omitempty"`
	StandbyRescanTimeout *string `json:"standby_rescan_timeout,omitempty"`
	ShortDuration        *string `json:"short_duration,omitempty"` // Tracking -> Standby demotion
	LongDuration         *string `json:"long_duration,omitempty"`  // target destruction

	// PID gains per carriage axis
	KpX *float64 `json:"kp_x,omitempty"`
	KiX *float64 `json:"ki_x,omitempty"`
	KdX *float64 `json:"kd_x,omitempty"`
	KpY *float64 `json:"kp_y,omitempty"`
	KiY *float64 `json:"ki_y,omitempty"`
	KdY *float64 `json:"kd_y,omitempty"`
}

// Empty returns a Config with every field unset. The Get* accessors make it
// fully usable; Load fills it from a JSON file.
func Empty() *Config {
	return &Config{}
}

// Load reads and validates a JSON config file. Fields omitted from the file
// fall back to the accessor defaults, so partial configs are safe.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Empty()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configured values are usable.
func (c *Config) Validate() error {
	if c.BaudRate != nil && *c.BaudRate <= 0 {
		return fmt.Errorf("baud_rate must be positive, got %d", *c.BaudRate)
	}

	for _, field := range []struct {
		name  string
		value *string
	}{
		{"overview_poll_timeout", c.OverviewPollTimeout},
		{"standby_rescan_timeout", c.StandbyRescanTimeout},
		{"short_duration", c.ShortDuration},
		{"long_duration", c.LongDuration},
	} {
		if field.value != nil && *field.value != "" {
			if _, err := time.ParseDuration(*field.value); err != nil {
				return fmt.Errorf("invalid %s '%s': %w", field.name, *field.value, err)
			}
		}
	}

	for i, cam := range c.Cameras {
		if cam.Stream == "" {
			return fmt.Errorf("camera %d has no stream source", i)
		}
		if cam.ViewAngleX != nil && (*cam.ViewAngleX <= 0 || *cam.ViewAngleX > 360) {
			return fmt.Errorf("camera %d view_angle_x out of range: %f", i, *cam.ViewAngleX)
		}
		if cam.ViewAngleY != nil && (*cam.ViewAngleY <= 0 || *cam.ViewAngleY > 360) {
			return fmt.Errorf("camera %d view_angle_y out of range: %f", i, *cam.ViewAngleY)
		}
	}

	if c.AimCamera != nil {
		if *c.AimCamera < 0 || *c.AimCamera >= len(c.Cameras) {
			return fmt.Errorf("aim_camera %d does not index a configured camera", *c.AimCamera)
		}
	}

	for _, conf := range []struct {
		name  string
		value *float64
	}{
		{"overview_confidence", c.OverviewConfidence},
		{"tracking_confidence", c.TrackingConfidence},
		{"nms_threshold", c.NMSThreshold},
		{"overview_nms", c.OverviewNMS},
		{"tracking_nms", c.TrackingNMS},
	} {
		if conf.value != nil && (*conf.value < 0 || *conf.value > 1) {
			return fmt.Errorf("%s must be between 0 and 1, got %f", conf.name, *conf.value)
		}
	}

	return nil
}

// GetSerialDevice returns the serial device path or the default.
func (c *Config) GetSerialDevice() string {
	if c.SerialDevice == nil {
		return "/dev/ttyUSB0"
	}
	return *c.SerialDevice
}

// GetBaudRate returns the serial baud rate or the default.
func (c *Config) GetBaudRate() int {
	if c.BaudRate == nil {
		return 115200
	}
	return *c.BaudRate
}

// GetStorePath returns the carriage state database path or the default.
func (c *Config) GetStorePath() string {
	if c.StorePath == nil {
		return "carriage.db"
	}
	return *c.StorePath
}

// GetBusConsumers returns the publish addresses or the default single
// aiming-process address.
func (c *Config) GetBusConsumers() []string {
	if len(c.BusConsumers) == 0 {
		return []string{targetbus.DefaultAimAddr}
	}
	return c.BusConsumers
}

// GetListenAddr returns the aiming process listen address or the default.
func (c *Config) GetListenAddr() string {
	if c.ListenAddr == nil {
		return targetbus.DefaultAimAddr
	}
	return *c.ListenAddr
}

// GetMonitorAddr returns the web monitor address or the default.
func (c *Config) GetMonitorAddr() string {
	if c.MonitorAddr == nil {
		return "127.0.0.1:8080"
	}
	return *c.MonitorAddr
}

// GetModelPath returns the detection model path or the default.
func (c *Config) GetModelPath() string {
	if c.ModelPath == nil {
		return "models/drone.onnx"
	}
	return *c.ModelPath
}

// GetTargetClass returns the detection class treated as a target.
func (c *Config) GetTargetClass() int {
	if c.TargetClass == nil {
		return 0
	}
	return *c.TargetClass
}

// GetOverviewConfidence returns the detection confidence floor used while
// scanning with the overview cameras.
func (c *Config) GetOverviewConfidence() float64 {
	if c.OverviewConfidence == nil {
		return 0.25
	}
	return *c.OverviewConfidence
}

// GetTrackingConfidence returns the detection confidence floor used by the
// aiming camera. Higher than the overview floor: a false lock moves the
// carriage.
func (c *Config) GetTrackingConfidence() float64 {
	if c.TrackingConfidence == nil {
		return 0.4
	}
	return *c.TrackingConfidence
}

// GetNMSThreshold returns the shared non-maximum-suppression IoU threshold.
func (c *Config) GetNMSThreshold() float64 {
	if c.NMSThreshold == nil {
		return 0.45
	}
	return *c.NMSThreshold
}

// GetOverviewNMS returns the NMS IoU threshold for overview scans, falling
// back to the shared threshold.
func (c *Config) GetOverviewNMS() float64 {
	if c.OverviewNMS == nil {
		return c.GetNMSThreshold()
	}
	return *c.OverviewNMS
}

// GetTrackingNMS returns the NMS IoU threshold for the aiming camera,
// falling back to the shared threshold.
func (c *Config) GetTrackingNMS() float64 {
	if c.TrackingNMS == nil {
		return c.GetNMSThreshold()
	}
	return *c.TrackingNMS
}

// GetAimCamera returns the index of the carriage-mounted camera.
func (c *Config) GetAimCamera() int {
	if c.AimCamera == nil {
		return 0
	}
	return *c.AimCamera
}

// GetHorizonY returns the aim y angle that points at the horizon.
func (c *Config) GetHorizonY() float64 {
	if c.HorizonY == nil {
		return 119.0
	}
	return *c.HorizonY
}

// GetStartX returns the x component of the carriage park position.
func (c *Config) GetStartX() float64 {
	if c.StartX == nil {
		return 0.0
	}
	return *c.StartX
}

// GetStartY returns the y component of the carriage park position. Defaults
// to the horizon elevation.
func (c *Config) GetStartY() float64 {
	if c.StartY == nil {
		return c.GetHorizonY()
	}
	return *c.StartY
}

// GetOverviewPollTimeout returns the overview scan pause as a duration.
func (c *Config) GetOverviewPollTimeout() time.Duration {
	return c.duration(c.OverviewPollTimeout, time.Second)
}

// GetStandbyRescanTimeout returns the slow-cadence overview rescan pause.
func (c *Config) GetStandbyRescanTimeout() time.Duration {
	return c.duration(c.StandbyRescanTimeout, 3*time.Second)
}

// GetShortDuration returns how long the aiming camera may lose the target
// before Tracking demotes to Standby.
func (c *Config) GetShortDuration() time.Duration {
	return c.duration(c.ShortDuration, 5*time.Second)
}

// GetLongDuration returns how long a target may go unseen by any camera
// before it is destroyed.
func (c *Config) GetLongDuration() time.Duration {
	return c.duration(c.LongDuration, 10*time.Second)
}

func (c *Config) duration(field *string, fallback time.Duration) time.Duration {
	if field == nil || *field == "" {
		return fallback
	}
	d, err := time.ParseDuration(*field)
	if err != nil {
		return fallback
	}
	return d
}

// GetKpX returns the x axis proportional gain or the default.
func (c *Config) GetKpX() float64 {
	if c.KpX == nil {
		return 0.4
	}
	return *c.KpX
}

// GetKiX returns the x axis integral gain or the default.
func (c *Config) GetKiX() float64 {
	if c.KiX == nil {
		return 0.0
	}
	return *c.KiX
}

// GetKdX returns the x axis derivative gain or the default.
func (c *Config) GetKdX() float64 {
	if c.KdX == nil {
		return 0.05
	}
	return *c.KdX
}

// GetKpY returns the y axis proportional gain or the default.
func (c *Config) GetKpY() float64 {
	if c.KpY == nil {
		return 0.4
	}
	return *c.KpY
}

// GetKiY returns the y axis integral gain or the default.
func (c *Config) GetKiY() float64 {
	if c.KiY == nil {
		return 0.0
	}
	return *c.KiY
}

// GetKdY returns the y axis derivative gain or the default.
func (c *Config) GetKdY() float64 {
	if c.KdY == nil {
		return 0.05
	}
	return *c.KdY
}

// GetViewAngleX returns the camera's horizontal field of view or the default.
func (cam *Camera) GetViewAngleX() float64 {
	if cam.ViewAngleX == nil {
		return 90.0
	}
	return *cam.ViewAngleX
}

// GetViewAngleY returns the camera's vertical field of view or the default.
func (cam *Camera) GetViewAngleY() float64 {
	if cam.ViewAngleY == nil {
		return 60.0
	}
	return *cam.ViewAngleY
}

// GetXCalibration returns the camera's x mounting offset or zero.
func (cam *Camera) GetXCalibration() float64 {
	if cam.XCalibration == nil {
		return 0.0
	}
	return *cam.XCalibration
}
