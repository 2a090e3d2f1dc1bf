// Package pid implements the per-axis closed-loop controller that converts
// angular error into a correction command for the carriage.
package pid

import "time"

// Config holds the controller gains and output range for one axis.
type Config struct {
	Kp float64 `json:"kp"`
	Ki float64 `json:"ki"`
	Kd float64 `json:"kd"`

	// OutputMin and OutputMax clamp the correction. Zero values select the
	// default ±180 angle-unit range.
	OutputMin float64 `json:"output_min"`
	OutputMax float64 `json:"output_max"`

	// Setpoint is the error value the controller drives toward. Aiming
	// always targets zero error.
	Setpoint float64 `json:"setpoint"`
}

func (c Config) withDefaults() Config {
	if c.OutputMin == 0 && c.OutputMax == 0 {
		c.OutputMin = -180
		c.OutputMax = 180
	}
	return c
}

// Controller is a single-axis PID loop. It is not safe for concurrent use;
// each axis owns its own Controller on one goroutine.
type Controller struct {
	cfg Config

	integral  float64
	prevError float64
	prevTime  time.Time
}

// New creates a controller. The timestamp baseline starts at now, so the
// first Update must carry a later measurement time to produce output.
func New(cfg Config, now time.Time) *Controller {
	return &Controller{
		cfg:      cfg.withDefaults(),
		prevTime: now,
	}
}

// Update feeds a measured error taken at the given time and returns the
// clamped correction. A measurement that is not strictly newer than the
// previous one returns zero and leaves the integral and derivative state
// untouched, which guards against duplicate or out-of-order bus deliveries.
func (c *Controller) Update(measured float64, measurementTime time.Time) float64 {
	dt := measurementTime.Sub(c.prevTime).Seconds()
	if dt <= 0 {
		return 0
	}

	err := c.cfg.Setpoint + measured

	c.integral += err * dt
	derivative := (err - c.prevError) / dt

	output := c.cfg.Kp*err + c.cfg.Ki*c.integral + c.cfg.Kd*derivative
	if output > c.cfg.OutputMax {
		output = c.cfg.OutputMax
	} else if output < c.cfg.OutputMin {
		output = c.cfg.OutputMin
	}

	c.prevError = err
	c.prevTime = measurementTime

	return output
}

// Reset zeroes the accumulated integral and previous error and restarts the
// timestamp baseline at now. Called on every switch between closed-loop and
// open-loop control so integral windup cannot carry across modes.
func (c *Controller) Reset(now time.Time) {
	c.integral = 0
	c.prevError = 0
	c.prevTime = now
}
