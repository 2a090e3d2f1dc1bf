// Package aim converts target estimates from the bus into carriage motion.
//
// The controller has two modes, switched on every bus message by the
// estimate's tracked flag. With a lock it runs closed-loop: the angular
// error feeds a per-axis PID and the output goes out as a relative move.
// Without a lock it runs open-loop: the carriage is sent straight to the
// target's last known absolute position. Both PID loops reset on every mode
// switch so integral windup never carries across the discontinuity.
package aim

import (
	"bytes"
	"context"
	"time"

	"github.com/dronefence/turret/internal/config"
	"github.com/dronefence/turret/internal/monitoring"
	"github.com/dronefence/turret/internal/pid"
	"github.com/dronefence/turret/internal/timeutil"
	"github.com/dronefence/turret/internal/track"
)

// Mode is the control mode.
type Mode int

const (
	OpenLoop Mode = iota
	ClosedLoop
)

func (m Mode) String() string {
	if m == ClosedLoop {
		return "closed-loop"
	}
	return "open-loop"
}

// idlePause throttles iterations with nothing new on the bus.
const idlePause = 20 * time.Millisecond

// Carriage is the motion surface the controller drives.
type Carriage interface {
	MoveRelative(dx, dy float64) error
	MoveToAbsolute(x, y float64) error
}

// Bus is the conflated read side of the target bus.
type Bus interface {
	Latest() (wire track.Wire, raw []byte, ok bool)
}

// Controller runs the aiming loop for one carriage.
type Controller struct {
	bus      Bus
	carriage Carriage
	pidX     *pid.Controller
	pidY     *pid.Controller
	clock    timeutil.Clock

	telemetry *Telemetry

	mode        Mode
	lastRaw     []byte
	staleLogged bool
}

// New builds a controller with per-axis gains from the config. It starts in
// open-loop mode: before the first lock the only sensible motion is toward
// the coarse absolute position.
func New(cfg *config.Config, bus Bus, carriage Carriage, clock timeutil.Clock) *Controller {
	now := clock.Now()
	return &Controller{
		bus:      bus,
		carriage: carriage,
		pidX: pid.New(pid.Config{
			Kp: cfg.GetKpX(), Ki: cfg.GetKiX(), Kd: cfg.GetKdX(),
		}, now),
		pidY: pid.New(pid.Config{
			Kp: cfg.GetKpY(), Ki: cfg.GetKiY(), Kd: cfg.GetKdY(),
		}, now),
		clock:     clock,
		telemetry: NewTelemetry(),
		mode:      OpenLoop,
	}
}

// Mode returns the current control mode.
func (c *Controller) Mode() Mode { return c.mode }

// Telemetry returns the sample recorder for the monitor and shutdown plots.
func (c *Controller) Telemetry() *Telemetry { return c.telemetry }

// Run iterates until the context is cancelled.
func (c *Controller) Run(ctx context.Context) {
	monitoring.Logf("aim: controller starting in %s", c.mode)
	for ctx.Err() == nil {
		c.Step()
	}
	monitoring.Logf("aim: controller stopped")
}

// Step processes at most one new bus message. Re-reading an unchanged
// conflated value is not a new message; the raw payload comparison filters
// re-delivery out so duplicate timestamps never reach the PID.
func (c *Controller) Step() {
	wire, raw, ok := c.bus.Latest()
	if !ok || bytes.Equal(raw, c.lastRaw) {
		c.clock.Sleep(idlePause)
		return
	}
	c.lastRaw = raw

	ts := wire.Timestamp()
	if c.clock.Since(ts) > track.StalenessTimeout {
		if !c.staleLogged {
			monitoring.Logf("aim: target %s is stale (%v old), holding position", wire.ID, c.clock.Since(ts))
			c.staleLogged = true
		}
		return
	}
	c.staleLogged = false

	if wire.Tracked {
		c.closedLoop(wire, ts)
	} else {
		c.openLoop(wire)
	}
}

func (c *Controller) closedLoop(wire track.Wire, ts time.Time) {
	if c.mode != ClosedLoop {
		c.mode = ClosedLoop
		// Baseline at the message timestamp: this message contributes no
		// output, the next one supplies the first valid dt.
		c.pidX.Reset(ts)
		c.pidY.Reset(ts)
		monitoring.Logf("aim: lock on target %s, switching to %s", wire.ID, c.mode)
	}

	errXY := *wire.Error
	errX := errXY[0]
	errY := errXY[1]
	outX := c.pidX.Update(errX, ts)
	// The frame's vertical axis points down while the carriage's y axis
	// points up, so the y error flips sign before the controller.
	outY := c.pidY.Update(-errY, ts)

	if outX != 0 || outY != 0 {
		if err := c.carriage.MoveRelative(outX, outY); err != nil {
			monitoring.Logf("aim: relative move rejected: %v", err)
		}
	}

	c.telemetry.Record(Sample{
		Time: ts, Mode: ClosedLoop,
		ErrX: errX, ErrY: errY,
		OutX: outX, OutY: outY,
	})
}

func (c *Controller) openLoop(wire track.Wire) {
	if c.mode != OpenLoop {
		c.mode = OpenLoop
		c.pidX.Reset(c.clock.Now())
		c.pidY.Reset(c.clock.Now())
		monitoring.Logf("aim: lock lost on target %s, switching to %s", wire.ID, c.mode)
	}

	if err := c.carriage.MoveToAbsolute(wire.Abs[0], wire.Abs[1]); err != nil {
		monitoring.Logf("aim: absolute move rejected: %v", err)
	}

	c.telemetry.Record(Sample{
		Time: wire.Timestamp(), Mode: OpenLoop,
		AbsX: wire.Abs[0], AbsY: wire.Abs[1],
	})
}
