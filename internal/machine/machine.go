// Package machine runs the target acquisition state machine.
//
// Three states govern which cameras scan and what the published estimate
// means. Overview sweeps the fixed cameras for any target; Standby holds a
// coarse estimate while the aiming camera hunts for a lock, periodically
// re-centering from the overview cameras; Tracking feeds the aiming camera's
// angular error downstream every cycle. Losing the target walks the machine
// back down: Tracking drops to Standby after a short quiet period, Standby
// destroys the target and returns to Overview after a long one.
package machine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dronefence/turret/internal/config"
	"github.com/dronefence/turret/internal/geometry"
	"github.com/dronefence/turret/internal/monitoring"
	"github.com/dronefence/turret/internal/timeutil"
	"github.com/dronefence/turret/internal/track"
	"github.com/dronefence/turret/internal/vision"
)

// State is the acquisition state.
type State int

const (
	Overview State = iota
	Standby
	Tracking
)

func (s State) String() string {
	switch s {
	case Overview:
		return "overview"
	case Standby:
		return "standby"
	case Tracking:
		return "tracking"
	default:
		return "unknown"
	}
}

// scanPause throttles iterations that found nothing to chew on. Standby and
// Tracking stay well under the camera frame interval so a lock is never
// starved; Overview uses the configured poll timeout instead.
const scanPause = 100 * time.Millisecond

// Publisher receives the estimate after every iteration with a live target.
type Publisher interface {
	Publish(e *track.Estimate)
}

// Machine owns the single live target estimate and drives it through the
// acquisition states.
type Machine struct {
	scanners []vision.Scanner
	cameras  []config.Camera
	aimIdx   int

	overviewProfile vision.Profile
	trackingProfile vision.Profile

	horizonY     float64
	overviewPoll time.Duration
	rescanAfter  time.Duration
	shortTimeout time.Duration
	longTimeout  time.Duration

	pub   Publisher
	clock timeutil.Clock

	mu       sync.Mutex
	state    State
	target   *track.Estimate
	lastScan time.Time // last overview-style sweep, drives Standby's cadence
}

// New builds a machine from the loaded config. scanners must parallel
// cfg.Cameras.
func New(cfg *config.Config, scanners []vision.Scanner, pub Publisher, clock timeutil.Clock) *Machine {
	return &Machine{
		scanners: scanners,
		cameras:  cfg.Cameras,
		aimIdx:   cfg.GetAimCamera(),
		overviewProfile: vision.Profile{
			Class:      cfg.GetTargetClass(),
			Confidence: cfg.GetOverviewConfidence(),
			NMS:        cfg.GetOverviewNMS(),
		},
		trackingProfile: vision.Profile{
			Class:      cfg.GetTargetClass(),
			Confidence: cfg.GetTrackingConfidence(),
			NMS:        cfg.GetTrackingNMS(),
		},
		horizonY:     cfg.GetHorizonY(),
		overviewPoll: cfg.GetOverviewPollTimeout(),
		rescanAfter:  cfg.GetStandbyRescanTimeout(),
		shortTimeout: cfg.GetShortDuration(),
		longTimeout:  cfg.GetLongDuration(),
		pub:          pub,
		clock:        clock,
	}
}

// State returns the current acquisition state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Target returns the live estimate's wire form, or ok=false when no target
// exists.
func (m *Machine) Target() (track.Wire, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.target == nil {
		return track.Wire{}, false
	}
	return m.target.Wire(), true
}

// Run iterates the state machine until the context is cancelled. Sensing
// gaps are retried forever; only cancellation ends the loop.
func (m *Machine) Run(ctx context.Context) {
	monitoring.Logf("machine: starting in %s", m.State())
	for ctx.Err() == nil {
		m.Step()
	}
	monitoring.Logf("machine: stopped in %s", m.State())
}

// Step executes one iteration of the current state.
func (m *Machine) Step() {
	switch m.State() {
	case Overview:
		m.overviewStep()
	case Standby:
		m.standbyStep()
	case Tracking:
		m.trackingStep()
	}
}

// overviewStep sweeps the fixed cameras. A hit creates the target and
// promotes to Standby; a miss sleeps the poll timeout and retries.
func (m *Machine) overviewStep() {
	camIdx, det, ok := m.overviewScan()
	if !ok {
		m.clock.Sleep(m.overviewPoll)
		return
	}

	now := m.clock.Now()
	target := track.New(camIdx, m.aimAngles(camIdx, det.Box), det.Box.XYWH(), now)

	m.mu.Lock()
	m.target = target
	m.state = Standby
	m.lastScan = now
	m.mu.Unlock()

	monitoring.Logf("machine: acquired target %s on camera %d, entering standby", target.ID(), camIdx)
	m.pub.Publish(target)
}

// standbyStep alternates between hunting for a lock on the aiming camera and
// re-centering from the overview cameras, on the configured cadence.
func (m *Machine) standbyStep() {
	m.mu.Lock()
	target := m.target
	lastScan := m.lastScan
	m.mu.Unlock()

	now := m.clock.Now()
	if target.Age(now) > m.longTimeout {
		m.mu.Lock()
		m.target = nil
		m.state = Overview
		m.mu.Unlock()
		monitoring.Logf("machine: target %s unseen for %v, returning to overview", target.ID(), m.longTimeout)
		return
	}

	if m.clock.Since(lastScan) < m.rescanAfter {
		// Fast cadence: hunt for a lock.
		if det, ok := m.aimScan(); ok {
			now = m.clock.Now()
			target.MarkTracked(m.angularError(det.Box), det.Box.XYWH(), now)

			m.mu.Lock()
			m.state = Tracking
			m.mu.Unlock()

			monitoring.Logf("machine: locked target %s, entering tracking", target.ID())
			m.pub.Publish(target)
			return
		}
		m.pub.Publish(target)
		m.clock.Sleep(scanPause)
		return
	}

	// Slow cadence: re-center from the overview cameras. The target stays
	// coarse; only its absolute position moves.
	if camIdx, det, ok := m.overviewScan(); ok {
		now = m.clock.Now()
		target.MarkCoarse(camIdx, m.aimAngles(camIdx, det.Box), det.Box.XYWH(), now)
	}

	m.mu.Lock()
	m.lastScan = m.clock.Now()
	m.mu.Unlock()

	m.pub.Publish(target)
}

// trackingStep keeps the lock fresh. Quiet aiming-camera cycles beyond the
// short timeout demote to Standby with the estimate preserved.
func (m *Machine) trackingStep() {
	m.mu.Lock()
	target := m.target
	m.mu.Unlock()

	if det, ok := m.aimScan(); ok {
		target.MarkTracked(m.angularError(det.Box), det.Box.XYWH(), m.clock.Now())
		m.pub.Publish(target)
		return
	}

	if target.Age(m.clock.Now()) > m.shortTimeout {
		m.mu.Lock()
		m.state = Standby
		m.lastScan = m.clock.Now()
		m.mu.Unlock()
		monitoring.Logf("machine: lost lock on target %s, dropping to standby", target.ID())
		return
	}

	m.pub.Publish(target)
	m.clock.Sleep(scanPause)
}

// overviewScan sweeps every fixed camera and returns the largest target
// detection across all of them. Equal areas resolve to the later sighting,
// so the last camera scanned wins an exact tie. With a single configured
// camera the aiming camera doubles as the overview camera.
func (m *Machine) overviewScan() (camIdx int, best vision.Detection, ok bool) {
	for i, scanner := range m.scanners {
		if i == m.aimIdx && len(m.scanners) > 1 {
			continue
		}
		dets, err := scanner.Scan(m.overviewProfile)
		if err != nil {
			if !errors.Is(err, vision.ErrNoFrame) {
				monitoring.Logf("machine: camera %d scan: %v", i, err)
			}
			continue
		}
		for _, d := range dets {
			if !ok || d.Box.Area() >= best.Box.Area() {
				camIdx, best, ok = i, d, true
			}
		}
	}
	return camIdx, best, ok
}

// aimScan runs the strict profile on the aiming camera and returns its
// largest target detection.
func (m *Machine) aimScan() (vision.Detection, bool) {
	dets, err := m.scanners[m.aimIdx].Scan(m.trackingProfile)
	if err != nil {
		if !errors.Is(err, vision.ErrNoFrame) {
			monitoring.Logf("machine: aim camera scan: %v", err)
		}
		return vision.Detection{}, false
	}
	return vision.Largest(dets)
}

// aimAngles converts a detection on a fixed camera into the absolute aim
// position: the camera's mounting direction plus the in-frame offset on x,
// the horizon elevation minus the in-frame offset on y.
func (m *Machine) aimAngles(camIdx int, box geometry.BBox) [2]float64 {
	cam := m.cameras[camIdx]
	x := geometry.NormToAngle(box.X, cam.GetViewAngleX()) + cam.GetXCalibration()
	y := m.horizonY - geometry.NormToAngle(box.Y, cam.GetViewAngleY())
	return [2]float64{x, y}
}

// angularError converts an aiming-camera detection into the offset from the
// frame centre.
func (m *Machine) angularError(box geometry.BBox) [2]float64 {
	cam := m.cameras[m.aimIdx]
	return [2]float64{
		geometry.NormToAngle(box.X, cam.GetViewAngleX()),
		geometry.NormToAngle(box.Y, cam.GetViewAngleY()),
	}
}
