// Package track defines the shared record of the currently pursued object.
//
// Exactly one live Estimate exists per system. The acquisition state machine
// owns it: creation happens on the first overview detection, every later
// detection cycle mutates the same record through the setters below, and
// losing the target for long enough destroys it. The setters are the only
// mutation path so the tracked/error invariant (angular error is defined
// only while tracked) holds at every point in time.
package track

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// StalenessTimeout is the advisory age beyond which consumers should treat
// an estimate as stale. Consumers decide for themselves whether to act.
const StalenessTimeout = 15 * time.Second

// Estimate is the current target: who saw it, where the carriage should
// point, and whether the aiming camera has a lock this cycle.
//
// Safe for concurrent use: the acquisition loop mutates the estimate while
// monitoring readers snapshot it through Wire.
type Estimate struct {
	id string // immutable after New

	mu      sync.Mutex
	camera  int
	abs     [2]float64
	box     [4]float64
	tracked bool
	err     [2]float64 // meaningful only while tracked
	created time.Time
	updated time.Time
}

// New creates an estimate from a first overview detection. A fresh estimate
// is always coarse: the aiming camera has not confirmed it yet.
func New(camera int, abs [2]float64, box [4]float64, now time.Time) *Estimate {
	return &Estimate{
		id:      uuid.NewString(),
		camera:  camera,
		abs:     abs,
		box:     box,
		created: now,
		updated: now,
	}
}

// ID returns the estimate identity. It survives updates; a new target gets a
// new ID.
func (e *Estimate) ID() string { return e.id }

// Camera returns the index of the camera that owns the current sighting.
func (e *Estimate) Camera() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.camera
}

// Absolute returns the absolute aim position (x, y angles in degrees).
func (e *Estimate) Absolute() [2]float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.abs
}

// Box returns the normalized bounding box (centre x, centre y, w, h).
func (e *Estimate) Box() [4]float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.box
}

// Tracked reports whether the aiming camera confirmed the target this cycle.
func (e *Estimate) Tracked() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tracked
}

// Error returns the angular error and whether it is defined. It is defined
// only while the estimate is tracked.
func (e *Estimate) Error() ([2]float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.tracked {
		return [2]float64{}, false
	}
	return e.err, true
}

// UpdatedAt returns the time of the last mutation.
func (e *Estimate) UpdatedAt() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.updated
}

// Age returns the time since the last mutation.
func (e *Estimate) Age(now time.Time) time.Duration {
	return now.Sub(e.UpdatedAt())
}

// Stale reports whether the estimate exceeded the advisory staleness timeout.
func (e *Estimate) Stale(now time.Time) bool {
	return e.Age(now) > StalenessTimeout
}

// MarkCoarse records an overview re-centering: a new absolute position from
// the named camera, no lock. Any previous angular error becomes undefined.
func (e *Estimate) MarkCoarse(camera int, abs [2]float64, box [4]float64, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.camera = camera
	e.abs = abs
	e.box = box
	e.tracked = false
	e.err = [2]float64{}
	e.updated = now
}

// MarkTracked records a lock from the aiming camera with the measured
// angular error.
func (e *Estimate) MarkTracked(errXY [2]float64, box [4]float64, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tracked = true
	e.err = errXY
	e.box = box
	e.updated = now
}

// Wire is the JSON shape published on the target bus.
type Wire struct {
	ID      string      `json:"id"`
	Camera  int         `json:"camera"`
	Abs     [2]float64  `json:"abs"`
	Box     [4]float64  `json:"box"`
	Error   *[2]float64 `json:"error"`
	Tracked bool        `json:"tracked"`
	Time    float64     `json:"time"`
}

// Wire converts the estimate to its bus representation, atomically with
// respect to the setters. The error field is null unless the estimate is
// tracked.
func (e *Estimate) Wire() Wire {
	e.mu.Lock()
	defer e.mu.Unlock()

	w := Wire{
		ID:      e.id,
		Camera:  e.camera,
		Abs:     e.abs,
		Box:     e.box,
		Tracked: e.tracked,
		Time:    float64(e.updated.UnixNano()) / 1e9,
	}
	if e.tracked {
		err := e.err
		w.Error = &err
	}
	return w
}

// Marshal encodes the estimate for publication.
func (e *Estimate) Marshal() ([]byte, error) {
	return json.Marshal(e.Wire())
}

// Unmarshal decodes a bus payload, rejecting payloads that violate the
// tracked/error invariant.
func Unmarshal(data []byte) (Wire, error) {
	var w Wire
	if err := json.Unmarshal(data, &w); err != nil {
		return Wire{}, fmt.Errorf("decode target payload: %w", err)
	}
	if w.Tracked && w.Error == nil {
		return Wire{}, fmt.Errorf("tracked target without angular error")
	}
	if !w.Tracked && w.Error != nil {
		return Wire{}, fmt.Errorf("angular error on untracked target")
	}
	return w, nil
}

// Timestamp converts the wire time back to a time.Time.
func (w Wire) Timestamp() time.Time {
	return time.Unix(0, int64(w.Time*1e9))
}
