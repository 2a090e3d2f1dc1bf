// Package vision produces target detections from camera streams.
//
// The gocv-backed types here are the only place the system touches OpenCV;
// everything above consumes the Scanner interface and the normalized
// Detection records, so acquisition logic is testable without a camera or a
// model file.
package vision

import (
	"errors"
	"sort"

	"github.com/dronefence/turret/internal/geometry"
)

// ErrNoFrame is returned by a scan before the capture loop has decoded its
// first frame.
var ErrNoFrame = errors.New("vision: no frame received yet")

// Detection is one detected object in normalized frame coordinates.
type Detection struct {
	Class      int
	Confidence float64
	Box        geometry.BBox // centre-form, coordinates in [0,1]
}

// Profile selects the detection thresholds for a scan. Overview scans run
// permissive, the aiming camera runs strict.
type Profile struct {
	Class      int
	Confidence float64
	NMS        float64
}

// Scanner produces the current detections for one camera.
type Scanner interface {
	// Scan grabs the newest frame and runs detection with the given
	// profile. Only detections of the profile's class survive.
	Scan(profile Profile) ([]Detection, error)
	Close() error
}

// Largest returns the detection with the greatest bounding box area. Ties go
// to the later entry, so when scanning multiple cameras in order the last
// camera seen wins an exact tie.
func Largest(dets []Detection) (Detection, bool) {
	if len(dets) == 0 {
		return Detection{}, false
	}
	best := dets[0]
	for _, d := range dets[1:] {
		if d.Box.Area() >= best.Box.Area() {
			best = d
		}
	}
	return best, true
}

// ByArea sorts detections largest-first. Used by the monitor display only;
// acquisition uses Largest directly.
func ByArea(dets []Detection) {
	sort.Slice(dets, func(i, j int) bool {
		return dets[i].Box.Area() > dets[j].Box.Area()
	})
}
