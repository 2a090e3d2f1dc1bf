// Package geometry converts between frame coordinates, view angles, and
// carriage motor steps.
//
// The cameras report object positions as pixel or normalized coordinates
// within a frame; the carriage thinks in degrees (elevation) and stepper
// steps (rotation). Conversion is linear across the field of view: the frame
// centre maps to zero, the left/top edge to +view_angle/2, the right/bottom
// edge to -view_angle/2.
package geometry

import "fmt"

// StepsPerDegree is the rotation-axis gearing: 2000 steps sweep 90 degrees.
const StepsPerDegree = 2000.0 / 90.0

// NormToAngle converts a normalized coordinate in [0,1] to an angle within a
// view angle of the given width.
func NormToAngle(norm, viewAngle float64) float64 {
	return viewAngle * (0.5 - norm)
}

// CoordToAngle converts a pixel coordinate on an axis of dimension dim to an
// angle within a view angle of the given width. Coordinates outside the
// frame are rejected.
func CoordToAngle(coord, dim, viewAngle float64) (float64, error) {
	if dim <= 0 {
		return 0, fmt.Errorf("invalid frame dimension %v", dim)
	}
	if coord < 0 || coord > dim {
		return 0, fmt.Errorf("coordinate %v outside frame dimension %v", coord, dim)
	}
	return NormToAngle(coord/dim, viewAngle), nil
}

// AngleToSteps converts an angle in degrees to whole motor steps for the
// rotation axis.
func AngleToSteps(angle float64) int {
	return int(angle * StepsPerDegree)
}
