package geometry

// BBox is an axis-aligned bounding box in centre-x/centre-y/width/height
// form.
type BBox struct {
	X, Y, W, H float64
}

// NewBBox builds a bounding box from centre coordinates and size.
func NewBBox(x, y, w, h float64) BBox {
	return BBox{X: x, Y: y, W: w, H: h}
}

// Area returns width times height.
func (b BBox) Area() float64 {
	return b.W * b.H
}

// XYWH returns the centre form as a fixed array, the shape used on the
// target bus.
func (b BBox) XYWH() [4]float64 {
	return [4]float64{b.X, b.Y, b.W, b.H}
}

// XYXY returns the corner form (x1, y1, x2, y2).
func (b BBox) XYXY() (float64, float64, float64, float64) {
	return b.X - b.W/2, b.Y - b.H/2, b.X + b.W/2, b.Y + b.H/2
}

// ContainsPoint reports whether the point lies within the box, edges
// included.
func (b BBox) ContainsPoint(px, py float64) bool {
	x1, y1, x2, y2 := b.XYXY()
	return x1 <= px && px <= x2 && y1 <= py && py <= y2
}

// Contains reports whether other lies entirely within b.
func (b BBox) Contains(other BBox) bool {
	x1, y1, x2, y2 := other.XYXY()
	return b.ContainsPoint(x1, y1) && b.ContainsPoint(x2, y2)
}
