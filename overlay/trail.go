package overlay

import (
	"image"
	"image/color"
)

// DefaultMaxTrail is the number of positions a trail keeps.
const DefaultMaxTrail = 50

// maxThickness is the segment thickness approached by the newest segment.
const maxThickness = 8

// Trail is the bounded position history of one tracked object, oldest
// first. Appending past the bound evicts the oldest point.
type Trail struct {
	points []image.Point
	max    int
}

// NewTrail returns an empty trail holding at most limit points.
// A non-positive limit selects DefaultMaxTrail.
func NewTrail(limit int) *Trail {
	if limit <= 0 {
		limit = DefaultMaxTrail
	}
	return &Trail{
		points: make([]image.Point, 0, limit+1),
		max:    limit,
	}
}

// Append adds pos as the newest point and evicts the oldest when the
// trail grows past its bound.
func (t *Trail) Append(pos image.Point) {
	t.points = append(t.points, pos)
	if len(t.points) > t.max {
		copy(t.points, t.points[1:])
		t.points = t.points[:len(t.points)-1]
	}
}

// Len returns the number of stored points.
func (t *Trail) Len() int {
	return len(t.points)
}

// Max returns the trail bound.
func (t *Trail) Max() int {
	return t.max
}

// Points returns a copy of the stored points, oldest first.
func (t *Trail) Points() []image.Point {
	out := make([]image.Point, len(t.points))
	copy(out, t.points)
	return out
}

// Render appends pos and draws the trail onto c as a polyline whose
// segments thicken and shift from the R channel to the B channel toward
// the newest point.
// No marker is drawn at pos itself.
func (t *Trail) Render(c Canvas, pos image.Point) {
	t.Append(pos)

	n := len(t.points)
	for i := 1; i < n; i++ {
		thickness, clr := SegmentStyle(i, n)
		c.Line(t.points[i-1], t.points[i], clr, thickness)
	}
}

// SegmentStyle returns the thickness and colour of the segment ending at
// index i of a trail holding n points.
func SegmentStyle(i, n int) (int, color.RGBA) {
	fade := float64(i) / float64(n)

	thickness := int(fade * maxThickness)
	if thickness < 1 {
		thickness = 1
	}

	return thickness, color.RGBA{
		R: uint8(255 * (1 - fade)),
		G: uint8(100 * fade),
		B: uint8(255 * fade),
		A: 255,
	}
}
