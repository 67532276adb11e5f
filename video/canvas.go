package video

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

// MatCanvas draws onto a BGR frame with OpenCV primitives.
type MatCanvas struct {
	Mat *gocv.Mat
}

// Line draws a straight segment. gocv maps the RGBA colour onto the
// frame's BGR channels.
func (mc MatCanvas) Line(from, to image.Point, clr color.RGBA, thickness int) {
	gocv.Line(mc.Mat, from, to, clr, thickness)
}
