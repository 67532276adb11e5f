package overlay

import (
	"image"
	"image/color"
)

// Canvas is a raster a trail can be drawn onto.
type Canvas interface {
	Line(from, to image.Point, clr color.RGBA, thickness int)
}
