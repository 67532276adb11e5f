package detection

import (
	"image"

	"github.com/cockroachdb/errors"
	"gocv.io/x/gocv"
)

// ErrModelLoad is returned when no provider could load the model.
var ErrModelLoad = errors.New("detection: model could not be loaded")

// OBB is one oriented bounding box as produced by the model: center and
// size in frame pixels plus the rotation angle in radians.
type OBB struct {
	X, Y  int
	W, H  int
	Angle float64
}

// Center returns the box center as a point.
func (b OBB) Center() image.Point {
	return image.Pt(b.X, b.Y)
}

// Detector turns an ordered batch of frames into one box list per frame.
// The returned slice always has len(frames) entries.
type Detector interface {
	DetectBatch(frames []gocv.Mat) ([][]OBB, error)
	Close() error
}

// Options tune the ONNX providers.
type Options struct {
	InputSize  int     // square network input, 1024 for YOLOv8-OBB
	Confidence float32 // minimum class score
	NMS        float32 // IoU threshold for non-maximum suppression
}

// DefaultOptions matches the thresholds the model was exported with.
func DefaultOptions() Options {
	return Options{
		InputSize:  1024,
		Confidence: 0.25,
		NMS:        0.45,
	}
}
