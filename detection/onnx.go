package detection

import (
	"image"
	"math"
	"sync"

	"github.com/cockroachdb/errors"
	"gocv.io/x/gocv"
)

// obbNet wraps a YOLOv8-OBB ONNX network. The providers only differ in
// the backend and target they select.
type obbNet struct {
	net  gocv.Net
	opts Options
	mu   sync.Mutex
}

func (n *obbNet) load(modelPath string, opts Options, backend gocv.NetBackendType, target gocv.NetTargetType) error {
	n.net = gocv.ReadNet(modelPath, "")
	if n.net.Empty() {
		return errors.Newf("failed to load OBB network from %s", modelPath)
	}
	n.net.SetPreferableBackend(backend)
	n.net.SetPreferableTarget(target)
	n.opts = opts
	return nil
}

func (n *obbNet) detectBatch(frames []gocv.Mat) ([][]OBB, error) {
	if len(frames) == 0 {
		return nil, nil
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	// Pad every frame to a square so the network sees the original aspect
	// ratio; boxes then scale back with a single factor.
	maxDim := max(frames[0].Rows(), frames[0].Cols())
	squares := make([]gocv.Mat, len(frames))
	for i, frame := range frames {
		squares[i] = letterbox(frame, maxDim)
	}
	defer func() {
		for _, sq := range squares {
			sq.Close()
		}
	}()

	blob := gocv.NewMat()
	defer blob.Close()
	size := image.Pt(n.opts.InputSize, n.opts.InputSize)
	gocv.BlobFromImages(squares, &blob, 1.0/255.0, size, gocv.NewScalar(0, 0, 0, 0), true, false, gocv.MatTypeCV32F)

	n.net.SetInput(blob, "")
	output := n.net.Forward("")
	defer output.Close()

	dims := output.Size()
	if len(dims) != 3 || dims[0] != len(frames) {
		return nil, errors.Newf("unexpected OBB output shape %v for batch of %d", dims, len(frames))
	}

	scale := float32(maxDim) / float32(n.opts.InputSize)
	at := func(b, c, i int) float32 { return output.GetFloatAt3(b, c, i) }

	results := make([][]OBB, len(frames))
	for b := range frames {
		results[b] = decodeOBB(at, b, dims[1], dims[2], scale, n.opts)
	}
	return results, nil
}

func (n *obbNet) close() error {
	return n.net.Close()
}

// letterbox copies frame into the top-left corner of a grey square.
func letterbox(frame gocv.Mat, dim int) gocv.Mat {
	square := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(114, 114, 114, 0), dim, dim, gocv.MatTypeCV8UC3)
	roi := square.Region(image.Rect(0, 0, frame.Cols(), frame.Rows()))
	frame.CopyTo(&roi)
	roi.Close()
	return square
}

// decodeOBB reads one batch entry of a [B, 4+nc+1, N] YOLOv8-OBB output:
// rows 0..3 are cx, cy, w, h, then one score per class, then the angle.
func decodeOBB(at func(b, c, i int) float32, b, channels, anchors int, scale float32, opts Options) []OBB {
	numClasses := channels - 5
	if numClasses < 1 {
		return nil
	}

	var (
		candidates []OBB
		rects      []image.Rectangle
		scores     []float32
	)
	for i := 0; i < anchors; i++ {
		var best float32
		for c := 0; c < numClasses; c++ {
			if s := at(b, 4+c, i); s > best {
				best = s
			}
		}
		if best < opts.Confidence {
			continue
		}

		cx := at(b, 0, i) * scale
		cy := at(b, 1, i) * scale
		w := at(b, 2, i) * scale
		h := at(b, 3, i) * scale
		angle := float64(at(b, channels-1, i))

		candidates = append(candidates, OBB{X: int(cx), Y: int(cy), W: int(w), H: int(h), Angle: angle})
		rects = append(rects, axisAligned(cx, cy, w, h, angle))
		scores = append(scores, best)
	}

	if len(candidates) == 0 {
		return nil
	}

	keep := gocv.NMSBoxes(rects, scores, opts.Confidence, opts.NMS)
	boxes := make([]OBB, 0, len(keep))
	for _, idx := range keep {
		boxes = append(boxes, candidates[idx])
	}
	return boxes
}

// axisAligned returns the bounding rectangle of a rotated box, used only
// for suppression.
func axisAligned(cx, cy, w, h float32, angle float64) image.Rectangle {
	cos := math.Abs(math.Cos(angle))
	sin := math.Abs(math.Sin(angle))
	hw := (float64(w)*cos + float64(h)*sin) / 2
	hh := (float64(w)*sin + float64(h)*cos) / 2
	return image.Rect(
		int(float64(cx)-hw), int(float64(cy)-hh),
		int(float64(cx)+hw), int(float64(cy)+hh),
	)
}
