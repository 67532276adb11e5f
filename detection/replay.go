package detection

import (
	"bufio"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/tidwall/gjson"
	"gocv.io/x/gocv"
)

// ReplayDetector serves detections recorded earlier instead of running a
// model. The input is JSON lines, one per frame:
//
//	{"frame":0,"boxes":[{"x":120.4,"y":88,"w":40,"h":38,"r":0.3}]}
//
// "frame" defaults to the line number. Frames with no line get no boxes.
type ReplayDetector struct {
	frames map[int][]OBB
	next   int
}

// LoadReplay reads a detections file.
func LoadReplay(path string) (*ReplayDetector, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open replay file %s", path)
	}
	defer f.Close()

	rd, err := ReadReplay(f)
	if err != nil {
		return nil, errors.Wrapf(err, "read replay file %s", path)
	}
	return rd, nil
}

// ReadReplay parses detections JSON lines from r.
func ReadReplay(r io.Reader) (*ReplayDetector, error) {
	rd := &ReplayDetector{frames: make(map[int][]OBB)}

	s := bufio.NewScanner(r)
	bufsize := 10 << 20
	s.Buffer(make([]byte, 0, 64*1024), bufsize)

	line := 0
	for s.Scan() {
		raw := s.Bytes()
		if len(raw) == 0 {
			line++
			continue
		}
		if !gjson.ValidBytes(raw) {
			return nil, errors.Newf("line %d: invalid JSON", line+1)
		}

		doc := gjson.ParseBytes(raw)
		frame := line
		if f := doc.Get("frame"); f.Exists() {
			frame = int(f.Int())
		}

		var boxes []OBB
		doc.Get("boxes").ForEach(func(_, box gjson.Result) bool {
			boxes = append(boxes, OBB{
				X:     int(box.Get("x").Float()),
				Y:     int(box.Get("y").Float()),
				W:     int(box.Get("w").Float()),
				H:     int(box.Get("h").Float()),
				Angle: box.Get("r").Float(),
			})
			return true
		})
		rd.frames[frame] = append(rd.frames[frame], boxes...)
		line++
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return rd, nil
}

// DetectBatch returns the recorded boxes for the next len(frames) frames.
func (rd *ReplayDetector) DetectBatch(frames []gocv.Mat) ([][]OBB, error) {
	results := make([][]OBB, len(frames))
	for i := range frames {
		results[i] = rd.frames[rd.next]
		rd.next++
	}
	return results, nil
}

// Reset rewinds to frame zero so the detector can serve another run.
func (rd *ReplayDetector) Reset() {
	rd.next = 0
}

// Close is a no-op.
func (rd *ReplayDetector) Close() error {
	return nil
}
