package tracking

import (
	"bufio"
	"io"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/tidwall/sjson"
)

// Exporter writes one JSON line per frame describing the rendered tracks:
//
//	{"frame":3,"tracks":[{"id":1,"x":120,"y":88,"trail":4}]}
type Exporter struct {
	w *bufio.Writer
}

// NewExporter wraps w. Call Flush when done.
func NewExporter(w io.Writer) *Exporter {
	return &Exporter{w: bufio.NewWriter(w)}
}

// WriteFrame appends the line for frame.
func (e *Exporter) WriteFrame(frame int, renders []Render) error {
	line, err := sjson.Set(`{}`, "frame", frame)
	if err != nil {
		return errors.Wrap(err, "encode frame")
	}
	line, err = sjson.SetRaw(line, "tracks", "[]")
	if err != nil {
		return errors.Wrap(err, "encode tracks")
	}

	for i, r := range renders {
		prefix := "tracks." + strconv.Itoa(i) + "."
		for _, kv := range []struct {
			key string
			val int
		}{
			{"id", r.Track.ID},
			{"x", r.Pos.X},
			{"y", r.Pos.Y},
			{"trail", r.Track.Trail.Len()},
		} {
			if line, err = sjson.Set(line, prefix+kv.key, kv.val); err != nil {
				return errors.Wrapf(err, "encode track %d", r.Track.ID)
			}
		}
	}

	if _, err := e.w.WriteString(line + "\n"); err != nil {
		return errors.Wrap(err, "write track export")
	}
	return nil
}

// Flush writes any buffered lines.
func (e *Exporter) Flush() error {
	return e.w.Flush()
}
