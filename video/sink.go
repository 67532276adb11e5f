package video

import (
	"github.com/cockroachdb/errors"
	"gocv.io/x/gocv"
)

// DefaultFourCC is the codec used for the intermediate annotated file.
const DefaultFourCC = "mp4v"

// FileSink encodes frames into a container at a fixed rate and size.
type FileSink struct {
	writer *gocv.VideoWriter
	frames int
}

// CreateFile opens path for writing with the given codec and stream info.
func CreateFile(path, fourcc string, info Info) (*FileSink, error) {
	if fourcc == "" {
		fourcc = DefaultFourCC
	}
	writer, err := gocv.VideoWriterFile(path, fourcc, info.FPS, info.Width, info.Height, true)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "create %s", path), ErrOpen)
	}
	if !writer.IsOpened() {
		writer.Close()
		return nil, errors.Mark(errors.Newf("create %s: writer not opened for codec %s", path, fourcc), ErrOpen)
	}
	return &FileSink{writer: writer}, nil
}

// Write appends one frame.
func (s *FileSink) Write(mat gocv.Mat) error {
	if err := s.writer.Write(mat); err != nil {
		return errors.Wrapf(err, "write frame %d", s.frames)
	}
	s.frames++
	return nil
}

// Frames returns how many frames were written.
func (s *FileSink) Frames() int {
	return s.frames
}

// Close finalizes the container.
func (s *FileSink) Close() error {
	return s.writer.Close()
}
