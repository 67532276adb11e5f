// Package video wraps gocv capture and writer handles and the bounded
// decode stage that feeds the pipeline.
package video

import (
	"github.com/cockroachdb/errors"
	"gocv.io/x/gocv"
)

var (
	// ErrOpen is returned when a container cannot be opened.
	ErrOpen = errors.New("video: cannot open")
	// ErrEmpty is returned when a source yields no frames.
	ErrEmpty = errors.New("video: no frames decoded")
)

// Info describes the stream a sink must reproduce.
type Info struct {
	FPS    float64
	Width  int
	Height int
}

// Reader yields decoded frames in order. Read fills mat and returns
// false at the end of the stream.
type Reader interface {
	Read(mat *gocv.Mat) bool
}

// FileSource decodes a video file.
type FileSource struct {
	capture *gocv.VideoCapture
	info    Info
}

// OpenFile opens path for decoding.
func OpenFile(path string) (*FileSource, error) {
	capture, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "open %s", path), ErrOpen)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, errors.Mark(errors.Newf("open %s: capture not opened", path), ErrOpen)
	}

	info := Info{
		FPS:    capture.Get(gocv.VideoCaptureFPS),
		Width:  int(capture.Get(gocv.VideoCaptureFrameWidth)),
		Height: int(capture.Get(gocv.VideoCaptureFrameHeight)),
	}
	if info.FPS <= 0 {
		// some containers report no rate; the writer still needs one
		info.FPS = 30
	}

	return &FileSource{capture: capture, info: info}, nil
}

// Info returns the stream's frame rate and dimensions.
func (s *FileSource) Info() Info {
	return s.info
}

// Read decodes the next frame into mat.
func (s *FileSource) Read(mat *gocv.Mat) bool {
	return s.capture.Read(mat) && !mat.Empty()
}

// Close releases the capture handle.
func (s *FileSource) Close() error {
	return s.capture.Close()
}
