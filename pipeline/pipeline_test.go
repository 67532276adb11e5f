package pipeline

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"bladetrail/detection"
	"bladetrail/tracking"
	"bladetrail/video"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"gocv.io/x/gocv"
)

// blankSource yields n black frames.
type blankSource struct {
	n, read int
	closed  bool
}

func (s *blankSource) Read(mat *gocv.Mat) bool {
	if s.read >= s.n {
		return false
	}
	s.read++
	frame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 120, 160, gocv.MatTypeCV8UC3)
	defer frame.Close()
	frame.CopyTo(mat)
	return true
}

func (s *blankSource) Info() video.Info { return video.Info{FPS: 25, Width: 160, Height: 120} }
func (s *blankSource) Close() error    { s.closed = true; return nil }

// scriptedDetector returns boxes(frame) for each frame it sees.
type scriptedDetector struct {
	boxes   func(frame int) []detection.OBB
	next    int
	batches []int
	err     error
}

func (d *scriptedDetector) DetectBatch(frames []gocv.Mat) ([][]detection.OBB, error) {
	if d.err != nil {
		return nil, d.err
	}
	d.batches = append(d.batches, len(frames))
	out := make([][]detection.OBB, len(frames))
	for i := range frames {
		out[i] = d.boxes(d.next)
		d.next++
	}
	return out, nil
}

func (d *scriptedDetector) Close() error { return nil }

// memorySink keeps copies of written frames and touches path so the
// temp-file handling can be observed.
type memorySink struct {
	path   string
	frames []gocv.Mat
}

func (s *memorySink) Write(mat gocv.Mat) error {
	s.frames = append(s.frames, mat.Clone())
	return nil
}

func (s *memorySink) Close() error {
	if s.path == "" {
		return nil
	}
	return os.WriteFile(s.path, []byte("annotated"), 0o644)
}

func (s *memorySink) release() { video.Release(s.frames) }

// fakeReencoder writes a file unless err is set.
type fakeReencoder struct {
	err   error
	calls int
}

func (r *fakeReencoder) Reencode(ctx context.Context, input, output string) error {
	r.calls++
	if r.err != nil {
		return r.err
	}
	return os.WriteFile(output, []byte("web"), 0o644)
}

func moving(frame int) []detection.OBB {
	return []detection.OBB{{X: 20 + 5*frame, Y: 60, W: 10, H: 10}}
}

func lastLine(t *testing.T, export *bytes.Buffer) gjson.Result {
	lines := strings.Split(strings.TrimSpace(export.String()), "\n")
	return gjson.Parse(lines[len(lines)-1])
}

func TestAnnotateSingleTrack(t *testing.T) {
	src := &blankSource{n: 10}
	det := &scriptedDetector{boxes: moving}
	sink := &memorySink{}
	defer sink.release()

	var export bytes.Buffer
	p := New(det, nil, DefaultOptions())
	stats, err := p.Annotate(context.Background(), src, sink, tracking.NewExporter(&export))
	require.NoError(t, err)

	assert.Equal(t, 10, stats.Frames)
	assert.Equal(t, 10, stats.Detections)
	assert.Equal(t, 1, stats.Tracks)
	assert.Len(t, sink.frames, 10)

	lines := strings.Split(strings.TrimSpace(export.String()), "\n")
	require.Len(t, lines, 10)
	for i, line := range lines {
		doc := gjson.Parse(line)
		assert.Equal(t, int64(i), doc.Get("frame").Int())
		assert.Equal(t, int64(1), doc.Get("tracks.#").Int())
		assert.Equal(t, int64(1), doc.Get("tracks.0.id").Int())
		assert.Equal(t, int64(i+1), doc.Get("tracks.0.trail").Int(), "frame %d", i)
	}

	// a single point draws nothing; later frames carry the trail
	assert.Zero(t, nonZero(sink.frames[0]))
	assert.NotZero(t, nonZero(sink.frames[9]))
}

func TestAnnotateEmptyFramesUntouched(t *testing.T) {
	src := &blankSource{n: 6}
	det := &scriptedDetector{boxes: func(frame int) []detection.OBB {
		if frame%2 == 1 {
			return nil
		}
		return moving(frame)
	}}
	sink := &memorySink{}
	defer sink.release()

	var export bytes.Buffer
	p := New(det, nil, DefaultOptions())
	_, err := p.Annotate(context.Background(), src, sink, tracking.NewExporter(&export))
	require.NoError(t, err)
	require.Len(t, sink.frames, 6)

	for i := 1; i < 6; i += 2 {
		assert.Zero(t, nonZero(sink.frames[i]), "frame %d", i)
	}
	assert.NotZero(t, nonZero(sink.frames[4]))
	// only the three frames with detections grew the trail
	assert.Equal(t, int64(3), lastLine(t, &export).Get("tracks.0.trail").Int())
}

func TestAnnotateBatches(t *testing.T) {
	det := &scriptedDetector{boxes: func(int) []detection.OBB { return nil }}
	sink := &memorySink{}
	defer sink.release()

	opts := DefaultOptions()
	opts.BatchSize = 4
	p := New(det, nil, opts)
	_, err := p.Annotate(context.Background(), &blankSource{n: 10}, sink, nil)
	require.NoError(t, err)

	assert.Equal(t, []int{4, 4, 2}, det.batches)
}

func TestAnnotateDetectorError(t *testing.T) {
	det := &scriptedDetector{err: errors.New("inference failed")}
	sink := &memorySink{}
	defer sink.release()

	p := New(det, nil, DefaultOptions())
	_, err := p.Annotate(context.Background(), &blankSource{n: 3}, sink, nil)
	require.Error(t, err)
	assert.Empty(t, sink.frames)
}

func TestAnnotateEmptyVideo(t *testing.T) {
	p := New(&scriptedDetector{boxes: moving}, nil, DefaultOptions())
	_, err := p.Annotate(context.Background(), &blankSource{}, &memorySink{}, nil)
	assert.True(t, errors.Is(err, video.ErrEmpty))
}

func TestAnnotateReplayRewinds(t *testing.T) {
	replay, err := detection.ReadReplay(strings.NewReader(
		`{"frame":0,"boxes":[{"x":10,"y":10,"w":4,"h":4,"r":0}]}` + "\n" +
			`{"frame":1,"boxes":[{"x":15,"y":10,"w":4,"h":4,"r":0}]}` + "\n"))
	require.NoError(t, err)

	p := New(replay, nil, DefaultOptions())
	for run := 0; run < 2; run++ {
		sink := &memorySink{}
		stats, err := p.Annotate(context.Background(), &blankSource{n: 2}, sink, nil)
		sink.release()
		require.NoError(t, err)
		assert.Equal(t, 2, stats.Detections, "run %d", run)
	}
}

// newFakeProcessor wires file-free source and sink into a Processor.
func newFakeProcessor(t *testing.T, reencoder Reencoder) (*Processor, *memorySink) {
	sink := &memorySink{}
	t.Cleanup(sink.release)

	opts := DefaultOptions()
	opts.TempDir = t.TempDir()
	p := New(&scriptedDetector{boxes: moving}, reencoder, opts)
	p.openSource = func(string) (Source, error) { return &blankSource{n: 4}, nil }
	p.createSink = func(path, fourcc string, info video.Info) (Sink, error) {
		sink.path = path
		return sink, nil
	}
	return p, sink
}

func TestRunReencoded(t *testing.T) {
	enc := &fakeReencoder{}
	p, sink := newFakeProcessor(t, enc)

	result, err := p.Run(context.Background(), "upload.mp4", nil)
	require.NoError(t, err)

	assert.True(t, result.Reencoded)
	assert.Equal(t, 1, enc.calls)
	assert.FileExists(t, result.Path)
	assert.NoFileExists(t, sink.path)

	result.Cleanup()
	assert.NoFileExists(t, result.Path)
}

func TestRunFallsBackToAnnotated(t *testing.T) {
	p, sink := newFakeProcessor(t, &fakeReencoder{err: errors.New("exit status 1")})

	result, err := p.Run(context.Background(), "upload.mp4", nil)
	require.NoError(t, err)

	assert.False(t, result.Reencoded)
	assert.Equal(t, sink.path, result.Path)
	body, err := os.ReadFile(result.Path)
	require.NoError(t, err)
	assert.Equal(t, "annotated", string(body))

	result.Cleanup()
	entries, err := os.ReadDir(filepath.Dir(sink.path))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRunWithoutReencoder(t *testing.T) {
	p, sink := newFakeProcessor(t, nil)

	result, err := p.Run(context.Background(), "upload.mp4", nil)
	require.NoError(t, err)
	assert.Equal(t, sink.path, result.Path)
	assert.Equal(t, 4, result.Stats.Frames)
	result.Cleanup()
}

func TestRunOpenError(t *testing.T) {
	p, _ := newFakeProcessor(t, nil)
	p.openSource = func(string) (Source, error) { return nil, errors.Mark(errors.New("no such file"), video.ErrOpen) }

	_, err := p.Run(context.Background(), "missing.mp4", nil)
	assert.True(t, errors.Is(err, video.ErrOpen))
}

func TestProcessFileMovesResult(t *testing.T) {
	p, _ := newFakeProcessor(t, &fakeReencoder{})
	out := filepath.Join(t.TempDir(), "clip_tracked.mp4")

	var export bytes.Buffer
	result, err := p.ProcessFile(context.Background(), "clip.mp4", out, &export)
	require.NoError(t, err)

	assert.Equal(t, out, result.Path)
	body, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "web", string(body))
	assert.Equal(t, int64(4), lastLine(t, &export).Get("tracks.0.trail").Int())
}

func nonZero(mat gocv.Mat) int {
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(mat, &gray, gocv.ColorBGRToGray)
	return gocv.CountNonZero(gray)
}
