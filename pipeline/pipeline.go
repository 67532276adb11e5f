// Package pipeline runs one video through decode, detection, tracking,
// trail rendering, encoding and the web re-encode.
package pipeline

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"bladetrail/detection"
	"bladetrail/logger"
	"bladetrail/tracking"
	"bladetrail/video"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"gocv.io/x/gocv"
)

// DefaultBatchSize is the number of frames per detector call.
const DefaultBatchSize = 50

// Source is a decodable video.
type Source interface {
	video.Reader
	Info() video.Info
	Close() error
}

// Sink receives annotated frames in order.
type Sink interface {
	Write(mat gocv.Mat) error
	Close() error
}

// Reencoder converts the annotated file into a web-playable one.
type Reencoder interface {
	Reencode(ctx context.Context, input, output string) error
}

// resettable detectors replay state and must be rewound per run.
type resettable interface {
	Reset()
}

// Options configure a Processor.
type Options struct {
	BatchSize int
	Prefetch  int
	FourCC    string
	Tracking  tracking.Config
	// TempDir holds the annotated and re-encoded files; "" means os.TempDir.
	TempDir string
}

// DefaultOptions returns the batch, buffer and threshold defaults.
func DefaultOptions() Options {
	return Options{
		BatchSize: DefaultBatchSize,
		Prefetch:  video.DefaultPrefetch,
		FourCC:    video.DefaultFourCC,
		Tracking:  tracking.DefaultConfig(),
	}
}

// Stats summarizes one Annotate call.
type Stats struct {
	Frames     int
	Detections int
	Tracks     int // tracks alive after the last frame
	Resets     int
}

// Processor owns a detector and runs videos through it one at a time.
type Processor struct {
	detector  detection.Detector
	reencoder Reencoder
	opts      Options

	openSource func(path string) (Source, error)
	createSink func(path, fourcc string, info video.Info) (Sink, error)
}

// New returns a Processor. A nil reencoder skips the web re-encode and
// serves the annotated file directly.
func New(det detection.Detector, reencoder Reencoder, opts Options) *Processor {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Prefetch <= 0 {
		opts.Prefetch = video.DefaultPrefetch
	}
	if opts.FourCC == "" {
		opts.FourCC = video.DefaultFourCC
	}
	return &Processor{
		detector:  det,
		reencoder: reencoder,
		opts:      opts,
		openSource: func(path string) (Source, error) {
			return video.OpenFile(path)
		},
		createSink: func(path, fourcc string, info video.Info) (Sink, error) {
			return video.CreateFile(path, fourcc, info)
		},
	}
}

// Annotate decodes every frame of src, detects in batches, tracks and
// draws trails in frame order, and writes each frame to sink. Frames
// without detections are written unchanged. tracks may be nil.
func (p *Processor) Annotate(ctx context.Context, src video.Reader, sink Sink, tracks *tracking.Exporter) (Stats, error) {
	log := logger.For("PIPELINE")

	start := time.Now()
	frames, err := video.Collect(ctx, src, p.opts.Prefetch)
	if err != nil {
		return Stats{}, errors.Wrap(err, "decode")
	}
	defer video.Release(frames)
	log.Infow("decoded",
		logger.FieldFrames, len(frames),
		logger.FieldDurationMS, logger.Since(start))

	start = time.Now()
	dets, err := p.detect(ctx, frames)
	if err != nil {
		return Stats{}, err
	}
	log.Infow("detected",
		logger.FieldFrames, len(frames),
		logger.FieldBatchSize, p.opts.BatchSize,
		logger.FieldDurationMS, logger.Since(start))

	start = time.Now()
	stats := Stats{Frames: len(frames)}
	manager := tracking.NewManager(p.opts.Tracking)
	for i := range frames {
		stats.Detections += len(dets[i])

		renders := manager.Update(dets[i])
		canvas := video.MatCanvas{Mat: &frames[i]}
		for _, r := range renders {
			r.Track.Trail.Render(canvas, r.Pos)
		}

		if tracks != nil {
			if err := tracks.WriteFrame(i, renders); err != nil {
				return stats, err
			}
		}
		if err := sink.Write(frames[i]); err != nil {
			return stats, errors.Wrap(err, "encode")
		}
	}
	if tracks != nil {
		if err := tracks.Flush(); err != nil {
			return stats, errors.Wrap(err, "flush track export")
		}
	}

	stats.Tracks = manager.Len()
	stats.Resets = manager.Resets()
	log.Infow("rendered",
		logger.FieldFrames, stats.Frames,
		logger.FieldTracks, stats.Tracks,
		"detections", stats.Detections,
		"resets", stats.Resets,
		logger.FieldDurationMS, logger.Since(start))
	return stats, nil
}

// detect runs the detector over consecutive batches.
func (p *Processor) detect(ctx context.Context, frames []gocv.Mat) ([][]detection.OBB, error) {
	if r, ok := p.detector.(resettable); ok {
		r.Reset()
	}

	all := make([][]detection.OBB, 0, len(frames))
	for lo := 0; lo < len(frames); lo += p.opts.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hi := min(lo+p.opts.BatchSize, len(frames))

		batch, err := p.detector.DetectBatch(frames[lo:hi])
		if err != nil {
			return nil, errors.Wrapf(err, "detect frames %d-%d", lo, hi-1)
		}
		if len(batch) != hi-lo {
			return nil, errors.Newf("detector returned %d results for %d frames", len(batch), hi-lo)
		}
		all = append(all, batch...)
	}
	return all, nil
}

// Result is the outcome of Run. The caller must call Cleanup once Path
// has been consumed.
type Result struct {
	Path      string
	Stats     Stats
	Reencoded bool
}

// Cleanup removes the output file. Errors are ignored.
func (r *Result) Cleanup() {
	if r == nil || r.Path == "" {
		return
	}
	_ = os.Remove(r.Path)
}

// Run processes the video at input and returns the path of a temporary
// file holding the result: the re-encoded file, or the annotated one when
// re-encoding is disabled or fails. tracks may be nil.
func (p *Processor) Run(ctx context.Context, input string, tracks io.Writer) (*Result, error) {
	log := logger.For("PIPELINE")

	src, err := p.openSource(input)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	base := filepath.Join(p.tempDir(), "bladetrail-"+uuid.NewString())
	annotated := base + "-annotated.mp4"
	web := base + "-web.mp4"

	sink, err := p.createSink(annotated, p.opts.FourCC, src.Info())
	if err != nil {
		return nil, err
	}

	var exporter *tracking.Exporter
	if tracks != nil {
		exporter = tracking.NewExporter(tracks)
	}

	stats, err := p.Annotate(ctx, src, sink, exporter)
	if cerr := sink.Close(); err == nil && cerr != nil {
		err = errors.Wrap(cerr, "finalize annotated video")
	}
	if err != nil {
		_ = os.Remove(annotated)
		return nil, err
	}

	result := &Result{Path: annotated, Stats: stats}
	if p.reencoder == nil {
		return result, nil
	}

	start := time.Now()
	if err := p.reencoder.Reencode(ctx, annotated, web); err != nil {
		log.Warnw("re-encode failed, serving annotated video",
			logger.FieldError, err.Error(),
			logger.FieldPath, annotated)
		_ = os.Remove(web)
		return result, nil
	}
	log.Infow("re-encoded", logger.FieldPath, web, logger.FieldDurationMS, logger.Since(start))

	_ = os.Remove(annotated)
	result.Path = web
	result.Reencoded = true
	return result, nil
}

// ProcessFile runs input and moves the result to output.
func (p *Processor) ProcessFile(ctx context.Context, input, output string, tracks io.Writer) (*Result, error) {
	result, err := p.Run(ctx, input, tracks)
	if err != nil {
		return nil, err
	}
	if err := moveFile(result.Path, output); err != nil {
		result.Cleanup()
		return nil, err
	}
	result.Path = output
	return result, nil
}

func (p *Processor) tempDir() string {
	if p.opts.TempDir != "" {
		return p.opts.TempDir
	}
	return os.TempDir()
}

// moveFile renames src to dst, copying when they are on different
// filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return errors.Wrapf(err, "open %s", src)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return errors.Wrapf(err, "create %s", dst)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return errors.Wrapf(err, "copy to %s", dst)
	}
	if err := out.Close(); err != nil {
		return errors.Wrapf(err, "close %s", dst)
	}
	_ = os.Remove(src)
	return nil
}
