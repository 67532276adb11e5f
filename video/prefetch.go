package video

import (
	"context"

	"bladetrail/logger"

	"golang.org/x/sync/errgroup"
	"gocv.io/x/gocv"
)

// DefaultPrefetch is the decode buffer size in frames.
const DefaultPrefetch = 50

// prefetch decodes frames from r on its own goroutine into a channel of
// the given capacity. The producer blocks while the channel is full. The
// channel is closed at end of stream or on cancellation; wait then
// returns the producer's error.
func prefetch(ctx context.Context, r Reader, capacity int) (frames <-chan gocv.Mat, wait func() error) {
	g, gctx := errgroup.WithContext(ctx)
	out := make(chan gocv.Mat, bufferSize(capacity))

	g.Go(func() error {
		defer close(out)
		return produce(gctx, r, out)
	})
	return out, g.Wait
}

// Collect drains r through a bounded decode buffer and returns every
// frame in decode order. The single consumer keeps the order of the
// producer. The caller owns the returned Mats.
func Collect(ctx context.Context, r Reader, capacity int) ([]gocv.Mat, error) {
	frames, wait := prefetch(ctx, r, capacity)

	var collected []gocv.Mat
	for mat := range frames {
		collected = append(collected, mat)
	}

	if err := wait(); err != nil {
		Release(collected)
		return nil, err
	}
	if len(collected) == 0 {
		return nil, ErrEmpty
	}

	logger.For("DECODE").Debugw("frames collected", logger.FieldFrames, len(collected))
	return collected, nil
}

// produce reads until end of stream or cancellation.
func produce(ctx context.Context, r Reader, out chan<- gocv.Mat) error {
	for {
		mat := gocv.NewMat()
		if !r.Read(&mat) {
			mat.Close()
			return nil
		}
		select {
		case out <- mat:
		case <-ctx.Done():
			mat.Close()
			return ctx.Err()
		}
	}
}

func bufferSize(capacity int) int {
	if capacity <= 0 {
		return DefaultPrefetch
	}
	return capacity
}

// Release closes every Mat in frames.
func Release(frames []gocv.Mat) {
	for i := range frames {
		frames[i].Close()
	}
}
