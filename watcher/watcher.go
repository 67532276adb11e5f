// Package watcher runs the pipeline for every video dropped into an
// inbox directory.
package watcher

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"bladetrail/logger"
	"bladetrail/pipeline"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"
)

// VideoExtensions lists the file types picked up from the inbox.
var VideoExtensions = []string{".mp4", ".avi", ".mov", ".mkv"}

// OutputSuffix is appended to the input's base name in the outbox.
const OutputSuffix = "_tracked.mp4"

// Processor turns one input file into an output file.
type Processor interface {
	ProcessFile(ctx context.Context, input, output string, tracks io.Writer) (*pipeline.Result, error)
}

// ProcessedCallback is called after each file, with the error if any.
type ProcessedCallback func(input, output string, err error)

// InboxWatcher watches one directory and processes new videos one at a
// time.
type InboxWatcher struct {
	inbox  string
	outbox string
	proc   Processor

	watcher        *fsnotify.Watcher
	debouncePeriod time.Duration
	jobs           chan string

	mu          sync.Mutex
	timers      map[string]*time.Timer
	onProcessed ProcessedCallback
}

// New starts watching inbox. Results are written to outbox.
func New(inbox, outbox string, proc Processor) (*InboxWatcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "create fsnotify watcher")
	}
	if err := fw.Add(inbox); err != nil {
		fw.Close()
		return nil, errors.Wrapf(err, "watch inbox %s", inbox)
	}

	return &InboxWatcher{
		inbox:  inbox,
		outbox: outbox,
		proc:   proc,
		// uploads arrive as a burst of writes; wait for them to settle
		debouncePeriod: time.Second,
		watcher:        fw,
		jobs:           make(chan string, 64),
		timers:         make(map[string]*time.Timer),
	}, nil
}

// OnProcessed registers a callback run after each file.
func (w *InboxWatcher) OnProcessed(cb ProcessedCallback) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onProcessed = cb
}

// Run handles events until ctx is cancelled, then closes the watcher.
func (w *InboxWatcher) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		w.work(gctx)
		return nil
	})
	g.Go(func() error {
		defer w.stopTimers()
		return w.watchLoop(gctx)
	})

	err := g.Wait()
	if cerr := w.watcher.Close(); err == nil && cerr != nil {
		err = errors.Wrap(cerr, "close fsnotify watcher")
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (w *InboxWatcher) watchLoop(ctx context.Context) error {
	log := logger.For("WATCHER")
	log.Infow("watching inbox", logger.FieldPath, w.inbox, "outbox", w.outbox)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !IsVideo(event.Name) {
				continue
			}
			w.schedule(ctx, event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			log.Warnw("inbox watcher error", logger.FieldError, err.Error())
		}
	}
}

// schedule queues path once no event has arrived for it for the debounce
// period.
func (w *InboxWatcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.debouncePeriod, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()

		select {
		case w.jobs <- path:
		case <-ctx.Done():
		}
	})
}

func (w *InboxWatcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
}

func (w *InboxWatcher) work(ctx context.Context) {
	log := logger.For("WATCHER")
	for {
		select {
		case <-ctx.Done():
			return
		case input := <-w.jobs:
			output := OutputPath(w.outbox, input)
			start := time.Now()

			result, err := w.proc.ProcessFile(ctx, input, output, nil)
			if err != nil {
				log.Errorw("failed to process video",
					logger.FieldPath, input,
					logger.FieldError, err.Error())
			} else {
				log.Infow("processed video",
					logger.FieldPath, output,
					logger.FieldFrames, result.Stats.Frames,
					logger.FieldDurationMS, logger.Since(start))
			}

			w.mu.Lock()
			cb := w.onProcessed
			w.mu.Unlock()
			if cb != nil {
				cb(input, output, err)
			}
		}
	}
}

// IsVideo reports whether path has one of VideoExtensions.
func IsVideo(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, v := range VideoExtensions {
		if ext == v {
			return true
		}
	}
	return false
}

// OutputPath returns the outbox path for input: clip.avi -> clip_tracked.mp4.
func OutputPath(outbox, input string) string {
	base := filepath.Base(input)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(outbox, name+OutputSuffix)
}
