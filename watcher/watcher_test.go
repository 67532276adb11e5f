package watcher

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"bladetrail/pipeline"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type copyProcessor struct {
	mu     sync.Mutex
	inputs []string
}

func (p *copyProcessor) ProcessFile(ctx context.Context, input, output string, _ io.Writer) (*pipeline.Result, error) {
	p.mu.Lock()
	p.inputs = append(p.inputs, input)
	p.mu.Unlock()

	body, err := os.ReadFile(input)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(output, body, 0o644); err != nil {
		return nil, err
	}
	return &pipeline.Result{Path: output}, nil
}

func TestIsVideo(t *testing.T) {
	for path, want := range map[string]bool{
		"a.mp4":      true,
		"b.AVI":      true,
		"c.mov":      true,
		"d.mkv":      true,
		"e.txt":      false,
		"f.mp4.part": false,
		"noext":      false,
	} {
		assert.Equal(t, want, IsVideo(path), path)
	}
}

func TestOutputPath(t *testing.T) {
	assert.Equal(t, filepath.Join("out", "clip_tracked.mp4"), OutputPath("out", "/in/clip.avi"))
	assert.Equal(t, filepath.Join("out", "a.b_tracked.mp4"), OutputPath("out", "a.b.mkv"))
}

func TestInboxWatcherProcessesNewVideos(t *testing.T) {
	inbox, outbox := t.TempDir(), t.TempDir()
	proc := &copyProcessor{}

	w, err := New(inbox, outbox, proc)
	require.NoError(t, err)
	w.debouncePeriod = 20 * time.Millisecond

	done := make(chan string, 4)
	w.OnProcessed(func(input, output string, err error) {
		assert.NoError(t, err)
		done <- output
	})

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- w.Run(ctx) }()

	require.NoError(t, os.WriteFile(filepath.Join(inbox, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(inbox, "spin.mp4"), []byte("frames"), 0o644))

	select {
	case output := <-done:
		assert.Equal(t, filepath.Join(outbox, "spin_tracked.mp4"), output)
		body, err := os.ReadFile(output)
		require.NoError(t, err)
		assert.Equal(t, "frames", string(body))
	case <-time.After(5 * time.Second):
		t.Fatal("video was not processed")
	}

	cancel()
	require.NoError(t, <-runErr)

	proc.mu.Lock()
	defer proc.mu.Unlock()
	assert.Equal(t, []string{filepath.Join(inbox, "spin.mp4")}, proc.inputs)
}

func TestNewMissingInbox(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "missing"), t.TempDir(), &copyProcessor{})
	assert.Error(t, err)
}
