package ffmpeg

import (
	"context"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebArgs(t *testing.T) {
	args := WebArgs("in.mp4", "out.mp4")
	joined := strings.Join(args, " ")

	assert.Equal(t, "in.mp4", args[1])
	assert.Equal(t, "out.mp4", args[len(args)-1])
	for _, want := range []string{
		"-c:v libx264", "-profile:v baseline", "-level 3.0", "-pix_fmt yuv420p",
		"-crf 23", "-preset fast", "-movflags +faststart", "-y",
	} {
		assert.Contains(t, joined, want)
	}
}

func TestReencodeMissingBinary(t *testing.T) {
	r := NewReencoder(filepath.Join(t.TempDir(), "no-such-ffmpeg"))
	err := r.Reencode(context.Background(), "in.mp4", "out.mp4")
	require.Error(t, err)
	assert.NotEmpty(t, errors.GetAllHints(err))
}

// shell stands in for ffmpeg so the tests do not need the real binary.
func shell(script string) func(ctx context.Context, name string, args ...string) *exec.Cmd {
	return func(ctx context.Context, name string, args ...string) *exec.Cmd {
		return exec.CommandContext(ctx, "sh", "-c", script)
	}
}

func TestReencodeFailureKeepsStderrTail(t *testing.T) {
	r := NewReencoder("ffmpeg")
	r.command = shell(`printf 'frame=   10 fps=0\rUnknown encoder libx264\n' 1>&2; exit 1`)

	err := r.Reencode(context.Background(), "in.mp4", "out.mp4")
	require.Error(t, err)
	assert.Contains(t, strings.Join(errors.GetAllDetails(err), "\n"), "Unknown encoder libx264")
}

func TestReencodeSuccess(t *testing.T) {
	r := NewReencoder("ffmpeg")
	r.command = shell(`printf 'frame=    5\rframe=   10\n' 1>&2; exit 0`)

	require.NoError(t, r.Reencode(context.Background(), "in.mp4", "out.mp4"))
}

func TestScanProgress(t *testing.T) {
	kept := newTail(2)
	last := scanProgress(strings.NewReader("frame=  1\rframe= 12\r\nframe=  7\ndone\n"), kept)

	assert.Equal(t, 12, last)
	assert.Equal(t, []string{"frame=  7", "done"}, kept.lines)
}

func TestTailKeepsNewest(t *testing.T) {
	kept := newTail(3)
	assert.Empty(t, kept.String())

	for _, l := range []string{"a", "b", "c", "d"} {
		kept.add(l)
	}
	assert.Equal(t, "b\nc\nd", kept.String())
}
