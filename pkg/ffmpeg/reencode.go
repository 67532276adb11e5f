// Package ffmpeg shells out to the ffmpeg binary to make annotated videos
// playable in browsers.
package ffmpeg

import (
	"bufio"
	"context"
	"io"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"bladetrail/logger"

	"github.com/cockroachdb/errors"
)

var frameRegex = regexp.MustCompile(`frame=\s*(\d+)`)

// WebArgs returns the arguments for an H.264 baseline, level 3.0, yuv420p
// encode with the moov atom up front so playback can start while
// streaming.
func WebArgs(input, output string) []string {
	return []string{
		"-i", input,
		"-c:v", "libx264",
		"-profile:v", "baseline",
		"-level", "3.0",
		"-pix_fmt", "yuv420p",
		"-crf", "23",
		"-preset", "fast",
		"-movflags", "+faststart",
		"-y",
		output,
	}
}

// Reencoder runs ffmpeg with WebArgs.
type Reencoder struct {
	Binary string

	// stderr lines kept for the error report
	tailLines int
	command   func(ctx context.Context, name string, args ...string) *exec.Cmd
}

// NewReencoder returns a Reencoder for the given binary; "" means
// "ffmpeg" from PATH.
func NewReencoder(binary string) *Reencoder {
	if binary == "" {
		binary = "ffmpeg"
	}
	return &Reencoder{
		Binary:    binary,
		tailLines: 20,
		command:   exec.CommandContext,
	}
}

// Reencode converts input into a web-compatible output. A missing binary
// or a non-zero exit is returned as an error carrying the tail of
// ffmpeg's stderr; callers are expected to fall back to input.
func (r *Reencoder) Reencode(ctx context.Context, input, output string) error {
	log := logger.For("FFMPEG")
	start := time.Now()

	cmd := r.command(ctx, r.Binary, WebArgs(input, output)...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return errors.Wrap(err, "ffmpeg stderr pipe")
	}
	if err := cmd.Start(); err != nil {
		return errors.WithHint(errors.Wrapf(err, "start %s", r.Binary),
			"install ffmpeg or set ffmpeg.binary")
	}

	stderrTail := newTail(r.tailLines)
	lastFrame := scanProgress(stderr, stderrTail)

	if err := cmd.Wait(); err != nil {
		return errors.WithDetail(errors.Wrapf(err, "%s exited", r.Binary),
			stderrTail.String())
	}

	log.Debugw("re-encoded for web",
		logger.FieldPath, output,
		logger.FieldFrames, lastFrame,
		logger.FieldDurationMS, logger.Since(start))
	return nil
}

// scanProgress copies output lines into t and returns the last frame
// counter ffmpeg reported.
func scanProgress(pipe io.Reader, t *tail) int {
	scanner := bufio.NewScanner(pipe)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	// progress lines are terminated by \r, not \n
	scanner.Split(scanLinesCR)

	lastFrame := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		t.add(line)
		if m := frameRegex.FindStringSubmatch(line); len(m) > 1 {
			if n, err := strconv.Atoi(m[1]); err == nil && n > lastFrame {
				lastFrame = n
			}
		}
	}
	return lastFrame
}

func scanLinesCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	for i, b := range data {
		if b == '\n' || b == '\r' {
			return i + 1, data[:i], nil
		}
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
