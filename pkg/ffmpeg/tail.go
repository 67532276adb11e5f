package ffmpeg

import "strings"

// tail keeps the last n lines written to it. Not safe for concurrent
// use; scanProgress is its only writer and the caller reads it after the
// scan returns.
type tail struct {
	lines []string
	n     int
}

func newTail(n int) *tail {
	if n < 1 {
		n = 1
	}
	return &tail{lines: make([]string, 0, n), n: n}
}

func (t *tail) add(line string) {
	if len(t.lines) == t.n {
		copy(t.lines, t.lines[1:])
		t.lines = t.lines[:t.n-1]
	}
	t.lines = append(t.lines, line)
}

// String joins the kept lines, oldest first.
func (t *tail) String() string {
	return strings.Join(t.lines, "\n")
}
