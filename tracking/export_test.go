package tracking

import (
	"bytes"
	"image"
	"strings"
	"testing"

	"bladetrail/overlay"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestExporter(t *testing.T) {
	var buf bytes.Buffer
	e := NewExporter(&buf)

	trail := overlay.NewTrail(0)
	trail.Append(image.Pt(1, 1))
	trail.Append(image.Pt(2, 2))
	tr := &Track{ID: 7, Trail: trail}

	require.NoError(t, e.WriteFrame(0, nil))
	require.NoError(t, e.WriteFrame(1, []Render{{Track: tr, Pos: image.Pt(120, 88)}}))
	require.NoError(t, e.Flush())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	assert.JSONEq(t, `{"frame":0,"tracks":[]}`, lines[0])

	second := gjson.Parse(lines[1])
	assert.Equal(t, int64(1), second.Get("frame").Int())
	assert.Equal(t, int64(7), second.Get("tracks.0.id").Int())
	assert.Equal(t, int64(120), second.Get("tracks.0.x").Int())
	assert.Equal(t, int64(88), second.Get("tracks.0.y").Int())
	assert.Equal(t, int64(2), second.Get("tracks.0.trail").Int())
}
