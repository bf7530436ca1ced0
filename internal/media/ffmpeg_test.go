package media

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"timecapsule/backend/internal/config"
)

func TestNewFFmpeg_Defaults(t *testing.T) {
	f := NewFFmpeg(config.MediaConfig{}, zap.NewNop())
	assert.Equal(t, "ffmpeg", f.ffmpegPath)
	assert.Equal(t, "ffprobe", f.ffprobePath)

	f = NewFFmpeg(config.MediaConfig{FFmpegPath: "/opt/ffmpeg", FFprobePath: "/opt/ffprobe"}, zap.NewNop())
	assert.Equal(t, "/opt/ffmpeg", f.ffmpegPath)
	assert.Equal(t, "/opt/ffprobe", f.ffprobePath)
}

func TestFFmpeg_ScaleFilter(t *testing.T) {
	f := NewFFmpeg(config.MediaConfig{VideoMaxWidth: 1280, VideoMaxHeight: 720}, zap.NewNop())

	filter := f.scaleFilter()
	assert.Contains(t, filter, `min(iw\,1280)`)
	assert.Contains(t, filter, `min(ih\,720)`)
	assert.Contains(t, filter, "force_original_aspect_ratio=decrease")
	assert.Contains(t, filter, "force_divisible_by=2")
}

func TestParseProbe(t *testing.T) {
	t.Run("valid output", func(t *testing.T) {
		out := []byte(`{
			"streams": [{"width": 1280, "height": 720}],
			"format": {"duration": "12.345000"}
		}`)

		probe, err := parseProbe(out)
		require.NoError(t, err)
		assert.Equal(t, 1280, probe.Width)
		assert.Equal(t, 720, probe.Height)
		assert.Equal(t, 12345*time.Millisecond, probe.Duration)
	})

	t.Run("no video stream", func(t *testing.T) {
		_, err := parseProbe([]byte(`{"streams": [], "format": {"duration": "1.0"}}`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no video stream")
	})

	t.Run("invalid dimensions", func(t *testing.T) {
		_, err := parseProbe([]byte(`{"streams": [{"width": 0, "height": 720}], "format": {"duration": "1.0"}}`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid dimensions")
	})

	t.Run("missing duration", func(t *testing.T) {
		_, err := parseProbe([]byte(`{"streams": [{"width": 640, "height": 360}], "format": {}}`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid duration")
	})

	t.Run("garbage payload", func(t *testing.T) {
		_, err := parseProbe([]byte("not json at all"))
		assert.Error(t, err)
	})
}

func TestTail(t *testing.T) {
	assert.Equal(t, "short", tail("short", 512))
	assert.Equal(t, "line one | line two", tail("line one\nline two\n", 512))

	long := strings.Repeat("x", 600)
	assert.Len(t, tail(long, 512), 512)
}
