package video

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseFrameRate(t *testing.T) {
	assert.InDelta(t, 30.0, parseFrameRate("30/1"), 1e-9)
	assert.InDelta(t, 29.97, parseFrameRate("30000/1001"), 1e-2)
	assert.InDelta(t, 25.0, parseFrameRate("25"), 1e-9)
	assert.Zero(t, parseFrameRate("30/0"))
	assert.Zero(t, parseFrameRate("garbage"))
	assert.Zero(t, parseFrameRate(""))
}

// The encoder ingests frames at the processing stride but outputs at the
// source rate so the overlay keeps its wall-clock duration.
func TestEncoderArgsPreserveDuration(t *testing.T) {
	args := encoderArgs("/tmp/out.mp4", 10, 30)

	find := func(flag string) string {
		for i, a := range args {
			if a == flag && i+1 < len(args) {
				return args[i+1]
			}
		}
		return ""
	}

	assert.Equal(t, "10", find("-framerate"))
	assert.Equal(t, "30", find("-r"))
	assert.Equal(t, "image2pipe", find("-f"))
	assert.Equal(t, "libx264", find("-c:v"))
	assert.Equal(t, "/tmp/out.mp4", args[len(args)-1])
}

func TestEncoderArgsFractionalRate(t *testing.T) {
	args := encoderArgs("/tmp/out.mp4", 12.5, 29.97)
	assert.Contains(t, args, "12.5")
	assert.Contains(t, args, "29.97")
}
