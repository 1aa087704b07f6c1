package video

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/your-org/stablewatch/internal/models"
)

// Meta describes a chunk file as reported by ffprobe.
type Meta struct {
	FPS        float64
	FrameCount int
	Width      int
	Height     int
	DurationS  float64
}

type probeStream struct {
	CodecType  string `json:"codec_type"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	RFrameRate string `json:"r_frame_rate"`
	NbFrames   string `json:"nb_frames"`
}

type probeFormat struct {
	Duration string `json:"duration"`
}

type probeOutput struct {
	Streams []probeStream `json:"streams"`
	Format  probeFormat   `json:"format"`
}

// Probe runs ffprobe against a chunk file and extracts the video stream
// metadata the pipeline needs.
func Probe(ctx context.Context, path string) (Meta, error) {
	if _, err := os.Stat(path); err != nil {
		return Meta{}, fmt.Errorf("%w: %s", models.ErrInputNotFound, path)
	}

	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)

	out, err := cmd.Output()
	if err != nil {
		return Meta{}, fmt.Errorf("%w: ffprobe %s: %v", models.ErrDecode, path, err)
	}

	var probed probeOutput
	if err := json.Unmarshal(out, &probed); err != nil {
		return Meta{}, fmt.Errorf("%w: parse ffprobe output: %v", models.ErrDecode, err)
	}

	var vs *probeStream
	for i := range probed.Streams {
		if probed.Streams[i].CodecType == "video" {
			vs = &probed.Streams[i]
			break
		}
	}
	if vs == nil {
		return Meta{}, fmt.Errorf("%w: no video stream in %s", models.ErrDecode, path)
	}

	meta := Meta{
		Width:  vs.Width,
		Height: vs.Height,
		FPS:    parseFrameRate(vs.RFrameRate),
	}
	if meta.FPS <= 0 {
		meta.FPS = 30
	}

	if probed.Format.Duration != "" {
		if d, err := strconv.ParseFloat(probed.Format.Duration, 64); err == nil {
			meta.DurationS = d
		}
	}

	if vs.NbFrames != "" {
		if n, err := strconv.Atoi(vs.NbFrames); err == nil {
			meta.FrameCount = n
		}
	}
	if meta.FrameCount == 0 && meta.DurationS > 0 {
		meta.FrameCount = int(math.Round(meta.DurationS * meta.FPS))
	}

	return meta, nil
}

// parseFrameRate converts ffprobe's "num/den" rate to a float.
func parseFrameRate(rate string) float64 {
	parts := strings.SplitN(rate, "/", 2)
	if len(parts) != 2 {
		if f, err := strconv.ParseFloat(rate, 64); err == nil {
			return f
		}
		return 0
	}
	num, err1 := strconv.ParseFloat(parts[0], 64)
	den, err2 := strconv.ParseFloat(parts[1], 64)
	if err1 != nil || err2 != nil || den == 0 {
		return 0
	}
	return num / den
}
