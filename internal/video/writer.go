package video

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os/exec"
	"strconv"
)

// Writer encodes rendered frames into an H.264 MP4. Frames arrive at the
// processing stride, so the encoder input rate is fps/stride while the
// output rate is the source fps; the decoder re-times by duplication and
// the chunk keeps its wall-clock duration.
type Writer struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr bytes.Buffer
	path   string
	frames int
	closed bool
}

// encoderArgs builds the ffmpeg invocation for the overlay encoder.
func encoderArgs(path string, inputFPS, outputFPS float64) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-framerate", strconv.FormatFloat(inputFPS, 'f', -1, 64),
		"-i", "pipe:0",
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-crf", "23",
		"-r", strconv.FormatFloat(outputFPS, 'f', -1, 64),
		"-movflags", "+faststart",
		path,
	}
}

// NewWriter starts an encoder writing to path. Callers pass a temporary
// path and rename after Close so a failed encode never clobbers prior
// output.
func NewWriter(ctx context.Context, path string, inputFPS, outputFPS float64) (*Writer, error) {
	if inputFPS <= 0 || outputFPS <= 0 {
		return nil, fmt.Errorf("invalid encoder rates: in=%f out=%f", inputFPS, outputFPS)
	}

	w := &Writer{path: path}
	w.cmd = exec.CommandContext(ctx, "ffmpeg", encoderArgs(path, inputFPS, outputFPS)...)
	w.cmd.Stderr = &w.stderr

	stdin, err := w.cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdin pipe: %w", err)
	}
	w.stdin = stdin

	if err := w.cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg encoder: %w", err)
	}
	return w, nil
}

// WriteJPEG appends one pre-encoded JPEG frame.
func (w *Writer) WriteJPEG(data []byte) error {
	if w.closed {
		return fmt.Errorf("encoder already closed")
	}
	if _, err := w.stdin.Write(data); err != nil {
		return fmt.Errorf("write frame %d: %w (%s)", w.frames, err, w.stderrTail())
	}
	w.frames++
	return nil
}

// WriteImage JPEG-encodes and appends one frame.
func (w *Writer) WriteImage(img image.Image) error {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return fmt.Errorf("encode frame %d: %w", w.frames, err)
	}
	return w.WriteJPEG(buf.Bytes())
}

// Frames returns the number of frames written so far.
func (w *Writer) Frames() int { return w.frames }

// Close flushes stdin and waits for the encoder to finish.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.stdin.Close(); err != nil {
		return fmt.Errorf("close encoder stdin: %w", err)
	}
	if err := w.cmd.Wait(); err != nil {
		return fmt.Errorf("encoder failed: %w (%s)", err, w.stderrTail())
	}
	return nil
}

// Abort kills the encoder without finalizing output.
func (w *Writer) Abort() {
	if w.closed {
		return
	}
	w.closed = true
	_ = w.stdin.Close()
	if w.cmd.Process != nil {
		_ = w.cmd.Process.Kill()
	}
	_ = w.cmd.Wait()
}

func (w *Writer) stderrTail() string {
	s := w.stderr.String()
	if len(s) > 300 {
		s = s[len(s)-300:]
	}
	return s
}
