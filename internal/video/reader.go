package video

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os/exec"

	"github.com/your-org/stablewatch/internal/models"
)

// Reader decodes a chunk file into an ordered stream of frames. Frames
// are delivered as interleaved JPEG images on ffmpeg's stdout and split
// on the JPEG start/end markers.
type Reader struct {
	meta   Meta
	cmd    *exec.Cmd
	stdout *bufio.Reader
	pipe   io.ReadCloser
	cancel context.CancelFunc
	next   int
	done   bool
}

// Open probes the chunk and starts a sequential decode from frame 0.
func Open(ctx context.Context, path string) (*Reader, error) {
	meta, err := Probe(ctx, path)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-hide_banner",
		"-loglevel", "error",
		"-i", path,
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "2",
		"pipe:1",
	)

	pipe, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	return &Reader{
		meta:   meta,
		cmd:    cmd,
		stdout: bufio.NewReaderSize(pipe, 512*1024),
		pipe:   pipe,
		cancel: cancel,
	}, nil
}

func (r *Reader) Meta() Meta { return r.meta }

// Next returns the next frame in order. It returns io.EOF once the
// stream is exhausted and a wrapped ErrDecode if the decode breaks
// mid-stream.
func (r *Reader) Next() (int, image.Image, error) {
	if r.done {
		return 0, nil, io.EOF
	}

	if err := findJPEGStart(r.stdout); err != nil {
		r.done = true
		if err == io.EOF {
			return 0, nil, io.EOF
		}
		return 0, nil, fmt.Errorf("%w: frame %d: %v", models.ErrDecode, r.next, err)
	}

	data, err := readUntilJPEGEnd(r.stdout)
	if err != nil {
		r.done = true
		if err == io.EOF {
			return 0, nil, io.EOF
		}
		return 0, nil, fmt.Errorf("%w: frame %d: %v", models.ErrDecode, r.next, err)
	}

	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		r.done = true
		return 0, nil, fmt.Errorf("%w: frame %d: %v", models.ErrDecode, r.next, err)
	}

	idx := r.next
	r.next++
	return idx, img, nil
}

// Close stops the decoder. Safe to call after EOF.
func (r *Reader) Close() error {
	r.done = true
	r.cancel()
	_ = r.pipe.Close()
	_ = r.cmd.Wait()
	return nil
}

// ReadAt extracts a single frame by index with a fast pre-input seek.
// Used by the reprocessor for sparse feature re-extraction.
func ReadAt(ctx context.Context, path string, frameIndex int, fps float64) (image.Image, error) {
	if fps <= 0 {
		fps = 30
	}
	ts := float64(frameIndex) / fps

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-hide_banner",
		"-loglevel", "error",
		"-ss", fmt.Sprintf("%.6f", ts),
		"-i", path,
		"-vframes", "1",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "2",
		"pipe:1",
	)

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%w: seek frame %d: %v", models.ErrDecode, frameIndex, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: seek frame %d: empty output", models.ErrDecode, frameIndex)
	}

	img, err := jpeg.Decode(bytes.NewReader(out))
	if err != nil {
		return nil, fmt.Errorf("%w: seek frame %d: %v", models.ErrDecode, frameIndex, err)
	}
	return img, nil
}

// findJPEGStart consumes input until the FF D8 start marker.
func findJPEGStart(r *bufio.Reader) error {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		if b != 0xFF {
			continue
		}
		b, err = r.ReadByte()
		if err != nil {
			return err
		}
		if b == 0xD8 {
			return nil
		}
	}
}

// readUntilJPEGEnd collects bytes through the FF D9 end marker.
func readUntilJPEGEnd(r *bufio.Reader) ([]byte, error) {
	data := []byte{0xFF, 0xD8}

	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		data = append(data, b)

		if b == 0xFF {
			next, err := r.ReadByte()
			if err != nil {
				return nil, err
			}
			data = append(data, next)
			if next == 0xD9 {
				return data, nil
			}
		}

		// Safety: max 10MB per frame
		if len(data) > 10*1024*1024 {
			return nil, fmt.Errorf("jpeg frame too large: %d bytes", len(data))
		}
	}
}
