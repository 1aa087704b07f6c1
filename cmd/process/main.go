package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/stablewatch/internal/chunk"
	"github.com/your-org/stablewatch/internal/config"
	"github.com/your-org/stablewatch/internal/models"
	"github.com/your-org/stablewatch/internal/observability"
	"github.com/your-org/stablewatch/internal/vision"
)

// Exit codes for scripted callers.
const (
	exitOK          = 0
	exitInvalidArgs = 2
	exitNotFound    = 3
	exitTimeout     = 4
	exitInternal    = 5
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		input         = flag.String("input", "", "path to the raw chunk video (required)")
		chunkID       = flag.String("chunk-id", "", "chunk identifier (required)")
		streamID      = flag.String("stream-id", "", "stream identifier (required)")
		barnID        = flag.String("barn-id", "", "barn identifier (required)")
		outVideo      = flag.String("out-video", "", "overlay video output path (required)")
		outJSON       = flag.String("out-json", "", "chunk record output path (required)")
		startTime     = flag.Float64("start-time", 0, "chunk start offset in the stream, seconds")
		frameInterval = flag.Int("frame-interval", 1, "process every Nth frame")
		timeoutS      = flag.Int("timeout", 300, "job timeout in seconds")
		backend       = flag.String("backend", "mock", "inference backend: mock, local, or remote")
		modelsDir     = flag.String("models-dir", "models", "ONNX model directory for the local backend")
		remoteURL     = flag.String("remote-url", "", "inference service URL for the remote backend")
		detThresh     = flag.Float64("detection-threshold", 0.5, "minimum detection confidence")
		kpThresh      = flag.Float64("keypoint-threshold", 0.3, "minimum keypoint confidence")
		appThresh     = flag.Float64("appearance-threshold", 0.7, "appearance match threshold")
		verbose       = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	level := "info"
	if *verbose {
		level = "debug"
	}
	observability.SetupLogger(level, "text")

	for name, val := range map[string]string{
		"input": *input, "chunk-id": *chunkID, "stream-id": *streamID,
		"barn-id": *barnID, "out-video": *outVideo, "out-json": *outJSON,
	} {
		if strings.TrimSpace(val) == "" {
			fmt.Fprintf(os.Stderr, "missing required flag: -%s\n", name)
			flag.Usage()
			return exitInvalidArgs
		}
	}

	if _, err := os.Stat(*input); err != nil {
		fmt.Fprintf(os.Stderr, "input not found: %s\n", *input)
		return exitNotFound
	}

	if *backend == "local" {
		ort.SetSharedLibraryPath(onnxLibPath())
		if err := ort.InitializeEnvironment(); err != nil {
			fmt.Fprintf(os.Stderr, "init onnx runtime: %v\n", err)
			return exitInternal
		}
		defer ort.DestroyEnvironment()
	}

	caps, err := vision.New(config.InferenceConfig{
		Backend:   *backend,
		ModelsDir: *modelsDir,
		RemoteURL: *remoteURL,
		TimeoutS:  10,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "init inference backend: %v\n", err)
		return exitInternal
	}
	defer caps.Close()

	processor := chunk.NewProcessor(chunk.DefaultConfig(),
		caps.Detector, caps.Pose, caps.Embedder, memRegistry{})

	job := models.ChunkJob{
		ChunkID:         *chunkID,
		StreamID:        *streamID,
		BarnID:          *barnID,
		InputPath:       *input,
		OutputVideoPath: *outVideo,
		OutputJSONPath:  *outJSON,
		StartTime:       *startTime,
		FrameInterval:   *frameInterval,
		Options: models.ProcessOptions{
			DetectionThreshold:  float32(*detThresh),
			KeypointThreshold:   float32(*kpThresh),
			AppearanceThreshold: float32(*appThresh),
			MaxLostFrames:       30,
			ReviveWindowS:       10,
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(*timeoutS)*time.Second)
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	started := time.Now()
	rec, err := processor.Run(ctx, job, func(percent int, step string) {
		slog.Debug("progress", "percent", percent, "step", step)
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "processing failed: %v\n", err)
		switch {
		case errors.Is(err, models.ErrInvalidJob):
			return exitInvalidArgs
		case errors.Is(err, models.ErrInputNotFound):
			return exitNotFound
		case errors.Is(err, models.ErrTimeout):
			return exitTimeout
		default:
			return exitInternal
		}
	}

	slog.Info("chunk processed",
		"chunk_id", rec.ChunkID,
		"frames", len(rec.Frames),
		"horses", rec.Summary.TotalHorses,
		"detections", rec.Summary.TotalDetections,
		"processing_fps", fmt.Sprintf("%.1f", rec.ProcessingFPS),
		"elapsed", time.Since(started).Round(time.Millisecond).String(),
		"record", *outJSON,
		"video", *outVideo,
	)
	return exitOK
}

// memRegistry satisfies the pipeline's registry dependency for a
// standalone run: every chunk starts with an empty barn and the
// snapshot is discarded.
type memRegistry struct{}

func (memRegistry) LoadBarn(context.Context, string, string) (map[string]models.RegistryEntry, error) {
	return nil, nil
}

func (memRegistry) SaveBarn(context.Context, string, map[string]models.RegistryEntry) error {
	return nil
}

// onnxLibPath returns the ONNX Runtime shared library path.
func onnxLibPath() string {
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "libonnxruntime.so"
	}
}
