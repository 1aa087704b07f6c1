package vision

import (
	"context"
	"fmt"
	"image"
	"sort"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/stablewatch/internal/models"
)

// yoloAnchors is the anchor count of the 640x640 single-class export
// (80x80 + 40x40 + 20x20 grids).
const yoloAnchors = 8400

// localDetector runs the horse detector ONNX export. Output layout is
// [1, 5, 8400]: cx, cy, w, h, score per anchor column.
type localDetector struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	inputW       int
	inputH       int
}

func newLocalDetector(modelPath string) (*localDetector, error) {
	inputW, inputH := 640, 640

	inputShape := ort.NewShape(1, 3, int64(inputH), int64(inputW))
	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	outputShape := ort.NewShape(1, 5, int64(yoloAnchors))
	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"images"},
		[]string{"output0"},
		[]ort.Value{inputTensor},
		[]ort.Value{outputTensor},
		nil,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("create detector session: %w", err)
	}

	return &localDetector{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		inputW:       inputW,
		inputH:       inputH,
	}, nil
}

func (d *localDetector) Detect(ctx context.Context, img image.Image, threshold float32) ([]models.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	origW := bounds.Dx()
	origH := bounds.Dy()

	input := imageToFloat32CHW(img, d.inputW, d.inputH, [3]float32{0, 0, 0}, [3]float32{255, 255, 255})

	// The session reuses bound tensors; Run calls must not overlap.
	d.mu.Lock()
	copy(d.inputTensor.GetData(), input)
	if err := d.session.Run(); err != nil {
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: run detection: %v", models.ErrInference, err)
	}
	out := make([]float32, 5*yoloAnchors)
	copy(out, d.outputTensor.GetData())
	d.mu.Unlock()

	scaleW := float32(origW) / float32(d.inputW)
	scaleH := float32(origH) / float32(d.inputH)

	var detections []models.Detection
	for i := 0; i < yoloAnchors; i++ {
		score := out[4*yoloAnchors+i]
		if score < threshold {
			continue
		}

		cx := out[0*yoloAnchors+i]
		cy := out[1*yoloAnchors+i]
		w := out[2*yoloAnchors+i]
		h := out[3*yoloAnchors+i]

		x1 := clampF((cx-w/2)*scaleW, 0, float32(origW))
		y1 := clampF((cy-h/2)*scaleH, 0, float32(origH))
		x2 := clampF((cx+w/2)*scaleW, 0, float32(origW))
		y2 := clampF((cy+h/2)*scaleH, 0, float32(origH))

		box := models.BoxFromXYXY(x1, y1, x2, y2)
		if !box.Valid() {
			continue
		}

		detections = append(detections, models.Detection{
			BBox:       box,
			Confidence: score,
			ClassID:    models.HorseClassID,
		})
	}

	return nmsDetections(detections, 0.4), nil
}

func (d *localDetector) Close() {
	if d.session != nil {
		d.session.Destroy()
	}
	if d.inputTensor != nil {
		d.inputTensor.Destroy()
	}
	if d.outputTensor != nil {
		d.outputTensor.Destroy()
	}
}

// nmsDetections performs Non-Maximum Suppression on detections.
func nmsDetections(detections []models.Detection, iouThreshold float32) []models.Detection {
	if len(detections) == 0 {
		return detections
	}

	sort.Slice(detections, func(i, j int) bool {
		return detections[i].Confidence > detections[j].Confidence
	})

	keep := make([]bool, len(detections))
	for i := range keep {
		keep[i] = true
	}

	for i := 0; i < len(detections); i++ {
		if !keep[i] {
			continue
		}
		for j := i + 1; j < len(detections); j++ {
			if !keep[j] {
				continue
			}
			if detections[i].BBox.IoU(detections[j].BBox) > iouThreshold {
				keep[j] = false
			}
		}
	}

	var result []models.Detection
	for i, d := range detections {
		if keep[i] {
			result = append(result, d)
		}
	}
	return result
}

func clampF(v, min, max float32) float32 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
