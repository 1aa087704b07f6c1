package vision

import (
	"context"
	"fmt"
	"image"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/stablewatch/internal/models"
)

// Pose model geometry: 256x256 input crop, 64x64 heatmap per keypoint.
const (
	poseInputSide  = 256
	poseHeatmapSide = 64
)

// localPose runs the 17-point keypoint ONNX export on a square crop
// around a detection and maps peaks back to source-frame coordinates.
type localPose struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

func newLocalPose(modelPath string) (*localPose, error) {
	inputShape := ort.NewShape(1, 3, poseInputSide, poseInputSide)
	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	outputShape := ort.NewShape(1, models.NumKeypoints, poseHeatmapSide, poseHeatmapSide)
	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input"},
		[]string{"heatmaps"},
		[]ort.Value{inputTensor},
		[]ort.Value{outputTensor},
		nil,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("create pose session: %w", err)
	}

	return &localPose{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

// Estimate crops a padded square around the box, runs the model, and
// decodes the per-keypoint heatmap peak into frame coordinates.
func (p *localPose) Estimate(ctx context.Context, img image.Image, box models.BoundingBox) (models.Keypoints, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	crop, sq := CropSquare(img, box)
	if crop == nil {
		return nil, nil
	}

	input := imageToFloat32CHW(crop, poseInputSide, poseInputSide,
		[3]float32{0, 0, 0}, [3]float32{255, 255, 255})

	p.mu.Lock()
	copy(p.inputTensor.GetData(), input)
	if err := p.session.Run(); err != nil {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: run pose: %v", models.ErrInference, err)
	}
	heat := make([]float32, models.NumKeypoints*poseHeatmapSide*poseHeatmapSide)
	copy(heat, p.outputTensor.GetData())
	p.mu.Unlock()

	const cells = poseHeatmapSide * poseHeatmapSide
	kps := make(models.Keypoints, models.NumKeypoints)
	for k := 0; k < models.NumKeypoints; k++ {
		best := float32(-1)
		bestIdx := 0
		for i := 0; i < cells; i++ {
			if v := heat[k*cells+i]; v > best {
				best = v
				bestIdx = i
			}
		}
		hx := bestIdx % poseHeatmapSide
		hy := bestIdx / poseHeatmapSide

		kps[k] = models.Keypoint{
			X:    sq.X + (float32(hx)+0.5)/poseHeatmapSide*sq.W,
			Y:    sq.Y + (float32(hy)+0.5)/poseHeatmapSide*sq.H,
			Conf: clampF(best, 0, 1),
		}
	}

	return kps, nil
}

func (p *localPose) Close() {
	if p.session != nil {
		p.session.Destroy()
	}
	if p.inputTensor != nil {
		p.inputTensor.Destroy()
	}
	if p.outputTensor != nil {
		p.outputTensor.Destroy()
	}
}
