package models

import "math"

// BoundingBox is an axis-aligned rectangle in source-frame pixels.
type BoundingBox struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	W float32 `json:"w"`
	H float32 `json:"h"`
}

// Valid reports whether the box has positive area.
func (b BoundingBox) Valid() bool {
	return b.W > 0 && b.H > 0
}

// Center returns the box midpoint.
func (b BoundingBox) Center() (float32, float32) {
	return b.X + b.W/2, b.Y + b.H/2
}

func (b BoundingBox) Area() float32 {
	if !b.Valid() {
		return 0
	}
	return b.W * b.H
}

// XYXY returns the box as [x1, y1, x2, y2] corners.
func (b BoundingBox) XYXY() [4]float32 {
	return [4]float32{b.X, b.Y, b.X + b.W, b.Y + b.H}
}

// BoxFromXYXY builds a BoundingBox from corner coordinates.
func BoxFromXYXY(x1, y1, x2, y2 float32) BoundingBox {
	return BoundingBox{X: x1, Y: y1, W: x2 - x1, H: y2 - y1}
}

// IoU computes intersection-over-union between two boxes.
func (b BoundingBox) IoU(o BoundingBox) float32 {
	ax1, ay1, ax2, ay2 := b.X, b.Y, b.X+b.W, b.Y+b.H
	bx1, by1, bx2, by2 := o.X, o.Y, o.X+o.W, o.Y+o.H

	ix1 := maxF(ax1, bx1)
	iy1 := maxF(ay1, by1)
	ix2 := minF(ax2, bx2)
	iy2 := minF(ay2, by2)

	iw := ix2 - ix1
	ih := iy2 - iy1
	if iw <= 0 || ih <= 0 {
		return 0
	}

	inter := iw * ih
	union := b.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// CenterDistance returns the Euclidean distance between box centers.
func (b BoundingBox) CenterDistance(o BoundingBox) float32 {
	bx, by := b.Center()
	ox, oy := o.Center()
	dx := float64(bx - ox)
	dy := float64(by - oy)
	return float32(math.Sqrt(dx*dx + dy*dy))
}

func maxF(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}

func minF(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}
