package vision

import (
	"bytes"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"

	"github.com/your-org/stablewatch/internal/models"
)

// imageToFloat32CHW converts an image to CHW float32 format with normalization:
//
//	pixel = (pixel - mean) / std
func imageToFloat32CHW(img image.Image, targetW, targetH int, mean, std [3]float32) []float32 {
	resized := resizeImage(img, targetW, targetH, draw.ApproxBiLinear)
	w := resized.Bounds().Dx()
	h := resized.Bounds().Dy()

	data := make([]float32, 3*h*w)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			off := resized.PixOffset(x, y)
			rf := float32(resized.Pix[off])
			gf := float32(resized.Pix[off+1])
			bf := float32(resized.Pix[off+2])

			// CHW layout: [C][H][W]
			idx := y*w + x
			data[0*h*w+idx] = (rf - mean[0]) / std[0] // R
			data[1*h*w+idx] = (gf - mean[1]) / std[1] // G
			data[2*h*w+idx] = (bf - mean[2]) / std[2] // B
		}
	}

	return data
}

// resizeImage scales into a fresh RGBA at the target size. Model input
// goes through the fast bilinear scaler; thumbnails use CatmullRom.
func resizeImage(img image.Image, targetW, targetH int, scaler draw.Scaler) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, targetW, targetH))
	bounds := img.Bounds()
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		return dst
	}
	scaler.Scale(dst, dst.Bounds(), img, bounds, draw.Src, nil)
	return dst
}

// CropBox extracts the box region with 10% padding, clamped to the frame.
// Returns nil if the clamped region is empty; callers treat that as an
// ineligible crop.
func CropBox(img image.Image, box models.BoundingBox) image.Image {
	bounds := img.Bounds()

	x1 := int(box.X)
	y1 := int(box.Y)
	x2 := int(box.X + box.W)
	y2 := int(box.Y + box.H)

	w := x2 - x1
	h := y2 - y1
	if w <= 0 || h <= 0 {
		return nil
	}

	padW := int(float32(w) * 0.1)
	padH := int(float32(h) * 0.1)
	x1 -= padW
	y1 -= padH
	x2 += padW
	y2 += padH

	if x1 < bounds.Min.X {
		x1 = bounds.Min.X
	}
	if y1 < bounds.Min.Y {
		y1 = bounds.Min.Y
	}
	if x2 > bounds.Max.X {
		x2 = bounds.Max.X
	}
	if y2 > bounds.Max.Y {
		y2 = bounds.Max.Y
	}

	if x2-x1 <= 0 || y2-y1 <= 0 {
		return nil
	}

	crop := image.NewRGBA(image.Rect(0, 0, x2-x1, y2-y1))
	draw.Draw(crop, crop.Bounds(), img, image.Pt(x1, y1), draw.Src)

	return crop
}

// CropSquare extracts a square region centered on the box with 10%
// padding per side. Pixels outside the frame are filled black. The
// returned box is the square in source-frame coordinates, which pose
// decoding uses to map model outputs back.
func CropSquare(img image.Image, box models.BoundingBox) (image.Image, models.BoundingBox) {
	bounds := img.Bounds()

	side := box.W
	if box.H > side {
		side = box.H
	}
	side *= 1.2

	cx, cy := box.Center()
	sq := models.BoundingBox{
		X: cx - side/2,
		Y: cy - side/2,
		W: side,
		H: side,
	}

	sideI := int(side)
	if sideI <= 0 {
		return nil, sq
	}

	crop := image.NewRGBA(image.Rect(0, 0, sideI, sideI))
	draw.Draw(crop, crop.Bounds(), image.Black, image.Point{}, draw.Src)

	x0 := int(sq.X)
	y0 := int(sq.Y)
	src := image.Rect(x0, y0, x0+sideI, y0+sideI).Intersect(bounds)
	if !src.Empty() {
		draw.Draw(crop, src.Sub(image.Pt(x0, y0)), img, src.Min, draw.Src)
	}

	return crop, sq
}

// ResizeMaxSide scales the image down so its long side is at most max,
// preserving aspect ratio. Images already small enough pass through.
func ResizeMaxSide(img image.Image, max int) image.Image {
	bounds := img.Bounds()
	w := bounds.Dx()
	h := bounds.Dy()
	if w <= max && h <= max {
		return img
	}

	var tw, th int
	if w >= h {
		tw = max
		th = h * max / w
	} else {
		th = max
		tw = w * max / h
	}
	if tw < 1 {
		tw = 1
	}
	if th < 1 {
		th = 1
	}
	return resizeImage(img, tw, th, draw.CatmullRom)
}

// EncodeJPEG encodes an image as JPEG with the given quality.
func EncodeJPEG(img image.Image, quality int) []byte {
	var buf bytes.Buffer
	_ = jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality})
	return buf.Bytes()
}
