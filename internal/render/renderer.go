package render

import (
	"fmt"
	"image"
	"strconv"

	"github.com/fogleman/gg"
	"golang.org/x/image/font/basicfont"

	"github.com/your-org/stablewatch/internal/models"
)

// defaultKeypointConf is the fallback confidence gate below which a
// point and its incident skeleton edges are omitted from the overlay.
const defaultKeypointConf = 0.3

const (
	boxLineWidth      = 3.0
	skeletonLineWidth = 2.0
	pointRadius       = 3.0
	labelPadding      = 4.0
)

// Renderer composites tracking overlays onto raw frames. Drawing is
// fully deterministic: the same frame and records always produce the
// same pixels. Text uses the embedded bitmap face so output never
// depends on host fonts.
type Renderer struct {
	minKeypointConf float32
}

// New builds a renderer whose skeleton overlay hides keypoints below
// minKeypointConf. Zero or negative falls back to the default gate, so
// callers without a per-job threshold pass 0.
func New(minKeypointConf float32) *Renderer {
	if minKeypointConf <= 0 {
		minKeypointConf = defaultKeypointConf
	}
	return &Renderer{minKeypointConf: minKeypointConf}
}

// Frame draws every tracked box, label, and available skeleton from the
// record onto a copy of the raw frame.
func (r *Renderer) Frame(raw image.Image, rec models.FrameRecord) image.Image {
	dc := gg.NewContext(raw.Bounds().Dx(), raw.Bounds().Dy())
	dc.DrawImage(raw, 0, 0)
	dc.SetFontFace(basicfont.Face7x13)

	for _, tb := range rec.Tracked {
		cr, cg, cb := parseHexColor(tb.Color)

		dc.SetRGB255(cr, cg, cb)
		dc.SetLineWidth(boxLineWidth)
		dc.DrawRectangle(float64(tb.BBox.X), float64(tb.BBox.Y), float64(tb.BBox.W), float64(tb.BBox.H))
		dc.Stroke()

		drawLabel(dc, tb, cr, cg, cb)

		if kp, ok := rec.Keypoints[tb.TrackID]; ok {
			drawSkeleton(dc, kp, r.minKeypointConf, cr, cg, cb)
		}
	}

	return dc.Image()
}

// drawLabel puts the identity text on a filled tab above the box, or
// inside the top edge when the box touches the frame top.
func drawLabel(dc *gg.Context, tb models.TrackedBox, cr, cg, cb int) {
	text := tb.HorseName
	if text == "" {
		text = "#" + shortID(tb.TrackID)
	}
	if tb.State == models.TrackStateLost {
		text += " (lost)"
	}

	tw, th := dc.MeasureString(text)
	x := float64(tb.BBox.X)
	y := float64(tb.BBox.Y) - th - 2*labelPadding
	if y < 0 {
		y = float64(tb.BBox.Y)
	}

	dc.SetRGB255(cr, cg, cb)
	dc.DrawRectangle(x, y, tw+2*labelPadding, th+2*labelPadding)
	dc.Fill()

	dc.SetRGB255(0, 0, 0)
	dc.DrawString(text, x+labelPadding, y+th+labelPadding-2)
}

// drawSkeleton renders the fixed edge list, skipping any edge touching
// a point under the confidence gate, then marks the visible points.
func drawSkeleton(dc *gg.Context, kp models.Keypoints, minConf float32, cr, cg, cb int) {
	dc.SetRGB255(cr, cg, cb)
	dc.SetLineWidth(skeletonLineWidth)

	for _, edge := range models.Skeleton {
		if !kp.Visible(edge[0], minConf) || !kp.Visible(edge[1], minConf) {
			continue
		}
		a, b := kp[edge[0]], kp[edge[1]]
		dc.DrawLine(float64(a.X), float64(a.Y), float64(b.X), float64(b.Y))
		dc.Stroke()
	}

	for i := range kp {
		if !kp.Visible(i, minConf) {
			continue
		}
		dc.DrawCircle(float64(kp[i].X), float64(kp[i].Y), pointRadius)
		dc.Fill()
	}
}

// shortID trims a UUID to its first segment for display.
func shortID(id string) string {
	for i := 0; i < len(id); i++ {
		if id[i] == '-' {
			return id[:i]
		}
	}
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// parseHexColor decodes "#RRGGBB"; malformed input renders white rather
// than failing the frame.
func parseHexColor(s string) (int, int, int) {
	if len(s) != 7 || s[0] != '#' {
		return 255, 255, 255
	}
	v, err := strconv.ParseUint(s[1:], 16, 32)
	if err != nil {
		return 255, 255, 255
	}
	return int(v >> 16 & 0xFF), int(v >> 8 & 0xFF), int(v & 0xFF)
}

// HexColor formats RGB components the way records store colors.
func HexColor(r, g, b uint8) string {
	return fmt.Sprintf("#%02X%02X%02X", r, g, b)
}
