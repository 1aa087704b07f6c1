package models

import (
	"fmt"
	"math"
)

// ColorForLabel maps a track's numeric label to a stable display color.
// Successive labels step the hue by the golden ratio so nearby labels
// stay visually distinct.
func ColorForLabel(label int) string {
	if label < 0 {
		label = -label
	}
	h := math.Mod(float64(label)*0.618033988749895, 1.0)
	r, g, b := hsvToRGB(h, 0.70, 0.95)
	return fmt.Sprintf("#%02X%02X%02X", r, g, b)
}

func hsvToRGB(h, s, v float64) (uint8, uint8, uint8) {
	i := int(h * 6)
	f := h*6 - float64(i)
	p := v * (1 - s)
	q := v * (1 - f*s)
	t := v * (1 - (1-f)*s)

	var r, g, b float64
	switch i % 6 {
	case 0:
		r, g, b = v, t, p
	case 1:
		r, g, b = q, v, p
	case 2:
		r, g, b = p, v, t
	case 3:
		r, g, b = p, q, v
	case 4:
		r, g, b = t, p, v
	default:
		r, g, b = v, p, q
	}

	return uint8(r * 255), uint8(g * 255), uint8(b * 255)
}
