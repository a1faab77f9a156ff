package saliency

import (
	"image"
	"math"

	"github.com/nfnt/resize"
)

// Map is a row-major grid of importance values in [0, 1].
type Map struct {
	Width  int
	Height int
	Values []float32
}

// NewMap returns an all-zero map.
func NewMap(w, h int) *Map {
	return &Map{Width: w, Height: h, Values: make([]float32, w*h)}
}

// At returns the value at column x, row y.
func (m *Map) At(x, y int) float32 {
	return m.Values[y*m.Width+x]
}

// Max returns the largest value.
func (m *Map) Max() float32 {
	var peak float32
	for _, v := range m.Values {
		peak = max(peak, v)
	}
	return peak
}

// Resize resamples the map to w×h with bilinear interpolation. Values
// stay in [0, 1].
func (m *Map) Resize(w, h int) *Map {
	if w == m.Width && h == m.Height {
		out := NewMap(w, h)
		copy(out.Values, m.Values)
		return out
	}

	src := image.NewGray16(image.Rect(0, 0, m.Width, m.Height))
	for i, v := range m.Values {
		q := uint16(math.Round(float64(clamp01(v)) * 0xffff))
		src.Pix[2*i] = uint8(q >> 8)
		src.Pix[2*i+1] = uint8(q)
	}

	scaled := resize.Resize(uint(w), uint(h), src, resize.Bilinear)
	out := NewMap(w, h)
	b := scaled.Bounds()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, _, _, _ := scaled.At(b.Min.X+x, b.Min.Y+y).RGBA()
			out.Values[y*w+x] = float32(r) / 0xffff
		}
	}
	return out
}

func clamp01(v float32) float32 {
	return min(max(v, 0), 1)
}
