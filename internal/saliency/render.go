package saliency

import (
	"fmt"
	"image"
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"

	"golang.org/x/image/draw"

	"github.com/nutriscan/nutriscan/internal/fault"
)

// jet is the 256-entry JET palette: dark blue through cyan, yellow and
// red to dark red. Each channel is a clipped triangle of slope 4 over the
// level, peaking at 3/8 (blue), 5/8 (green) and 7/8 (red) of the range.
var jet = func() [256][3]uint8 {
	var lut [256][3]uint8
	for i := range lut {
		lut[i] = [3]uint8{jetChannel(i, 3), jetChannel(i, 2), jetChannel(i, 1)}
	}
	return lut
}()

// jetChannel evaluates 255*clip(1.5 - |4v - center|) for v = level/255 in
// integer arithmetic, rounding down.
func jetChannel(level, center int) uint8 {
	d := 8*level - 510*center
	if d < 0 {
		d = -d
	}
	c := (765 - d) / 2
	return uint8(min(max(c, 0), 255))
}

// Heatmap colors m with the JET palette. Values are quantized to 256
// levels first.
func Heatmap(m *Map) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, m.Width, m.Height))
	for i, v := range m.Values {
		c := jet[uint8(math.Round(float64(clamp01(v))*255))]
		p := img.Pix[4*i : 4*i+4 : 4*i+4]
		p[0], p[1], p[2], p[3] = c[0], c[1], c[2], 0xff
	}
	return img
}

// Overlay returns alpha*base + beta*heat per channel, saturated to
// [0, 255]. heat is rescaled to base's size if they differ.
func Overlay(base image.Image, heat *image.NRGBA, alpha, beta float64) *image.NRGBA {
	b := base.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), base, b.Min, draw.Src)

	h := heat
	if heat.Bounds().Dx() != b.Dx() || heat.Bounds().Dy() != b.Dy() {
		h = image.NewNRGBA(out.Bounds())
		draw.BiLinear.Scale(h, h.Bounds(), heat, heat.Bounds(), draw.Src, nil)
	}

	for i := 0; i < len(out.Pix); i += 4 {
		for k := 0; k < 3; k++ {
			v := alpha*float64(out.Pix[i+k]) + beta*float64(h.Pix[i+k])
			out.Pix[i+k] = uint8(math.Min(math.Max(math.Round(v), 0), 255))
		}
		out.Pix[i+3] = 0xff
	}
	return out
}

// WritePNG encodes img as PNG.
func WritePNG(w io.Writer, img image.Image) error {
	return png.Encode(w, img)
}

// SavePNG writes img to path, replacing any existing file only once the
// new one is complete.
func SavePNG(path string, img image.Image) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fault.Resource("saliency.SavePNG", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".saliency-*.png")
	if err != nil {
		return fault.Resource("saliency.SavePNG", path, err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if err := WritePNG(tmp, img); err != nil {
		_ = tmp.Close()
		return fault.Resource("saliency.SavePNG", path, fmt.Errorf("encode: %w", err))
	}
	if err := tmp.Close(); err != nil {
		return fault.Resource("saliency.SavePNG", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fault.Resource("saliency.SavePNG", path, err)
	}
	return nil
}
