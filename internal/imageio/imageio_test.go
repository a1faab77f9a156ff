package imageio

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nutriscan/nutriscan/internal/fault"
)

func solidPNG(t *testing.T, dir, name string, w, h int, c color.Color) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
	return path
}

func TestLoad_ShapeAndScale(t *testing.T) {
	dir := t.TempDir()
	path := solidPNG(t, dir, "red.png", 40, 30, color.RGBA{R: 255, G: 51, B: 0, A: 255})

	p, err := New(32, Nearest)
	require.NoError(t, err)

	x, resized, err := p.Load(path)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 3, 32, 32}, []int(x.Shape()))
	assert.Equal(t, 32, resized.Bounds().Dx())
	plane := 32 * 32
	assert.InDelta(t, 1.0, x.Data()[0], 1e-6)
	assert.InDelta(t, 0.2, x.Data()[plane], 1e-6)
	assert.InDelta(t, 0.0, x.Data()[2*plane], 1e-6)
	for _, v := range x.Data() {
		assert.True(t, v >= 0 && v <= 1)
	}
}

// TestFromImage_ChannelOrder checks that pixels land in the channel-first layout.
func TestFromImage_ChannelOrder(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	img.Set(0, 0, color.NRGBA{R: 255, A: 255})
	img.Set(1, 0, color.NRGBA{B: 255, A: 255})

	p, err := New(2, Nearest)
	require.NoError(t, err)

	// A 2x1 source is resized to 2x2; each column keeps its colour under nearest.
	x, _ := p.FromImage(img)
	d := x.Data()
	assert.Equal(t, []float32{1, 0, 1, 0}, d[0:4])  // R
	assert.Equal(t, []float32{0, 0, 0, 0}, d[4:8])  // G
	assert.Equal(t, []float32{0, 1, 0, 1}, d[8:12]) // B
}

// TestFromImage_DropsAlpha checks that transparency does not darken colours.
func TestFromImage_DropsAlpha(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	img.Set(0, 0, color.NRGBA{R: 200, G: 100, B: 50, A: 10})

	p, err := New(1, Nearest)
	require.NoError(t, err)
	x, resized := p.FromImage(img)

	assert.InDelta(t, 200.0/255, x.Data()[0], 1e-6)
	assert.Equal(t, uint8(255), resized.Pix[3])
}

func TestDecode_Errors(t *testing.T) {
	p, err := New(8, Bilinear)
	require.NoError(t, err)

	_, _, err = p.Decode(strings.NewReader("not an image"))
	assert.True(t, fault.Is(err, fault.KindShape))

	_, _, err = p.Load(filepath.Join(t.TempDir(), "missing.png"))
	assert.True(t, fault.Is(err, fault.KindIO))

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 3, 3))))
	x, _, err := p.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, float32(0), x.Max())
}

func TestParseInterpolation(t *testing.T) {
	for _, name := range []string{"", "nearest", "Bilinear", "bicubic", "lanczos3"} {
		_, err := ParseInterpolation(name)
		assert.NoError(t, err, name)
	}
	_, err := ParseInterpolation("area")
	assert.Error(t, err)

	_, err = New(0, Nearest)
	assert.Error(t, err)
}

func TestIsImageFile(t *testing.T) {
	assert.True(t, IsImageFile("a/B.JPG"))
	assert.True(t, IsImageFile("x.webp"))
	assert.False(t, IsImageFile("notes.txt"))
	assert.False(t, IsImageFile(".DS_Store"))
}
