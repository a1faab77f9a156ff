// Package imageio turns image files into model input tensors.
//
// Images are decoded with the registered Go decoders (JPEG, PNG, GIF, BMP,
// TIFF, WebP), converted to non-premultiplied RGB, resized to a square
// resolution and scaled to [0, 1]. The result is a [1, 3, H, W] batch of
// one.
package imageio

import (
	"fmt"
	"image"
	_ "image/gif"  // register GIF decoder
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/nfnt/resize"
	_ "golang.org/x/image/bmp"  // register BMP decoder
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff" // register TIFF decoder
	_ "golang.org/x/image/webp" // register WebP decoder

	"github.com/nutriscan/nutriscan/internal/fault"
	"github.com/nutriscan/nutriscan/internal/tensor"
)

// Interpolation names a resampling filter.
type Interpolation string

// Supported filters. Nearest is the default because it is what Keras
// directory iterators use, and models trained there expect it.
const (
	Nearest  Interpolation = "nearest"
	Bilinear Interpolation = "bilinear"
	Bicubic  Interpolation = "bicubic"
	Lanczos3 Interpolation = "lanczos3"
)

// ParseInterpolation validates a filter name. The empty string selects Nearest.
func ParseInterpolation(s string) (Interpolation, error) {
	switch Interpolation(strings.ToLower(s)) {
	case "", Nearest:
		return Nearest, nil
	case Bilinear:
		return Bilinear, nil
	case Bicubic:
		return Bicubic, nil
	case Lanczos3:
		return Lanczos3, nil
	default:
		return "", fmt.Errorf("unknown interpolation %q", s)
	}
}

func (i Interpolation) filter() resize.InterpolationFunction {
	switch i {
	case Bilinear:
		return resize.Bilinear
	case Bicubic:
		return resize.Bicubic
	case Lanczos3:
		return resize.Lanczos3
	default:
		return resize.NearestNeighbor
	}
}

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".bmp": true, ".tif": true, ".tiff": true, ".webp": true,
}

// IsImageFile reports whether name has an extension a registered decoder handles.
func IsImageFile(name string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(name))]
}

// Preprocessor converts images to model input at a fixed resolution.
// It holds no mutable state and is safe for concurrent use.
type Preprocessor struct {
	resolution int
	interp     Interpolation
}

// New creates a preprocessor for square inputs of the given resolution.
func New(resolution int, interp Interpolation) (*Preprocessor, error) {
	if resolution <= 0 {
		return nil, fault.Shape("imageio.New", fmt.Errorf("resolution must be positive, got %d", resolution))
	}
	if interp == "" {
		interp = Nearest
	}
	return &Preprocessor{resolution: resolution, interp: interp}, nil
}

// Resolution returns the output side length.
func (p *Preprocessor) Resolution() int {
	return p.resolution
}

// Load reads, decodes and preprocesses the image at path.
func (p *Preprocessor) Load(path string) (*tensor.Tensor, *image.NRGBA, error) {
	img, err := ReadImage(path)
	if err != nil {
		return nil, nil, err
	}
	x, resized := p.FromImage(img)
	return x, resized, nil
}

// Decode preprocesses an encoded image read from r.
func (p *Preprocessor) Decode(r io.Reader) (*tensor.Tensor, *image.NRGBA, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, nil, fault.Shape("imageio.Decode", fmt.Errorf("unreadable image: %w", err))
	}
	x, resized := p.FromImage(img)
	return x, resized, nil
}

// FromImage resizes img and converts it to a [1, 3, res, res] tensor. It
// also returns the resized RGB image that the tensor was built from.
func (p *Preprocessor) FromImage(img image.Image) (*tensor.Tensor, *image.NRGBA) {
	resized := p.Resize(img)
	return ToTensor(resized), resized
}

// Resize converts img to NRGBA with an opaque alpha channel and resamples
// it to res×res.
func (p *Preprocessor) Resize(img image.Image) *image.NRGBA {
	src := toNRGBA(img)
	res := uint(p.resolution)
	if src.Bounds().Dx() == p.resolution && src.Bounds().Dy() == p.resolution {
		return src
	}
	out := resize.Resize(res, res, src, p.interp.filter())
	if nrgba, ok := out.(*image.NRGBA); ok {
		return nrgba
	}
	return toNRGBA(out)
}

// ReadImage opens and decodes an image file.
func ReadImage(path string) (image.Image, error) {
	//nolint:gosec // G304: reading user-selected images is the point
	f, err := os.Open(path)
	if err != nil {
		return nil, fault.IO("imageio.ReadImage", path, err)
	}
	defer func() { _ = f.Close() }()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fault.WithPath(fault.KindShape, "imageio.ReadImage", path, fmt.Errorf("unreadable image: %w", err))
	}
	return img, nil
}

// ToTensor converts an RGB image to a channel-first [1, 3, H, W] tensor
// with values in [0, 1]. Alpha is ignored.
func ToTensor(img *image.NRGBA) *tensor.Tensor {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	x := tensor.New(tensor.Shape{1, 3, h, w})
	data := x.Data()
	plane := w * h
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+4*w]
		for i := 0; i < w; i++ {
			idx := y*w + i
			data[idx] = float32(row[4*i]) / 255
			data[plane+idx] = float32(row[4*i+1]) / 255
			data[2*plane+idx] = float32(row[4*i+2]) / 255
		}
	}
	return x
}

// toNRGBA copies img into a zero-origin NRGBA image with alpha forced to
// opaque, which is how an RGB conversion drops transparency.
func toNRGBA(img image.Image) *image.NRGBA {
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	for i := 3; i < len(dst.Pix); i += 4 {
		dst.Pix[i] = 0xff
	}
	return dst
}
