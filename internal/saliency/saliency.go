// Package saliency explains classifier decisions with Grad-CAM.
//
// The map is computed at the resolution of a convolutional layer (the last
// one by default): each channel of the layer's activation is weighted by
// the spatial mean of the output's gradient with respect to that channel,
// the weighted channels are summed, negative evidence is clipped and the
// result is scaled so its peak is 1. The map is then upsampled to the input
// resolution, colored with a JET palette and blended over the input image.
package saliency

import (
	"errors"
	"fmt"
	"image"
	"io"

	"github.com/nutriscan/nutriscan/internal/autodiff"
	"github.com/nutriscan/nutriscan/internal/fault"
	"github.com/nutriscan/nutriscan/internal/imageio"
	"github.com/nutriscan/nutriscan/internal/model"
	"github.com/nutriscan/nutriscan/internal/nn"
	"github.com/nutriscan/nutriscan/internal/tensor"
)

// Blend weights of the overlay: image first, heatmap second.
const (
	ImageWeight   = 0.6
	HeatmapWeight = 0.4
)

// zeroThreshold is the largest map peak treated as "no evidence".
const zeroThreshold = 1e-12

// Result bundles everything produced for one image.
type Result struct {
	Label      model.Label
	Confidence float32
	Layer      string
	Raw        *Map         // at the layer resolution
	Map        *Map         // at the input resolution
	Heatmap    *image.NRGBA // JET-colored Map
	Overlay    *image.NRGBA // heatmap blended over the resized input
}

// Explainer computes Grad-CAM maps for one model. It is safe for
// concurrent use.
type Explainer struct {
	model *model.Classifier
	pre   *imageio.Preprocessor
	layer nn.LayerInfo
}

// Option configures an Explainer.
type Option func(*explainerOptions)

type explainerOptions struct {
	layer string
}

// WithLayer explains through the named layer instead of the last
// convolution.
func WithLayer(name string) Option {
	return func(o *explainerOptions) { o.layer = name }
}

// New creates an Explainer for m.
func New(m *model.Classifier, pre *imageio.Preprocessor, opts ...Option) (*Explainer, error) {
	var o explainerOptions
	for _, opt := range opts {
		opt(&o)
	}
	if pre.Resolution() != m.Resolution() {
		return nil, fault.Shape("saliency.New", fmt.Errorf("preprocessor resolution %d does not match model resolution %d",
			pre.Resolution(), m.Resolution()))
	}

	var (
		layer nn.LayerInfo
		err   error
	)
	if o.layer == "" {
		layer, err = m.LastConv()
	} else {
		layer, err = m.Layer(o.layer)
	}
	if err != nil {
		return nil, err
	}
	if len(layer.OutputShape) != 3 {
		return nil, fault.Shape("saliency.New",
			fmt.Errorf("layer %q has output shape %v, want a [C H W] feature map", layer.Name, layer.OutputShape))
	}
	return &Explainer{model: m, pre: pre, layer: layer}, nil
}

// Layer returns the layer the maps are computed at.
func (e *Explainer) Layer() nn.LayerInfo { return e.layer }

// Explain returns the Grad-CAM map of a [1, 3, R, R] input at the layer
// resolution, and the model output for that input.
func (e *Explainer) Explain(x *tensor.Tensor) (*Map, float32, error) {
	if !x.Shape().Equal(e.model.InputShape()) {
		return nil, 0, fault.Shape("saliency.Explain",
			fmt.Errorf("input shape %v does not match model input %v", x.Shape(), e.model.InputShape()))
	}

	net := e.model.Network()
	cut := e.layer.Index + 1

	// Only the layers after the feature map are recorded; the activation
	// is the leaf the gradient is read at.
	ctx := &nn.Context{Mode: nn.Inference, Tape: autodiff.NewGradientTape()}
	act := net.ForwardRange(ctx, x, 0, cut)
	ctx.Tape.StartRecording()
	out := net.ForwardRange(ctx, act, cut, net.Len())
	ctx.Tape.StopRecording()

	score := out.Data()[0]
	if !out.AllFinite() {
		return nil, 0, fault.Numeric("saliency.Explain", errors.New("non-finite model output"))
	}

	grads := ctx.Tape.Backward(out, tensor.Ones(out.Shape()), e.model.Backend())
	grad, ok := grads[act]
	if !ok {
		return nil, 0, fault.Numeric("saliency.Explain", fmt.Errorf("output does not depend on layer %q", e.layer.Name))
	}
	if !grad.AllFinite() {
		return nil, 0, fault.Numeric("saliency.Explain", errors.New("non-finite gradient"))
	}
	return gradCAM(act, grad), score, nil
}

// gradCAM combines a [1, C, H, W] activation with its gradient.
func gradCAM(act, grad *tensor.Tensor) *Map {
	s := act.Shape()
	c, h, w := s[1], s[2], s[3]
	plane := h * w
	a, g := act.Data(), grad.Data()

	cam := make([]float64, plane)
	for ch := 0; ch < c; ch++ {
		off := ch * plane
		var mean float64
		for i := 0; i < plane; i++ {
			mean += float64(g[off+i])
		}
		mean /= float64(plane)
		if mean == 0 {
			continue
		}
		for i := 0; i < plane; i++ {
			cam[i] += mean * float64(a[off+i])
		}
	}

	peak := 0.0
	for i, v := range cam {
		if v < 0 {
			cam[i] = 0
		} else if v > peak {
			peak = v
		}
	}

	m := NewMap(w, h)
	if peak <= zeroThreshold {
		return m
	}
	for i, v := range cam {
		m.Values[i] = float32(v / peak)
	}
	return m
}

// ExplainFile explains the image at path.
func (e *Explainer) ExplainFile(path string) (*Result, error) {
	img, err := imageio.ReadImage(path)
	if err != nil {
		return nil, err
	}
	return e.ExplainImage(img)
}

// ExplainReader explains an encoded image read from r.
func (e *Explainer) ExplainReader(r io.Reader) (*Result, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fault.Shape("saliency.ExplainReader", fmt.Errorf("unreadable image: %w", err))
	}
	return e.ExplainImage(img)
}

// ExplainImage runs the full pipeline on a decoded image.
func (e *Explainer) ExplainImage(img image.Image) (*Result, error) {
	x, resized := e.pre.FromImage(img)
	raw, score, err := e.Explain(x)
	if err != nil {
		return nil, err
	}
	res := e.model.Resolution()
	full := raw.Resize(res, res)
	heat := Heatmap(full)
	return &Result{
		Label:      model.LabelFor(score),
		Confidence: score,
		Layer:      e.layer.Name,
		Raw:        raw,
		Map:        full,
		Heatmap:    heat,
		Overlay:    Overlay(resized, heat, ImageWeight, HeatmapWeight),
	}, nil
}
