package nn

import (
	"github.com/nutriscan/nutriscan/internal/autodiff/ops"
	"github.com/nutriscan/nutriscan/internal/tensor"
)

// Flatten reshapes [batch, ...] to [batch, features] without copying.
type Flatten struct {
	name string
}

// NewFlatten creates a new Flatten layer.
func NewFlatten(name string) *Flatten {
	return &Flatten{name: name}
}

// Name returns the layer name.
func (f *Flatten) Name() string { return f.name }

// Kind returns KindFlatten.
func (f *Flatten) Kind() Kind { return KindFlatten }

// Forward returns a reshaped view of input.
func (f *Flatten) Forward(ctx *Context, input *tensor.Tensor) *tensor.Tensor {
	n := input.Shape()[0]
	out := input.Reshape(n, input.NumElements()/n)
	ctx.record(ops.NewReshapeOp(input, out))
	return out
}

// OutputShape returns [features].
func (f *Flatten) OutputShape(in tensor.Shape) (tensor.Shape, error) {
	return tensor.Shape{in.NumElements()}, nil
}

// Parameters returns an empty slice.
func (f *Flatten) Parameters() []*Parameter {
	return nil
}
