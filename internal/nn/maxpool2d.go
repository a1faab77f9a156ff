package nn

import (
	"fmt"

	"github.com/nutriscan/nutriscan/internal/autodiff/ops"
	"github.com/nutriscan/nutriscan/internal/backend/cpu"
	"github.com/nutriscan/nutriscan/internal/tensor"
)

// MaxPool2D is a 2D max pooling layer.
//
// Input shape:  [batch, channels, height, width]
// Output shape: [batch, channels, out_height, out_width]
//
// Where:
//
//	out_height = (height - kernelSize) / stride + 1
//	out_width = (width - kernelSize) / stride + 1
//
// MaxPool2D has no learnable parameters.
type MaxPool2D struct {
	name       string
	kernelSize int
	stride     int
	backend    *cpu.CPUBackend
}

// NewMaxPool2D creates a new 2D max pooling layer.
func NewMaxPool2D(name string, kernelSize, stride int, backend *cpu.CPUBackend) *MaxPool2D {
	if kernelSize <= 0 {
		panic(fmt.Sprintf("maxpool2d: invalid kernel size %d", kernelSize))
	}
	if stride <= 0 {
		panic(fmt.Sprintf("maxpool2d: invalid stride %d", stride))
	}
	return &MaxPool2D{name: name, kernelSize: kernelSize, stride: stride, backend: backend}
}

// Name returns the layer name.
func (m *MaxPool2D) Name() string { return m.name }

// Kind returns KindMaxPool2D.
func (m *MaxPool2D) Kind() Kind { return KindMaxPool2D }

// Forward pools input and records the winner positions for backward.
func (m *MaxPool2D) Forward(ctx *Context, input *tensor.Tensor) *tensor.Tensor {
	out, indices := m.backend.MaxPool2D(input, m.kernelSize, m.stride)
	ctx.record(ops.NewMaxPool2DOp(input, out, indices))
	return out
}

// OutputShape returns the pooled per-sample shape.
func (m *MaxPool2D) OutputShape(in tensor.Shape) (tensor.Shape, error) {
	if len(in) != 3 {
		return nil, fmt.Errorf("%s: expected input [C H W], got %v", m.name, in)
	}
	if in[1] < m.kernelSize || in[2] < m.kernelSize {
		return nil, fmt.Errorf("%s: %dx%d input is smaller than the %dx%d pool", m.name, in[1], in[2], m.kernelSize, m.kernelSize)
	}
	return tensor.Shape{in[0], (in[1]-m.kernelSize)/m.stride + 1, (in[2]-m.kernelSize)/m.stride + 1}, nil
}

// Parameters returns an empty slice.
func (m *MaxPool2D) Parameters() []*Parameter {
	return nil
}
