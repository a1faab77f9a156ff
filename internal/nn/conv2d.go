package nn

import (
	"fmt"
	"math/rand"

	"github.com/nutriscan/nutriscan/internal/autodiff/ops"
	"github.com/nutriscan/nutriscan/internal/backend/cpu"
	"github.com/nutriscan/nutriscan/internal/tensor"
)

// Conv2D is a 2D convolutional layer with an optional fused activation.
//
// Performs: output = activation(Conv2D(input, weight) + bias)
//
// Input shape:  [batch, in_channels, height, width]
// Weight shape: [out_channels, in_channels, kernel, kernel]
// Bias shape:   [out_channels]
// Output shape: [batch, out_channels, out_h, out_w]
//
// Where:
//
//	out_h = (height + 2*padding - kernel) / stride + 1
//	out_w = (width + 2*padding - kernel) / stride + 1
//
// The layer output is the activated feature map. Grad-CAM reads this tensor.
type Conv2D struct {
	name        string
	inChannels  int
	outChannels int
	kernelSize  int
	stride      int
	padding     int
	activation  Activation

	weight *Parameter // [out_channels, in_channels, kernel, kernel]
	bias   *Parameter // [out_channels]

	backend *cpu.CPUBackend
}

// NewConv2D creates a new square-kernel 2D convolution with Xavier
// initialization and zero bias.
func NewConv2D(
	name string,
	inChannels, outChannels, kernelSize, stride, padding int,
	activation Activation,
	backend *cpu.CPUBackend,
	rng *rand.Rand,
) *Conv2D {
	if inChannels <= 0 || outChannels <= 0 {
		panic(fmt.Sprintf("conv2d: invalid channels in=%d, out=%d", inChannels, outChannels))
	}
	if kernelSize <= 0 {
		panic(fmt.Sprintf("conv2d: invalid kernel size %d", kernelSize))
	}
	if stride <= 0 {
		panic(fmt.Sprintf("conv2d: invalid stride %d", stride))
	}
	if padding < 0 {
		panic(fmt.Sprintf("conv2d: invalid padding %d", padding))
	}

	// fan_in = in_channels * k * k, fan_out = out_channels * k * k
	fanIn := inChannels * kernelSize * kernelSize
	fanOut := outChannels * kernelSize * kernelSize
	weight := Xavier(fanIn, fanOut, tensor.Shape{outChannels, inChannels, kernelSize, kernelSize}, rng)

	return &Conv2D{
		name:        name,
		inChannels:  inChannels,
		outChannels: outChannels,
		kernelSize:  kernelSize,
		stride:      stride,
		padding:     padding,
		activation:  activation,
		weight:      NewParameter(name+".weight", weight),
		bias:        NewParameter(name+".bias", tensor.Zeros(tensor.Shape{outChannels})),
		backend:     backend,
	}
}

// Name returns the layer name.
func (c *Conv2D) Name() string { return c.name }

// Kind returns KindConv2D.
func (c *Conv2D) Kind() Kind { return KindConv2D }

// Forward performs the forward pass.
func (c *Conv2D) Forward(ctx *Context, input *tensor.Tensor) *tensor.Tensor {
	out := c.backend.Conv2D(input, c.weight.Tensor(), c.bias.Tensor(), c.stride, c.padding)
	ctx.record(ops.NewConv2DOp(input, c.weight.Tensor(), c.bias.Tensor(), out, c.stride, c.padding))
	return applyActivation(ctx, c.backend, c.activation, out)
}

// OutputShape returns [out_channels, out_h, out_w] for [in_channels, h, w].
func (c *Conv2D) OutputShape(in tensor.Shape) (tensor.Shape, error) {
	if len(in) != 3 || in[0] != c.inChannels {
		return nil, fmt.Errorf("%s: expected input [%d H W], got %v", c.name, c.inChannels, in)
	}
	h := (in[1]+2*c.padding-c.kernelSize)/c.stride + 1
	w := (in[2]+2*c.padding-c.kernelSize)/c.stride + 1
	if in[1]+2*c.padding < c.kernelSize || in[2]+2*c.padding < c.kernelSize {
		return nil, fmt.Errorf("%s: %dx%d input is smaller than the %dx%d kernel", c.name, in[1], in[2], c.kernelSize, c.kernelSize)
	}
	return tensor.Shape{c.outChannels, h, w}, nil
}

// Parameters returns [weight, bias].
func (c *Conv2D) Parameters() []*Parameter {
	return []*Parameter{c.weight, c.bias}
}

// Weight returns the kernel parameter.
func (c *Conv2D) Weight() *Parameter { return c.weight }

// Bias returns the bias parameter.
func (c *Conv2D) Bias() *Parameter { return c.bias }

func applyActivation(ctx *Context, backend *cpu.CPUBackend, act Activation, x *tensor.Tensor) *tensor.Tensor {
	switch act {
	case ActivationReLU:
		out := backend.ReLU(x)
		ctx.record(ops.NewReLUOp(x, out))
		return out
	case ActivationSigmoid:
		out := backend.Sigmoid(x)
		ctx.record(ops.NewSigmoidOp(x, out))
		return out
	default:
		return x
	}
}
