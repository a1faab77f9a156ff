package nn

import (
	"fmt"
	"math/rand"

	"github.com/nutriscan/nutriscan/internal/autodiff/ops"
	"github.com/nutriscan/nutriscan/internal/backend/cpu"
	"github.com/nutriscan/nutriscan/internal/tensor"
)

// Dense implements a fully connected layer with an optional fused activation.
//
// Performs the transformation: y = activation(x @ W.T + b)
// where:
//   - x is the input tensor with shape [batch_size, in_features]
//   - W is the weight matrix with shape [out_features, in_features]
//   - b is the bias vector with shape [out_features]
//   - y is the output tensor with shape [batch_size, out_features]
//
// Weights are initialized using Xavier/Glorot initialization.
// Biases are initialized to zeros.
type Dense struct {
	name        string
	inFeatures  int
	outFeatures int
	activation  Activation
	weight      *Parameter // [out_features, in_features]
	bias        *Parameter // [out_features]
	backend     *cpu.CPUBackend
}

// NewDense creates a new Dense layer.
func NewDense(name string, inFeatures, outFeatures int, activation Activation, backend *cpu.CPUBackend, rng *rand.Rand) *Dense {
	if inFeatures <= 0 || outFeatures <= 0 {
		panic(fmt.Sprintf("dense: invalid dimensions in=%d, out=%d", inFeatures, outFeatures))
	}
	weight := Xavier(inFeatures, outFeatures, tensor.Shape{outFeatures, inFeatures}, rng)
	return &Dense{
		name:        name,
		inFeatures:  inFeatures,
		outFeatures: outFeatures,
		activation:  activation,
		weight:      NewParameter(name+".weight", weight),
		bias:        NewParameter(name+".bias", tensor.Zeros(tensor.Shape{outFeatures})),
		backend:     backend,
	}
}

// Name returns the layer name.
func (d *Dense) Name() string { return d.name }

// Kind returns KindDense.
func (d *Dense) Kind() Kind { return KindDense }

// Forward performs the forward pass.
func (d *Dense) Forward(ctx *Context, input *tensor.Tensor) *tensor.Tensor {
	out := d.backend.Linear(input, d.weight.Tensor(), d.bias.Tensor())
	ctx.record(ops.NewLinearOp(input, d.weight.Tensor(), d.bias.Tensor(), out))
	return applyActivation(ctx, d.backend, d.activation, out)
}

// OutputShape returns [out_features].
func (d *Dense) OutputShape(in tensor.Shape) (tensor.Shape, error) {
	if len(in) != 1 || in[0] != d.inFeatures {
		return nil, fmt.Errorf("%s: expected %d input features, got shape %v", d.name, d.inFeatures, in)
	}
	return tensor.Shape{d.outFeatures}, nil
}

// Parameters returns [weight, bias].
func (d *Dense) Parameters() []*Parameter {
	return []*Parameter{d.weight, d.bias}
}
