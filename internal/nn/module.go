// Package nn implements the layers of the nutriscan classifier.
//
// This package provides building blocks for constructing the network:
//   - Module interface: Base interface for all layers
//   - Parameter: Named trainable tensors and non-trainable buffers
//   - Conv2D, BatchNorm2D, MaxPool2D, Flatten, Dropout, Dense
//   - Sequential: Container for stacking layers
//
// Layers hold only their weights. Everything a forward pass needs beyond
// that (training or inference mode, the gradient tape, the dropout random
// source) arrives in a per-call Context, so one model can serve concurrent
// inference calls. The exception is BatchNorm2D in training mode, which
// updates its running statistics.
package nn

import (
	"math/rand"

	"github.com/nutriscan/nutriscan/internal/autodiff"
	"github.com/nutriscan/nutriscan/internal/autodiff/ops"
	"github.com/nutriscan/nutriscan/internal/tensor"
)

// Mode selects layer behavior for a forward pass.
type Mode int

// Forward modes.
const (
	Inference Mode = iota
	Training
)

// String returns the mode name.
func (m Mode) String() string {
	if m == Training {
		return "training"
	}
	return "inference"
}

// Context carries per-call forward state.
type Context struct {
	Mode Mode
	Tape *autodiff.GradientTape // Recording tape, or nil.
	Rand *rand.Rand             // Dropout masks. Required in Training mode.
}

// NewInferenceContext returns a context for a plain inference pass.
func NewInferenceContext() *Context {
	return &Context{Mode: Inference}
}

// NewTrainingContext returns a recording training context.
func NewTrainingContext(rng *rand.Rand) *Context {
	tape := autodiff.NewGradientTape()
	tape.StartRecording()
	return &Context{Mode: Training, Tape: tape, Rand: rng}
}

// Training reports whether the pass runs in training mode.
func (c *Context) Training() bool {
	return c != nil && c.Mode == Training
}

func (c *Context) record(op ops.Operation) {
	if c != nil {
		c.Tape.Record(op)
	}
}

// Kind identifies a layer type. Names follow the usual Keras spelling so
// artifacts and logs read naturally to users of that ecosystem.
type Kind string

// Layer kinds.
const (
	KindConv2D    Kind = "Conv2D"
	KindBatchNorm Kind = "BatchNormalization"
	KindMaxPool2D Kind = "MaxPooling2D"
	KindFlatten   Kind = "Flatten"
	KindDropout   Kind = "Dropout"
	KindDense     Kind = "Dense"
)

// Module is the base interface for all layers.
type Module interface {
	// Name returns the layer's unique name within its model, e.g. "conv2d_1".
	Name() string

	// Kind returns the layer type.
	Kind() Kind

	// Forward computes the output of the layer for a batch.
	//
	// Panics on malformed input; callers validate the model input shape once
	// with OutputShape before running a pass.
	Forward(ctx *Context, input *tensor.Tensor) *tensor.Tensor

	// OutputShape returns the per-sample output shape for a per-sample input
	// shape (batch axis excluded), or an error if the input does not fit.
	OutputShape(in tensor.Shape) (tensor.Shape, error)

	// Parameters returns all trainable parameters of this layer.
	Parameters() []*Parameter
}

// BufferHolder is implemented by layers with non-trainable state that must
// be saved with the model.
type BufferHolder interface {
	Buffers() []*Parameter
}

// LayerInfo describes one layer of a Sequential model.
type LayerInfo struct {
	Index       int          `json:"index"`
	Name        string       `json:"name"`
	Kind        Kind         `json:"kind"`
	OutputShape tensor.Shape `json:"output_shape"`
	Params      int          `json:"params"`
}

// Activation is a fused output nonlinearity of Conv2D and Dense.
type Activation int

// Supported activations.
const (
	ActivationNone Activation = iota
	ActivationReLU
	ActivationSigmoid
)

// String returns the Keras-style activation name.
func (a Activation) String() string {
	switch a {
	case ActivationReLU:
		return "relu"
	case ActivationSigmoid:
		return "sigmoid"
	default:
		return "linear"
	}
}
