package ops

import (
	"github.com/nutriscan/nutriscan/internal/tensor"
)

// ReshapeOp represents a reshape operation.
//
// Backward: reshape gradient back to the original input shape.
type ReshapeOp struct {
	input  *tensor.Tensor
	output *tensor.Tensor
}

// NewReshapeOp creates a new ReshapeOp.
func NewReshapeOp(input, output *tensor.Tensor) *ReshapeOp {
	return &ReshapeOp{input: input, output: output}
}

// Backward computes gradient for reshape.
func (op *ReshapeOp) Backward(outputGrad *tensor.Tensor, _ Backend) []*tensor.Tensor {
	return []*tensor.Tensor{outputGrad.Reshape(op.input.Shape()...)}
}

// Inputs returns [input].
func (op *ReshapeOp) Inputs() []*tensor.Tensor {
	return []*tensor.Tensor{op.input}
}

// Output returns the reshaped tensor.
func (op *ReshapeOp) Output() *tensor.Tensor {
	return op.output
}
