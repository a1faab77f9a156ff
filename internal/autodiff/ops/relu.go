package ops

import (
	"github.com/nutriscan/nutriscan/internal/tensor"
)

// ReLUOp represents a ReLU activation: output = max(0, x).
//
// Backward pass:
//   - d(ReLU(x))/dx = 1 if x > 0, else 0
//
// The mask is read from the output, which is positive exactly where the
// input was.
type ReLUOp struct {
	input  *tensor.Tensor
	output *tensor.Tensor
}

// NewReLUOp creates a new ReLUOp.
func NewReLUOp(input, output *tensor.Tensor) *ReLUOp {
	return &ReLUOp{input: input, output: output}
}

// Backward computes input gradient for ReLU.
func (op *ReLUOp) Backward(outputGrad *tensor.Tensor, backend Backend) []*tensor.Tensor {
	return []*tensor.Tensor{backend.ReLUBackward(op.output, outputGrad)}
}

// Inputs returns the input tensor [x].
func (op *ReLUOp) Inputs() []*tensor.Tensor {
	return []*tensor.Tensor{op.input}
}

// Output returns the output tensor max(0, x).
func (op *ReLUOp) Output() *tensor.Tensor {
	return op.output
}
