package ops

import (
	"github.com/nutriscan/nutriscan/internal/tensor"
)

// SigmoidOp represents output = 1 / (1 + exp(-x)).
//
// Backward: d(sigmoid(x))/dx = sigmoid(x) * (1 - sigmoid(x)).
type SigmoidOp struct {
	input  *tensor.Tensor
	output *tensor.Tensor
}

// NewSigmoidOp creates a new SigmoidOp.
func NewSigmoidOp(input, output *tensor.Tensor) *SigmoidOp {
	return &SigmoidOp{input: input, output: output}
}

// Backward computes input gradient from the saved output.
func (op *SigmoidOp) Backward(outputGrad *tensor.Tensor, backend Backend) []*tensor.Tensor {
	return []*tensor.Tensor{backend.SigmoidBackward(op.output, outputGrad)}
}

// Inputs returns [x].
func (op *SigmoidOp) Inputs() []*tensor.Tensor {
	return []*tensor.Tensor{op.input}
}

// Output returns sigmoid(x).
func (op *SigmoidOp) Output() *tensor.Tensor {
	return op.output
}
