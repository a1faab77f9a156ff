package ops

import (
	"github.com/nutriscan/nutriscan/internal/tensor"
)

// DropoutOp records output = input * mask, where mask holds 0 for dropped
// units and 1/(1-rate) for kept ones.
type DropoutOp struct {
	input  *tensor.Tensor
	mask   *tensor.Tensor
	output *tensor.Tensor
}

// NewDropoutOp creates a new DropoutOp.
func NewDropoutOp(input, mask, output *tensor.Tensor) *DropoutOp {
	return &DropoutOp{input: input, mask: mask, output: output}
}

// Backward scales the gradient by the same mask.
func (op *DropoutOp) Backward(outputGrad *tensor.Tensor, backend Backend) []*tensor.Tensor {
	return []*tensor.Tensor{backend.Mul(outputGrad, op.mask)}
}

// Inputs returns [input].
func (op *DropoutOp) Inputs() []*tensor.Tensor {
	return []*tensor.Tensor{op.input}
}

// Output returns the masked tensor.
func (op *DropoutOp) Output() *tensor.Tensor {
	return op.output
}
