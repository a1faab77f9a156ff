package ops

import (
	"github.com/nutriscan/nutriscan/internal/tensor"
)

// LinearOp records y = x @ W^T + b.
//
// Backward:
//   - ∂L/∂x = grad @ W
//   - ∂L/∂W = grad^T @ x
//   - ∂L/∂b = sum(grad, axis=0)
type LinearOp struct {
	input  *tensor.Tensor
	weight *tensor.Tensor
	bias   *tensor.Tensor
	output *tensor.Tensor
}

// NewLinearOp creates a new LinearOp.
func NewLinearOp(input, weight, bias, output *tensor.Tensor) *LinearOp {
	return &LinearOp{input: input, weight: weight, bias: bias, output: output}
}

// Inputs returns [input, weight, bias].
func (op *LinearOp) Inputs() []*tensor.Tensor {
	return []*tensor.Tensor{op.input, op.weight, op.bias}
}

// Output returns the output tensor.
func (op *LinearOp) Output() *tensor.Tensor {
	return op.output
}

// Backward computes gradients for input, weight and bias.
func (op *LinearOp) Backward(outputGrad *tensor.Tensor, backend Backend) []*tensor.Tensor {
	dx, dw, db := backend.LinearBackward(op.input, op.weight, outputGrad)
	if op.bias == nil {
		db = nil
	}
	return []*tensor.Tensor{dx, dw, db}
}
