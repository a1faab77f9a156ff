package ops

import (
	"github.com/nutriscan/nutriscan/internal/tensor"
)

// MaxPool2DOp records a max pooling operation.
//
// Only the window maximum contributes to the output, so the gradient flows
// back to that single position and every other position gets zero.
type MaxPool2DOp struct {
	input      *tensor.Tensor
	output     *tensor.Tensor
	maxIndices []int
}

// NewMaxPool2DOp creates a new MaxPool2D operation from the winner indices
// returned by the forward kernel.
func NewMaxPool2DOp(input, output *tensor.Tensor, maxIndices []int) *MaxPool2DOp {
	return &MaxPool2DOp{
		input:      input,
		output:     output,
		maxIndices: maxIndices,
	}
}

// Inputs returns [input].
func (op *MaxPool2DOp) Inputs() []*tensor.Tensor {
	return []*tensor.Tensor{op.input}
}

// Output returns the pooled tensor.
func (op *MaxPool2DOp) Output() *tensor.Tensor {
	return op.output
}

// Backward routes outputGrad to the recorded maxima.
func (op *MaxPool2DOp) Backward(outputGrad *tensor.Tensor, backend Backend) []*tensor.Tensor {
	return []*tensor.Tensor{backend.MaxPool2DBackward(op.input, outputGrad, op.maxIndices)}
}
