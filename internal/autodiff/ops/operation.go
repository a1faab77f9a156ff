// Package ops defines the differentiable operations recorded on a gradient tape.
//
// Each operation keeps references to the tensors it read and produced during
// the forward pass, plus whatever the backend returned that the backward pass
// needs (pooling indices, batch norm statistics, dropout masks). Backward
// turns the gradient of the output into gradients of the inputs.
//
// Supported operations:
//   - Conv2DOp: 2D convolution with bias
//   - MaxPool2DOp: max pooling through recorded winner indices
//   - BatchNorm2DOp: batch normalization with batch or running statistics
//   - LinearOp: fully connected layer
//   - ReLUOp, SigmoidOp: activations
//   - DropoutOp: masked scaling
//   - ReshapeOp: shape change without data movement
//   - BCEOp: mean binary cross-entropy loss
package ops

import (
	"github.com/nutriscan/nutriscan/internal/backend/cpu"
	"github.com/nutriscan/nutriscan/internal/tensor"
)

// Backend is the set of kernels the backward passes call.
type Backend interface {
	Conv2DInputBackward(input, kernel, grad *tensor.Tensor, stride, padding int) *tensor.Tensor
	Conv2DKernelBackward(input, kernel, grad *tensor.Tensor, stride, padding int) *tensor.Tensor
	Conv2DBiasBackward(grad *tensor.Tensor) *tensor.Tensor
	MaxPool2DBackward(input, grad *tensor.Tensor, maxIndices []int) *tensor.Tensor
	BatchNorm2DNormalize(input *tensor.Tensor, mean, invStd []float32) *tensor.Tensor
	BatchNorm2DBackward(grad, normalized, gamma *tensor.Tensor, invStd []float32, batchStats bool) (dx, dgamma, dbeta *tensor.Tensor)
	LinearBackward(input, weight, grad *tensor.Tensor) (dx, dw, db *tensor.Tensor)
	ReLUBackward(output, grad *tensor.Tensor) *tensor.Tensor
	SigmoidBackward(output, grad *tensor.Tensor) *tensor.Tensor
	BinaryCrossEntropyBackward(pred, target *tensor.Tensor, eps float32) *tensor.Tensor
	Mul(a, b *tensor.Tensor) *tensor.Tensor
}

var _ Backend = (*cpu.CPUBackend)(nil)

// Operation represents a differentiable operation in the computation graph.
type Operation interface {
	// Backward computes gradients for inputs given the output gradient.
	// Returns one gradient per entry of Inputs, in the same order.
	Backward(outputGrad *tensor.Tensor, backend Backend) []*tensor.Tensor

	// Inputs returns the input tensors for this operation.
	Inputs() []*tensor.Tensor

	// Output returns the output tensor produced by this operation.
	Output() *tensor.Tensor
}
