package ops

import (
	"github.com/nutriscan/nutriscan/internal/tensor"
)

// Conv2DOp records a 2D convolution for autodiff.
//
// Forward: output = Conv2D(input, kernel, bias, stride, padding)
//
// Backward:
//   - d_input:  transposed convolution of d_output with kernel
//   - d_kernel: correlation of input with d_output
//   - d_bias:   d_output summed over batch and space
type Conv2DOp struct {
	input   *tensor.Tensor
	kernel  *tensor.Tensor
	bias    *tensor.Tensor
	output  *tensor.Tensor
	stride  int
	padding int
}

// NewConv2DOp creates a new Conv2D operation.
func NewConv2DOp(input, kernel, bias, output *tensor.Tensor, stride, padding int) *Conv2DOp {
	return &Conv2DOp{
		input:   input,
		kernel:  kernel,
		bias:    bias,
		output:  output,
		stride:  stride,
		padding: padding,
	}
}

// Inputs returns [input, kernel, bias].
func (op *Conv2DOp) Inputs() []*tensor.Tensor {
	return []*tensor.Tensor{op.input, op.kernel, op.bias}
}

// Output returns the output tensor.
func (op *Conv2DOp) Output() *tensor.Tensor {
	return op.output
}

// Backward computes gradients for Conv2D.
//
// Given:
//   - outputGrad: ∂L/∂output [N, C_out, H_out, W_out]
//
// Compute:
//   - inputGrad:  ∂L/∂input  [N, C_in, H, W]
//   - kernelGrad: ∂L/∂kernel [C_out, C_in, K_h, K_w]
//   - biasGrad:   ∂L/∂bias   [C_out]
func (op *Conv2DOp) Backward(outputGrad *tensor.Tensor, backend Backend) []*tensor.Tensor {
	inputGrad := backend.Conv2DInputBackward(op.input, op.kernel, outputGrad, op.stride, op.padding)
	kernelGrad := backend.Conv2DKernelBackward(op.input, op.kernel, outputGrad, op.stride, op.padding)
	var biasGrad *tensor.Tensor
	if op.bias != nil {
		biasGrad = backend.Conv2DBiasBackward(outputGrad)
	}
	return []*tensor.Tensor{inputGrad, kernelGrad, biasGrad}
}
