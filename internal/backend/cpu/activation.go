package cpu

import (
	"math"

	"github.com/nutriscan/nutriscan/internal/tensor"
)

// ReLU computes max(0, x) element-wise.
func (cpu *CPUBackend) ReLU(x *tensor.Tensor) *tensor.Tensor {
	out := tensor.New(x.Shape())
	outData := out.Data()
	for i, v := range x.Data() {
		if v > 0 {
			outData[i] = v
		}
	}
	return out
}

// ReLUBackward passes grad where the forward output was positive.
func (cpu *CPUBackend) ReLUBackward(output, grad *tensor.Tensor) *tensor.Tensor {
	out := tensor.New(grad.Shape())
	outData, gradData := out.Data(), grad.Data()
	for i, v := range output.Data() {
		if v > 0 {
			outData[i] = gradData[i]
		}
	}
	return out
}

// Sigmoid computes 1 / (1 + exp(-x)) element-wise.
//
// Negative inputs use exp(x) / (1 + exp(x)) so exp never overflows.
func (cpu *CPUBackend) Sigmoid(x *tensor.Tensor) *tensor.Tensor {
	out := tensor.New(x.Shape())
	outData := out.Data()
	for i, v := range x.Data() {
		f := float64(v)
		if f >= 0 {
			outData[i] = float32(1 / (1 + math.Exp(-f)))
		} else {
			e := math.Exp(f)
			outData[i] = float32(e / (1 + e))
		}
	}
	return out
}

// SigmoidBackward computes grad * s * (1 - s) from the forward output s.
func (cpu *CPUBackend) SigmoidBackward(output, grad *tensor.Tensor) *tensor.Tensor {
	out := tensor.New(grad.Shape())
	outData, gradData := out.Data(), grad.Data()
	for i, s := range output.Data() {
		outData[i] = gradData[i] * s * (1 - s)
	}
	return out
}
