// Package cpu implements the compute kernels of the nutriscan engine on the CPU.
//
// Kernels are plain loops over channel-first float32 tensors. Work is split
// across goroutines per feature plane with internal/parallel; each plane is
// reduced in a fixed order, so results are identical from run to run.
package cpu

import (
	"fmt"

	"github.com/nutriscan/nutriscan/internal/parallel"
	"github.com/nutriscan/nutriscan/internal/tensor"
)

// CPUBackend runs tensor kernels on the CPU.
type CPUBackend struct {
	cfg parallel.Config
}

// New creates a CPU backend that uses every available core.
func New() *CPUBackend {
	return &CPUBackend{cfg: parallel.DefaultConfig()}
}

// NewWithConfig creates a CPU backend with an explicit parallelism config.
func NewWithConfig(cfg parallel.Config) *CPUBackend {
	return &CPUBackend{cfg: cfg}
}

// Name returns the backend name.
func (cpu *CPUBackend) Name() string {
	return "CPU"
}

// Mul performs element-wise multiplication of same-shaped tensors.
func (cpu *CPUBackend) Mul(a, b *tensor.Tensor) *tensor.Tensor {
	if a.NumElements() != b.NumElements() {
		panic(fmt.Sprintf("mul: shape mismatch %v vs %v", a.Shape(), b.Shape()))
	}
	out := tensor.New(a.Shape())
	outData, aData, bData := out.Data(), a.Data(), b.Data()
	for i := range outData {
		outData[i] = aData[i] * bData[i]
	}
	return out
}

func require4D(op string, t *tensor.Tensor) (n, c, h, w int) {
	s := t.Shape()
	if len(s) != 4 {
		panic(fmt.Sprintf("%s: expected 4D input [N,C,H,W], got %dD", op, len(s)))
	}
	return s[0], s[1], s[2], s[3]
}
