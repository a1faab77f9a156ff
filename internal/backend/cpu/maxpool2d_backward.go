package cpu

import (
	"fmt"

	"github.com/nutriscan/nutriscan/internal/parallel"
	"github.com/nutriscan/nutriscan/internal/tensor"
)

// MaxPool2DBackward scatters the output gradient to the input positions that
// produced each window maximum. All other input positions get zero.
//
// maxIndices must come from the MaxPool2D call that produced grad's forward
// output. A winner always lies in the same (batch, channel) plane as its
// window, so planes are processed independently.
func (cpu *CPUBackend) MaxPool2DBackward(input, grad *tensor.Tensor, maxIndices []int) *tensor.Tensor {
	N, C, _, _ := require4D("maxpool2d backward", input)
	if len(maxIndices) != grad.NumElements() {
		panic(fmt.Sprintf("maxpool2d backward: %d indices for %d gradient elements", len(maxIndices), grad.NumElements()))
	}

	inputGrad := tensor.New(input.Shape())
	inputGradData := inputGrad.Data()
	gradData := grad.Data()
	planeOut := grad.NumElements() / (N * C)

	parallel.ForBatch(N, C, func(n, c int) {
		base := (n*C + c) * planeOut
		for i := base; i < base+planeOut; i++ {
			inputGradData[maxIndices[i]] += gradData[i]
		}
	}, cpu.cfg)

	return inputGrad
}
