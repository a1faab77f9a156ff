package cpu

import (
	"fmt"

	"github.com/nutriscan/nutriscan/internal/parallel"
	"github.com/nutriscan/nutriscan/internal/tensor"
)

// MaxPool2D performs 2D max pooling.
//
// Input shape:  [batch, channels, height, width]
// Output shape: [batch, channels, out_height, out_width]
//
// Where:
//
//	out_height = (height - kernelSize) / stride + 1
//	out_width = (width - kernelSize) / stride + 1
//
// Trailing rows and columns that do not fill a window are dropped. The
// second result holds, for every output element, the flat index into the
// input of the value that won the window; ties go to the first position in
// row-major order. MaxPool2DBackward routes gradients through these indices.
//
// Example (2x2 pool, stride=2):
//
//	Input: [[1,2,3,4],    Output: [[6,8],
//	        [5,6,7,8],             [14,16]]
//	        [9,10,11,12],
//	        [13,14,15,16]]
func (cpu *CPUBackend) MaxPool2D(input *tensor.Tensor, kernelSize, stride int) (*tensor.Tensor, []int) {
	N, C, H, W := require4D("maxpool2d", input)
	if kernelSize <= 0 {
		panic(fmt.Sprintf("maxpool2d: invalid kernel size %d", kernelSize))
	}
	if stride <= 0 {
		panic(fmt.Sprintf("maxpool2d: invalid stride %d", stride))
	}
	if kernelSize > H || kernelSize > W {
		panic(fmt.Sprintf("maxpool2d: kernel size %d too large for input %dx%d", kernelSize, H, W))
	}

	HOut := (H-kernelSize)/stride + 1
	WOut := (W-kernelSize)/stride + 1

	output := tensor.New(tensor.Shape{N, C, HOut, WOut})
	indices := make([]int, output.NumElements())
	inputData := input.Data()
	outputData := output.Data()

	planeIn := H * W
	planeOut := HOut * WOut

	parallel.ForBatch(N, C, func(n, c int) {
		inBase := (n*C + c) * planeIn
		outBase := (n*C + c) * planeOut
		for oh := 0; oh < HOut; oh++ {
			for ow := 0; ow < WOut; ow++ {
				best := inBase + (oh*stride)*W + ow*stride
				maxVal := inputData[best]
				for kh := 0; kh < kernelSize; kh++ {
					row := inBase + (oh*stride+kh)*W + ow*stride
					for kw := 0; kw < kernelSize; kw++ {
						if v := inputData[row+kw]; v > maxVal {
							maxVal = v
							best = row + kw
						}
					}
				}
				outputData[outBase+oh*WOut+ow] = maxVal
				indices[outBase+oh*WOut+ow] = best
			}
		}
	}, cpu.cfg)

	return output, indices
}
