package cpu

import (
	"fmt"

	"github.com/nutriscan/nutriscan/internal/parallel"
	"github.com/nutriscan/nutriscan/internal/tensor"
)

// Conv2D performs 2D convolution (cross-correlation) with an optional bias.
//
// Input shape:  [batch, in_channels, height, width]
// Kernel shape: [out_channels, in_channels, kernel_h, kernel_w]
// Bias shape:   [out_channels] or nil
// Output shape: [batch, out_channels, out_h, out_w]
//
// Where:
//
//	out_h = (H + 2*padding - kernel_h) / stride + 1
//	out_w = (W + 2*padding - kernel_w) / stride + 1
//
// Each (batch, out_channel) plane is computed by one worker. The plane is
// seeded with the bias and accumulated kernel tap by kernel tap, which keeps
// the inner loop a contiguous row update.
func (cpu *CPUBackend) Conv2D(input, kernel, bias *tensor.Tensor, stride, padding int) *tensor.Tensor {
	N, CIn, H, W := require4D("conv2d", input)
	kernelShape := kernel.Shape()
	if len(kernelShape) != 4 {
		panic(fmt.Sprintf("conv2d: kernel must be 4D [C_out,C_in,K_h,K_w], got %dD", len(kernelShape)))
	}
	COut, CInK, KH, KW := kernelShape[0], kernelShape[1], kernelShape[2], kernelShape[3]
	if CIn != CInK {
		panic(fmt.Sprintf("conv2d: input channels %d != kernel channels %d", CIn, CInK))
	}
	if bias != nil && bias.NumElements() != COut {
		panic(fmt.Sprintf("conv2d: bias has %d elements, want %d", bias.NumElements(), COut))
	}

	HOut := (H+2*padding-KH)/stride + 1
	WOut := (W+2*padding-KW)/stride + 1
	if HOut <= 0 || WOut <= 0 {
		panic(fmt.Sprintf("conv2d: invalid output dimensions: out_h=%d, out_w=%d (check stride/padding)", HOut, WOut))
	}

	output := tensor.New(tensor.Shape{N, COut, HOut, WOut})
	inputData := input.Data()
	kernelData := kernel.Data()
	outputData := output.Data()
	var biasData []float32
	if bias != nil {
		biasData = bias.Data()
	}

	planeIn := H * W
	planeOut := HOut * WOut
	kSize := KH * KW

	parallel.ForBatch(N, COut, func(n, co int) {
		plane := outputData[(n*COut+co)*planeOut : (n*COut+co+1)*planeOut]
		if biasData != nil {
			b := biasData[co]
			for i := range plane {
				plane[i] = b
			}
		}

		for ci := 0; ci < CIn; ci++ {
			in := inputData[(n*CIn+ci)*planeIn : (n*CIn+ci+1)*planeIn]
			k := kernelData[(co*CIn+ci)*kSize : (co*CIn+ci+1)*kSize]

			for kh := 0; kh < KH; kh++ {
				for kw := 0; kw < KW; kw++ {
					wv := k[kh*KW+kw]
					for oh := 0; oh < HOut; oh++ {
						ih := oh*stride - padding + kh
						if ih < 0 || ih >= H {
							continue
						}
						inRow := in[ih*W : (ih+1)*W]
						outRow := plane[oh*WOut : (oh+1)*WOut]
						for ow := 0; ow < WOut; ow++ {
							iw := ow*stride - padding + kw
							if iw < 0 || iw >= W {
								continue
							}
							outRow[ow] += wv * inRow[iw]
						}
					}
				}
			}
		}
	}, cpu.cfg)

	return output
}
