package cpu

import (
	"github.com/nutriscan/nutriscan/internal/parallel"
	"github.com/nutriscan/nutriscan/internal/tensor"
)

// Conv2DInputBackward computes gradient w.r.t. input using transposed convolution.
//
// For each input position (n, c_in, h, w) it sums contributions from all
// output positions that read it:
//
//	grad[n, c_out, h_out, w_out] * kernel[c_out, c_in, kh, kw]
//
// Each worker owns one (batch, in_channel) plane of the result.
func (cpu *CPUBackend) Conv2DInputBackward(input, kernel, grad *tensor.Tensor, stride, padding int) *tensor.Tensor {
	N, CIn, H, W := require4D("conv2d input backward", input)
	kernelShape := kernel.Shape()
	COut, KH, KW := kernelShape[0], kernelShape[2], kernelShape[3]
	gradShape := grad.Shape()
	HOut, WOut := gradShape[2], gradShape[3]

	inputGrad := tensor.New(input.Shape())
	inputGradData := inputGrad.Data()
	gradData := grad.Data()
	kernelData := kernel.Data()

	planeIn := H * W
	planeOut := HOut * WOut
	kSize := KH * KW

	parallel.ForBatch(N, CIn, func(n, ci int) {
		dIn := inputGradData[(n*CIn+ci)*planeIn : (n*CIn+ci+1)*planeIn]

		for co := 0; co < COut; co++ {
			g := gradData[(n*COut+co)*planeOut : (n*COut+co+1)*planeOut]
			k := kernelData[(co*CIn+ci)*kSize : (co*CIn+ci+1)*kSize]

			for kh := 0; kh < KH; kh++ {
				for kw := 0; kw < KW; kw++ {
					wv := k[kh*KW+kw]
					for oh := 0; oh < HOut; oh++ {
						ih := oh*stride - padding + kh
						if ih < 0 || ih >= H {
							continue
						}
						dRow := dIn[ih*W : (ih+1)*W]
						gRow := g[oh*WOut : (oh+1)*WOut]
						for ow := 0; ow < WOut; ow++ {
							iw := ow*stride - padding + kw
							if iw < 0 || iw >= W {
								continue
							}
							dRow[iw] += wv * gRow[ow]
						}
					}
				}
			}
		}
	}, cpu.cfg)

	return inputGrad
}

// Conv2DKernelBackward computes gradient w.r.t. kernel.
//
//	dK[c_out, c_in, kh, kw] = sum over (n, h_out, w_out) of
//	    grad[n, c_out, h_out, w_out] * input[n, c_in, h_out*stride-padding+kh, w_out*stride-padding+kw]
//
// Each worker owns one output channel's filters.
func (cpu *CPUBackend) Conv2DKernelBackward(input, kernel, grad *tensor.Tensor, stride, padding int) *tensor.Tensor {
	N, CIn, H, W := require4D("conv2d kernel backward", input)
	kernelShape := kernel.Shape()
	COut, KH, KW := kernelShape[0], kernelShape[2], kernelShape[3]
	gradShape := grad.Shape()
	HOut, WOut := gradShape[2], gradShape[3]

	kernelGrad := tensor.New(kernel.Shape())
	kernelGradData := kernelGrad.Data()
	inputData := input.Data()
	gradData := grad.Data()

	planeIn := H * W
	planeOut := HOut * WOut
	kSize := KH * KW

	parallel.For(COut, func(co int) {
		for ci := 0; ci < CIn; ci++ {
			dK := kernelGradData[(co*CIn+ci)*kSize : (co*CIn+ci+1)*kSize]
			for kh := 0; kh < KH; kh++ {
				for kw := 0; kw < KW; kw++ {
					var sum float32
					for n := 0; n < N; n++ {
						in := inputData[(n*CIn+ci)*planeIn : (n*CIn+ci+1)*planeIn]
						g := gradData[(n*COut+co)*planeOut : (n*COut+co+1)*planeOut]
						for oh := 0; oh < HOut; oh++ {
							ih := oh*stride - padding + kh
							if ih < 0 || ih >= H {
								continue
							}
							inRow := in[ih*W : (ih+1)*W]
							gRow := g[oh*WOut : (oh+1)*WOut]
							for ow := 0; ow < WOut; ow++ {
								iw := ow*stride - padding + kw
								if iw < 0 || iw >= W {
									continue
								}
								sum += gRow[ow] * inRow[iw]
							}
						}
					}
					dK[kh*KW+kw] = sum
				}
			}
		}
	}, cpu.cfg)

	return kernelGrad
}

// Conv2DBiasBackward sums the output gradient over batch and spatial axes.
//
// Grad shape: [batch, out_channels, out_h, out_w]
// Result shape: [out_channels]
func (cpu *CPUBackend) Conv2DBiasBackward(grad *tensor.Tensor) *tensor.Tensor {
	N, COut, HOut, WOut := require4D("conv2d bias backward", grad)
	biasGrad := tensor.New(tensor.Shape{COut})
	biasGradData := biasGrad.Data()
	gradData := grad.Data()
	planeOut := HOut * WOut

	parallel.For(COut, func(co int) {
		var sum float32
		for n := 0; n < N; n++ {
			for _, v := range gradData[(n*COut+co)*planeOut : (n*COut+co+1)*planeOut] {
				sum += v
			}
		}
		biasGradData[co] = sum
	}, cpu.cfg)

	return biasGrad
}
