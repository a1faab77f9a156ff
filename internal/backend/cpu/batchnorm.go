package cpu

import (
	"fmt"
	"math"

	"github.com/nutriscan/nutriscan/internal/parallel"
	"github.com/nutriscan/nutriscan/internal/tensor"
)

// BatchNormStats carries the per-channel values a training-mode batch norm
// forward pass computed. Backward needs Normalized and InvStd; the layer uses
// Mean and Var to update its running statistics.
type BatchNormStats struct {
	Mean       []float32
	Var        []float32 // Biased batch variance.
	InvStd     []float32 // 1 / sqrt(Var + eps).
	Normalized *tensor.Tensor
}

// BatchNorm2DTrain normalizes every channel of a [N,C,H,W] input with the
// batch's own statistics, then applies the affine transform:
//
//	y = gamma * (x - mean) / sqrt(var + eps) + beta
//
// Statistics are accumulated in float64.
func (cpu *CPUBackend) BatchNorm2DTrain(input, gamma, beta *tensor.Tensor, eps float32) (*tensor.Tensor, *BatchNormStats) {
	N, C, H, W := require4D("batchnorm2d", input)
	checkChannelParams("batchnorm2d", C, gamma, beta)

	output := tensor.New(input.Shape())
	normalized := tensor.New(input.Shape())
	stats := &BatchNormStats{
		Mean:       make([]float32, C),
		Var:        make([]float32, C),
		InvStd:     make([]float32, C),
		Normalized: normalized,
	}

	x := input.Data()
	y := output.Data()
	xhat := normalized.Data()
	g := gamma.Data()
	b := beta.Data()
	plane := H * W
	m := float64(N * plane)

	parallel.For(C, func(c int) {
		var sum float64
		for n := 0; n < N; n++ {
			for _, v := range x[(n*C+c)*plane : (n*C+c+1)*plane] {
				sum += float64(v)
			}
		}
		mean := sum / m

		var sq float64
		for n := 0; n < N; n++ {
			for _, v := range x[(n*C+c)*plane : (n*C+c+1)*plane] {
				d := float64(v) - mean
				sq += d * d
			}
		}
		variance := sq / m
		invStd := 1 / math.Sqrt(variance+float64(eps))

		stats.Mean[c] = float32(mean)
		stats.Var[c] = float32(variance)
		stats.InvStd[c] = float32(invStd)

		for n := 0; n < N; n++ {
			base := (n*C + c) * plane
			for i := base; i < base+plane; i++ {
				h := float32((float64(x[i]) - mean) * invStd)
				xhat[i] = h
				y[i] = g[c]*h + b[c]
			}
		}
	}, cpu.cfg)

	return output, stats
}

// BatchNorm2DInfer normalizes with fixed running statistics.
func (cpu *CPUBackend) BatchNorm2DInfer(input, gamma, beta, runningMean, runningVar *tensor.Tensor, eps float32) *tensor.Tensor {
	N, C, H, W := require4D("batchnorm2d", input)
	checkChannelParams("batchnorm2d", C, gamma, beta, runningMean, runningVar)

	output := tensor.New(input.Shape())
	x := input.Data()
	y := output.Data()
	g, b := gamma.Data(), beta.Data()
	rm, rv := runningMean.Data(), runningVar.Data()
	plane := H * W

	parallel.ForBatch(N, C, func(n, c int) {
		scale := g[c] / float32(math.Sqrt(float64(rv[c])+float64(eps)))
		shift := b[c] - rm[c]*scale
		base := (n*C + c) * plane
		for i := base; i < base+plane; i++ {
			y[i] = x[i]*scale + shift
		}
	}, cpu.cfg)

	return output
}

// BatchNorm2DNormalize returns (x - mean) * invStd per channel. Used to
// rebuild the normalized input for the backward pass of inference-mode
// batch norm.
func (cpu *CPUBackend) BatchNorm2DNormalize(input *tensor.Tensor, mean, invStd []float32) *tensor.Tensor {
	N, C, H, W := require4D("batchnorm2d normalize", input)
	output := tensor.New(input.Shape())
	x := input.Data()
	y := output.Data()
	plane := H * W

	parallel.ForBatch(N, C, func(n, c int) {
		base := (n*C + c) * plane
		for i := base; i < base+plane; i++ {
			y[i] = (x[i] - mean[c]) * invStd[c]
		}
	}, cpu.cfg)

	return output
}

// BatchNorm2DBackward computes gradients of batch norm w.r.t. its input,
// gamma and beta.
//
// When batchStats is true the statistics were computed from the batch
// itself and depend on x, which gives:
//
//	dx = gamma * invStd / M * (M*dy - sum(dy) - xhat*sum(dy*xhat))
//
// Otherwise the statistics are constants and dx = gamma * invStd * dy.
func (cpu *CPUBackend) BatchNorm2DBackward(grad, normalized, gamma *tensor.Tensor, invStd []float32, batchStats bool) (dx, dgamma, dbeta *tensor.Tensor) {
	N, C, H, W := require4D("batchnorm2d backward", grad)

	dx = tensor.New(grad.Shape())
	dgamma = tensor.New(tensor.Shape{C})
	dbeta = tensor.New(tensor.Shape{C})

	dy := grad.Data()
	xhat := normalized.Data()
	g := gamma.Data()
	dxData, dgData, dbData := dx.Data(), dgamma.Data(), dbeta.Data()
	plane := H * W
	m := float64(N * plane)

	parallel.For(C, func(c int) {
		var sumDy, sumDyXhat float64
		for n := 0; n < N; n++ {
			base := (n*C + c) * plane
			for i := base; i < base+plane; i++ {
				sumDy += float64(dy[i])
				sumDyXhat += float64(dy[i]) * float64(xhat[i])
			}
		}
		dgData[c] = float32(sumDyXhat)
		dbData[c] = float32(sumDy)

		scale := float64(g[c]) * float64(invStd[c])
		for n := 0; n < N; n++ {
			base := (n*C + c) * plane
			for i := base; i < base+plane; i++ {
				if batchStats {
					dxData[i] = float32(scale / m * (m*float64(dy[i]) - sumDy - float64(xhat[i])*sumDyXhat))
				} else {
					dxData[i] = float32(scale * float64(dy[i]))
				}
			}
		}
	}, cpu.cfg)

	return dx, dgamma, dbeta
}

func checkChannelParams(op string, channels int, params ...*tensor.Tensor) {
	for _, p := range params {
		if p.NumElements() != channels {
			panic(fmt.Sprintf("%s: parameter has %d elements for %d channels", op, p.NumElements(), channels))
		}
	}
}
