package nn

import (
	"fmt"
	"math"

	"github.com/nutriscan/nutriscan/internal/autodiff/ops"
	"github.com/nutriscan/nutriscan/internal/backend/cpu"
	"github.com/nutriscan/nutriscan/internal/tensor"
)

// BatchNorm2D defaults, matching Keras BatchNormalization.
const (
	DefaultBatchNormMomentum = 0.99
	DefaultBatchNormEpsilon  = 1e-3
)

// BatchNorm2D normalizes each channel of a [N, C, H, W] batch.
//
// Training mode uses the batch statistics and folds them into the running
// estimates:
//
//	running = momentum*running + (1-momentum)*batch
//
// Inference mode uses the running estimates only, so a single image is
// normalized the same way regardless of what else is in flight.
type BatchNorm2D struct {
	name     string
	channels int
	eps      float32
	momentum float32

	gamma       *Parameter
	beta        *Parameter
	runningMean *Parameter
	runningVar  *Parameter

	backend *cpu.CPUBackend
}

// NewBatchNorm2D creates a batch norm layer with gamma=1, beta=0 and
// running statistics (0, 1).
func NewBatchNorm2D(name string, channels int, backend *cpu.CPUBackend) *BatchNorm2D {
	if channels <= 0 {
		panic(fmt.Sprintf("batchnorm: invalid channels %d", channels))
	}
	shape := tensor.Shape{channels}
	return &BatchNorm2D{
		name:        name,
		channels:    channels,
		eps:         DefaultBatchNormEpsilon,
		momentum:    DefaultBatchNormMomentum,
		gamma:       NewParameter(name+".gamma", tensor.Ones(shape)),
		beta:        NewParameter(name+".beta", tensor.Zeros(shape)),
		runningMean: NewParameter(name+".running_mean", tensor.Zeros(shape)),
		runningVar:  NewParameter(name+".running_var", tensor.Ones(shape)),
		backend:     backend,
	}
}

// Name returns the layer name.
func (b *BatchNorm2D) Name() string { return b.name }

// Kind returns KindBatchNorm.
func (b *BatchNorm2D) Kind() Kind { return KindBatchNorm }

// Forward normalizes input with batch or running statistics depending on ctx.
func (b *BatchNorm2D) Forward(ctx *Context, input *tensor.Tensor) *tensor.Tensor {
	if ctx.Training() {
		out, stats := b.backend.BatchNorm2DTrain(input, b.gamma.Tensor(), b.beta.Tensor(), b.eps)
		b.updateRunning(stats)
		ctx.record(ops.NewBatchNorm2DTrainOp(input, b.gamma.Tensor(), b.beta.Tensor(), out, stats.Normalized, stats.InvStd))
		return out
	}

	out := b.backend.BatchNorm2DInfer(input, b.gamma.Tensor(), b.beta.Tensor(), b.runningMean.Tensor(), b.runningVar.Tensor(), b.eps)
	if ctx != nil && ctx.Tape.IsRecording() {
		mean := append([]float32(nil), b.runningMean.Tensor().Data()...)
		invStd := make([]float32, b.channels)
		for c, v := range b.runningVar.Tensor().Data() {
			invStd[c] = float32(1 / math.Sqrt(float64(v)+float64(b.eps)))
		}
		ctx.record(ops.NewBatchNorm2DInferOp(input, b.gamma.Tensor(), b.beta.Tensor(), out, mean, invStd))
	}
	return out
}

func (b *BatchNorm2D) updateRunning(stats *cpu.BatchNormStats) {
	rm := b.runningMean.Tensor().Data()
	rv := b.runningVar.Tensor().Data()
	for c := range rm {
		rm[c] = b.momentum*rm[c] + (1-b.momentum)*stats.Mean[c]
		rv[c] = b.momentum*rv[c] + (1-b.momentum)*stats.Var[c]
	}
}

// OutputShape returns the input shape unchanged.
func (b *BatchNorm2D) OutputShape(in tensor.Shape) (tensor.Shape, error) {
	if len(in) != 3 || in[0] != b.channels {
		return nil, fmt.Errorf("%s: expected input [%d H W], got %v", b.name, b.channels, in)
	}
	return in.Clone(), nil
}

// Parameters returns [gamma, beta].
func (b *BatchNorm2D) Parameters() []*Parameter {
	return []*Parameter{b.gamma, b.beta}
}

// Buffers returns [running_mean, running_var].
func (b *BatchNorm2D) Buffers() []*Parameter {
	return []*Parameter{b.runningMean, b.runningVar}
}
