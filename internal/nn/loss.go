package nn

import (
	"fmt"

	"github.com/nutriscan/nutriscan/internal/autodiff/ops"
	"github.com/nutriscan/nutriscan/internal/backend/cpu"
	"github.com/nutriscan/nutriscan/internal/tensor"
)

// DefaultBCEEpsilon clips probabilities away from 0 and 1 before the log.
const DefaultBCEEpsilon = 1e-7

// BCELoss computes the mean binary cross-entropy of sigmoid outputs.
//
// Loss = -mean(y·log(p) + (1-y)·log(1-p)), with p clipped to [eps, 1-eps].
//
// Example:
//
//	bce := nn.NewBCELoss(backend)
//	probs := net.Forward(ctx, images)
//	loss := bce.Forward(ctx, probs, targets)
type BCELoss struct {
	backend *cpu.CPUBackend
	eps     float32
}

// NewBCELoss creates a BCE loss with the default epsilon.
func NewBCELoss(backend *cpu.CPUBackend) *BCELoss {
	return &BCELoss{backend: backend, eps: DefaultBCEEpsilon}
}

// Forward returns the loss as a one-element tensor and records it on the
// context's tape so Backward can start from it.
//
// Panics if predictions and targets differ in size.
func (l *BCELoss) Forward(ctx *Context, predictions, targets *tensor.Tensor) *tensor.Tensor {
	if predictions.NumElements() != targets.NumElements() {
		panic(fmt.Sprintf("BCELoss: predictions %v and targets %v differ in size", predictions.Shape(), targets.Shape()))
	}
	out := tensor.Zeros(tensor.Shape{1})
	out.Data()[0] = l.backend.BinaryCrossEntropy(predictions, targets, l.eps)
	ctx.record(ops.NewBCEOp(predictions, targets, out, l.eps))
	return out
}

// Accuracy returns the fraction of predictions on the correct side of the
// 0.5 threshold.
func Accuracy(predictions, targets *tensor.Tensor) float64 {
	p, y := predictions.Data(), targets.Data()
	if len(p) == 0 {
		return 0
	}
	correct := 0
	for i := range p {
		hit := (p[i] >= 0.5) == (y[i] >= 0.5)
		if hit {
			correct++
		}
	}
	return float64(correct) / float64(len(p))
}
