package ops

import (
	"github.com/nutriscan/nutriscan/internal/tensor"
)

// BCEOp records the mean binary cross-entropy between predicted
// probabilities and fixed 0/1 targets. Output is a one-element tensor.
//
// Targets are constants, so the only gradient is w.r.t. the predictions.
type BCEOp struct {
	pred   *tensor.Tensor
	target *tensor.Tensor
	output *tensor.Tensor
	eps    float32
}

// NewBCEOp creates a new BCEOp.
func NewBCEOp(pred, target, output *tensor.Tensor, eps float32) *BCEOp {
	return &BCEOp{pred: pred, target: target, output: output, eps: eps}
}

// Backward scales dL/dp by the incoming scalar gradient.
func (op *BCEOp) Backward(outputGrad *tensor.Tensor, backend Backend) []*tensor.Tensor {
	grad := backend.BinaryCrossEntropyBackward(op.pred, op.target, op.eps)
	scale := outputGrad.Data()[0]
	if scale != 1 {
		for i := range grad.Data() {
			grad.Data()[i] *= scale
		}
	}
	return []*tensor.Tensor{grad}
}

// Inputs returns [pred].
func (op *BCEOp) Inputs() []*tensor.Tensor {
	return []*tensor.Tensor{op.pred}
}

// Output returns the loss tensor.
func (op *BCEOp) Output() *tensor.Tensor {
	return op.output
}
