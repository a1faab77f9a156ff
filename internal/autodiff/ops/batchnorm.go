package ops

import (
	"github.com/nutriscan/nutriscan/internal/tensor"
)

// BatchNorm2DOp records a batch normalization over the channel axis.
//
// In training mode the statistics come from the batch and the input
// gradient includes their dependence on x. In inference mode the running
// statistics are constants; the normalized input is rebuilt from them only
// if Backward is actually called.
type BatchNorm2DOp struct {
	input      *tensor.Tensor
	gamma      *tensor.Tensor
	beta       *tensor.Tensor
	output     *tensor.Tensor
	normalized *tensor.Tensor
	mean       []float32
	invStd     []float32
	batchStats bool
}

// NewBatchNorm2DTrainOp creates an op for a forward pass that used batch
// statistics.
func NewBatchNorm2DTrainOp(input, gamma, beta, output, normalized *tensor.Tensor, invStd []float32) *BatchNorm2DOp {
	return &BatchNorm2DOp{
		input:      input,
		gamma:      gamma,
		beta:       beta,
		output:     output,
		normalized: normalized,
		invStd:     invStd,
		batchStats: true,
	}
}

// NewBatchNorm2DInferOp creates an op for a forward pass that used the
// running mean and 1/sqrt(running_var + eps).
func NewBatchNorm2DInferOp(input, gamma, beta, output *tensor.Tensor, mean, invStd []float32) *BatchNorm2DOp {
	return &BatchNorm2DOp{
		input:  input,
		gamma:  gamma,
		beta:   beta,
		output: output,
		mean:   mean,
		invStd: invStd,
	}
}

// Inputs returns [input, gamma, beta].
func (op *BatchNorm2DOp) Inputs() []*tensor.Tensor {
	return []*tensor.Tensor{op.input, op.gamma, op.beta}
}

// Output returns the normalized and scaled tensor.
func (op *BatchNorm2DOp) Output() *tensor.Tensor {
	return op.output
}

// Backward computes gradients for input, gamma and beta.
func (op *BatchNorm2DOp) Backward(outputGrad *tensor.Tensor, backend Backend) []*tensor.Tensor {
	normalized := op.normalized
	if normalized == nil {
		normalized = backend.BatchNorm2DNormalize(op.input, op.mean, op.invStd)
	}
	dx, dgamma, dbeta := backend.BatchNorm2DBackward(outputGrad, normalized, op.gamma, op.invStd, op.batchStats)
	return []*tensor.Tensor{dx, dgamma, dbeta}
}
