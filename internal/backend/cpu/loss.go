package cpu

import (
	"fmt"
	"math"

	"github.com/nutriscan/nutriscan/internal/tensor"
)

// BinaryCrossEntropy returns the mean binary cross-entropy between
// predicted probabilities and 0/1 targets:
//
//	L = -mean(y*log(p) + (1-y)*log(1-p))
//
// p is clipped to [eps, 1-eps] first so the loss stays finite for
// saturated predictions.
func (cpu *CPUBackend) BinaryCrossEntropy(pred, target *tensor.Tensor, eps float32) float32 {
	checkSameSize("bce", pred, target)
	p, y := pred.Data(), target.Data()
	var sum float64
	for i := range p {
		pc := clip(float64(p[i]), float64(eps))
		yi := float64(y[i])
		sum += yi*math.Log(pc) + (1-yi)*math.Log(1-pc)
	}
	return float32(-sum / float64(len(p)))
}

// BinaryCrossEntropyBackward returns dL/dp, evaluated at the clipped
// probability:
//
//	dL/dp = (p - y) / (p * (1 - p)) / M
func (cpu *CPUBackend) BinaryCrossEntropyBackward(pred, target *tensor.Tensor, eps float32) *tensor.Tensor {
	checkSameSize("bce backward", pred, target)
	grad := tensor.New(pred.Shape())
	g, p, y := grad.Data(), pred.Data(), target.Data()
	m := float64(len(p))
	for i := range p {
		pc := clip(float64(p[i]), float64(eps))
		g[i] = float32((pc - float64(y[i])) / (pc * (1 - pc)) / m)
	}
	return grad
}

func clip(p, eps float64) float64 {
	return math.Min(math.Max(p, eps), 1-eps)
}

func checkSameSize(op string, a, b *tensor.Tensor) {
	if a.NumElements() != b.NumElements() {
		panic(fmt.Sprintf("%s: shape mismatch %v vs %v", op, a.Shape(), b.Shape()))
	}
}
