package cpu

import (
	"math"
	"math/rand"
	"testing"

	"github.com/nutriscan/nutriscan/internal/tensor"
)

// TestBatchNorm2DTrain_Normalizes tests zero mean and unit variance per channel.
func TestBatchNorm2DTrain_Normalizes(t *testing.T) {
	backend := newTestBackend()
	rng := rand.New(rand.NewSource(3))

	input := randTensor(rng, tensor.Shape{4, 2, 3, 3})
	for i := range input.Data() {
		input.Data()[i] = input.Data()[i]*5 + 2
	}
	gamma := tensor.Ones(tensor.Shape{2})
	beta := tensor.Zeros(tensor.Shape{2})

	out, stats := backend.BatchNorm2DTrain(input, gamma, beta, 1e-5)

	for c := 0; c < 2; c++ {
		var sum, sq float64
		count := 0
		for n := 0; n < 4; n++ {
			for i := 0; i < 9; i++ {
				v := float64(out.Data()[(n*2+c)*9+i])
				sum += v
				sq += v * v
				count++
			}
		}
		mean := sum / float64(count)
		variance := sq/float64(count) - mean*mean
		if math.Abs(mean) > 1e-4 {
			t.Errorf("channel %d mean = %v, want 0", c, mean)
		}
		if math.Abs(variance-1) > 1e-3 {
			t.Errorf("channel %d variance = %v, want 1", c, variance)
		}
		if stats.Var[c] <= 0 {
			t.Errorf("channel %d batch variance = %v, want > 0", c, stats.Var[c])
		}
	}
}

func TestBatchNorm2DInfer_UsesRunningStats(t *testing.T) {
	backend := newTestBackend()

	input := mustTensor(t, []float32{1, 3, 5, 7}, tensor.Shape{1, 1, 2, 2})
	gamma := tensor.Ones(tensor.Shape{1})
	beta := mustTensor(t, []float32{0.5}, tensor.Shape{1})
	mean := mustTensor(t, []float32{1}, tensor.Shape{1})
	variance := mustTensor(t, []float32{4}, tensor.Shape{1})

	out := backend.BatchNorm2DInfer(input, gamma, beta, mean, variance, 0)

	// (x - 1) / 2 + 0.5
	expected := []float32{0.5, 1.5, 2.5, 3.5}
	if !float32SliceNear(out.Data(), expected, 1e-6) {
		t.Errorf("Output = %v, expected %v", out.Data(), expected)
	}
}

// TestBatchNorm2DBackward_Numeric checks training-mode gradients against finite differences.
func TestBatchNorm2DBackward_Numeric(t *testing.T) {
	backend := newTestBackend()
	rng := rand.New(rand.NewSource(11))

	input := randTensor(rng, tensor.Shape{3, 2, 2, 2})
	gamma := randTensor(rng, tensor.Shape{2})
	beta := randTensor(rng, tensor.Shape{2})
	const eps = 1e-3

	out, stats := backend.BatchNorm2DTrain(input, gamma, beta, eps)
	r := randTensor(rng, out.Shape())
	loss := func() float64 {
		y, _ := backend.BatchNorm2DTrain(input, gamma, beta, eps)
		return weightedSum(y, r)
	}

	dx, dgamma, dbeta := backend.BatchNorm2DBackward(r, stats.Normalized, gamma, stats.InvStd, true)

	if want := numericGrad(input, loss); !float32SliceNear(dx.Data(), want, 2e-2) {
		t.Errorf("input grad mismatch:\n got  %v\n want %v", dx.Data(), want)
	}
	if want := numericGrad(gamma, loss); !float32SliceNear(dgamma.Data(), want, 2e-2) {
		t.Errorf("gamma grad mismatch:\n got  %v\n want %v", dgamma.Data(), want)
	}
	if want := numericGrad(beta, loss); !float32SliceNear(dbeta.Data(), want, 2e-2) {
		t.Errorf("beta grad mismatch:\n got  %v\n want %v", dbeta.Data(), want)
	}
}

// TestBatchNorm2DBackward_FixedStats checks the inference-mode input gradient.
func TestBatchNorm2DBackward_FixedStats(t *testing.T) {
	backend := newTestBackend()

	grad := tensor.Ones(tensor.Shape{1, 1, 1, 2})
	normalized := tensor.Zeros(grad.Shape())
	gamma := mustTensor(t, []float32{3}, tensor.Shape{1})

	dx, _, dbeta := backend.BatchNorm2DBackward(grad, normalized, gamma, []float32{0.5}, false)

	if !float32SliceNear(dx.Data(), []float32{1.5, 1.5}, 1e-6) {
		t.Errorf("dx = %v, want [1.5 1.5]", dx.Data())
	}
	if dbeta.Data()[0] != 2 {
		t.Errorf("dbeta = %v, want 2", dbeta.Data()[0])
	}
}
