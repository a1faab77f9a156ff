package cpu

import (
	"math"
	"testing"

	"github.com/nutriscan/nutriscan/internal/tensor"
)

func TestBinaryCrossEntropy(t *testing.T) {
	backend := newTestBackend()

	pred := mustTensor(t, []float32{0.5}, tensor.Shape{1, 1})
	target := mustTensor(t, []float32{1}, tensor.Shape{1, 1})
	if got := backend.BinaryCrossEntropy(pred, target, 1e-7); math.Abs(float64(got)-math.Ln2) > 1e-6 {
		t.Errorf("BCE(0.5, 1) = %v, want ln 2", got)
	}

	// Exact miss is clipped to a finite loss of -ln(eps).
	pred = mustTensor(t, []float32{0, 1}, tensor.Shape{2, 1})
	target = mustTensor(t, []float32{1, 0}, tensor.Shape{2, 1})
	got := backend.BinaryCrossEntropy(pred, target, 1e-7)
	if math.IsInf(float64(got), 0) || math.IsNaN(float64(got)) {
		t.Fatalf("BCE not finite: %v", got)
	}
	if want := -math.Log(1e-7); math.Abs(float64(got)-want) > 1e-3 {
		t.Errorf("BCE = %v, want %v", got, want)
	}
}

func TestBinaryCrossEntropyBackward(t *testing.T) {
	backend := newTestBackend()

	pred := mustTensor(t, []float32{0.5, 0.25}, tensor.Shape{2, 1})
	target := mustTensor(t, []float32{1, 0}, tensor.Shape{2, 1})
	grad := backend.BinaryCrossEntropyBackward(pred, target, 1e-7)

	// (p - y) / (p (1 - p)) / M
	expected := []float32{-1, 0.25 / (0.25 * 0.75) / 2}
	if !float32SliceNear(grad.Data(), expected, 1e-5) {
		t.Errorf("grad = %v, want %v", grad.Data(), expected)
	}
}
