package cpu

import (
	"math"
	"math/rand"
	"testing"

	"github.com/nutriscan/nutriscan/internal/parallel"
	"github.com/nutriscan/nutriscan/internal/tensor"
)

func newTestBackend() *CPUBackend {
	return New()
}

func mustTensor(t *testing.T, data []float32, shape tensor.Shape) *tensor.Tensor {
	t.Helper()
	x, err := tensor.FromSlice(data, shape)
	if err != nil {
		t.Fatalf("FromSlice: %v", err)
	}
	return x
}

func randTensor(rng *rand.Rand, shape tensor.Shape) *tensor.Tensor {
	x := tensor.New(shape)
	for i := range x.Data() {
		x.Data()[i] = float32(rng.NormFloat64())
	}
	return x
}

func float32SliceNear(a, b []float32, tol float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.Abs(float64(a[i]-b[i])) > tol {
			return false
		}
	}
	return true
}

// weightedSum is a scalar probe loss: sum(out * r). Its gradient w.r.t. out is r.
func weightedSum(out, r *tensor.Tensor) float64 {
	var s float64
	for i, v := range out.Data() {
		s += float64(v) * float64(r.Data()[i])
	}
	return s
}

// numericGrad estimates d loss / d x by central differences.
func numericGrad(x *tensor.Tensor, loss func() float64) []float32 {
	const h = 1e-2
	grad := make([]float32, x.NumElements())
	data := x.Data()
	for i := range data {
		orig := data[i]
		data[i] = orig + h
		plus := loss()
		data[i] = orig - h
		minus := loss()
		data[i] = orig
		grad[i] = float32((plus - minus) / (2 * h))
	}
	return grad
}

func TestCPUBackend_New(t *testing.T) {
	backend := New()
	if backend == nil {
		t.Fatal("New() returned nil")
	}
	if backend.Name() != "CPU" {
		t.Errorf("Name() = %q, want CPU", backend.Name())
	}
}

// TestCPUBackend_SequentialMatchesParallel checks that worker count does not change results.
func TestCPUBackend_SequentialMatchesParallel(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	input := randTensor(rng, tensor.Shape{2, 3, 9, 9})
	kernel := randTensor(rng, tensor.Shape{4, 3, 3, 3})
	bias := randTensor(rng, tensor.Shape{4})

	par := NewWithConfig(parallel.Config{Enabled: true, NumWorkers: 8, MinChunkSize: 1})
	seq := NewWithConfig(parallel.Sequential())

	a := par.Conv2D(input, kernel, bias, 1, 0)
	b := seq.Conv2D(input, kernel, bias, 1, 0)
	for i := range a.Data() {
		if a.Data()[i] != b.Data()[i] {
			t.Fatalf("element %d differs: parallel %v, sequential %v", i, a.Data()[i], b.Data()[i])
		}
	}
}

func TestCPUBackend_Mul(t *testing.T) {
	backend := newTestBackend()
	a := mustTensor(t, []float32{1, 2, 3}, tensor.Shape{3})
	b := mustTensor(t, []float32{0, 0.5, 2}, tensor.Shape{3})

	got := backend.Mul(a, b).Data()
	want := []float32{0, 1, 6}
	if !float32SliceNear(got, want, 0) {
		t.Errorf("Mul = %v, want %v", got, want)
	}
}
