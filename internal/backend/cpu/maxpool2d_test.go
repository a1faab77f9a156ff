package cpu

import (
	"testing"

	"github.com/nutriscan/nutriscan/internal/tensor"
)

// TestMaxPool2D_BasicForward tests 2x2 pooling with stride 2.
func TestMaxPool2D_BasicForward(t *testing.T) {
	backend := newTestBackend()

	// 1  2  3  4
	// 5  6  7  8
	// 9  10 11 12
	// 13 14 15 16
	input := seqInput(t, 16, tensor.Shape{1, 1, 4, 4})

	output, indices := backend.MaxPool2D(input, 2, 2)

	expectedShape := tensor.Shape{1, 1, 2, 2}
	if !output.Shape().Equal(expectedShape) {
		t.Fatalf("Expected shape %v, got %v", expectedShape, output.Shape())
	}
	expected := []float32{6, 8, 14, 16}
	if !float32SliceNear(output.Data(), expected, 0) {
		t.Errorf("Output = %v, expected %v", output.Data(), expected)
	}
	wantIdx := []int{5, 7, 13, 15}
	for i, idx := range wantIdx {
		if indices[i] != idx {
			t.Errorf("indices[%d] = %d, want %d", i, indices[i], idx)
		}
	}
}

// TestMaxPool2D_OddSizeFloors tests that a partial trailing window is dropped.
func TestMaxPool2D_OddSizeFloors(t *testing.T) {
	backend := newTestBackend()

	input := seqInput(t, 25, tensor.Shape{1, 1, 5, 5})
	output, _ := backend.MaxPool2D(input, 2, 2)

	expectedShape := tensor.Shape{1, 1, 2, 2}
	if !output.Shape().Equal(expectedShape) {
		t.Fatalf("Expected shape %v, got %v", expectedShape, output.Shape())
	}
	expected := []float32{7, 9, 17, 19}
	if !float32SliceNear(output.Data(), expected, 0) {
		t.Errorf("Output = %v, expected %v", output.Data(), expected)
	}
}

// TestMaxPool2D_Batch tests that batch and channel planes stay separate.
func TestMaxPool2D_Batch(t *testing.T) {
	backend := newTestBackend()

	input := seqInput(t, 2*2*2*2, tensor.Shape{2, 2, 2, 2})
	output, indices := backend.MaxPool2D(input, 2, 2)

	expected := []float32{4, 8, 12, 16}
	if !float32SliceNear(output.Data(), expected, 0) {
		t.Errorf("Output = %v, expected %v", output.Data(), expected)
	}
	for i, idx := range indices {
		if idx != i*4+3 {
			t.Errorf("indices[%d] = %d, want %d", i, idx, i*4+3)
		}
	}
}

// TestMaxPool2D_TieTakesFirst tests deterministic tie breaking.
func TestMaxPool2D_TieTakesFirst(t *testing.T) {
	backend := newTestBackend()

	input := tensor.Ones(tensor.Shape{1, 1, 2, 2})
	_, indices := backend.MaxPool2D(input, 2, 2)
	if indices[0] != 0 {
		t.Errorf("tie winner = %d, want 0", indices[0])
	}
}

// TestMaxPool2D_Backward tests that gradient flows only to window maxima.
func TestMaxPool2D_Backward(t *testing.T) {
	backend := newTestBackend()

	input := seqInput(t, 16, tensor.Shape{1, 1, 4, 4})
	_, indices := backend.MaxPool2D(input, 2, 2)
	grad := mustTensor(t, []float32{1, 2, 3, 4}, tensor.Shape{1, 1, 2, 2})

	dIn := backend.MaxPool2DBackward(input, grad, indices)

	expected := make([]float32, 16)
	expected[5], expected[7], expected[13], expected[15] = 1, 2, 3, 4
	if !float32SliceNear(dIn.Data(), expected, 0) {
		t.Errorf("input grad = %v, want %v", dIn.Data(), expected)
	}
}
