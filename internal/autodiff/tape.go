// Package autodiff implements reverse-mode automatic differentiation for the
// nutriscan network.
//
// Layers run their forward kernels directly and, when a GradientTape is
// recording, append an ops.Operation describing what they did. Backward then
// walks the tape in reverse and applies the chain rule, accumulating
// gradients per tensor.
//
// Gradients are keyed by *tensor.Tensor identity, so every recorded op must
// produce a fresh output tensor.
package autodiff

import (
	"github.com/nutriscan/nutriscan/internal/autodiff/ops"
	"github.com/nutriscan/nutriscan/internal/tensor"
)

// GradientTape records operations during the forward pass and computes
// gradients during the backward pass using reverse-mode automatic differentiation.
//
// A tape belongs to one forward pass. It is not safe for concurrent use;
// concurrent inferences each use their own tape or none.
//
// Usage:
//
//	tape := NewGradientTape()
//	tape.StartRecording()
//	// ... perform operations ...
//	gradients := tape.Backward(output, outputGrad, backend)
type GradientTape struct {
	operations []ops.Operation // Recorded operations (in execution order)
	recording  bool            // Whether tape is currently recording
}

// NewGradientTape creates a new gradient tape.
func NewGradientTape() *GradientTape {
	return &GradientTape{
		operations: make([]ops.Operation, 0, 32),
	}
}

// StartRecording enables operation recording.
func (t *GradientTape) StartRecording() {
	t.recording = true
}

// StopRecording disables operation recording.
func (t *GradientTape) StopRecording() {
	t.recording = false
}

// IsRecording returns true if the tape is currently recording operations.
// A nil tape never records.
func (t *GradientTape) IsRecording() bool {
	return t != nil && t.recording
}

// Record adds an operation to the tape.
// Only records if the tape is currently recording.
func (t *GradientTape) Record(op ops.Operation) {
	if t.IsRecording() {
		t.operations = append(t.operations, op)
	}
}

// Clear resets the tape, removing all recorded operations.
// Recording state is preserved.
func (t *GradientTape) Clear() {
	t.operations = t.operations[:0]
}

// NumOps returns the number of recorded operations.
func (t *GradientTape) NumOps() int {
	return len(t.operations)
}

// Backward computes gradients of output w.r.t. every tensor that reached it
// through recorded operations.
//
// Algorithm:
//  1. Seed output with outputGrad
//  2. Walk operations in reverse order
//  3. For each operation whose output has a gradient, compute input gradients
//  4. Accumulate gradients when the same tensor is used multiple times
//
// Returns a map from tensor to its accumulated gradient. Tensors that do not
// influence output are absent.
func (t *GradientTape) Backward(output, outputGrad *tensor.Tensor, backend ops.Backend) map[*tensor.Tensor]*tensor.Tensor {
	grads := make(map[*tensor.Tensor]*tensor.Tensor)
	grads[output] = outputGrad
	if len(t.operations) == 0 {
		return grads
	}

	// Stop recording during backward pass to prevent recording gradient operations
	wasRecording := t.recording
	t.recording = false
	defer func() {
		t.recording = wasRecording
	}()

	for i := len(t.operations) - 1; i >= 0; i-- {
		op := t.operations[i]
		opOutputGrad, hasGrad := grads[op.Output()]
		if !hasGrad {
			continue
		}
		accumulateGrads(op.Inputs(), op.Backward(opOutputGrad, backend), grads)
	}

	return grads
}

// accumulateGrads adds each input gradient into grads.
//
// The first gradient for a tensor is stored as is. Later ones are summed into
// a fresh tensor so gradients that share storage with another entry (reshape
// views) are never modified in place.
func accumulateGrads(inputs, inputGrads []*tensor.Tensor, grads map[*tensor.Tensor]*tensor.Tensor) {
	for j, input := range inputs {
		if input == nil || j >= len(inputGrads) || inputGrads[j] == nil {
			continue
		}
		if existing, ok := grads[input]; ok {
			sum := existing.Clone()
			sum.AddInPlace(inputGrads[j])
			grads[input] = sum
		} else {
			grads[input] = inputGrads[j]
		}
	}
}
