package autodiff

import (
	"fmt"

	"github.com/nutriscan/nutriscan/internal/autodiff/ops"
	"github.com/nutriscan/nutriscan/internal/tensor"
)

// Backward computes gradients of a scalar loss recorded on tape.
//
// The loss must hold exactly one element; its gradient is seeded with 1.
func Backward(tape *GradientTape, loss *tensor.Tensor, backend ops.Backend) (map[*tensor.Tensor]*tensor.Tensor, error) {
	if loss.NumElements() != 1 {
		return nil, fmt.Errorf("backward: loss must be scalar, got shape %v", loss.Shape())
	}
	return tape.Backward(loss, tensor.Ones(loss.Shape()), backend), nil
}
