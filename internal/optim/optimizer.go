// Package optim implements the optimizers used to train the classifier.
//
// This package provides:
//   - Optimizer interface: Base interface for all optimizers
//   - Adam: Adaptive Moment Estimation (the default)
//   - SGD: Stochastic Gradient Descent with momentum
//
// The learning rate is readable and settable at any time so the trainer's
// plateau policy can decay it between epochs.
//
// Example usage:
//
//	optimizer := optim.NewAdam(model.Parameters(), optim.AdamConfig{LR: 0.001})
//
//	ctx := nn.NewTrainingContext(rng)
//	pred := model.Forward(ctx, input)
//	// ... record loss ...
//	grads, _ := autodiff.Backward(ctx.Tape, loss, backend)
//	optimizer.Step(grads)
package optim

import (
	"fmt"

	"github.com/nutriscan/nutriscan/internal/nn"
	"github.com/nutriscan/nutriscan/internal/tensor"
)

// Optimizer is the base interface for all optimization algorithms.
type Optimizer interface {
	// Step applies gradient updates to all parameters.
	//
	// grads maps each parameter tensor to its gradient, as returned by the
	// gradient tape. Parameters without an entry are left unchanged.
	Step(grads map[*tensor.Tensor]*tensor.Tensor)

	// ZeroGrad clears all parameter gradients.
	ZeroGrad()

	// GetLR returns the current learning rate.
	GetLR() float32

	// SetLR replaces the learning rate used by subsequent steps.
	SetLR(lr float32)
}

// Name identifies an optimizer in configuration.
type Name string

// Supported optimizers.
const (
	NameAdam Name = "adam"
	NameSGD  Name = "sgd"
)

// New creates the named optimizer over params with learning rate lr and
// the package defaults for everything else.
func New(name Name, params []*nn.Parameter, lr float32) (Optimizer, error) {
	switch name {
	case NameAdam, "":
		return NewAdam(params, AdamConfig{LR: lr}), nil
	case NameSGD:
		return NewSGD(params, SGDConfig{LR: lr, Momentum: 0.9}), nil
	default:
		return nil, fmt.Errorf("unknown optimizer %q", name)
	}
}

// getGradient safely retrieves gradient for a parameter.
//
// Returns nil if no gradient is found (parameter wasn't part of computation graph).
func getGradient(param *nn.Parameter, grads map[*tensor.Tensor]*tensor.Tensor) *tensor.Tensor {
	if param == nil {
		return nil
	}
	return grads[param.Tensor()]
}
