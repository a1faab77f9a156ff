package optim

import (
	"github.com/nutriscan/nutriscan/internal/nn"
	"github.com/nutriscan/nutriscan/internal/tensor"
)

// SGD implements Stochastic Gradient Descent with optional momentum.
//
// Without momentum:
//
//	param = param - lr * grad
//
// With momentum:
//
//	velocity = momentum * velocity + grad
//	param = param - lr * velocity
type SGD struct {
	params     []*nn.Parameter
	lr         float32
	momentum   float32
	velocities map[*nn.Parameter]*tensor.Tensor
}

// SGDConfig holds configuration for SGD optimizer.
type SGDConfig struct {
	LR       float32 // Learning rate (default: 0.01)
	Momentum float32 // Momentum factor (default: 0.0, range: [0, 1))
}

// NewSGD creates a new SGD optimizer.
func NewSGD(params []*nn.Parameter, config SGDConfig) *SGD {
	if config.LR == 0 {
		config.LR = 0.01
	}
	return &SGD{
		params:     params,
		lr:         config.LR,
		momentum:   config.Momentum,
		velocities: make(map[*nn.Parameter]*tensor.Tensor),
	}
}

// Step performs a single optimization step.
func (s *SGD) Step(grads map[*tensor.Tensor]*tensor.Tensor) {
	for _, param := range s.params {
		grad := getGradient(param, grads)
		if grad == nil {
			continue
		}

		paramData := param.Tensor().Data()
		gradData := grad.Data()

		if s.momentum == 0 {
			for i := range paramData {
				paramData[i] -= s.lr * gradData[i]
			}
			continue
		}

		velocity, exists := s.velocities[param]
		if !exists {
			velocity = tensor.Zeros(param.Tensor().Shape())
			s.velocities[param] = velocity
		}
		vData := velocity.Data()
		for i := range paramData {
			vData[i] = s.momentum*vData[i] + gradData[i]
			paramData[i] -= s.lr * vData[i]
		}
	}
}

// ZeroGrad clears gradients for all parameters.
func (s *SGD) ZeroGrad() {
	for _, param := range s.params {
		param.ZeroGrad()
	}
}

// GetLR returns the current learning rate.
func (s *SGD) GetLR() float32 {
	return s.lr
}

// SetLR updates the learning rate.
func (s *SGD) SetLR(lr float32) {
	s.lr = lr
}
