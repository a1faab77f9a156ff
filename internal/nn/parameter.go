package nn

import (
	"github.com/nutriscan/nutriscan/internal/tensor"
)

// Parameter is a named tensor owned by a layer.
//
// Trainable parameters are updated by the optimizer from their gradient.
// Buffers (batch norm running statistics) are saved with the model but
// never receive gradients.
//
// Example:
//
//	weight := nn.NewParameter("dense.weight", weightTensor)
//	w := weight.Tensor()
//	grad := weight.Grad() // after the trainer sets it
type Parameter struct {
	name   string
	tensor *tensor.Tensor
	grad   *tensor.Tensor
}

// NewParameter creates a new parameter.
func NewParameter(name string, t *tensor.Tensor) *Parameter {
	return &Parameter{name: name, tensor: t}
}

// Name returns the parameter name.
func (p *Parameter) Name() string {
	return p.name
}

// Tensor returns the parameter tensor.
func (p *Parameter) Tensor() *tensor.Tensor {
	return p.tensor
}

// Grad returns the gradient tensor, or nil before a backward pass.
func (p *Parameter) Grad() *tensor.Tensor {
	return p.grad
}

// SetGrad sets the gradient tensor.
func (p *Parameter) SetGrad(grad *tensor.Tensor) {
	p.grad = grad
}

// ZeroGrad clears the gradient tensor.
func (p *Parameter) ZeroGrad() {
	p.grad = nil
}
