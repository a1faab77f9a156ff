package nn

import (
	"fmt"

	"github.com/nutriscan/nutriscan/internal/tensor"
)

// Sequential is a container module that chains layers together.
//
// Each layer's output becomes the next layer's input.
//
// Example:
//
//	model := nn.NewSequential(
//	    nn.NewConv2D("conv2d", 3, 32, 3, 1, 0, nn.ActivationReLU, backend, rng),
//	    nn.NewMaxPool2D("max_pooling2d", 2, 2, backend),
//	    nn.NewFlatten("flatten"),
//	    nn.NewDense("dense", 32*111*111, 1, nn.ActivationSigmoid, backend, rng),
//	)
//
//	output := model.Forward(nn.NewInferenceContext(), input)
type Sequential struct {
	modules []Module
}

// NewSequential creates a new Sequential container.
func NewSequential(modules ...Module) *Sequential {
	return &Sequential{modules: modules}
}

// Forward applies all layers in sequence.
func (s *Sequential) Forward(ctx *Context, input *tensor.Tensor) *tensor.Tensor {
	return s.ForwardRange(ctx, input, 0, len(s.modules))
}

// ForwardRange applies layers [from, to) to input. Running [0, k) and then
// [k, n) gives the same result as Forward.
func (s *Sequential) ForwardRange(ctx *Context, input *tensor.Tensor, from, to int) *tensor.Tensor {
	if from < 0 || to > len(s.modules) || from > to {
		panic(fmt.Sprintf("sequential: invalid layer range [%d, %d) of %d", from, to, len(s.modules)))
	}
	output := input
	for _, module := range s.modules[from:to] {
		output = module.Forward(ctx, output)
	}
	return output
}

// Modules returns the layers in order.
func (s *Sequential) Modules() []Module {
	return s.modules
}

// Len returns the number of layers.
func (s *Sequential) Len() int {
	return len(s.modules)
}

// Parameters returns all trainable parameters from all layers.
func (s *Sequential) Parameters() []*Parameter {
	var params []*Parameter
	for _, module := range s.modules {
		params = append(params, module.Parameters()...)
	}
	return params
}

// Buffers returns all non-trainable state from all layers.
func (s *Sequential) Buffers() []*Parameter {
	var bufs []*Parameter
	for _, module := range s.modules {
		if h, ok := module.(BufferHolder); ok {
			bufs = append(bufs, h.Buffers()...)
		}
	}
	return bufs
}

// Layers describes every layer for a per-sample input shape.
func (s *Sequential) Layers(in tensor.Shape) ([]LayerInfo, error) {
	infos := make([]LayerInfo, 0, len(s.modules))
	shape := in
	for i, module := range s.modules {
		out, err := module.OutputShape(shape)
		if err != nil {
			return nil, err
		}
		params := 0
		for _, p := range module.Parameters() {
			params += p.Tensor().NumElements()
		}
		infos = append(infos, LayerInfo{
			Index:       i,
			Name:        module.Name(),
			Kind:        module.Kind(),
			OutputShape: out,
			Params:      params,
		})
		shape = out
	}
	return infos, nil
}

// StateDict returns every parameter and buffer keyed by name.
func (s *Sequential) StateDict() map[string]*tensor.Tensor {
	state := make(map[string]*tensor.Tensor)
	for _, p := range s.Parameters() {
		state[p.Name()] = p.Tensor()
	}
	for _, b := range s.Buffers() {
		state[b.Name()] = b.Tensor()
	}
	return state
}

// LoadStateDict copies tensors from state into the model.
//
// Every model tensor must be present with a matching shape. Extra entries
// are rejected so a mismatched artifact is never half-loaded.
func (s *Sequential) LoadStateDict(state map[string]*tensor.Tensor) error {
	own := s.StateDict()
	for name := range state {
		if _, ok := own[name]; !ok {
			return fmt.Errorf("unexpected tensor %q in state dict", name)
		}
	}
	for name, dst := range own {
		src, ok := state[name]
		if !ok {
			return fmt.Errorf("missing tensor %q in state dict", name)
		}
		if !src.Shape().Equal(dst.Shape()) {
			return fmt.Errorf("tensor %q: shape %v does not match model shape %v", name, src.Shape(), dst.Shape())
		}
	}
	for name, dst := range own {
		if err := dst.CopyFrom(state[name]); err != nil {
			return fmt.Errorf("tensor %q: %w", name, err)
		}
	}
	return nil
}
