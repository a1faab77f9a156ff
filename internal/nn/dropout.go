package nn

import (
	"fmt"

	"github.com/nutriscan/nutriscan/internal/autodiff/ops"
	"github.com/nutriscan/nutriscan/internal/backend/cpu"
	"github.com/nutriscan/nutriscan/internal/tensor"
)

// Dropout zeroes a random fraction of its input during training.
//
// Kept units are scaled by 1/(1-rate) so the expected activation matches
// inference, where the layer is the identity.
type Dropout struct {
	name    string
	rate    float32
	backend *cpu.CPUBackend
}

// NewDropout creates a dropout layer. rate must be in [0, 1).
func NewDropout(name string, rate float32, backend *cpu.CPUBackend) *Dropout {
	if rate < 0 || rate >= 1 {
		panic(fmt.Sprintf("dropout: rate %v out of range [0, 1)", rate))
	}
	return &Dropout{name: name, rate: rate, backend: backend}
}

// Name returns the layer name.
func (d *Dropout) Name() string { return d.name }

// Kind returns KindDropout.
func (d *Dropout) Kind() Kind { return KindDropout }

// Rate returns the drop probability.
func (d *Dropout) Rate() float32 { return d.rate }

// Forward applies a fresh random mask in training mode and passes input
// through unchanged otherwise.
func (d *Dropout) Forward(ctx *Context, input *tensor.Tensor) *tensor.Tensor {
	if !ctx.Training() || d.rate == 0 {
		return input
	}
	if ctx.Rand == nil {
		panic("dropout: training context has no random source")
	}

	mask := tensor.New(input.Shape())
	keep := 1 / (1 - d.rate)
	for i := range mask.Data() {
		if ctx.Rand.Float32() >= d.rate {
			mask.Data()[i] = keep
		}
	}
	out := d.backend.Mul(input, mask)
	ctx.record(ops.NewDropoutOp(input, mask, out))
	return out
}

// OutputShape returns the input shape unchanged.
func (d *Dropout) OutputShape(in tensor.Shape) (tensor.Shape, error) {
	return in.Clone(), nil
}

// Parameters returns an empty slice.
func (d *Dropout) Parameters() []*Parameter {
	return nil
}
