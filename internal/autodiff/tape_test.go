package autodiff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nutriscan/nutriscan/internal/autodiff/ops"
	"github.com/nutriscan/nutriscan/internal/backend/cpu"
	"github.com/nutriscan/nutriscan/internal/tensor"
)

func TestGradientTape_RecordingState(t *testing.T) {
	tape := NewGradientTape()
	x := tensor.Ones(tensor.Shape{2})
	y := tensor.Ones(tensor.Shape{2})

	tape.Record(ops.NewReLUOp(x, y))
	assert.Equal(t, 0, tape.NumOps(), "should not record before StartRecording")

	tape.StartRecording()
	tape.Record(ops.NewReLUOp(x, y))
	assert.Equal(t, 1, tape.NumOps())

	tape.Clear()
	assert.Equal(t, 0, tape.NumOps())
	assert.True(t, tape.IsRecording(), "Clear preserves recording state")

	var nilTape *GradientTape
	assert.False(t, nilTape.IsRecording())
}

// addOp is a two-input test operation: out = a + b.
type addOp struct{ a, b, out *tensor.Tensor }

func (op *addOp) Inputs() []*tensor.Tensor { return []*tensor.Tensor{op.a, op.b} }
func (op *addOp) Output() *tensor.Tensor   { return op.out }
func (op *addOp) Backward(g *tensor.Tensor, _ ops.Backend) []*tensor.Tensor {
	return []*tensor.Tensor{g, g}
}

// TestGradientTape_Accumulates tests that a tensor used twice gets the sum of both gradients.
func TestGradientTape_Accumulates(t *testing.T) {
	backend := cpu.New()
	tape := NewGradientTape()
	tape.StartRecording()

	x, err := tensor.FromSlice([]float32{-1, 2}, tensor.Shape{2})
	require.NoError(t, err)

	a := backend.ReLU(x)
	tape.Record(ops.NewReLUOp(x, a))
	b := backend.Sigmoid(x)
	tape.Record(ops.NewSigmoidOp(x, b))
	out := tensor.New(x.Shape())
	out.AddInPlace(a)
	out.AddInPlace(b)
	tape.Record(&addOp{a: a, b: b, out: out})

	grads := tape.Backward(out, tensor.Ones(out.Shape()), backend)

	// relu' + sigmoid'
	want := []float32{0 + b.Data()[0]*(1-b.Data()[0]), 1 + b.Data()[1]*(1-b.Data()[1])}
	assert.InDeltaSlice(t, want, grads[x].Data(), 1e-6)
}

// TestGradientTape_ReshapeViewKeepsGradsApart tests that a reshape view is tracked as its own tensor.
func TestGradientTape_ReshapeViewKeepsGradsApart(t *testing.T) {
	backend := cpu.New()
	tape := NewGradientTape()
	tape.StartRecording()

	x := tensor.Full(tensor.Shape{1, 2, 1, 1}, 3)
	v := x.Reshape(1, 2)
	tape.Record(ops.NewReshapeOp(x, v))
	y := backend.ReLU(v)
	tape.Record(ops.NewReLUOp(v, y))

	grads := tape.Backward(y, tensor.Full(y.Shape(), 2), backend)

	require.Contains(t, grads, x)
	assert.True(t, grads[x].Shape().Equal(x.Shape()))
	assert.True(t, grads[v].Shape().Equal(v.Shape()))
	assert.Equal(t, []float32{2, 2}, grads[x].Data())
}

// TestGradientTape_SkipsUnreachedOps tests that ops not leading to the output are ignored.
func TestGradientTape_SkipsUnreachedOps(t *testing.T) {
	backend := cpu.New()
	tape := NewGradientTape()
	tape.StartRecording()

	x := tensor.Ones(tensor.Shape{2})
	side := backend.ReLU(x)
	tape.Record(ops.NewReLUOp(x, side))
	z := tensor.Ones(tensor.Shape{2})
	y := backend.Sigmoid(z)
	tape.Record(ops.NewSigmoidOp(z, y))

	grads := tape.Backward(y, tensor.Ones(y.Shape()), backend)
	// Lookups are by pointer: x and z hold equal values.
	_, ok := grads[z]
	assert.True(t, ok)
	_, ok = grads[x]
	assert.False(t, ok)
	assert.Len(t, grads, 2)
}

func TestBackward_RequiresScalar(t *testing.T) {
	backend := cpu.New()
	tape := NewGradientTape()

	_, err := Backward(tape, tensor.Ones(tensor.Shape{2}), backend)
	assert.Error(t, err)

	loss := tensor.Ones(tensor.Shape{1})
	grads, err := Backward(tape, loss, backend)
	require.NoError(t, err)
	assert.Equal(t, []float32{1}, grads[loss].Data())
}
