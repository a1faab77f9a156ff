package cpu

import (
	"fmt"

	"github.com/nutriscan/nutriscan/internal/parallel"
	"github.com/nutriscan/nutriscan/internal/tensor"
)

// Linear computes y = x @ W^T + b.
//
// Input shape:  [batch, in_features]
// Weight shape: [out_features, in_features]
// Bias shape:   [out_features] or nil
// Output shape: [batch, out_features]
func (cpu *CPUBackend) Linear(input, weight, bias *tensor.Tensor) *tensor.Tensor {
	inShape, wShape := input.Shape(), weight.Shape()
	if len(inShape) != 2 || len(wShape) != 2 {
		panic(fmt.Sprintf("linear: expected 2D input and weight, got %v and %v", inShape, wShape))
	}
	N, In := inShape[0], inShape[1]
	Out := wShape[0]
	if wShape[1] != In {
		panic(fmt.Sprintf("linear: input features %d != weight features %d", In, wShape[1]))
	}

	output := tensor.New(tensor.Shape{N, Out})
	x, w, y := input.Data(), weight.Data(), output.Data()
	var b []float32
	if bias != nil {
		b = bias.Data()
	}

	parallel.For(N*Out, func(k int) {
		n, o := k/Out, k%Out
		row := x[n*In : (n+1)*In]
		wRow := w[o*In : (o+1)*In]
		var sum float32
		for i, v := range row {
			sum += v * wRow[i]
		}
		if b != nil {
			sum += b[o]
		}
		y[k] = sum
	}, cpu.cfg)

	return output
}

// LinearBackward returns gradients w.r.t. input, weight and bias:
//
//	dx = grad @ W
//	dW = grad^T @ x
//	db = sum(grad, axis=0)
func (cpu *CPUBackend) LinearBackward(input, weight, grad *tensor.Tensor) (dx, dw, db *tensor.Tensor) {
	N, In := input.Shape()[0], input.Shape()[1]
	Out := weight.Shape()[0]

	dx = tensor.New(input.Shape())
	dw = tensor.New(weight.Shape())
	db = tensor.New(tensor.Shape{Out})

	x, w, g := input.Data(), weight.Data(), grad.Data()
	dxData, dwData, dbData := dx.Data(), dw.Data(), db.Data()

	parallel.For(N, func(n int) {
		dRow := dxData[n*In : (n+1)*In]
		for o := 0; o < Out; o++ {
			gv := g[n*Out+o]
			wRow := w[o*In : (o+1)*In]
			for i := range dRow {
				dRow[i] += gv * wRow[i]
			}
		}
	}, cpu.cfg)

	parallel.For(Out, func(o int) {
		dwRow := dwData[o*In : (o+1)*In]
		var bsum float32
		for n := 0; n < N; n++ {
			gv := g[n*Out+o]
			bsum += gv
			xRow := x[n*In : (n+1)*In]
			for i := range dwRow {
				dwRow[i] += gv * xRow[i]
			}
		}
		dbData[o] = bsum
	}, cpu.cfg)

	return dx, dw, db
}
