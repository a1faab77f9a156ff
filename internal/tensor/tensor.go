// Package tensor provides the dense float32 tensor used throughout nutriscan.
//
// Tensors are row-major. Image batches use the channel-first layout
// [batch, channels, height, width] expected by the convolution kernels.
//
// Tensor identity matters: the gradient tape keys gradients by *Tensor, so
// Reshape returns a new *Tensor that shares storage with its source.
package tensor

import (
	"fmt"
	"math"
)

// Tensor is a dense float32 tensor.
type Tensor struct {
	shape Shape
	data  []float32
}

// New creates a zero-filled tensor with the given shape.
//
// Panics if the shape has a non-positive dimension.
func New(shape Shape) *Tensor {
	if err := shape.Validate(); err != nil {
		panic(fmt.Sprintf("tensor.New: %v", err))
	}
	return &Tensor{
		shape: shape.Clone(),
		data:  make([]float32, shape.NumElements()),
	}
}

// Zeros is an alias of New.
func Zeros(shape Shape) *Tensor {
	return New(shape)
}

// Full creates a tensor with every element set to value.
func Full(shape Shape, value float32) *Tensor {
	t := New(shape)
	for i := range t.data {
		t.data[i] = value
	}
	return t
}

// Ones creates a tensor filled with ones.
func Ones(shape Shape) *Tensor {
	return Full(shape, 1)
}

// FromSlice creates a tensor from a Go slice.
// The slice is copied into the tensor's memory.
func FromSlice(data []float32, shape Shape) (*Tensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	if shape.NumElements() != len(data) {
		return nil, fmt.Errorf("shape %v requires %d elements, but got %d", shape, shape.NumElements(), len(data))
	}
	t := New(shape)
	copy(t.data, data)
	return t, nil
}

// Shape returns the tensor's shape.
func (t *Tensor) Shape() Shape {
	return t.shape
}

// Data returns the underlying storage. Writes are visible to every tensor
// sharing the storage.
func (t *Tensor) Data() []float32 {
	return t.data
}

// NumElements returns the total number of elements.
func (t *Tensor) NumElements() int {
	return len(t.data)
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	data := make([]float32, len(t.data))
	copy(data, t.data)
	return &Tensor{shape: t.shape.Clone(), data: data}
}

// CopyFrom overwrites t's elements with src's. Shapes must have the same
// number of elements.
func (t *Tensor) CopyFrom(src *Tensor) error {
	if len(src.data) != len(t.data) {
		return fmt.Errorf("copy %v into %v: element count mismatch", src.shape, t.shape)
	}
	copy(t.data, src.data)
	return nil
}

// Reshape returns a view of t with a new shape. Storage is shared.
//
// Panics if the element count changes.
func (t *Tensor) Reshape(dims ...int) *Tensor {
	shape := Shape(dims)
	if shape.NumElements() != len(t.data) {
		panic(fmt.Sprintf("tensor.Reshape: cannot reshape %v (%d elements) to %v", t.shape, len(t.data), shape))
	}
	return &Tensor{shape: shape.Clone(), data: t.data}
}

// At returns the element at the given multi-dimensional index.
func (t *Tensor) At(idx ...int) float32 {
	return t.data[t.offset(idx)]
}

// Set writes the element at the given multi-dimensional index.
func (t *Tensor) Set(value float32, idx ...int) {
	t.data[t.offset(idx)] = value
}

func (t *Tensor) offset(idx []int) int {
	if len(idx) != len(t.shape) {
		panic(fmt.Sprintf("tensor: index rank %d != tensor rank %d", len(idx), len(t.shape)))
	}
	off := 0
	for i, v := range idx {
		if v < 0 || v >= t.shape[i] {
			panic(fmt.Sprintf("tensor: index %v out of range for shape %v", idx, t.shape))
		}
		off = off*t.shape[i] + v
	}
	return off
}

// AddInPlace accumulates other into t element-wise.
func (t *Tensor) AddInPlace(other *Tensor) {
	if len(other.data) != len(t.data) {
		panic(fmt.Sprintf("tensor.AddInPlace: shape %v vs %v", t.shape, other.shape))
	}
	for i, v := range other.data {
		t.data[i] += v
	}
}

// Fill sets every element to value.
func (t *Tensor) Fill(value float32) {
	for i := range t.data {
		t.data[i] = value
	}
}

// Max returns the largest element.
func (t *Tensor) Max() float32 {
	m := float32(math.Inf(-1))
	for _, v := range t.data {
		if v > m {
			m = v
		}
	}
	return m
}

// Sum returns the sum of all elements, accumulated in float64.
func (t *Tensor) Sum() float64 {
	var s float64
	for _, v := range t.data {
		s += float64(v)
	}
	return s
}

// AllFinite reports whether no element is NaN or ±Inf.
func (t *Tensor) AllFinite() bool {
	for _, v := range t.data {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

// String returns a short description, not the data.
func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v)", t.shape)
}
