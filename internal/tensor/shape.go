package tensor

import (
	"fmt"
	"slices"
	"strings"
)

// Shape lists a tensor's dimensions, outermost first.
type Shape []int

// NumElements returns the product of the dimensions. An empty shape is a
// scalar with one element.
func (s Shape) NumElements() int {
	n := 1
	for _, d := range s {
		n *= d
	}
	return n
}

// Validate rejects zero and negative dimensions.
func (s Shape) Validate() error {
	for i, d := range s {
		if d <= 0 {
			return fmt.Errorf("dimension %d of %v is %d, must be positive", i, s, d)
		}
	}
	return nil
}

func (s Shape) Equal(other Shape) bool {
	return slices.Equal(s, other)
}

func (s Shape) Clone() Shape {
	return slices.Clone(s)
}

// String formats the shape as "[2 3 224 224]".
func (s Shape) String() string {
	var b strings.Builder
	b.WriteByte('[')
	for i, d := range s {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprint(&b, d)
	}
	b.WriteByte(']')
	return b.String()
}
