package dataset

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/nutriscan/nutriscan/internal/tensor"
)

// InMemory serves batches from tensors already in memory.
type InMemory struct {
	images    *tensor.Tensor
	labels    []float32
	batchSize int
	order     []int
}

// NewInMemory wraps images [N, C, H, W] and N labels in {0, 1}.
func NewInMemory(images *tensor.Tensor, labels []float32, batchSize int) (*InMemory, error) {
	s := images.Shape()
	if len(s) != 4 {
		return nil, fmt.Errorf("images must be [N C H W], got %v", s)
	}
	if s[0] != len(labels) {
		return nil, fmt.Errorf("%d images but %d labels", s[0], len(labels))
	}
	if batchSize < 1 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	order := make([]int, len(labels))
	for i := range order {
		order[i] = i
	}
	return &InMemory{images: images, labels: labels, batchSize: batchSize, order: order}, nil
}

// Len returns the number of samples.
func (m *InMemory) Len() int { return len(m.order) }

// NumBatches returns the number of batches per epoch.
func (m *InMemory) NumBatches() int {
	return (len(m.order) + m.batchSize - 1) / m.batchSize
}

// Shuffle permutes the sample order.
func (m *InMemory) Shuffle(rng *rand.Rand) {
	rng.Shuffle(len(m.order), func(i, j int) {
		m.order[i], m.order[j] = m.order[j], m.order[i]
	})
}

// Batch copies batch i out of the backing tensors.
func (m *InMemory) Batch(ctx context.Context, i int) (*tensor.Tensor, *tensor.Tensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if i < 0 || i >= m.NumBatches() {
		return nil, nil, fmt.Errorf("batch %d out of range [0, %d)", i, m.NumBatches())
	}
	start := i * m.batchSize
	end := min(start+m.batchSize, len(m.order))
	n := end - start

	s := m.images.Shape()
	per := s[1] * s[2] * s[3]
	x := tensor.Zeros(tensor.Shape{n, s[1], s[2], s[3]})
	y := tensor.Zeros(tensor.Shape{n, 1})
	for k := 0; k < n; k++ {
		src := m.order[start+k]
		copy(x.Data()[k*per:(k+1)*per], m.images.Data()[src*per:(src+1)*per])
		y.Data()[k] = m.labels[src]
	}
	return x, y, nil
}
