package nn

import (
	"math"
	"math/rand"

	"github.com/nutriscan/nutriscan/internal/tensor"
)

// Xavier (Glorot) initialization for weights.
//
// Initializes weights with values drawn from a uniform distribution:
// U(-sqrt(6/(fan_in + fan_out)), sqrt(6/(fan_in + fan_out)))
//
// This is the Keras default for Conv2D and Dense kernels.
func Xavier(fanIn, fanOut int, shape tensor.Shape, rng *rand.Rand) *tensor.Tensor {
	bound := math.Sqrt(6.0 / float64(fanIn+fanOut))

	t := tensor.New(shape)
	data := t.Data()
	for i := range data {
		//nolint:gosec // Using math/rand for weight initialization (not security-critical)
		data[i] = float32((rng.Float64()*2.0 - 1.0) * bound)
	}
	return t
}
