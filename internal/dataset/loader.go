package dataset

import (
	"context"
	"fmt"
	"math/rand"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/nutriscan/nutriscan/internal/fault"
	"github.com/nutriscan/nutriscan/internal/imageio"
	"github.com/nutriscan/nutriscan/internal/model"
	"github.com/nutriscan/nutriscan/internal/tensor"
)

// DefaultBatchSize matches the usual directory-iterator default.
const DefaultBatchSize = 32

// Loader decodes batches from a Dataset on demand. Images are not cached;
// each epoch reads them from disk again.
type Loader struct {
	ds        *Dataset
	pre       *imageio.Preprocessor
	batchSize int
	workers   int
	order     []int
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithWorkers limits the number of images decoded concurrently.
func WithWorkers(n int) LoaderOption {
	return func(l *Loader) {
		if n > 0 {
			l.workers = n
		}
	}
}

// NewLoader creates a loader over ds. Samples are served in dataset order
// until Shuffle is called.
func NewLoader(ds *Dataset, pre *imageio.Preprocessor, batchSize int, opts ...LoaderOption) (*Loader, error) {
	if batchSize < 1 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	l := &Loader{
		ds:        ds,
		pre:       pre,
		batchSize: batchSize,
		workers:   runtime.NumCPU(),
		order:     make([]int, ds.Len()),
	}
	for i := range l.order {
		l.order[i] = i
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Len returns the number of samples.
func (l *Loader) Len() int { return len(l.order) }

// NumBatches returns the number of batches per epoch. The last batch may be
// short.
func (l *Loader) NumBatches() int {
	return (len(l.order) + l.batchSize - 1) / l.batchSize
}

// Shuffle permutes the sample order for the next epoch.
func (l *Loader) Shuffle(rng *rand.Rand) {
	rng.Shuffle(len(l.order), func(i, j int) {
		l.order[i], l.order[j] = l.order[j], l.order[i]
	})
}

// Batch decodes batch i. It returns images [B, 3, R, R] and targets [B, 1].
func (l *Loader) Batch(ctx context.Context, i int) (*tensor.Tensor, *tensor.Tensor, error) {
	if i < 0 || i >= l.NumBatches() {
		return nil, nil, fmt.Errorf("batch %d out of range [0, %d)", i, l.NumBatches())
	}
	start := i * l.batchSize
	end := min(start+l.batchSize, len(l.order))
	n := end - start
	res := l.pre.Resolution()

	x := tensor.Zeros(tensor.Shape{n, model.Channels, res, res})
	y := tensor.Zeros(tensor.Shape{n, 1})
	per := model.Channels * res * res

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(l.workers)
	for k := 0; k < n; k++ {
		sample := l.ds.Samples[l.order[start+k]]
		y.Data()[k] = float32(sample.Label)
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			img, _, err := l.pre.Load(sample.Path)
			if err != nil {
				return err
			}
			// Each goroutine owns a disjoint slice of x.
			copy(x.Data()[k*per:(k+1)*per], img.Data())
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if fault.KindOf(err) == fault.KindUnknown {
			err = fault.IO("dataset.Batch", l.ds.Root, err)
		}
		return nil, nil, err
	}
	return x, y, nil
}
