package parallel

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFor(t *testing.T) {
	cfg := DefaultConfig()

	var counter int64
	n := 1000

	For(n, func(_ int) {
		atomic.AddInt64(&counter, 1)
	}, cfg)

	assert.Equal(t, int64(n), counter)
}

func TestFor_EachIndexOnce(t *testing.T) {
	cfg := Config{Enabled: true, NumWorkers: 4, MinChunkSize: 1}

	seen := make([]int32, 37)
	For(len(seen), func(i int) {
		atomic.AddInt32(&seen[i], 1)
	}, cfg)

	for i, v := range seen {
		assert.Equal(t, int32(1), v, "index %d", i)
	}
}

func TestForBatch(t *testing.T) {
	cfg := DefaultConfig()

	batch, channels := 4, 8
	results := make([][]bool, batch)
	for b := range results {
		results[b] = make([]bool, channels)
	}

	ForBatch(batch, channels, func(b, c int) {
		results[b][c] = true
	}, cfg)

	for b := 0; b < batch; b++ {
		for c := 0; c < channels; c++ {
			assert.True(t, results[b][c], "missing result at [%d][%d]", b, c)
		}
	}
}

func TestFor_Sequential(t *testing.T) {
	order := make([]int, 0, 10)
	For(10, func(i int) {
		order = append(order, i)
	}, Sequential())

	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, order)
}

func TestFor_Empty(t *testing.T) {
	called := false
	For(0, func(_ int) { called = true }, DefaultConfig())
	assert.False(t, called)
}
