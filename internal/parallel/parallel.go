// Package parallel splits index ranges across goroutines for the CPU kernels.
//
// Work items must be independent: each index writes only its own outputs, so
// results do not depend on scheduling.
package parallel

import (
	"runtime"
	"sync"
)

// Config controls parallel execution behavior.
type Config struct {
	Enabled      bool // Whether parallel execution is enabled.
	NumWorkers   int  // Number of worker goroutines to use.
	MinChunkSize int  // Minimum items per goroutine to avoid overhead.
}

// DefaultConfig returns defaults based on CPU count.
//
// Kernel work items are whole feature planes, so a chunk of one item is
// already worth a goroutine.
func DefaultConfig() Config {
	n := runtime.NumCPU()
	return Config{
		Enabled:      n > 1,
		NumWorkers:   n,
		MinChunkSize: 1,
	}
}

// Sequential returns a config that never spawns goroutines.
func Sequential() Config {
	return Config{Enabled: false, NumWorkers: 1, MinChunkSize: 1}
}

// For executes f(i) for i in [0, n) with optional parallelism.
// Falls back to sequential execution if parallelism is disabled or n is too small.
func For(n int, f func(i int), cfg Config) {
	if n <= 0 {
		return
	}
	workers := cfg.NumWorkers
	if workers < 1 {
		workers = 1
	}
	minChunk := max(cfg.MinChunkSize, 1)
	if !cfg.Enabled || workers == 1 || n <= minChunk {
		for i := 0; i < n; i++ {
			f(i)
		}
		return
	}

	var wg sync.WaitGroup
	chunkSize := max((n+workers-1)/workers, minChunk)

	for start := 0; start < n; start += chunkSize {
		end := min(start+chunkSize, n)
		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			for i := s; i < e; i++ {
				f(i)
			}
		}(start, end)
	}
	wg.Wait()
}

// ForBatch iterates the batch*channels plane grid used by Conv2D, MaxPool2D
// and BatchNorm.
func ForBatch(batch, channels int, f func(b, c int), cfg Config) {
	For(batch*channels, func(k int) {
		f(k/channels, k%channels)
	}, cfg)
}
