// Command nutriscan trains, runs and serves the malnutrition image
// classifier.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// Set with -ldflags "-X main.Version=...".
var (
	Version   = "v0.1.0-dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
