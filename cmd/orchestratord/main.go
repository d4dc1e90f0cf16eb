// Command orchestratord runs the job orchestrator as a standalone process: an HTTP API, an SSE
// job event stream, a WebSocket log firehose, and the worker pool that executes queued jobs.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/faceforge/orchestrator/server/app"
)

const shutdownTimeout = 30 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	config, err := app.ConfigFromFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error parsing configuration: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error constructing orchestrator: %v\n", err)
		return 1
	}

	if err := a.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error starting orchestrator: %v\n", err)
		return 1
	}

	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigC

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := a.Stop(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "error during shutdown: %v\n", err)
		return 1
	}

	if sig == syscall.SIGINT {
		return 130
	}
	return 0
}
