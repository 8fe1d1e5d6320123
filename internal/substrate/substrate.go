// Package substrate defines the execution-backend contract that the
// convergence engine and direct-execution task runner dispatch through.
// Concrete backends live in sub-packages: mock (tests), cli (local CLI
// runner), and anthropicapi (remote API runner).
package substrate

import (
	"context"
	"time"
)

// Request is one dispatch to a substrate backend.
type Request struct {
	Prompt      string
	WorkDir     string
	AgentType   string
	MaxTurns    int
	Timeout     time.Duration
	// ParallelSamples, when > 1, asks the substrate to produce that many
	// independent attempts for the caller to pick the best of.
	ParallelSamples int
}

// Result is one substrate attempt's raw output, before signal extraction.
type Result struct {
	Output     string
	TokensUsed int64
	WallMs     int64
}

// Substrate dispatches prompts to an underlying agent execution backend.
type Substrate interface {
	// Run executes one request. If req.ParallelSamples > 1 the backend may
	// run them concurrently and returns one Result per sample, in no
	// particular order.
	Run(ctx context.Context, req Request) ([]Result, error)
	Name() string
}
