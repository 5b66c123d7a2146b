package api

import (
	"context"
	"time"

	"codesession/pkg/types"
)

// Runner executes a student's code and reports the outcome. Real
// execution engines live behind this boundary; the API layer only
// forwards code and settings and relays the result.
type Runner interface {
	Execute(ctx context.Context, code string, settings map[string]any) (*types.ExecutionResult, error)
}

// noopRunner accepts every submission without running it. Deployments
// wire a real engine through the Runner interface; the noop keeps the
// endpoint contract intact when none is configured.
type noopRunner struct{}

// NewNoopRunner returns the default runner
func NewNoopRunner() Runner {
	return noopRunner{}
}

func (noopRunner) Execute(ctx context.Context, code string, settings map[string]any) (*types.ExecutionResult, error) {
	start := time.Now()
	return &types.ExecutionResult{
		Success:       true,
		Output:        "",
		ExecutionTime: time.Since(start).Milliseconds(),
	}, nil
}
