package executor

import (
	"time"

	"github.com/conveyorci/conveyor/internal/domain"
	"github.com/conveyorci/conveyor/internal/ports"
)

// RemainingTimeout derives a task timeout from the enclosing scope's start
// time and declared budget, never from the step's own start, so retried or
// resumed steps inherit the shrinking remainder instead of resetting the
// clock. The result is floored at the configured minimum even when the
// scope's deadline has notionally elapsed.
func RemainingTimeout(sctx ports.StepContext, cfg domain.ExecutorConfig) time.Duration {
	budget := sctx.ScopeTimeout
	if budget <= 0 {
		budget = cfg.DefaultTimeout
	}

	remaining := budget
	if !sctx.ScopeStartedAt.IsZero() {
		remaining = budget - time.Since(sctx.ScopeStartedAt)
	}

	if remaining < cfg.MinTaskTimeout {
		return cfg.MinTaskTimeout
	}
	return remaining
}
