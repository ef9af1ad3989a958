package storage

import (
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v3"

	"github.com/conveyorci/conveyor/internal/domain"
)

// retryPolicy recovers transient store faults at the component boundary.
// Conflicted badger transactions and connection-class errors are retried
// with bounded attempts; everything else propagates on first failure.
type retryPolicy struct {
	attempts int
	backoff  time.Duration
}

func (p retryPolicy) run(ctx context.Context, op func() error) error {
	attempts := p.attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		if err = op(); err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.backoff * time.Duration(i+1)):
		}
	}

	return err
}

func isRetryable(err error) bool {
	if errors.Is(err, badger.ErrConflict) {
		return true
	}
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false
	}
	return domain.IsTransient(err)
}
