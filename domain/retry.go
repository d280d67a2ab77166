package domain

import (
	"context"
	"errors"
)

// MaxCommitAttempts bounds how often a read-modify-write operation is re-run
// after its batch lost an optimistic concurrency race.
const MaxCommitAttempts = 5

// retryOnConflict re-runs fn while it fails with ErrConcurrencyConflict. fn
// must re-read everything it writes on each attempt.
func retryOnConflict(ctx context.Context, attempts int, fn func() error) error {
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		err = fn()
		if !errors.Is(err, ErrConcurrencyConflict) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
	}
	return err
}
