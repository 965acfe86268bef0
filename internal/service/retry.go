package service

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"helpboard-backend/internal/domain"
	"helpboard-backend/internal/logger"
)

// DefaultConflictRetries bounds RetryOnConflict when no explicit limit is set.
const DefaultConflictRetries = 3

// RetryOnConflict runs fn until it succeeds, returns an error other than
// domain.ErrConflict, or attempts calls have failed with a conflict. fn must
// re-read whatever state it depends on.
func RetryOnConflict(ctx context.Context, attempts int, fn func(ctx context.Context) error) error {
	if attempts <= 0 {
		attempts = DefaultConflictRetries
	}
	try := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		try++
		err := fn(ctx)
		if err == nil {
			return struct{}{}, nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return struct{}{}, backoff.Permanent(err)
		}
		logger.Debug("Retrying after conflict", "attempt", try, "error", err)
		return struct{}{}, err
	}, backoff.WithBackOff(conflictBackOff()), backoff.WithMaxTries(uint(attempts)))
	return err
}

func conflictBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond
	return b
}
