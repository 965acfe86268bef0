package jobs

import (
	"context"
	"time"

	"helpboard-backend/internal/logger"
)

// PurgeIdempotencyKeys drops idempotency records older than the configured TTL.
// A retried request older than that is treated as new.
func (jr *JobRunner) PurgeIdempotencyKeys() {
	_ = jr.purgeIdempotencyKeys()
}

func (jr *JobRunner) purgeIdempotencyKeys() error {
	return jr.runWithRecovery("PurgeIdempotencyKeys", func(ctx context.Context) error {
		ttl := time.Duration(jr.config.Ledger.IdempotencyTTLHours) * time.Hour
		n, err := jr.store.Idempotency().PurgeBefore(ctx, jr.now().Add(-ttl))
		if err != nil {
			return err
		}
		logger.Info("Purged idempotency keys", "count", n)
		return nil
	})
}
