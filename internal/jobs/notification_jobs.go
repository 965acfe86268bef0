package jobs

import (
	"context"
	"time"

	"helpboard-backend/internal/logger"
)

const (
	retryBatchSize     = 200
	reconcileBatchSize = 500
)

// RetryNotificationDelivery re-delivers pending and failed notifications
func (jr *JobRunner) RetryNotificationDelivery() {
	_ = jr.retryNotificationDelivery()
}

func (jr *JobRunner) retryNotificationDelivery() error {
	return jr.runWithRecovery("RetryNotificationDelivery", func(ctx context.Context) error {
		delivered, err := jr.engine.RetryDeliveries(ctx, retryBatchSize)
		if err != nil {
			return err
		}
		logger.Info("Retried notification deliveries", "delivered", delivered)
		return nil
	})
}

// ReconcileNotifications replays the recent change log through the engine so
// notifications lost to a crash between commit and fan-out are created.
func (jr *JobRunner) ReconcileNotifications() {
	_ = jr.reconcileNotifications()
}

func (jr *JobRunner) reconcileNotifications() error {
	return jr.runWithRecovery("ReconcileNotifications", func(ctx context.Context) error {
		window := time.Duration(jr.config.Scheduler.ReconcileWindowHours) * time.Hour
		created, err := jr.engine.Reconcile(ctx, jr.now().Add(-window), reconcileBatchSize)
		if err != nil {
			return err
		}
		if created > 0 {
			logger.Warn("Reconcile created missing notifications", "count", created)
		}
		return nil
	})
}

// PurgeReadNotifications deletes read notifications past the retention window
func (jr *JobRunner) PurgeReadNotifications() {
	_ = jr.purgeReadNotifications()
}

func (jr *JobRunner) purgeReadNotifications() error {
	return jr.runWithRecovery("PurgeReadNotifications", func(ctx context.Context) error {
		before := jr.now().AddDate(0, 0, -jr.config.Scheduler.ReadNotificationMaxDays)
		n, err := jr.store.Notifications().PurgeRead(ctx, before)
		if err != nil {
			return err
		}
		logger.Info("Purged read notifications", "count", n, "before", before)
		return nil
	})
}
