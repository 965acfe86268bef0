package jobs

import (
	"context"
	"fmt"
	"sort"
	"time"

	"helpboard-backend/internal/config"
	"helpboard-backend/internal/logger"
	"helpboard-backend/internal/repository"
)

const jobTimeout = 5 * time.Minute

// NotificationEngine is the part of the notification engine the jobs drive.
type NotificationEngine interface {
	RetryDeliveries(ctx context.Context, limit int) (int, error)
	Reconcile(ctx context.Context, since time.Time, batch int) (int, error)
}

// JobRunner coordinates all scheduled jobs
type JobRunner struct {
	store  repository.Store
	engine NotificationEngine
	config *config.Config
	now    func() time.Time
}

// NewJobRunner creates a new job runner with all dependencies
func NewJobRunner(store repository.Store, engine NotificationEngine, cfg *config.Config) *JobRunner {
	return &JobRunner{
		store:  store,
		engine: engine,
		config: cfg,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Config returns the configuration the runner was built with
func (jr *JobRunner) Config() *config.Config {
	return jr.config
}

// Jobs maps each job's command-line name to its entry point.
func (jr *JobRunner) Jobs() map[string]func() {
	return map[string]func(){
		"retry-notification-delivery": jr.RetryNotificationDelivery,
		"reconcile-notifications":     jr.ReconcileNotifications,
		"purge-idempotency-keys":      jr.PurgeIdempotencyKeys,
		"purge-read-notifications":    jr.PurgeReadNotifications,
	}
}

// JobNames lists the registered jobs in a stable order.
func (jr *JobRunner) JobNames() []string {
	names := make([]string, 0, 4)
	for name := range jr.Jobs() {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RunOnce runs the named job, or every job for "all".
func (jr *JobRunner) RunOnce(name string) error {
	if name == "all" {
		for _, n := range jr.JobNames() {
			jr.Jobs()[n]()
		}
		return nil
	}
	job, ok := jr.Jobs()[name]
	if !ok {
		return fmt.Errorf("unknown job %q", name)
	}
	job()
	return nil
}

// runWithRecovery wraps job execution with panic recovery
func (jr *JobRunner) runWithRecovery(jobName string, jobFunc func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Job panicked", "job", jobName, "panic", r)
			err = fmt.Errorf("job %s panicked: %v", jobName, r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	start := time.Now()
	logger.Info("Starting job", "job", jobName)
	if err := jobFunc(ctx); err != nil {
		logger.Error("Job failed", "job", jobName, "error", err, "duration", time.Since(start))
		return err
	}
	logger.Info("Job completed", "job", jobName, "duration", time.Since(start))
	return nil
}
