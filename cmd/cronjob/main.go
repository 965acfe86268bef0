package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"helpboard-backend/internal/config"
	"helpboard-backend/internal/delivery"
	"helpboard-backend/internal/jobs"
	"helpboard-backend/internal/logger"
	"helpboard-backend/internal/repository/sqlstore"
	"helpboard-backend/internal/scheduler"
	"helpboard-backend/internal/service"
)

func main() {
	configPath := flag.String("config", "config/config.dev.yaml", "Path to configuration file")
	runOnce := flag.String("run-once", "", "Run a specific job once and exit (e.g., 'retry-notification-delivery', 'all')")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger.Initialize(cfg.Log.Level, cfg.Log.Format)
	logger.Info("Starting Helpboard Cronjob Runner...", "log_level", cfg.Log.Level)

	ctx := context.Background()
	store, err := sqlstore.Open(ctx, cfg.Database.Driver, cfg.GetDatabaseConnectionString())
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer store.Close()
	logger.Info("Database connection established")

	deliverer, err := delivery.New(ctx, cfg.Delivery)
	if err != nil {
		log.Fatalf("Failed to set up notification delivery: %v", err)
	}

	// no live subscribers in this process, so the engine publishes nowhere
	engine := service.NewNotificationEngine(store, nil, deliverer, service.NotificationEngineConfig{
		MaxAttempts: cfg.Delivery.MaxAttempts,
		RetryAfter:  time.Duration(cfg.Delivery.RetryAfterSeconds) * time.Second,
	})
	defer engine.Wait()

	jobRunner := jobs.NewJobRunner(store, engine, cfg)

	if *runOnce != "" {
		logger.Info("Running job once", "job", *runOnce)
		if err := jobRunner.RunOnce(*runOnce); err != nil {
			logger.Error("Unknown job name", "job", *runOnce)
			fmt.Printf("Available jobs:\n  - %s\n  - all\n", strings.Join(jobRunner.JobNames(), "\n  - "))
			engine.Wait()
			store.Close()
			os.Exit(1)
		}
		logger.Info("Job execution completed", "job", *runOnce)
		return
	}

	cronScheduler, err := scheduler.NewScheduler(jobRunner)
	if err != nil {
		log.Fatalf("Failed to register jobs: %v", err)
	}
	cronScheduler.Start()
	logger.Info("Cronjob scheduler is running. Press Ctrl+C to stop.")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down cronjob scheduler...")
	cronScheduler.Stop()
	logger.Info("Cronjob scheduler stopped. Goodbye!")
}
