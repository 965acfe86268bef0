package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpapi "helpboard-backend/internal/api/http"
	"helpboard-backend/internal/config"
	"helpboard-backend/internal/delivery"
	"helpboard-backend/internal/feed"
	"helpboard-backend/internal/logger"
	"helpboard-backend/internal/repository/sqlstore"
	"helpboard-backend/internal/security"
	"helpboard-backend/internal/service"
	"helpboard-backend/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "config/config.dev.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger.Initialize(cfg.Log.Level, cfg.Log.Format)
	logger.Info("Starting Helpboard Backend...", "log_level", cfg.Log.Level, "log_format", cfg.Log.Format)
	logger.Info("Server configuration", "address", cfg.GetServerAddress())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		log.Fatalf("Failed to set up tracing: %v", err)
	}

	logger.Info("Opening store", "driver", cfg.Database.Driver, "host", cfg.Database.Host, "database", cfg.Database.Database)
	store, err := sqlstore.Open(ctx, cfg.Database.Driver, cfg.GetDatabaseConnectionString())
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	logger.Info("Database connection established")

	broker := feed.NewBroker(feed.WithMailboxLimit(cfg.Feed.SubscriberBuffer))

	var relay *feed.RedisRelay
	if cfg.Feed.RedisAddr != "" {
		relay, err = feed.NewRedisRelay(ctx, cfg.Feed.RedisAddr, cfg.Feed.RedisChannel, broker)
		if err != nil {
			log.Fatalf("Failed to connect change feed relay: %v", err)
		}
		broker.AddSink(relay)
		if err := relay.Start(ctx); err != nil {
			log.Fatalf("Failed to start change feed relay: %v", err)
		}
	}

	deliverer, err := delivery.New(ctx, cfg.Delivery)
	if err != nil {
		log.Fatalf("Failed to set up notification delivery: %v", err)
	}
	logger.Info("Notification delivery configured", "mode", cfg.Delivery.Mode)

	engine := service.NewNotificationEngine(store, broker, deliverer, service.NotificationEngineConfig{
		MaxAttempts: cfg.Delivery.MaxAttempts,
		RetryAfter:  time.Duration(cfg.Delivery.RetryAfterSeconds) * time.Second,
	})
	if err := engine.Start(broker); err != nil {
		log.Fatalf("Failed to start notification engine: %v", err)
	}

	trust := service.ProfileTrust{Profiles: store.Profiles()}
	services := httpapi.Services{
		Requests: service.NewRequestLedger(store, broker),
		Offers: service.NewOfferLedger(store, broker, service.OfferLedgerConfig{
			FraudThreshold:  cfg.Ledger.FraudThreshold,
			ConflictRetries: cfg.Ledger.ConflictRetries,
		}),
		Communities: service.NewMembershipRegistry(store, broker, trust, service.MembershipConfig{
			CreationTrustThreshold: cfg.Community.CreationTrustThreshold,
			JoinTrustThreshold:     cfg.Community.JoinTrustThreshold,
		}),
		Notifications: service.NewNotificationService(store, broker),
		Views:         service.NewAggregationService(store),
	}
	tokenManager := security.NewTokenManager(cfg.JWT.Secret, cfg.JWT.Issuer)

	// no write timeout: feed streams stay open
	srv := &http.Server{
		Addr:              cfg.GetServerAddress(),
		Handler:           httpapi.NewServer(services, tokenManager, broker),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	go func() {
		logger.Info("HTTP server listening", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	// open streams end when the broker closes their handles
	broker.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown", "error", err)
	}
	engine.Stop()
	if err := relay.Close(); err != nil {
		logger.Warn("Relay close", "error", err)
	}
	if err := store.Close(); err != nil {
		logger.Warn("Store close", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("Tracing shutdown", "error", err)
	}
	logger.Info("Server stopped. Goodbye!")
}
