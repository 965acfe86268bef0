package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	JWT       JWTConfig       `yaml:"jwt"`
	Log       LogConfig       `yaml:"log"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Community CommunityConfig `yaml:"community"`
	Feed      FeedConfig      `yaml:"feed"`
	Delivery  DeliveryConfig  `yaml:"delivery"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host string `yaml:"host" env:"SERVER_HOST"`
	Port int    `yaml:"port" env:"SERVER_PORT"`
}

// DatabaseConfig selects the store. Driver is "postgres" or "sqlite".
type DatabaseConfig struct {
	Driver     string `yaml:"driver" env:"DB_DRIVER"`
	Host       string `yaml:"host" env:"DB_HOST"`
	Port       int    `yaml:"port" env:"DB_PORT"`
	User       string `yaml:"user" env:"DB_USER"`
	Password   string `yaml:"password" env:"DB_PASSWORD"`
	Database   string `yaml:"database" env:"DB_NAME"`
	SSLMode    string `yaml:"ssl_mode" env:"DB_SSL_MODE"`
	SQLitePath string `yaml:"sqlite_path" env:"DB_SQLITE_PATH"`
}

// JWTConfig contains bearer token settings
type JWTConfig struct {
	Secret string `yaml:"secret" env:"JWT_SECRET"`
	Issuer string `yaml:"issuer" env:"JWT_ISSUER"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`   // "debug", "info", "warn", "error"
	Format string `yaml:"format" env:"LOG_FORMAT"` // "json" or "text"
}

type LedgerConfig struct {
	FraudThreshold      int `yaml:"fraud_threshold" env:"LEDGER_FRAUD_THRESHOLD"`
	ConflictRetries     int `yaml:"conflict_retries" env:"LEDGER_CONFLICT_RETRIES"`
	IdempotencyTTLHours int `yaml:"idempotency_ttl_hours" env:"LEDGER_IDEMPOTENCY_TTL_HOURS"`
}

// CommunityConfig holds the trust thresholds for community creation and joins.
// A zero join threshold disables trusted joins.
type CommunityConfig struct {
	CreationTrustThreshold float64 `yaml:"creation_trust_threshold" env:"COMMUNITY_CREATION_TRUST_THRESHOLD"`
	JoinTrustThreshold     float64 `yaml:"join_trust_threshold" env:"COMMUNITY_JOIN_TRUST_THRESHOLD"`
}

// FeedConfig configures the in-process broker and the optional Redis relay.
type FeedConfig struct {
	SubscriberBuffer int    `yaml:"subscriber_buffer" env:"FEED_SUBSCRIBER_BUFFER"`
	RedisAddr        string `yaml:"redis_addr" env:"FEED_REDIS_ADDR"`
	RedisChannel     string `yaml:"redis_channel" env:"FEED_REDIS_CHANNEL"`
}

// DeliveryConfig selects the out-of-band channels: "log", "fcm", "sendgrid" or "all".
type DeliveryConfig struct {
	Mode                string `yaml:"mode" env:"DELIVERY_MODE"`
	FirebaseCredentials string `yaml:"firebase_credentials_file" env:"FIREBASE_CREDENTIALS_FILE"`
	SendGridAPIKey      string `yaml:"sendgrid_api_key" env:"SENDGRID_API_KEY"`
	FromEmail           string `yaml:"from_email" env:"DELIVERY_FROM_EMAIL"`
	FromName            string `yaml:"from_name" env:"DELIVERY_FROM_NAME"`
	MaxAttempts         int    `yaml:"max_attempts" env:"DELIVERY_MAX_ATTEMPTS"`
	RetryAfterSeconds   int    `yaml:"retry_after_seconds" env:"DELIVERY_RETRY_AFTER_SECONDS"`
}

// SchedulerConfig contains cron schedule settings (with seconds)
type SchedulerConfig struct {
	RetryDeliveries         string `yaml:"retry_deliveries"`
	ReconcileNotifications  string `yaml:"reconcile_notifications"`
	PurgeIdempotencyKeys    string `yaml:"purge_idempotency_keys"`
	PurgeReadNotifications  string `yaml:"purge_read_notifications"`
	ReconcileWindowHours    int    `yaml:"reconcile_window_hours"`
	ReadNotificationMaxDays int    `yaml:"read_notification_max_days"`
}

// TelemetryConfig enables OTLP trace export when Endpoint is set.
type TelemetryConfig struct {
	Endpoint    string  `yaml:"otlp_endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName string  `yaml:"service_name" env:"OTEL_SERVICE_NAME"`
	SampleRatio float64 `yaml:"sample_ratio" env:"OTEL_SAMPLE_RATIO"`
}

// Load reads configuration from a YAML file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, overlays environment variables and validates.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Variables that are set win over the file; unset ones leave it alone.
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks if the configuration is valid and fills in defaults
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	c.Database.Driver = strings.ToLower(c.Database.Driver)
	switch c.Database.Driver {
	case "", "postgres":
		c.Database.Driver = "postgres"
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.Database.User == "" {
			return fmt.Errorf("database user is required")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
		if c.Database.Port == 0 {
			c.Database.Port = 5432
		}
		if c.Database.SSLMode == "" {
			c.Database.SSLMode = "disable"
		}
	case "sqlite":
		if c.Database.SQLitePath == "" {
			return fmt.Errorf("sqlite path is required")
		}
	default:
		return fmt.Errorf("unsupported database driver: %q", c.Database.Driver)
	}

	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT secret is required")
	}
	if len(c.JWT.Secret) < 32 {
		return fmt.Errorf("JWT secret must be at least 32 characters")
	}
	if c.JWT.Issuer == "" {
		c.JWT.Issuer = "helpboard"
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}

	if c.Ledger.FraudThreshold == 0 {
		c.Ledger.FraudThreshold = 10
	}
	if c.Ledger.FraudThreshold < 0 {
		return fmt.Errorf("fraud threshold must be positive")
	}
	if c.Ledger.ConflictRetries == 0 {
		c.Ledger.ConflictRetries = 3
	}
	if c.Ledger.IdempotencyTTLHours == 0 {
		c.Ledger.IdempotencyTTLHours = 24
	}

	if c.Community.CreationTrustThreshold == 0 {
		c.Community.CreationTrustThreshold = 0.8
	}
	if c.Community.CreationTrustThreshold < 0 || c.Community.CreationTrustThreshold > 1 {
		return fmt.Errorf("creation trust threshold must be within [0, 1]")
	}
	if c.Community.JoinTrustThreshold < 0 || c.Community.JoinTrustThreshold > 1 {
		return fmt.Errorf("join trust threshold must be within [0, 1]")
	}

	if c.Feed.RedisAddr != "" && c.Feed.RedisChannel == "" {
		c.Feed.RedisChannel = "helpboard:changes"
	}

	c.Delivery.Mode = strings.ToLower(c.Delivery.Mode)
	switch c.Delivery.Mode {
	case "":
		c.Delivery.Mode = "log"
	case "log":
	case "fcm", "sendgrid", "all":
		if c.Delivery.Mode != "sendgrid" && c.Delivery.FirebaseCredentials == "" {
			return fmt.Errorf("firebase credentials file is required for delivery mode %q", c.Delivery.Mode)
		}
		if c.Delivery.Mode != "fcm" && (c.Delivery.SendGridAPIKey == "" || c.Delivery.FromEmail == "") {
			return fmt.Errorf("sendgrid api key and from email are required for delivery mode %q", c.Delivery.Mode)
		}
	default:
		return fmt.Errorf("unsupported delivery mode: %q", c.Delivery.Mode)
	}
	if c.Delivery.MaxAttempts == 0 {
		c.Delivery.MaxAttempts = 5
	}
	if c.Delivery.RetryAfterSeconds == 0 {
		c.Delivery.RetryAfterSeconds = 60
	}
	if c.Delivery.FromName == "" {
		c.Delivery.FromName = "Helpboard"
	}

	if c.Scheduler.RetryDeliveries == "" {
		c.Scheduler.RetryDeliveries = "0 */2 * * * *" // every 2 minutes
	}
	if c.Scheduler.ReconcileNotifications == "" {
		c.Scheduler.ReconcileNotifications = "0 */15 * * * *" // every 15 minutes
	}
	if c.Scheduler.PurgeIdempotencyKeys == "" {
		c.Scheduler.PurgeIdempotencyKeys = "0 0 3 * * *" // 3 AM UTC
	}
	if c.Scheduler.PurgeReadNotifications == "" {
		c.Scheduler.PurgeReadNotifications = "0 30 3 * * *" // 3:30 AM UTC
	}
	if c.Scheduler.ReconcileWindowHours == 0 {
		c.Scheduler.ReconcileWindowHours = 1
	}
	if c.Scheduler.ReadNotificationMaxDays == 0 {
		c.Scheduler.ReadNotificationMaxDays = 90
	}

	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "helpboard-backend"
	}
	if c.Telemetry.SampleRatio == 0 {
		c.Telemetry.SampleRatio = 1
	}
	return nil
}

// GetDatabaseConnectionString returns the DSN for the configured driver
func (c *Config) GetDatabaseConnectionString() string {
	if c.Database.Driver == "sqlite" {
		return c.Database.SQLitePath
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
		c.Database.SSLMode,
	)
}

// GetServerAddress returns the HTTP listen address
func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
