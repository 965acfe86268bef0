package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "0123456789abcdef0123456789abcdef"

func TestParse_DefaultsAndSQLite(t *testing.T) {
	cfg, err := Parse([]byte(`
server:
  port: 8080
database:
  driver: sqlite
  sqlite_path: /tmp/helpboard.db
jwt:
  secret: ` + secret + `
`))
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "/tmp/helpboard.db", cfg.GetDatabaseConnectionString())
	assert.Equal(t, 10, cfg.Ledger.FraudThreshold)
	assert.Equal(t, 3, cfg.Ledger.ConflictRetries)
	assert.Equal(t, 0.8, cfg.Community.CreationTrustThreshold)
	assert.Equal(t, "log", cfg.Delivery.Mode)
	assert.Equal(t, 5, cfg.Delivery.MaxAttempts)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "0 */2 * * * *", cfg.Scheduler.RetryDeliveries)
	assert.Equal(t, ":8080", cfg.GetServerAddress())
}

func TestParse_EnvironmentOverridesFile(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("LEDGER_FRAUD_THRESHOLD", "4")
	t.Setenv("LOG_FORMAT", "json")

	cfg, err := Parse([]byte(`
server:
  port: 9000
database:
  host: localhost
  user: helpboard
  database: helpboard
jwt:
  secret: ` + secret + `
ledger:
  fraud_threshold: 12
`))
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 4, cfg.Ledger.FraudThreshold)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "postgres://helpboard:@db.internal:5432/helpboard?sslmode=disable", cfg.GetDatabaseConnectionString())
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"missing port", "jwt:\n  secret: " + secret, "invalid server port"},
		{"short secret", "server:\n  port: 1\ndatabase:\n  driver: sqlite\n  sqlite_path: x\njwt:\n  secret: short", "at least 32"},
		{"unknown driver", "server:\n  port: 1\ndatabase:\n  driver: mysql", "unsupported database driver"},
		{"fcm without credentials", "server:\n  port: 1\ndatabase:\n  driver: sqlite\n  sqlite_path: x\njwt:\n  secret: " + secret + "\ndelivery:\n  mode: fcm", "firebase credentials"},
		{"bad trust threshold", "server:\n  port: 1\ndatabase:\n  driver: sqlite\n  sqlite_path: x\njwt:\n  secret: " + secret + "\ncommunity:\n  join_trust_threshold: 2", "join trust threshold"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 7000\ndatabase:\n  driver: sqlite\n  sqlite_path: hb.db\njwt:\n  secret: "+secret+"\n"), 0o600))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Server.Port)
}
