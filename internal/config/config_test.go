package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) {
	t.Helper()
	t.Setenv(dotenvPathEnvVar, filepath.Join(t.TempDir(), "missing.env"))
	for _, key := range []string{"APP_ENV", "DATABASE_URL", "JWT_SECRET", "KAFKA_BROKERS", "DEFAULT_CURRENCY",
		shutdownSecondsEnvVar, shutdownDurationEnvVar, idemTTLSecondsEnvVar, idemTTLDurEnvVar, maxAttemptsEnvVar, "AUTO_MIGRATE"} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaultsInDevelopment(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, defaultAppEnv, cfg.AppEnv)
	assert.Equal(t, "KES", cfg.DefaultCurrency)
	assert.Equal(t, defaultMaxAttempts, cfg.MaxCommitAttempts)
	assert.Equal(t, 24*time.Hour, cfg.IdempotencyTTL)
	assert.Equal(t, ":8080", cfg.Address())
	assert.True(t, cfg.IsDev())
	assert.Empty(t, cfg.KafkaBrokers)
}

func TestLoadParsesOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv(shutdownSecondsEnvVar, "3")
	t.Setenv(idemTTLDurEnvVar, "90m")
	t.Setenv(maxAttemptsEnvVar, "12")
	t.Setenv("DEFAULT_CURRENCY", "usd")
	t.Setenv("AUTO_MIGRATE", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 3*time.Second, cfg.ShutdownPeriod)
	assert.Equal(t, 90*time.Minute, cfg.IdempotencyTTL)
	assert.Equal(t, 12, cfg.MaxCommitAttempts)
	assert.Equal(t, "USD", cfg.DefaultCurrency)
	assert.True(t, cfg.AutoMigrate)
}

func TestLoadRequiresDatabaseOutsideDev(t *testing.T) {
	isolate(t)
	t.Setenv("APP_ENV", "production")
	t.Setenv("JWT_SECRET", "s3cret")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestLoadRejectsInvalidAttempts(t *testing.T) {
	isolate(t)
	t.Setenv(maxAttemptsEnvVar, "0")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadReadsDotenvFile(t *testing.T) {
	isolate(t)
	t.Setenv("AUDIT_TOPIC", "")
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("AUDIT_TOPIC=ledger.audit\n"), 0o600))
	t.Setenv(dotenvPathEnvVar, path)
	// godotenv does not override variables already present, even when empty.
	require.NoError(t, os.Unsetenv("AUDIT_TOPIC"))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "ledger.audit", cfg.AuditTopic)
}
