package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultAppName          = "VaultCore"
	defaultAppEnv           = "development"
	defaultPort             = "8080"
	defaultLogLevel         = "info"
	defaultShutdownDelay    = 10 * time.Second
	defaultIdempotencyTTL   = 24 * time.Hour
	defaultMaxAttempts      = 64
	defaultRateLimit        = 60
	defaultCurrency         = "KES"
	defaultAuditTopic       = "vault.audit"
	idemTTLSecondsEnvVar    = "IDEMPOTENCY_TTL_SECONDS"
	idemTTLDurEnvVar        = "IDEMPOTENCY_TTL"
	shutdownSecondsEnvVar   = "SHUTDOWN_TIMEOUT_SECONDS"
	shutdownDurationEnvVar  = "SHUTDOWN_TIMEOUT"
	maxAttemptsEnvVar       = "LEDGER_MAX_ATTEMPTS"
	rateLimitEnvVar         = "RATE_LIMIT_PER_MINUTE"
	dotenvPathEnvVar        = "DOTENV_PATH"
	defaultDotenvPath       = ".env"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName            string
	AppEnv             string
	Port               string
	LogLevel           string
	DatabaseURL        string
	RedisURL           string
	KafkaBrokers       []string
	AuditTopic         string
	JWTSecret          string
	DefaultCurrency    string
	AutoMigrate        bool
	ShutdownPeriod     time.Duration
	IdempotencyTTL     time.Duration
	MaxCommitAttempts  int
	RateLimitPerMinute int
}

// Load reads configuration values from the environment and populates a Config instance.
// A dotenv file is merged first when present; real environment variables win.
func Load() (Config, error) {
	path := getEnv(dotenvPathEnvVar, defaultDotenvPath)
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load %s: %w", path, err)
	}

	cfg := Config{
		AppName:            getEnv("APP_NAME", defaultAppName),
		AppEnv:             getEnv("APP_ENV", defaultAppEnv),
		Port:               getEnv("PORT", defaultPort),
		LogLevel:           strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		RedisURL:           os.Getenv("REDIS_URL"),
		KafkaBrokers:       splitList(os.Getenv("KAFKA_BROKERS")),
		AuditTopic:         getEnv("AUDIT_TOPIC", defaultAuditTopic),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		DefaultCurrency:    strings.ToUpper(getEnv("DEFAULT_CURRENCY", defaultCurrency)),
		ShutdownPeriod:     defaultShutdownDelay,
		IdempotencyTTL:     defaultIdempotencyTTL,
		MaxCommitAttempts:  defaultMaxAttempts,
		RateLimitPerMinute: defaultRateLimit,
	}

	var err error
	if cfg.ShutdownPeriod, err = durationEnv(shutdownSecondsEnvVar, shutdownDurationEnvVar, cfg.ShutdownPeriod); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = durationEnv(idemTTLSecondsEnvVar, idemTTLDurEnvVar, cfg.IdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.MaxCommitAttempts, err = intEnv(maxAttemptsEnvVar, cfg.MaxCommitAttempts); err != nil {
		return Config{}, err
	}
	if cfg.MaxCommitAttempts < 1 {
		return Config{}, fmt.Errorf("%s must be at least 1", maxAttemptsEnvVar)
	}
	if cfg.RateLimitPerMinute, err = intEnv(rateLimitEnvVar, cfg.RateLimitPerMinute); err != nil {
		return Config{}, err
	}

	if v := os.Getenv("AUTO_MIGRATE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid AUTO_MIGRATE: %w", err)
		}
		cfg.AutoMigrate = b
	}

	if len(cfg.DefaultCurrency) != 3 {
		return Config{}, fmt.Errorf("DEFAULT_CURRENCY must be a 3-letter code")
	}

	if !cfg.IsDev() {
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL must be set when APP_ENV=%s", cfg.AppEnv)
		}
		if cfg.JWTSecret == "" {
			return Config{}, fmt.Errorf("JWT_SECRET must be set when APP_ENV=%s", cfg.AppEnv)
		}
	}

	return cfg, nil
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// IsDev reports whether the service runs in a local development mode where
// in-memory backends are acceptable.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// durationEnv accepts either a whole number of seconds or a Go duration string.
func durationEnv(secondsKey, durationKey string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(secondsKey); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", secondsKey, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	if v := os.Getenv(durationKey); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", durationKey, err)
		}
		return d, nil
	}
	return fallback, nil
}

func intEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
