package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultAppName         = "Credora AI Credit Scoring API"
	defaultAppEnv          = "development"
	defaultPort            = "3001"
	defaultLogLevel        = "info"
	defaultLogFormat       = "json"
	defaultShutdownDelay   = 10 * time.Second
	defaultIdempotencyTTL  = 24 * time.Hour
	defaultScoringMode     = "rule"
	defaultInferenceTO     = 10 * time.Second
	defaultRefreshInterval = 30 * time.Second
	defaultSweepSchedule   = "@every 1h"
	defaultAuditSink       = "none"
	defaultScoreRateLimit  = 120
	idemTTLSecondsEnvVar   = "IDEMPOTENCY_TTL_SECONDS"
	idemTTLDurEnvVar       = "IDEMPOTENCY_TTL"
	shutdownSecondsEnvVar  = "SHUTDOWN_TIMEOUT_SECONDS"
	shutdownDurationEnvVar = "SHUTDOWN_TIMEOUT"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	LogFormat      string
	DatabaseURL    string
	RedisURL       string
	BusRelay       bool
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration
	ScoreRateLimit int

	ScoringMode      string
	RulesFile        string
	InferenceURL     string
	InferenceTimeout time.Duration

	EtherscanAPIKey  string
	EtherscanURL     string
	EtherscanChainID string

	LoanOwner         string
	AdminTokenHash    string
	LoanSweepSchedule string

	RefreshInterval time.Duration
	AuditSink       string
	AuditPath       string
	SeedDemoWallets bool
}

// Load reads a .env file when present, then populates a Config from the environment.
// Variables already set in the environment win over the file.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Config{
		AppName:           getEnv("APP_NAME", defaultAppName),
		AppEnv:            getEnv("APP_ENV", defaultAppEnv),
		Port:              getEnv("PORT", defaultPort),
		LogLevel:          strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		LogFormat:         strings.ToLower(getEnv("LOG_FORMAT", defaultLogFormat)),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		RedisURL:          os.Getenv("REDIS_URL"),
		ShutdownPeriod:    defaultShutdownDelay,
		IdempotencyTTL:    defaultIdempotencyTTL,
		ScoringMode:       strings.ToLower(getEnv("SCORING_MODE", defaultScoringMode)),
		RulesFile:         os.Getenv("SCORING_RULES_FILE"),
		InferenceURL:      os.Getenv("INFERENCE_URL"),
		EtherscanAPIKey:   os.Getenv("ETHERSCAN_API_KEY"),
		EtherscanURL:      os.Getenv("ETHERSCAN_URL"),
		EtherscanChainID:  getEnv("ETHERSCAN_CHAIN_ID", "1"),
		LoanOwner:         os.Getenv("LOAN_OWNER_ADDRESS"),
		AdminTokenHash:    os.Getenv("ADMIN_TOKEN_HASH"),
		LoanSweepSchedule: getEnv("LOAN_SWEEP_SCHEDULE", defaultSweepSchedule),
		AuditSink:         strings.ToLower(getEnv("AUDIT_SINK", defaultAuditSink)),
		AuditPath:         os.Getenv("AUDIT_PATH"),
	}

	var err error
	if cfg.ShutdownPeriod, err = secondsOrDuration(shutdownSecondsEnvVar, shutdownDurationEnvVar, defaultShutdownDelay); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = secondsOrDuration(idemTTLSecondsEnvVar, idemTTLDurEnvVar, defaultIdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.InferenceTimeout, err = duration("INFERENCE_TIMEOUT", defaultInferenceTO); err != nil {
		return Config{}, err
	}
	if cfg.RefreshInterval, err = duration("REFRESH_INTERVAL", defaultRefreshInterval); err != nil {
		return Config{}, err
	}
	if cfg.ScoreRateLimit, err = integer("SCORE_RATE_LIMIT", defaultScoreRateLimit); err != nil {
		return Config{}, err
	}
	if cfg.BusRelay, err = boolean("BUS_RELAY", true); err != nil {
		return Config{}, err
	}
	if cfg.SeedDemoWallets, err = boolean("SEED_DEMO_WALLETS", cfg.IsDev()); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if !c.IsDev() {
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL must be set when APP_ENV=%s", c.AppEnv)
		}
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL must be set when APP_ENV=%s", c.AppEnv)
		}
	}
	switch c.ScoringMode {
	case "rule", "weighted":
	case "remote":
		if c.InferenceURL == "" {
			return fmt.Errorf("INFERENCE_URL must be set when SCORING_MODE=remote")
		}
	default:
		return fmt.Errorf("invalid SCORING_MODE %q", c.ScoringMode)
	}
	switch c.AuditSink {
	case "none", "file", "sqlite":
	default:
		return fmt.Errorf("invalid AUDIT_SINK %q", c.AuditSink)
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("invalid LOG_FORMAT %q", c.LogFormat)
	}
	return nil
}

// IsDev reports whether the service runs in a development environment, where
// Postgres and Redis are optional.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func secondsOrDuration(secondsKey, durationKey string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(secondsKey); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", secondsKey, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	return duration(durationKey, fallback)
}

func duration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func integer(key string, fallback int) (int, error) {
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

func boolean(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}
