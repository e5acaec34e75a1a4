package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var managedVars = []string{
	"APP_NAME", "APP_ENV", "PORT", "LOG_LEVEL", "LOG_FORMAT", "DATABASE_URL", "REDIS_URL", "BUS_RELAY",
	"SHUTDOWN_TIMEOUT", "SHUTDOWN_TIMEOUT_SECONDS", "IDEMPOTENCY_TTL", "IDEMPOTENCY_TTL_SECONDS",
	"SCORING_MODE", "SCORING_RULES_FILE", "INFERENCE_URL", "INFERENCE_TIMEOUT",
	"ETHERSCAN_API_KEY", "ETHERSCAN_URL", "ETHERSCAN_CHAIN_ID",
	"LOAN_OWNER_ADDRESS", "ADMIN_TOKEN_HASH", "LOAN_SWEEP_SCHEDULE",
	"REFRESH_INTERVAL", "AUDIT_SINK", "AUDIT_PATH", "SEED_DEMO_WALLETS", "SCORE_RATE_LIMIT",
}

// isolate runs the test from an empty directory with every managed variable cleared.
func isolate(t *testing.T) string {
	t.Helper()
	for _, k := range managedVars {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func TestLoadDefaultsInDevelopment(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "development", cfg.AppEnv)
	assert.Equal(t, ":3001", cfg.Address())
	assert.Equal(t, "rule", cfg.ScoringMode)
	assert.Equal(t, 30*time.Second, cfg.RefreshInterval)
	assert.Equal(t, "@every 1h", cfg.LoanSweepSchedule)
	assert.Equal(t, 24*time.Hour, cfg.IdempotencyTTL)
	assert.True(t, cfg.BusRelay)
	assert.Equal(t, 120, cfg.ScoreRateLimit)
	assert.True(t, cfg.SeedDemoWallets)
	assert.True(t, cfg.IsDev())
}

func TestLoadRequiresBackendsOutsideDevelopment(t *testing.T) {
	isolate(t)
	t.Setenv("APP_ENV", "production")

	_, err := Load()
	assert.ErrorContains(t, err, "DATABASE_URL")

	t.Setenv("DATABASE_URL", "postgres://localhost/credora")
	_, err = Load()
	assert.ErrorContains(t, err, "REDIS_URL")

	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.SeedDemoWallets)
}

func TestLoadParsesDurations(t *testing.T) {
	isolate(t)
	t.Setenv("SHUTDOWN_TIMEOUT_SECONDS", "3")
	t.Setenv("IDEMPOTENCY_TTL", "90m")
	t.Setenv("REFRESH_INTERVAL", "1m")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, cfg.ShutdownPeriod)
	assert.Equal(t, 90*time.Minute, cfg.IdempotencyTTL)
	assert.Equal(t, time.Minute, cfg.RefreshInterval)

	t.Setenv("REFRESH_INTERVAL", "soon")
	_, err = Load()
	assert.ErrorContains(t, err, "REFRESH_INTERVAL")
}

func TestLoadValidatesEnums(t *testing.T) {
	isolate(t)

	t.Setenv("SCORING_MODE", "neural")
	_, err := Load()
	assert.ErrorContains(t, err, "SCORING_MODE")

	t.Setenv("SCORING_MODE", "remote")
	_, err = Load()
	assert.ErrorContains(t, err, "INFERENCE_URL")

	t.Setenv("SCORING_MODE", "weighted")
	t.Setenv("AUDIT_SINK", "kafka")
	_, err = Load()
	assert.ErrorContains(t, err, "AUDIT_SINK")
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := isolate(t)
	content := "SCORING_MODE=weighted\nPORT=9000\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(content), 0o600))
	// an explicit environment value wins over the file
	t.Setenv("PORT", "9100")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "weighted", cfg.ScoringMode)
	assert.Equal(t, ":9100", cfg.Address())
}
