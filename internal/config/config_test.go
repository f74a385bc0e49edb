package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadFresh(t *testing.T) (*Config, error) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	return Load()
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := loadFresh(t)
	require.NoError(t, err)

	assert.Equal(t, "coingecko", cfg.Provider.Name)
	assert.Equal(t, 250, cfg.Provider.BatchSize)
	assert.Equal(t, 3, cfg.Provider.MaxRetries)
	assert.Equal(t, "graceful", cfg.Provider.FailureMode)

	assert.Equal(t, "local", cfg.Storage.Backend)
	assert.Equal(t, "bronze/", cfg.Storage.RawPrefix)
	assert.Equal(t, "gold/analyzed_market_summary.parquet", cfg.Storage.StateName)

	assert.Equal(t, 7, cfg.Analytics.SMAWindow)
	assert.Equal(t, 14, cfg.Analytics.RSIPeriod)
	assert.Equal(t, 500, cfg.Analytics.RetentionN)

	assert.False(t, cfg.Redis.Enabled())
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("PROVIDER_FAILURE_MODE", "fail_fast")
	t.Setenv("ANALYTICS_RETENTION_PER_ASSET", "100")

	cfg, err := loadFresh(t)
	require.NoError(t, err)
	assert.Equal(t, "fail_fast", cfg.Provider.FailureMode)
	assert.Equal(t, 100, cfg.Analytics.RetentionN)
}

func TestLoadRejectsBadFailureMode(t *testing.T) {
	t.Setenv("PROVIDER_FAILURE_MODE", "lenient")

	_, err := loadFresh(t)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failure_mode")
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("PROVIDER_BACKOFF_BASE", "soon")

	_, err := loadFresh(t)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backoff_base")
}

func TestLoadRejectsNonPositiveRetention(t *testing.T) {
	t.Setenv("ANALYTICS_RETENTION_PER_ASSET", "0")

	_, err := loadFresh(t)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retention_per_asset")
}

func TestDurationHelper(t *testing.T) {
	assert.Equal(t, 2*time.Second, Duration("", 2*time.Second))
	assert.Equal(t, 5*time.Second, Duration("5s", 2*time.Second))
	assert.Equal(t, 2*time.Second, Duration("garbage", 2*time.Second))
}
