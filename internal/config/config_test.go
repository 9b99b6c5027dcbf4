package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/telemetryd/internal/config"
	"codeberg.org/mutker/telemetryd/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "telemetryd.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
component_id = "bench_cpu"
base_topic = "lab/agents/a1"
sample_interval = "5s"
stop_grace = "1s"
log_level = "debug"
metric_interval = 10
metric_threshold = 0.5
gpu = true
retained_db = "/path/to/retained.db"
`)
	t.Setenv("TELEMETRYD_CONFIG", path)

	cfg, err := config.Load(config.WithArgs(nil))
	require.NoError(t, err)

	assert.Equal(t, "bench_cpu", cfg.ComponentID)
	assert.Equal(t, "lab/agents/a1", cfg.BaseTopic)
	assert.Equal(t, 5*time.Second, cfg.SampleInterval)
	assert.Equal(t, time.Second, cfg.StopGrace)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.InDelta(t, 10.0, cfg.MetricInterval, 1e-9)
	assert.InDelta(t, 0.5, cfg.MetricThreshold, 1e-9)
	assert.True(t, cfg.GPU)
	assert.Equal(t, "/path/to/retained.db", cfg.RetainedDB)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TELEMETRYD_CONFIG", "")

	cfg, err := config.Load(config.WithArgs(nil))
	require.NoError(t, err, "Failed to load config")

	assert.Equal(t, config.DefaultComponentID, cfg.ComponentID)
	assert.Equal(t, config.DefaultSampleInterval, cfg.SampleInterval)
	assert.Equal(t, config.DefaultStopGrace, cfg.StopGrace)
	assert.Equal(t, config.DefaultLogLevel, cfg.LogLevel)
	assert.InDelta(t, config.DefaultMetricInterval, cfg.MetricInterval, 1e-9)
	assert.InDelta(t, config.DefaultMetricThreshold, cfg.MetricThreshold, 1e-9)
	assert.False(t, cfg.GPU)
	assert.Empty(t, cfg.RetainedDB)
}

func TestLoadConfigFileInvalidFormat(t *testing.T) {
	path := writeConfig(t, `
This is not a valid TOML file
`)

	_, err := config.Load(config.WithConfigFile(path), config.WithArgs(nil))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrReadConfig))
}

func TestInvalidLogLevel(t *testing.T) {
	path := writeConfig(t, `
log_level = "invalid"
`)

	_, err := config.Load(config.WithConfigFile(path), config.WithArgs(nil))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidLogLevel))
}

func TestInvalidSampleInterval(t *testing.T) {
	_, err := config.Load(config.WithArgs([]string{"--sample-interval", "0s"}))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidInterval))
}

func TestFlagOverridesEnvAndFile(t *testing.T) {
	path := writeConfig(t, `
log_level = "error"
component_id = "from_file"
`)
	t.Setenv("TELEMETRYD_COMPONENT_ID", "from_env")

	cfg, err := config.Load(
		config.WithConfigFile(path),
		config.WithArgs([]string{"--log-level", "debug"}),
	)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel, "Expected LogLevel to be set by flag")
	assert.Equal(t, "from_env", cfg.ComponentID, "Expected env to override file")
}

func TestCustomEnvPrefix(t *testing.T) {
	t.Setenv("TELEMETRYD_CONFIG", "")
	t.Setenv("BENCH_GPU", "true")

	cfg, err := config.Load(config.WithEnvPrefix("BENCH"), config.WithArgs(nil))
	require.NoError(t, err)
	assert.True(t, cfg.GPU)
}

func TestLogLevelIsValid(t *testing.T) {
	assert.True(t, config.LogLevelDebug.IsValid())
	assert.True(t, config.LogLevel("warning").IsValid())
	assert.False(t, config.LogLevel("verbose").IsValid())
}
