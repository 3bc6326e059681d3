package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	// Logging config
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Development)

	// Channel config
	assert.Equal(t, 10*time.Second, cfg.Channel.ConnectTimeout)
	assert.Equal(t, int64(67108864), cfg.Channel.MaxMessageBytes)

	// Sandbox config
	assert.True(t, cfg.Sandbox.Console)
	assert.Equal(t, 1024, cfg.Sandbox.MaxCallStack)
	assert.Equal(t, []string{"**"}, cfg.Sandbox.ImportAllow)
	assert.Empty(t, cfg.Sandbox.WorkDir)

	// Metrics disabled
	assert.Empty(t, cfg.Metrics.Address)
	assert.Equal(t, 10, cfg.Metrics.RequestsPerSecond)
	assert.Equal(t, 20, cfg.Metrics.Burst)
}

func TestLoadOrDefault(t *testing.T) {
	// Should return default when no env vars set
	cfg := LoadOrDefault()

	assert.NotNil(t, cfg)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 10*time.Second, cfg.Channel.ConnectTimeout)
	assert.Equal(t, []string{"**"}, cfg.Sandbox.ImportAllow)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"LOG_LEVEL":                "debug",
		"LOG_DEV":                  "true",
		"WORKER_CONNECT_TIMEOUT":   "3s",
		"WORKER_MAX_MESSAGE_BYTES": "1024",
		"WORKER_CONSOLE":           "false",
		"WORKER_MAX_CALL_STACK":    "64",
		"WORKER_IMPORT_ALLOW":      "lib/**,vendor/*.js",
		"WORKER_WORKDIR":           "/srv/scripts",
		"WORKER_METRICS_ADDR":      "127.0.0.1:9102",
		"WORKER_METRICS_RPS":       "5",
		"WORKER_METRICS_BURST":     "7",
	}

	for key, value := range envVars {
		t.Setenv(key, value)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Development)

	assert.Equal(t, 3*time.Second, cfg.Channel.ConnectTimeout)
	assert.Equal(t, int64(1024), cfg.Channel.MaxMessageBytes)

	assert.False(t, cfg.Sandbox.Console)
	assert.Equal(t, 64, cfg.Sandbox.MaxCallStack)
	assert.Equal(t, []string{"lib/**", "vendor/*.js"}, cfg.Sandbox.ImportAllow)
	assert.Equal(t, "/srv/scripts", cfg.Sandbox.WorkDir)

	assert.Equal(t, "127.0.0.1:9102", cfg.Metrics.Address)
	assert.Equal(t, 5, cfg.Metrics.RequestsPerSecond)
	assert.Equal(t, 7, cfg.Metrics.Burst)
}

func TestLoadInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "invalid duration", key: "WORKER_CONNECT_TIMEOUT", value: "soon"},
		{name: "invalid bool", key: "WORKER_CONSOLE", value: "maybe"},
		{name: "invalid int", key: "WORKER_MAX_CALL_STACK", value: "deep"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			assert.Error(t, err)

			// LoadOrDefault falls back
			cfg := LoadOrDefault()
			assert.Equal(t, Default(), cfg)
		})
	}
}

func TestConversions(t *testing.T) {
	cfg := Default()
	cfg.Logging.Development = true
	cfg.Logging.Level = "warn"
	cfg.Sandbox.WorkDir = "/tmp/w"

	logCfg := cfg.LoggerConfig()
	assert.Equal(t, "warn", logCfg.Level)
	assert.True(t, logCfg.Development)

	opts := cfg.ChannelOptions()
	assert.Equal(t, int64(64<<20), opts.MaxFrameBytes)
	assert.Equal(t, 10*time.Second, opts.Timeout)

	srv := cfg.ServerConfig()
	assert.True(t, srv.Development)
	assert.Equal(t, 10, srv.RateLimit.RequestsPerSecond)
	assert.Equal(t, 20, srv.RateLimit.Burst)

	sb := cfg.SandboxOptions()
	assert.Equal(t, 1024, sb.MaxCallStackSize)
	assert.True(t, sb.EnableConsole)
	assert.Equal(t, "/tmp/w", sb.WorkDir)
	assert.Equal(t, []string{"**"}, sb.ImportAllow)

	// Mutating the converted slice leaves the config untouched
	sb.ImportAllow[0] = "none"
	assert.Equal(t, []string{"**"}, cfg.Sandbox.ImportAllow)
}

func TestLoadIgnoresUnrelatedEnvironment(t *testing.T) {
	require.NoError(t, os.Setenv("PORT", "9000"))
	defer os.Unsetenv("PORT")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Logging.Level)
}
