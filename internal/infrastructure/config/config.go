package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/GriffinCanCode/AgentOS/webworker/internal/channel"
	"github.com/GriffinCanCode/AgentOS/webworker/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/webworker/internal/infrastructure/server"
	"github.com/GriffinCanCode/AgentOS/webworker/internal/sandbox"
)

// Config holds all worker configuration.
type Config struct {
	Logging LogConfig
	Channel ChannelConfig
	Sandbox SandboxConfig
	Metrics MetricsConfig
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// ChannelConfig holds parent channel configuration.
type ChannelConfig struct {
	ConnectTimeout  time.Duration `envconfig:"WORKER_CONNECT_TIMEOUT" default:"10s"`
	MaxMessageBytes int64         `envconfig:"WORKER_MAX_MESSAGE_BYTES" default:"67108864"`
}

// SandboxConfig holds script context configuration.
type SandboxConfig struct {
	Console      bool     `envconfig:"WORKER_CONSOLE" default:"true"`
	MaxCallStack int      `envconfig:"WORKER_MAX_CALL_STACK" default:"1024"`
	ImportAllow  []string `envconfig:"WORKER_IMPORT_ALLOW" default:"**"`
	WorkDir      string   `envconfig:"WORKER_WORKDIR"`
}

// MetricsConfig holds the optional metrics endpoint configuration.
// An empty address disables the endpoint.
type MetricsConfig struct {
	Address           string `envconfig:"WORKER_METRICS_ADDR"`
	RequestsPerSecond int    `envconfig:"WORKER_METRICS_RPS" default:"10"`
	Burst             int    `envconfig:"WORKER_METRICS_BURST" default:"20"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		Channel: ChannelConfig{
			ConnectTimeout:  10 * time.Second,
			MaxMessageBytes: 64 << 20,
		},
		Sandbox: SandboxConfig{
			Console:      true,
			MaxCallStack: 1024,
			ImportAllow:  []string{"**"},
		},
		Metrics: MetricsConfig{
			RequestsPerSecond: 10,
			Burst:             20,
		},
	}
}

// LoggerConfig maps the logging section onto the logger.
func (c *Config) LoggerConfig() logging.Config {
	cfg := logging.DefaultConfig()
	if c.Logging.Development {
		cfg = logging.DevelopmentConfig()
	}
	if c.Logging.Level != "" {
		cfg.Level = c.Logging.Level
	}
	return cfg
}

// ChannelOptions maps the channel section onto dial options.
func (c *Config) ChannelOptions() channel.Options {
	return channel.Options{
		MaxFrameBytes: c.Channel.MaxMessageBytes,
		Timeout:       c.Channel.ConnectTimeout,
	}
}

// SandboxOptions maps the sandbox section onto the script context.
func (c *Config) SandboxOptions() sandbox.Config {
	return sandbox.Config{
		MaxCallStackSize: c.Sandbox.MaxCallStack,
		EnableConsole:    c.Sandbox.Console,
		WorkDir:          c.Sandbox.WorkDir,
		ImportAllow:      append([]string(nil), c.Sandbox.ImportAllow...),
	}
}

// ServerConfig maps the metrics section onto the metrics server.
func (c *Config) ServerConfig() server.Config {
	return server.Config{
		Development: c.Logging.Development,
		RateLimit: server.RateLimitConfig{
			RequestsPerSecond: c.Metrics.RequestsPerSecond,
			Burst:             c.Metrics.Burst,
		},
	}
}
