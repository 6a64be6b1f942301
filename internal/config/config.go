// Package config loads and validates monitor service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Render    RenderConfig    `mapstructure:"render"`
	Pool      PoolConfig      `mapstructure:"pool"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// MonitorConfig describes the monitored loop and the aggregation endpoint.
type MonitorConfig struct {
	TotalIterations    int64         `mapstructure:"total_iterations"`
	Workers            int           `mapstructure:"workers"`
	ShowWorkerProgress bool          `mapstructure:"show_worker_progress"`
	UpdatePeriod       time.Duration `mapstructure:"update_period"`
	Title              string        `mapstructure:"title"`
	ListenAddr         string        `mapstructure:"listen_addr"`
}

// RenderConfig selects and tunes the render sinks driven by the monitor.
type RenderConfig struct {
	TerminalEnabled bool          `mapstructure:"terminal_enabled"`
	BarWidth        int           `mapstructure:"bar_width"`
	LogEnabled      bool          `mapstructure:"log_enabled"`
	SinkTimeout     time.Duration `mapstructure:"sink_timeout"`
}

// PoolConfig controls the built-in execution pool that drives the loop.
type PoolConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	BodyDelay time.Duration `mapstructure:"body_delay"`
}

// DatabaseConfig controls access to the run-history database.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// StorageConfig selects the blob backend for archived run reports.
type StorageConfig struct {
	Backend     string             `mapstructure:"backend"`
	Bucket      string             `mapstructure:"bucket"`
	Local       LocalStorageConfig `mapstructure:"local"`
	Prefix      string             `mapstructure:"prefix"`
	ContentType string             `mapstructure:"content_type"`
}

// LocalStorageConfig holds filesystem blob store parameters.
type LocalStorageConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// PubSubConfig holds metadata for run-completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// RateLimitConfig throttles API clients when enabled.
type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	RPS     float64 `mapstructure:"rps"`
	Burst   int     `mapstructure:"burst"`
}

// TelemetryConfig toggles OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PARMON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("monitor.workers", 4)
	v.SetDefault("monitor.show_worker_progress", false)
	v.SetDefault("monitor.update_period", time.Second)
	v.SetDefault("monitor.title", "")
	v.SetDefault("monitor.listen_addr", "127.0.0.1:0")
	v.SetDefault("render.terminal_enabled", true)
	v.SetDefault("render.bar_width", 40)
	v.SetDefault("render.log_enabled", false)
	v.SetDefault("render.sink_timeout", 5*time.Second)
	v.SetDefault("pool.enabled", false)
	v.SetDefault("pool.body_delay", time.Duration(0))
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.prefix", "reports")
	v.SetDefault("storage.content_type", "application/json")
	v.SetDefault("rate_limit.rps", 5.0)
	v.SetDefault("rate_limit.burst", 10)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Monitor.TotalIterations <= 0 {
		return fmt.Errorf("monitor.total_iterations must be > 0")
	}
	if c.Monitor.Workers <= 0 {
		return fmt.Errorf("monitor.workers must be > 0")
	}
	if c.Monitor.UpdatePeriod <= 0 {
		return fmt.Errorf("monitor.update_period must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Storage.Backend {
	case "memory", "local", "gcs":
	default:
		return fmt.Errorf("storage.backend must be one of memory, local, gcs")
	}
	if c.Storage.Backend == "gcs" && c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket must be set when storage.backend is gcs")
	}
	if c.Storage.Backend == "local" && c.Storage.Local.BaseDir == "" {
		return fmt.Errorf("storage.local.base_dir must be set when storage.backend is local")
	}
	if c.RateLimit.Enabled && c.RateLimit.RPS <= 0 {
		return fmt.Errorf("rate_limit.rps must be > 0 when rate limiting is enabled")
	}
	return nil
}
