package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port           int      `mapstructure:"port"`
	DatabasePath   string   `mapstructure:"database_path"`
	LogLevel       string   `mapstructure:"log_level"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`

	// Monitored targets: target id -> PostgreSQL DSN.
	Targets map[string]string `mapstructure:"targets"`

	DefaultIntervalSec    int     `mapstructure:"default_interval_sec"`    // Polling interval when a start request omits one
	SourceTimeoutSec      int     `mapstructure:"source_timeout_sec"`      // Per-call telemetry fetch timeout; clamped below the interval
	SourceRateLimitPerSec float64 `mapstructure:"source_rate_limit_per_sec"` // Token bucket rate per target (fetches/s); 0 = no limit
	RetentionDays         int     `mapstructure:"retention_days"`          // Sample retention horizon
	MaintenanceIntervalSec int    `mapstructure:"maintenance_interval_sec"` // Background prune/reconcile cadence
	ReconcileEnabled      bool    `mapstructure:"reconcile_enabled"`       // Defensive duplicate merge during maintenance
	ShutdownTimeoutSec    int     `mapstructure:"shutdown_timeout_sec"`    // Graceful shutdown wait

	OTLPEndpoint      string  `mapstructure:"otlp_endpoint"`       // Empty disables tracing
	TraceSamplingRate float64 `mapstructure:"trace_sampling_rate"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("/etc/dbdash/")
	viper.AddConfigPath("$HOME/.dbdash")
	viper.AddConfigPath(".")

	// Defaults
	viper.SetDefault("port", 8080)
	viper.SetDefault("database_path", "./dbdash.db")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("allowed_origins", []string{"*"})
	viper.SetDefault("default_interval_sec", 60)
	viper.SetDefault("source_timeout_sec", 10)
	viper.SetDefault("source_rate_limit_per_sec", 0) // 0 = disabled
	viper.SetDefault("retention_days", 7)
	viper.SetDefault("maintenance_interval_sec", 3600)
	viper.SetDefault("reconcile_enabled", true)
	viper.SetDefault("shutdown_timeout_sec", 15)
	viper.SetDefault("otlp_endpoint", "")
	viper.SetDefault("trace_sampling_rate", 0.1)

	// Environment variables
	viper.SetEnvPrefix("DBDASH")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found; using defaults and env vars
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// SourceTimeout returns the per-call telemetry fetch timeout, never
// exceeding the polling interval it has to fit inside.
func (c *Config) SourceTimeout(interval time.Duration) time.Duration {
	timeout := time.Duration(c.SourceTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if interval > 0 && timeout >= interval {
		timeout = interval / 2
	}
	return timeout
}

// Retention returns the sample retention horizon.
func (c *Config) Retention() time.Duration {
	days := c.RetentionDays
	if days <= 0 {
		days = 7
	}
	return time.Duration(days) * 24 * time.Hour
}
