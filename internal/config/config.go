// internal/config/config.go
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	LogLevel string `mapstructure:"LOG_LEVEL"`
	DBURL    string `mapstructure:"DB_URL"`
	HTTPAddr string `mapstructure:"HTTP_ADDR"`

	// NATSURL selects the distributed job queue; empty runs the in-process
	// queue (single worker deployments, tests).
	NATSURL string `mapstructure:"NATS_URL"`

	// RateLimitFloor is the remaining-quota threshold below which a sync
	// stops and persists its progress for a later continuation.
	RateLimitFloor int `mapstructure:"RATE_LIMIT_FLOOR"`

	// DispatchDelay is the countdown attached to every pipeline job so the
	// status write that triggered it is visible before the job runs.
	DispatchDelay time.Duration `mapstructure:"DISPATCH_DELAY"`

	// WebhookReplayTTL is how long delivery ids are remembered for replay
	// rejection.
	WebhookReplayTTL time.Duration `mapstructure:"WEBHOOK_REPLAY_TTL"`

	// IncrementalMaxAge bounds how stale last_sync_at may be before an
	// incremental sync switches to a bounded full resync.
	IncrementalMaxAge time.Duration `mapstructure:"INCREMENTAL_MAX_AGE"`

	// BackgroundSkipRecentDays excludes the window Phase 1 already synced
	// from the Phase 2 background deep sync.
	BackgroundSkipRecentDays int `mapstructure:"BACKGROUND_SKIP_RECENT_DAYS"`

	LLMServiceURL string `mapstructure:"LLM_SERVICE_URL"`
	NotifyURL     string `mapstructure:"NOTIFY_URL"`
}

// LoadConfig reads configuration from file and/or environment variables.
func LoadConfig() (*Config, error) {
	// Set default values
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("HTTP_ADDR", ":8080")
	viper.SetDefault("RATE_LIMIT_FLOOR", 100)
	viper.SetDefault("DISPATCH_DELAY", "2s")
	viper.SetDefault("WEBHOOK_REPLAY_TTL", "24h")
	viper.SetDefault("INCREMENTAL_MAX_AGE", "720h")
	viper.SetDefault("BACKGROUND_SKIP_RECENT_DAYS", 30)

	// Load from .env file if it exists
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	_ = viper.ReadInConfig() // Ignore error if file not found

	// Bind environment variables
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Validate required fields
	if cfg.DBURL == "" {
		return nil, errors.New("DB_URL is a required configuration field")
	}
	if cfg.RateLimitFloor < 0 {
		return nil, errors.New("RATE_LIMIT_FLOOR must not be negative")
	}
	if cfg.BackgroundSkipRecentDays <= 0 {
		return nil, errors.New("BACKGROUND_SKIP_RECENT_DAYS must be positive")
	}

	return &cfg, nil
}
