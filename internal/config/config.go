// Package config loads the relay's settings from the environment, after
// merging an optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Config holds every RELAY_* setting.
type Config struct {
	PrimaryURL   string `env:"RELAY_PRIMARY_URL,required" validate:"required,url"`
	SecondaryURL string `env:"RELAY_SECONDARY_URL,required" validate:"required,url"`

	Timeout     time.Duration `env:"RELAY_TIMEOUT,default=30s" validate:"gt=0"`
	MaxAttempts int           `env:"RELAY_MAX_ATTEMPTS,default=3" validate:"gte=1,lte=10"`
	RetryDelay  time.Duration `env:"RELAY_RETRY_DELAY,default=1s" validate:"gte=0"`

	CacheTTL     time.Duration `env:"RELAY_CACHE_TTL,default=5m" validate:"gt=0"`
	CacheVersion string        `env:"RELAY_CACHE_VERSION,default=1" validate:"required"`

	QueueMaxAttempts int           `env:"RELAY_QUEUE_MAX_ATTEMPTS,default=5" validate:"gte=1"`
	QueueInterval    time.Duration `env:"RELAY_QUEUE_INTERVAL,default=1m" validate:"gte=1s"`
	QueueRate        float64       `env:"RELAY_QUEUE_RATE,default=5" validate:"gt=0"`
	ProbeInterval    time.Duration `env:"RELAY_PROBE_INTERVAL,default=15s" validate:"gte=1s"`

	KVSocket   string `env:"RELAY_KV_SOCK"`
	KVPath     string `env:"RELAY_KV_DB"`
	KVEmbedded bool   `env:"RELAY_KV_EMBEDDED,default=false"`

	MetricsAddr string `env:"RELAY_METRICS_ADDR" validate:"omitempty,hostname_port"`

	Token      string `env:"RELAY_TOKEN"`
	DeviceID   string `env:"RELAY_DEVICE_ID"`
	DeviceType string `env:"RELAY_DEVICE_TYPE,default=server"`
	OSVersion  string `env:"RELAY_OS_VERSION"`
	AppVersion string `env:"RELAY_APP_VERSION,default=0.1.0"`
}

// Load reads envFile when it exists (an empty name means ".env"), then
// decodes and validates the environment. Variables already set win over the
// file.
func Load(envFile string) (*Config, error) {
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: load %s: %w", envFile, err)
	}

	var cfg Config
	if err := envdecode.StrictDecode(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode environment: %w", err)
	}
	cfg.applyDefaults()
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config: invalid: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.KVSocket == "" {
		c.KVSocket = filepath.Join(cacheDir(), "kv.sock")
	}
	if c.KVPath == "" {
		c.KVPath = filepath.Join(cacheDir(), "relay.bbolt")
	}
}

func cacheDir() string {
	home, _ := os.UserHomeDir()
	if home == "" {
		home = "."
	}
	return filepath.Join(home, ".cache", "api-relay")
}
