// Package config loads spiritcore runtime settings from an optional YAML file
// with environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for spiritcore.
// Environment variables always override YAML values for fields that support both.
// Secrets (the S3 secret key, the postgres DSN) may come from the environment only.
type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Blob    BlobConfig    `yaml:"blob"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
	Guard   GuardConfig   `yaml:"guard"`
}

// StorageConfig selects the persistent store backend.
type StorageConfig struct {
	Driver      string `yaml:"driver" env:"SPIRIT_STORAGE_DRIVER" env-default:"sqlite"`
	SQLitePath  string `yaml:"sqlite_path" env:"SPIRIT_SQLITE_PATH" env-default:"spiritcore.db"`
	PostgresDSN string `yaml:"-" env:"SPIRIT_POSTGRES_DSN"` // Secret - not in YAML
}

// BlobConfig selects where snapshot archives are written.
type BlobConfig struct {
	Driver string   `yaml:"driver" env:"SPIRIT_BLOB_DRIVER" env-default:"memory"`
	S3     S3Config `yaml:"s3"`
}

// S3Config holds the S3 archive bucket settings.
type S3Config struct {
	Bucket       string `yaml:"bucket" env:"SPIRIT_BLOB_S3_BUCKET"`
	Region       string `yaml:"region" env:"SPIRIT_BLOB_S3_REGION" env-default:"us-east-1"`
	Endpoint     string `yaml:"endpoint" env:"SPIRIT_BLOB_S3_ENDPOINT"`
	AccessKey    string `yaml:"access_key" env:"SPIRIT_BLOB_S3_ACCESS_KEY"`
	SecretKey    string `yaml:"-" env:"SPIRIT_BLOB_S3_SECRET_KEY"` // Secret - not in YAML
	UsePathStyle bool   `yaml:"use_path_style" env:"SPIRIT_BLOB_S3_PATH_STYLE" env-default:"false"`
}

// LogConfig controls the zap logger mode ("development" or "production").
type LogConfig struct {
	Mode string `yaml:"mode" env:"SPIRIT_LOG_MODE" env-default:"development"`
}

// MetricsConfig names the Prometheus namespace for operation metrics.
type MetricsConfig struct {
	Namespace string `yaml:"namespace" env:"SPIRIT_METRICS_NAMESPACE" env-default:"spiritcore"`
}

// GuardConfig bounds the legacy wait for the edit context to go idle.
type GuardConfig struct {
	Attempts int           `yaml:"attempts" env:"SPIRIT_GUARD_ATTEMPTS" env-default:"50"`
	Interval time.Duration `yaml:"interval" env:"SPIRIT_GUARD_INTERVAL" env-default:"50ms"`
}

// Load reads configuration from path (when non-empty) and the environment.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks cross-field constraints cleanenv cannot express.
func (c *Config) Validate() error {
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	switch c.Storage.Driver {
	case "memory", "sqlite":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return errors.New("SPIRIT_POSTGRES_DSN is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	c.Blob.Driver = strings.ToLower(strings.TrimSpace(c.Blob.Driver))
	switch c.Blob.Driver {
	case "memory":
	case "s3":
		if c.Blob.S3.Bucket == "" {
			return errors.New("SPIRIT_BLOB_S3_BUCKET is required for the s3 blob driver")
		}
	default:
		return fmt.Errorf("unknown blob driver %q", c.Blob.Driver)
	}
	if c.Guard.Attempts < 1 {
		return fmt.Errorf("guard attempts must be positive, got %d", c.Guard.Attempts)
	}
	if c.Guard.Interval <= 0 {
		return fmt.Errorf("guard interval must be positive, got %s", c.Guard.Interval)
	}
	return nil
}
