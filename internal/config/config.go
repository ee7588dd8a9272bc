package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	EnvPrefix   = "PELUSA_"
	DefaultFile = "./pelusa-live.toml"
)

// Config holds all configuration values.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Log           LogConfig           `koanf:"log"`
	Database      DatabaseConfig      `koanf:"database"`
	Auth          AuthConfig          `koanf:"auth"`
	Delivery      DeliveryConfig      `koanf:"delivery"`
	Messaging     MessagingConfig     `koanf:"messaging"`
	Media         MediaConfig         `koanf:"media"`
	Notifications NotificationsConfig `koanf:"notifications"`
}

type ServerConfig struct {
	Addr string `koanf:"addr"`
}

type LogConfig struct {
	Level string `koanf:"level"`
	File  string `koanf:"file"`
}

type DatabaseConfig struct {
	// URL is a PostgreSQL connection string; empty selects the in-memory store.
	URL string `koanf:"url"`
}

type AuthConfig struct {
	JWTSecret   string `koanf:"jwt_secret"`
	InternalKey string `koanf:"internal_key"`
}

type DeliveryConfig struct {
	PushTimeout time.Duration `koanf:"push_timeout"`
	SendBuffer  int           `koanf:"send_buffer"`
	DedupeSize  int           `koanf:"dedupe_size"`
}

type MessagingConfig struct {
	MaxText      int     `koanf:"max_text"`
	Rate         float64 `koanf:"rate"`
	Burst        int     `koanf:"burst"`
	LimiterCache int     `koanf:"limiter_cache"`
}

type MediaConfig struct {
	Backend  string   `koanf:"backend"`
	Dir      string   `koanf:"dir"`
	BaseURL  string   `koanf:"base_url"`
	MaxBytes int64    `koanf:"max_bytes"`
	S3       S3Config `koanf:"s3"`
}

type S3Config struct {
	Bucket    string `koanf:"bucket"`
	Region    string `koanf:"region"`
	Prefix    string `koanf:"prefix"`
	Endpoint  string `koanf:"endpoint"`
	PublicURL string `koanf:"public_url"`
}

// NotificationsConfig tunes the PostgreSQL-backed fan-out queue. It has no
// effect with the in-memory store.
type NotificationsConfig struct {
	QueueThreshold int `koanf:"queue_threshold"`
	Workers        int `koanf:"workers"`
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"server.addr":                   ":4000",
		"log.level":                     "INFO",
		"log.file":                      "",
		"database.url":                  "",
		"delivery.push_timeout":         "2s",
		"delivery.send_buffer":          256,
		"delivery.dedupe_size":          128,
		"messaging.max_text":            5000,
		"messaging.rate":                5.0,
		"messaging.burst":               10,
		"messaging.limiter_cache":       4096,
		"media.backend":                 "disk",
		"media.dir":                     "./data/media",
		"media.base_url":                "/media",
		"media.max_bytes":               10 << 20,
		"media.s3.region":               "us-east-1",
		"notifications.queue_threshold": 50,
		"notifications.workers":         10,
	}
}

// Load layers defaults, the TOML file and PELUSA_ environment variables, in
// that order. An empty path falls back to DefaultFile when it exists.
// Environment keys use a double underscore between sections:
// PELUSA_DELIVERY__PUSH_TIMEOUT=3s sets delivery.push_timeout.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("error loading defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	} else if _, err := os.Stat(DefaultFile); err == nil {
		if err := k.Load(file.Provider(DefaultFile), toml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("error loading environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}
	return &cfg, nil
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Delivery.PushTimeout <= 0 {
		errs = append(errs, errors.New("delivery.push_timeout must be positive"))
	}
	if c.Delivery.SendBuffer <= 0 {
		errs = append(errs, errors.New("delivery.send_buffer must be positive"))
	}
	if c.Delivery.DedupeSize <= 0 {
		errs = append(errs, errors.New("delivery.dedupe_size must be positive"))
	}
	if c.Messaging.MaxText <= 0 {
		errs = append(errs, errors.New("messaging.max_text must be positive"))
	}
	if c.Messaging.Rate <= 0 || c.Messaging.Burst <= 0 {
		errs = append(errs, errors.New("messaging.rate and messaging.burst must be positive"))
	}
	if c.Messaging.LimiterCache <= 0 {
		errs = append(errs, errors.New("messaging.limiter_cache must be positive"))
	}
	if c.Media.MaxBytes <= 0 {
		errs = append(errs, errors.New("media.max_bytes must be positive"))
	}
	switch c.Media.Backend {
	case "disk":
		if c.Media.Dir == "" {
			errs = append(errs, errors.New("media.dir is required for the disk backend"))
		}
	case "s3":
		if c.Media.S3.Bucket == "" {
			errs = append(errs, errors.New("media.s3.bucket is required for the s3 backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("media.backend %q is not one of disk, s3", c.Media.Backend))
	}
	if c.Notifications.QueueThreshold < 0 || c.Notifications.Workers < 0 {
		errs = append(errs, errors.New("notifications settings must not be negative"))
	}
	return errors.Join(errs...)
}
