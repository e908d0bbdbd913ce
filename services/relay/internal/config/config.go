// Package config loads the relay service configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location.
const ConfigPath = "config.yaml"

// Config holds the relay settings.
type Config struct {
	Port          int    `yaml:"port"`
	LogLevel      string `yaml:"log_level"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	QueueStream   string `yaml:"queue_stream"`
	WebhookSecret string `yaml:"webhook_secret"`
}

// Load reads the yaml config, applies environment overrides, and validates.
// A missing file is fine; env vars can carry everything.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Port:        8081,
		LogLevel:    "info",
		QueueStream: "updates",
	}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Port = p
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("QUEUE_STREAM"); v != "" {
		cfg.QueueStream = v
	}
	if v := os.Getenv("WEBHOOK_SECRET"); v != "" {
		cfg.WebhookSecret = v
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fmt.Errorf("invalid port %d", cfg.Port)
	}
	if cfg.RedisAddr == "" {
		return errors.New("redis_addr is required")
	}
	if cfg.QueueStream == "" {
		return errors.New("queue_stream is required")
	}
	return nil
}
