// Package config loads the worker service configuration.
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

// RestoreConfig configures the image restoration backend.
type RestoreConfig struct {
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	Model          string `yaml:"model"`
	Prompt         string `yaml:"prompt"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// ArchiveConfig configures the optional restored-image archive.
type ArchiveConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// Config holds the worker settings.
type Config struct {
	Port          int           `yaml:"port"`
	LogLevel      string        `yaml:"log_level"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	QueueStream   string        `yaml:"queue_stream"`
	QueueGroup    string        `yaml:"queue_group"`
	Concurrency   int           `yaml:"concurrency"`
	DatabaseURL   string        `yaml:"database_url"`
	TelegramToken string        `yaml:"telegram_token"`
	PriceAmount   int           `yaml:"price_amount"`
	Restore       RestoreConfig `yaml:"restore"`
	Archive       ArchiveConfig `yaml:"archive"`
}

// Load reads the yaml config, applies environment overrides, and validates.
// A missing file is fine; env vars can carry everything.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Port:        8082,
		LogLevel:    "info",
		QueueStream: "updates",
		QueueGroup:  "worker",
		Concurrency: 4,
		PriceAmount: 1,
		Restore: RestoreConfig{
			BaseURL:        "https://openrouter.ai/api/v1",
			Model:          "google/gemini-2.5-flash-image-preview",
			TimeoutSeconds: 120,
		},
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
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.TelegramToken = v
	}
	if v := os.Getenv("OPENROUTER_API_KEY"); v != "" {
		cfg.Restore.APIKey = v
	}
	if v := os.Getenv("PRICE_AMOUNT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.PriceAmount = p
		}
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
	if cfg.DatabaseURL == "" {
		return errors.New("database_url is required")
	}
	if cfg.TelegramToken == "" {
		return errors.New("telegram_token is required")
	}
	if cfg.Restore.Model == "" {
		return errors.New("restore.model is required")
	}
	if cfg.PriceAmount <= 0 {
		return fmt.Errorf("invalid price_amount %d", cfg.PriceAmount)
	}
	if cfg.Concurrency <= 0 {
		return fmt.Errorf("invalid concurrency %d", cfg.Concurrency)
	}
	if cfg.Archive.Enabled && (cfg.Archive.Endpoint == "" || cfg.Archive.Bucket == "") {
		return errors.New("archive.endpoint and archive.bucket are required when archive is enabled")
	}
	return nil
}
