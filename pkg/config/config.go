// Copyright 2024-2026 Aiku AI

// Package config holds the process configuration. It is built once at
// startup from environment variables and passed by reference; nothing reads
// ambient environment state mid-call.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Message dump formats accepted for MESSAGE_FORMAT.
const (
	FormatRaw  = "raw"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Config is the full process configuration.
type Config struct {
	// Matrix session.
	Homeserver string
	UserID     string
	Password   string
	DeviceName string
	AdminRoom  string
	SSLVerify  bool
	StorePath  string
	PickleKey  string

	// Webhook listener.
	WebhookPort    int
	MessageFormat  string
	AllowUnicode   bool
	UseMarkdown    bool
	DisplayAppName bool
	TemplatePath   string
	HooksPath      string

	// Media handling.
	ProbeTimeout time.Duration
	FetchTimeout time.Duration

	LogLevel string
}

// Load reads the configuration from the environment. Only the values needed
// to reach the homeserver are required; the password may be absent when a
// stored session exists under the store path.
func Load() (*Config, error) {
	cfg := &Config{
		Homeserver: os.Getenv("MATRIX_SERVER"),
		UserID:     os.Getenv("MATRIX_USERID"),
		Password:   os.Getenv("MATRIX_PASSWORD"),
		DeviceName: envDefault("MATRIX_DEVICE", "matrix-webhook"),
		AdminRoom:  os.Getenv("MATRIX_ADMIN_ROOM"),
		SSLVerify:  envBool("MATRIX_SSLVERIFY", true),
		StorePath:  envDefault("LOGIN_STORE_PATH", "./store"),
		PickleKey:  envDefault("MATRIX_PICKLE_KEY", "matrix-webhook"),

		WebhookPort:    envInt("WEBHOOK_PORT", 8000),
		MessageFormat:  envDefault("MESSAGE_FORMAT", FormatYAML),
		AllowUnicode:   envBool("ALLOW_UNICODE", true),
		UseMarkdown:    envBool("USE_MARKDOWN", false),
		DisplayAppName: envBool("DISPLAY_APP_NAME", false),
		TemplatePath:   envDefault("TEMPLATE_PATH", "./templates"),
		HooksPath:      envDefault("WEBHOOK_CONFIG", "./webhooks.yaml"),

		ProbeTimeout: envDuration("PROBE_TIMEOUT", 5*time.Second),
		FetchTimeout: envDuration("FETCH_TIMEOUT", 30*time.Second),

		LogLevel: envDefault("LOG_LEVEL", "info"),
	}

	if cfg.Homeserver == "" {
		return nil, fmt.Errorf("MATRIX_SERVER is not set")
	}
	if cfg.UserID == "" {
		return nil, fmt.Errorf("MATRIX_USERID is not set")
	}
	if cfg.AdminRoom == "" {
		return nil, fmt.Errorf("MATRIX_ADMIN_ROOM is not set")
	}
	if cfg.WebhookPort <= 0 || cfg.WebhookPort > 65535 {
		return nil, fmt.Errorf("WEBHOOK_PORT out of range")
	}
	switch cfg.MessageFormat {
	case FormatRaw, FormatJSON, FormatYAML:
	default:
		return nil, fmt.Errorf("MESSAGE_FORMAT %q is not one of raw, json, yaml", cfg.MessageFormat)
	}

	return cfg, nil
}

// CredentialsPath is the location of the persisted session credentials.
func (c *Config) CredentialsPath() string {
	return filepath.Join(c.StorePath, "credentials.json")
}

// CryptoStorePath is the location of the encryption state database.
func (c *Config) CryptoStorePath() string {
	return filepath.Join(c.StorePath, "crypto.db")
}

func envDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return parsed
}
