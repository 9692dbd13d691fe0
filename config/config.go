/*
Package config loads server configuration from the environment.

SOURCES (later wins):
  1. Built-in defaults
  2. .env file in the working directory, when present (godotenv)
  3. Process environment
  4. cobra flags in cmd/server (--port, --db)

VARIABLES:
  APP_PORT         HTTP port                         (8080)
  DB_PATH          SQLite path, ":memory:" allowed   (ledger.db)
  LOG_LEVEL        debug, info, warn, error          (info)
  LOCK_TIMEOUT     per-customer ledger lock wait     (5s)
  AUDIT_ENABLED    run the periodic ledger audit     (true)
  AUDIT_INTERVAL   time between audits               (1h)
  CORS_ORIGINS     comma separated allowed origins   (http://localhost:5173,http://localhost:8080)
  PAYMENT_METHODS  comma separated accepted methods  (cash,card,transfer)
*/
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App   AppConfig
	DB    DatabaseConfig
	Audit AuditConfig

	LockTimeout    time.Duration
	PaymentMethods []string
}

// AppConfig holds HTTP and logging settings.
type AppConfig struct {
	Port        int
	LogLevel    string
	CORSOrigins []string
}

type DatabaseConfig struct {
	Path string
}

type AuditConfig struct {
	Enabled  bool
	Interval time.Duration
}

// Load reads .env (if any) and the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from the process environment only.
func FromEnv() (*Config, error) {
	port, err := strconv.Atoi(getEnv("APP_PORT", "8080"))
	if err != nil {
		return nil, fmt.Errorf("invalid APP_PORT: %w", err)
	}
	lockTimeout, err := time.ParseDuration(getEnv("LOCK_TIMEOUT", "5s"))
	if err != nil {
		return nil, fmt.Errorf("invalid LOCK_TIMEOUT: %w", err)
	}
	auditEvery, err := time.ParseDuration(getEnv("AUDIT_INTERVAL", "1h"))
	if err != nil {
		return nil, fmt.Errorf("invalid AUDIT_INTERVAL: %w", err)
	}
	auditOn, err := strconv.ParseBool(getEnv("AUDIT_ENABLED", "true"))
	if err != nil {
		return nil, fmt.Errorf("invalid AUDIT_ENABLED: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Port:        port,
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			CORSOrigins: getEnvSlice("CORS_ORIGINS", "http://localhost:5173,http://localhost:8080"),
		},
		DB:             DatabaseConfig{Path: getEnv("DB_PATH", "ledger.db")},
		Audit:          AuditConfig{Enabled: auditOn, Interval: auditEvery},
		LockTimeout:    lockTimeout,
		PaymentMethods: getEnvSlice("PAYMENT_METHODS", "cash,card,transfer"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges that parsing alone does not catch.
func (c *Config) Validate() error {
	if c.App.Port <= 0 || c.App.Port > 65535 {
		return fmt.Errorf("APP_PORT out of range: %d", c.App.Port)
	}
	if c.DB.Path == "" {
		return errors.New("DB_PATH must not be empty")
	}
	if c.LockTimeout <= 0 {
		return fmt.Errorf("LOCK_TIMEOUT must be positive, got %s", c.LockTimeout)
	}
	if c.Audit.Enabled && c.Audit.Interval <= 0 {
		return fmt.Errorf("AUDIT_INTERVAL must be positive, got %s", c.Audit.Interval)
	}
	if len(c.PaymentMethods) == 0 {
		return errors.New("PAYMENT_METHODS must list at least one method")
	}
	return nil
}

// SlogLevel maps LOG_LEVEL to a slog level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.App.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// AcceptsMethod reports whether a payment method is configured.
func (c *Config) AcceptsMethod(method string) bool {
	for _, m := range c.PaymentMethods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

func getEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return defaultValue
}

func getEnvSlice(key, defaultValue string) []string {
	var out []string
	for _, v := range strings.Split(getEnv(key, defaultValue), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
