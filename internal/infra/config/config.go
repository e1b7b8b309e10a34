// Package config loads the application configuration from YAML, a .env
// file, and environment variable overrides, in that order.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	RateLimitPerMin int           `yaml:"rate_limit_per_min"`
	RateLimitBurst  int           `yaml:"rate_limit_burst"`
}

// StoreConfig holds persistence settings.
type StoreConfig struct {
	Path string `yaml:"path"` // SQLite database file
}

// StreamConfig tunes the scripted SSE response generators.
type StreamConfig struct {
	// CharDelay is the pause between character deltas; zero streams
	// without pacing (used by tests).
	CharDelay time.Duration `yaml:"char_delay"`
	// StepDelay is the pause between lifecycle events.
	StepDelay time.Duration `yaml:"step_delay"`
}

// ClientConfig holds chat client defaults.
type ClientConfig struct {
	API         string        `yaml:"api"`   // base endpoint, one POST per turn to {api}/{chatId}
	Model       string        `yaml:"model"` // model label forwarded to the server
	ConnTimeout time.Duration `yaml:"conn_timeout"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

// Config is the top-level application configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Store  StoreConfig  `yaml:"store"`
	Stream StreamConfig `yaml:"stream"`
	Client ClientConfig `yaml:"client"`
	Logger LoggerConfig `yaml:"logger"`
	Tracer TracerConfig `yaml:"tracer"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
			RateLimitPerMin: 120,
			RateLimitBurst:  20,
		},
		Store: StoreConfig{
			Path: "./data/draftpilot.db",
		},
		Stream: StreamConfig{
			CharDelay: 10 * time.Millisecond,
			StepDelay: 50 * time.Millisecond,
		},
		Client: ClientConfig{
			API:         "http://localhost:8080/api/chat",
			Model:       "draft-pilot-demo",
			ConnTimeout: 30 * time.Second,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
	}
}

// Load reads a YAML config file and applies env var overrides. A missing
// file is not an error; defaults plus the environment apply. A .env file
// in the working directory is folded into the environment first.
func Load(path string) (*Config, error) {
	// Missing .env is fine; it only seeds os.Environ.
	_ = godotenv.Load()

	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides lets the environment win over file values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DRAFTPILOT_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("DRAFTPILOT_DB"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("DRAFTPILOT_LOG_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("DRAFTPILOT_LOG_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("DRAFTPILOT_MODEL"); v != "" {
		cfg.Client.Model = v
	}
	if v := os.Getenv("DRAFTPILOT_TRACE"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Tracer.Enabled = enabled
			if enabled && cfg.Tracer.Exporter == "noop" {
				cfg.Tracer.Exporter = "stdout"
			}
		}
	}
}
