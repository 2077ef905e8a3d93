// Package config defines the BuddyAI application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "30s"
// or "2h". Bare integers are taken as seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("invalid duration %q", value.Value)
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		*d = Duration(time.Duration(n) * time.Second)
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the top-level BuddyAI configuration.
type Config struct {
	Server     ServerConfig     `json:"server" yaml:"server"`
	Auth       AuthConfig       `json:"auth" yaml:"auth"`
	Storage    StorageConfig    `json:"storage" yaml:"storage"`
	Provider   ProviderConfig   `json:"provider" yaml:"provider"`
	Supervisor SupervisorConfig `json:"supervisor" yaml:"supervisor"`
	Sweeps     SweepsConfig     `json:"sweeps" yaml:"sweeps"`
	Handlers   []string         `json:"handlers,omitempty" yaml:"handlers"` // handler names; empty means the built-in set
	LogLevel   string           `json:"log_level" yaml:"log_level"`
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr"` // listen address, e.g., ":9090"
}

// AuthConfig controls API authentication.
type AuthConfig struct {
	JWTSecret string `json:"jwt_secret" yaml:"jwt_secret"`
	AdminUser string `json:"admin_user" yaml:"admin_user"`
	AdminPass string `json:"admin_pass" yaml:"admin_pass"` // bcrypt hash
}

// StorageConfig selects and locates the task store backend.
type StorageConfig struct {
	Backend string `json:"backend" yaml:"backend"`   // "sqlite" or "postgres"
	Path    string `json:"path" yaml:"path"`         // sqlite database file
	DSN     string `json:"dsn,omitempty" yaml:"dsn"` // postgres connection string
}

// ProviderConfig selects the AI backend.
type ProviderConfig struct {
	Name   string `json:"name" yaml:"name"` // "mock", "anthropic", "openai"
	Model  string `json:"model,omitempty" yaml:"model"`
	APIKey string `json:"api_key,omitempty" yaml:"api_key"` // falls back to the provider's env var
}

// SupervisorConfig tunes the dispatch loop.
type SupervisorConfig struct {
	AcquireRetries int      `json:"acquire_retries" yaml:"acquire_retries"`
	AcquireBackoff Duration `json:"acquire_backoff" yaml:"acquire_backoff"`
	HandlerTimeout Duration `json:"handler_timeout" yaml:"handler_timeout"` // zero means no timeout
	DefaultHandler string   `json:"default_handler" yaml:"default_handler"`
}

// SweepsConfig tunes the background maintenance passes.
type SweepsConfig struct {
	DeadlineEvery   Duration `json:"deadline_every" yaml:"deadline_every"`
	StuckEvery      Duration `json:"stuck_every" yaml:"stuck_every"`
	RecurrenceEvery Duration `json:"recurrence_every" yaml:"recurrence_every"`
	PriorityEvery   Duration `json:"priority_every" yaml:"priority_every"`
	StuckAfter      Duration `json:"stuck_after" yaml:"stuck_after"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: ":9090",
		},
		Auth: AuthConfig{
			AdminUser: "admin",
		},
		Storage: StorageConfig{
			Backend: "sqlite",
			Path:    "./data/buddyai.db",
		},
		Provider: ProviderConfig{
			Name: "mock",
		},
		Supervisor: SupervisorConfig{
			AcquireRetries: 5,
			AcquireBackoff: Duration(3 * time.Second),
			DefaultHandler: "general_assistant",
		},
		Sweeps: SweepsConfig{
			DeadlineEvery:   Duration(15 * time.Minute),
			StuckEvery:      Duration(time.Hour),
			RecurrenceEvery: Duration(15 * time.Minute),
			PriorityEvery:   Duration(10 * time.Minute),
			StuckAfter:      Duration(72 * time.Hour),
		},
		LogLevel: "info",
	}
}

// Load reads a YAML config file and returns the parsed configuration.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks fields whose bad values would only surface at runtime.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "sqlite":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path required for sqlite backend")
		}
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn required for postgres backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	switch c.Provider.Name {
	case "mock", "anthropic", "openai":
	default:
		return fmt.Errorf("unknown provider %q", c.Provider.Name)
	}
	return nil
}
