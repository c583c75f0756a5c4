// Package config loads process configuration from defaults, an optional YAML
// file and environment overrides, and defines the runtime settings that are
// persisted with each snapshot.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/pysugar/account-nexus/internal/credential"
)

// Config is the static process configuration.
type Config struct {
	Server    ServerConfig         `yaml:"server"`
	Database  DatabaseConfig       `yaml:"database"`
	Log       LogConfig            `yaml:"log"`
	Endpoints credential.Endpoints `yaml:"endpoints"`
	Identity  IdentityConfig       `yaml:"identity"`
	Session   SessionConfig        `yaml:"session"`
	Launcher  LauncherConfig       `yaml:"launcher"`

	RequestTimeout   time.Duration `yaml:"request_timeout" env:"NEXUS_REQUEST_TIMEOUT" validate:"gt=0"`
	ProbeCacheTTL    time.Duration `yaml:"probe_cache_ttl" env:"NEXUS_PROBE_CACHE_TTL" validate:"gte=0"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval" env:"NEXUS_SNAPSHOT_INTERVAL" validate:"gt=0"`

	// Defaults seed the runtime settings when no snapshot has any.
	Defaults Settings `yaml:"defaults"`
}

type ServerConfig struct {
	Host          string `yaml:"host" env:"HOST" validate:"required"`
	Port          int    `yaml:"port" env:"PORT" validate:"min=1,max=65535"`
	AdminPassword string `yaml:"admin_password" env:"NEXUS_ADMIN_PASSWORD"`
	// RateLimit is requests per second across the admin API, 0 disables it.
	RateLimit float64 `yaml:"rate_limit" env:"NEXUS_RATE_LIMIT" validate:"gte=0"`
	RateBurst int     `yaml:"rate_burst" env:"NEXUS_RATE_BURST" validate:"gte=0"`
}

// Addr is the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	Path string `yaml:"path" env:"NEXUS_DB_PATH" validate:"required"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"NEXUS_LOG_LEVEL" validate:"oneof=trace debug info warn error"`
	Pretty bool   `yaml:"pretty" env:"NEXUS_LOG_PRETTY"`
}

type IdentityConfig struct {
	// Effector is "file" or "memory".
	Effector string `yaml:"effector" env:"NEXUS_IDENTITY_EFFECTOR" validate:"omitempty,oneof=file memory"`
	// Path overrides the platform default identity file.
	Path string `yaml:"path" env:"NEXUS_IDENTITY_PATH"`
}

type SessionConfig struct {
	// TokenFile is where the active account's credentials are written for
	// the external client.
	TokenFile string `yaml:"token_file" env:"NEXUS_SESSION_FILE"`
}

type LauncherConfig struct {
	Command     string   `yaml:"command" env:"NEXUS_LAUNCH_COMMAND"`
	Args        []string `yaml:"args" env:"NEXUS_LAUNCH_ARGS"`
	ProcessName string   `yaml:"process_name" env:"NEXUS_LAUNCH_PROCESS"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:      "127.0.0.1",
			Port:      8086,
			RateLimit: 20,
			RateBurst: 40,
		},
		Database:         DatabaseConfig{Path: "nexus.db"},
		Log:              LogConfig{Level: "info", Pretty: true},
		Endpoints:        credential.DefaultEndpoints(),
		Identity:         IdentityConfig{Effector: "file"},
		Session:          SessionConfig{TokenFile: credential.DefaultSessionPath()},
		RequestTimeout:   30 * time.Second,
		ProbeCacheTTL:    30 * time.Second,
		SnapshotInterval: 5 * time.Minute,
		Defaults:         DefaultSettings(),
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load builds the configuration: defaults, then the YAML file at path when
// it exists, then environment variables. The result is validated.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// DefaultPath is the config file looked up when none is given.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "nexus.yaml"
	}
	return filepath.Join(dir, "account-nexus", "nexus.yaml")
}
