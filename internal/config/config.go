// Package config loads RoleplayChat configuration.
//
// Sources, lowest to highest precedence: built-in defaults, the YAML file
// (--config or ~/.config/roleplaychat/config.yaml), environment variables,
// and finally command-line flags applied by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	BackendGemini    = "gemini"
	BackendOpenAI    = "openai"
	BackendAnthropic = "anthropic"
	BackendGrok      = "grok"
	BackendOllama    = "ollama"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

// Config holds application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Backend   BackendConfig   `yaml:"backend"`
	Client    ClientConfig    `yaml:"client"`
	Log       LogConfig       `yaml:"log"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Debug     bool            `yaml:"debug"`
}

// ServerConfig configures the Session API HTTP server.
type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`

	// AppendTimeout bounds the append-turn path including the model call.
	AppendTimeout time.Duration `yaml:"append_timeout"`
}

// DatabaseConfig selects the message store driver and pool bounds.
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"` // sqlite3 | pgx
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// BackendConfig selects the completion provider.
type BackendConfig struct {
	Provider string        `yaml:"provider"`
	Model    string        `yaml:"model"`
	APIKey   string        `yaml:"api_key"`
	BaseURL  string        `yaml:"base_url"`
	Timeout  time.Duration `yaml:"timeout"`
}

// ClientConfig configures the terminal client.
type ClientConfig struct {
	ServerURL string        `yaml:"server_url"`
	StatePath string        `yaml:"state_path"` // local storage file
	Timeout   time.Duration `yaml:"timeout"`
}

// LogConfig configures the rotating JSON log.
type LogConfig struct {
	Dir        string `yaml:"dir"`
	File       string `yaml:"file"`
	Level      string `yaml:"level"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
	Stderr     bool   `yaml:"stderr"`
}

// TelemetryConfig configures otel trace and metric export.
type TelemetryConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Dir            string        `yaml:"dir"`
	ServiceName    string        `yaml:"service_name"`
	MetricInterval time.Duration `yaml:"metric_interval"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:           "localhost:8000",
			AllowedOrigins: []string{"http://localhost:3000"},
			AppendTimeout:  30 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:          DriverSQLite,
			DSN:             "roleplaychat.db",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Backend: BackendConfig{
			Provider: BackendGemini,
			Timeout:  60 * time.Second,
		},
		Client: ClientConfig{
			ServerURL: "http://localhost:8000",
			StatePath: defaultStatePath(),
			Timeout:   45 * time.Second,
		},
		Log: LogConfig{
			Dir:        "logs",
			File:       "roleplaychat.log",
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
			Compress:   true,
		},
		Telemetry: TelemetryConfig{
			Enabled:        true,
			Dir:            "logs",
			ServiceName:    "roleplaychat",
			MetricInterval: 10 * time.Second,
		},
	}
}

// DefaultPath returns ~/.config/roleplaychat/config.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "roleplaychat", "config.yaml")
}

func defaultStatePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "roleplaychat-state.db"
	}
	return filepath.Join(home, ".local", "share", "roleplaychat", "state.db")
}

// Load reads the config file at path, merging environment overrides.
// Provider API keys are left to ResolveAPIKey.
// An empty path means DefaultPath; a missing file yields the defaults.
// An explicitly named file that does not exist is an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("invalid config file %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist) && !explicit:
		default:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides copies environment variables over file values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ROLEPLAYCHAT_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("ROLEPLAYCHAT_ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = splitList(v)
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.Driver = DriverPostgres
		cfg.Database.DSN = v
	}
	if v := os.Getenv("ROLEPLAYCHAT_DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("ROLEPLAYCHAT_DB_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("ROLEPLAYCHAT_PROVIDER"); v != "" {
		cfg.Backend.Provider = v
	}
	if v := os.Getenv("ROLEPLAYCHAT_MODEL"); v != "" {
		cfg.Backend.Model = v
	}
	if v := os.Getenv("ROLEPLAYCHAT_BASE_URL"); v != "" {
		cfg.Backend.BaseURL = v
	}
	if v := os.Getenv("ROLEPLAYCHAT_SERVER_URL"); v != "" {
		cfg.Client.ServerURL = v
	}
	if v := os.Getenv("ROLEPLAYCHAT_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

// ResolveAPIKey fills an unset API key from the environment variable of the
// selected provider. Call it after every provider override has been applied.
func (c *Config) ResolveAPIKey() {
	if c.Backend.APIKey != "" {
		return
	}
	if env := APIKeyEnv(c.Backend.Provider); env != "" {
		c.Backend.APIKey = os.Getenv(env)
	}
}

// APIKeyEnv names the environment variable holding the key for a provider.
func APIKeyEnv(provider string) string {
	switch provider {
	case BackendGemini:
		return "GOOGLE_API_KEY"
	case BackendOpenAI:
		return "OPENAI_API_KEY"
	case BackendAnthropic:
		return "ANTHROPIC_API_KEY"
	case BackendGrok:
		return "GROK_API_KEY"
	default:
		return ""
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("unknown database driver %q (want %s or %s)", c.Database.Driver, DriverSQLite, DriverPostgres)
	}
	if c.Database.DSN == "" {
		return errors.New("database dsn is required")
	}
	switch c.Backend.Provider {
	case BackendGemini, BackendOpenAI, BackendAnthropic, BackendGrok, BackendOllama:
	default:
		return fmt.Errorf("unknown backend: %s", c.Backend.Provider)
	}
	if c.Server.AppendTimeout < 0 || c.Backend.Timeout < 0 || c.Client.Timeout < 0 {
		return errors.New("timeouts must not be negative")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	return nil
}
