// Package config provides configuration management for agentdeck.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for agentdeck.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Agent     AgentConfig     `mapstructure:"agent"`
	Runner    RunnerConfig    `mapstructure:"runner"`
	Workstate WorkstateConfig `mapstructure:"workstate"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// DatabaseConfig holds database configuration. Driver selects the backend:
// "sqlite" (default, file-backed) or "postgres" (DSN built from the
// connection fields).
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Path     string `mapstructure:"path"` // sqlite file path
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbName"`
	SSLMode  string `mapstructure:"sslMode"`
	MaxConns int    `mapstructure:"maxConns"`
	MinConns int    `mapstructure:"minConns"`
}

// NATSConfig holds NATS messaging configuration.
// An empty URL selects the in-memory event bus.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// AgentConfig holds configuration for the external agent CLI process.
type AgentConfig struct {
	// BinaryPath is the agent CLI binary (default: "claude", resolved via PATH).
	BinaryPath string `mapstructure:"binaryPath"`

	// DefaultModel is used when a start request does not name a model.
	DefaultModel string `mapstructure:"defaultModel"`

	// PassthroughEnv lists environment variables forwarded to the agent
	// process in addition to the inherited environment.
	PassthroughEnv []string `mapstructure:"passthroughEnv"`
}

// RunnerConfig holds timing knobs for session supervision and the resume loop.
// All durations are in seconds.
type RunnerConfig struct {
	CheckInterval   int `mapstructure:"checkInterval"`   // activity check cadence
	IdleThreshold   int `mapstructure:"idleThreshold"`   // no output, no result yet
	PostResultGrace int `mapstructure:"postResultGrace"` // result seen, process lingering
	PollInterval    int `mapstructure:"pollInterval"`    // resume loop work-state poll
	MaxResumeCycles int `mapstructure:"maxResumeCycles"`
	ShutdownGrace   int `mapstructure:"shutdownGrace"` // interrupt-to-kill grace
}

// WorkstateConfig holds the location of the team task/inbox store.
type WorkstateConfig struct {
	Root string `mapstructure:"root"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// CheckIntervalDuration returns the activity check cadence as a time.Duration.
func (r *RunnerConfig) CheckIntervalDuration() time.Duration {
	return time.Duration(r.CheckInterval) * time.Second
}

// IdleThresholdDuration returns the idle threshold as a time.Duration.
func (r *RunnerConfig) IdleThresholdDuration() time.Duration {
	return time.Duration(r.IdleThreshold) * time.Second
}

// PostResultGraceDuration returns the post-result grace as a time.Duration.
func (r *RunnerConfig) PostResultGraceDuration() time.Duration {
	return time.Duration(r.PostResultGrace) * time.Second
}

// PollIntervalDuration returns the resume poll interval as a time.Duration.
func (r *RunnerConfig) PollIntervalDuration() time.Duration {
	return time.Duration(r.PollInterval) * time.Second
}

// ShutdownGraceDuration returns the interrupt-to-kill grace as a time.Duration.
func (r *RunnerConfig) ShutdownGraceDuration() time.Duration {
	return time.Duration(r.ShutdownGrace) * time.Second
}

// detectDefaultLogFormat returns "json" in production-like environments and
// "text" for terminal/development use.
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("AGENTDECK_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	// Database defaults - sqlite file in the state directory
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "~/.agentdeck/agentdeck.db")
	v.SetDefault("database.host", "")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "agentdeck")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbName", "agentdeck")
	v.SetDefault("database.sslMode", "disable")
	v.SetDefault("database.maxConns", 25)
	v.SetDefault("database.minConns", 5)

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "agentdeck")
	v.SetDefault("nats.maxReconnects", 10)

	// Agent defaults
	v.SetDefault("agent.binaryPath", "claude")
	v.SetDefault("agent.defaultModel", "claude-sonnet-4-5")
	v.SetDefault("agent.passthroughEnv", []string{})

	// Runner defaults - cadence values observed in the deployed system
	v.SetDefault("runner.checkInterval", 5)
	v.SetDefault("runner.idleThreshold", 60)
	v.SetDefault("runner.postResultGrace", 5)
	v.SetDefault("runner.pollInterval", 5)
	v.SetDefault("runner.maxResumeCycles", 30)
	v.SetDefault("runner.shutdownGrace", 5)

	// Workstate defaults
	v.SetDefault("workstate.root", "~/.agentdeck/workstate")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix AGENTDECK_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory
// or /etc/agentdeck/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults first
	setDefaults(v)

	// Configure environment variables
	v.SetEnvPrefix("AGENTDECK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for snake_case env vars (camelCase config keys).
	// AutomaticEnv does not handle camelCase to SNAKE_CASE conversion.
	_ = v.BindEnv("agent.binaryPath", "AGENTDECK_AGENT_BINARY_PATH")
	_ = v.BindEnv("agent.defaultModel", "AGENTDECK_AGENT_DEFAULT_MODEL")
	_ = v.BindEnv("workstate.root", "AGENTDECK_WORKSTATE_ROOT")

	// Configure config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/agentdeck/")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	switch cfg.Database.Driver {
	case "sqlite":
		if cfg.Database.Path == "" {
			errs = append(errs, "database.path is required for the sqlite driver")
		}
	case "postgres":
		if cfg.Database.Host == "" {
			errs = append(errs, "database.host is required for the postgres driver")
		}
		if cfg.Database.Port <= 0 || cfg.Database.Port > 65535 {
			errs = append(errs, "database.port must be between 1 and 65535")
		}
		if cfg.Database.User == "" {
			errs = append(errs, "database.user is required for the postgres driver")
		}
		if cfg.Database.DBName == "" {
			errs = append(errs, "database.dbName is required for the postgres driver")
		}
	default:
		errs = append(errs, "database.driver must be one of: sqlite, postgres")
	}

	if cfg.Agent.BinaryPath == "" {
		errs = append(errs, "agent.binaryPath is required")
	}

	if cfg.Runner.CheckInterval <= 0 {
		errs = append(errs, "runner.checkInterval must be positive")
	}
	if cfg.Runner.IdleThreshold <= 0 {
		errs = append(errs, "runner.idleThreshold must be positive")
	}
	if cfg.Runner.PostResultGrace <= 0 {
		errs = append(errs, "runner.postResultGrace must be positive")
	}
	if cfg.Runner.PollInterval <= 0 {
		errs = append(errs, "runner.pollInterval must be positive")
	}
	if cfg.Runner.MaxResumeCycles <= 0 {
		errs = append(errs, "runner.maxResumeCycles must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}
