// Package config loads the client configuration: which server to talk to,
// how to reconnect, where the durable queue lives and how to log.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/natefinch/atomic"

	"github.com/codefionn/eventsock/internal/transport"
)

// Queue backends
const (
	QueueFile   = "file"
	QueueSQLite = "sqlite"
	QueueNone   = "none"
)

// Environment variables that override the file
const (
	EnvLogLevel = "EVENTSOCK_LOG_LEVEL"
	EnvLogPath  = "EVENTSOCK_LOG_PATH"
	EnvToken    = "EVENTSOCK_TOKEN"
)

// ServerConfig describes the endpoint
type ServerConfig struct {
	Address               string `json:"address"`
	Path                  string `json:"path"`
	Token                 string `json:"token,omitempty"`
	ConnectTimeoutSeconds int    `json:"connect_timeout_seconds"`
}

// ReconnectConfig controls the reconnect backoff
type ReconnectConfig struct {
	Enabled             bool    `json:"enabled"`
	InitialDelaySeconds int     `json:"initial_delay_seconds"`
	MaxDelaySeconds     int     `json:"max_delay_seconds"`
	Multiplier          float64 `json:"multiplier"`
	Jitter              float64 `json:"jitter"`
	MaxAttempts         int     `json:"max_attempts"` // 0 retries forever
}

// QueueConfig selects the durable queue backend
type QueueConfig struct {
	Backend string `json:"backend"` // "file", "sqlite" or "none"
	Path    string `json:"path"`
	Name    string `json:"name"` // row key for the sqlite backend
}

// Config represents the client configuration
type Config struct {
	Server                ServerConfig    `json:"server"`
	Reconnect             ReconnectConfig `json:"reconnect"`
	RequestTimeoutSeconds int             `json:"request_timeout_seconds"` // 0 waits forever
	Queue                 QueueConfig     `json:"queue"`
	LogLevel              string          `json:"log_level"` // debug, info, warn, error, none
	LogPath               string          `json:"log_path,omitempty"`
}

func defaultConfigDir() string {
	switch runtime.GOOS {
	case "windows":
		if appData := strings.TrimSpace(os.Getenv("APPDATA")); appData != "" {
			return filepath.Join(appData, "eventsock")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "AppData", "Roaming", "eventsock")
	default:
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".config", "eventsock")
	}
}

func defaultStateDir() string {
	switch runtime.GOOS {
	case "linux":
		if stateHome := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); stateHome != "" {
			return filepath.Join(stateHome, "eventsock")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".local", "state", "eventsock")
	case "windows":
		if localAppData := strings.TrimSpace(os.Getenv("LOCALAPPDATA")); localAppData != "" {
			return filepath.Join(localAppData, "eventsock")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "AppData", "Local", "eventsock")
	default:
		return defaultConfigDir()
	}
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	def := transport.DefaultBackoff()

	return &Config{
		Server: ServerConfig{
			Path:                  "/",
			ConnectTimeoutSeconds: 20,
		},
		Reconnect: ReconnectConfig{
			Enabled:             true,
			InitialDelaySeconds: int(def.Initial / time.Second),
			MaxDelaySeconds:     int(def.Max / time.Second),
			Multiplier:          def.Multiplier,
			Jitter:              def.RandomizationFactor,
		},
		Queue: QueueConfig{
			Backend: QueueFile,
			Path:    filepath.Join(defaultStateDir(), "queue.json"),
			Name:    "default",
		},
		LogLevel: "info",
	}
}

// Load loads configuration from file. A missing file yields the defaults.
// Environment overrides are applied last.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		// Unmarshal into default config (overrides only provided fields)
		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	if config.LogLevel == "" {
		config.LogLevel = "info"
	}
	if config.Queue.Backend == "" {
		config.Queue.Backend = QueueFile
	}
	if config.Queue.Name == "" {
		config.Queue.Name = "default"
	}
	config.applyEnv()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		c.LogLevel = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogPath)); v != "" {
		c.LogPath = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvToken)); v != "" {
		c.Server.Token = v
	}
}

// Validate reports every invalid setting
func (c *Config) Validate() error {
	var errs []error
	switch c.Queue.Backend {
	case QueueFile, QueueSQLite:
		if c.Queue.Path == "" {
			errs = append(errs, fmt.Errorf("queue.path is required for the %s backend", c.Queue.Backend))
		}
	case QueueNone:
	default:
		errs = append(errs, fmt.Errorf("unknown queue backend %q", c.Queue.Backend))
	}
	if c.Server.ConnectTimeoutSeconds < 0 {
		errs = append(errs, errors.New("server.connect_timeout_seconds must not be negative"))
	}
	if c.RequestTimeoutSeconds < 0 {
		errs = append(errs, errors.New("request_timeout_seconds must not be negative"))
	}
	if c.Reconnect.MaxAttempts < 0 {
		errs = append(errs, errors.New("reconnect.max_attempts must not be negative"))
	}
	if c.Reconnect.Jitter < 0 || c.Reconnect.Jitter >= 1 {
		errs = append(errs, errors.New("reconnect.jitter must be in [0, 1)"))
	}
	return errors.Join(errs...)
}

// ConnectTimeout returns the per-attempt connect timeout
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.Server.ConnectTimeoutSeconds) * time.Second
}

// RequestTimeout returns the per-request response timeout, zero for none
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// Backoff returns the reconnect policy. Zero fields fall back to the
// transport defaults.
func (c *Config) Backoff() transport.BackoffPolicy {
	return transport.BackoffPolicy{
		Initial:             time.Duration(c.Reconnect.InitialDelaySeconds) * time.Second,
		Max:                 time.Duration(c.Reconnect.MaxDelaySeconds) * time.Second,
		Multiplier:          c.Reconnect.Multiplier,
		RandomizationFactor: c.Reconnect.Jitter,
	}
}

// Save saves configuration to file
func (c *Config) Save(path string) error {
	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return atomic.WriteFile(path, strings.NewReader(string(data)+"\n"))
}

// GetConfigPath returns the default config path
func GetConfigPath() string {
	return filepath.Join(defaultConfigDir(), "config.json")
}
