// Package config holds the YAML configuration shared by the server and the
// terminal client, with environment overrides layered on top.
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all yewchat configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Client  ClientConfig  `yaml:"client"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig configures the hub process.
type ServerConfig struct {
	Addr     string   `yaml:"addr"`
	MaxConns int      `yaml:"max_conns"`
	Origins  []string `yaml:"origins"` // empty means accept any origin

	History   HistoryConfig   `yaml:"history"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// HistoryConfig configures transcript persistence and replay.
type HistoryConfig struct {
	Path   string `yaml:"path"`
	Replay int    `yaml:"replay"` // messages replayed to a joining client
	Cap    int    `yaml:"cap"`    // retained messages before pruning
}

// RateLimitConfig bounds how fast one client may post.
type RateLimitConfig struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

// ClientConfig configures the terminal client.
type ClientConfig struct {
	ServerURL    string `yaml:"server_url"`
	Username     string `yaml:"username"`
	ReconnectMin string `yaml:"reconnect_min"`
	ReconnectMax string `yaml:"reconnect_max"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
	File   string `yaml:"file"`   // used by the terminal client, which must not write to stdout
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:     ":8080",
			MaxConns: 1024,
			History: HistoryConfig{
				Path:   "yewchat.db",
				Replay: 50,
				Cap:    10000,
			},
			RateLimit: RateLimitConfig{
				PerSecond: 5,
				Burst:     10,
			},
		},
		Client: ClientConfig{
			ServerURL:    "ws://127.0.0.1:8080/ws",
			ReconnectMin: "500ms",
			ReconnectMax: "15s",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			File:   filepath.Join(".yewchat", "client.log"),
		},
	}
}

// Load reads configuration from a YAML file, applies environment overrides,
// and validates the result. A missing file is not an error: defaults plus
// environment apply.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("YEWCHAT_ADDR"); addr != "" {
		c.Server.Addr = addr
	}
	if path := os.Getenv("YEWCHAT_HISTORY_PATH"); path != "" {
		c.Server.History.Path = path
	}
	if replay := os.Getenv("YEWCHAT_HISTORY_REPLAY"); replay != "" {
		if n, err := strconv.Atoi(replay); err == nil {
			c.Server.History.Replay = n
		}
	}
	if u := os.Getenv("YEWCHAT_SERVER_URL"); u != "" {
		c.Client.ServerURL = u
	}
	if name := os.Getenv("YEWCHAT_USERNAME"); name != "" {
		c.Client.Username = name
	}
	if level := os.Getenv("YEWCHAT_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if file := os.Getenv("YEWCHAT_LOG_FILE"); file != "" {
		c.Logging.File = file
	}
}

// Validate rejects configurations the server or client cannot run with.
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Server.Addr); err != nil {
		return fmt.Errorf("invalid server.addr %q: %w", c.Server.Addr, err)
	}
	if c.Server.MaxConns < 1 {
		return fmt.Errorf("server.max_conns must be positive, got %d", c.Server.MaxConns)
	}
	if c.Server.History.Replay < 0 {
		return fmt.Errorf("server.history.replay must not be negative, got %d", c.Server.History.Replay)
	}
	if c.Server.History.Cap < c.Server.History.Replay {
		return fmt.Errorf("server.history.cap (%d) must be at least server.history.replay (%d)",
			c.Server.History.Cap, c.Server.History.Replay)
	}
	if c.Server.RateLimit.PerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.per_second must be positive, got %v", c.Server.RateLimit.PerSecond)
	}
	if c.Server.RateLimit.Burst < 1 {
		return fmt.Errorf("server.rate_limit.burst must be positive, got %d", c.Server.RateLimit.Burst)
	}

	u, err := url.Parse(c.Client.ServerURL)
	if err != nil {
		return fmt.Errorf("invalid client.server_url %q: %w", c.Client.ServerURL, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("client.server_url scheme must be ws or wss, got %q", u.Scheme)
	}
	if c.ReconnectMin() > c.ReconnectMax() {
		return fmt.Errorf("client.reconnect_min (%s) exceeds client.reconnect_max (%s)",
			c.Client.ReconnectMin, c.Client.ReconnectMax)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error; got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}
	return nil
}

// ReconnectMin returns the initial reconnect backoff as a duration.
func (c *Config) ReconnectMin() time.Duration {
	d, err := time.ParseDuration(c.Client.ReconnectMin)
	if err != nil {
		return 500 * time.Millisecond
	}
	return d
}

// ReconnectMax returns the reconnect backoff ceiling as a duration.
func (c *Config) ReconnectMax() time.Duration {
	d, err := time.ParseDuration(c.Client.ReconnectMax)
	if err != nil {
		return 15 * time.Second
	}
	return d
}
