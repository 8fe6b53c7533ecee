// Package config loads and validates the lenscan CLI configuration.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete CLI configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Login  LoginConfig  `yaml:"login"`
	Log    LogConfig    `yaml:"log"`
}

// ServerConfig identifies the Lenscan server the CLI talks to.
type ServerConfig struct {
	// URL is the server base URL. A trailing slash is tolerated and
	// stripped wherever the URL is concatenated.
	URL string `yaml:"url"`

	// ExtraOrigins lists additional non-loopback origins permitted to call
	// the local login listener, beyond the server's own origin. Rarely
	// needed outside proxy setups where the authorization page is served
	// from a different host than the API.
	ExtraOrigins []string `yaml:"extra_origins"`
}

// LoginConfig defines browser-login behavior.
type LoginConfig struct {
	// ClientName is sent to the authorization page as the ideName
	// parameter and shown to the user when confirming token creation.
	ClientName string `yaml:"client_name"`

	// TimeoutSeconds bounds how long the CLI waits for the browser
	// handshake before giving up.
	TimeoutSeconds int `yaml:"timeout"`
}

// LogConfig defines logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// Load reads and parses the configuration file. A missing file is not an
// error: the CLI is fully usable with defaults plus environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case os.IsNotExist(err):
		// Defaults only.
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// DefaultPath returns the per-user configuration file location.
func DefaultPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "lenscan", "config.yaml")
	}
	return filepath.Join(".", "lenscan.yaml")
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			URL: "https://lenscan.io",
		},
		Login: LoginConfig{
			ClientName:     "lenscan-cli",
			TimeoutSeconds: 300, // 5 minutes
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("LENSCAN_SERVER_URL"); v != "" {
		c.Server.URL = v
	}
	if v := os.Getenv("LENSCAN_CLIENT_NAME"); v != "" {
		c.Login.ClientName = v
	}
	if v := os.Getenv("LENSCAN_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("LENSCAN_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.URL == "" {
		return fmt.Errorf("server.url is required")
	}
	u, err := url.Parse(c.Server.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("server.url must be a valid HTTP(S) URL")
	}

	for _, o := range c.Server.ExtraOrigins {
		ou, err := url.Parse(o)
		if err != nil || (ou.Scheme != "http" && ou.Scheme != "https") || ou.Host == "" {
			return fmt.Errorf("server.extra_origins entry %q must be a valid HTTP(S) origin", o)
		}
	}

	if c.Login.ClientName == "" {
		return fmt.Errorf("login.client_name is required")
	}
	if c.Login.TimeoutSeconds <= 0 {
		return fmt.Errorf("login.timeout must be positive")
	}
	if c.Login.TimeoutSeconds > 3600 {
		return fmt.Errorf("login.timeout should not exceed 3600 seconds (1 hour)")
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}

	validFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("log.format must be one of: json, text")
	}

	return nil
}

// AllowedOrigins returns the non-loopback origins permitted to call the
// local login listener: the server's own origin plus any configured extras.
func (c *Config) AllowedOrigins() []string {
	origins := make([]string, 0, 1+len(c.Server.ExtraOrigins))
	if u, err := url.Parse(c.Server.URL); err == nil && u.Scheme != "" && u.Host != "" {
		origins = append(origins, u.Scheme+"://"+u.Host)
	}
	origins = append(origins, c.Server.ExtraOrigins...)
	return origins
}

// Timeout returns the browser handshake timeout as a duration.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Login.TimeoutSeconds) * time.Second
}

// SetupLogging configures the global slog logger based on the LogConfig.
func SetupLogging(cfg *LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(handler))
}

// Redact returns a copy of the config safe for printing. Nothing in the
// current schema is secret, but deep-copying the slices keeps callers from
// mutating the original through the copy.
func (c *Config) Redact() *Config {
	redacted := *c
	if c.Server.ExtraOrigins != nil {
		redacted.Server.ExtraOrigins = make([]string, len(c.Server.ExtraOrigins))
		copy(redacted.Server.ExtraOrigins, c.Server.ExtraOrigins)
	}
	return &redacted
}
