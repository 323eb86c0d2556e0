// Package config loads and validates the itemrelay YAML configuration.
package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultSettleDelay    = 500 * time.Millisecond
	maxSettleDelay        = 5 * time.Second
	defaultResyncInterval = 5 * time.Minute
	minResyncInterval     = 30 * time.Second
	maxResyncInterval     = 24 * time.Hour
	defaultRemoteTimeout  = 15 * time.Second
)

// Config holds the full application configuration loaded from YAML.
type Config struct {
	// ServerURL is the base URL of the item server (e.g. "https://items.example.com").
	ServerURL string `yaml:"server_url"`

	// StreamURL is the WebSocket endpoint for push notifications. Defaults to
	// ServerURL with a ws/wss scheme and a "/ws" path.
	StreamURL string `yaml:"stream_url,omitempty"`

	// Token is the bearer token sent on every request.
	Token string `yaml:"token"`

	// DBPath is the local SQLite database. Defaults to
	// ~/.local/share/itemrelay/items.db.
	DBPath string `yaml:"db_path,omitempty"`

	// SettleDelay is how long a key stays guarded after its remote call, to
	// absorb the server's echo. Defaults to 500ms, maximum 5s.
	SettleDelay time.Duration `yaml:"settle_delay,omitempty"`

	// ResyncInterval controls how often pending items are replayed.
	// Minimum 30s, maximum 24h. Defaults to 5m.
	ResyncInterval time.Duration `yaml:"resync_interval,omitempty"`

	// RemoteTimeout bounds a single remote call. Defaults to 15s.
	RemoteTimeout time.Duration `yaml:"remote_timeout,omitempty"`

	// Telemetry configures optional OpenTelemetry export via OTLP gRPC.
	// Omit the block entirely to disable telemetry.
	Telemetry *TelemetryConfig `yaml:"telemetry,omitempty"`
}

// TelemetryConfig holds optional OpenTelemetry settings.
type TelemetryConfig struct {
	// OTLPEndpoint is the gRPC host:port of the OTLP collector (e.g. "localhost:4317").
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// Insecure disables TLS for the collector connection.
	Insecure bool `yaml:"insecure,omitempty"`

	// ServiceName overrides the OTel service.name attribute. Defaults to "itemrelay".
	ServiceName string `yaml:"service_name,omitempty"`

	// Headers contains key-value pairs sent as gRPC metadata on every OTLP
	// request, e.g. Authorization: "Bearer <token>".
	Headers map[string]string `yaml:"headers,omitempty"`
}

// DefaultPath returns the default config file path: ~/.config/itemrelay/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "itemrelay", "config.yaml"), nil
}

// Load reads and validates the configuration file at the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file %q: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true) // reject unknown keys to catch typos early
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %q: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Write validates c and saves it to path with owner-only permissions, creating
// the parent directory if needed.
func (c *Config) Write(path string) error {
	if err := c.validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	// The file holds the bearer token.
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("writing config file %q: %w", path, err)
	}
	return nil
}

// validate checks that all required fields are present and well-formed, and
// fills in defaults.
func (c *Config) validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("server_url is required")
	}
	u, err := url.ParseRequestURI(c.ServerURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("server_url %q must be a valid http or https URL", c.ServerURL)
	}

	if c.StreamURL == "" {
		c.StreamURL = deriveStreamURL(u)
	} else {
		su, err := url.ParseRequestURI(c.StreamURL)
		if err != nil || (su.Scheme != "ws" && su.Scheme != "wss") || su.Host == "" {
			return fmt.Errorf("stream_url %q must be a valid ws or wss URL", c.StreamURL)
		}
	}

	if c.Token == "" {
		return fmt.Errorf("token is required")
	}

	if c.DBPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolving home directory: %w", err)
		}
		c.DBPath = filepath.Join(home, ".local", "share", "itemrelay", "items.db")
	}

	if c.SettleDelay == 0 {
		c.SettleDelay = defaultSettleDelay
	}
	if c.SettleDelay < 0 || c.SettleDelay > maxSettleDelay {
		return fmt.Errorf("settle_delay %v is out of range (0–5s)", c.SettleDelay)
	}

	if c.ResyncInterval == 0 {
		c.ResyncInterval = defaultResyncInterval
	}
	if c.ResyncInterval < minResyncInterval {
		return fmt.Errorf("resync_interval %v is too short (minimum 30s)", c.ResyncInterval)
	}
	if c.ResyncInterval > maxResyncInterval {
		return fmt.Errorf("resync_interval %v is too long (maximum 24h)", c.ResyncInterval)
	}

	if c.RemoteTimeout == 0 {
		c.RemoteTimeout = defaultRemoteTimeout
	}
	if c.RemoteTimeout < 0 {
		return fmt.Errorf("remote_timeout %v must be positive", c.RemoteTimeout)
	}

	if c.Telemetry != nil {
		if c.Telemetry.OTLPEndpoint == "" {
			return fmt.Errorf("telemetry.otlp_endpoint is required when telemetry is configured")
		}
	}

	return nil
}

// deriveStreamURL maps http(s)://host/base to ws(s)://host/base/ws.
func deriveStreamURL(u *url.URL) string {
	s := *u
	if s.Scheme == "https" {
		s.Scheme = "wss"
	} else {
		s.Scheme = "ws"
	}
	s.Path = strings.TrimRight(s.Path, "/") + "/ws"
	s.RawQuery = ""
	s.Fragment = ""
	return s.String()
}
