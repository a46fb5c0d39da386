package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/tariku1234/ticketdesk/internal/ticket"
)

type Config struct {
	Authority AuthorityConfig
	Storage   StorageConfig
	Server    ServerConfig
	Sync      SyncConfig
	Log       LogConfig
}

type AuthorityConfig struct {
	BaseURL string
	// StreamURL overrides the push endpoint derived from BaseURL.
	StreamURL      string
	Transport      string // "sse" or "websocket"
	RequestTimeout time.Duration
	Token          string
}

type StorageConfig struct {
	DataDir string
}

type ServerConfig struct {
	Port     int
	APIToken string
}

type SyncConfig struct {
	ProbeInterval  time.Duration
	ReconnectDelay time.Duration
	RetryInterval  time.Duration
	ScopePriority  string
	ScopeQuery     string
}

type LogConfig struct {
	Level string
}

const (
	TransportSSE       = "sse"
	TransportWebSocket = "websocket"
)

func defaults() Config {
	return Config{
		Authority: AuthorityConfig{
			BaseURL:        "http://localhost:3001",
			Transport:      TransportSSE,
			RequestTimeout: 15 * time.Second,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Server: ServerConfig{
			Port: 4100,
		},
		Sync: SyncConfig{
			ProbeInterval:  5 * time.Second,
			ReconnectDelay: 5 * time.Second,
			RetryInterval:  30 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load layers defaults, the platform settings and TICKETDESK_* environment
// variables, in that order.
//
// Settings live in UserDefaults (com.ticketdesk.app) on macOS and in
// $XDG_CONFIG_HOME/ticketdesk/config.json elsewhere. Secrets are only read
// from the environment.
func Load() (Config, error) {
	return loadWith(newPlatformSettings())
}

func loadWith(st Settings) (Config, error) {
	cfg := defaults()

	if err := applySettings(&cfg, st); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	u, err := url.Parse(c.Authority.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid authority.base_url %q", c.Authority.BaseURL)
	}
	switch c.Authority.Transport {
	case TransportSSE, TransportWebSocket:
	default:
		return fmt.Errorf("invalid authority.transport %q: want %q or %q", c.Authority.Transport, TransportSSE, TransportWebSocket)
	}
	if c.Authority.RequestTimeout <= 0 {
		return fmt.Errorf("authority.request_timeout must be positive, got %s", c.Authority.RequestTimeout)
	}
	if c.Sync.ProbeInterval <= 0 {
		return fmt.Errorf("sync.probe_interval must be positive, got %s", c.Sync.ProbeInterval)
	}
	// A zero retry interval turns the retry worker off.
	if c.Sync.RetryInterval < 0 {
		return fmt.Errorf("sync.retry_interval must not be negative, got %s", c.Sync.RetryInterval)
	}
	if c.Sync.ScopePriority != "" {
		if _, err := ticket.ParsePriority(c.Sync.ScopePriority); err != nil {
			return fmt.Errorf("invalid sync.scope_priority: %w", err)
		}
	}
	return nil
}

// StreamEndpoint returns the push stream URL for the configured transport.
func (a AuthorityConfig) StreamEndpoint() string {
	if a.StreamURL != "" {
		return a.StreamURL
	}
	base := strings.TrimRight(a.BaseURL, "/")
	if a.Transport == TransportWebSocket {
		switch {
		case strings.HasPrefix(base, "https://"):
			base = "wss://" + strings.TrimPrefix(base, "https://")
		case strings.HasPrefix(base, "http://"):
			base = "ws://" + strings.TrimPrefix(base, "http://")
		}
		return base + "/ws"
	}
	return base + "/events"
}

// Scope returns the filter sent to the authority on refresh.
func (s SyncConfig) Scope() ticket.Filter {
	f := ticket.Filter{Search: s.ScopeQuery}
	if p, err := ticket.ParsePriority(s.ScopePriority); err == nil && s.ScopePriority != "" {
		f.Priority = p
	}
	return f
}
