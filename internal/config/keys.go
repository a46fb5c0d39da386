package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kDuration
)

func (t keyType) parse(raw string) (any, error) {
	switch t {
	case kInt:
		i, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", raw)
		}
		return i, nil
	case kDuration:
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid duration %q", raw)
		}
		return d, nil
	default:
		return raw, nil
	}
}

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "authority.base_url", typ: kString, env: "TICKETDESK_AUTHORITY_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Authority.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Authority.BaseURL },
	},
	{
		key: "authority.stream_url", typ: kString, env: "TICKETDESK_AUTHORITY_STREAM_URL",
		apply:   func(cfg *Config, v any) { cfg.Authority.StreamURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Authority.StreamURL },
	},
	{
		key: "authority.transport", typ: kString, env: "TICKETDESK_AUTHORITY_TRANSPORT",
		apply:   func(cfg *Config, v any) { cfg.Authority.Transport = v.(string) },
		extract: func(cfg Config) any { return cfg.Authority.Transport },
	},
	{
		key: "authority.request_timeout", typ: kDuration, env: "TICKETDESK_AUTHORITY_REQUEST_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Authority.RequestTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Authority.RequestTimeout },
	},
	{
		key: "authority.token", typ: kString, env: "TICKETDESK_AUTHORITY_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Authority.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Authority.Token },
	},
	{
		key: "storage.data_dir", typ: kString, env: "TICKETDESK_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "server.port", typ: kInt, env: "TICKETDESK_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.api_token", typ: kString, env: "TICKETDESK_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "sync.probe_interval", typ: kDuration, env: "TICKETDESK_SYNC_PROBE_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Sync.ProbeInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Sync.ProbeInterval },
	},
	{
		key: "sync.reconnect_delay", typ: kDuration, env: "TICKETDESK_SYNC_RECONNECT_DELAY",
		apply:   func(cfg *Config, v any) { cfg.Sync.ReconnectDelay = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Sync.ReconnectDelay },
	},
	{
		key: "sync.retry_interval", typ: kDuration, env: "TICKETDESK_SYNC_RETRY_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Sync.RetryInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Sync.RetryInterval },
	},
	{
		key: "sync.scope_priority", typ: kString, env: "TICKETDESK_SYNC_SCOPE_PRIORITY",
		apply:   func(cfg *Config, v any) { cfg.Sync.ScopePriority = v.(string) },
		extract: func(cfg Config) any { return cfg.Sync.ScopePriority },
	},
	{
		key: "sync.scope_query", typ: kString, env: "TICKETDESK_SYNC_SCOPE_QUERY",
		apply:   func(cfg *Config, v any) { cfg.Sync.ScopeQuery = v.(string) },
		extract: func(cfg Config) any { return cfg.Sync.ScopeQuery },
	},
	{
		key: "log.level", typ: kString, env: "TICKETDESK_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

// warnOut receives load-time warnings; tests swap it out.
var warnOut io.Writer = os.Stderr

func warnf(format string, args ...any) {
	fmt.Fprintf(warnOut, "[WARN] "+format+"\n", args...)
}

// applySettings copies persisted values into cfg. A value that does not
// parse is reported and the default is kept.
func applySettings(cfg *Config, st Settings) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		raw, ok, err := st.Lookup(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || raw == "" {
			continue
		}
		v, err := s.typ.parse(raw)
		if err != nil {
			warnf("config key %s: %v. Using default value.", s.key, err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw := os.Getenv(s.env)
		if s.env == "" || raw == "" {
			continue
		}
		v, err := s.typ.parse(raw)
		if err != nil {
			warnf("env var %s: %v. Using default value.", s.env, err)
			continue
		}
		s.apply(cfg, v)
	}
}
