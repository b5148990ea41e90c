// Package config holds process-wide configuration for memoryd and the
// context plumbing used to pass it to plugins without a global variable.
package config

import (
	"context"
	"time"
)

type contextKey struct{}

// WithContext returns a new context carrying the given Config.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, contextKey{}, cfg)
}

// FromContext retrieves the Config from the context.
func FromContext(ctx context.Context) *Config {
	cfg, _ := ctx.Value(contextKey{}).(*Config)
	return cfg
}

const (
	ModeProd    = "prod"
	ModeTesting = "testing"
)

// EmbedMode is the closed tagged variant replacing the source system's
// loose boolean|"sync"|"async" embedding option (spec.md §9).
type EmbedMode string

const (
	EmbedSync     EmbedMode = "sync"
	EmbedAsync    EmbedMode = "async"
	EmbedDisabled EmbedMode = "disabled"
)

// ListenerConfig holds the network settings for a single HTTP listener.
type ListenerConfig struct {
	Port              int
	ReadHeaderTimeout time.Duration
}

// Config holds all configuration for memoryd.
type Config struct {
	// Mode names the deployment mode: "prod" (default) or "testing". It is
	// carried in the config only; no component reads it, so it does not
	// change auth behavior.
	Mode string

	// Database.
	DBKind         string // "postgres" or "sqlite"
	DBURL          string
	DBMaxOpenConns int
	DBMaxIdleConns int

	// Run schema migrations automatically on startup.
	MigrateAtStart bool

	// Embedding provider.
	EmbedKind        string // "openai" or "disabled"
	OpenAIAPIKey     string
	OpenAIModelName  string
	OpenAIBaseURL    string
	OpenAIDimensions int
	EmbedTimeout     time.Duration

	// Default embedding mode for the RPC surface, split per transport
	// (spec.md §9 Open Question): stdio serves one caller at a time so a
	// synchronous embed is cheap and gives simpler semantics; HTTP serves
	// many concurrent callers where a blocking embed call would hurt
	// latency, so it defaults to async.
	DefaultEmbedModeStdio EmbedMode
	DefaultEmbedModeHTTP  EmbedMode

	// Embedding worker.
	EmbedWorkerBatchSize    int
	EmbedWorkerMaxRetries   int
	EmbedWorkerRetryBaseDur time.Duration
	EmbedWorkerScanInterval time.Duration

	// Vector/search defaults.
	SimilarityThreshold float64
	CompositeThreshold  float64
	CompositeVecWeight  float64
	CompositeTextWeight float64

	// OIDC (identity-provider token verification path).
	OIDCIssuer string

	// OAuth 2.0 authorization server (this system as provider).
	OAuthCodeTTL  time.Duration
	OAuthTokenTTL time.Duration

	// Session cache (resolved IdP identities).
	SessionCacheTTL time.Duration

	// Server.
	Listener           ListenerConfig
	ManagementListener ListenerConfig
	CORSEnabled        bool
	CORSOrigins        string

	// Stdio transport. StdioMultiTenant requires a bearer token to be framed
	// into every stdio request; when false the legacy single-user mode is
	// used and StdioLegacyUserID supplies the fixed user. There is
	// deliberately no "default user from env" fallback once multi-tenant
	// mode is on (spec.md §9).
	StdioMultiTenant  bool
	StdioLegacyUserID string

	DrainTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults, following the
// teacher's DefaultConfig shape.
func DefaultConfig() Config {
	return Config{
		Mode:                    ModeProd,
		DBKind:                  "postgres",
		MigrateAtStart:          true,
		DBMaxOpenConns:          25,
		DBMaxIdleConns:          5,
		EmbedKind:               "disabled",
		OpenAIModelName:         "text-embedding-3-small",
		OpenAIBaseURL:           "https://api.openai.com/v1",
		OpenAIDimensions:        1536,
		EmbedTimeout:            30 * time.Second,
		DefaultEmbedModeStdio:   EmbedSync,
		DefaultEmbedModeHTTP:    EmbedAsync,
		EmbedWorkerBatchSize:    10,
		EmbedWorkerMaxRetries:   3,
		EmbedWorkerRetryBaseDur: time.Second,
		EmbedWorkerScanInterval: 5 * time.Second,
		SimilarityThreshold:     0.3,
		CompositeThreshold:      0.6,
		CompositeVecWeight:      0.7,
		CompositeTextWeight:     0.3,
		OAuthCodeTTL:            10 * time.Minute,
		OAuthTokenTTL:           time.Hour,
		SessionCacheTTL:         time.Hour,
		Listener: ListenerConfig{
			Port:              8080,
			ReadHeaderTimeout: 5 * time.Second,
		},
		ManagementListener: ListenerConfig{
			Port:              0,
			ReadHeaderTimeout: 5 * time.Second,
		},
		StdioMultiTenant: true,
		DrainTimeout:     30 * time.Second,
	}
}

// NormalizeEmbedMode maps the loose forms accepted at API edges (nil => use
// the caller's default, true => sync, false => disabled, string forms) onto
// the closed EmbedMode variant. Only this function ever sees the loose form;
// the rest of the code only sees EmbedMode (spec.md §9).
func NormalizeEmbedMode(raw any, fallback EmbedMode) EmbedMode {
	switch v := raw.(type) {
	case nil:
		return fallback
	case bool:
		if v {
			return EmbedSync
		}
		return EmbedDisabled
	case string:
		switch EmbedMode(v) {
		case EmbedSync, EmbedAsync, EmbedDisabled:
			return EmbedMode(v)
		default:
			return fallback
		}
	case EmbedMode:
		return v
	default:
		return fallback
	}
}
