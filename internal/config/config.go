package config

import (
	"context"
	"time"
)

// ListenerConfig holds the network settings for the HTTP listener.
type ListenerConfig struct {
	Port              int
	ReadHeaderTimeout time.Duration
}

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

// Config holds all configuration for the chat service.
type Config struct {
	// Mode controls security behavior: "prod" (default) or "testing".
	// In testing mode the X-User-ID header is accepted as the caller identity.
	Mode string

	// Database
	DBURL         string
	DatastoreType string // "mongo" or "memory"

	// Run datastore migrations on startup.
	DatastoreMigrateAtStart bool

	// Event bus backend type: "nats", "redis", or "local".
	BusType  string
	NATSURL  string
	RedisURL string

	// Base URL of the resource-link service used for star/bookmark lookups.
	// Empty disables star resolution (every message reads as unstarred).
	ResourceLinkURL string

	// Domains to bootstrap a default channel for at startup, comma-separated.
	BootstrapDomains string

	// APIKeys maps API key values to member ids.
	APIKeys map[string]string

	// Server
	Listener  ListenerConfig
	AccessLog bool

	// MetricsLabels is a comma-separated list of key=value pairs added as
	// constant labels to all Prometheus metrics.
	MetricsLabels string

	// Body size limit (bytes)
	MaxBodySize int64

	// Graceful shutdown drain timeout (seconds)
	DrainTimeout int

	// DB pool
	DBMaxOpenConns int
	DBMaxIdleConns int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Mode:                    ModeProd,
		DatastoreType:           "mongo",
		DatastoreMigrateAtStart: true,
		BusType:                 "local",
		Listener: ListenerConfig{
			Port:              8080,
			ReadHeaderTimeout: 5 * time.Second,
		},
		AccessLog:      true,
		MaxBodySize:    1 * 1024 * 1024,
		DrainTimeout:   30,
		DBMaxOpenConns: 25,
		DBMaxIdleConns: 5,
	}
}
