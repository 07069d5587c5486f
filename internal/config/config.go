package config

import (
	"time"

	"github.com/pcroast/pcroast/internal/ailink"
)

// Config represents the complete application configuration.
//
// Values come from, in increasing precedence: built-in defaults, an optional
// YAML config file, PCROAST_* environment variables (plus the legacy PORT and
// GEMINI_API_KEY_n names), and command line flags.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Store     StoreConfig     `mapstructure:"store"`
	Audit     AuditConfig     `mapstructure:"audit"`
	AILink    ailink.Config   `mapstructure:"ailink"`
	Messages  MessagesConfig  `mapstructure:"messages"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// TrustProxy takes the caller address from X-Forwarded-For / X-Real-IP.
	// Only enable behind a proxy that overwrites those headers.
	TrustProxy bool `mapstructure:"trust_proxy"`

	// MaxBodyBytes caps the size of a gate request body.
	MaxBodyBytes int64 `mapstructure:"max_body_bytes"`
}

// RateLimitConfig configures the per-IP admission window shared by all gates.
type RateLimitConfig struct {
	Max           int           `mapstructure:"max"`
	Window        time.Duration `mapstructure:"window"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`

	// Backend selects where window state lives: "memory" or "libsql".
	Backend string `mapstructure:"backend"`
}

// StoreConfig contains database configuration for libsql/Turso
type StoreConfig struct {
	Driver    string `mapstructure:"driver"`
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
}

// AuditConfig locates the append-only request log.
type AuditConfig struct {
	Path string `mapstructure:"path"`
}

// MessagesConfig holds the payloads returned in place of generated text.
type MessagesConfig struct {
	RateLimited     string `mapstructure:"rate_limited"`
	UpstreamFailure string `mapstructure:"upstream_failure"`
	AuditFailure    string `mapstructure:"audit_failure"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	// Enabled controls whether the Prometheus exporter is started
	Enabled bool `mapstructure:"enabled"`

	// Port is the dedicated metrics endpoint port
	Port int `mapstructure:"port"`
}
