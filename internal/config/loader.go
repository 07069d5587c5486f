// Package config provides centralized configuration management for pcroast.
// Defaults, the optional config file and environment variables are layered
// through viper and decoded into typed structs with mapstructure.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/pcroast/pcroast/internal/ailink"
)

// EnvPrefix prefixes every environment variable read by the service.
const EnvPrefix = "PCROAST"

// Listener defaults.
const (
	DefaultHost = "0.0.0.0"
	DefaultPort = 15021
)

// Rate limit backends.
const (
	BackendMemory = "memory"
	BackendLibsql = "libsql"
)

// Default payloads. The rate limit and upstream texts match what existing
// frontends already compare against.
const (
	DefaultRateLimitedMessage     = "Too many requests from this IP, please try again after 10 minutes"
	DefaultUpstreamFailureMessage = "Too many requests, please try again after 5 minutes"
	DefaultAuditFailureMessage    = "Your build was roasted but could not be recorded, please try again later"
)

// legacyGateEnv maps each gate to the environment variable older deployments
// use for its credential.
var legacyGateEnv = map[string]string{
	ailink.Gate1: "GEMINI_API_KEY_1",
	ailink.Gate2: "GEMINI_API_KEY_2",
	ailink.Gate3: "GEMINI_API_KEY_3",
}

// SetDefaults registers default values on v. Every key the service reads must
// have a default so environment overrides are picked up by Load.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", DefaultHost)
	v.SetDefault("server.port", DefaultPort)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "90s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.trust_proxy", false)
	v.SetDefault("server.max_body_bytes", 100*1024)

	// Rate limit defaults
	v.SetDefault("rate_limit.max", 5)
	v.SetDefault("rate_limit.window", "10m")
	v.SetDefault("rate_limit.sweep_interval", "1m")
	v.SetDefault("rate_limit.backend", BackendMemory)

	// Store defaults (only used by the libsql rate limit backend)
	v.SetDefault("store.driver", "libsql")
	v.SetDefault("store.path", DefaultStorePath())
	v.SetDefault("store.url", "")
	v.SetDefault("store.auth_token", "")

	// Audit defaults
	v.SetDefault("audit.path", "requests.csv")

	// AILink defaults
	v.SetDefault("ailink.default_provider", "gemini")
	v.SetDefault("ailink.default_model", "gemini-1.5-flash")
	v.SetDefault("ailink.default_timeout", "60s")
	v.SetDefault("ailink.prompt_file", "")
	for _, gate := range ailink.GateNames {
		prefix := "ailink.gates." + gate + "."
		v.SetDefault(prefix+"ai_provider", "")
		v.SetDefault(prefix+"model", "")
		v.SetDefault(prefix+"base_url", "")
		v.SetDefault(prefix+"api_key", "")
		v.SetDefault(prefix+"timeout", "0s")
	}

	// Payload defaults
	v.SetDefault("messages.rate_limited", DefaultRateLimitedMessage)
	v.SetDefault("messages.upstream_failure", DefaultUpstreamFailureMessage)
	v.SetDefault("messages.audit_failure", DefaultAuditFailureMessage)

	// Logging defaults
	v.SetDefault("logging.level", "info")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)
}

// BindEnv wires PCROAST_* variables (dots become underscores) and the legacy
// variable names onto v.
func BindEnv(v *viper.Viper) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.BindEnv("server.port", EnvPrefix+"_SERVER_PORT", "PORT"); err != nil {
		return fmt.Errorf("bind server port env: %w", err)
	}

	for gate, legacy := range legacyGateEnv {
		key := "ailink.gates." + gate + ".api_key"
		primary := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, primary, legacy); err != nil {
			return fmt.Errorf("bind %s env: %w", gate, err)
		}
	}

	return nil
}

// Load decodes the settings held by v into a Config.
func Load(v *viper.Viper) (*Config, error) {
	if v == nil {
		v = viper.GetViper()
	}

	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyFallbacks(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects settings the service cannot run with. Missing API keys are
// deliberately not checked here.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	switch c.RateLimit.Backend {
	case BackendMemory, BackendLibsql:
	default:
		return fmt.Errorf("unsupported rate limit backend: %s", c.RateLimit.Backend)
	}
	if strings.TrimSpace(c.Audit.Path) == "" {
		return fmt.Errorf("audit path is required")
	}
	return nil
}

// DefaultStorePath returns the default libsql database location.
func DefaultStorePath() string {
	return "pcroast.db"
}

func applyFallbacks(cfg *Config) {
	cfg.RateLimit.Backend = strings.ToLower(strings.TrimSpace(cfg.RateLimit.Backend))
	if cfg.RateLimit.Backend == "" {
		cfg.RateLimit.Backend = BackendMemory
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.RateLimit.SweepInterval <= 0 {
		cfg.RateLimit.SweepInterval = time.Minute
	}

	if cfg.AILink.Gates == nil {
		cfg.AILink.Gates = make(map[string]ailink.GateConfig, len(ailink.GateNames))
	}
	for _, gate := range ailink.GateNames {
		gc := cfg.AILink.Gates[gate]
		if strings.TrimSpace(gc.AIProvider) == "" {
			gc.AIProvider = cfg.AILink.DefaultProvider
		}
		if strings.TrimSpace(gc.Model) == "" {
			gc.Model = cfg.AILink.DefaultModel
		}
		if gc.Timeout <= 0 {
			gc.Timeout = cfg.AILink.DefaultTimeout
		}
		cfg.AILink.Gates[gate] = gc
	}

	if strings.TrimSpace(cfg.Messages.RateLimited) == "" {
		cfg.Messages.RateLimited = DefaultRateLimitedMessage
	}
	if strings.TrimSpace(cfg.Messages.UpstreamFailure) == "" {
		cfg.Messages.UpstreamFailure = DefaultUpstreamFailureMessage
	}
	if strings.TrimSpace(cfg.Messages.AuditFailure) == "" {
		cfg.Messages.AuditFailure = DefaultAuditFailureMessage
	}
}

// New builds a standalone viper instance with defaults and environment
// bindings applied. Useful for commands and tests that do not share the
// global instance.
func New() (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	if err := BindEnv(v); err != nil {
		return nil, err
	}
	return v, nil
}
