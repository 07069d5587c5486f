package ailink

import "time"

// Gate names. Each gate is bound to exactly one credential.
const (
	Gate1 = "gate1"
	Gate2 = "gate2"
	Gate3 = "gate3"
)

// GateNames lists the fixed gates in route order.
var GateNames = []string{Gate1, Gate2, Gate3}

// Config defines provider configuration for the generation gates.
type Config struct {
	DefaultProvider string        `mapstructure:"default_provider"`
	DefaultModel    string        `mapstructure:"default_model"`
	DefaultTimeout  time.Duration `mapstructure:"default_timeout"`

	// PromptFile optionally replaces the built-in prompt template.
	PromptFile string `mapstructure:"prompt_file"`

	// Gates maps a gate name to the credential it is bound to.
	Gates map[string]GateConfig `mapstructure:"gates"`
}

// GateConfig is the upstream binding of a single gate.
//
// An empty APIKey is accepted here; it only fails once the gate is called.
type GateConfig struct {
	// AIProvider is the driver identifier ("gemini" or "openai").
	AIProvider string        `mapstructure:"ai_provider"`
	Model      string        `mapstructure:"model"`
	BaseURL    string        `mapstructure:"base_url"`
	APIKey     string        `mapstructure:"api_key"`
	Timeout    time.Duration `mapstructure:"timeout"`
}
