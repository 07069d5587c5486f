package ailink

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pcroast/pcroast/internal/ailink/driver"
	"github.com/pcroast/pcroast/internal/ailink/driver/gemini"
	"github.com/pcroast/pcroast/internal/ailink/driver/openai"
)

// Pool holds the fixed gate to client binding. It is not modified after
// NewPool returns.
type Pool struct {
	clients map[string]*Client
	hasKey  map[string]bool
}

// NewPool builds one client per configured gate. Missing API keys are not an
// error here; the driver rejects them on first use.
func NewPool(cfg Config, httpClient *http.Client) (*Pool, error) {
	pool := &Pool{
		clients: make(map[string]*Client, len(GateNames)),
		hasKey:  make(map[string]bool, len(GateNames)),
	}
	for _, gate := range GateNames {
		gc := cfg.Gates[gate]

		provider := firstNonEmpty(gc.AIProvider, cfg.DefaultProvider, "gemini")
		model := firstNonEmpty(gc.Model, cfg.DefaultModel)
		if model == "" {
			return nil, fmt.Errorf("%s: model is required", gate)
		}
		timeout := gc.Timeout
		if timeout <= 0 {
			timeout = cfg.DefaultTimeout
		}

		drv, err := newDriver(provider, gc.BaseURL, gc.APIKey, httpClient)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", gate, err)
		}

		pool.hasKey[gate] = strings.TrimSpace(gc.APIKey) != ""
		pool.clients[gate] = &Client{
			Gate:    gate,
			Driver:  drv,
			Model:   model,
			Timeout: timeout,
		}
	}
	return pool, nil
}

// Get returns the client bound to gate.
func (p *Pool) Get(gate string) (*Client, bool) {
	if p == nil {
		return nil, false
	}
	c, ok := p.clients[gate]
	return c, ok
}

// Generators returns the bound clients keyed by gate name.
func (p *Pool) Generators() map[string]Generator {
	if p == nil {
		return nil
	}
	out := make(map[string]Generator, len(p.clients))
	for gate, c := range p.clients {
		out[gate] = c
	}
	return out
}

// Describe lists gate bindings without credentials, in route order.
func (p *Pool) Describe() []Binding {
	if p == nil {
		return nil
	}
	out := make([]Binding, 0, len(GateNames))
	for _, gate := range GateNames {
		c, ok := p.clients[gate]
		if !ok {
			continue
		}
		out = append(out, Binding{
			Gate:     gate,
			Provider: c.Driver.Name(),
			Model:    c.Model,
			Timeout:  c.Timeout,
			HasKey:   p.hasKey[gate],
		})
	}
	return out
}

// Binding is a credential-free view of one gate.
type Binding struct {
	Gate     string
	Provider string
	Model    string
	Timeout  time.Duration
	HasKey   bool
}

func newDriver(provider, baseURL, apiKey string, httpClient *http.Client) (driver.Driver, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "gemini", "google":
		c := gemini.NewClient(baseURL, apiKey)
		c.HTTPClient = httpClient
		return c, nil
	case "openai":
		c := openai.NewClient(baseURL, apiKey)
		c.HTTPClient = httpClient
		return c, nil
	default:
		return nil, fmt.Errorf("unsupported ai provider %q", provider)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
