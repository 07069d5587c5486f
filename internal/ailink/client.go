package ailink

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pcroast/pcroast/internal/ailink/driver"
)

// Generator produces text for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Client binds one gate to one driver and credential.
type Client struct {
	Gate    string
	Driver  driver.Driver
	Model   string
	Timeout time.Duration
}

// UpstreamError reports any failure to obtain generated text for a gate.
type UpstreamError struct {
	Gate     string
	Provider string
	Code     string
	Err      error
}

func (e *UpstreamError) Error() string {
	if e == nil {
		return "upstream error"
	}
	if e.Provider != "" {
		return fmt.Sprintf("%s via %s: %s: %v", e.Gate, e.Provider, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Gate, e.Code, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Generate sends prompt to the bound provider. The call is bounded by the
// client timeout and by ctx.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	if c == nil || c.Driver == nil {
		return "", c.fail("", errors.New("generation client not configured"))
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	req := driver.UserPrompt(c.Model, prompt)
	req.Metadata = map[string]string{"gate": c.Gate}

	resp, err := c.Driver.Complete(ctx, req)
	if err != nil {
		return "", c.fail(c.Driver.Name(), err)
	}
	if resp == nil || strings.TrimSpace(resp.Text) == "" {
		return "", c.fail(c.Driver.Name(), errors.New("empty generation"))
	}
	return resp.Text, nil
}

func (c *Client) fail(provider string, err error) *UpstreamError {
	gate := ""
	if c != nil {
		gate = c.Gate
	}
	return &UpstreamError{Gate: gate, Provider: provider, Code: driver.Classify(err), Err: err}
}
