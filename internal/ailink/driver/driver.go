package driver

import (
	"context"
	"strings"
)

// Driver defines the interface for text generation providers.
type Driver interface {
	// Complete sends a completion request and returns the response.
	Complete(ctx context.Context, req *Request) (*Response, error)
	// Name returns the driver identifier (e.g., "gemini").
	Name() string
}

// Roles understood by every driver.
const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// Message is one turn of plain-text conversation.
type Message struct {
	Role string
	Text string
}

// Usage contains token usage statistics.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Request is a provider-agnostic completion request.
type Request struct {
	Model       string
	Messages    []Message
	Temperature *float64
	MaxTokens   *int
	Metadata    map[string]string
}

// Response is a provider-agnostic completion response.
type Response struct {
	Text         string
	FinishReason string
	Usage        *Usage
}

// UserPrompt builds a request carrying a single user message.
func UserPrompt(model, text string) *Request {
	return &Request{
		Model:    model,
		Messages: []Message{{Role: RoleUser, Text: text}},
	}
}

// RedactURL drops the query string so credentials passed as query
// parameters never reach logs or traces.
func RedactURL(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		return raw[:i]
	}
	return raw
}
