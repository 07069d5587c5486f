// Package gemini implements the Google Generative Language generateContent
// API as a driver.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pcroast/pcroast/internal/ailink/driver"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Client calls models/{model}:generateContent with an API key.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// NewClient returns a client with defaults applied.
func NewClient(baseURL, apiKey string) *Client {
	base := strings.TrimSpace(baseURL)
	if base == "" {
		base = defaultBaseURL
	}

	return &Client{
		BaseURL: base,
		APIKey:  strings.TrimSpace(apiKey),
	}
}

// Name returns the driver identifier.
func (c *Client) Name() string {
	return "gemini"
}

// Complete sends a generateContent request.
func (c *Client) Complete(ctx context.Context, req *driver.Request) (*driver.Response, error) {
	if c == nil {
		return nil, fmt.Errorf("gemini client not configured")
	}
	if strings.TrimSpace(c.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}

	payload, err := buildGenerateRequest(req)
	if err != nil {
		return nil, err
	}

	ctx, cancel := withTimeout(ctx, c.Timeout)
	if cancel != nil {
		defer cancel()
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	endpoint := c.endpoint(req.Model)
	trace := driver.TraceEntry{
		Driver:      c.Name(),
		Endpoint:    endpoint,
		Method:      http.MethodPost,
		Model:       req.Model,
		Gate:        req.Metadata["gate"],
		RequestBody: body,
	}
	start := time.Now()
	defer func() {
		trace.DurationMs = time.Since(start).Milliseconds()
		driver.Trace(trace)
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"?key="+url.QueryEscape(c.APIKey), bytes.NewReader(body))
	if err != nil {
		trace.Error = err.Error()
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		// url.Error carries the full URL, key included.
		err = redactTransportError(err)
		trace.Error = err.Error()
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup

	trace.StatusCode = resp.StatusCode
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		trace.Error = err.Error()
		return nil, fmt.Errorf("read response: %w", err)
	}
	if json.Valid(respBody) {
		trace.Response = respBody
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		perr := &driver.ProviderError{Provider: "gemini", StatusCode: resp.StatusCode, Message: errorMessage(respBody), RawResponse: respBody}
		trace.Error = perr.Error()
		return nil, perr
	}

	var parsed generateContentResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		trace.Error = err.Error()
		return nil, fmt.Errorf("decode response: %w", err)
	}

	out, err := toDriverResponse(&parsed)
	if err != nil {
		trace.Error = err.Error()
		return nil, err
	}
	return out, nil
}

func (c *Client) endpoint(model string) string {
	model = strings.TrimPrefix(strings.TrimSpace(model), "models/")
	return strings.TrimRight(c.BaseURL, "/") + "/models/" + url.PathEscape(model) + ":generateContent"
}

func redactTransportError(err error) error {
	if uerr, ok := err.(*url.Error); ok {
		return &url.Error{Op: uerr.Op, URL: driver.RedactURL(uerr.URL), Err: uerr.Err}
	}
	return err
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, nil
	}
	return context.WithTimeout(ctx, timeout)
}
