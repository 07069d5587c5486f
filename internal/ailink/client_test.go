package ailink

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pcroast/pcroast/internal/ailink/driver"
)

type stubDriver struct {
	resp *driver.Response
	err  error
	wait bool
	got  *driver.Request
}

func (s *stubDriver) Name() string { return "stub" }

func (s *stubDriver) Complete(ctx context.Context, req *driver.Request) (*driver.Response, error) {
	s.got = req
	if s.wait {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return s.resp, s.err
}

func TestClientGenerate(t *testing.T) {
	stub := &stubDriver{resp: &driver.Response{Text: "roasted"}}
	client := &Client{Gate: Gate2, Driver: stub, Model: "m"}

	text, err := client.Generate(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, "roasted", text)
	require.NotNil(t, stub.got)
	assert.Equal(t, "m", stub.got.Model)
	assert.Equal(t, Gate2, stub.got.Metadata["gate"])
	require.Len(t, stub.got.Messages, 1)
	assert.Equal(t, "prompt", stub.got.Messages[0].Text)
}

func TestClientGenerateWrapsFailures(t *testing.T) {
	cases := map[string]struct {
		stub *stubDriver
		code string
	}{
		"provider status": {&stubDriver{err: &driver.ProviderError{Provider: "stub", StatusCode: 429}}, driver.CodeRateLimit},
		"transport":       {&stubDriver{err: errors.New("boom")}, driver.CodeError},
		"empty text":      {&stubDriver{resp: &driver.Response{Text: "  "}}, driver.CodeError},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			client := &Client{Gate: Gate1, Driver: tc.stub, Model: "m"}
			_, err := client.Generate(context.Background(), "p")

			var upErr *UpstreamError
			require.ErrorAs(t, err, &upErr)
			assert.Equal(t, Gate1, upErr.Gate)
			assert.Equal(t, "stub", upErr.Provider)
			assert.Equal(t, tc.code, upErr.Code)
		})
	}
}

func TestClientGenerateTimeout(t *testing.T) {
	client := &Client{Gate: Gate3, Driver: &stubDriver{wait: true}, Model: "m", Timeout: 20 * time.Millisecond}

	_, err := client.Generate(context.Background(), "p")
	var upErr *UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, driver.CodeTimeout, upErr.Code)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClientGenerateCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := &Client{Gate: Gate1, Driver: &stubDriver{wait: true}, Model: "m"}
	_, err := client.Generate(ctx, "p")
	require.ErrorIs(t, err, context.Canceled)
}

func TestNilClient(t *testing.T) {
	var client *Client
	_, err := client.Generate(context.Background(), "p")
	var upErr *UpstreamError
	require.ErrorAs(t, err, &upErr)
}

func TestNewPoolBindsEachGate(t *testing.T) {
	cfg := Config{
		DefaultProvider: "gemini",
		DefaultModel:    "gemini-1.5-flash",
		DefaultTimeout:  time.Minute,
		Gates: map[string]GateConfig{
			Gate1: {APIKey: "k1"},
			Gate2: {APIKey: "k2", AIProvider: "openai", Model: "gpt-4o-mini", Timeout: 5 * time.Second},
		},
	}

	pool, err := NewPool(cfg, nil)
	require.NoError(t, err)

	bindings := pool.Describe()
	require.Len(t, bindings, 3)
	assert.Equal(t, Binding{Gate: Gate1, Provider: "gemini", Model: "gemini-1.5-flash", Timeout: time.Minute, HasKey: true}, bindings[0])
	assert.Equal(t, Binding{Gate: Gate2, Provider: "openai", Model: "gpt-4o-mini", Timeout: 5 * time.Second, HasKey: true}, bindings[1])
	assert.Equal(t, Gate3, bindings[2].Gate)
	assert.False(t, bindings[2].HasKey)

	generators := pool.Generators()
	require.Len(t, generators, 3)
	assert.Same(t, generators[Gate2], Generator(mustGet(t, pool, Gate2)))

	_, ok := pool.Get("gate4")
	assert.False(t, ok)
}

func TestNewPoolRejectsUnknownProvider(t *testing.T) {
	_, err := NewPool(Config{DefaultModel: "m", Gates: map[string]GateConfig{Gate2: {AIProvider: "carrier-pigeon"}}}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gate2")
}

func TestPoolMissingKeyFailsOnUse(t *testing.T) {
	pool, err := NewPool(Config{DefaultProvider: "gemini", DefaultModel: "m"}, nil)
	require.NoError(t, err)

	client, ok := pool.Get(Gate3)
	require.True(t, ok)

	_, err = client.Generate(context.Background(), "p")
	var upErr *UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.Contains(t, upErr.Error(), "api key")
}

func TestPoolGatesUseTheirOwnCredential(t *testing.T) {
	seen := make(chan string, 3)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- r.URL.Query().Get("key")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"ok"}]},"finishReason":"STOP"}]}`))
	}))
	defer server.Close()

	gates := map[string]GateConfig{}
	for i, gate := range GateNames {
		gates[gate] = GateConfig{BaseURL: server.URL, APIKey: []string{"k1", "k2", "k3"}[i]}
	}
	pool, err := NewPool(Config{DefaultProvider: "gemini", DefaultModel: "gemini-1.5-flash", Gates: gates}, server.Client())
	require.NoError(t, err)

	for _, gate := range GateNames {
		client, ok := pool.Get(gate)
		require.True(t, ok)
		_, err := client.Generate(context.Background(), "p")
		require.NoError(t, err)
	}
	assert.Equal(t, "k1", <-seen)
	assert.Equal(t, "k2", <-seen)
	assert.Equal(t, "k3", <-seen)
}

func mustGet(t *testing.T, pool *Pool, gate string) *Client {
	t.Helper()
	c, ok := pool.Get(gate)
	require.True(t, ok)
	return c
}
