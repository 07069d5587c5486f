package server

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	gferrors "github.com/fulmenhq/gofulmen/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pcroast/pcroast/internal/ailink"
	"github.com/pcroast/pcroast/internal/audit"
	"github.com/pcroast/pcroast/internal/config"
	apperrors "github.com/pcroast/pcroast/internal/errors"
	"github.com/pcroast/pcroast/internal/ratelimit"
	"github.com/pcroast/pcroast/internal/server/handlers"
	servermw "github.com/pcroast/pcroast/internal/server/middleware"
)

var testMessages = config.MessagesConfig{
	RateLimited:     config.DefaultRateLimitedMessage,
	UpstreamFailure: config.DefaultUpstreamFailureMessage,
	AuditFailure:    config.DefaultAuditFailureMessage,
}

type scriptedGenerator struct {
	mu      sync.Mutex
	text    string
	err     error
	prompts []string
}

func (g *scriptedGenerator) Generate(_ context.Context, p string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, p)
	return g.text, g.err
}

func (g *scriptedGenerator) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.prompts)
}

type failingAudit struct{}

func (failingAudit) Append(context.Context, audit.Record) error {
	return &audit.WriteError{Path: "requests.csv", Err: errors.New("read-only file system")}
}

type fixture struct {
	server    *Server
	gens      map[string]*scriptedGenerator
	auditPath string
	now       time.Time
}

func newFixture(t *testing.T, aud handlers.Auditor) *fixture {
	t.Helper()

	f := &fixture{
		gens:      make(map[string]*scriptedGenerator),
		auditPath: filepath.Join(t.TempDir(), "requests.csv"),
		now:       time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}

	limiter := ratelimit.New(ratelimit.NewMemoryStore(), 5, 10*time.Minute)
	limiter.Clock = func() time.Time { return f.now }

	generators := make(map[string]ailink.Generator)
	for _, gate := range ailink.GateNames {
		gen := &scriptedGenerator{text: "roast from " + gate}
		f.gens[gate] = gen
		generators[gate] = gen
	}

	if aud == nil {
		aud = audit.New(f.auditPath)
	}

	srv, err := New(Options{
		Config:     config.ServerConfig{Host: "127.0.0.1", Port: 0, MaxBodyBytes: 1024},
		Messages:   testMessages,
		Limiter:    limiter,
		Generators: generators,
		Audit:      aud,
	})
	require.NoError(t, err)
	f.server = srv
	return f
}

func (f *fixture) post(t *testing.T, path, remoteAddr, body string) (*httptest.ResponseRecorder, string) {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.RemoteAddr = remoteAddr
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	var resp handlers.ResultResponse
	if rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp.Result
}

func readAudit(t *testing.T, path string) [][]string {
	t.Helper()

	data, err := os.ReadFile(path) // #nosec G304 -- test temp file
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	rows, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestServerUsesStandardErrorHandlers(t *testing.T) {
	f := newFixture(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/does-not-exist", nil)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)

	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "NOT_FOUND", body.Error.Code)
	assert.NotEmpty(t, rec.Header().Get(servermw.RequestIDHeader))
}

func TestGateRejectsOtherMethods(t *testing.T) {
	f := newFixture(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/gate1", nil)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "METHOD_NOT_ALLOWED", body.Error.Code)
}

func TestGateSuccessWritesAuditRow(t *testing.T) {
	f := newFixture(t, nil)

	rec, result := f.post(t, "/gate2", "192.0.2.1:4000",
		`{"processor":"Ryzen 7, 7800X3D","gpu":"RTX 4070","mobo":"B650","psu":"750W","ram":"32GB","storage":"2TB","useCase":"streaming"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "roast from gate2", result)
	assert.Equal(t, "5", rec.Header().Get(servermw.HeaderRateLimitLimit))
	assert.Equal(t, "4", rec.Header().Get(servermw.HeaderRateLimitRemaining))

	assert.Equal(t, 0, f.gens[ailink.Gate1].calls())
	assert.Equal(t, 1, f.gens[ailink.Gate2].calls())

	rows := readAudit(t, f.auditPath)
	require.Len(t, rows, 2)
	assert.Equal(t, audit.Header, rows[0])
	assert.Equal(t, []string{"Ryzen 7, 7800X3D", "RTX 4070", "B650", "750W", "32GB", "2TB", "streaming", "roast from gate2"}, rows[1][1:])
}

func TestRateLimitSpansGates(t *testing.T) {
	f := newFixture(t, nil)
	const ip = "198.51.100.23:5555"

	gates := []string{"/gate1", "/gate2", "/gate3", "/gate1", "/gate2"}
	for _, path := range gates {
		_, result := f.post(t, path, ip, `{}`)
		assert.True(t, strings.HasPrefix(result, "roast from"), "unexpected result %q", result)
	}

	rec, result := f.post(t, "/gate3", ip, `{}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, config.DefaultRateLimitedMessage, result)
	assert.Equal(t, "600", rec.Header().Get(servermw.HeaderRetryAfter))
	assert.Equal(t, 1, f.gens[ailink.Gate3].calls())

	// Only admitted requests were audited.
	assert.Len(t, readAudit(t, f.auditPath), 6)

	// Another caller has its own window.
	_, result = f.post(t, "/gate3", "198.51.100.24:5555", `{}`)
	assert.Equal(t, "roast from gate3", result)

	// A fresh window opens once the old one has elapsed.
	f.now = f.now.Add(10 * time.Minute)
	_, result = f.post(t, "/gate1", ip, `{}`)
	assert.Equal(t, "roast from gate1", result)
}

func TestUpstreamFailureSkipsAudit(t *testing.T) {
	f := newFixture(t, nil)
	f.gens[ailink.Gate1].err = &ailink.UpstreamError{Gate: ailink.Gate1, Provider: "gemini", Err: errors.New("503")}

	rec, result := f.post(t, "/gate1", "203.0.113.5:80", `{"processor":"i3"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, config.DefaultUpstreamFailureMessage, result)
	assert.Empty(t, readAudit(t, f.auditPath))
}

func TestAuditFailureHasDistinctMessage(t *testing.T) {
	f := newFixture(t, failingAudit{})

	rec, result := f.post(t, "/gate1", "203.0.113.6:80", `{"processor":"i3"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, config.DefaultAuditFailureMessage, result)
}

type panickingGenerator struct{}

func (panickingGenerator) Generate(context.Context, string) (string, error) {
	panic("driver bug")
}

func TestGatePanicKeepsStatusOK(t *testing.T) {
	f := newFixture(t, nil)
	generators := make(map[string]ailink.Generator)
	for gate, gen := range f.gens {
		generators[gate] = gen
	}
	generators[ailink.Gate2] = panickingGenerator{}

	srv, err := New(Options{
		Config:     config.ServerConfig{Host: "127.0.0.1"},
		Messages:   testMessages,
		Limiter:    ratelimit.New(ratelimit.NewMemoryStore(), 5, 10*time.Minute),
		Generators: generators,
		Audit:      audit.New(f.auditPath),
	})
	require.NoError(t, err)
	f.server = srv

	rec, result := f.post(t, "/gate2", "203.0.113.9:80", `{}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, config.DefaultUpstreamFailureMessage, result)
	assert.Empty(t, readAudit(t, f.auditPath))

	_, result = f.post(t, "/gate1", "203.0.113.9:80", `{}`)
	assert.Equal(t, "roast from gate1", result)
}

func TestMalformedBodyStillGenerates(t *testing.T) {
	f := newFixture(t, nil)

	_, result := f.post(t, "/gate1", "203.0.113.7:80", `{"processor":`)
	assert.Equal(t, "roast from gate1", result)

	require.Equal(t, 1, f.gens[ailink.Gate1].calls())
	assert.Contains(t, f.gens[ailink.Gate1].prompts[0], "Prosesor: \nGPU: \n")

	rows := readAudit(t, f.auditPath)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"", "", "", "", "", "", "", "roast from gate1"}, rows[1][1:])
}

func TestNewRequiresBindings(t *testing.T) {
	limiter := ratelimit.New(nil, 5, time.Minute)

	_, err := New(Options{Audit: audit.New("x.csv")})
	assert.Error(t, err)

	_, err = New(Options{Limiter: limiter})
	assert.Error(t, err)

	_, err = New(Options{
		Limiter:    limiter,
		Audit:      audit.New("x.csv"),
		Generators: map[string]ailink.Generator{ailink.Gate1: &scriptedGenerator{}},
	})
	assert.ErrorContains(t, err, ailink.Gate2)

	var env *gferrors.ErrorEnvelope
	require.ErrorAs(t, err, &env)
	assert.Equal(t, apperrors.CodeConfigInvalid, env.Code)
}
