package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pcroast/pcroast/internal/metrics"
	"github.com/pcroast/pcroast/internal/ratelimit"
)

type brokenStore struct{}

func (brokenStore) GetRateLimit(context.Context, string) (*ratelimit.State, error) {
	return nil, errors.New("store down")
}

func (brokenStore) UpdateRateLimit(context.Context, string, *ratelimit.State) error {
	return errors.New("store down")
}

func newGated(t *testing.T, limiter *ratelimit.Limiter) (http.Handler, *int32) {
	t.Helper()

	var served int32
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&served, 1)
		_, _ = w.Write([]byte("ok"))
	})
	reject := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("limited"))
	})
	return RateLimit(limiter, reject)(next), &served
}

func gateRequest(remoteAddr string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/gate1", nil)
	req.RemoteAddr = remoteAddr
	return req
}

func TestClientIP(t *testing.T) {
	assert.Equal(t, "203.0.113.9", ClientIP(gateRequest("203.0.113.9:51234")))
	assert.Equal(t, "2001:db8::1", ClientIP(gateRequest("[2001:db8::1]:443")))
	// RealIP rewrites RemoteAddr without a port.
	assert.Equal(t, "198.51.100.7", ClientIP(gateRequest("198.51.100.7")))
	assert.Equal(t, "unknown", ClientIP(gateRequest("")))
}

func TestRateLimitRejectsAfterQuota(t *testing.T) {
	collector := setupTelemetry(t)

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := ratelimit.New(ratelimit.NewMemoryStore(), 5, 10*time.Minute)
	limiter.Clock = func() time.Time { return now }

	handler, served := newGated(t, limiter)

	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, gateRequest("192.0.2.10:1000"))
		require.Equal(t, "ok", rec.Body.String())
		assert.Equal(t, "5", rec.Header().Get(HeaderRateLimitLimit))
		assert.Equal(t, []string{"4", "3", "2", "1", "0"}[i], rec.Header().Get(HeaderRateLimitRemaining))
		assert.Equal(t, "600", rec.Header().Get(HeaderRateLimitReset))
	}

	now = now.Add(4 * time.Minute)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, gateRequest("192.0.2.10:2000"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "limited", rec.Body.String())
	assert.Equal(t, "0", rec.Header().Get(HeaderRateLimitRemaining))
	assert.Equal(t, "360", rec.Header().Get(HeaderRateLimitReset))
	assert.Equal(t, "360", rec.Header().Get(HeaderRetryAfter))
	assert.Equal(t, int32(5), atomic.LoadInt32(served))

	// A different caller is unaffected.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, gateRequest("192.0.2.11:1000"))
	assert.Equal(t, "ok", rec.Body.String())

	assert.Greater(t, collector.CountMetricsByName(metrics.AdmissionsTotal), 0)
}

func TestRateLimitFailsOpen(t *testing.T) {
	limiter := ratelimit.New(brokenStore{}, 1, time.Minute)
	handler, served := newGated(t, limiter)

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, gateRequest("192.0.2.20:1000"))
		assert.Equal(t, "ok", rec.Body.String())
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(served))
}
