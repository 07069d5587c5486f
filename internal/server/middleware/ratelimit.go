package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pcroast/pcroast/internal/metrics"
	"github.com/pcroast/pcroast/internal/observability"
	"github.com/pcroast/pcroast/internal/ratelimit"
)

// Advisory rate limit headers set on every gated response.
const (
	HeaderRateLimitLimit     = "RateLimit-Limit"
	HeaderRateLimitRemaining = "RateLimit-Remaining"
	HeaderRateLimitReset     = "RateLimit-Reset"
	HeaderRetryAfter         = "Retry-After"
)

// ClientIP returns the caller identity used for throttling: the host part of
// RemoteAddr. RealIP, when installed, has already replaced RemoteAddr with the
// forwarded address.
func ClientIP(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	if addr == "" {
		return "unknown"
	}
	return addr
}

// RateLimit admits requests through limiter. Rejected requests are answered
// by reject and never reach next.
func RateLimit(limiter *ratelimit.Limiter, reject http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r)
			decision, err := limiter.Admit(r.Context(), ip)
			if err != nil {
				metrics.RecordAdmission(metrics.AdmissionError)
				if logger := observability.Logger(); logger != nil {
					logger.Warn("Rate limit store unavailable, admitting request",
						zap.String("client_ip", ip),
						zap.String("request_id", GetRequestID(r.Context())),
						zap.Error(err))
				}
			}

			setRateLimitHeaders(w, decision, limiter.Now())

			if !decision.Allowed {
				metrics.RecordAdmission(metrics.AdmissionRejected)
				if logger := observability.Logger(); logger != nil {
					logger.Warn("Limit reached for IP",
						zap.String("client_ip", ip),
						zap.String("path", r.URL.Path),
						zap.Time("reset_at", decision.ResetAt),
						zap.String("request_id", GetRequestID(r.Context())))
				}
				w.Header().Set(HeaderRetryAfter, w.Header().Get(HeaderRateLimitReset))
				reject.ServeHTTP(w, r)
				return
			}

			if err == nil {
				metrics.RecordAdmission(metrics.AdmissionAllowed)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func setRateLimitHeaders(w http.ResponseWriter, d ratelimit.Decision, now time.Time) {
	if d.Limit <= 0 {
		return
	}
	reset := 0
	if !d.ResetAt.IsZero() {
		reset = int(math.Ceil(d.ResetAt.Sub(now).Seconds()))
		if reset < 0 {
			reset = 0
		}
	}
	h := w.Header()
	h.Set(HeaderRateLimitLimit, strconv.Itoa(d.Limit))
	h.Set(HeaderRateLimitRemaining, strconv.Itoa(d.Remaining))
	h.Set(HeaderRateLimitReset, strconv.Itoa(reset))
}
