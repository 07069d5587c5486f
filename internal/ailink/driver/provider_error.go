package driver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ProviderError is returned when a provider responds with a non-2xx status.
//
// RawResponse holds the provider response body and must never include API keys.
type ProviderError struct {
	Provider    string
	StatusCode  int
	Message     string
	RawResponse []byte
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "provider error"
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s request failed: status %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s request failed: %s", e.Provider, e.Message)
}

// Failure codes reported by Classify.
const (
	CodeTimeout     = "AILINK_PROVIDER_TIMEOUT"
	CodeCanceled    = "AILINK_PROVIDER_CANCELED"
	CodeAuth        = "AILINK_PROVIDER_AUTH"
	CodeRateLimit   = "AILINK_PROVIDER_RATE_LIMIT"
	CodeUnavailable = "AILINK_PROVIDER_UNAVAILABLE"
	CodeBadRequest  = "AILINK_PROVIDER_BAD_REQUEST"
	CodeError       = "AILINK_PROVIDER_ERROR"
)

// Classify maps a driver error to a stable failure code for logs and metrics.
func Classify(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimeout
	}
	if errors.Is(err, context.Canceled) {
		return CodeCanceled
	}

	var perr *ProviderError
	if errors.As(err, &perr) && perr != nil {
		status := perr.StatusCode
		switch {
		case status == http.StatusUnauthorized || status == http.StatusForbidden:
			return CodeAuth
		case status == http.StatusTooManyRequests:
			return CodeRateLimit
		case status >= 500 && status <= 599:
			return CodeUnavailable
		case status >= 400 && status <= 499:
			return CodeBadRequest
		}
	}
	return CodeError
}
