package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/fulmenhq/gofulmen/errors"
	"go.uber.org/zap"

	"github.com/pcroast/pcroast/internal/metrics"
	"github.com/pcroast/pcroast/internal/observability"
)

// Recovery turns a panic in a handler into a 500 JSON error envelope. Gate
// handlers recover their own panics and never reach it.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			stack := string(debug.Stack())
			panicErr := errors.NewErrorEnvelope("INTERNAL_ERROR", "internal server error").
				WithCorrelationID(GetRequestID(r.Context()))
			panicErr, _ = panicErr.WithSeverity(errors.SeverityCritical)

			metrics.RecordPanic()
			if logger := observability.Logger(); logger != nil {
				logger.Error("Recovered from panic",
					zap.String("panic", fmt.Sprint(rec)),
					zap.String("path", r.URL.Path),
					zap.String("request_id", panicErr.CorrelationID),
					zap.String("stack_trace", stack))
			}

			writeErrorResponse(w, panicErr, http.StatusInternalServerError)
		}()

		next.ServeHTTP(w, r)
	})
}

// ErrorResponse structure per API standards
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

// writeErrorResponse writes the envelope directly; internal/errors imports
// this package for request IDs.
func writeErrorResponse(w http.ResponseWriter, envelope *errors.ErrorEnvelope, statusCode int) {
	response := ErrorResponse{
		Error: ErrorDetail{
			Code:      envelope.Code,
			Message:   envelope.Message,
			RequestID: envelope.CorrelationID,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}
