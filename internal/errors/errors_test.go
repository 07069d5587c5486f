package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"

	gferrors "github.com/fulmenhq/gofulmen/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pcroast/pcroast/internal/server/middleware"
)

func requestWithID(id string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/gate1", nil)
	ctx := context.WithValue(req.Context(), middleware.RequestIDContextKey, id)
	return req.WithContext(ctx)
}

func TestWrapUpstreamCarriesCorrelation(t *testing.T) {
	req := requestWithID("req-123")

	env := WrapUpstream(req.Context(), stderrors.New("status 429"), "generation failed")
	assert.Equal(t, CodeUpstreamFailure, env.Code)
	assert.Equal(t, "req-123", env.CorrelationID)
	assert.Equal(t, gferrors.SeverityMedium, env.Severity)
	assert.Equal(t, "status 429", env.Context["wrapped_error"])

	env = WithFields(env, map[string]interface{}{"gate": "gate2"})
	assert.Equal(t, "gate2", env.Context["gate"])
	assert.Equal(t, "status 429", env.Context["wrapped_error"])
}

func TestWrapWithoutRequestIDGeneratesOne(t *testing.T) {
	env := WrapAuditWrite(context.Background(), stderrors.New("disk full"), "audit failed")
	assert.NotEmpty(t, env.CorrelationID)
	assert.Equal(t, gferrors.SeverityHigh, env.Severity)
}

func TestEnsureEnvelope(t *testing.T) {
	env := EnsureEnvelope(stderrors.New("boom"))
	assert.Equal(t, CodeInternal, env.Code)
	assert.Equal(t, "boom", env.Context["wrapped_error"])

	original := NewNotFoundError("missing")
	assert.Same(t, original, EnsureEnvelope(original))

	assert.Equal(t, gferrors.SeverityCritical, EnsureEnvelope(nil).Severity)
}

func TestRespondWithError(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{NewNotFoundError("nope"), http.StatusNotFound, CodeNotFound},
		{NewMethodNotAllowedError("nope"), http.StatusMethodNotAllowed, CodeMethodNotAllowed},
		{stderrors.New("plain"), http.StatusInternalServerError, CodeInternal},
	}

	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			rec := httptest.NewRecorder()
			RespondWithError(rec, requestWithID("abc"), tc.err)

			require.Equal(t, tc.status, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var body HTTPErrorResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, tc.code, body.Error.Code)
			assert.Equal(t, "abc", body.Error.RequestID)
		})
	}
}
