package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"time"

	gferrors "github.com/fulmenhq/gofulmen/errors"
	"go.uber.org/zap"

	"github.com/pcroast/pcroast/internal/ailink"
	"github.com/pcroast/pcroast/internal/ailink/driver"
	"github.com/pcroast/pcroast/internal/ailink/prompt"
	"github.com/pcroast/pcroast/internal/audit"
	"github.com/pcroast/pcroast/internal/config"
	apperrors "github.com/pcroast/pcroast/internal/errors"
	"github.com/pcroast/pcroast/internal/metrics"
	"github.com/pcroast/pcroast/internal/observability"
	"github.com/pcroast/pcroast/internal/server/middleware"
)

// DefaultMaxBodyBytes matches the body limit of a stock JSON body parser.
const DefaultMaxBodyBytes int64 = 100 << 10

// Auditor records completed roasts.
type Auditor interface {
	Append(ctx context.Context, rec audit.Record) error
}

// ResultResponse is the only body a gate ever returns.
type ResultResponse struct {
	Result string `json:"result"`
}

// GateHandler serves one gate: render the prompt, generate, audit, respond.
// Every outcome is answered with HTTP 200 and a ResultResponse.
type GateHandler struct {
	Gate         string
	Generator    ailink.Generator
	Prompt       *prompt.Prompt
	Audit        Auditor
	Messages     config.MessagesConfig
	MaxBodyBytes int64
}

func (h *GateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)
	defer h.recoverPanic(w, r, start)

	if logger := observability.Logger(); logger != nil {
		logger.Info(h.Gate,
			zap.String("gate", h.Gate),
			zap.String("client_ip", middleware.ClientIP(r)),
			zap.String("request_id", requestID))
	}

	build := DecodeBuild(w, r, h.maxBodyBytes())

	text, err := h.generate(ctx, build)
	if err != nil {
		h.upstreamFailed(ctx, err)
		metrics.RecordGateOutcome(h.Gate, metrics.OutcomeUpstreamFailure, time.Since(start))
		writeResult(w, h.Messages.UpstreamFailure)
		return
	}

	// The roast already exists; a client that hung up must not lose the row.
	err = h.Audit.Append(context.WithoutCancel(ctx), audit.Record{
		Processor:   build.Processor,
		GPU:         build.GPU,
		Motherboard: build.Motherboard,
		PSU:         build.PSU,
		RAM:         build.RAM,
		Storage:     build.Storage,
		UseCase:     build.UseCase,
		Response:    text,
	})
	metrics.RecordAuditAppend(err == nil)
	if err != nil {
		env := apperrors.WrapAuditWrite(ctx, err, "Failed to record roast")
		env = apperrors.WithFields(env, map[string]interface{}{"gate": h.Gate})
		apperrors.LogEnvelope(env, http.StatusOK)
		metrics.RecordGateOutcome(h.Gate, metrics.OutcomeAuditFailure, time.Since(start))
		writeResult(w, h.Messages.AuditFailure)
		return
	}

	metrics.RecordGateOutcome(h.Gate, metrics.OutcomeSuccess, time.Since(start))
	writeResult(w, text)
}

func (h *GateHandler) generate(ctx context.Context, build prompt.Build) (string, error) {
	text, err := h.Prompt.Render(build)
	if err != nil {
		return "", &ailink.UpstreamError{Gate: h.Gate, Code: driver.CodeError, Err: err}
	}
	if h.Generator == nil {
		return "", &ailink.UpstreamError{Gate: h.Gate, Code: driver.CodeError, Err: errors.New("no generator bound")}
	}
	return h.Generator.Generate(ctx, text)
}

func (h *GateHandler) upstreamFailed(ctx context.Context, err error) {
	provider, code := "", driver.Classify(err)
	var upstream *ailink.UpstreamError
	if errors.As(err, &upstream) {
		provider = upstream.Provider
		if upstream.Code != "" {
			code = upstream.Code
		}
	}
	metrics.RecordUpstreamFailure(h.Gate, provider, code)

	env := apperrors.WrapUpstream(ctx, err, "Generation failed")
	env = apperrors.WithFields(env, map[string]interface{}{
		"gate":          h.Gate,
		"provider":      provider,
		"upstream_code": code,
	})
	apperrors.LogEnvelope(env, http.StatusOK)
}

// recoverPanic answers a panicking gate like an upstream failure, keeping
// gate responses at HTTP 200.
func (h *GateHandler) recoverPanic(w http.ResponseWriter, r *http.Request, start time.Time) {
	rec := recover()
	if rec == nil {
		return
	}
	if rec == http.ErrAbortHandler {
		panic(rec)
	}

	metrics.RecordPanic()
	env := apperrors.NewInternalError("Gate handler panicked")
	env = apperrors.EnsureCorrelationID(env, r.Context())
	if updated, err := env.WithSeverity(gferrors.SeverityCritical); err == nil {
		env = updated
	}
	env = apperrors.WithFields(env, map[string]interface{}{
		"gate":        h.Gate,
		"panic":       fmt.Sprint(rec),
		"stack_trace": string(debug.Stack()),
	})
	apperrors.LogEnvelope(env, http.StatusOK)
	metrics.RecordGateOutcome(h.Gate, metrics.OutcomeUpstreamFailure, time.Since(start))
	writeResult(w, h.Messages.UpstreamFailure)
}

func (h *GateHandler) maxBodyBytes() int64 {
	if h.MaxBodyBytes > 0 {
		return h.MaxBodyBytes
	}
	return DefaultMaxBodyBytes
}

// RateLimited answers a rejected admission on gate with message.
func RateLimited(gate, message string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		metrics.RecordGateOutcome(gate, metrics.OutcomeRateLimited, 0)
		writeResult(w, message)
	})
}

// Body field names accepted by every gate.
const (
	FieldProcessor   = "processor"
	FieldGPU         = "gpu"
	FieldMotherboard = "mobo"
	FieldPSU         = "psu"
	FieldRAM         = "ram"
	FieldStorage     = "storage"
	FieldUseCase     = "useCase"
)

// DecodeBuild reads the JSON body of r into a Build. A missing, oversize or
// malformed body yields an empty Build. String values are used as-is; other
// JSON values contribute their literal text and null contributes nothing.
func DecodeBuild(w http.ResponseWriter, r *http.Request, limit int64) prompt.Build {
	if r.Body == nil {
		return prompt.Build{}
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		return prompt.Build{}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return prompt.Build{}
	}

	return prompt.Build{
		Processor:   fieldText(fields[FieldProcessor]),
		GPU:         fieldText(fields[FieldGPU]),
		Motherboard: fieldText(fields[FieldMotherboard]),
		PSU:         fieldText(fields[FieldPSU]),
		RAM:         fieldText(fields[FieldRAM]),
		Storage:     fieldText(fields[FieldStorage]),
		UseCase:     fieldText(fields[FieldUseCase]),
	}
}

func fieldText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	return string(raw)
}

func writeResult(w http.ResponseWriter, result string) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(ResultResponse{Result: result}); err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
