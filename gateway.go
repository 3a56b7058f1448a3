package llmgate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Header names used by clients.
const (
	HeaderStoreToken     = "X-Store-Token"
	HeaderUserID         = "X-User-Id"
	HeaderRequestID      = "X-Request-Id"
	HeaderQuotaLimit     = "X-Quota-Limit"
	HeaderQuotaRemaining = "X-Quota-Remaining"
)

const (
	DefaultSecretName   = "AnthropicKey"
	DefaultMaxBodyBytes = 1 << 20
)

// Gateway is the HTTP entry point: it authenticates the caller, charges
// quota and forwards the request body upstream.
type Gateway struct {
	validator    LicenseValidator
	ledger       *Ledger
	secrets      SecretProvider
	forwarder    Forwarder
	limits       Limits
	meter        Meter
	logger       *slog.Logger
	secretName   string
	maxBodyBytes int64
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithLimits sets the tier table.
func WithLimits(l Limits) GatewayOption {
	return func(g *Gateway) { g.limits = l }
}

// WithMeter sets the meter.
func WithMeter(m Meter) GatewayOption {
	return func(g *Gateway) { g.meter = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) GatewayOption {
	return func(g *Gateway) { g.logger = l }
}

// WithSecretName sets the name of the upstream credential secret.
func WithSecretName(name string) GatewayOption {
	return func(g *Gateway) { g.secretName = name }
}

// WithMaxBodyBytes caps the accepted request body size.
func WithMaxBodyBytes(n int64) GatewayOption {
	return func(g *Gateway) { g.maxBodyBytes = n }
}

// NewGateway creates a Gateway from its collaborators.
// DefaultLimits, a noop meter and slog.Default() are used unless overridden.
func NewGateway(validator LicenseValidator, ledger *Ledger, secrets SecretProvider, forwarder Forwarder, opts ...GatewayOption) (*Gateway, error) {
	switch {
	case validator == nil:
		return nil, fmt.Errorf("llmgate: gateway requires a license validator")
	case ledger == nil:
		return nil, fmt.Errorf("llmgate: gateway requires a ledger")
	case secrets == nil:
		return nil, fmt.Errorf("llmgate: gateway requires a secret provider")
	case forwarder == nil:
		return nil, fmt.Errorf("llmgate: gateway requires a forwarder")
	}

	g := &Gateway{
		validator:    validator,
		ledger:       ledger,
		secrets:      secrets,
		forwarder:    forwarder,
		secretName:   DefaultSecretName,
		maxBodyBytes: DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(g)
	}

	if g.limits == nil {
		g.limits = DefaultLimits()
	}
	if err := g.limits.Validate(); err != nil {
		return nil, err
	}
	if g.meter == nil {
		g.meter = &noopMeter{}
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	return g, nil
}

// ServeHTTP handles one completion request.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get(HeaderRequestID)
	if requestID == "" {
		requestID = uuid.New().String()
	}
	w.Header().Set(HeaderRequestID, requestID)

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	token := r.Header.Get(HeaderStoreToken)
	userID := r.Header.Get(HeaderUserID)
	if token == "" || userID == "" {
		g.fail(w, ErrAuthMissing, nil)
		return
	}

	log := g.logger.With("request_id", requestID, "user_id", userID)

	body, req, err := g.readBody(r)
	if err != nil {
		g.fail(w, err, log)
		return
	}

	resp, admission, err := g.handle(r.Context(), log, token, userID, body, req)
	if admission.Limit > 0 {
		w.Header().Set(HeaderQuotaLimit, strconv.FormatInt(admission.Limit, 10))
		w.Header().Set(HeaderQuotaRemaining, strconv.FormatInt(admission.Remaining(), 10))
	}
	if err != nil {
		g.fail(w, err, log)
		return
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(resp.Body)
}

func (g *Gateway) handle(ctx context.Context, log *slog.Logger, token, userID string, body []byte, req CompletionRequest) (UpstreamResponse, AdmissionResult, error) {
	license, err := g.validator.Validate(ctx, token)
	if err != nil {
		return UpstreamResponse{}, AdmissionResult{}, fmt.Errorf("validate license: %w", err)
	}
	if !license.Valid {
		return UpstreamResponse{}, AdmissionResult{}, ErrAuthInvalid
	}

	tier, limit := g.limits.Resolve(license.Tier)
	if tier != license.Tier {
		log.Warn("unknown tier, using free limit", "tier", license.Tier)
	}
	if license.QuotaLimit > 0 && license.QuotaLimit != limit {
		log.Debug("issuer quota differs from tier table", "tier", tier, "issuer_limit", license.QuotaLimit, "limit", limit)
	}

	start := time.Now()
	admission, err := g.ledger.Admit(ctx, userID, tier, limit)
	g.meter.OnAdmission(AdmissionEvent{
		UserID:   userID,
		Tier:     tier,
		Period:   admission.Period,
		Outcome:  outcome(admission, err),
		Count:    admission.Count,
		Limit:    limit,
		Attempts: admission.Attempts,
		Duration: time.Since(start),
		Error:    err,
	})
	if err != nil {
		// No decision was made, so there is no quota state to report.
		return UpstreamResponse{}, AdmissionResult{}, err
	}
	if !admission.Allowed {
		return UpstreamResponse{}, admission, ErrQuotaExceeded
	}

	// Usage is charged from here on, whatever happens upstream.
	credential, err := g.secrets.GetSecret(ctx, g.secretName)
	if err != nil {
		return UpstreamResponse{}, admission, fmt.Errorf("get secret %q: %w", g.secretName, err)
	}

	start = time.Now()
	resp, err := g.forwarder.Forward(ctx, body, credential)
	event := ForwardEvent{
		UserID:          userID,
		Tier:            tier,
		Model:           req.Model,
		EstimatedTokens: req.EstimatedPromptTokens(),
		StatusCode:      resp.StatusCode,
		Success:         err == nil,
		Duration:        time.Since(start),
		Error:           err,
	}
	var upErr *UpstreamError
	if errors.As(err, &upErr) {
		event.StatusCode = upErr.StatusCode
		if upErr.StatusCode == http.StatusUnauthorized {
			g.dropCredential(log)
		}
	}
	g.meter.OnForward(event)
	if err != nil {
		return UpstreamResponse{}, admission, fmt.Errorf("forward: %w", err)
	}
	return resp, admission, nil
}

// dropCredential evicts a rejected upstream credential from a caching
// secret provider so the next request refetches it.
func (g *Gateway) dropCredential(log *slog.Logger) {
	inv, ok := g.secrets.(SecretInvalidator)
	if !ok {
		return
	}
	inv.Invalidate(g.secretName)
	log.Warn("upstream rejected credential, evicted from cache", "secret", g.secretName)
}

// UsageResponse is the body returned by the usage endpoint.
type UsageResponse struct {
	UserID    string `json:"user_id"`
	Period    string `json:"period"`
	Tier      string `json:"tier"`
	Count     int64  `json:"count"`
	Limit     int64  `json:"limit"`
	Remaining int64  `json:"remaining"`
}

// UsageHandler reports the caller's usage for the current period. It uses
// the same authentication headers as completions and never charges quota.
func (g *Gateway) UsageHandler() http.Handler {
	return http.HandlerFunc(g.serveUsage)
}

func (g *Gateway) serveUsage(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get(HeaderRequestID)
	if requestID == "" {
		requestID = uuid.New().String()
	}
	w.Header().Set(HeaderRequestID, requestID)

	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	token := r.Header.Get(HeaderStoreToken)
	userID := r.Header.Get(HeaderUserID)
	if token == "" || userID == "" {
		g.fail(w, ErrAuthMissing, nil)
		return
	}
	log := g.logger.With("request_id", requestID, "user_id", userID)

	license, err := g.validator.Validate(r.Context(), token)
	if err != nil {
		g.fail(w, fmt.Errorf("validate license: %w", err), log)
		return
	}
	if !license.Valid {
		g.fail(w, ErrAuthInvalid, log)
		return
	}
	tier, limit := g.limits.Resolve(license.Tier)

	rec, err := g.ledger.Usage(r.Context(), userID)
	if err != nil {
		g.fail(w, err, log)
		return
	}

	res := AdmissionResult{Count: rec.Count, Limit: limit}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(UsageResponse{
		UserID:    userID,
		Period:    rec.Period,
		Tier:      tier,
		Count:     rec.Count,
		Limit:     limit,
		Remaining: res.Remaining(),
	})
}

func (g *Gateway) readBody(r *http.Request) ([]byte, CompletionRequest, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, g.maxBodyBytes+1))
	if err != nil {
		return nil, CompletionRequest{}, fmt.Errorf("%w: read body: %v", ErrInvalidRequest, err)
	}
	if int64(len(body)) > g.maxBodyBytes {
		return nil, CompletionRequest{}, invalidRequest("body too large")
	}

	var req CompletionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, CompletionRequest{}, fmt.Errorf("%w: decode body: %v", ErrInvalidRequest, err)
	}
	if err := req.Validate(); err != nil {
		return nil, CompletionRequest{}, err
	}
	return body, req, nil
}

func (g *Gateway) fail(w http.ResponseWriter, err error, log *slog.Logger) {
	status := StatusFor(err)
	if log != nil {
		switch {
		case status >= http.StatusInternalServerError:
			log.Error("request failed", "status", status, "error", err)
		case status != http.StatusUnauthorized:
			log.Info("request rejected", "status", status, "error", err)
		}
	}
	writeError(w, status, PublicMessage(err))
}

func outcome(res AdmissionResult, err error) string {
	switch {
	case err != nil:
		return OutcomeError
	case res.Allowed:
		return OutcomeAdmitted
	default:
		return OutcomeDenied
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
