// Package remote validates license tokens by asking the issuing authority.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/ineyio/llmgate"
)

// Validator posts tokens to an issuer validation endpoint.
//
// Request:  POST {url} {"token": "..."}
// Response: 200 {"isValid": true, "tier": "pro", "quotaLimit": 2000}
//
// A 4xx reply other than 429 means the issuer rejected the token.
type Validator struct {
	url        string
	apiKey     string
	httpClient *http.Client
}

var _ llmgate.LicenseValidator = (*Validator)(nil)

// Option configures the validator.
type Option func(*Validator)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(v *Validator) { v.httpClient = c }
}

// WithAPIKey authenticates the gateway to the issuer with a bearer key.
func WithAPIKey(key string) Option {
	return func(v *Validator) { v.apiKey = key }
}

// New creates a remote validator for the endpoint at url.
func New(url string, opts ...Option) *Validator {
	v := &Validator{
		url:        url,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

type validateRequest struct {
	Token string `json:"token"`
}

type validateResponse struct {
	IsValid    bool   `json:"isValid"`
	Tier       string `json:"tier"`
	QuotaLimit int64  `json:"quotaLimit"`
}

func (v *Validator) Validate(ctx context.Context, token string) (llmgate.License, error) {
	body, err := json.Marshal(validateRequest{Token: token})
	if err != nil {
		return llmgate.License{}, fmt.Errorf("llmgate/remote: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.url, bytes.NewReader(body))
	if err != nil {
		return llmgate.License{}, fmt.Errorf("llmgate/remote: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if v.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+v.apiKey)
	}

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return llmgate.License{}, fmt.Errorf("llmgate/remote: issuer unreachable: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
		return llmgate.License{}, nil
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return llmgate.License{}, fmt.Errorf("llmgate/remote: issuer status %d: %s", resp.StatusCode, msg)
	}

	var out validateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return llmgate.License{}, fmt.Errorf("llmgate/remote: decode response: %w", err)
	}
	if !out.IsValid {
		return llmgate.License{}, nil
	}
	return llmgate.License{
		Valid:      true,
		Tier:       out.Tier,
		QuotaLimit: out.QuotaLimit,
	}, nil
}
