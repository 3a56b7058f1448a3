// Package anthropic forwards completion requests to the Anthropic Messages API.
package anthropic

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ineyio/llmgate"
)

const (
	DefaultBaseURL    = "https://api.anthropic.com"
	DefaultAPIVersion = "2023-06-01"

	DefaultMaxResponseBytes = 16 << 20
)

// Forwarder posts raw request bodies to {baseURL}/v1/messages.
type Forwarder struct {
	baseURL          string
	apiVersion       string
	httpClient       *http.Client
	maxResponseBytes int64
}

var _ llmgate.Forwarder = (*Forwarder)(nil)

// Option configures the forwarder.
type Option func(*Forwarder)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Forwarder) { f.httpClient = c }
}

// WithBaseURL overrides the API base URL.
func WithBaseURL(u string) Option {
	return func(f *Forwarder) { f.baseURL = strings.TrimRight(u, "/") }
}

// WithAPIVersion sets the anthropic-version header.
func WithAPIVersion(v string) Option {
	return func(f *Forwarder) { f.apiVersion = v }
}

// WithMaxResponseBytes caps the upstream body size. Larger replies fail
// instead of being relayed truncated.
func WithMaxResponseBytes(n int64) Option {
	return func(f *Forwarder) { f.maxResponseBytes = n }
}

// New creates a forwarder.
func New(opts ...Option) *Forwarder {
	f := &Forwarder{
		baseURL:          DefaultBaseURL,
		apiVersion:       DefaultAPIVersion,
		httpClient:       http.DefaultClient,
		maxResponseBytes: DefaultMaxResponseBytes,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Forwarder) Forward(ctx context.Context, body []byte, credential string) (llmgate.UpstreamResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return llmgate.UpstreamResponse{}, fmt.Errorf("llmgate/anthropic: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", credential)
	req.Header.Set("anthropic-version", f.apiVersion)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return llmgate.UpstreamResponse{}, fmt.Errorf("%w: %v", llmgate.ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return llmgate.UpstreamResponse{}, &llmgate.UpstreamError{
			StatusCode: resp.StatusCode,
			Body:       string(msg),
		}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxResponseBytes+1))
	if err != nil {
		return llmgate.UpstreamResponse{}, fmt.Errorf("%w: read body: %v", llmgate.ErrUpstream, err)
	}
	if int64(len(data)) > f.maxResponseBytes {
		return llmgate.UpstreamResponse{}, fmt.Errorf("%w: response body exceeds %d bytes", llmgate.ErrUpstream, f.maxResponseBytes)
	}
	return llmgate.UpstreamResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       data,
	}, nil
}
