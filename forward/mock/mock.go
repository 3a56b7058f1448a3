package mock

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ineyio/llmgate"
)

// Forwarder is a mock upstream for testing.
type Forwarder struct {
	latency      time.Duration
	failAfter    int
	callCount    atomic.Int64
	staticErr    error
	body         []byte
	responseFunc func(body []byte, credential string) (llmgate.UpstreamResponse, error)

	mu          sync.Mutex
	credentials []string
}

var _ llmgate.Forwarder = (*Forwarder)(nil)

// Option configures a mock Forwarder.
type Option func(*Forwarder)

// New creates a mock forwarder with the given options.
func New(opts ...Option) *Forwarder {
	f := &Forwarder{
		body: []byte(`{"id":"msg_mock","type":"message","role":"assistant","content":[{"type":"text","text":"Hello from mock upstream"}]}`),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// WithLatency adds simulated latency to each call.
func WithLatency(d time.Duration) Option {
	return func(f *Forwarder) { f.latency = d }
}

// WithFailAfter makes the forwarder fail after N successful calls.
func WithFailAfter(n int) Option {
	return func(f *Forwarder) { f.failAfter = n }
}

// WithError makes the forwarder always return this error.
func WithError(err error) Option {
	return func(f *Forwarder) { f.staticErr = err }
}

// WithBody sets the response body.
func WithBody(body []byte) Option {
	return func(f *Forwarder) { f.body = body }
}

// WithResponseFunc sets a custom response function.
func WithResponseFunc(fn func(body []byte, credential string) (llmgate.UpstreamResponse, error)) Option {
	return func(f *Forwarder) { f.responseFunc = fn }
}

func (f *Forwarder) Forward(ctx context.Context, body []byte, credential string) (llmgate.UpstreamResponse, error) {
	if f.latency > 0 {
		select {
		case <-time.After(f.latency):
		case <-ctx.Done():
			return llmgate.UpstreamResponse{}, ctx.Err()
		}
	}

	count := f.callCount.Add(1)
	f.mu.Lock()
	f.credentials = append(f.credentials, credential)
	f.mu.Unlock()

	if f.staticErr != nil {
		return llmgate.UpstreamResponse{}, f.staticErr
	}
	if f.failAfter > 0 && int(count) > f.failAfter {
		return llmgate.UpstreamResponse{}, &llmgate.UpstreamError{StatusCode: http.StatusServiceUnavailable, Body: "overloaded"}
	}
	if f.responseFunc != nil {
		return f.responseFunc(body, credential)
	}

	return llmgate.UpstreamResponse{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       f.body,
	}, nil
}

// CallCount returns the number of calls made to the forwarder.
func (f *Forwarder) CallCount() int64 { return f.callCount.Load() }

// Credentials returns the credentials seen so far, in call order.
func (f *Forwarder) Credentials() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.credentials...)
}
