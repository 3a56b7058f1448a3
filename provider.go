package llmgate

import (
	"context"
	"net/http"
)

// LicenseValidator checks an opaque license token with its issuer.
type LicenseValidator interface {
	// Validate returns the license granted by token. An invalid token is not
	// an error: it yields License{Valid: false}. Errors are reserved for
	// failures to reach or understand the issuer.
	Validate(ctx context.Context, token string) (License, error)
}

// License is the result of a license validation.
type License struct {
	Valid bool
	Tier  string
	// QuotaLimit is what the issuer claims; admission uses Limits instead.
	QuotaLimit int64
}

// SecretProvider returns named secrets such as the upstream API key.
type SecretProvider interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// SecretInvalidator is implemented by secret providers that cache values.
// The gateway calls it when upstream rejects the credential.
type SecretInvalidator interface {
	Invalidate(name string)
}

// Forwarder sends a raw completion request body upstream.
type Forwarder interface {
	// Forward posts body with credential and returns the upstream reply.
	// A non-2xx reply is returned as an *UpstreamError.
	Forward(ctx context.Context, body []byte, credential string) (UpstreamResponse, error)
}

// UpstreamResponse is a successful upstream reply, relayed verbatim.
type UpstreamResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// ValidatorFunc adapts a function to LicenseValidator.
type ValidatorFunc func(ctx context.Context, token string) (License, error)

func (f ValidatorFunc) Validate(ctx context.Context, token string) (License, error) {
	return f(ctx, token)
}

// SecretFunc adapts a function to SecretProvider.
type SecretFunc func(ctx context.Context, name string) (string, error)

func (f SecretFunc) GetSecret(ctx context.Context, name string) (string, error) {
	return f(ctx, name)
}
