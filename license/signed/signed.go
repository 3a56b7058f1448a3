// Package signed validates license tokens issued as signed JWTs.
//
// The issuer signs a token carrying the subscription tier; the gateway only
// needs the verification key, so no network call is made per request.
package signed

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ineyio/llmgate"
)

// Claims are the license claims carried by a token.
type Claims struct {
	jwt.RegisteredClaims
	Tier       string `json:"tier"`
	QuotaLimit int64  `json:"quota_limit,omitempty"`
}

// Validator verifies HMAC-signed license tokens.
type Validator struct {
	key    []byte
	issuer string
	leeway time.Duration
}

var _ llmgate.LicenseValidator = (*Validator)(nil)

// Option configures Validator.
type Option func(*Validator)

// WithIssuer requires the iss claim to equal issuer.
func WithIssuer(issuer string) Option {
	return func(v *Validator) { v.issuer = issuer }
}

// WithLeeway allows clock skew when checking exp and nbf.
func WithLeeway(d time.Duration) Option {
	return func(v *Validator) { v.leeway = d }
}

// New creates a Validator using key to verify HS256 signatures.
func New(key []byte, opts ...Option) (*Validator, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("llmgate/signed: empty signing key")
	}
	v := &Validator{key: key}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Validate parses and verifies token. Bad signatures, expired tokens and
// tokens without a tier are reported as invalid licenses, not errors.
func (v *Validator) Validate(_ context.Context, token string) (llmgate.License, error) {
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
	}
	if v.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(v.issuer))
	}

	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.key, nil
	}, parserOpts...)
	if err != nil {
		// The key func never fails, so every error here is about the token.
		return llmgate.License{}, nil
	}
	if !parsed.Valid || claims.Tier == "" {
		return llmgate.License{}, nil
	}

	return llmgate.License{
		Valid:      true,
		Tier:       claims.Tier,
		QuotaLimit: claims.QuotaLimit,
	}, nil
}

// Issue signs a license token. Issuers and tests use it; the gateway
// only verifies.
func Issue(key []byte, subject, tier string, ttl time.Duration, opts ...Option) (string, error) {
	v := &Validator{key: key}
	for _, opt := range opts {
		opt(v)
	}
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Tier: tier,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
}
