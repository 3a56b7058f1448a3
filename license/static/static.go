// Package static provides a LicenseValidator that accepts every non-empty
// token and grants a fixed tier. Use it for local development and tests.
package static

import (
	"context"

	"github.com/ineyio/llmgate"
)

// Validator grants Tier to any non-empty token.
type Validator struct {
	Tier   string
	Limits llmgate.Limits
}

var _ llmgate.LicenseValidator = (*Validator)(nil)

// New creates a Validator granting tier.
func New(tier string) *Validator {
	return &Validator{Tier: tier, Limits: llmgate.DefaultLimits()}
}

func (v *Validator) Validate(_ context.Context, token string) (llmgate.License, error) {
	if token == "" {
		return llmgate.License{}, nil
	}
	_, limit := v.Limits.Resolve(v.Tier)
	return llmgate.License{Valid: true, Tier: v.Tier, QuotaLimit: limit}, nil
}
