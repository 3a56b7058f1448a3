package llmgate

import "fmt"

// Subscription tiers.
const (
	TierFree       = "free"
	TierBasic      = "basic"
	TierPro        = "pro"
	TierEnterprise = "enterprise"
)

// Limits maps a tier name to its monthly request limit.
type Limits map[string]int64

// DefaultLimits returns the standard tier table.
func DefaultLimits() Limits {
	return Limits{
		TierFree:       50,
		TierBasic:      500,
		TierPro:        2000,
		TierEnterprise: 10000,
	}
}

// Resolve returns the limit for tier. Unknown tiers get the free limit,
// and the returned tier name reflects that.
func (l Limits) Resolve(tier string) (string, int64) {
	if limit, ok := l[tier]; ok {
		return tier, limit
	}
	return TierFree, l[TierFree]
}

// Validate checks every tier has a positive limit and a free tier exists.
func (l Limits) Validate() error {
	if _, ok := l[TierFree]; !ok {
		return fmt.Errorf("llmgate: config: tiers: %q tier is required", TierFree)
	}
	for tier, limit := range l {
		if tier == "" {
			return fmt.Errorf("llmgate: config: tiers: empty tier name")
		}
		if limit <= 0 {
			return fmt.Errorf("llmgate: config: tiers: %q: %w: %d", tier, ErrInvalidLimit, limit)
		}
	}
	return nil
}
