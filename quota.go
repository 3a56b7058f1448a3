package llmgate

import (
	"context"
	"time"
)

// QuotaStore is durable, key-addressed counter storage with conditional
// update semantics. Records are keyed by (userID, period).
type QuotaStore interface {
	// Get returns the record for (userID, period) or ErrRecordNotFound.
	Get(ctx context.Context, userID, period string) (UsageRecord, error)

	// CreateIfAbsent inserts rec. Returns ErrAlreadyExists if a record for
	// the same key is already stored.
	CreateIfAbsent(ctx context.Context, rec UsageRecord) error

	// ConditionalUpdate sets the count to next and records tier, but only if
	// the stored count still equals expected. Returns
	// ErrConcurrentModification otherwise.
	ConditionalUpdate(ctx context.Context, userID, period string, expected, next int64, tier string) error
}

// Pinger is implemented by stores that can report connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// UsageRecord is the per-(user, period) request counter.
type UsageRecord struct {
	UserID    string
	Period    string
	Count     int64
	Tier      string // tier at last write; advisory only
	UpdatedAt time.Time
}

// PeriodKey returns the billing period containing t as "YYYY-MM" in UTC.
func PeriodKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}
