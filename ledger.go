package llmgate

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultMaxAttempts bounds the optimistic-concurrency loop in Admit.
const DefaultMaxAttempts = 3

// AdmissionResult is the outcome of a single admission decision.
type AdmissionResult struct {
	Allowed  bool
	Count    int64 // count after this decision
	Limit    int64
	Period   string
	Attempts int
}

// Remaining returns how many more requests the period allows.
func (r AdmissionResult) Remaining() int64 {
	if r.Count >= r.Limit {
		return 0
	}
	return r.Limit - r.Count
}

// Ledger decides admission and records usage per (user, period).
// It holds no locks: concurrent callers for the same user are serialized
// by the store's conditional writes.
type Ledger struct {
	store       QuotaStore
	maxAttempts int
	now         func() time.Time
}

// LedgerOption configures a Ledger.
type LedgerOption func(*Ledger)

// WithMaxAttempts sets how many read/write rounds Admit makes before
// giving up under contention.
func WithMaxAttempts(n int) LedgerOption {
	return func(l *Ledger) { l.maxAttempts = n }
}

// WithClock overrides the wall clock used to derive billing periods.
func WithClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) { l.now = now }
}

// NewLedger creates a Ledger backed by store.
func NewLedger(store QuotaStore, opts ...LedgerOption) (*Ledger, error) {
	if store == nil {
		return nil, fmt.Errorf("llmgate: ledger requires a quota store")
	}
	l := &Ledger{
		store:       store,
		maxAttempts: DefaultMaxAttempts,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.maxAttempts < 1 {
		return nil, fmt.Errorf("llmgate: max attempts must be positive, got %d", l.maxAttempts)
	}
	return l, nil
}

// Admit decides whether userID may make one more request in the current
// period under limit and, if so, charges it.
//
// A zero limit denies without touching the store. A negative limit is a
// configuration error. Store failures other than CAS conflicts are returned
// wrapping ErrStoreUnavailable and are neither an admit nor a deny.
func (l *Ledger) Admit(ctx context.Context, userID, tier string, limit int64) (AdmissionResult, error) {
	period := PeriodKey(l.now())
	res := AdmissionResult{Limit: limit, Period: period}

	if userID == "" {
		return res, &AdmissionError{Err: fmt.Errorf("%w: empty user id", ErrInvalidRequest), Period: period}
	}
	if limit < 0 {
		return res, &AdmissionError{Err: fmt.Errorf("%w: %d", ErrInvalidLimit, limit), UserID: userID, Period: period}
	}
	if limit == 0 {
		return res, nil
	}

	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		res.Attempts = attempt

		rec, err := l.store.Get(ctx, userID, period)
		exists := true
		switch {
		case errors.Is(err, ErrRecordNotFound):
			exists = false
		case err != nil:
			return res, l.unavailable(userID, period, attempt, err)
		}

		res.Count = rec.Count
		if rec.Count >= limit {
			res.Allowed = false
			return res, nil
		}

		if !exists {
			err = l.store.CreateIfAbsent(ctx, UsageRecord{
				UserID:    userID,
				Period:    period,
				Count:     1,
				Tier:      tier,
				UpdatedAt: l.now().UTC(),
			})
		} else {
			err = l.store.ConditionalUpdate(ctx, userID, period, rec.Count, rec.Count+1, tier)
		}
		if IsConflict(err) {
			continue
		}
		if err != nil {
			return res, l.unavailable(userID, period, attempt, err)
		}

		res.Allowed = true
		res.Count = rec.Count + 1
		return res, nil
	}

	return res, &AdmissionError{
		Err:      ErrConcurrentModification,
		UserID:   userID,
		Period:   period,
		Attempts: l.maxAttempts,
	}
}

// Usage returns the current record for userID in the current period.
// A user with no record yet has a zero count.
func (l *Ledger) Usage(ctx context.Context, userID string) (UsageRecord, error) {
	period := PeriodKey(l.now())
	rec, err := l.store.Get(ctx, userID, period)
	if errors.Is(err, ErrRecordNotFound) {
		return UsageRecord{UserID: userID, Period: period}, nil
	}
	if err != nil {
		return UsageRecord{}, l.unavailable(userID, period, 1, err)
	}
	return rec, nil
}

func (l *Ledger) unavailable(userID, period string, attempt int, err error) error {
	return &AdmissionError{
		Err:      fmt.Errorf("%w: %w", ErrStoreUnavailable, err),
		UserID:   userID,
		Period:   period,
		Attempts: attempt,
	}
}
