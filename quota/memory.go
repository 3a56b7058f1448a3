package quota

import (
	"context"
	"sync"
	"time"

	"github.com/ineyio/llmgate"
)

// MemoryStore is an in-memory QuotaStore. It is safe for concurrent use
// within one process; counters are lost on restart.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[key]llmgate.UsageRecord
	now     func() time.Time
}

type key struct {
	userID string
	period string
}

var (
	_ llmgate.QuotaStore = (*MemoryStore)(nil)
	_ llmgate.Pinger     = (*MemoryStore)(nil)
)

// NewMemoryStore creates a new in-memory quota store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[key]llmgate.UsageRecord),
		now:     time.Now,
	}
}

// Get returns the record for (userID, period).
func (s *MemoryStore) Get(ctx context.Context, userID, period string) (llmgate.UsageRecord, error) {
	if err := ctx.Err(); err != nil {
		return llmgate.UsageRecord{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[key{userID, period}]
	if !ok {
		return llmgate.UsageRecord{}, llmgate.ErrRecordNotFound
	}
	return rec, nil
}

// CreateIfAbsent stores rec unless its key is taken.
func (s *MemoryStore) CreateIfAbsent(ctx context.Context, rec llmgate.UsageRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{rec.UserID, rec.Period}
	if _, ok := s.records[k]; ok {
		return llmgate.ErrAlreadyExists
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = s.now().UTC()
	}
	s.records[k] = rec
	return nil
}

// ConditionalUpdate swaps the count from expected to next.
func (s *MemoryStore) ConditionalUpdate(ctx context.Context, userID, period string, expected, next int64, tier string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{userID, period}
	rec, ok := s.records[k]
	if !ok || rec.Count != expected {
		return llmgate.ErrConcurrentModification
	}
	rec.Count = next
	rec.Tier = tier
	rec.UpdatedAt = s.now().UTC()
	s.records[k] = rec
	return nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
