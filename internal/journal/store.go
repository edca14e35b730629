package journal

import (
	"context"
	"sync"
)

// Store persists journal entries.
type Store interface {
	// Append stores e and assigns its sequence. When e.CreatedBy already
	// used e.IdempotencyKey, the earlier entry is returned with replayed=true.
	Append(ctx context.Context, e Entry) (stored Entry, replayed bool, err error)
	List(ctx context.Context, limit int, afterSeq uint64) ([]Entry, uint64, error)
}

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

func clampLimit(limit int) int {
	if limit <= 0 || limit > maxListLimit {
		return defaultListLimit
	}
	return limit
}

var _ Store = (*InMemory)(nil)

// InMemory implements Store with in-process concurrency safety.
type InMemory struct {
	mu      sync.RWMutex
	seq     uint64
	entries []Entry
	idem    map[idemKey]Entry
}

// Keys are scoped to the poster.
type idemKey struct{ createdBy, key string }

func NewInMemory() *InMemory {
	return &InMemory{idem: make(map[idemKey]Entry)}
}

func (s *InMemory) Append(_ context.Context, e Entry) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.IdempotencyKey != "" {
		if prev, ok := s.idem[idemKey{e.CreatedBy, e.IdempotencyKey}]; ok {
			return prev, true, nil
		}
	}
	s.seq++
	e.Sequence = s.seq
	s.entries = append(s.entries, e)
	if e.IdempotencyKey != "" {
		s.idem[idemKey{e.CreatedBy, e.IdempotencyKey}] = e
	}
	return e, false, nil
}

func (s *InMemory) List(_ context.Context, limit int, afterSeq uint64) ([]Entry, uint64, error) {
	limit = clampLimit(limit)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		res  []Entry
		last uint64
	)
	for _, e := range s.entries {
		if e.Sequence <= afterSeq {
			continue
		}
		res = append(res, e)
		last = e.Sequence
		if len(res) >= limit {
			break
		}
	}
	return res, last, nil
}
