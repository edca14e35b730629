package period

import (
	"context"
	"sort"
	"sync"
	"time"

	"fingate.org/internal/ids"
)

var _ Store = (*InMemory)(nil)

// InMemory keeps financial years in process memory. A single mutex makes
// the open check and the insert one step.
type InMemory struct {
	mu      sync.Mutex
	periods []Period
}

func NewInMemory() *InMemory {
	return &InMemory{}
}

func (s *InMemory) FindOpen(_ context.Context) (*Period, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.periods {
		if p.IsOpen {
			out := p
			return &out, nil
		}
	}
	return nil, nil
}

func (s *InMemory) Insert(_ context.Context, p *Period) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.periods {
		if existing.IsOpen {
			return ErrAlreadyOpen
		}
	}
	if p.ID == "" {
		p.ID = ids.New()
	}
	p.IsOpen = true
	s.periods = append(s.periods, *p)
	return nil
}

func (s *InMemory) Close(_ context.Context, id string, at time.Time) (Period, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.periods {
		if s.periods[i].ID != id {
			continue
		}
		if !s.periods[i].IsOpen {
			return Period{}, ErrAlreadyClosed
		}
		s.periods[i].IsOpen = false
		s.periods[i].ClosedAt = &at
		return s.periods[i], nil
	}
	return Period{}, ErrNotFound
}

func (s *InMemory) List(_ context.Context) ([]Period, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]Period(nil), s.periods...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartDate.After(out[j].StartDate) })
	return out, nil
}
