// Package period guards financial mutations behind the single open
// financial year.
package period

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound      = errors.New("period: not found")
	ErrAlreadyOpen   = errors.New("period: a financial year is already open")
	ErrAlreadyClosed = errors.New("period: financial year is already closed")
	ErrInvalidInput  = errors.New("period: invalid input")
)

// DateLayout is the calendar-day format accepted on the wire.
const DateLayout = "2006-01-02"

// Period is a financial year. Start and end are calendar days at UTC midnight.
type Period struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	StartDate time.Time  `json:"start_date"`
	EndDate   time.Time  `json:"end_date"`
	IsOpen    bool       `json:"is_open"`
	CreatedAt time.Time  `json:"created_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
}

// Contains reports whether day falls in [StartDate, EndDate].
func (p Period) Contains(day time.Time) bool {
	d := Day(day)
	return !d.Before(p.StartDate) && !d.After(p.EndDate)
}

// Store persists financial years.
type Store interface {
	// FindOpen returns the open period or nil when none is open.
	FindOpen(ctx context.Context) (*Period, error)
	// Insert stores an open period. It must fail with ErrAlreadyOpen,
	// atomically with respect to concurrent callers, if one is open.
	Insert(ctx context.Context, p *Period) error
	Close(ctx context.Context, id string, at time.Time) (Period, error)
	List(ctx context.Context) ([]Period, error)
}

// Day truncates t to its calendar day at UTC midnight.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDay parses a YYYY-MM-DD string.
func ParseDay(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date must be YYYY-MM-DD", ErrInvalidInput)
	}
	return t, nil
}

// Gate answers whether mutations are currently allowed.
type Gate struct {
	store Store
	now   func() time.Time
}

// Option configures a Gate.
type Option func(*Gate)

// WithClock overrides the time source.
func WithClock(fn func() time.Time) Option {
	return func(g *Gate) {
		if fn != nil {
			g.now = fn
		}
	}
}

func NewGate(store Store, opts ...Option) (*Gate, error) {
	if store == nil {
		return nil, errors.New("period store is required")
	}
	g := &Gate{store: store, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// ActiveWindow returns the open financial year, or nil when none is open.
func (g *Gate) ActiveWindow(ctx context.Context) (*Period, error) {
	return g.store.FindOpen(ctx)
}

// OpenNew opens a financial year covering [start, end].
func (g *Gate) OpenNew(ctx context.Context, name string, start, end time.Time) (Period, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Period{}, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if start.IsZero() || end.IsZero() {
		return Period{}, fmt.Errorf("%w: start and end dates are required", ErrInvalidInput)
	}
	start, end = Day(start), Day(end)
	if end.Before(start) {
		return Period{}, fmt.Errorf("%w: end date precedes start date", ErrInvalidInput)
	}
	p := Period{
		Name:      name,
		StartDate: start,
		EndDate:   end,
		IsOpen:    true,
		CreatedAt: g.now().UTC(),
	}
	if err := g.store.Insert(ctx, &p); err != nil {
		return Period{}, err
	}
	return p, nil
}

// Validate reports whether date falls inside the open financial year.
// It is false when no year is open.
func (g *Gate) Validate(ctx context.Context, date time.Time) (bool, error) {
	p, err := g.store.FindOpen(ctx)
	if err != nil {
		return false, err
	}
	if p == nil {
		return false, nil
	}
	return p.Contains(date), nil
}

// Today returns the current calendar day by the gate's clock.
func (g *Gate) Today() time.Time {
	return Day(g.now())
}

// Close marks the financial year id as closed.
func (g *Gate) Close(ctx context.Context, id string) (Period, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Period{}, fmt.Errorf("%w: id is required", ErrInvalidInput)
	}
	return g.store.Close(ctx, id, g.now().UTC())
}

// List returns every financial year, newest start first.
func (g *Gate) List(ctx context.Context) ([]Period, error) {
	return g.store.List(ctx)
}
