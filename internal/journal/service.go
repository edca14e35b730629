// Package journal is the guarded business write path: every posting checks
// the caller's permission and the open financial year before it is stored.
package journal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"fingate.org/internal/audit"
	"fingate.org/internal/ids"
)

// Permission module and actions checked by the journal.
const (
	module       = "JOURNAL"
	actionCreate = "CREATE"
	actionRead   = "READ"
)

// PermissionChecker resolves RBAC permissions.
type PermissionChecker interface {
	HasPermission(ctx context.Context, userID, module, action string) (bool, error)
}

// DateValidator reports whether a date falls in the open financial year.
type DateValidator interface {
	Validate(ctx context.Context, date time.Time) (bool, error)
}

// Service posts and lists journal entries.
type Service struct {
	store   Store
	perms   PermissionChecker
	periods DateValidator
	audit   audit.Sink
	now     func() time.Time
}

type Option func(*Service)

func WithAudit(sink audit.Sink) Option {
	return func(s *Service) {
		if sink != nil {
			s.audit = sink
		}
	}
}

func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

func NewService(store Store, perms PermissionChecker, periods DateValidator, opts ...Option) (*Service, error) {
	if store == nil || perms == nil || periods == nil {
		return nil, errors.New("journal: store, permission checker and period validator are required")
	}
	s := &Service{store: store, perms: perms, periods: periods, audit: audit.Discard, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Post records an entry on behalf of actorID.
func (s *Service) Post(ctx context.Context, actorID string, in PostInput) (Entry, error) {
	if err := s.authorize(ctx, actorID, actionCreate); err != nil {
		return Entry{}, err
	}
	if !in.Amount.IsPositive() {
		return Entry{}, ErrInvalidAmount
	}
	currency := strings.ToUpper(strings.TrimSpace(in.Amount.Currency))
	if len(currency) != 3 {
		return Entry{}, ErrInvalidCurrency
	}
	debit, credit := strings.TrimSpace(in.DebitAccount), strings.TrimSpace(in.CreditAccount)
	if debit == "" || credit == "" {
		return Entry{}, fmt.Errorf("%w: debit and credit accounts are required", ErrInvalidInput)
	}
	if debit == credit {
		return Entry{}, fmt.Errorf("%w: debit and credit accounts must differ", ErrInvalidInput)
	}
	if in.Date.IsZero() {
		return Entry{}, fmt.Errorf("%w: date is required", ErrInvalidInput)
	}
	y, m, d := in.Date.Date()
	date := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)

	ok, err := s.periods.Validate(ctx, date)
	if err != nil {
		return Entry{}, fmt.Errorf("validate period: %w", err)
	}
	if !ok {
		return Entry{}, ErrPeriodLocked
	}

	entry := Entry{
		ID:             ids.New(),
		Date:           date,
		Description:    strings.TrimSpace(in.Description),
		DebitAccount:   debit,
		CreditAccount:  credit,
		Currency:       currency,
		Amount:         in.Amount.Amount,
		CreatedBy:      actorID,
		CreatedAt:      s.now().UTC(),
		IdempotencyKey: strings.TrimSpace(in.IdempotencyKey),
	}
	stored, replayed, err := s.store.Append(ctx, entry)
	if err != nil {
		return Entry{}, err
	}
	if replayed {
		if !stored.sameRequest(entry) {
			return Entry{}, ErrIdempotencyKey
		}
		return stored, nil
	}
	s.audit.Record(ctx, audit.Entry{
		ActorID:       actorID,
		Action:        "POST_JOURNAL",
		Module:        module,
		EntityID:      stored.ID,
		After:         stored,
		SourceAddress: in.SourceAddress,
	})
	return stored, nil
}

// List pages entries by sequence.
func (s *Service) List(ctx context.Context, actorID string, limit int, afterSeq uint64) ([]Entry, uint64, error) {
	if err := s.authorize(ctx, actorID, actionRead); err != nil {
		return nil, 0, err
	}
	return s.store.List(ctx, limit, afterSeq)
}

func (s *Service) authorize(ctx context.Context, actorID, action string) error {
	if strings.TrimSpace(actorID) == "" {
		return ErrPermissionDenied
	}
	ok, err := s.perms.HasPermission(ctx, actorID, module, action)
	if err != nil {
		return fmt.Errorf("check permission: %w", err)
	}
	if !ok {
		return ErrPermissionDenied
	}
	return nil
}
