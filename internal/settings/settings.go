// Package settings is the global key/value configuration kept in the database.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"fingate.org/internal/audit"
)

var (
	ErrNotFound     = errors.New("settings: not found")
	ErrInvalidInput = errors.New("settings: invalid input")
)

// Value types.
const (
	TypeString  = "STRING"
	TypeBoolean = "BOOLEAN"
	TypeJSON    = "JSON"
)

// KeyStrictDates makes the period lock validate requests without an
// explicit transaction date against today.
const KeyStrictDates = "period.strict_dates"

// Setting is a single global setting.
type Setting struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	Type      string    `json:"type"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists settings.
type Store interface {
	Get(ctx context.Context, key string) (Setting, error)
	Upsert(ctx context.Context, s *Setting) error
}

// Service reads and writes global settings.
type Service struct {
	store Store
	audit audit.Sink
	now   func() time.Time
}

type Option func(*Service)

// WithAudit records SETTINGS UPDATE events.
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

func NewService(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("settings store is required")
	}
	s := &Service{store: store, audit: audit.Discard, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Get returns the setting stored under key.
func (s *Service) Get(ctx context.Context, key string) (Setting, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return Setting{}, fmt.Errorf("%w: key is required", ErrInvalidInput)
	}
	return s.store.Get(ctx, key)
}

// Set creates or replaces key. An empty typ means STRING.
func (s *Service) Set(ctx context.Context, actorID, key, value, typ string) (Setting, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return Setting{}, fmt.Errorf("%w: key is required", ErrInvalidInput)
	}
	typ = strings.ToUpper(strings.TrimSpace(typ))
	if typ == "" {
		typ = TypeString
	}
	if err := checkValue(typ, value); err != nil {
		return Setting{}, err
	}

	var before any
	if prev, err := s.store.Get(ctx, key); err == nil {
		before = prev
	} else if !errors.Is(err, ErrNotFound) {
		return Setting{}, err
	}

	setting := Setting{Key: key, Value: value, Type: typ, UpdatedAt: s.now().UTC()}
	if err := s.store.Upsert(ctx, &setting); err != nil {
		return Setting{}, err
	}
	s.audit.Record(ctx, audit.Entry{
		ActorID:  actorID,
		Action:   "UPDATE",
		Module:   "SETTINGS",
		EntityID: key,
		Before:   before,
		After:    setting,
	})
	return setting, nil
}

// GetBool returns def when key is unset; otherwise the value equals "true".
func (s *Service) GetBool(ctx context.Context, key string, def bool) (bool, error) {
	setting, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return def, nil
	}
	if err != nil {
		return def, err
	}
	return setting.Value == "true", nil
}

func checkValue(typ, value string) error {
	switch typ {
	case TypeString:
		return nil
	case TypeBoolean:
		if value != "true" && value != "false" {
			return fmt.Errorf("%w: boolean value must be true or false", ErrInvalidInput)
		}
		return nil
	case TypeJSON:
		if !json.Valid([]byte(value)) {
			return fmt.Errorf("%w: value is not valid JSON", ErrInvalidInput)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidInput, typ)
	}
}
