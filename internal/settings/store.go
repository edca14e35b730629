package settings

import (
	"context"
	"database/sql"
	"errors"
	"sync"
)

var (
	_ Store = (*InMemory)(nil)
	_ Store = (*PGStore)(nil)
)

// InMemory keeps settings in process memory.
type InMemory struct {
	mu   sync.RWMutex
	data map[string]Setting
}

func NewInMemory() *InMemory {
	return &InMemory{data: make(map[string]Setting)}
}

func (s *InMemory) Get(_ context.Context, key string) (Setting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	if !ok {
		return Setting{}, ErrNotFound
	}
	return v, nil
}

func (s *InMemory) Upsert(_ context.Context, setting *Setting) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[setting.Key] = *setting
	return nil
}

// PGStore keeps settings in the global_settings table.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Get(ctx context.Context, key string) (Setting, error) {
	var v Setting
	err := s.db.QueryRowContext(ctx,
		`select key, value, type, updated_at from global_settings where key=$1`, key,
	).Scan(&v.Key, &v.Value, &v.Type, &v.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Setting{}, ErrNotFound
	}
	return v, err
}

func (s *PGStore) Upsert(ctx context.Context, setting *Setting) error {
	_, err := s.db.ExecContext(ctx, `
		insert into global_settings(key, value, type, updated_at)
		values ($1,$2,$3,$4)
		on conflict (key) do update
		set value = excluded.value, type = excluded.type, updated_at = excluded.updated_at
	`, setting.Key, setting.Value, setting.Type, setting.UpdatedAt)
	return err
}
