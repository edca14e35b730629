package auth

import (
	"context"
	"sort"
	"sync"
	"time"

	"fingate.org/internal/ids"
)

var (
	_ UserStore = (*InMemoryStore)(nil)
	_ RBACStore = (*InMemoryStore)(nil)
)

// InMemoryStore implements UserStore and RBACStore in process memory.
type InMemoryStore struct {
	mu          sync.RWMutex
	users       map[string]*User
	byEmail     map[string]string
	roles       map[string]*Role
	permissions map[string]*Permission // key MODULE:ACTION
	assignments map[string]map[string]time.Time
	grants      map[string]map[string]struct{} // role id -> permission key
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		users:       make(map[string]*User),
		byEmail:     make(map[string]string),
		roles:       make(map[string]*Role),
		permissions: make(map[string]*Permission),
		assignments: make(map[string]map[string]time.Time),
		grants:      make(map[string]map[string]struct{}),
	}
}

func (s *InMemoryStore) Create(_ context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u.Email = normalizeEmail(u.Email)
	if _, ok := s.byEmail[u.Email]; ok {
		return ErrConflict
	}
	if u.ID == "" {
		u.ID = ids.New()
	}
	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	cp := *u
	s.users[u.ID] = &cp
	s.byEmail[u.Email] = u.ID
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *InMemoryStore) FindByEmail(_ context.Context, email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[normalizeEmail(email)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s.users[id]
	return &cp, nil
}

func (s *InMemoryStore) UpdateLastLogin(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	u.LastLoginAt = &at
	return nil
}

func (s *InMemoryStore) UpdatePasswordHash(_ context.Context, id, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = passwordHash
	u.MustChangePass = false
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *InMemoryStore) RoleIDsForUser(_ context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.assignments[userID]))
	for roleID := range s.assignments[userID] {
		out = append(out, roleID)
	}
	sort.Strings(out)
	return out, nil
}

func (s *InMemoryStore) CountGrants(_ context.Context, roleIDs []string, module, action string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key := PermissionKey(module, action)
	count := 0
	for _, roleID := range roleIDs {
		if _, ok := s.grants[roleID][key]; ok {
			count++
		}
	}
	return count, nil
}

func (s *InMemoryStore) CreateRole(_ context.Context, role *Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.roles {
		if r.Name == role.Name {
			return ErrConflict
		}
	}
	if role.ID == "" {
		role.ID = ids.New()
	}
	role.CreatedAt = time.Now().UTC()
	cp := *role
	s.roles[role.ID] = &cp
	return nil
}

func (s *InMemoryStore) EnsurePermissions(_ context.Context, perms []Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range perms {
		p.Module, p.Action = normalizeName(p.Module), normalizeName(p.Action)
		if _, ok := s.permissions[p.Key()]; ok {
			continue
		}
		if p.ID == "" {
			p.ID = ids.New()
		}
		cp := p
		s.permissions[p.Key()] = &cp
	}
	return nil
}

func (s *InMemoryStore) AssignRole(_ context.Context, userID, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return ErrNotFound
	}
	if _, ok := s.roles[roleID]; !ok {
		return ErrNotFound
	}
	m, ok := s.assignments[userID]
	if !ok {
		m = make(map[string]time.Time)
		s.assignments[userID] = m
	}
	if _, ok := m[roleID]; !ok {
		m[roleID] = time.Now().UTC()
	}
	return nil
}

func (s *InMemoryStore) RevokeRole(_ context.Context, userID, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.assignments[userID][roleID]; !ok {
		return ErrNotFound
	}
	delete(s.assignments[userID], roleID)
	return nil
}

func (s *InMemoryStore) GrantPermission(_ context.Context, roleID, module, action string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[roleID]; !ok {
		return ErrNotFound
	}
	key := PermissionKey(module, action)
	if _, ok := s.permissions[key]; !ok {
		return ErrNotFound
	}
	m, ok := s.grants[roleID]
	if !ok {
		m = make(map[string]struct{})
		s.grants[roleID] = m
	}
	m[key] = struct{}{}
	return nil
}

func (s *InMemoryStore) RevokePermission(_ context.Context, roleID, module, action string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := PermissionKey(module, action)
	if _, ok := s.grants[roleID][key]; !ok {
		return ErrNotFound
	}
	delete(s.grants[roleID], key)
	return nil
}

func (s *InMemoryStore) UserIDsWithRole(_ context.Context, roleID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for userID, roles := range s.assignments {
		if _, ok := roles[roleID]; ok {
			out = append(out, userID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *InMemoryStore) PermissionsForUser(_ context.Context, userID string) ([]Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	var out []Permission
	for roleID := range s.assignments[userID] {
		for key := range s.grants[roleID] {
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, *s.permissions[key])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out, nil
}
