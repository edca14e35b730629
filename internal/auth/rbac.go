package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"fingate.org/internal/obs"
)

// PermissionCache memoises HasPermission answers per user. Implementations
// must drop every entry for a user on Invalidate.
type PermissionCache interface {
	Lookup(ctx context.Context, userID, key string) (allowed bool, found bool, err error)
	Store(ctx context.Context, userID, key string, allowed bool) error
	Invalidate(ctx context.Context, userIDs ...string) error
}

// RBACService resolves permissions and manages roles and grants.
type RBACService struct {
	store RBACStore
	cache PermissionCache
}

// RBACOption configures RBACService.
type RBACOption func(*RBACService)

// WithPermissionCache enables caching of resolved permissions.
func WithPermissionCache(cache PermissionCache) RBACOption {
	return func(s *RBACService) {
		s.cache = cache
	}
}

func NewRBACService(store RBACStore, opts ...RBACOption) (*RBACService, error) {
	if store == nil {
		return nil, errors.New("rbac store is required")
	}
	s := &RBACService{store: store}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// HasPermission reports whether any role assigned to userID grants
// (module, action). Absence of a matching grant denies.
func (s *RBACService) HasPermission(ctx context.Context, userID, module, action string) (bool, error) {
	userID = strings.TrimSpace(userID)
	module, action = normalizeName(module), normalizeName(action)
	if userID == "" || module == "" || action == "" {
		return false, nil
	}
	key := PermissionKey(module, action)

	if s.cache != nil {
		allowed, found, err := s.cache.Lookup(ctx, userID, key)
		if err != nil {
			obs.Warn("permission_cache_lookup_failed", map[string]any{"user_id": userID, "error": err})
		} else if found {
			return allowed, nil
		}
	}

	allowed, err := s.resolve(ctx, userID, module, action)
	if err != nil {
		return false, err
	}

	if s.cache != nil {
		if err := s.cache.Store(ctx, userID, key, allowed); err != nil {
			obs.Warn("permission_cache_store_failed", map[string]any{"user_id": userID, "error": err})
		}
	}
	return allowed, nil
}

func (s *RBACService) resolve(ctx context.Context, userID, module, action string) (bool, error) {
	roleIDs, err := s.store.RoleIDsForUser(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("load roles: %w", err)
	}
	if len(roleIDs) == 0 {
		return false, nil
	}
	count, err := s.store.CountGrants(ctx, roleIDs, module, action)
	if err != nil {
		return false, fmt.Errorf("count grants: %w", err)
	}
	return count > 0, nil
}

// EnsureBuiltins ensures the builtin permission catalog exists.
func (s *RBACService) EnsureBuiltins(ctx context.Context) error {
	return s.store.EnsurePermissions(ctx, BuiltinPermissions)
}

func (s *RBACService) CreateRole(ctx context.Context, name, description string) (Role, error) {
	name = normalizeName(name)
	if name == "" {
		return Role{}, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	role := Role{Name: name, Description: strings.TrimSpace(description)}
	if err := s.store.CreateRole(ctx, &role); err != nil {
		return Role{}, err
	}
	return role, nil
}

func (s *RBACService) AssignRole(ctx context.Context, userID, roleID string) error {
	userID, roleID = strings.TrimSpace(userID), strings.TrimSpace(roleID)
	if userID == "" || roleID == "" {
		return fmt.Errorf("%w: user_id and role_id are required", ErrInvalidInput)
	}
	if err := s.store.AssignRole(ctx, userID, roleID); err != nil {
		return err
	}
	return s.invalidate(ctx, userID)
}

func (s *RBACService) RevokeRole(ctx context.Context, userID, roleID string) error {
	userID, roleID = strings.TrimSpace(userID), strings.TrimSpace(roleID)
	if userID == "" || roleID == "" {
		return fmt.Errorf("%w: user_id and role_id are required", ErrInvalidInput)
	}
	if err := s.store.RevokeRole(ctx, userID, roleID); err != nil {
		return err
	}
	return s.invalidate(ctx, userID)
}

func (s *RBACService) GrantPermission(ctx context.Context, roleID, module, action string) error {
	roleID = strings.TrimSpace(roleID)
	module, action = normalizeName(module), normalizeName(action)
	if roleID == "" || module == "" || action == "" {
		return fmt.Errorf("%w: role_id, module and action are required", ErrInvalidInput)
	}
	if err := s.store.GrantPermission(ctx, roleID, module, action); err != nil {
		return err
	}
	return s.invalidateRole(ctx, roleID)
}

func (s *RBACService) RevokePermission(ctx context.Context, roleID, module, action string) error {
	roleID = strings.TrimSpace(roleID)
	module, action = normalizeName(module), normalizeName(action)
	if roleID == "" || module == "" || action == "" {
		return fmt.Errorf("%w: role_id, module and action are required", ErrInvalidInput)
	}
	if err := s.store.RevokePermission(ctx, roleID, module, action); err != nil {
		return err
	}
	return s.invalidateRole(ctx, roleID)
}

// UserPermissions lists the effective permission keys of a user.
func (s *RBACService) UserPermissions(ctx context.Context, userID string) ([]string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	perms, err := s.store.PermissionsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(perms))
	for _, p := range perms {
		keys = append(keys, p.Key())
	}
	return dedupeStrings(keys), nil
}

func (s *RBACService) invalidateRole(ctx context.Context, roleID string) error {
	if s.cache == nil {
		return nil
	}
	users, err := s.store.UserIDsWithRole(ctx, roleID)
	if err != nil {
		return fmt.Errorf("list role members: %w", err)
	}
	return s.invalidate(ctx, users...)
}

func (s *RBACService) invalidate(ctx context.Context, userIDs ...string) error {
	if s.cache == nil || len(userIDs) == 0 {
		return nil
	}
	if err := s.cache.Invalidate(ctx, userIDs...); err != nil {
		return fmt.Errorf("invalidate permission cache: %w", err)
	}
	return nil
}

func dedupeStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := set[v]; ok {
			continue
		}
		set[v] = struct{}{}
		result = append(result, v)
	}
	return result
}

// Builtin administrator role, created on first EnsureAdmin.
const (
	AdminRoleID   = "builtin-admin"
	AdminRoleName = "BUILTIN_ADMIN"
)

// EnsureAdmin grants userID every builtin permission through the builtin
// administrator role. Safe to repeat.
func (s *RBACService) EnsureAdmin(ctx context.Context, userID string) error {
	role := Role{ID: AdminRoleID, Name: AdminRoleName, Description: "All builtin permissions"}
	if err := s.store.CreateRole(ctx, &role); err != nil && !errors.Is(err, ErrConflict) {
		return fmt.Errorf("create admin role: %w", err)
	}
	for _, p := range BuiltinPermissions {
		if err := s.GrantPermission(ctx, AdminRoleID, p.Module, p.Action); err != nil {
			return fmt.Errorf("grant %s: %w", p.Key(), err)
		}
	}
	return s.AssignRole(ctx, userID, AdminRoleID)
}
