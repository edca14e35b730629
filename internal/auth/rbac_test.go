package auth

import (
	"context"
	"errors"
	"testing"
)

type countingStore struct {
	*InMemoryStore
	roleCalls  int
	countCalls int
	roleErr    error
}

func (s *countingStore) RoleIDsForUser(ctx context.Context, userID string) ([]string, error) {
	s.roleCalls++
	if s.roleErr != nil {
		return nil, s.roleErr
	}
	return s.InMemoryStore.RoleIDsForUser(ctx, userID)
}

func (s *countingStore) CountGrants(ctx context.Context, roleIDs []string, module, action string) (int, error) {
	s.countCalls++
	return s.InMemoryStore.CountGrants(ctx, roleIDs, module, action)
}

func seedRBAC(t *testing.T, store *InMemoryStore) (userID, roleID string) {
	t.Helper()
	ctx := context.Background()
	u := User{Email: "clerk@books.io", IsActive: true}
	if err := store.Create(ctx, &u); err != nil {
		t.Fatalf("Create user: %v", err)
	}
	if err := store.EnsurePermissions(ctx, BuiltinPermissions); err != nil {
		t.Fatalf("EnsurePermissions: %v", err)
	}
	role := Role{Name: "CLERK"}
	if err := store.CreateRole(ctx, &role); err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	return u.ID, role.ID
}

func TestHasPermissionWithoutRolesSkipsGrantLookup(t *testing.T) {
	store := &countingStore{InMemoryStore: NewInMemoryStore()}
	userID, _ := seedRBAC(t, store.InMemoryStore)
	svc, err := NewRBACService(store)
	if err != nil {
		t.Fatalf("NewRBACService: %v", err)
	}

	ok, err := svc.HasPermission(context.Background(), userID, ModuleInvoice, ActionCreate)
	if err != nil {
		t.Fatalf("HasPermission: %v", err)
	}
	if ok {
		t.Fatal("user without roles must be denied")
	}
	if store.roleCalls != 1 || store.countCalls != 0 {
		t.Fatalf("expected one role lookup and no grant count, got %d/%d", store.roleCalls, store.countCalls)
	}
}

func TestHasPermissionMatchesModuleAndAction(t *testing.T) {
	mem := NewInMemoryStore()
	userID, roleID := seedRBAC(t, mem)
	svc, _ := NewRBACService(mem)
	ctx := context.Background()

	if err := svc.GrantPermission(ctx, roleID, "invoice", "create"); err != nil {
		t.Fatalf("GrantPermission: %v", err)
	}
	if err := svc.AssignRole(ctx, userID, roleID); err != nil {
		t.Fatalf("AssignRole: %v", err)
	}

	cases := []struct {
		module, action string
		want           bool
	}{
		{ModuleInvoice, ActionCreate, true},
		{" invoice ", "Create", true},
		{ModuleInvoice, ActionDelete, false},
		{ModuleJournal, ActionCreate, false},
		{"", ActionCreate, false},
	}
	for _, tc := range cases {
		got, err := svc.HasPermission(ctx, userID, tc.module, tc.action)
		if err != nil {
			t.Fatalf("HasPermission(%s,%s): %v", tc.module, tc.action, err)
		}
		if got != tc.want {
			t.Fatalf("HasPermission(%s,%s) = %v, want %v", tc.module, tc.action, got, tc.want)
		}
	}

	keys, err := svc.UserPermissions(ctx, userID)
	if err != nil {
		t.Fatalf("UserPermissions: %v", err)
	}
	if len(keys) != 1 || keys[0] != "INVOICE:CREATE" {
		t.Fatalf("unexpected permissions %v", keys)
	}
}

func TestHasPermissionPropagatesStoreErrors(t *testing.T) {
	store := &countingStore{InMemoryStore: NewInMemoryStore(), roleErr: errors.New("db down")}
	svc, _ := NewRBACService(store)
	if _, err := svc.HasPermission(context.Background(), "user-1", ModuleInvoice, ActionCreate); err == nil {
		t.Fatal("expected store error to surface")
	}
}

func TestPermissionCacheInvalidatedOnChanges(t *testing.T) {
	mem := NewInMemoryStore()
	store := &countingStore{InMemoryStore: mem}
	userID, roleID := seedRBAC(t, mem)
	cache := NewMemoryPermissionCache()
	svc, _ := NewRBACService(store, WithPermissionCache(cache))
	ctx := context.Background()

	if err := svc.AssignRole(ctx, userID, roleID); err != nil {
		t.Fatalf("AssignRole: %v", err)
	}
	if ok, _ := svc.HasPermission(ctx, userID, ModuleJournal, ActionCreate); ok {
		t.Fatal("expected deny before grant")
	}
	if ok, _ := svc.HasPermission(ctx, userID, ModuleJournal, ActionCreate); ok {
		t.Fatal("expected cached deny")
	}
	if store.roleCalls != 1 {
		t.Fatalf("expected second lookup to hit cache, got %d store calls", store.roleCalls)
	}

	if err := svc.GrantPermission(ctx, roleID, ModuleJournal, ActionCreate); err != nil {
		t.Fatalf("GrantPermission: %v", err)
	}
	if ok, _ := svc.HasPermission(ctx, userID, ModuleJournal, ActionCreate); !ok {
		t.Fatal("grant must invalidate cached deny")
	}

	if err := svc.RevokeRole(ctx, userID, roleID); err != nil {
		t.Fatalf("RevokeRole: %v", err)
	}
	if ok, _ := svc.HasPermission(ctx, userID, ModuleJournal, ActionCreate); ok {
		t.Fatal("revoke must invalidate cached allow")
	}
}

func TestRBACAdminValidation(t *testing.T) {
	mem := NewInMemoryStore()
	_, roleID := seedRBAC(t, mem)
	svc, _ := NewRBACService(mem)
	ctx := context.Background()

	if _, err := svc.CreateRole(ctx, " ", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := svc.CreateRole(ctx, "clerk", ""); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate role, got %v", err)
	}
	if err := svc.GrantPermission(ctx, roleID, "PAYROLL", "RUN"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown permission, got %v", err)
	}
	if err := svc.AssignRole(ctx, "ghost", roleID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown user, got %v", err)
	}
}

func TestEnsureAdminIsRepeatable(t *testing.T) {
	store := NewInMemoryStore()
	userID, _ := seedRBAC(t, store)
	svc, err := NewRBACService(store)
	if err != nil {
		t.Fatalf("NewRBACService: %v", err)
	}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := svc.EnsureAdmin(ctx, userID); err != nil {
			t.Fatalf("EnsureAdmin #%d: %v", i+1, err)
		}
	}
	perms, err := svc.UserPermissions(ctx, userID)
	if err != nil {
		t.Fatalf("UserPermissions: %v", err)
	}
	if len(perms) != len(BuiltinPermissions) {
		t.Fatalf("expected %d permissions, got %v", len(BuiltinPermissions), perms)
	}
}
