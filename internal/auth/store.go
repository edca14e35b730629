package auth

import (
	"context"
	"time"
)

// UserStore is the identity store consulted at login and password change.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	FindByID(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
	// UpdatePasswordHash must clear MustChangePass in the same write.
	UpdatePasswordHash(ctx context.Context, id, passwordHash string) error
}

// RBACStore holds roles, permissions, assignments and grants.
type RBACStore interface {
	RoleIDsForUser(ctx context.Context, userID string) ([]string, error)
	CountGrants(ctx context.Context, roleIDs []string, module, action string) (int, error)

	CreateRole(ctx context.Context, role *Role) error
	EnsurePermissions(ctx context.Context, perms []Permission) error
	AssignRole(ctx context.Context, userID, roleID string) error
	RevokeRole(ctx context.Context, userID, roleID string) error
	GrantPermission(ctx context.Context, roleID, module, action string) error
	RevokePermission(ctx context.Context, roleID, module, action string) error
	UserIDsWithRole(ctx context.Context, roleID string) ([]string, error)
	PermissionsForUser(ctx context.Context, userID string) ([]Permission, error)
}
