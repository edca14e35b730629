package auth

import (
	"strings"
	"time"
)

// User is an operator account able to sign in to the books.
type User struct {
	ID             string     `json:"id"`
	Email          string     `json:"email"`
	PasswordHash   string     `json:"-"`
	IsActive       bool       `json:"is_active"`
	MustChangePass bool       `json:"must_change_pass"`
	LastLoginAt    *time.Time `json:"last_login_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Role groups permissions.
type Role struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Permission is a (module, action) capability such as INVOICE/CREATE.
type Permission struct {
	ID          string `json:"id"`
	Module      string `json:"module"`
	Action      string `json:"action"`
	Description string `json:"description,omitempty"`
}

// Key returns the MODULE:ACTION form used in caches and listings.
func (p Permission) Key() string {
	return PermissionKey(p.Module, p.Action)
}

// PermissionKey normalises module and action into MODULE:ACTION.
func PermissionKey(module, action string) string {
	return normalizeName(module) + ":" + normalizeName(action)
}

// Assignment gives a user a role.
type Assignment struct {
	UserID    string    `json:"user_id"`
	RoleID    string    `json:"role_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Grant links a role to a permission.
type Grant struct {
	RoleID       string `json:"role_id"`
	PermissionID string `json:"permission_id"`
}

func normalizeName(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
