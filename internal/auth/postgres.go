package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"fingate.org/internal/ids"
)

var (
	_ UserStore = (*PGStore)(nil)
	_ RBACStore = (*PGStore)(nil)
)

const uniqueViolation = "23505"

// PGStore implements UserStore and RBACStore using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func mapPGError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrConflict
	}
	return err
}

// Users --------------------------------------------------------------------

const userColumns = `id, email, password_hash, is_active, must_change_pass, last_login_at, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var (
		u         User
		lastLogin sql.NullTime
	)
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.IsActive, &u.MustChangePass, &lastLogin, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		u.LastLoginAt = &t
	}
	return &u, nil
}

func (s *PGStore) Create(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	u.Email = normalizeEmail(u.Email)
	row := s.db.QueryRowContext(ctx,
		`insert into users(id, email, password_hash, is_active, must_change_pass)
		 values($1,$2,$3,$4,$5) returning created_at, updated_at`,
		u.ID, u.Email, u.PasswordHash, u.IsActive, u.MustChangePass,
	)
	if err := row.Scan(&u.CreatedAt, &u.UpdatedAt); err != nil {
		return mapPGError(err)
	}
	return nil
}

func (s *PGStore) FindByID(ctx context.Context, id string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where id=$1`, id))
}

func (s *PGStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where email=$1`, normalizeEmail(email)))
}

func (s *PGStore) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	return execOne(s.db.ExecContext(ctx,
		`update users set last_login_at=$2 where id=$1`, id, at))
}

func (s *PGStore) UpdatePasswordHash(ctx context.Context, id, passwordHash string) error {
	return execOne(s.db.ExecContext(ctx,
		`update users set password_hash=$2, must_change_pass=false, updated_at=now() where id=$1`,
		id, passwordHash))
}

func execOne(res sql.Result, err error) error {
	if err != nil {
		return mapPGError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// RBAC ---------------------------------------------------------------------

func (s *PGStore) RoleIDsForUser(ctx context.Context, userID string) ([]string, error) {
	return queryStrings(ctx, s.db,
		`select role_id from user_roles where user_id=$1 order by role_id`, userID)
}

func (s *PGStore) CountGrants(ctx context.Context, roleIDs []string, module, action string) (int, error) {
	if len(roleIDs) == 0 {
		return 0, nil
	}
	args := []any{normalizeName(module), normalizeName(action)}
	placeholders := make([]string, 0, len(roleIDs))
	for _, id := range roleIDs {
		args = append(args, id)
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
	}
	query := `select count(*) from role_permissions rp
		join permissions p on p.id = rp.permission_id
		where p.module=$1 and p.action=$2 and rp.role_id in (` + strings.Join(placeholders, ",") + `)`

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *PGStore) CreateRole(ctx context.Context, role *Role) error {
	if role.ID == "" {
		role.ID = ids.New()
	}
	row := s.db.QueryRowContext(ctx,
		`insert into roles(id, name, description) values($1,$2,$3) returning created_at`,
		role.ID, role.Name, role.Description,
	)
	if err := row.Scan(&role.CreatedAt); err != nil {
		return mapPGError(err)
	}
	return nil
}

func (s *PGStore) EnsurePermissions(ctx context.Context, perms []Permission) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, p := range perms {
		if p.ID == "" {
			p.ID = ids.New()
		}
		_, err := tx.ExecContext(ctx,
			`insert into permissions(id, module, action, description) values($1,$2,$3,$4)
			 on conflict (module, action) do nothing`,
			p.ID, normalizeName(p.Module), normalizeName(p.Action), p.Description,
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *PGStore) AssignRole(ctx context.Context, userID, roleID string) error {
	_, err := s.db.ExecContext(ctx,
		`insert into user_roles(user_id, role_id) values($1,$2) on conflict do nothing`,
		userID, roleID,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return ErrNotFound
	}
	return err
}

func (s *PGStore) RevokeRole(ctx context.Context, userID, roleID string) error {
	return execOne(s.db.ExecContext(ctx,
		`delete from user_roles where user_id=$1 and role_id=$2`, userID, roleID))
}

func (s *PGStore) GrantPermission(ctx context.Context, roleID, module, action string) error {
	var permID string
	err := s.db.QueryRowContext(ctx,
		`select id from permissions where module=$1 and action=$2`,
		normalizeName(module), normalizeName(action),
	).Scan(&permID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`insert into role_permissions(role_id, permission_id) values($1,$2) on conflict do nothing`,
		roleID, permID,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return ErrNotFound
	}
	return err
}

func (s *PGStore) RevokePermission(ctx context.Context, roleID, module, action string) error {
	return execOne(s.db.ExecContext(ctx,
		`delete from role_permissions rp using permissions p
		 where rp.permission_id=p.id and rp.role_id=$1 and p.module=$2 and p.action=$3`,
		roleID, normalizeName(module), normalizeName(action)))
}

func (s *PGStore) UserIDsWithRole(ctx context.Context, roleID string) ([]string, error) {
	return queryStrings(ctx, s.db,
		`select user_id from user_roles where role_id=$1 order by user_id`, roleID)
}

func (s *PGStore) PermissionsForUser(ctx context.Context, userID string) ([]Permission, error) {
	rows, err := s.db.QueryContext(ctx,
		`select distinct p.id, p.module, p.action, p.description from permissions p
		 join role_permissions rp on rp.permission_id=p.id
		 join user_roles ur on ur.role_id=rp.role_id
		 where ur.user_id=$1 order by p.module, p.action`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Module, &p.Action, &p.Description); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

func queryStrings(ctx context.Context, db *sql.DB, query string, args ...any) ([]string, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
