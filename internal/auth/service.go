package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"fingate.org/internal/audit"
	"fingate.org/internal/obs"
)

// dummyHash keeps the cost of a failed lookup close to a failed comparison.
const dummyHash = "$2a$10$7EqJtq98hPqEX7fNZaFWoOhi5BWX4Z3n1zGq0Yx8yqJ6H7b6yVQxK"

// Service authenticates users and manages their credentials.
type Service struct {
	users    UserStore
	tokens   *TokenCodec
	audit    audit.Sink
	now      func() time.Time
	tokenTTL time.Duration
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithAudit sets the sink receiving LOGIN and CHANGE_PASSWORD events.
func WithAudit(sink audit.Sink) ServiceOption {
	return func(s *Service) {
		if sink != nil {
			s.audit = sink
		}
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithTokenTTL configures access token lifetime.
func WithTokenTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.tokenTTL = ttl
		}
	}
}

func NewService(users UserStore, tokens *TokenCodec, opts ...ServiceOption) (*Service, error) {
	if users == nil {
		return nil, errors.New("user store is required")
	}
	if tokens == nil {
		return nil, ErrMissingSecret
	}
	s := &Service{
		users:    users,
		tokens:   tokens,
		audit:    audit.Discard,
		now:      time.Now,
		tokenTTL: DefaultTokenTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Session is the outcome of a successful login or password change.
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      User      `json:"user"`
}

// Login verifies credentials and issues an access token. Unknown email,
// inactive account and wrong password all return ErrUnauthorized.
func (s *Service) Login(ctx context.Context, email, password, sourceAddr string) (Session, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return Session{}, ErrUnauthorized
	}
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return Session{}, err
		}
		CheckPassword(dummyHash, password)
		s.recordFailure(ctx, "", sourceAddr, "unknown_email")
		return Session{}, ErrUnauthorized
	}
	if !user.IsActive {
		s.recordFailure(ctx, user.ID, sourceAddr, "inactive")
		return Session{}, ErrUnauthorized
	}
	if !CheckPassword(user.PasswordHash, password) {
		s.recordFailure(ctx, user.ID, sourceAddr, "bad_password")
		return Session{}, ErrUnauthorized
	}

	session, err := s.issue(*user)
	if err != nil {
		return Session{}, err
	}

	s.audit.Record(ctx, audit.Entry{
		ActorID:       user.ID,
		Action:        "LOGIN",
		Module:        ModuleAuth,
		SourceAddress: sourceAddr,
	})

	now := s.now().UTC()
	if err := s.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		obs.Warn("update_last_login_failed", map[string]any{"user_id": user.ID, "error": err})
	} else {
		session.User.LastLoginAt = &now
	}
	return session, nil
}

// ChangePassword replaces the user's password, clears the forced-change
// flag and returns a fresh session reflecting the cleared flag.
func (s *Service) ChangePassword(ctx context.Context, userID, currentPassword, newPassword, sourceAddr string) (Session, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Session{}, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	if err := validateNewPassword(newPassword); err != nil {
		return Session{}, err
	}
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Session{}, ErrUnauthorized
		}
		return Session{}, err
	}
	if !user.IsActive || !CheckPassword(user.PasswordHash, currentPassword) {
		return Session{}, ErrUnauthorized
	}
	if currentPassword == newPassword {
		return Session{}, fmt.Errorf("%w: new password must differ from the current one", ErrInvalidInput)
	}

	hash, err := HashPassword(newPassword)
	if err != nil {
		return Session{}, err
	}
	if err := s.users.UpdatePasswordHash(ctx, user.ID, hash); err != nil {
		return Session{}, err
	}
	user.PasswordHash = hash
	user.MustChangePass = false

	s.audit.Record(ctx, audit.Entry{
		ActorID:       user.ID,
		Action:        "CHANGE_PASSWORD",
		Module:        ModuleAuth,
		SourceAddress: sourceAddr,
	})
	return s.issue(*user)
}

// EnsureUser creates a user with a forced password change if the email is unknown.
func (s *Service) EnsureUser(ctx context.Context, email, password string) (User, error) {
	email = normalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return User{}, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	existing, err := s.users.FindByEmail(ctx, email)
	if err == nil {
		return *existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return User{}, err
	}
	hash, err := HashPassword(password)
	if err != nil {
		return User{}, err
	}
	u := User{Email: email, PasswordHash: hash, IsActive: true, MustChangePass: true}
	if err := s.users.Create(ctx, &u); err != nil {
		return User{}, err
	}
	return u, nil
}

func (s *Service) issue(user User) (Session, error) {
	token, exp, err := s.tokens.Issue(Claims{
		UserID:         user.ID,
		Email:          user.Email,
		MustChangePass: user.MustChangePass,
	}, s.tokenTTL)
	if err != nil {
		return Session{}, err
	}
	return Session{Token: token, ExpiresAt: exp, User: user}, nil
}

func (s *Service) recordFailure(ctx context.Context, userID, sourceAddr, reason string) {
	s.audit.Record(ctx, audit.Entry{
		ActorID:       userID,
		Action:        "LOGIN_FAILED",
		Module:        ModuleAuth,
		SourceAddress: sourceAddr,
		After:         map[string]string{"reason": reason},
	})
}
