package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultIssuer = "fingate"

	// DefaultTokenTTL is the lifetime of access tokens issued at login.
	DefaultTokenTTL = 8 * time.Hour
)

// Claims is the fixed payload carried by access tokens.
type Claims struct {
	UserID         string `json:"userId"`
	Email          string `json:"email"`
	MustChangePass bool   `json:"mustChangePass"`
}

type tokenClaims struct {
	Claims
	jwt.RegisteredClaims
}

// TokenCodec signs and verifies HS256 bearer tokens with an injected secret.
type TokenCodec struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// TokenOption configures a TokenCodec.
type TokenOption func(*TokenCodec)

// WithIssuer overrides the iss claim written and required by the codec.
func WithIssuer(issuer string) TokenOption {
	return func(c *TokenCodec) {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			c.issuer = issuer
		}
	}
}

// WithDefaultTTL sets the lifetime used when Issue is called with ttl <= 0.
func WithDefaultTTL(ttl time.Duration) TokenOption {
	return func(c *TokenCodec) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithTokenClock overrides the time source (tests).
func WithTokenClock(fn func() time.Time) TokenOption {
	return func(c *TokenCodec) {
		if fn != nil {
			c.now = fn
		}
	}
}

// NewTokenCodec builds a codec. The secret is required; there is no fallback.
func NewTokenCodec(secret string, opts ...TokenOption) (*TokenCodec, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrMissingSecret
	}
	c := &TokenCodec{
		secret: []byte(secret),
		issuer: defaultIssuer,
		ttl:    DefaultTokenTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Issue signs claims with iat=now and exp=now+ttl. A non-positive ttl uses
// the codec default.
func (c *TokenCodec) Issue(claims Claims, ttl time.Duration) (string, time.Time, error) {
	claims.UserID = strings.TrimSpace(claims.UserID)
	if claims.UserID == "" {
		return "", time.Time{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if ttl <= 0 {
		ttl = c.ttl
	}
	now := c.now().UTC()
	exp := now.Add(ttl)
	tc := tokenClaims{
		Claims: claims,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   claims.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, tc).SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, tc.ExpiresAt.Time, nil
}

// Verify checks signature, algorithm, issuer, expiry and payload shape.
// Every failure collapses to ErrInvalidToken.
func (c *TokenCodec) Verify(token string) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, ErrInvalidToken
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(c.now),
	)
	var tc tokenClaims
	parsed, err := parser.ParseWithClaims(token, &tc, func(*jwt.Token) (any, error) {
		return c.secret, nil
	})
	if err != nil || !parsed.Valid {
		return Claims{}, ErrInvalidToken
	}
	if err := validateShape(&tc); err != nil {
		return Claims{}, ErrInvalidToken
	}
	return tc.Claims, nil
}

func validateShape(tc *tokenClaims) error {
	if strings.TrimSpace(tc.UserID) == "" {
		return errors.New("userId missing")
	}
	if tc.Subject != "" && tc.Subject != tc.UserID {
		return errors.New("subject mismatch")
	}
	if tc.IssuedAt == nil {
		return errors.New("issued-at missing")
	}
	if tc.ExpiresAt.Time.Before(tc.IssuedAt.Time) {
		return errors.New("token expiry precedes issued-at")
	}
	return nil
}
