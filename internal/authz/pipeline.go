// Package authz is the ordered chain of checks every API request passes
// before it reaches a handler.
package authz

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"fingate.org/internal/auth"
	"fingate.org/internal/period"
)

// TransactionDateHeader carries the business date of a mutation.
const TransactionDateHeader = "X-Transaction-Date"

// StrictDatesKey is the global setting that makes the period lock check
// today's date when no TransactionDateHeader is sent.
const StrictDatesKey = "period.strict_dates"

// Gate names, in evaluation order.
const (
	GatePublicRoute    = "public-route"
	GateTokenPresence  = "token-presence"
	GateTokenValidity  = "token-validity"
	GatePasswordChange = "password-change"
	GatePeriodLock     = "period-lock"
	GateIdentity       = "identity"
)

var (
	DefaultPublicPrefixes = []string{"/api/auth/login", "/api/public", "/metrics"}
	DefaultExemptPrefixes = []string{"/api/auth", "/api/system"}
)

// TokenVerifier checks bearer tokens.
type TokenVerifier interface {
	Verify(token string) (auth.Claims, error)
}

// PeriodReader exposes the open financial year.
type PeriodReader interface {
	ActiveWindow(ctx context.Context) (*period.Period, error)
	Validate(ctx context.Context, date time.Time) (bool, error)
}

// BoolSettings reads boolean global settings.
type BoolSettings interface {
	GetBool(ctx context.Context, key string, def bool) (bool, error)
}

// Request is the part of an HTTP request the gates look at. Gates may
// fill Token and Identity for later gates.
type Request struct {
	Method   string
	Path     string
	Header   http.Header
	Token    string
	Identity *auth.Identity
}

// Gate is one named check.
type Gate struct {
	Name  string
	Check func(ctx context.Context, req *Request) Outcome
}

// Decision is the result of running the pipeline.
type Decision struct {
	Outcome
	// Gate is the gate that ended evaluation.
	Gate     string
	Identity *auth.Identity
	// Public is set when the public-route gate bypassed the rest.
	Public bool
}

// Config controls route classification.
type Config struct {
	PublicPrefixes []string
	ExemptPrefixes []string
}

// Pipeline evaluates gates in order; the first non-Continue outcome wins.
type Pipeline struct {
	gates    []Gate
	tokens   TokenVerifier
	periods  PeriodReader
	settings BoolSettings
	now      func() time.Time
	public   []string
	exempt   []string
}

type Option func(*Pipeline)

// WithSettings enables the strict-dates setting lookup.
func WithSettings(s BoolSettings) Option {
	return func(p *Pipeline) {
		p.settings = s
	}
}

// WithClock overrides the time source used for "today".
func WithClock(fn func() time.Time) Option {
	return func(p *Pipeline) {
		if fn != nil {
			p.now = fn
		}
	}
}

func New(cfg Config, tokens TokenVerifier, periods PeriodReader, opts ...Option) (*Pipeline, error) {
	if tokens == nil {
		return nil, errors.New("authz: token verifier is required")
	}
	if periods == nil {
		return nil, errors.New("authz: period reader is required")
	}
	p := &Pipeline{
		tokens:  tokens,
		periods: periods,
		now:     time.Now,
		public:  cleanPrefixes(cfg.PublicPrefixes, DefaultPublicPrefixes),
		exempt:  cleanPrefixes(cfg.ExemptPrefixes, DefaultExemptPrefixes),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.gates = []Gate{
		{Name: GatePublicRoute, Check: p.publicRoute},
		{Name: GateTokenPresence, Check: p.tokenPresence},
		{Name: GateTokenValidity, Check: p.tokenValidity},
		{Name: GatePasswordChange, Check: p.passwordChange},
		{Name: GatePeriodLock, Check: p.periodLock},
		{Name: GateIdentity, Check: p.identity},
	}
	return p, nil
}

// Gates returns the gate names in evaluation order.
func (p *Pipeline) Gates() []string {
	names := make([]string, len(p.gates))
	for i, g := range p.gates {
		names[i] = g.Name
	}
	return names
}

// Evaluate runs the gates against req. A canceled context stops
// evaluation before the next gate.
func (p *Pipeline) Evaluate(ctx context.Context, req *Request) Decision {
	for _, g := range p.gates {
		if err := ctx.Err(); err != nil {
			out := Reject(ReasonCanceled, http.StatusServiceUnavailable, MsgCanceled)
			out.Err = err
			return Decision{Outcome: out, Gate: g.Name}
		}
		out := g.Check(ctx, req)
		if out.Verdict == Continue {
			continue
		}
		d := Decision{Outcome: out, Gate: g.Name, Public: g.Name == GatePublicRoute}
		if out.Verdict == Allow {
			d.Identity = req.Identity
		}
		return d
	}
	return Decision{Outcome: Pass(), Identity: req.Identity}
}

func (p *Pipeline) publicRoute(_ context.Context, req *Request) Outcome {
	if hasAnyPrefix(req.Path, p.public) {
		return Pass()
	}
	return Next()
}

func (p *Pipeline) tokenPresence(_ context.Context, req *Request) Outcome {
	token, ok := ExtractBearerToken(req.Header.Get("Authorization"))
	if !ok {
		return Reject(ReasonUnauthenticated, http.StatusUnauthorized, MsgUnauthorized)
	}
	req.Token = token
	return Next()
}

func (p *Pipeline) tokenValidity(_ context.Context, req *Request) Outcome {
	claims, err := p.tokens.Verify(req.Token)
	if err != nil {
		return Reject(ReasonUnauthenticated, http.StatusUnauthorized, MsgInvalidToken)
	}
	req.Identity = &auth.Identity{
		UserID:         claims.UserID,
		Email:          claims.Email,
		MustChangePass: claims.MustChangePass,
	}
	return Next()
}

func (p *Pipeline) passwordChange(_ context.Context, req *Request) Outcome {
	if req.Identity.MustChangePass && !strings.Contains(req.Path, "/change-password") {
		return Reject(ReasonPasswordChangeRequired, http.StatusForbidden, MsgPasswordChangeRequired)
	}
	return Next()
}

func (p *Pipeline) periodLock(ctx context.Context, req *Request) Outcome {
	if !isMutating(req.Method) || hasAnyPrefix(req.Path, p.exempt) {
		return Next()
	}
	active, err := p.periods.ActiveWindow(ctx)
	if err != nil {
		return failClosed(err)
	}
	if active == nil {
		return Reject(ReasonPeriodLocked, http.StatusForbidden, MsgNoOpenYear)
	}

	var date time.Time
	if raw := strings.TrimSpace(req.Header.Get(TransactionDateHeader)); raw != "" {
		date, err = period.ParseDay(raw)
		if err != nil {
			return Reject(ReasonBadRequest, http.StatusBadRequest, MsgBadTransactionDate)
		}
	} else if p.settings != nil {
		strict, err := p.settings.GetBool(ctx, StrictDatesKey, false)
		if err != nil {
			return failClosed(err)
		}
		if !strict {
			return Next()
		}
		date = period.Day(p.now())
	} else {
		return Next()
	}

	ok, err := p.periods.Validate(ctx, date)
	if err != nil {
		return failClosed(err)
	}
	if !ok {
		return Reject(ReasonPeriodLocked, http.StatusForbidden, MsgOutsideOpenYear)
	}
	return Next()
}

func (p *Pipeline) identity(_ context.Context, req *Request) Outcome {
	if req.Identity == nil {
		return Reject(ReasonUnauthenticated, http.StatusUnauthorized, MsgUnauthorized)
	}
	return Pass()
}

// ExtractBearerToken returns the token of a "Bearer <token>" header.
func ExtractBearerToken(header string) (string, bool) {
	const bearer = "bearer "
	header = strings.TrimSpace(header)
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", false
	}
	token := strings.TrimSpace(header[len(bearer):])
	return token, token != ""
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	}
	return false
}

func hasAnyPrefix(path string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func cleanPrefixes(in, def []string) []string {
	var out []string
	for _, p := range in {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return append([]string(nil), def...)
	}
	return out
}
