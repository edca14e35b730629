package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"fingate.org/internal/audit"
	"fingate.org/internal/auth"
	"fingate.org/internal/authz"
	"fingate.org/internal/journal"
	"fingate.org/internal/obs"
	"fingate.org/internal/period"
	"fingate.org/internal/settings"
)

const (
	serviceName     = "fingate-api"
	defaultMaxBody  = 1 << 20
	defaultBurst    = 20
	defaultPerSec   = 10
	maxJSONBodySize = defaultMaxBody
)

// ReadyProbe reports readiness, typically by pinging the database.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Deps are the services the HTTP layer dispatches to.
type Deps struct {
	Ready    ReadyProbe
	Version  string
	Pipeline *authz.Pipeline
	Auth     *auth.Service
	RBAC     *auth.RBACService
	Periods  *period.Gate
	Settings *settings.Service
	Journal  *journal.Service
	Audit    audit.Sink
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	pipeline *authz.Pipeline
	auth     *auth.Service
	rbac     *auth.RBACService
	periods  *period.Gate
	settings *settings.Service
	journal  *journal.Service
	sink     audit.Sink

	rateBurst  int
	ratePerSec int
	maxBody    int64
}

func New(d Deps) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: d.Ready,
		version:    d.Version,
		pipeline:   d.Pipeline,
		auth:       d.Auth,
		rbac:       d.RBAC,
		periods:    d.Periods,
		settings:   d.Settings,
		journal:    d.Journal,
		sink:       d.Audit,
		rateBurst:  defaultBurst,
		ratePerSec: defaultPerSec,
		maxBody:    defaultMaxBody,
	}
	if a.sink == nil {
		a.sink = audit.Discard
	}

	a.mux.HandleFunc("/api/public/healthz", a.Healthz)
	a.mux.HandleFunc("/api/public/readyz", a.Ready)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/api/auth/login", a.handleLogin)
	a.mux.HandleFunc("/api/auth/change-password", a.handleChangePassword)
	a.mux.HandleFunc("/api/auth/me", a.handleMe)

	a.mux.HandleFunc("/api/system/financial-years", a.handleFinancialYears)
	a.mux.HandleFunc("/api/system/financial-years/active", a.handleActiveFinancialYear)
	a.mux.HandleFunc("/api/system/financial-years/{id}/close", a.handleCloseFinancialYear)
	a.mux.HandleFunc("/api/system/settings/{key}", a.handleSetting)

	a.mux.HandleFunc("/api/system/roles", a.handleRoles)
	a.mux.HandleFunc("/api/system/roles/{id}/permissions", a.handleRolePermissions)
	a.mux.HandleFunc("/api/system/users/{id}/roles", a.handleUserRoles)
	a.mux.HandleFunc("/api/system/users/{id}/roles/{roleID}", a.handleUserRole)

	a.mux.HandleFunc("/api/journal/entries", a.handleJournalEntries)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})

	return a
}

// Handler wraps the mux in the middleware chain. Authorization runs
// innermost so rejections are still logged, counted and rate limited.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = MaxBodyBytes(h, a.maxBody)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// ensurePermission writes 403 and returns false unless the caller holds
// module/action.
func (a *API) ensurePermission(w http.ResponseWriter, r *http.Request, module, action string) bool {
	userID := actorID(r)
	if userID == "" {
		writeError(w, r, http.StatusUnauthorized, authz.MsgUnauthorized)
		return false
	}
	if a.rbac == nil {
		writeError(w, r, http.StatusServiceUnavailable, "rbac service unavailable")
		return false
	}
	ok, err := a.rbac.HasPermission(r.Context(), userID, module, action)
	if err != nil {
		obs.Error("permission_check_failed", map[string]any{
			"user_id": userID, "module": module, "action": action, "error": err,
		})
		writeError(w, r, http.StatusInternalServerError, authz.MsgCheckFailed)
		return false
	}
	if !ok {
		writeError(w, r, http.StatusForbidden, "Permission denied.")
		return false
	}
	return true
}

func (a *API) audit(r *http.Request, action, module, entityID string, before, after any) {
	a.sink.Record(r.Context(), audit.Entry{
		ActorID:       actorID(r),
		Action:        action,
		Module:        module,
		EntityID:      entityID,
		Before:        before,
		After:         after,
		SourceAddress: clientIP(r),
	})
}

// --- helpers ---

func actorID(r *http.Request) string {
	id, _ := auth.UserIDFromContext(r.Context())
	return id
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes {"error": msg}, plus request_id when one is known.
func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	body := map[string]any{"error": msg}
	if r != nil {
		if id := audit.RequestIDFromContext(r.Context()); id != "" {
			body["request_id"] = id
		}
	}
	writeJSON(w, code, body)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if dec.More() {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}
