package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"fingate.org/internal/audit"
	"fingate.org/internal/auth"
	"fingate.org/internal/authz"
	"fingate.org/internal/journal"
	"fingate.org/internal/period"
	"fingate.org/internal/settings"
)

var fixedNow = time.Date(2026, 6, 15, 10, 0, 0, 0, time.UTC)

type captureSink struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (s *captureSink) Record(_ context.Context, e audit.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
}

func (s *captureSink) actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.Action)
	}
	return out
}

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T

	codec   *auth.TokenCodec
	authSvc *auth.Service
	rbac    *auth.RBACService
	store   *auth.InMemoryStore
	sink    *captureSink
	adminID string
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()
	ctx := context.Background()
	clock := func() time.Time { return fixedNow }
	sink := &captureSink{}

	codec, err := auth.NewTokenCodec("httpapi-test-secret", auth.WithTokenClock(clock))
	if err != nil {
		t.Fatalf("token codec: %v", err)
	}
	store := auth.NewInMemoryStore()
	authSvc, err := auth.NewService(store, codec, auth.WithAudit(sink), auth.WithClock(clock))
	if err != nil {
		t.Fatalf("auth service: %v", err)
	}
	rbac, err := auth.NewRBACService(store)
	if err != nil {
		t.Fatalf("rbac service: %v", err)
	}
	if err := rbac.EnsureBuiltins(ctx); err != nil {
		t.Fatalf("ensure builtins: %v", err)
	}
	periods, err := period.NewGate(period.NewInMemory(), period.WithClock(clock))
	if err != nil {
		t.Fatalf("period gate: %v", err)
	}
	settingsSvc, err := settings.NewService(settings.NewInMemory(), settings.WithAudit(sink), settings.WithClock(clock))
	if err != nil {
		t.Fatalf("settings service: %v", err)
	}
	journalSvc, err := journal.NewService(journal.NewInMemory(), rbac, periods, journal.WithAudit(sink), journal.WithClock(clock))
	if err != nil {
		t.Fatalf("journal service: %v", err)
	}
	pipeline, err := authz.New(authz.Config{}, codec, periods, authz.WithSettings(settingsSvc), authz.WithClock(clock))
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}

	api := New(Deps{
		Version:  "test",
		Pipeline: pipeline,
		Auth:     authSvc,
		RBAC:     rbac,
		Periods:  periods,
		Settings: settingsSvc,
		Journal:  journalSvc,
		Audit:    sink,
	})
	api.rateBurst = 1000
	api.ratePerSec = 1000

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	c := &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		t:       t,
		codec:   codec,
		authSvc: authSvc,
		rbac:    rbac,
		store:   store,
		sink:    sink,
	}
	c.adminID = c.createUser("admin@books.io", true)
	return c
}

// createUser adds an active user, optionally holding every builtin permission.
func (c *apiClient) createUser(email string, admin bool) string {
	c.t.Helper()
	ctx := context.Background()
	u, err := c.authSvc.EnsureUser(ctx, email, "initial-pass-1")
	if err != nil {
		c.t.Fatalf("ensure user: %v", err)
	}
	if !admin {
		return u.ID
	}
	role, err := c.rbac.CreateRole(ctx, "admin-"+u.ID, "all builtins")
	if err != nil {
		c.t.Fatalf("create role: %v", err)
	}
	for _, p := range auth.BuiltinPermissions {
		if err := c.rbac.GrantPermission(ctx, role.ID, p.Module, p.Action); err != nil {
			c.t.Fatalf("grant %s: %v", p.Key(), err)
		}
	}
	if err := c.rbac.AssignRole(ctx, u.ID, role.ID); err != nil {
		c.t.Fatalf("assign role: %v", err)
	}
	return u.ID
}

func (c *apiClient) tokenFor(userID string, mustChange bool) string {
	c.t.Helper()
	tok, _, err := c.codec.Issue(auth.Claims{UserID: userID, Email: userID + "@books.io", MustChangePass: mustChange}, time.Hour)
	if err != nil {
		c.t.Fatalf("issue token: %v", err)
	}
	return tok
}

func (c *apiClient) adminHeaders() map[string]string {
	return map[string]string{"Authorization": "Bearer " + c.tokenFor(c.adminID, false)}
}

func (c *apiClient) do(method, path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	return c.do(http.MethodPost, path, body, headers)
}

func (c *apiClient) get(path string, params url.Values, headers map[string]string) *http.Response {
	c.t.Helper()
	if params != nil {
		path += "?" + params.Encode()
	}
	return c.do(http.MethodGet, path, nil, headers)
}

func (c *apiClient) openYear(start, end string) map[string]any {
	c.t.Helper()
	resp := c.post("/api/system/financial-years", map[string]any{
		"name": "FY " + start, "start_date": start, "end_date": end,
	}, c.adminHeaders())
	if resp.StatusCode != http.StatusCreated {
		c.t.Fatalf("open year: unexpected status %d", resp.StatusCode)
	}
	return decode[map[string]any](c.t, resp)
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		t.Fatalf("expected %d, got %d", want, resp.StatusCode)
	}
}

// expectRejection asserts a pipeline rejection body of exactly {"error": msg}.
func expectRejection(t *testing.T, resp *http.Response, status int, msg string) {
	t.Helper()
	expectStatus(t, resp, status)
	body := decode[map[string]any](t, resp)
	if len(body) != 1 || body["error"] != msg {
		t.Fatalf("expected body {error: %q}, got %v", msg, body)
	}
}

func TestPipelineRejectionMatrix(t *testing.T) {
	api := newTestAPI(t)
	admin := "Bearer " + api.tokenFor(api.adminID, false)

	resp := api.post("/api/invoices", map[string]any{}, nil)
	expectRejection(t, resp, http.StatusUnauthorized, authz.MsgUnauthorized)

	resp = api.post("/api/invoices", map[string]any{}, map[string]string{"Authorization": "Bearer not-a-token"})
	expectRejection(t, resp, http.StatusUnauthorized, authz.MsgInvalidToken)

	resp = api.post("/api/invoices", map[string]any{}, map[string]string{
		"Authorization": "Bearer " + api.tokenFor(api.adminID, true),
	})
	expectRejection(t, resp, http.StatusForbidden, authz.MsgPasswordChangeRequired)

	resp = api.post("/api/invoices", map[string]any{}, map[string]string{"Authorization": admin})
	expectRejection(t, resp, http.StatusForbidden, authz.MsgNoOpenYear)

	// Reads are not period locked.
	resp = api.get("/api/invoices", nil, map[string]string{"Authorization": admin})
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()

	api.openYear("2026-01-01", "2026-12-31")

	resp = api.post("/api/invoices", map[string]any{}, map[string]string{
		"Authorization": admin, authz.TransactionDateHeader: "2025-12-31",
	})
	expectRejection(t, resp, http.StatusForbidden, authz.MsgOutsideOpenYear)

	resp = api.post("/api/invoices", map[string]any{}, map[string]string{
		"Authorization": admin, authz.TransactionDateHeader: "31/12/2026",
	})
	expectRejection(t, resp, http.StatusBadRequest, authz.MsgBadTransactionDate)

	// Admitted requests reach the router, which has no invoices handler.
	resp = api.post("/api/invoices", map[string]any{}, map[string]string{
		"Authorization": admin, authz.TransactionDateHeader: "2026-12-31",
	})
	expectStatus(t, resp, http.StatusNotFound)
	if got := resp.Header.Get("x-user-id"); got != api.adminID {
		t.Fatalf("expected x-user-id %q, got %q", api.adminID, got)
	}
	resp.Body.Close()
}

func TestPublicRoutesSkipAuthentication(t *testing.T) {
	api := newTestAPI(t)

	resp := api.get("/api/public/healthz", nil, nil)
	expectStatus(t, resp, http.StatusOK)
	body := decode[map[string]any](t, resp)
	if body["service"] != serviceName || body["version"] != "test" {
		t.Fatalf("unexpected healthz body: %v", body)
	}

	resp = api.get("/api/public/readyz", nil, nil)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	// A garbage token on a public route is ignored.
	resp = api.get("/metrics", nil, map[string]string{"Authorization": "Bearer junk"})
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()
}

func TestSystemRoutesAreExemptFromPeriodLock(t *testing.T) {
	api := newTestAPI(t)

	// No year is open, yet opening one is a POST under /api/system.
	year := api.openYear("2026-01-01", "2026-12-31")
	if year["is_open"] != true {
		t.Fatalf("expected open year, got %v", year)
	}
}

func TestLoginAndForcedPasswordChange(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/api/auth/login", map[string]any{"email": "admin@books.io", "password": "wrong-pass"}, nil)
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()

	resp = api.post("/api/auth/login", map[string]any{"email": "ADMIN@books.io", "password": "initial-pass-1"}, nil)
	expectStatus(t, resp, http.StatusOK)
	session := decode[map[string]any](t, resp)
	token, _ := session["token"].(string)
	if token == "" {
		t.Fatal("expected token in login response")
	}
	user := session["user"].(map[string]any)
	if user["must_change_pass"] != true {
		t.Fatalf("expected forced password change, got %v", user)
	}
	if _, leaked := user["password_hash"]; leaked {
		t.Fatal("password hash must not be serialised")
	}

	bearer := map[string]string{"Authorization": "Bearer " + token}
	resp = api.get("/api/auth/me", nil, bearer)
	expectRejection(t, resp, http.StatusForbidden, authz.MsgPasswordChangeRequired)

	resp = api.post("/api/auth/change-password", map[string]any{
		"current_password": "initial-pass-1",
		"new_password":     "brand-new-pass-2",
	}, bearer)
	expectStatus(t, resp, http.StatusOK)
	session = decode[map[string]any](t, resp)
	fresh, _ := session["token"].(string)
	if fresh == "" || fresh == token {
		t.Fatal("expected a fresh token after password change")
	}

	resp = api.get("/api/auth/me", nil, map[string]string{"Authorization": "Bearer " + fresh})
	expectStatus(t, resp, http.StatusOK)
	me := decode[map[string]any](t, resp)
	if me["user_id"] != api.adminID || me["must_change_pass"] != false {
		t.Fatalf("unexpected me body: %v", me)
	}
	if perms, _ := me["permissions"].([]any); len(perms) != len(auth.BuiltinPermissions) {
		t.Fatalf("expected %d permissions, got %v", len(auth.BuiltinPermissions), me["permissions"])
	}

	actions := api.sink.actions()
	want := map[string]bool{"LOGIN_FAILED": false, "LOGIN": false, "CHANGE_PASSWORD": false}
	for _, a := range actions {
		if _, ok := want[a]; ok {
			want[a] = true
		}
	}
	for a, seen := range want {
		if !seen {
			t.Fatalf("expected audit action %s, got %v", a, actions)
		}
	}
}

func TestFinancialYearLifecycle(t *testing.T) {
	api := newTestAPI(t)
	headers := api.adminHeaders()

	resp := api.get("/api/system/financial-years/active", nil, headers)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()

	year := api.openYear("2026-01-01", "2026-12-31")
	id := year["id"].(string)

	resp = api.post("/api/system/financial-years", map[string]any{
		"name": "FY 2027", "start_date": "2027-01-01", "end_date": "2027-12-31",
	}, headers)
	expectStatus(t, resp, http.StatusConflict)
	resp.Body.Close()

	resp = api.post("/api/system/financial-years", map[string]any{
		"name": "bad", "start_date": "2027-12-31", "end_date": "2027-01-01",
	}, headers)
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = api.get("/api/system/financial-years/active", nil, headers)
	expectStatus(t, resp, http.StatusOK)
	active := decode[map[string]any](t, resp)
	if active["id"] != id {
		t.Fatalf("unexpected active year: %v", active)
	}

	resp = api.post("/api/system/financial-years/"+id+"/close", nil, headers)
	expectStatus(t, resp, http.StatusOK)
	closed := decode[map[string]any](t, resp)
	if closed["is_open"] != false || closed["closed_at"] == nil {
		t.Fatalf("unexpected closed year: %v", closed)
	}

	resp = api.post("/api/system/financial-years/"+id+"/close", nil, headers)
	expectStatus(t, resp, http.StatusConflict)
	resp.Body.Close()

	resp = api.post("/api/system/financial-years/missing/close", nil, headers)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()

	resp = api.get("/api/system/financial-years", nil, headers)
	expectStatus(t, resp, http.StatusOK)
	list := decode[map[string]any](t, resp)
	if items, _ := list["items"].([]any); len(items) != 1 {
		t.Fatalf("expected 1 year, got %v", list["items"])
	}

	// A fresh year can be opened once the previous one is closed.
	api.openYear("2027-01-01", "2027-12-31")

	actions := api.sink.actions()
	var opened, closedCount int
	for _, a := range actions {
		switch a {
		case "OPEN_FINANCIAL_YEAR":
			opened++
		case "CLOSE_FINANCIAL_YEAR":
			closedCount++
		}
	}
	if opened != 2 || closedCount != 1 {
		t.Fatalf("unexpected audit trail: %v", actions)
	}
}

func TestFinancialYearRequiresPermission(t *testing.T) {
	api := newTestAPI(t)
	clerk := api.createUser("clerk@books.io", false)
	headers := map[string]string{"Authorization": "Bearer " + api.tokenFor(clerk, false)}

	resp := api.post("/api/system/financial-years", map[string]any{
		"name": "FY", "start_date": "2026-01-01", "end_date": "2026-12-31",
	}, headers)
	expectStatus(t, resp, http.StatusForbidden)
	body := decode[map[string]any](t, resp)
	if body["error"] != "Permission denied." {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestStrictDatesSettingChecksToday(t *testing.T) {
	api := newTestAPI(t)
	headers := api.adminHeaders()
	api.openYear("2026-07-01", "2027-06-30")

	// Without the header and with strict dates off, the year being open is enough.
	resp := api.post("/api/invoices", map[string]any{}, headers)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()

	resp = api.do(http.MethodPut, "/api/system/settings/"+settings.KeyStrictDates,
		map[string]any{"value": "true", "type": "BOOLEAN"}, headers)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = api.get("/api/system/settings/"+settings.KeyStrictDates, nil, headers)
	expectStatus(t, resp, http.StatusOK)
	setting := decode[map[string]any](t, resp)
	if setting["value"] != "true" || setting["type"] != "BOOLEAN" {
		t.Fatalf("unexpected setting: %v", setting)
	}

	// Today (2026-06-15) precedes the open year.
	resp = api.post("/api/invoices", map[string]any{}, headers)
	expectRejection(t, resp, http.StatusForbidden, authz.MsgOutsideOpenYear)

	resp = api.do(http.MethodPut, "/api/system/settings/"+settings.KeyStrictDates,
		map[string]any{"value": "yes", "type": "BOOLEAN"}, headers)
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = api.get("/api/system/settings/unknown.key", nil, headers)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestJournalPostingFlow(t *testing.T) {
	api := newTestAPI(t)
	api.openYear("2026-01-01", "2026-12-31")

	headers := api.adminHeaders()
	headers["Idempotency-Key"] = "post-1"
	headers[authz.TransactionDateHeader] = "2026-03-31"
	entry := map[string]any{
		"debit_account":  "1000-cash",
		"credit_account": "4000-revenue",
		"currency":       "usd",
		"amount":         2500,
		"description":    "March sales",
	}

	resp := api.post("/api/journal/entries", entry, headers)
	expectStatus(t, resp, http.StatusCreated)
	if resp.Header.Get("Idempotency-Key") != "post-1" {
		t.Fatal("missing idempotency header echo")
	}
	first := decode[map[string]any](t, resp)
	if first["currency"] != "USD" || first["date"] != "2026-03-31T00:00:00Z" {
		t.Fatalf("unexpected entry: %v", first)
	}

	resp = api.post("/api/journal/entries", entry, headers)
	expectStatus(t, resp, http.StatusCreated)
	replay := decode[map[string]any](t, resp)
	if replay["id"] != first["id"] {
		t.Fatal("idempotent replay returned a different entry")
	}

	changed := map[string]any{}
	for k, v := range entry {
		changed[k] = v
	}
	changed["amount"] = 9999
	resp = api.post("/api/journal/entries", changed, headers)
	expectStatus(t, resp, http.StatusConflict)
	resp.Body.Close()

	var posted []audit.Entry
	api.sink.mu.Lock()
	for _, e := range api.sink.entries {
		if e.Action == "POST_JOURNAL" {
			posted = append(posted, e)
		}
	}
	api.sink.mu.Unlock()
	if len(posted) != 1 {
		t.Fatalf("expected one POST_JOURNAL audit entry, got %d", len(posted))
	}
	if posted[0].SourceAddress != "127.0.0.1" || posted[0].ActorID != api.adminID {
		t.Fatalf("unexpected audit entry: %+v", posted[0])
	}

	// A body date outside the year is refused even when the header passed the gate.
	outside := map[string]any{
		"date":           "2025-12-31",
		"debit_account":  "1000-cash",
		"credit_account": "4000-revenue",
		"currency":       "USD",
		"amount":         100,
	}
	resp = api.post("/api/journal/entries", outside, api.adminHeaders())
	expectStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	resp = api.post("/api/journal/entries", map[string]any{
		"debit_account": "1000-cash", "credit_account": "1000-cash", "currency": "USD", "amount": 100,
	}, api.adminHeaders())
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = api.get("/api/journal/entries", url.Values{"limit": []string{"10"}}, api.adminHeaders())
	expectStatus(t, resp, http.StatusOK)
	page := decode[map[string]any](t, resp)
	if items, _ := page["items"].([]any); len(items) != 1 {
		t.Fatalf("expected 1 entry, got %v", page["items"])
	}
	if page["next_after"] == nil {
		t.Fatal("expected pagination field present")
	}

	resp = api.get("/api/journal/entries", url.Values{"limit": []string{"0"}}, api.adminHeaders())
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	clerk := api.createUser("clerk@books.io", false)
	resp = api.post("/api/journal/entries", entry, map[string]string{
		"Authorization": "Bearer " + api.tokenFor(clerk, false),
	})
	expectStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()
}

func TestUnknownRouteAndMethod(t *testing.T) {
	api := newTestAPI(t)

	resp := api.do(http.MethodDelete, "/api/auth/login", nil, nil)
	expectStatus(t, resp, http.StatusMethodNotAllowed)
	if resp.Header.Get("Allow") != http.MethodPost {
		t.Fatalf("unexpected Allow header %q", resp.Header.Get("Allow"))
	}
	resp.Body.Close()

	resp = api.get("/api/public/nothing-here", nil, nil)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}
