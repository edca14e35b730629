package httpapi

import (
	"net/http"

	"fingate.org/internal/audit"
	"fingate.org/internal/auth"
	"fingate.org/internal/authz"
	"fingate.org/internal/obs"
)

const userIDHeader = "x-user-id"

// withAuth runs the authorization pipeline in front of every route.
func (a *API) withAuth(next http.Handler) http.Handler {
	if a == nil || a.pipeline == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Only the identity gate may set this header.
		r.Header.Del(userIDHeader)
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		req := &authz.Request{Method: r.Method, Path: r.URL.Path, Header: r.Header}
		d := a.pipeline.Evaluate(r.Context(), req)
		switch {
		case d.Verdict == authz.Deny:
			obs.GateRejected(d.Gate)
			fields := map[string]any{
				"gate":       d.Gate,
				"reason":     string(d.Reason),
				"status":     d.Status,
				"method":     r.Method,
				"path":       r.URL.Path,
				"request_id": audit.RequestIDFromContext(r.Context()),
			}
			if d.Err != nil {
				fields["error"] = d.Err
			}
			obs.Warn("request_rejected", fields)
			writeJSON(w, d.Status, map[string]string{"error": d.Message})
			return
		case d.Public || d.Identity == nil:
			next.ServeHTTP(w, r)
			return
		}

		ctx := auth.ContextWithIdentity(r.Context(), *d.Identity)
		ctx = auth.ContextWithToken(ctx, req.Token)
		r = r.WithContext(ctx)
		r.Header.Set(userIDHeader, d.Identity.UserID)
		w.Header().Set(userIDHeader, d.Identity.UserID)
		next.ServeHTTP(w, r)
	})
}
