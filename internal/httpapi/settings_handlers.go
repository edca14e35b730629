package httpapi

import (
	"errors"
	"net/http"

	"fingate.org/internal/auth"
	"fingate.org/internal/obs"
	"fingate.org/internal/settings"
)

type putSettingRequest struct {
	Value string `json:"value"`
	Type  string `json:"type"`
}

func (a *API) handleSetting(w http.ResponseWriter, r *http.Request) {
	if a.settings == nil {
		writeError(w, r, http.StatusServiceUnavailable, "settings service unavailable")
		return
	}
	key := r.PathValue("key")
	switch r.Method {
	case http.MethodGet:
		s, err := a.settings.Get(r.Context(), key)
		if err != nil {
			handleSettingsError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, s)
	case http.MethodPut:
		if !a.ensurePermission(w, r, auth.ModuleSettings, auth.ActionUpdate) {
			return
		}
		var req putSettingRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		s, err := a.settings.Set(r.Context(), actorID(r), key, req.Value, req.Type)
		if err != nil {
			handleSettingsError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, s)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut)
	}
}

func handleSettingsError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, settings.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, settings.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		obs.Error("settings_operation_failed", map[string]any{"error": err})
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
