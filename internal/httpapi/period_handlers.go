package httpapi

import (
	"errors"
	"net/http"

	"fingate.org/internal/auth"
	"fingate.org/internal/obs"
	"fingate.org/internal/period"
)

type openFinancialYearRequest struct {
	Name      string `json:"name"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

func (a *API) handleFinancialYears(w http.ResponseWriter, r *http.Request) {
	if a.periods == nil {
		writeError(w, r, http.StatusServiceUnavailable, "period service unavailable")
		return
	}
	switch r.Method {
	case http.MethodGet:
		if !a.ensurePermission(w, r, auth.ModuleFinancialYear, auth.ActionRead) {
			return
		}
		years, err := a.periods.List(r.Context())
		if err != nil {
			handlePeriodError(w, r, err)
			return
		}
		if years == nil {
			years = []period.Period{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": years})
	case http.MethodPost:
		a.openFinancialYear(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) openFinancialYear(w http.ResponseWriter, r *http.Request) {
	if !a.ensurePermission(w, r, auth.ModuleFinancialYear, auth.ActionCreate) {
		return
	}
	var req openFinancialYearRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	start, err := period.ParseDay(req.StartDate)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "start_date must be YYYY-MM-DD")
		return
	}
	end, err := period.ParseDay(req.EndDate)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "end_date must be YYYY-MM-DD")
		return
	}
	p, err := a.periods.OpenNew(r.Context(), req.Name, start, end)
	if err != nil {
		handlePeriodError(w, r, err)
		return
	}
	a.audit(r, "OPEN_FINANCIAL_YEAR", auth.ModuleFinancialYear, p.ID, nil, p)
	w.Header().Set("Location", "/api/system/financial-years/"+p.ID)
	writeJSON(w, http.StatusCreated, p)
}

func (a *API) handleActiveFinancialYear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if a.periods == nil {
		writeError(w, r, http.StatusServiceUnavailable, "period service unavailable")
		return
	}
	p, err := a.periods.ActiveWindow(r.Context())
	if err != nil {
		handlePeriodError(w, r, err)
		return
	}
	if p == nil {
		writeError(w, r, http.StatusNotFound, "No open financial year.")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) handleCloseFinancialYear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if a.periods == nil {
		writeError(w, r, http.StatusServiceUnavailable, "period service unavailable")
		return
	}
	if !a.ensurePermission(w, r, auth.ModuleFinancialYear, auth.ActionClose) {
		return
	}
	p, err := a.periods.Close(r.Context(), r.PathValue("id"))
	if err != nil {
		handlePeriodError(w, r, err)
		return
	}
	a.audit(r, "CLOSE_FINANCIAL_YEAR", auth.ModuleFinancialYear, p.ID,
		map[string]bool{"is_open": true}, p)
	writeJSON(w, http.StatusOK, p)
}

func handlePeriodError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, period.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, period.ErrAlreadyOpen), errors.Is(err, period.ErrAlreadyClosed):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, period.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		obs.Error("period_operation_failed", map[string]any{"error": err})
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
