package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"fingate.org/internal/authz"
	"fingate.org/internal/journal"
	"fingate.org/internal/obs"
	"fingate.org/internal/period"
)

const maxIdempotencyKey = 128

type postEntryRequest struct {
	Date           string `json:"date"`
	Description    string `json:"description"`
	DebitAccount   string `json:"debit_account"`
	CreditAccount  string `json:"credit_account"`
	Currency       string `json:"currency"`
	Amount         int64  `json:"amount"`
	IdempotencyKey string `json:"idempotency_key"`
}

type listEntriesResponse struct {
	Items     []journal.Entry `json:"items"`
	NextAfter uint64          `json:"next_after"`
	AsOf      time.Time       `json:"as_of"`
}

func (a *API) handleJournalEntries(w http.ResponseWriter, r *http.Request) {
	if a.journal == nil {
		writeError(w, r, http.StatusServiceUnavailable, "journal service unavailable")
		return
	}
	switch r.Method {
	case http.MethodPost:
		a.postEntry(w, r)
	case http.MethodGet:
		a.listEntries(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) postEntry(w http.ResponseWriter, r *http.Request) {
	var req postEntryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	idem := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if bodyKey := strings.TrimSpace(req.IdempotencyKey); bodyKey != "" {
		if idem == "" {
			idem = bodyKey
		} else if idem != bodyKey {
			writeError(w, r, http.StatusBadRequest, "Idempotency-Key header and body value must match")
			return
		}
	}
	if len(idem) > maxIdempotencyKey {
		writeError(w, r, http.StatusBadRequest, "Idempotency-Key too long")
		return
	}

	// The body date wins; the transaction date header the gate already
	// checked is the fallback, then today.
	raw := strings.TrimSpace(req.Date)
	if raw == "" {
		raw = strings.TrimSpace(r.Header.Get(authz.TransactionDateHeader))
	}
	var date time.Time
	if raw == "" {
		date = period.Day(time.Now())
		if a.periods != nil {
			date = a.periods.Today()
		}
	} else {
		d, err := period.ParseDay(raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		date = d
	}

	entry, err := a.journal.Post(r.Context(), actorID(r), journal.PostInput{
		Date:           date,
		Description:    req.Description,
		DebitAccount:   req.DebitAccount,
		CreditAccount:  req.CreditAccount,
		Amount:         journal.Money{Currency: req.Currency, Amount: req.Amount},
		IdempotencyKey: idem,
		SourceAddress:  clientIP(r),
	})
	if err != nil {
		handleJournalError(w, r, err)
		return
	}
	if idem != "" {
		w.Header().Set("Idempotency-Key", idem)
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (a *API) listEntries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := parsePositiveInt(q.Get("limit"), 100, 1, 1000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	var after uint64
	if raw := strings.TrimSpace(q.Get("after_seq")); raw != "" {
		after, err = strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "after_seq must be a non-negative integer")
			return
		}
	}

	items, next, err := a.journal.List(r.Context(), actorID(r), limit, after)
	if err != nil {
		handleJournalError(w, r, err)
		return
	}
	if items == nil {
		items = []journal.Entry{}
	}
	writeJSON(w, http.StatusOK, listEntriesResponse{Items: items, NextAfter: next, AsOf: time.Now().UTC()})
}

func parsePositiveInt(raw string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("limit must be an integer")
	}
	if val < min || val > max {
		return 0, errors.New("limit must be between " + strconv.Itoa(min) + " and " + strconv.Itoa(max))
	}
	return val, nil
}

func handleJournalError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, journal.ErrPermissionDenied):
		writeError(w, r, http.StatusForbidden, "Permission denied.")
	case errors.Is(err, journal.ErrPeriodLocked):
		writeError(w, r, http.StatusForbidden, authz.MsgOutsideOpenYear)
	case errors.Is(err, journal.ErrInvalidAmount),
		errors.Is(err, journal.ErrInvalidCurrency),
		errors.Is(err, journal.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, journal.ErrIdempotencyKey):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, journal.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		obs.Error("journal_operation_failed", map[string]any{"error": err})
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
