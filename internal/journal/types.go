package journal

import (
	"errors"
	"time"
)

// Money is represented in minor units (e.g., cents). No floats.
type Money struct {
	Currency string `json:"currency"`
	Amount   int64  `json:"amount"`
}

func (m Money) IsPositive() bool { return m.Amount > 0 }

// Entry is a posted double-entry journal line pair: Amount moves from the
// credit account to the debit account on Date.
type Entry struct {
	ID             string    `json:"id"`
	Date           time.Time `json:"date"`
	Description    string    `json:"description,omitempty"`
	DebitAccount   string    `json:"debit_account"`
	CreditAccount  string    `json:"credit_account"`
	Currency       string    `json:"currency"`
	Amount         int64     `json:"amount"` // minor units
	CreatedBy      string    `json:"created_by"`
	CreatedAt      time.Time `json:"created_at"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	Sequence       uint64    `json:"sequence"` // monotonic sequence number
}

// PostInput is what a caller submits to post an entry.
type PostInput struct {
	Date           time.Time
	Description    string
	DebitAccount   string
	CreditAccount  string
	Amount         Money
	IdempotencyKey string
	// SourceAddress is the client address recorded on the audit entry.
	SourceAddress string
}

// sameRequest reports whether a replayed entry was posted with the same
// payload as e.
func (e Entry) sameRequest(other Entry) bool {
	return e.Date.Equal(other.Date) &&
		e.Description == other.Description &&
		e.DebitAccount == other.DebitAccount &&
		e.CreditAccount == other.CreditAccount &&
		e.Currency == other.Currency &&
		e.Amount == other.Amount
}

var (
	ErrNotFound         = errors.New("journal: not found")
	ErrInvalidAmount    = errors.New("journal: invalid amount (must be > 0)")
	ErrInvalidCurrency  = errors.New("journal: invalid currency")
	ErrInvalidInput     = errors.New("journal: invalid input")
	ErrPermissionDenied = errors.New("journal: permission denied")
	ErrPeriodLocked     = errors.New("journal: date is outside the open financial year")
	ErrIdempotencyKey   = errors.New("journal: idempotency key reused with a different payload")
)
