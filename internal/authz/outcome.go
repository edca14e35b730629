package authz

import "net/http"

// Verdict is the kind of result a gate produces.
type Verdict int

const (
	// Continue hands the request to the next gate.
	Continue Verdict = iota
	// Allow ends evaluation and lets the request through.
	Allow
	// Deny ends evaluation and rejects the request.
	Deny
)

// Reason classifies a rejection.
type Reason string

const (
	ReasonUnauthenticated        Reason = "unauthenticated"
	ReasonPasswordChangeRequired Reason = "password_change_required"
	ReasonPeriodLocked           Reason = "period_locked"
	ReasonBadRequest             Reason = "bad_request"
	ReasonCanceled               Reason = "canceled"
	ReasonInternal               Reason = "internal"
)

// Rejection messages written to clients.
const (
	MsgUnauthorized           = "Unauthorized"
	MsgInvalidToken           = "Invalid Token"
	MsgPasswordChangeRequired = "Password change required."
	MsgNoOpenYear             = "No Open Financial Year Found. Transactions Blocked."
	MsgOutsideOpenYear        = "Transaction date is outside the open financial year."
	MsgBadTransactionDate     = "Invalid X-Transaction-Date header, expected YYYY-MM-DD."
	MsgCheckFailed            = "Authorization check failed"
	MsgCanceled               = "Request canceled"
)

// Outcome is the tagged result of one gate.
type Outcome struct {
	Verdict Verdict
	Reason  Reason
	Status  int
	Message string
	// Err is the store error behind an internal rejection. Never sent to clients.
	Err error
}

// Next passes the request to the following gate.
func Next() Outcome { return Outcome{Verdict: Continue} }

// Pass ends evaluation successfully.
func Pass() Outcome { return Outcome{Verdict: Allow} }

// Reject ends evaluation with an HTTP status and client message.
func Reject(reason Reason, status int, message string) Outcome {
	return Outcome{Verdict: Deny, Reason: reason, Status: status, Message: message}
}

// failClosed turns a store error inside a gate into a rejection.
func failClosed(err error) Outcome {
	out := Reject(ReasonInternal, http.StatusInternalServerError, MsgCheckFailed)
	out.Err = err
	return out
}
