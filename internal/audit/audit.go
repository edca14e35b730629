package audit

import (
	"context"
	"strings"
	"time"
)

// Entry is a write-once record of a security or state-changing event.
type Entry struct {
	ID            string    `json:"id"`
	OccurredAt    time.Time `json:"occurred_at"`
	ActorID       string    `json:"actor_id,omitempty"`
	Action        string    `json:"action"`
	Module        string    `json:"module"`
	EntityID      string    `json:"entity_id,omitempty"`
	Before        any       `json:"before,omitempty"`
	After         any       `json:"after,omitempty"`
	SourceAddress string    `json:"source_address,omitempty"`
	RequestID     string    `json:"request_id,omitempty"`
}

// Sink accepts audit entries. Record never reports failure to the caller.
type Sink interface {
	Record(ctx context.Context, e Entry)
}

// Store persists entries. Implementations may fail; Sinks absorb the failure.
type Store interface {
	Append(ctx context.Context, e Entry) error
}

// Discard is a Sink that drops everything.
var Discard Sink = discard{}

type discard struct{}

func (discard) Record(context.Context, Entry) {}

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext returns the request identifier, if any.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}
