package audit

import (
	"context"
	"strings"
	"sync"
	"time"

	"fingate.org/internal/ids"
	"fingate.org/internal/obs"
)

const (
	defaultBufferSize    = 1024
	defaultAppendTimeout = 5 * time.Second
)

var _ Sink = (*Recorder)(nil)

// Recorder is a fire-and-forget Sink. Entries are queued on a bounded
// channel and persisted by a single background worker; a full queue or a
// store failure drops the entry after logging it.
type Recorder struct {
	store   Store
	timeout time.Duration
	now     func() time.Time

	mu     sync.RWMutex
	closed bool
	inbox  chan Entry
	done   chan struct{}
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithBufferSize sets the queue capacity.
func WithBufferSize(n int) RecorderOption {
	return func(r *Recorder) {
		if n > 0 {
			r.inbox = make(chan Entry, n)
		}
	}
}

// WithAppendTimeout bounds each store write.
func WithAppendTimeout(d time.Duration) RecorderOption {
	return func(r *Recorder) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(fn func() time.Time) RecorderOption {
	return func(r *Recorder) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewRecorder starts the background worker. Call Close to drain it.
func NewRecorder(store Store, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store:   store,
		timeout: defaultAppendTimeout,
		now:     time.Now,
		inbox:   make(chan Entry, defaultBufferSize),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	go r.run()
	return r
}

// Record enqueues e without blocking.
func (r *Recorder) Record(ctx context.Context, e Entry) {
	e.Action = strings.TrimSpace(e.Action)
	if e.Action == "" {
		obs.Warn("audit_entry_rejected", map[string]any{"reason": "action is required"})
		return
	}
	if e.ID == "" {
		e.ID = ids.New()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = r.now().UTC()
	}
	if e.RequestID == "" {
		e.RequestID = RequestIDFromContext(ctx)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.drop(e, "closed", nil)
		return
	}
	select {
	case r.inbox <- e:
	default:
		r.drop(e, "buffer_full", nil)
	}
}

// Close stops accepting entries and waits for the queue to drain or ctx to end.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.inbox)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for e := range r.inbox {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		err := r.store.Append(ctx, e)
		cancel()
		if err != nil {
			r.drop(e, "store_error", err)
		}
	}
}

func (r *Recorder) drop(e Entry, reason string, err error) {
	obs.AuditDropped(reason)
	fields := map[string]any{
		"reason":    reason,
		"audit_id":  e.ID,
		"action":    e.Action,
		"module":    e.Module,
		"actor_id":  e.ActorID,
		"entity_id": e.EntityID,
	}
	if err != nil {
		fields["error"] = err
	}
	obs.Error("audit_write_failed", fields)
}
