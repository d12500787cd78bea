// Package audit records authoring actions best-effort: audit writes must
// never fail a save.
package audit

import (
	"context"
	"log/slog"
	"time"
)

// Event is one recorded authoring action.
type Event struct {
	At       time.Time
	Action   string
	TenantID string
	QuoteID  string
	OptionID string
	Detail   string
}

// Sink persists audit events.
type Sink interface {
	Record(ctx context.Context, e Event) error
}

// Trail wraps a Sink with fire-and-forget semantics.
type Trail struct {
	sink Sink
	log  *slog.Logger
}

// NewTrail creates a Trail. A nil sink produces a trail that drops events.
func NewTrail(sink Sink, log *slog.Logger) *Trail {
	if log == nil {
		log = slog.Default()
	}
	return &Trail{sink: sink, log: log}
}

// FireAndForget records the event, swallowing any sink failure. Failures are
// logged at warn level and are non-fatal to the caller.
func (t *Trail) FireAndForget(ctx context.Context, e Event) {
	if t == nil || t.sink == nil {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	if err := t.sink.Record(ctx, e); err != nil {
		t.log.Warn("audit record failed",
			"action", e.Action, "quote_id", e.QuoteID, "error", err)
	}
}
