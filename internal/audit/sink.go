// Package audit persists verdicts to durable storage independent of the
// per-request response path: a verdict is still returned to the caller
// even if every configured sink is failing.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/shortontech/sentry/internal/verdict"
)

// Record is the envelope every audit sink receives: one per terminal
// verdict, i.e. each /api/bot answer (signal evaluator or early reject)
// and each visit-tracker timeout. Header-evaluator verdicts are logged
// only, not recorded.
type Record struct {
	EventID string          `json:"event_id,omitempty"`
	TS      string          `json:"ts,omitempty"` // ISO8601
	IP      string          `json:"ip,omitempty"`
	Route   string          `json:"route,omitempty"` // "/api/bot", "visit-timeout", etc.
	Verdict verdict.Verdict `json:"verdict"`
}

// NewRecord stamps a Record with a fresh event id and the current time.
func NewRecord(ip, route string, v verdict.Verdict) Record {
	return Record{
		EventID: uuid.New().String(),
		TS:      time.Now().UTC().Format(time.RFC3339),
		IP:      ip,
		Route:   route,
		Verdict: v,
	}
}

// Sink is anything that can durably accept Records. Enqueue may buffer
// internally; Close must flush and release resources.
type Sink interface {
	Start(ctx context.Context) error
	Enqueue(r Record) error
	Close() error
	Name() string // Returns the sink name for metrics and logging
}
