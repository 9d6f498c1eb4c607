// Package telemetry records rate-limit events (local budget exhaustion and
// partner 429 answers) so operators can inspect them later.
package telemetry

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	// ReasonBudgetExhausted is reported when the local tenant budget stayed empty
	ReasonBudgetExhausted = "budget_exhausted"
	// ReasonUpstream429 is reported when the partner answered 429
	ReasonUpstream429 = "upstream_429"
)

// Event is one rate-limit incident
type Event struct {
	ID         string    `json:"id"`
	Tenant     string    `json:"tenant"`
	Endpoint   string    `json:"endpoint"`
	Component  string    `json:"component"`
	Priority   string    `json:"priority,omitempty"`
	Reason     string    `json:"reason"`
	StatusCode int       `json:"status_code,omitempty"`
	At         time.Time `json:"at"`
}

// Sink receives rate-limit events. Report never fails the caller.
type Sink interface {
	Report(ctx context.Context, ev Event)
}

// Reader lists recent events, newest first. An empty tenant lists all tenants.
type Reader interface {
	Recent(ctx context.Context, tenant string, limit int) ([]Event, error)
}

// Store is a sink whose events can be read back
type Store interface {
	Sink
	Reader
}

// normalize fills the id and timestamp of an event
func normalize(ev Event) Event {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	return ev
}

// Fanout reports every event to all sinks
type Fanout []Sink

// Report implements Sink
func (f Fanout) Report(ctx context.Context, ev Event) {
	ev = normalize(ev)
	for _, s := range f {
		if s != nil {
			s.Report(ctx, ev)
		}
	}
}
