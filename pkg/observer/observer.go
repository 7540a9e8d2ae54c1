// Package observer receives timed lifecycle events. Observers never return
// errors and must not block the caller for long; wrap slow sinks in an
// AsyncObserver.
package observer

import (
	"context"
	"fmt"
	"time"
)

const (
	EventCreateSuccess    = "integration.create.success"
	EventCreateFailure    = "integration.create.failure"
	EventUpdateSuccess    = "integration.update.success"
	EventUpdateFailure    = "integration.update.failure"
	EventSyncSuccess      = "integration.sync.success"
	EventSyncFailure      = "integration.sync.failure"
	EventSyncBatchFailure = "integration.sync.batch_failure"
)

// Attribute keys.
const (
	AttrTenantID      = "tenant_id"
	AttrIntegrationID = "integration_id"
	AttrProviderType  = "provider_type"
	AttrErrorKind     = "error_kind"
	AttrSuccess       = "success"
	AttrFailed        = "failed"
	AttrBatch         = "batch"
)

type Event struct {
	Name       string         `json:"name"`
	Duration   time.Duration  `json:"-"`
	Attributes map[string]any `json:"attributes"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// DurationMs is the event duration in whole milliseconds.
func (e Event) DurationMs() int64 {
	return e.Duration.Milliseconds()
}

// Attr returns an attribute as a string, or "" when absent.
func (e Event) Attr(key string) string {
	v, ok := e.Attributes[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

type Observer interface {
	Observe(ctx context.Context, event Event)
}

// Func adapts a function to Observer.
type Func func(ctx context.Context, event Event)

func (f Func) Observe(ctx context.Context, event Event) {
	f(ctx, event)
}

type multi []Observer

// Multi fans each event out to every observer in order.
func Multi(observers ...Observer) Observer {
	return multi(observers)
}

func (m multi) Observe(ctx context.Context, event Event) {
	for _, o := range m {
		o.Observe(ctx, event)
	}
}

// Noop discards every event.
var Noop Observer = Func(func(context.Context, Event) {})
