package observer

import (
	"context"
	"sync"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/metrics"
)

const DefaultQueueSize = 1024

type queued struct {
	ctx   context.Context
	event Event
}

// AsyncObserver hands events to next on a single background goroutine. When
// the queue is full the event is dropped and counted.
type AsyncObserver struct {
	next   Observer
	logger ectologger.Logger
	queue  chan queued
	done   chan struct{}

	mu      sync.RWMutex
	closed  bool
	dropped func()
}

func NewAsyncObserver(next Observer, queueSize int, logger ectologger.Logger) *AsyncObserver {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	a := &AsyncObserver{
		next:    next,
		logger:  logger,
		queue:   make(chan queued, queueSize),
		done:    make(chan struct{}),
		dropped: metrics.ObserverDroppedTotal.Inc,
	}
	go a.run()
	return a
}

func (a *AsyncObserver) run() {
	defer close(a.done)
	for q := range a.queue {
		a.next.Observe(q.ctx, q.event)
	}
}

// Observe never blocks. The context keeps its values but loses its deadline
// so a finished request does not cancel delivery.
func (a *AsyncObserver) Observe(ctx context.Context, event Event) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}

	select {
	case a.queue <- queued{ctx: context.WithoutCancel(ctx), event: event}:
	default:
		a.dropped()
		a.logger.WithContext(ctx).WithFields(map[string]any{
			"event": event.Name,
		}).Warn("Observer queue full, dropping event")
	}
}

// Close stops accepting events and waits for queued ones to be delivered or
// for ctx to end.
func (a *AsyncObserver) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
