package gateway

import (
	"sync"
	"time"
)

const windowBuckets = 10

type windowBucket struct {
	epoch    int64
	requests uint32
	failures uint32
}

// rollingWindow counts call outcomes over the trailing span in fixed-width
// buckets, so a failure burst straddling a bucket boundary still counts in full.
type rollingWindow struct {
	mu      sync.Mutex
	width   time.Duration
	now     func() time.Time
	buckets [windowBuckets]windowBucket
}

func newRollingWindow(span time.Duration, now func() time.Time) *rollingWindow {
	width := span / windowBuckets
	if width <= 0 {
		width = time.Millisecond
	}
	return &rollingWindow{width: width, now: now}
}

func (w *rollingWindow) epoch() int64 {
	return w.now().UnixNano() / int64(w.width)
}

func (w *rollingWindow) record(success bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	epoch := w.epoch()
	b := &w.buckets[epoch%windowBuckets]
	if b.epoch != epoch {
		*b = windowBucket{epoch: epoch}
	}
	b.requests++
	if !success {
		b.failures++
	}
}

// counts sums the buckets still inside the span.
func (w *rollingWindow) counts() (requests, failures uint32) {
	w.mu.Lock()
	defer w.mu.Unlock()

	epoch := w.epoch()
	for _, b := range w.buckets {
		if b.epoch > epoch-windowBuckets && b.epoch <= epoch {
			requests += b.requests
			failures += b.failures
		}
	}
	return requests, failures
}

func (w *rollingWindow) reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buckets = [windowBuckets]windowBucket{}
}
