package gateway

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ParseRetryAfter reads a Retry-After value given either as delay seconds or
// as an HTTP date.
func ParseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	at, err := http.ParseTime(value)
	if err != nil {
		return 0, false
	}
	wait := at.Sub(now)
	if wait < 0 {
		wait = 0
	}
	return wait, true
}

// retryAfterError asks execute to wait and replay the call once. err is what
// the caller sees if the replay is throttled again.
type retryAfterError struct {
	wait time.Duration
	err  error
}

func (e *retryAfterError) Error() string {
	return e.err.Error()
}

func (e *retryAfterError) Unwrap() error {
	return e.err
}

// throttled turns a 429 into err, or into a replay request when the
// provider said how long to back off and that fits under MaxRetryAfter.
func (g *Gateway) throttled(header http.Header, err error) error {
	if header == nil {
		return err
	}
	wait, ok := ParseRetryAfter(header.Get("Retry-After"), g.now())
	if !ok || wait > g.cfg.MaxRetryAfter {
		return err
	}
	return &retryAfterError{wait: wait, err: err}
}
