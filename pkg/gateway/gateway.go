// Package gateway talks to CRM providers. Every outbound call goes through the
// provider's shared circuit breaker and rate limiter.
package gateway

import (
	"net/http"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/jellydator/ttlcache/v3"

	"github.com/Ramsey-B/fern/pkg/models"
)

const (
	DefaultBatchSize     = 100
	DefaultRefreshSkew   = 60 * time.Second
	DefaultHTTPTimeout   = 30 * time.Second
	DefaultMaxRetryAfter = 2 * time.Minute
	defaultTokenLifetime = time.Hour
	refreshStripes       = 64
)

type Config struct {
	BatchSize   int
	RefreshSkew time.Duration
	HTTPTimeout time.Duration
	// MaxRetryAfter caps how long a 429 Retry-After is honored before the
	// response is surfaced instead.
	MaxRetryAfter time.Duration
}

func (c Config) normalized() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.RefreshSkew <= 0 {
		c.RefreshSkew = DefaultRefreshSkew
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = DefaultHTTPTimeout
	}
	if c.MaxRetryAfter <= 0 {
		c.MaxRetryAfter = DefaultMaxRetryAfter
	}
	return c
}

type Option func(*Gateway)

// WithBaseTransport replaces the HTTP transport used for provider calls.
func WithBaseTransport(rt http.RoundTripper) Option {
	return func(g *Gateway) {
		g.base = rt
	}
}

func WithClock(now func() time.Time) Option {
	return func(g *Gateway) {
		g.now = now
	}
}

// Gateway is shared across all tenants.
type Gateway struct {
	registry *Registry
	cfg      Config
	logger   ectologger.Logger
	now      func() time.Time
	base     http.RoundTripper
	client   *http.Client

	// refreshed remembers the outcome of a refresh grant so concurrent callers
	// holding the same refresh token do not spend it twice.
	refreshed    *ttlcache.Cache[string, models.Credentials]
	refreshLocks [refreshStripes]sync.Mutex
}

func New(registry *Registry, cfg Config, logger ectologger.Logger, opts ...Option) *Gateway {
	g := &Gateway{
		registry: registry,
		cfg:      cfg.normalized(),
		logger:   logger,
		now:      time.Now,
		base:     http.DefaultTransport,
		refreshed: ttlcache.New[string, models.Credentials](
			ttlcache.WithDisableTouchOnHit[string, models.Credentials](),
		),
	}
	for _, opt := range opts {
		opt(g)
	}

	g.client = &http.Client{
		Timeout:   g.cfg.HTTPTimeout,
		Transport: g.base,
	}

	go g.refreshed.Start()
	return g
}

func (g *Gateway) Registry() *Registry {
	return g.registry
}

// Close stops the refresh cache janitor.
func (g *Gateway) Close() {
	g.refreshed.Stop()
}
