package gateway

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/jmespath/go-jmespath"
	"github.com/sony/gobreaker/v2"

	apperrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/ratelimit"
)

// ProviderSettings describes how to reach one CRM. Empty response paths fall
// back to the top-level success, errors and details keys.
type ProviderSettings struct {
	Type               models.ProviderType
	TokenURL           string
	APIVersion         string
	DefaultInstanceURL string
	SuccessPath        string
	ErrorsPath         string
	DetailsPath        string
}

// Merge overlays the non-empty fields of override.
func (s ProviderSettings) Merge(override ProviderSettings) ProviderSettings {
	if override.TokenURL != "" {
		s.TokenURL = override.TokenURL
	}
	if override.APIVersion != "" {
		s.APIVersion = override.APIVersion
	}
	if override.DefaultInstanceURL != "" {
		s.DefaultInstanceURL = override.DefaultInstanceURL
	}
	if override.SuccessPath != "" {
		s.SuccessPath = override.SuccessPath
	}
	if override.ErrorsPath != "" {
		s.ErrorsPath = override.ErrorsPath
	}
	if override.DetailsPath != "" {
		s.DetailsPath = override.DetailsPath
	}
	return s
}

// DefaultProviderSettings returns the built-in settings for every provider.
// Salesforce has no default instance: each org's URL comes with its credentials.
func DefaultProviderSettings() map[models.ProviderType]ProviderSettings {
	return map[models.ProviderType]ProviderSettings{
		models.ProviderSalesforce: {
			Type:       models.ProviderSalesforce,
			TokenURL:   "https://login.salesforce.com/services/oauth2/token",
			APIVersion: "v58.0",
		},
		models.ProviderHubSpot: {
			Type:               models.ProviderHubSpot,
			TokenURL:           "https://api.hubapi.com/oauth/v1/token",
			APIVersion:         "v3",
			DefaultInstanceURL: "https://api.hubapi.com",
		},
		models.ProviderPipedrive: {
			Type:               models.ProviderPipedrive,
			TokenURL:           "https://oauth.pipedrive.com/oauth/token",
			APIVersion:         "v1",
			DefaultInstanceURL: "https://api.pipedrive.com",
		},
		models.ProviderZoho: {
			Type:               models.ProviderZoho,
			TokenURL:           "https://accounts.zoho.com/oauth/v2/token",
			APIVersion:         "v2",
			DefaultInstanceURL: "https://www.zohoapis.com",
		},
	}
}

// BreakerConfig tunes every provider's circuit breaker.
type BreakerConfig struct {
	CallTimeout time.Duration
	// FailureRatio trips the breaker once reached with at least MinRequests
	// calls in the trailing Interval.
	FailureRatio float64
	MinRequests  uint32
	// Interval is the length of the rolling window, counted in ten buckets.
	Interval     time.Duration
	ResetTimeout time.Duration
}

func (c BreakerConfig) normalized() BreakerConfig {
	if c.CallTimeout <= 0 {
		c.CallTimeout = 10 * time.Second
	}
	if c.FailureRatio <= 0 || c.FailureRatio > 1 {
		c.FailureRatio = 0.5
	}
	if c.MinRequests == 0 {
		c.MinRequests = 5
	}
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
	return c
}

type responsePaths struct {
	success *jmespath.JMESPath
	errors  *jmespath.JMESPath
	details *jmespath.JMESPath
}

func compilePath(expr, fallback string) (*jmespath.JMESPath, error) {
	if strings.TrimSpace(expr) == "" {
		expr = fallback
	}
	return jmespath.Compile(expr)
}

func compilePaths(s ProviderSettings) (responsePaths, error) {
	success, err := compilePath(s.SuccessPath, "success")
	if err != nil {
		return responsePaths{}, err
	}
	errs, err := compilePath(s.ErrorsPath, "errors")
	if err != nil {
		return responsePaths{}, err
	}
	details, err := compilePath(s.DetailsPath, "details")
	if err != nil {
		return responsePaths{}, err
	}
	return responsePaths{success: success, errors: errs, details: details}, nil
}

// Provider owns one CRM's breaker and limiter. It is shared by every tenant
// connected to that CRM.
type Provider struct {
	settings    ProviderSettings
	paths       responsePaths
	breaker     *gobreaker.CircuitBreaker[struct{}]
	window      *rollingWindow
	limiter     ratelimit.Limiter
	callTimeout time.Duration
}

func newProvider(settings ProviderSettings, breakerCfg BreakerConfig, limiter ratelimit.Limiter, logger ectologger.Logger) (*Provider, error) {
	paths, err := compilePaths(settings)
	if err != nil {
		return nil, err
	}

	p := &Provider{
		settings:    settings,
		paths:       paths,
		limiter:     limiter,
		callTimeout: breakerCfg.CallTimeout,
		window:      newRollingWindow(breakerCfg.Interval, time.Now),
	}

	name := settings.Type.String()
	// Tripping reads the rolling window; gobreaker's own counts are never
	// cleared and go unused.
	p.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     breakerCfg.ResetTimeout,
		ReadyToTrip: func(gobreaker.Counts) bool {
			requests, failures := p.window.counts()
			if requests < breakerCfg.MinRequests {
				return false
			}
			return float64(failures)/float64(requests) >= breakerCfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			p.window.reset()
			logger.WithFields(map[string]any{
				"provider_type": name,
				"from":          from.String(),
				"to":            to.String(),
			}).Warnf("Circuit breaker for %s changed state", name)
			metrics.SetBreakerState(name, breakerStateValue(to))
		},
		IsSuccessful: func(err error) bool {
			success := err == nil || apperrors.IsValidation(err)
			if p.breaker.State() == gobreaker.StateClosed {
				p.window.record(success)
			}
			return success
		},
	})
	metrics.SetBreakerState(name, breakerStateValue(gobreaker.StateClosed))
	return p, nil
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	}
	return 0
}

func (p *Provider) Type() models.ProviderType {
	return p.settings.Type
}

func (p *Provider) Settings() ProviderSettings {
	return p.settings
}

// BreakerState reports closed, half-open or open.
func (p *Provider) BreakerState() string {
	return p.breaker.State().String()
}

func (p *Provider) IsOpen() bool {
	return p.breaker.State() == gobreaker.StateOpen
}

// instanceURL picks the credential's instance, falling back to the provider default.
func (p *Provider) instanceURL(creds models.Credentials) (string, error) {
	url := creds.InstanceURL
	if url == "" {
		url = p.settings.DefaultInstanceURL
	}
	if url == "" {
		return "", apperrors.Validation("%s credentials must include an instance_url", p.settings.Type).
			WithField("credentials.instance_url").
			WithProvider(p.settings.Type.String())
	}
	return strings.TrimRight(url, "/"), nil
}

// execute runs fn as one outbound call: an open breaker rejects it before a
// token is taken, then a token is taken, then fn runs inside the breaker. A
// 429 carrying Retry-After is waited out and fn replayed once under the same
// token and breaker outcome. The call timeout bounds each attempt, not the wait.
func (p *Provider) execute(ctx context.Context, fn func(ctx context.Context) error) error {
	name := p.settings.Type.String()
	if p.IsOpen() {
		return apperrors.CircuitOpen(name)
	}

	start := time.Now()
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	metrics.RecordRateLimitWait(name, time.Since(start).Seconds())

	_, err := p.breaker.Execute(func() (struct{}, error) {
		err := p.attempt(ctx, fn)
		var backoff *retryAfterError
		if !errors.As(err, &backoff) {
			return struct{}{}, err
		}

		timer := time.NewTimer(backoff.wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return struct{}{}, apperrors.Provider(name, 0, ctx.Err())
		case <-timer.C:
		}

		err = p.attempt(ctx, fn)
		if errors.As(err, &backoff) {
			return struct{}{}, backoff.err
		}
		return struct{}{}, err
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return apperrors.CircuitOpen(name)
	}
	return err
}

func (p *Provider) attempt(ctx context.Context, fn func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()
	return fn(callCtx)
}
