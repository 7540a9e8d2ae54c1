package gateway

import (
	"fmt"

	"github.com/Gobusters/ectologger"

	apperrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/ratelimit"
)

// LimiterFactory builds the limiter a provider's calls share.
type LimiterFactory func(provider models.ProviderType) ratelimit.Limiter

// Registry holds one Provider per provider type. It is built once at startup
// and never mutated.
type Registry struct {
	providers map[models.ProviderType]*Provider
}

// NewRegistry builds a Provider for every supported type from the defaults
// overlaid with overrides.
func NewRegistry(overrides map[models.ProviderType]ProviderSettings, breaker BreakerConfig, limiters LimiterFactory, logger ectologger.Logger) (*Registry, error) {
	breaker = breaker.normalized()
	defaults := DefaultProviderSettings()

	providers := make(map[models.ProviderType]*Provider, len(models.ProviderTypes))
	for _, providerType := range models.ProviderTypes {
		settings := defaults[providerType]
		if override, ok := overrides[providerType]; ok {
			settings = settings.Merge(override)
		}

		provider, err := newProvider(settings, breaker, limiters(providerType), logger)
		if err != nil {
			return nil, fmt.Errorf("failed to configure provider %s: %w", providerType, err)
		}
		providers[providerType] = provider
	}

	return &Registry{providers: providers}, nil
}

func (r *Registry) Get(providerType models.ProviderType) (*Provider, error) {
	provider, ok := r.providers[providerType]
	if !ok {
		return nil, apperrors.Validation("unsupported provider type %q", providerType).WithField("provider_type")
	}
	return provider, nil
}

// Providers lists every provider in a stable order.
func (r *Registry) Providers() []*Provider {
	out := make([]*Provider, 0, len(r.providers))
	for _, providerType := range models.ProviderTypes {
		if provider, ok := r.providers[providerType]; ok {
			out = append(out, provider)
		}
	}
	return out
}

// BreakerStates maps each provider type to its breaker state.
func (r *Registry) BreakerStates() map[string]string {
	states := make(map[string]string, len(r.providers))
	for providerType, provider := range r.providers {
		states[providerType.String()] = provider.BreakerState()
	}
	return states
}
