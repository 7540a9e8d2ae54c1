package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	apperrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Connect returns credentials with a live access token, refreshing through
// the provider's token endpoint when the given ones are expired or about to
// be. The input is never modified.
func (g *Gateway) Connect(ctx context.Context, providerType models.ProviderType, creds models.Credentials) (models.Credentials, error) {
	ctx, span := tracing.StartSpan(ctx, "Gateway.Connect")
	defer span.End()

	provider, err := g.registry.Get(providerType)
	if err != nil {
		return models.Credentials{}, err
	}
	live, _, err := g.connect(ctx, provider, creds)
	return live, err
}

func (g *Gateway) connect(ctx context.Context, provider *Provider, creds models.Credentials) (models.Credentials, bool, error) {
	name := provider.Type().String()
	if creds.ClientID == "" || creds.ClientSecret == "" {
		return models.Credentials{}, false, apperrors.Validation("client_id and client_secret are required").
			WithField("credentials").WithProvider(name)
	}
	if creds.IsLive(g.now(), g.cfg.RefreshSkew) {
		return creds.Clone(), false, nil
	}
	if creds.RefreshToken == "" {
		return models.Credentials{}, false, apperrors.Validation("access token is expired and no refresh token is available").
			WithField("credentials.refresh_token").WithProvider(name)
	}

	key, stripe := refreshKey(provider.Type(), creds.RefreshToken)
	mu := &g.refreshLocks[stripe]
	mu.Lock()
	defer mu.Unlock()

	if item := g.refreshed.Get(key); item != nil && item.Value().IsLive(g.now(), g.cfg.RefreshSkew) {
		return item.Value().Clone(), true, nil
	}

	refreshed, err := g.refresh(ctx, provider, creds)
	if err != nil {
		metrics.RecordTokenRefresh(name, "failure")
		g.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"provider_type": name,
		}).Warn("Token refresh failed")
		return models.Credentials{}, false, err
	}
	metrics.RecordTokenRefresh(name, "success")

	if ttl := refreshed.TokenExpiry.Sub(g.now()) - g.cfg.RefreshSkew; ttl > 0 {
		g.refreshed.Set(key, refreshed, ttl)
	}

	g.logger.WithContext(ctx).WithFields(map[string]any{
		"provider_type": name,
		"token_expiry":  refreshed.TokenExpiry,
		"rotated":       refreshed.RefreshToken != creds.RefreshToken,
	}).Info("Refreshed provider access token")
	return refreshed.Clone(), true, nil
}

func (g *Gateway) refresh(ctx context.Context, provider *Provider, creds models.Credentials) (models.Credentials, error) {
	name := provider.Type().String()
	oauthCfg := oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  provider.Settings().TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		Scopes: creds.Scopes,
	}

	var token *oauth2.Token
	err := provider.execute(ctx, func(ctx context.Context) error {
		start := time.Now()
		ctx = context.WithValue(ctx, oauth2.HTTPClient, g.client)
		tok, err := oauthCfg.TokenSource(ctx, &oauth2.Token{RefreshToken: creds.RefreshToken}).Token()
		recordProviderCall(name, "refresh", retrieveStatus(err), start)
		if err != nil {
			return g.throttled(retrieveHeader(err), toProviderError(name, err))
		}
		token = tok
		return nil
	})
	if err != nil {
		return models.Credentials{}, err
	}

	out := creds.Clone()
	out.AccessToken = token.AccessToken
	if token.RefreshToken != "" {
		out.RefreshToken = token.RefreshToken
	}
	out.TokenExpiry = token.Expiry
	if out.TokenExpiry.IsZero() {
		out.TokenExpiry = g.now().Add(defaultTokenLifetime)
	}
	if scope, ok := token.Extra("scope").(string); ok && scope != "" {
		out.Scopes = strings.Fields(scope)
	}
	if instanceURL, ok := token.Extra("instance_url").(string); ok && instanceURL != "" {
		out.InstanceURL = instanceURL
	}
	return out, nil
}

// refreshKey never holds the token itself, only its digest.
func refreshKey(providerType models.ProviderType, refreshToken string) (string, int) {
	sum := sha256.Sum256([]byte(refreshToken))
	return providerType.String() + ":" + hex.EncodeToString(sum[:]), int(sum[0]) % refreshStripes
}

func retrieveStatus(err error) int {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		return re.Response.StatusCode
	}
	if err == nil {
		return 200
	}
	return 0
}

func retrieveHeader(err error) http.Header {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil && re.Response.StatusCode == http.StatusTooManyRequests {
		return re.Response.Header
	}
	return nil
}

func toProviderError(provider string, err error) error {
	if _, ok := apperrors.As(err); ok {
		return err
	}
	status := retrieveStatus(err)
	if status == 429 {
		return apperrors.RateLimitExceeded(provider, err)
	}
	return apperrors.Provider(provider, status, err)
}
