package gateway_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/gateway"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/ratelimit"
)

type syncPayload struct {
	Mappings []models.FieldMapping `json:"mappings"`
	Options  struct {
		Upsert bool `json:"upsert"`
	} `json:"options"`
}

// fakeProvider serves both the token endpoint and the sync endpoint.
type fakeProvider struct {
	server      *httptest.Server
	tokenHits   atomic.Int32
	syncHits    atomic.Int32
	token429s   atomic.Int32
	mu          sync.Mutex
	tokenStatus int
	syncHandler func(call int, w http.ResponseWriter, payload syncPayload)
	lastBearer  string
	lastForm    map[string]string
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	f := &fakeProvider{tokenStatus: http.StatusOK}
	f.syncHandler = func(_ int, w http.ResponseWriter, payload syncPayload) {
		writeJSON(w, http.StatusOK, map[string]any{
			"success": payload.Mappings,
			"errors":  []any{},
			"details": map[string]any{},
		})
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		f.tokenHits.Add(1)
		require.NoError(t, r.ParseForm())
		f.mu.Lock()
		f.lastForm = map[string]string{
			"grant_type":    r.PostForm.Get("grant_type"),
			"client_id":     r.PostForm.Get("client_id"),
			"client_secret": r.PostForm.Get("client_secret"),
			"refresh_token": r.PostForm.Get("refresh_token"),
		}
		status := f.tokenStatus
		f.mu.Unlock()

		if f.token429s.Add(-1) >= 0 {
			w.Header().Set("Retry-After", "0")
			writeJSON(w, http.StatusTooManyRequests, map[string]any{"error": "slow_down"})
			return
		}

		// give concurrent callers a chance to pile up behind the refresh
		time.Sleep(20 * time.Millisecond)
		if status != http.StatusOK {
			writeJSON(w, status, map[string]any{"error": "invalid_grant"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token":  "fresh-access-token",
			"refresh_token": "rotated-refresh-token",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	})
	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		call := int(f.syncHits.Add(1))
		var payload syncPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		f.mu.Lock()
		f.lastBearer = r.Header.Get("Authorization")
		handler := f.syncHandler
		f.mu.Unlock()
		handler(call, w, payload)
	})

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeProvider) setSyncHandler(h func(call int, w http.ResponseWriter, payload syncPayload)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncHandler = h
}

func (f *fakeProvider) bearer() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastBearer
}

func (f *fakeProvider) form() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastForm
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type gatewayOptions struct {
	breaker       gateway.BreakerConfig
	quota         ratelimit.Quota
	batchSize     int
	maxRetryAfter time.Duration
	overrides     map[models.ProviderType]gateway.ProviderSettings
}

func newGateway(t *testing.T, f *fakeProvider, opts gatewayOptions) *gateway.Gateway {
	t.Helper()
	logger := ectologger.NewEctoLogger(func(ectologger.EctoLogMessage) {})

	if opts.quota.Tokens == 0 {
		opts.quota = ratelimit.Quota{Tokens: 1000, Interval: time.Second}
	}
	overrides := map[models.ProviderType]gateway.ProviderSettings{}
	for _, providerType := range models.ProviderTypes {
		overrides[providerType] = gateway.ProviderSettings{TokenURL: f.server.URL + "/token"}
	}
	for providerType, override := range opts.overrides {
		override.TokenURL = f.server.URL + "/token"
		overrides[providerType] = override
	}

	registry, err := gateway.NewRegistry(overrides, opts.breaker, func(p models.ProviderType) ratelimit.Limiter {
		return ratelimit.NewLocalLimiter(p.String(), opts.quota)
	}, logger)
	require.NoError(t, err)

	g := gateway.New(registry, gateway.Config{BatchSize: opts.batchSize, MaxRetryAfter: opts.maxRetryAfter}, logger)
	t.Cleanup(g.Close)
	return g
}

func liveCredentials(f *fakeProvider) models.Credentials {
	return models.Credentials{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		AccessToken:  "live-access-token",
		RefreshToken: "refresh-token",
		TokenExpiry:  time.Now().Add(time.Hour),
		Scopes:       []string{"api"},
		InstanceURL:  f.server.URL,
	}
}

func expiredCredentials(f *fakeProvider) models.Credentials {
	creds := liveCredentials(f)
	creds.AccessToken = "stale-access-token"
	creds.TokenExpiry = time.Now().Add(-time.Minute)
	return creds
}

func mappings(n int) []models.FieldMapping {
	out := make([]models.FieldMapping, n)
	for i := range out {
		out[i] = models.FieldMapping{SourceField: fmt.Sprintf("field_%d", i), TargetField: fmt.Sprintf("Field%d", i)}
	}
	return out
}

func TestConnectLiveCredentialsSkipsRefresh(t *testing.T) {
	f := newFakeProvider(t)
	g := newGateway(t, f, gatewayOptions{})
	input := liveCredentials(f)

	out, err := g.Connect(context.Background(), models.ProviderSalesforce, input)
	require.NoError(t, err)
	assert.Equal(t, input, out)
	assert.Zero(t, f.tokenHits.Load())

	out.Scopes[0] = "changed"
	assert.Equal(t, "api", input.Scopes[0])
}

func TestConnectRefreshesExpiredToken(t *testing.T) {
	f := newFakeProvider(t)
	g := newGateway(t, f, gatewayOptions{})
	input := expiredCredentials(f)
	snapshot := input.Clone()

	out, err := g.Connect(context.Background(), models.ProviderSalesforce, input)
	require.NoError(t, err)

	assert.Equal(t, "fresh-access-token", out.AccessToken)
	assert.Equal(t, "rotated-refresh-token", out.RefreshToken)
	assert.WithinDuration(t, time.Now().Add(time.Hour), out.TokenExpiry, time.Minute)
	assert.Equal(t, input.InstanceURL, out.InstanceURL)
	assert.Equal(t, snapshot, input)

	assert.Equal(t, map[string]string{
		"grant_type":    "refresh_token",
		"client_id":     "client-id",
		"client_secret": "client-secret",
		"refresh_token": "refresh-token",
	}, f.form())
}

func TestConnectDedupesConcurrentRefresh(t *testing.T) {
	f := newFakeProvider(t)
	g := newGateway(t, f, gatewayOptions{})
	input := expiredCredentials(f)

	var wg sync.WaitGroup
	tokens := make([]string, 5)
	for i := range tokens {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := g.Connect(context.Background(), models.ProviderSalesforce, input)
			assert.NoError(t, err)
			tokens[i] = out.AccessToken
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), f.tokenHits.Load())
	for _, token := range tokens {
		assert.Equal(t, "fresh-access-token", token)
	}
}

func TestConnectRejectedRefreshIsProviderError(t *testing.T) {
	f := newFakeProvider(t)
	f.tokenStatus = http.StatusUnauthorized
	g := newGateway(t, f, gatewayOptions{})

	_, err := g.Connect(context.Background(), models.ProviderHubSpot, expiredCredentials(f))
	require.Error(t, err)
	assert.True(t, apperrors.IsProvider(err))
	e, _ := apperrors.As(err)
	assert.Equal(t, http.StatusUnauthorized, e.StatusCode)
	assert.Equal(t, "HUBSPOT", e.Provider)
}

func TestConnectWithoutRefreshTokenIsValidation(t *testing.T) {
	f := newFakeProvider(t)
	g := newGateway(t, f, gatewayOptions{})
	creds := expiredCredentials(f)
	creds.RefreshToken = ""

	_, err := g.Connect(context.Background(), models.ProviderZoho, creds)
	assert.True(t, apperrors.IsValidation(err))
	assert.Zero(t, f.tokenHits.Load())
}

func TestConnectUnknownProvider(t *testing.T) {
	f := newFakeProvider(t)
	g := newGateway(t, f, gatewayOptions{})

	_, err := g.Connect(context.Background(), models.ProviderType("MARKETO"), liveCredentials(f))
	assert.True(t, apperrors.IsValidation(err))
}

func TestSyncBatchesSequentially(t *testing.T) {
	f := newFakeProvider(t)
	g := newGateway(t, f, gatewayOptions{})

	var mu sync.Mutex
	var sizes []int
	f.setSyncHandler(func(call int, w http.ResponseWriter, payload syncPayload) {
		assert.True(t, payload.Options.Upsert)
		mu.Lock()
		sizes = append(sizes, len(payload.Mappings))
		mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{
			"success": payload.Mappings,
			"errors":  []any{},
			"details": map[string]any{fmt.Sprintf("batch_%d", call): len(payload.Mappings)},
		})
	})

	result, err := g.Sync(context.Background(), models.ProviderSalesforce, liveCredentials(f), mappings(250))
	require.NoError(t, err)

	mu.Lock()
	assert.Equal(t, []int{100, 100, 50}, sizes)
	mu.Unlock()
	assert.Equal(t, 3, result.Batches)
	assert.Equal(t, 250, result.Success)
	assert.Zero(t, result.Failed)
	assert.Empty(t, result.Errors)
	assert.Len(t, result.Details, 3)
	assert.False(t, result.Refreshed)
	assert.Equal(t, "Bearer live-access-token", f.bearer())
}

func TestSyncIsolatesFailingBatch(t *testing.T) {
	f := newFakeProvider(t)
	g := newGateway(t, f, gatewayOptions{})

	f.setSyncHandler(func(call int, w http.ResponseWriter, payload syncPayload) {
		if call == 2 {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"message": "boom"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": payload.Mappings})
	})

	result, err := g.Sync(context.Background(), models.ProviderSalesforce, liveCredentials(f), mappings(250))
	require.NoError(t, err)

	assert.Equal(t, int32(3), f.syncHits.Load())
	assert.Equal(t, 150, result.Success)
	assert.Equal(t, 100, result.Failed)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, 1, result.Errors[0].Batch)
	assert.Equal(t, 100, result.Errors[0].Size)
	assert.Equal(t, apperrors.KindProvider, result.Errors[0].Kind)
	assert.Equal(t, http.StatusInternalServerError, result.Errors[0].StatusCode)
}

func TestSyncCountsRejectedRecords(t *testing.T) {
	f := newFakeProvider(t)
	g := newGateway(t, f, gatewayOptions{})

	f.setSyncHandler(func(_ int, w http.ResponseWriter, payload syncPayload) {
		writeJSON(w, http.StatusOK, map[string]any{
			"success": payload.Mappings[1:],
			"errors":  []any{map[string]any{"field": payload.Mappings[0].TargetField, "reason": "invalid"}},
		})
	})

	result, err := g.Sync(context.Background(), models.ProviderSalesforce, liveCredentials(f), mappings(4))
	require.NoError(t, err)
	assert.Equal(t, 3, result.Success)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Errors, 1)
	assert.NotNil(t, result.Errors[0].Detail)
}

func TestSyncUsesProviderResponsePaths(t *testing.T) {
	f := newFakeProvider(t)
	g := newGateway(t, f, gatewayOptions{overrides: map[models.ProviderType]gateway.ProviderSettings{
		models.ProviderHubSpot: {SuccessPath: "results.synced", ErrorsPath: "results.failures", DetailsPath: "meta"},
	}})

	f.setSyncHandler(func(_ int, w http.ResponseWriter, _ syncPayload) {
		writeJSON(w, http.StatusOK, map[string]any{
			"results": map[string]any{"synced": 7, "failures": []any{"x"}},
			"meta":    map[string]any{"job": "abc"},
		})
	})

	result, err := g.Sync(context.Background(), models.ProviderHubSpot, liveCredentials(f), mappings(8))
	require.NoError(t, err)
	assert.Equal(t, 7, result.Success)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, "abc", result.Details["job"])
}

func TestSyncRefreshesBeforeBatches(t *testing.T) {
	f := newFakeProvider(t)
	g := newGateway(t, f, gatewayOptions{})

	result, err := g.Sync(context.Background(), models.ProviderSalesforce, expiredCredentials(f), mappings(1))
	require.NoError(t, err)
	assert.True(t, result.Refreshed)
	assert.Equal(t, "fresh-access-token", result.Credentials.AccessToken)
	assert.Equal(t, "Bearer fresh-access-token", f.bearer())
}

func TestSyncRequiresSalesforceInstanceURL(t *testing.T) {
	f := newFakeProvider(t)
	g := newGateway(t, f, gatewayOptions{})
	creds := liveCredentials(f)
	creds.InstanceURL = ""

	_, err := g.Sync(context.Background(), models.ProviderSalesforce, creds, mappings(1))
	assert.True(t, apperrors.IsValidation(err))
	assert.Zero(t, f.syncHits.Load())
}

func TestSyncCircuitOpenMakesNoNetworkCalls(t *testing.T) {
	f := newFakeProvider(t)
	g := newGateway(t, f, gatewayOptions{breaker: gateway.BreakerConfig{
		FailureRatio: 0.5,
		MinRequests:  2,
		ResetTimeout: time.Hour,
	}})
	f.setSyncHandler(func(_ int, w http.ResponseWriter, _ syncPayload) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"message": "down"})
	})

	for i := 0; i < 2; i++ {
		result, err := g.Sync(context.Background(), models.ProviderPipedrive, liveCredentials(f), mappings(1))
		require.NoError(t, err)
		assert.Equal(t, 1, result.Failed)
	}
	require.Equal(t, int32(2), f.syncHits.Load())

	provider, err := g.Registry().Get(models.ProviderPipedrive)
	require.NoError(t, err)
	assert.Equal(t, "open", provider.BreakerState())

	_, err = g.Sync(context.Background(), models.ProviderPipedrive, liveCredentials(f), mappings(1))
	assert.True(t, apperrors.IsCircuitOpen(err))
	assert.Equal(t, int32(2), f.syncHits.Load())

	// other providers keep their own breaker
	_, err = g.Sync(context.Background(), models.ProviderZoho, liveCredentials(f), mappings(1))
	assert.NoError(t, err)
}

func TestSyncHalfOpenProbeClosesBreaker(t *testing.T) {
	f := newFakeProvider(t)
	g := newGateway(t, f, gatewayOptions{breaker: gateway.BreakerConfig{
		FailureRatio: 0.5,
		MinRequests:  1,
		ResetTimeout: 50 * time.Millisecond,
	}})
	f.setSyncHandler(func(_ int, w http.ResponseWriter, _ syncPayload) {
		writeJSON(w, http.StatusBadGateway, map[string]any{})
	})

	_, err := g.Sync(context.Background(), models.ProviderZoho, liveCredentials(f), mappings(1))
	require.NoError(t, err)
	_, err = g.Sync(context.Background(), models.ProviderZoho, liveCredentials(f), mappings(1))
	require.True(t, apperrors.IsCircuitOpen(err))

	f.setSyncHandler(func(_ int, w http.ResponseWriter, payload syncPayload) {
		writeJSON(w, http.StatusOK, map[string]any{"success": payload.Mappings})
	})
	time.Sleep(80 * time.Millisecond)

	result, err := g.Sync(context.Background(), models.ProviderZoho, liveCredentials(f), mappings(1))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Success)

	provider, _ := g.Registry().Get(models.ProviderZoho)
	assert.Equal(t, "closed", provider.BreakerState())
}

func TestSyncReplaysOnceAfterRetryAfter(t *testing.T) {
	f := newFakeProvider(t)
	g := newGateway(t, f, gatewayOptions{})
	f.setSyncHandler(func(call int, w http.ResponseWriter, payload syncPayload) {
		if call == 1 {
			w.Header().Set("Retry-After", "0")
			writeJSON(w, http.StatusTooManyRequests, map[string]any{})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": payload.Mappings})
	})

	result, err := g.Sync(context.Background(), models.ProviderSalesforce, liveCredentials(f), mappings(3))
	require.NoError(t, err)
	assert.Equal(t, 3, result.Success)
	assert.Equal(t, int32(2), f.syncHits.Load())
}

func TestSyncSecond429FailsBatch(t *testing.T) {
	f := newFakeProvider(t)
	g := newGateway(t, f, gatewayOptions{})
	f.setSyncHandler(func(_ int, w http.ResponseWriter, _ syncPayload) {
		w.Header().Set("Retry-After", "0")
		writeJSON(w, http.StatusTooManyRequests, map[string]any{})
	})

	result, err := g.Sync(context.Background(), models.ProviderSalesforce, liveCredentials(f), mappings(3))
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.syncHits.Load())
	assert.Equal(t, 3, result.Failed)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, apperrors.KindRateLimitExceeded, result.Errors[0].Kind)
}

func TestSyncWaitsOutRetryAfterLongerThanCallTimeout(t *testing.T) {
	f := newFakeProvider(t)
	g := newGateway(t, f, gatewayOptions{breaker: gateway.BreakerConfig{CallTimeout: 300 * time.Millisecond}})
	f.setSyncHandler(func(call int, w http.ResponseWriter, payload syncPayload) {
		if call == 1 {
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, map[string]any{})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": payload.Mappings})
	})

	start := time.Now()
	result, err := g.Sync(context.Background(), models.ProviderSalesforce, liveCredentials(f), mappings(3))
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.syncHits.Load())
	assert.Equal(t, 3, result.Success)
	assert.Zero(t, result.Failed)
	assert.GreaterOrEqual(t, time.Since(start), 900*time.Millisecond)

	provider, err := g.Registry().Get(models.ProviderSalesforce)
	require.NoError(t, err)
	assert.Equal(t, "closed", provider.BreakerState())
}

func TestSyncRetryAfterBeyondCapIsSurfaced(t *testing.T) {
	f := newFakeProvider(t)
	g := newGateway(t, f, gatewayOptions{maxRetryAfter: time.Second})
	f.setSyncHandler(func(_ int, w http.ResponseWriter, _ syncPayload) {
		w.Header().Set("Retry-After", "30")
		writeJSON(w, http.StatusTooManyRequests, map[string]any{})
	})

	result, err := g.Sync(context.Background(), models.ProviderSalesforce, liveCredentials(f), mappings(3))
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.syncHits.Load())
	assert.Equal(t, 3, result.Failed)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, apperrors.KindRateLimitExceeded, result.Errors[0].Kind)
}

func TestSyncRetryAfterWaitHonorsCancellation(t *testing.T) {
	f := newFakeProvider(t)
	g := newGateway(t, f, gatewayOptions{})
	f.setSyncHandler(func(_ int, w http.ResponseWriter, _ syncPayload) {
		w.Header().Set("Retry-After", "60")
		writeJSON(w, http.StatusTooManyRequests, map[string]any{})
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	result, err := g.Sync(ctx, models.ProviderSalesforce, liveCredentials(f), mappings(1))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, int32(1), f.syncHits.Load())
	assert.Equal(t, 1, result.Failed)
}

func TestConnectReplaysThrottledRefresh(t *testing.T) {
	f := newFakeProvider(t)
	g := newGateway(t, f, gatewayOptions{})
	f.token429s.Store(1)

	live, err := g.Connect(context.Background(), models.ProviderHubSpot, expiredCredentials(f))
	require.NoError(t, err)
	assert.Equal(t, "fresh-access-token", live.AccessToken)
	assert.Equal(t, int32(2), f.tokenHits.Load())
}

func TestSyncReturnsRefreshedCredentialsWhenInstanceURLMissing(t *testing.T) {
	f := newFakeProvider(t)
	g := newGateway(t, f, gatewayOptions{})
	creds := expiredCredentials(f)
	creds.InstanceURL = ""

	result, err := g.Sync(context.Background(), models.ProviderSalesforce, creds, mappings(1))
	assert.True(t, apperrors.IsValidation(err))
	require.NotNil(t, result)
	assert.True(t, result.Refreshed)
	assert.Equal(t, "rotated-refresh-token", result.Credentials.RefreshToken)
	assert.Equal(t, "refresh-token", creds.RefreshToken)
	assert.Zero(t, f.syncHits.Load())
}

func TestSharedLimiterBlocksOtherTenant(t *testing.T) {
	f := newFakeProvider(t)
	g := newGateway(t, f, gatewayOptions{quota: ratelimit.Quota{Tokens: 1, Interval: time.Hour}})

	tenantA := liveCredentials(f)
	tenantB := liveCredentials(f)
	tenantB.ClientID = "tenant-b-client"
	tenantB.AccessToken = "tenant-b-token"

	result, err := g.Sync(context.Background(), models.ProviderSalesforce, tenantA, mappings(1))
	require.NoError(t, err)
	require.Equal(t, 1, result.Success)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	result, err = g.Sync(ctx, models.ProviderSalesforce, tenantB, mappings(1))
	require.NoError(t, err)

	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, apperrors.KindRateLimitExceeded, result.Errors[0].Kind)
	assert.Equal(t, int32(1), f.syncHits.Load())

	// a different provider has its own bucket
	result, err = g.Sync(context.Background(), models.ProviderHubSpot, tenantB, mappings(1))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Success)
}

func TestSharedLimiterReleasesWaiterOnRefill(t *testing.T) {
	f := newFakeProvider(t)
	g := newGateway(t, f, gatewayOptions{quota: ratelimit.Quota{Tokens: 1, Interval: 100 * time.Millisecond}})

	_, err := g.Sync(context.Background(), models.ProviderSalesforce, liveCredentials(f), mappings(1))
	require.NoError(t, err)

	start := time.Now()
	result, err := g.Sync(context.Background(), models.ProviderSalesforce, liveCredentials(f), mappings(1))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Success)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	wait, ok := gateway.ParseRetryAfter("7", now)
	assert.True(t, ok)
	assert.Equal(t, 7*time.Second, wait)

	wait, ok = gateway.ParseRetryAfter(now.Add(30*time.Second).Format(http.TimeFormat), now)
	assert.True(t, ok)
	assert.Equal(t, 30*time.Second, wait)

	wait, ok = gateway.ParseRetryAfter(now.Add(-time.Minute).Format(http.TimeFormat), now)
	assert.True(t, ok)
	assert.Zero(t, wait)

	_, ok = gateway.ParseRetryAfter("soon", now)
	assert.False(t, ok)
	_, ok = gateway.ParseRetryAfter("", now)
	assert.False(t, ok)
}

func TestRegistryAppliesOverrides(t *testing.T) {
	logger := ectologger.NewEctoLogger(func(ectologger.EctoLogMessage) {})
	registry, err := gateway.NewRegistry(map[models.ProviderType]gateway.ProviderSettings{
		models.ProviderZoho: {TokenURL: "https://accounts.zoho.eu/oauth/v2/token"},
	}, gateway.BreakerConfig{}, func(p models.ProviderType) ratelimit.Limiter {
		return ratelimit.NewLocalLimiter(p.String(), ratelimit.Quota{})
	}, logger)
	require.NoError(t, err)

	require.Len(t, registry.Providers(), 4)
	zoho, err := registry.Get(models.ProviderZoho)
	require.NoError(t, err)
	assert.Equal(t, "https://accounts.zoho.eu/oauth/v2/token", zoho.Settings().TokenURL)
	assert.Equal(t, "v2", zoho.Settings().APIVersion)
	assert.Equal(t, "closed", zoho.BreakerState())

	_, err = gateway.NewRegistry(map[models.ProviderType]gateway.ProviderSettings{
		models.ProviderZoho: {SuccessPath: "]["},
	}, gateway.BreakerConfig{}, func(p models.ProviderType) ratelimit.Limiter {
		return ratelimit.NewLocalLimiter(p.String(), ratelimit.Quota{})
	}, logger)
	assert.Error(t, err)
}
