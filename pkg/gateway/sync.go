package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"net/http"
	"time"

	apperrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// maxErrorBody bounds how much of a failed response ends up in an error.
const maxErrorBody = 512

// SyncError is one failure inside a sync. Batch is the zero-based batch index.
// Size is the number of mappings counted failed because of it.
type SyncError struct {
	Batch      int            `json:"batch"`
	Size       int            `json:"size"`
	Kind       apperrors.Kind `json:"kind"`
	Message    string         `json:"message"`
	StatusCode int            `json:"status_code,omitempty"`
	Detail     any            `json:"detail,omitempty"`
}

// SyncResult aggregates every batch of one sync. Credentials are the ones the
// batches ran with; Refreshed reports whether they differ from the input.
// When a refresh succeeded but the sync could not start, Sync returns a result
// carrying only the refreshed credentials alongside the error.
type SyncResult struct {
	Success     int                `json:"success"`
	Failed      int                `json:"failed"`
	Batches     int                `json:"batches"`
	Errors      []SyncError        `json:"errors"`
	Details     map[string]any     `json:"details"`
	Credentials models.Credentials `json:"-"`
	Refreshed   bool               `json:"refreshed"`
}

type syncRequest struct {
	Mappings []models.FieldMapping `json:"mappings"`
	Options  syncOptions           `json:"options"`
}

type syncOptions struct {
	Upsert bool `json:"upsert"`
}

type batchOutcome struct {
	success int
	errors  []any
	details map[string]any
}

// Sync pushes mappings to the provider in sequential batches. A failing batch
// is counted and recorded, then the next batch runs. Only an open breaker,
// a failed Connect or a missing instance URL fails the whole call.
func (g *Gateway) Sync(ctx context.Context, providerType models.ProviderType, creds models.Credentials, mappings []models.FieldMapping) (*SyncResult, error) {
	ctx, span := tracing.StartSpan(ctx, "Gateway.Sync")
	defer span.End()

	provider, err := g.registry.Get(providerType)
	if err != nil {
		return nil, err
	}
	name := providerType.String()
	if provider.IsOpen() {
		return nil, apperrors.CircuitOpen(name)
	}

	live, refreshed, err := g.connect(ctx, provider, creds)
	if err != nil {
		return nil, err
	}
	instanceURL, err := provider.instanceURL(live)
	if err != nil {
		if refreshed {
			return &SyncResult{Errors: []SyncError{}, Details: map[string]any{}, Credentials: live, Refreshed: true}, err
		}
		return nil, err
	}
	endpoint := fmt.Sprintf("%s/api/%s/sync", instanceURL, provider.Settings().APIVersion)

	batches := chunk(mappings, g.cfg.BatchSize)
	result := &SyncResult{
		Batches:     len(batches),
		Errors:      []SyncError{},
		Details:     map[string]any{},
		Credentials: live,
		Refreshed:   refreshed,
	}

	for i, batch := range batches {
		outcome, err := g.syncBatch(ctx, provider, endpoint, live.AccessToken, batch)
		if err != nil {
			result.Failed += len(batch)
			result.Errors = append(result.Errors, batchError(i, len(batch), err))
			g.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"provider_type": name,
				"batch":         i,
				"batch_size":    len(batch),
			}).Warn("Sync batch failed")
			continue
		}

		result.Success += outcome.success
		result.Failed += len(outcome.errors)
		for _, detail := range outcome.errors {
			result.Errors = append(result.Errors, SyncError{
				Batch:   i,
				Kind:    apperrors.KindProvider,
				Message: "record rejected by provider",
				Detail:  detail,
			})
		}
		maps.Copy(result.Details, outcome.details)
	}

	metrics.RecordSyncRecords(name, result.Success, result.Failed)
	g.logger.WithContext(ctx).WithFields(map[string]any{
		"provider_type": name,
		"batches":       result.Batches,
		"success":       result.Success,
		"failed":        result.Failed,
	}).Debug("Sync completed")
	return result, nil
}

func (g *Gateway) syncBatch(ctx context.Context, provider *Provider, endpoint, accessToken string, batch []models.FieldMapping) (*batchOutcome, error) {
	name := provider.Type().String()
	payload, err := json.Marshal(syncRequest{Mappings: batch, Options: syncOptions{Upsert: true}})
	if err != nil {
		return nil, apperrors.Internal("failed to encode sync batch", err)
	}

	var outcome *batchOutcome
	err = provider.execute(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return apperrors.Validation("invalid sync endpoint %s", endpoint).WithProvider(name)
		}
		req.Header.Set("Authorization", "Bearer "+accessToken)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		start := time.Now()
		resp, err := g.client.Do(req)
		if err != nil {
			recordProviderCall(name, "sync", 0, start)
			return apperrors.Provider(name, 0, err)
		}
		defer resp.Body.Close()
		recordProviderCall(name, "sync", resp.StatusCode, start)

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return apperrors.Provider(name, resp.StatusCode, err)
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			return g.throttled(resp.Header, apperrors.RateLimitExceeded(name, fmt.Errorf("provider responded 429: %s", truncate(body))))
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return apperrors.Provider(name, resp.StatusCode, fmt.Errorf("%s", truncate(body)))
		}

		outcome, err = provider.paths.extract(body)
		if err != nil {
			return apperrors.Provider(name, resp.StatusCode, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

func (p responsePaths) extract(body []byte) (*batchOutcome, error) {
	var doc any
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &doc); err != nil {
			return nil, fmt.Errorf("invalid sync response: %w", err)
		}
	}

	success, err := p.success.Search(doc)
	if err != nil {
		return nil, err
	}
	errs, err := p.errors.Search(doc)
	if err != nil {
		return nil, err
	}
	details, err := p.details.Search(doc)
	if err != nil {
		return nil, err
	}

	outcome := &batchOutcome{success: count(success), details: map[string]any{}}
	if list, ok := errs.([]any); ok {
		outcome.errors = list
	}
	if m, ok := details.(map[string]any); ok {
		outcome.details = m
	}
	return outcome, nil
}

// count accepts a list of synced records or a bare number.
func count(v any) int {
	switch n := v.(type) {
	case []any:
		return len(n)
	case float64:
		return int(n)
	}
	return 0
}

func batchError(batch, size int, err error) SyncError {
	out := SyncError{Batch: batch, Size: size, Kind: apperrors.KindOf(err), Message: err.Error()}
	if e, ok := apperrors.As(err); ok {
		out.StatusCode = e.StatusCode
	}
	return out
}

func chunk[T any](items []T, size int) [][]T {
	batches := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		batches = append(batches, items[start:end])
	}
	return batches
}

func truncate(body []byte) string {
	if len(body) > maxErrorBody {
		return string(body[:maxErrorBody]) + "..."
	}
	return string(body)
}

func recordProviderCall(provider, operation string, statusCode int, start time.Time) {
	metrics.RecordProviderRequest(provider, operation, statusCode, time.Since(start).Seconds())
}
