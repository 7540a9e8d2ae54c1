package integration_test

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	apperrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/gateway"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/observer"
	"github.com/Ramsey-B/fern/pkg/repositories"
)

// memoryStore mirrors the repository's tenant scoping, uniqueness and status
// write semantics in memory.
type memoryStore struct {
	mu           sync.Mutex
	records      map[uuid.UUID]models.Integration
	updateErr    error
	statusWrites int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{records: map[uuid.UUID]models.Integration{}}
}

func clone(integration models.Integration) models.Integration {
	integration.Credentials = integration.Credentials.Clone()
	integration.SyncErrors = append([]models.SyncErrorEntry{}, integration.SyncErrors...)
	return integration
}

func (s *memoryStore) put(integration models.Integration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[integration.ID] = clone(integration)
}

func (s *memoryStore) get(id uuid.UUID) models.Integration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.records[id])
}

func (s *memoryStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *memoryStore) Create(ctx context.Context, integration *models.Integration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.records {
		if existing.TenantID == integration.TenantID && existing.ProviderType == integration.ProviderType && existing.DeletedAt == nil {
			return apperrors.Conflict("duplicate")
		}
	}
	now := time.Now()
	integration.CreatedAt, integration.UpdatedAt, integration.CredentialsUpdatedAt = now, now, now
	s.records[integration.ID] = clone(*integration)
	return nil
}

func (s *memoryStore) live(id, tenantID uuid.UUID) (models.Integration, error) {
	existing, ok := s.records[id]
	if !ok || existing.TenantID != tenantID || existing.DeletedAt != nil {
		return models.Integration{}, apperrors.NotFound("integration %s does not exist", id)
	}
	return existing, nil
}

func (s *memoryStore) FindByIDAndTenant(_ context.Context, id, tenantID uuid.UUID) (*models.Integration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, err := s.live(id, tenantID)
	if err != nil {
		return nil, err
	}
	out := clone(existing)
	return &out, nil
}

func (s *memoryStore) FindByTenant(_ context.Context, tenantID uuid.UUID) ([]models.Integration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Integration{}
	for _, existing := range s.records {
		if existing.TenantID == tenantID && existing.DeletedAt == nil {
			out = append(out, clone(existing))
		}
	}
	return out, nil
}

func (s *memoryStore) FindByTenantAndProvider(_ context.Context, tenantID uuid.UUID, provider models.ProviderType) (*models.Integration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.records {
		if existing.TenantID == tenantID && existing.ProviderType == provider && existing.DeletedAt == nil {
			out := clone(existing)
			return &out, nil
		}
	}
	return nil, apperrors.NotFound("not found")
}

func (s *memoryStore) Update(ctx context.Context, integration *models.Integration, credentialsChanged bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, err := s.live(integration.ID, integration.TenantID)
	if err != nil {
		return err
	}
	existing.Config = integration.Config
	if credentialsChanged {
		existing.Credentials = integration.Credentials.Clone()
		existing.CredentialsUpdatedAt = time.Now()
	}
	existing.UpdatedAt = time.Now()
	s.records[existing.ID] = existing
	integration.UpdatedAt = existing.UpdatedAt
	integration.CredentialsUpdatedAt = existing.CredentialsUpdatedAt
	return nil
}

// UpdateStatus refuses cancelled contexts so tests catch writes that would be
// abandoned with the caller's request.
func (s *memoryStore) UpdateStatus(ctx context.Context, integration *models.Integration, update repositories.StatusUpdate) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Internal("context done", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusWrites++
	if s.updateErr != nil {
		return s.updateErr
	}
	existing, err := s.live(integration.ID, integration.TenantID)
	if err != nil {
		return err
	}

	existing.Status = update.Status
	if update.LastSyncAt != nil {
		existing.LastSyncAt = update.LastSyncAt
	}
	if update.IncrementAttempts {
		existing.SyncAttempts++
	}
	if update.SyncErrors != nil {
		existing.SyncErrors = update.SyncErrors
	}
	if update.Credentials != nil {
		existing.Credentials = update.Credentials.Clone()
		existing.CredentialsUpdatedAt = time.Now()
	}
	s.records[existing.ID] = clone(existing)

	*integration = clone(existing)
	return nil
}

func (s *memoryStore) Delete(_ context.Context, id, tenantID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, err := s.live(id, tenantID)
	if err != nil {
		return err
	}
	now := time.Now()
	existing.DeletedAt = &now
	s.records[id] = existing
	return nil
}

func (s *memoryStore) FindPendingSync(_ context.Context, tenantID *uuid.UUID, staleBefore time.Time, limit int) ([]models.Integration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Integration{}
	for _, existing := range s.records {
		if existing.DeletedAt != nil || (existing.Status != models.StatusActive && existing.Status != models.StatusError) {
			continue
		}
		if tenantID != nil && existing.TenantID != *tenantID {
			continue
		}
		if existing.LastSyncAt != nil && !existing.LastSyncAt.Before(staleBefore) {
			continue
		}
		out = append(out, clone(existing))
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].LastSyncAt, out[j].LastSyncAt
		if a == nil || b == nil {
			return a == nil && b != nil
		}
		return a.Before(*b)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) Connect(ctx context.Context, providerType models.ProviderType, creds models.Credentials) (models.Credentials, error) {
	args := m.Called(ctx, providerType, creds)
	return args.Get(0).(models.Credentials), args.Error(1)
}

func (m *MockGateway) Sync(ctx context.Context, providerType models.ProviderType, creds models.Credentials, mappings []models.FieldMapping) (*gateway.SyncResult, error) {
	args := m.Called(ctx, providerType, creds, mappings)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.SyncResult), args.Error(1)
}

type eventRecorder struct {
	mu     sync.Mutex
	events []observer.Event
}

func (r *eventRecorder) Observe(_ context.Context, event observer.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *eventRecorder) named(name string) []observer.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []observer.Event
	for _, e := range r.events {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

type fakeLeaser struct {
	mu       sync.Mutex
	held     map[string]bool
	released []string
	err      error
}

func newFakeLeaser() *fakeLeaser {
	return &fakeLeaser{held: map[string]bool{}}
}

func (l *fakeLeaser) Lease(_ context.Context, key string, _ time.Duration) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	l.held[key] = true
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
		l.released = append(l.released, key)
		return nil
	}, nil
}
