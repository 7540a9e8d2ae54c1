package integration

import (
	"context"
	"errors"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	fernctx "github.com/Ramsey-B/fern/pkg/context"
	apperrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/gateway"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/observer"
	"github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/repositories"
	"github.com/Ramsey-B/fern/pkg/tracing"
	"github.com/Ramsey-B/fern/pkg/validation"
)

const (
	DefaultStalenessWindow = time.Hour
	DefaultPendingLimit    = 500
	DefaultLeaseTTL        = 5 * time.Minute
)

type Store interface {
	Create(ctx context.Context, integration *models.Integration) error
	FindByIDAndTenant(ctx context.Context, id, tenantID uuid.UUID) (*models.Integration, error)
	FindByTenant(ctx context.Context, tenantID uuid.UUID) ([]models.Integration, error)
	FindByTenantAndProvider(ctx context.Context, tenantID uuid.UUID, provider models.ProviderType) (*models.Integration, error)
	Update(ctx context.Context, integration *models.Integration, credentialsChanged bool) error
	UpdateStatus(ctx context.Context, integration *models.Integration, update repositories.StatusUpdate) error
	Delete(ctx context.Context, id, tenantID uuid.UUID) error
	FindPendingSync(ctx context.Context, tenantID *uuid.UUID, staleBefore time.Time, limit int) ([]models.Integration, error)
}

type Gateway interface {
	Connect(ctx context.Context, providerType models.ProviderType, creds models.Credentials) (models.Credentials, error)
	Sync(ctx context.Context, providerType models.ProviderType, creds models.Credentials, mappings []models.FieldMapping) (*gateway.SyncResult, error)
}

// Leaser grants an exclusive, expiring lease on a key.
type Leaser interface {
	Lease(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error)
}

type Config struct {
	// StalenessWindow is how long after its last sync an integration is due again.
	StalenessWindow time.Duration
	// PendingLimit caps how many integrations one pending pass picks up.
	PendingLimit int
	LeaseTTL     time.Duration
}

func (c Config) normalized() Config {
	if c.StalenessWindow <= 0 {
		c.StalenessWindow = DefaultStalenessWindow
	}
	if c.PendingLimit <= 0 {
		c.PendingLimit = DefaultPendingLimit
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = DefaultLeaseTTL
	}
	return c
}

type Option func(*Service)

// WithLeaser makes Sync hold a per-integration lease. Without one, overlapping
// syncs of the same integration are last-writer-wins.
func WithLeaser(leaser Leaser) Option {
	return func(s *Service) {
		s.leaser = leaser
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// Service owns the integration lifecycle.
type Service struct {
	store    Store
	gateway  Gateway
	observer observer.Observer
	leaser   Leaser
	cfg      Config
	logger   ectologger.Logger
	now      func() time.Time
}

func NewService(store Store, gw Gateway, obs observer.Observer, cfg Config, logger ectologger.Logger, opts ...Option) *Service {
	if obs == nil {
		obs = observer.Noop
	}
	s := &Service{
		store:    store,
		gateway:  gw,
		observer: obs,
		cfg:      cfg.normalized(),
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type CreateInput struct {
	ProviderType models.ProviderType
	Credentials  models.Credentials
	Config       models.IntegrationConfig
}

// UpdatePatch changes credentials, config, or both. Nil means unchanged.
type UpdatePatch struct {
	Credentials *models.CredentialsPatch
	Config      *models.IntegrationConfig
}

// SyncOutcome is the stored record after a sync plus what the provider reported.
type SyncOutcome struct {
	Integration *models.Integration `json:"integration"`
	Result      *gateway.SyncResult `json:"result"`
}

type PendingSyncReport struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Create validates, proves the credentials against the provider, and stores a
// PENDING integration.
func (s *Service) Create(ctx context.Context, tenantID uuid.UUID, input CreateInput) (*models.Integration, error) {
	ctx, span := tracing.StartSpan(ctx, "integration.Create")
	defer span.End()

	start := s.now()
	integration, err := s.create(ctx, tenantID, input)

	attrs := map[string]any{
		observer.AttrTenantID:     tenantID.String(),
		observer.AttrProviderType: input.ProviderType.String(),
	}
	if err != nil {
		attrs[observer.AttrErrorKind] = string(apperrors.KindOf(err))
		s.emit(ctx, observer.EventCreateFailure, start, attrs)
		return nil, err
	}

	attrs[observer.AttrIntegrationID] = integration.ID.String()
	s.emit(ctx, observer.EventCreateSuccess, start, attrs)
	s.logger.WithContext(ctx).WithFields(map[string]any{
		"integration_id": integration.ID,
		"tenant_id":      tenantID,
		"provider_type":  integration.ProviderType,
	}).Info("created integration")
	return integration, nil
}

func (s *Service) create(ctx context.Context, tenantID uuid.UUID, input CreateInput) (*models.Integration, error) {
	if err := validation.ValidateProviderType(input.ProviderType); err != nil {
		return nil, err
	}
	if err := validation.ValidateConfig(&input.Config); err != nil {
		return nil, err
	}
	if err := validation.ValidateCredentials(&input.Credentials); err != nil {
		return nil, err
	}

	_, err := s.store.FindByTenantAndProvider(ctx, tenantID, input.ProviderType)
	if err == nil {
		return nil, apperrors.Conflict("an integration for provider %s already exists for this tenant", input.ProviderType).
			WithProvider(input.ProviderType.String())
	}
	if !apperrors.IsNotFound(err) {
		return nil, err
	}

	live, err := s.gateway.Connect(ctx, input.ProviderType, input.Credentials)
	if err != nil {
		return nil, err
	}

	integration := &models.Integration{
		ID:           uuid.New(),
		TenantID:     tenantID,
		ProviderType: input.ProviderType,
		Credentials:  live,
		Config:       input.Config,
		Status:       models.StatusPending,
		SyncAttempts: 0,
		SyncErrors:   []models.SyncErrorEntry{},
	}
	if err := s.store.Create(ctx, integration); err != nil {
		return nil, err
	}
	return integration, nil
}

// Update applies patch. New credentials are merged onto the stored ones and
// proven against the provider before anything is written.
func (s *Service) Update(ctx context.Context, id, tenantID uuid.UUID, patch UpdatePatch) (*models.Integration, error) {
	ctx, span := tracing.StartSpan(ctx, "integration.Update")
	defer span.End()
	ctx = fernctx.SetIntegrationID(ctx, id.String())

	start := s.now()
	integration, err := s.update(ctx, id, tenantID, patch)

	attrs := map[string]any{
		observer.AttrTenantID:      tenantID.String(),
		observer.AttrIntegrationID: id.String(),
	}
	if integration != nil {
		attrs[observer.AttrProviderType] = integration.ProviderType.String()
	}
	if err != nil {
		attrs[observer.AttrErrorKind] = string(apperrors.KindOf(err))
		s.emit(ctx, observer.EventUpdateFailure, start, attrs)
		return nil, err
	}

	s.emit(ctx, observer.EventUpdateSuccess, start, attrs)
	s.logger.WithContext(ctx).WithFields(map[string]any{
		"integration_id":      id,
		"tenant_id":           tenantID,
		"credentials_changed": patch.Credentials != nil,
		"config_changed":      patch.Config != nil,
	}).Info("updated integration")
	return integration, nil
}

func (s *Service) update(ctx context.Context, id, tenantID uuid.UUID, patch UpdatePatch) (*models.Integration, error) {
	if patch.Credentials == nil && patch.Config == nil {
		return nil, apperrors.Validation("update must include credentials or config")
	}

	integration, err := s.store.FindByIDAndTenant(ctx, id, tenantID)
	if err != nil {
		return nil, err
	}

	if patch.Config != nil {
		if err := validation.ValidateConfig(patch.Config); err != nil {
			return integration, err
		}
	}

	var live models.Credentials
	if patch.Credentials != nil {
		merged := patch.Credentials.MergeOnto(integration.Credentials)
		if err := validation.ValidateCredentials(&merged); err != nil {
			return integration, err
		}
		live, err = s.gateway.Connect(ctx, integration.ProviderType, merged)
		if err != nil {
			return integration, err
		}
	}

	updated := *integration
	if patch.Config != nil {
		updated.Config = *patch.Config
	}
	if patch.Credentials != nil {
		updated.Credentials = live
	}
	if err := s.store.Update(ctx, &updated, patch.Credentials != nil); err != nil {
		return integration, err
	}
	return &updated, nil
}

// Get never returns another tenant's integration; a foreign id is NotFound.
func (s *Service) Get(ctx context.Context, id, tenantID uuid.UUID) (*models.Integration, error) {
	ctx, span := tracing.StartSpan(ctx, "integration.Get")
	defer span.End()

	return s.store.FindByIDAndTenant(ctx, id, tenantID)
}

func (s *Service) List(ctx context.Context, tenantID uuid.UUID) ([]models.Integration, error) {
	ctx, span := tracing.StartSpan(ctx, "integration.List")
	defer span.End()

	return s.store.FindByTenant(ctx, tenantID)
}

// Delete soft-deletes, freeing the tenant's slot for that provider.
func (s *Service) Delete(ctx context.Context, id, tenantID uuid.UUID) error {
	ctx, span := tracing.StartSpan(ctx, "integration.Delete")
	defer span.End()

	if err := s.store.Delete(ctx, id, tenantID); err != nil {
		return err
	}
	s.logger.WithContext(ctx).WithFields(map[string]any{
		"integration_id": id,
		"tenant_id":      tenantID,
	}).Info("deleted integration")
	return nil
}

// Deactivate moves an integration to INACTIVE, after which it is never synced.
func (s *Service) Deactivate(ctx context.Context, id, tenantID uuid.UUID) (*models.Integration, error) {
	ctx, span := tracing.StartSpan(ctx, "integration.Deactivate")
	defer span.End()

	integration, err := s.store.FindByIDAndTenant(ctx, id, tenantID)
	if err != nil {
		return nil, err
	}
	if integration.Status == models.StatusInactive {
		return integration, nil
	}

	if err := s.store.UpdateStatus(ctx, integration, repositories.StatusUpdate{Status: models.StatusInactive}); err != nil {
		return nil, err
	}
	s.logger.WithContext(ctx).WithFields(map[string]any{
		"integration_id": id,
		"tenant_id":      tenantID,
	}).Info("deactivated integration")
	return integration, nil
}

func (s *Service) emit(ctx context.Context, name string, start time.Time, attrs map[string]any) {
	s.observer.Observe(ctx, observer.Event{
		Name:       name,
		Duration:   s.now().Sub(start),
		Attributes: attrs,
		OccurredAt: s.now(),
	})
}

func errorEntry(at time.Time, provider models.ProviderType, err error) models.SyncErrorEntry {
	entry := models.SyncErrorEntry{
		OccurredAt: at,
		Kind:       string(apperrors.KindOf(err)),
		Message:    err.Error(),
		Provider:   provider.String(),
	}
	if e, ok := apperrors.As(err); ok {
		entry.StatusCode = e.StatusCode
	}
	return entry
}

func isLeaseHeld(err error) bool {
	return errors.Is(err, redis.ErrLockNotAcquired)
}
