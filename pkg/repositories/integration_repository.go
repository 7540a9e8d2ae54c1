package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/fern/pkg/database"
	apperrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const integrationsTable = "integrations"

// integrationRow is the persisted shape of models.Integration. Credentials
// only ever exist here as ciphertext.
type integrationRow struct {
	ID                   uuid.UUID                                `db:"id"`
	TenantID             uuid.UUID                                `db:"tenant_id"`
	ProviderType         string                                   `db:"provider_type"`
	Credentials          []byte                                   `db:"credentials"`
	Config               database.JSONB[models.IntegrationConfig] `db:"config"`
	Status               string                                   `db:"status"`
	LastSyncAt           *time.Time                               `db:"last_sync_at"`
	SyncAttempts         int                                      `db:"sync_attempts"`
	SyncErrors           database.JSONB[[]models.SyncErrorEntry]  `db:"sync_errors"`
	CredentialsUpdatedAt time.Time                                `db:"credentials_updated_at"`
	CreatedAt            time.Time                                `db:"created_at"`
	UpdatedAt            time.Time                                `db:"updated_at"`
	DeletedAt            *time.Time                               `db:"deleted_at"`
}

var integrationStruct = database.NewStruct(new(integrationRow))

// StatusUpdate describes a sync outcome write. SyncErrors and Credentials are
// left untouched when nil.
type StatusUpdate struct {
	Status            models.Status
	LastSyncAt        *time.Time
	IncrementAttempts bool
	SyncErrors        []models.SyncErrorEntry
	Credentials       *models.Credentials
}

// IntegrationRepository stores integrations in postgres.
type IntegrationRepository struct {
	*Repository
	cipher CredentialCipher
}

func NewIntegrationRepository(db database.DB, cipher CredentialCipher, logger ectologger.Logger) *IntegrationRepository {
	return &IntegrationRepository{
		Repository: NewRepository(db, logger),
		cipher:     cipher,
	}
}

func (r *IntegrationRepository) sealCredentials(id uuid.UUID, creds models.Credentials) ([]byte, error) {
	plaintext, err := json.Marshal(creds)
	if err != nil {
		return nil, err
	}
	return r.cipher.Encrypt(plaintext, id[:])
}

func (r *IntegrationRepository) toModel(row integrationRow) (*models.Integration, error) {
	plaintext, err := r.cipher.Decrypt(row.Credentials, row.ID[:])
	if err != nil {
		return nil, err
	}
	var creds models.Credentials
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return nil, err
	}

	syncErrors := row.SyncErrors.GetValue()
	if syncErrors == nil {
		syncErrors = []models.SyncErrorEntry{}
	}

	return &models.Integration{
		ID:                   row.ID,
		TenantID:             row.TenantID,
		ProviderType:         models.ProviderType(row.ProviderType),
		Credentials:          creds,
		Config:               row.Config.GetValue(),
		Status:               models.Status(row.Status),
		LastSyncAt:           row.LastSyncAt,
		SyncAttempts:         row.SyncAttempts,
		SyncErrors:           syncErrors,
		CredentialsUpdatedAt: row.CredentialsUpdatedAt,
		CreatedAt:            row.CreatedAt,
		UpdatedAt:            row.UpdatedAt,
		DeletedAt:            row.DeletedAt,
	}, nil
}

func (r *IntegrationRepository) toModels(ctx context.Context, rows []integrationRow) ([]models.Integration, error) {
	out := make([]models.Integration, 0, len(rows))
	for _, row := range rows {
		integration, err := r.toModel(row)
		if err != nil {
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"integration_id": row.ID,
			}).Error("failed to decode integration")
			return nil, apperrors.Internal("failed to decode integration", err)
		}
		out = append(out, *integration)
	}
	return out, nil
}

// Create inserts a new integration. A live integration for the same tenant and
// provider surfaces as a conflict.
func (r *IntegrationRepository) Create(ctx context.Context, integration *models.Integration) error {
	ctx, span := tracing.StartSpan(ctx, "IntegrationRepository.Create")
	defer span.End()

	if integration.ID == uuid.Nil {
		integration.ID = uuid.New()
	}
	if integration.SyncErrors == nil {
		integration.SyncErrors = []models.SyncErrorEntry{}
	}

	sealed, err := r.sealCredentials(integration.ID, integration.Credentials)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"integration_id": integration.ID,
		}).Error("failed to encrypt credentials")
		return apperrors.Internal("failed to create integration", err)
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(integrationsTable).
		Cols("id", "tenant_id", "provider_type", "credentials", "config", "status", "last_sync_at",
			"sync_attempts", "sync_errors", "credentials_updated_at", "created_at", "updated_at").
		Values(integration.ID, integration.TenantID, string(integration.ProviderType), sealed,
			database.NewJSONB(integration.Config), string(integration.Status), integration.LastSyncAt,
			integration.SyncAttempts, database.NewJSONB(integration.SyncErrors),
			sqlbuilder.Raw("NOW()"), sqlbuilder.Raw("NOW()"), sqlbuilder.Raw("NOW()")).
		Returning("credentials_updated_at", "created_at", "updated_at")

	query, args := ib.Build()
	err = r.DB().QueryRowxContext(ctx, query, args...).
		Scan(&integration.CredentialsUpdatedAt, &integration.CreatedAt, &integration.UpdatedAt)
	if isUniqueViolation(err) {
		return apperrors.Conflict("an integration for provider %s already exists for this tenant", integration.ProviderType).
			WithProvider(string(integration.ProviderType))
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"integration_id": integration.ID,
		}).Error("failed to create integration")
		return apperrors.Internal("failed to create integration", err)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"integration_id": integration.ID,
		"tenant_id":      integration.TenantID,
		"provider_type":  integration.ProviderType,
	}).Debugf("Created %s", integrationsTable)
	return nil
}

func (r *IntegrationRepository) getOne(ctx context.Context, sb *database.SelectBuilder, notFound error) (*models.Integration, error) {
	query, args := sb.Build()
	var row integrationRow
	err := r.DB().GetContext(ctx, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to get integration")
		return nil, apperrors.Internal("failed to get integration", err)
	}

	integrations, err := r.toModels(ctx, []integrationRow{row})
	if err != nil {
		return nil, err
	}
	return &integrations[0], nil
}

// FindByIDAndTenant loads a live integration owned by tenantID. Another
// tenant's id looks exactly like a missing one.
func (r *IntegrationRepository) FindByIDAndTenant(ctx context.Context, id, tenantID uuid.UUID) (*models.Integration, error) {
	ctx, span := tracing.StartSpan(ctx, "IntegrationRepository.FindByIDAndTenant")
	defer span.End()

	sb := integrationStruct.SelectFrom(integrationsTable)
	sb.Where(sb.Equal("tenant_id", tenantID), sb.Equal("id", id), sb.IsNull("deleted_at"))

	return r.getOne(ctx, sb, apperrors.NotFound("integration %s does not exist", id))
}

// FindByTenantAndProvider loads the live integration for a tenant and provider.
func (r *IntegrationRepository) FindByTenantAndProvider(ctx context.Context, tenantID uuid.UUID, provider models.ProviderType) (*models.Integration, error) {
	ctx, span := tracing.StartSpan(ctx, "IntegrationRepository.FindByTenantAndProvider")
	defer span.End()

	sb := integrationStruct.SelectFrom(integrationsTable)
	sb.Where(sb.Equal("tenant_id", tenantID), sb.Equal("provider_type", string(provider)), sb.IsNull("deleted_at"))

	return r.getOne(ctx, sb, apperrors.NotFound("no %s integration exists for this tenant", provider))
}

// FindByTenant lists a tenant's live integrations.
func (r *IntegrationRepository) FindByTenant(ctx context.Context, tenantID uuid.UUID) ([]models.Integration, error) {
	ctx, span := tracing.StartSpan(ctx, "IntegrationRepository.FindByTenant")
	defer span.End()

	sb := integrationStruct.SelectFrom(integrationsTable)
	sb.Where(sb.Equal("tenant_id", tenantID), sb.IsNull("deleted_at"))
	sb.OrderBy("created_at")

	query, args := sb.Build()
	var rows []integrationRow
	if err := r.DB().SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"tenant_id": tenantID,
		}).Error("failed to list integrations")
		return nil, apperrors.Internal("failed to list integrations", err)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"tenant_id":         tenantID,
		"integration_count": len(rows),
	}).Debugf("Listed %s", integrationsTable)
	return r.toModels(ctx, rows)
}

// Update writes config and, when credentialsChanged, re-encrypted credentials.
func (r *IntegrationRepository) Update(ctx context.Context, integration *models.Integration, credentialsChanged bool) error {
	ctx, span := tracing.StartSpan(ctx, "IntegrationRepository.Update")
	defer span.End()

	ub := database.NewUpdateBuilder()
	assignments := []string{
		ub.Assign("config", database.NewJSONB(integration.Config)),
		ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
	}
	if credentialsChanged {
		sealed, err := r.sealCredentials(integration.ID, integration.Credentials)
		if err != nil {
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"integration_id": integration.ID,
			}).Error("failed to encrypt credentials")
			return apperrors.Internal("failed to update integration", err)
		}
		assignments = append(assignments,
			ub.Assign("credentials", sealed),
			ub.Assign("credentials_updated_at", sqlbuilder.Raw("NOW()")),
		)
	}

	ub.Update(integrationsTable).
		Set(assignments...).
		Where(ub.Equal("tenant_id", integration.TenantID), ub.Equal("id", integration.ID), ub.IsNull("deleted_at"))
	ub.SQL("RETURNING updated_at, credentials_updated_at")

	query, args := ub.Build()
	err := r.DB().QueryRowxContext(ctx, query, args...).Scan(&integration.UpdatedAt, &integration.CredentialsUpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.NotFound("integration %s does not exist", integration.ID)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"integration_id": integration.ID,
		}).Error("failed to update integration")
		return apperrors.Internal("failed to update integration", err)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"integration_id":      integration.ID,
		"credentials_changed": credentialsChanged,
	}).Debugf("Updated %s", integrationsTable)
	return nil
}

// UpdateStatus records a lifecycle change as one single-row write and copies
// the stored result back onto integration.
func (r *IntegrationRepository) UpdateStatus(ctx context.Context, integration *models.Integration, update StatusUpdate) error {
	ctx, span := tracing.StartSpan(ctx, "IntegrationRepository.UpdateStatus")
	defer span.End()

	ub := database.NewUpdateBuilder()
	assignments := []string{
		ub.Assign("status", string(update.Status)),
		ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
	}
	if update.LastSyncAt != nil {
		assignments = append(assignments, ub.Assign("last_sync_at", *update.LastSyncAt))
	}
	if update.IncrementAttempts {
		assignments = append(assignments, ub.Incr("sync_attempts"))
	}
	if update.SyncErrors != nil {
		assignments = append(assignments, ub.Assign("sync_errors", database.NewJSONB(update.SyncErrors)))
	}
	if update.Credentials != nil {
		sealed, err := r.sealCredentials(integration.ID, *update.Credentials)
		if err != nil {
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"integration_id": integration.ID,
			}).Error("failed to encrypt credentials")
			return apperrors.Internal("failed to update integration status", err)
		}
		assignments = append(assignments,
			ub.Assign("credentials", sealed),
			ub.Assign("credentials_updated_at", sqlbuilder.Raw("NOW()")),
		)
	}

	ub.Update(integrationsTable).
		Set(assignments...).
		Where(ub.Equal("tenant_id", integration.TenantID), ub.Equal("id", integration.ID), ub.IsNull("deleted_at"))
	ub.SQL("RETURNING sync_attempts, updated_at, credentials_updated_at")

	query, args := ub.Build()
	var attempts int
	var updatedAt, credentialsUpdatedAt time.Time
	err := r.DB().QueryRowxContext(ctx, query, args...).Scan(&attempts, &updatedAt, &credentialsUpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.NotFound("integration %s does not exist", integration.ID)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"integration_id": integration.ID,
			"status":         update.Status,
		}).Error("failed to update integration status")
		return apperrors.Internal("failed to update integration status", err)
	}

	integration.Status = update.Status
	integration.SyncAttempts = attempts
	integration.UpdatedAt = updatedAt
	integration.CredentialsUpdatedAt = credentialsUpdatedAt
	if update.LastSyncAt != nil {
		integration.LastSyncAt = update.LastSyncAt
	}
	if update.SyncErrors != nil {
		integration.SyncErrors = update.SyncErrors
	}
	if update.Credentials != nil {
		integration.Credentials = *update.Credentials
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"integration_id": integration.ID,
		"status":         update.Status,
		"sync_attempts":  attempts,
	}).Debugf("Updated %s status", integrationsTable)
	return nil
}

// Delete soft-deletes an integration, freeing its tenant and provider slot.
func (r *IntegrationRepository) Delete(ctx context.Context, id, tenantID uuid.UUID) error {
	ctx, span := tracing.StartSpan(ctx, "IntegrationRepository.Delete")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(integrationsTable).
		Set(
			ub.Assign("deleted_at", sqlbuilder.Raw("NOW()")),
			ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
		).
		Where(ub.Equal("tenant_id", tenantID), ub.Equal("id", id), ub.IsNull("deleted_at"))

	query, args := ub.Build()
	result, err := r.DB().ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"integration_id": id,
		}).Error("failed to delete integration")
		return apperrors.Internal("failed to delete integration", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"integration_id": id,
		}).Error("failed to delete integration")
		return apperrors.Internal("failed to delete integration", err)
	}
	if rows == 0 {
		return apperrors.NotFound("integration %s does not exist", id)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"integration_id": id,
	}).Debugf("Deleted %s", integrationsTable)
	return nil
}

// FindPendingSync returns ACTIVE and ERROR integrations that never synced or
// last synced before staleBefore, oldest first with never-synced rows leading.
// A nil tenantID spans all tenants.
func (r *IntegrationRepository) FindPendingSync(ctx context.Context, tenantID *uuid.UUID, staleBefore time.Time, limit int) ([]models.Integration, error) {
	ctx, span := tracing.StartSpan(ctx, "IntegrationRepository.FindPendingSync")
	defer span.End()

	statuses := ectolinq.Map(models.SyncableStatuses, func(status models.Status) any {
		return string(status)
	})

	sb := integrationStruct.SelectFrom(integrationsTable)
	sb.Where(
		sb.In("status", statuses...),
		sb.IsNull("deleted_at"),
		sb.Or(sb.IsNull("last_sync_at"), sb.LessThan("last_sync_at", staleBefore)),
	)
	if tenantID != nil {
		sb.Where(sb.Equal("tenant_id", *tenantID))
	}
	sb.OrderBy("last_sync_at ASC NULLS FIRST", "created_at ASC")
	if limit > 0 {
		sb.Limit(limit)
	}

	query, args := sb.Build()
	var rows []integrationRow
	if err := r.DB().SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to query pending integrations")
		return nil, apperrors.Internal("failed to query pending integrations", err)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"integration_count": len(rows),
	}).Debug("Found integrations pending sync")
	return r.toModels(ctx, rows)
}
