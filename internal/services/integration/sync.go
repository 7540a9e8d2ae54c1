package integration

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	fernctx "github.com/Ramsey-B/fern/pkg/context"
	apperrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/gateway"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/observer"
	"github.com/Ramsey-B/fern/pkg/repositories"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Sync pushes an integration's field mappings to its provider and records the
// outcome. On failure the ERROR status, incremented attempt count and error
// entry are stored before the error is returned.
func (s *Service) Sync(ctx context.Context, id, tenantID uuid.UUID) (*SyncOutcome, error) {
	ctx, span := tracing.StartSpan(ctx, "integration.Sync")
	defer span.End()

	integration, err := s.store.FindByIDAndTenant(ctx, id, tenantID)
	if err != nil {
		return nil, err
	}
	return s.syncRecord(ctx, integration)
}

func (s *Service) syncRecord(ctx context.Context, integration *models.Integration) (*SyncOutcome, error) {
	ctx = fernctx.SetIntegrationID(ctx, integration.ID.String())
	ctx = fernctx.SetTenantID(ctx, integration.TenantID.String())

	if !integration.Status.CanTransitionTo(models.StatusActive) {
		return nil, apperrors.Validation("integration %s is %s and cannot be synced", integration.ID, integration.Status)
	}

	if s.leaser != nil {
		release, err := s.leaser.Lease(ctx, "sync:"+integration.ID.String(), s.cfg.LeaseTTL)
		if isLeaseHeld(err) {
			return nil, apperrors.Conflict("integration %s is already syncing", integration.ID)
		}
		if err != nil {
			return nil, apperrors.Internal("failed to acquire sync lease", err)
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				s.logger.WithContext(ctx).WithError(err).Warn("failed to release sync lease")
			}
		}()
	}

	start := s.now()
	result, syncErr := s.gateway.Sync(ctx, integration.ProviderType, integration.Credentials, integration.Config.FieldMappings)
	if syncErr != nil {
		return nil, s.recordFailure(ctx, integration, result, syncErr, start)
	}
	return s.recordSuccess(ctx, integration, result, start)
}

// recordFailure stores the ERROR outcome even if the caller's context has
// ended, then hands back the sync error. Credentials the gateway refreshed
// before failing are stored with it so a rotated refresh token is not lost.
func (s *Service) recordFailure(ctx context.Context, integration *models.Integration, result *gateway.SyncResult, syncErr error, start time.Time) error {
	attrs := s.syncAttrs(integration)
	attrs[observer.AttrErrorKind] = string(apperrors.KindOf(syncErr))

	update := repositories.StatusUpdate{
		Status:            models.StatusError,
		IncrementAttempts: true,
		SyncErrors:        models.AppendSyncError(integration.SyncErrors, errorEntry(s.now(), integration.ProviderType, syncErr)),
	}
	if result != nil && result.Refreshed {
		creds := result.Credentials
		update.Credentials = &creds
	}
	persistErr := s.store.UpdateStatus(context.WithoutCancel(ctx), integration, update)
	s.emit(ctx, observer.EventSyncFailure, start, attrs)

	log := s.logger.WithContext(ctx).WithError(syncErr).WithFields(map[string]any{
		"integration_id": integration.ID,
		"tenant_id":      integration.TenantID,
		"provider_type":  integration.ProviderType,
		"sync_attempts":  integration.SyncAttempts,
	})
	if persistErr != nil {
		log.WithField("persist_error", persistErr.Error()).Error("sync failed and the failure could not be recorded")
		return errors.Join(syncErr, persistErr)
	}
	log.Warn("sync failed")
	return syncErr
}

func (s *Service) recordSuccess(ctx context.Context, integration *models.Integration, result *gateway.SyncResult, start time.Time) (*SyncOutcome, error) {
	syncedAt := s.now()
	update := repositories.StatusUpdate{
		Status:     models.StatusActive,
		LastSyncAt: &syncedAt,
	}
	if result.Refreshed {
		creds := result.Credentials
		update.Credentials = &creds
	}

	attrs := s.syncAttrs(integration)
	if err := s.store.UpdateStatus(context.WithoutCancel(ctx), integration, update); err != nil {
		attrs[observer.AttrErrorKind] = string(apperrors.KindOf(err))
		s.emit(ctx, observer.EventSyncFailure, start, attrs)
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"integration_id": integration.ID,
		}).Error("sync succeeded but the result could not be recorded")
		return nil, err
	}

	for _, batchErr := range result.Errors {
		if batchErr.Size == 0 {
			continue
		}
		batchAttrs := s.syncAttrs(integration)
		batchAttrs[observer.AttrBatch] = batchErr.Batch
		batchAttrs[observer.AttrFailed] = batchErr.Size
		batchAttrs[observer.AttrErrorKind] = string(batchErr.Kind)
		s.emit(ctx, observer.EventSyncBatchFailure, start, batchAttrs)
	}

	attrs[observer.AttrSuccess] = result.Success
	attrs[observer.AttrFailed] = result.Failed
	s.emit(ctx, observer.EventSyncSuccess, start, attrs)

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"integration_id": integration.ID,
		"tenant_id":      integration.TenantID,
		"provider_type":  integration.ProviderType,
		"success":        result.Success,
		"failed":         result.Failed,
		"refreshed":      result.Refreshed,
		"duration_ms":    syncedAt.Sub(start).Milliseconds(),
	}).Info("sync completed")
	return &SyncOutcome{Integration: integration, Result: result}, nil
}

func (s *Service) syncAttrs(integration *models.Integration) map[string]any {
	return map[string]any{
		observer.AttrTenantID:      integration.TenantID.String(),
		observer.AttrIntegrationID: integration.ID.String(),
		observer.AttrProviderType:  integration.ProviderType.String(),
	}
}

// ProcessPendingSync syncs every ACTIVE or ERROR integration that never synced
// or is older than the staleness window, oldest first. A failing integration
// is logged and counted; it never stops the pass. A nil tenantID spans every
// tenant.
func (s *Service) ProcessPendingSync(ctx context.Context, tenantID *uuid.UUID) (PendingSyncReport, error) {
	ctx, span := tracing.StartSpan(ctx, "integration.ProcessPendingSync")
	defer span.End()

	var report PendingSyncReport
	pending, err := s.store.FindPendingSync(ctx, tenantID, s.now().Add(-s.cfg.StalenessWindow), s.cfg.PendingLimit)
	if err != nil {
		return report, err
	}

	for i := range pending {
		if ctx.Err() != nil {
			s.logger.WithContext(ctx).WithFields(map[string]any{
				"remaining": len(pending) - i,
			}).Warn("pending sync pass stopped early")
			break
		}

		integration := &pending[i]
		report.Processed++
		if _, err := s.syncRecord(ctx, integration); err != nil {
			report.Failed++
			s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"integration_id": integration.ID,
				"tenant_id":      integration.TenantID,
				"provider_type":  integration.ProviderType,
			}).Warn("pending sync failed for integration")
			continue
		}
		report.Succeeded++
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"processed": report.Processed,
		"succeeded": report.Succeeded,
		"failed":    report.Failed,
	}).Info("pending sync pass finished")
	return report, nil
}
