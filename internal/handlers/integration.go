package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/internal/services/integration"
	"github.com/Ramsey-B/fern/pkg/gateway"
	"github.com/Ramsey-B/fern/pkg/models"
)

type IntegrationService interface {
	Create(ctx context.Context, tenantID uuid.UUID, input integration.CreateInput) (*models.Integration, error)
	Update(ctx context.Context, id, tenantID uuid.UUID, patch integration.UpdatePatch) (*models.Integration, error)
	Get(ctx context.Context, id, tenantID uuid.UUID) (*models.Integration, error)
	List(ctx context.Context, tenantID uuid.UUID) ([]models.Integration, error)
	Delete(ctx context.Context, id, tenantID uuid.UUID) error
	Deactivate(ctx context.Context, id, tenantID uuid.UUID) (*models.Integration, error)
	Sync(ctx context.Context, id, tenantID uuid.UUID) (*integration.SyncOutcome, error)
	ProcessPendingSync(ctx context.Context, tenantID *uuid.UUID) (integration.PendingSyncReport, error)
}

type IntegrationHandler struct {
	service IntegrationService
}

func NewIntegrationHandler(service IntegrationService) *IntegrationHandler {
	return &IntegrationHandler{service: service}
}

type CreateIntegrationRequest struct {
	ProviderType models.ProviderType      `json:"provider_type"`
	Credentials  models.Credentials       `json:"credentials"`
	Config       models.IntegrationConfig `json:"config"`
}

// UpdateIntegrationRequest carries a partial update; omitted sections are kept.
type UpdateIntegrationRequest struct {
	Credentials *models.CredentialsPatch  `json:"credentials,omitempty"`
	Config      *models.IntegrationConfig `json:"config,omitempty"`
}

// IntegrationResponse is the outward view of an integration. Secrets never
// leave the service.
type IntegrationResponse struct {
	ID                   uuid.UUID                  `json:"id"`
	TenantID             uuid.UUID                  `json:"tenant_id"`
	ProviderType         models.ProviderType        `json:"provider_type"`
	Credentials          models.RedactedCredentials `json:"credentials"`
	Config               models.IntegrationConfig   `json:"config"`
	Status               models.Status              `json:"status"`
	LastSyncAt           *time.Time                 `json:"last_sync_at"`
	SyncAttempts         int                        `json:"sync_attempts"`
	SyncErrors           []models.SyncErrorEntry    `json:"sync_errors"`
	CredentialsUpdatedAt time.Time                  `json:"credentials_updated_at"`
	CreatedAt            time.Time                  `json:"created_at"`
	UpdatedAt            time.Time                  `json:"updated_at"`
}

type SyncResponse struct {
	Integration IntegrationResponse `json:"integration"`
	Result      *gateway.SyncResult `json:"result"`
}

func toResponse(i *models.Integration) IntegrationResponse {
	syncErrors := i.SyncErrors
	if syncErrors == nil {
		syncErrors = []models.SyncErrorEntry{}
	}
	return IntegrationResponse{
		ID:                   i.ID,
		TenantID:             i.TenantID,
		ProviderType:         i.ProviderType,
		Credentials:          i.Credentials.Redacted(),
		Config:               i.Config,
		Status:               i.Status,
		LastSyncAt:           i.LastSyncAt,
		SyncAttempts:         i.SyncAttempts,
		SyncErrors:           syncErrors,
		CredentialsUpdatedAt: i.CredentialsUpdatedAt,
		CreatedAt:            i.CreatedAt,
		UpdatedAt:            i.UpdatedAt,
	}
}

func (h *IntegrationHandler) RegisterRoutes(g *echo.Group) {
	integrations := g.Group("/integrations")
	integrations.POST("", h.Create)
	integrations.GET("", h.List)
	integrations.POST("/pending-sync", h.ProcessPendingSync)
	integrations.GET("/:id", h.Get)
	integrations.PATCH("/:id", h.Update)
	integrations.DELETE("/:id", h.Delete)
	integrations.POST("/:id/sync", h.Sync)
	integrations.POST("/:id/deactivate", h.Deactivate)
}

// Create handles POST /integrations
func (h *IntegrationHandler) Create(c echo.Context) error {
	tenantID, err := GetTenantID(c)
	if err != nil {
		return err
	}

	var req CreateIntegrationRequest
	if err := c.Bind(&req); err != nil {
		return BadRequest("invalid request body")
	}

	created, err := h.service.Create(c.Request().Context(), tenantID, integration.CreateInput{
		ProviderType: req.ProviderType,
		Credentials:  req.Credentials,
		Config:       req.Config,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, toResponse(created))
}

// List handles GET /integrations
func (h *IntegrationHandler) List(c echo.Context) error {
	tenantID, err := GetTenantID(c)
	if err != nil {
		return err
	}

	integrations, err := h.service.List(c.Request().Context(), tenantID)
	if err != nil {
		return err
	}

	out := make([]IntegrationResponse, 0, len(integrations))
	for i := range integrations {
		out = append(out, toResponse(&integrations[i]))
	}
	return c.JSON(http.StatusOK, out)
}

// Get handles GET /integrations/:id
func (h *IntegrationHandler) Get(c echo.Context) error {
	tenantID, id, err := scope(c)
	if err != nil {
		return err
	}

	found, err := h.service.Get(c.Request().Context(), id, tenantID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toResponse(found))
}

// Update handles PATCH /integrations/:id
func (h *IntegrationHandler) Update(c echo.Context) error {
	tenantID, id, err := scope(c)
	if err != nil {
		return err
	}

	var req UpdateIntegrationRequest
	if err := c.Bind(&req); err != nil {
		return BadRequest("invalid request body")
	}

	updated, err := h.service.Update(c.Request().Context(), id, tenantID, integration.UpdatePatch{
		Credentials: req.Credentials,
		Config:      req.Config,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toResponse(updated))
}

// Delete handles DELETE /integrations/:id
func (h *IntegrationHandler) Delete(c echo.Context) error {
	tenantID, id, err := scope(c)
	if err != nil {
		return err
	}

	if err := h.service.Delete(c.Request().Context(), id, tenantID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// Sync handles POST /integrations/:id/sync
func (h *IntegrationHandler) Sync(c echo.Context) error {
	tenantID, id, err := scope(c)
	if err != nil {
		return err
	}

	outcome, err := h.service.Sync(c.Request().Context(), id, tenantID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, SyncResponse{
		Integration: toResponse(outcome.Integration),
		Result:      outcome.Result,
	})
}

// Deactivate handles POST /integrations/:id/deactivate
func (h *IntegrationHandler) Deactivate(c echo.Context) error {
	tenantID, id, err := scope(c)
	if err != nil {
		return err
	}

	deactivated, err := h.service.Deactivate(c.Request().Context(), id, tenantID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toResponse(deactivated))
}

// ProcessPendingSync handles POST /integrations/pending-sync, running a
// pending pass over the caller's tenant only.
func (h *IntegrationHandler) ProcessPendingSync(c echo.Context) error {
	tenantID, err := GetTenantID(c)
	if err != nil {
		return err
	}

	report, err := h.service.ProcessPendingSync(c.Request().Context(), &tenantID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, report)
}

func scope(c echo.Context) (uuid.UUID, uuid.UUID, error) {
	tenantID, err := GetTenantID(c)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	id, err := ParseUUID(c, "id")
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return tenantID, id, nil
}
