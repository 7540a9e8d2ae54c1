package handlers

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	fernctx "github.com/Ramsey-B/fern/pkg/context"
)

// ParseUUID parses a UUID path parameter.
func ParseUUID(c echo.Context, param string) (uuid.UUID, error) {
	raw := c.Param(param)
	if raw == "" {
		return uuid.Nil, httperror.NewHTTPError(http.StatusBadRequest, "missing "+param)
	}

	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, httperror.NewHTTPErrorf(http.StatusBadRequest, "invalid %s: must be a valid UUID", param)
	}
	return id, nil
}

// GetTenantID reads the tenant placed on the request context by the context
// or authentication middleware.
func GetTenantID(c echo.Context) (uuid.UUID, error) {
	raw := fernctx.GetTenantID(c.Request().Context())
	if raw == "" {
		return uuid.Nil, httperror.NewHTTPError(http.StatusUnauthorized, "tenant is required")
	}

	tenantID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, httperror.NewHTTPError(http.StatusBadRequest, "invalid tenant id")
	}
	return tenantID, nil
}

func BadRequest(message string) error {
	return httperror.NewHTTPError(http.StatusBadRequest, message)
}
