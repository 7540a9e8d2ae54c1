package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticBreakers map[string]string

func (b staticBreakers) BreakerStates() map[string]string { return b }

func ok(context.Context) error { return nil }

func serve(t *testing.T, c *Checker, path string) (int, Response) {
	t.Helper()
	e := echo.New()
	c.RegisterRoutes(e)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec.Code, resp
}

func TestHealthy(t *testing.T) {
	c := NewChecker(PingerFunc(ok), PingerFunc(ok), staticBreakers{"SALESFORCE": "closed"}, "test")

	code, resp := serve(t, c, "/api/v1/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Contains(t, resp.Checks, "database")
	assert.Contains(t, resp.Checks, "redis")
	assert.Equal(t, StatusHealthy, resp.Checks["provider:SALESFORCE"].Status)
}

func TestOpenBreakerDegrades(t *testing.T) {
	c := NewChecker(PingerFunc(ok), nil, staticBreakers{"SALESFORCE": "closed", "HUBSPOT": "open"}, "test")

	code, resp := serve(t, c, "/api/v1/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, StatusDegraded, resp.Status)
	assert.Equal(t, "breaker open", resp.Checks["provider:HUBSPOT"].Message)
	assert.NotContains(t, resp.Checks, "redis")
}

func TestDatabaseDownIsUnhealthy(t *testing.T) {
	down := PingerFunc(func(context.Context) error { return errors.New("connection refused") })
	c := NewChecker(down, nil, staticBreakers{"HUBSPOT": "open"}, "test")

	code, resp := serve(t, c, "/api/v1/health")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, StatusUnhealthy, resp.Status)
	assert.Equal(t, "connection refused", resp.Checks["database"].Message)
}

func TestReadinessWaitsForStartup(t *testing.T) {
	c := NewChecker(PingerFunc(ok), nil, nil, "test")

	code, resp := serve(t, c, "/api/v1/health/ready")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, resp.Checks, "startup")

	c.SetReady(true)
	code, resp = serve(t, c, "/api/v1/health/ready")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, StatusHealthy, resp.Status)
}

func TestLiveness(t *testing.T) {
	down := PingerFunc(func(context.Context) error { return errors.New("down") })
	code, resp := serve(t, NewChecker(down, nil, nil, "v1"), "/api/v1/health/live")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "v1", resp.Version)
}
