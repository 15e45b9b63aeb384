package v1

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/duetcast/duetcast/server/internal/observability"
)

const timeLayout = time.RFC3339

// Healthz reports liveness and basic build information.
func (s *APIV1Service) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": s.Profile.Version,
		"mode":    s.Profile.Mode,
	})
}

// GetMetrics returns a snapshot of turn-processing counters.
func (s *APIV1Service) GetMetrics(c echo.Context) error {
	return c.JSON(http.StatusOK, observability.GlobalMetrics().GetSnapshot())
}
