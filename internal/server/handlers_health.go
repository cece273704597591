package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

func (s *Server) handleLiveness(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadiness verifies the dependencies a request actually needs: the
// shared store and a crypto round trip.
func (s *Server) handleReadiness(c echo.Context) error {
	ctx := c.Request().Context()

	if s.deps.Redis != nil {
		if err := s.deps.Redis.Ping(ctx).Err(); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{
				"status": "unavailable",
				"reason": "redis unreachable",
			})
		}
	}

	if err := s.deps.Crypto.HealthCheck(); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"reason": "encryption service unhealthy",
		})
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "ready"})
}
