package server

import (
	"github.com/labstack/echo/v4"

	apperrors "github.com/yddav/marketing-hub-identity/internal/errors"
	"github.com/yddav/marketing-hub-identity/internal/metrics"
	"github.com/yddav/marketing-hub-identity/internal/ratelimit"
)

// rateLimit applies a limiter profile per route group. Authenticated
// requests are keyed by user so NAT'd users do not share a budget;
// anonymous ones by IP.
func (s *Server) rateLimit(limiter ratelimit.Limiter, profile string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := "ip:" + c.RealIP()
			if userID, ok := c.Get(contextKeyUserID).(string); ok && userID != "" {
				key = "user:" + userID
			}

			allowed, retryAfter, err := limiter.Allow(c.Request().Context(), key)
			if err != nil {
				return apperrors.InternalError("rate limiter unavailable", err)
			}
			if !allowed {
				metrics.RateLimitHits.WithLabelValues(profile).Inc()
				metrics.BlockedRequests.Inc()
				return apperrors.RateLimitedError(retryAfter)
			}

			return next(c)
		}
	}
}
