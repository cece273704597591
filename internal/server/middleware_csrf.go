package server

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	apperrors "github.com/yddav/marketing-hub-identity/internal/errors"
	"github.com/yddav/marketing-hub-identity/internal/logging"
	"github.com/yddav/marketing-hub-identity/internal/metrics"
)

const (
	csrfHeaderName    = "X-CSRF-Token"
	sessionHeaderName = "X-Session-ID"
	csrfTokenTTL      = 24 * time.Hour
)

// csrfProtection validates the per-session CSRF token on state-changing
// requests. Safe methods pass through.
func (s *Server) csrfProtection(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		method := c.Request().Method
		if method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions {
			return next(c)
		}

		token := c.Request().Header.Get(csrfHeaderName)
		sessionID := c.Request().Header.Get(sessionHeaderName)
		if token == "" || sessionID == "" {
			metrics.CSRFAttempts.Inc()
			metrics.BlockedRequests.Inc()
			logging.Audit("csrf_token_missing",
				"ip", c.RealIP(),
				"path", c.Request().URL.Path,
			)
			return apperrors.ForbiddenError("CSRF token required")
		}

		stored, err := s.deps.CSRF.GetCSRFToken(c.Request().Context(), sessionID)
		if err != nil {
			return apperrors.InternalError("CSRF token lookup failed", err)
		}
		if stored == "" || subtle.ConstantTimeCompare([]byte(token), []byte(stored)) != 1 {
			metrics.CSRFAttempts.Inc()
			metrics.BlockedRequests.Inc()
			logging.Audit("csrf_token_invalid",
				"ip", c.RealIP(),
				"path", c.Request().URL.Path,
				"session_id", sessionID,
			)
			return apperrors.ForbiddenError("invalid CSRF token")
		}

		return next(c)
	}
}

// handleCSRFToken issues a fresh token bound to the caller's session id.
// Issuing a new token replaces the previous one for that session.
func (s *Server) handleCSRFToken(c echo.Context) error {
	sessionID := c.Request().Header.Get(sessionHeaderName)
	if sessionID == "" {
		return apperrors.ValidationError("X-Session-ID header is required")
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return apperrors.InternalError("failed to generate CSRF token", err)
	}
	token := hex.EncodeToString(raw)

	if err := s.deps.CSRF.PutCSRFToken(c.Request().Context(), sessionID, token, csrfTokenTTL); err != nil {
		return apperrors.InternalError("failed to store CSRF token", err)
	}

	return c.JSON(http.StatusOK, map[string]string{"csrfToken": token})
}
