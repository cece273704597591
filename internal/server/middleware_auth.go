package server

import (
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/yddav/marketing-hub-identity/internal/auth"
	apperrors "github.com/yddav/marketing-hub-identity/internal/errors"
)

const (
	contextKeyUserID = "userID"
	contextKeyClaims = "claims"
)

// requireAuth validates the Bearer access token and stashes the verified
// claims in the request context.
func (s *Server) requireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		header := c.Request().Header.Get(echo.HeaderAuthorization)
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			return apperrors.TokenInvalidError(nil)
		}

		claims, err := s.deps.Auth.VerifyToken(c.Request().Context(), token, auth.TokenTypeAccess)
		if err != nil {
			return err
		}

		c.Set(contextKeyUserID, claims.Subject)
		c.Set(contextKeyClaims, claims)
		return next(c)
	}
}

// requirePermission gates a route on a role grant. Runs after requireAuth.
func (s *Server) requirePermission(permission string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			claims, ok := c.Get(contextKeyClaims).(*auth.Claims)
			if !ok {
				return apperrors.TokenInvalidError(nil)
			}
			if !auth.HasPermission(claims.Permissions, permission) {
				return apperrors.ForbiddenError("insufficient permissions")
			}
			return next(c)
		}
	}
}
