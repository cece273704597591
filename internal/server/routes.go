package server

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) registerRoutes() {
	// Observability endpoints (no auth required)
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// First-party auth. All routes carry the strict auth budget; their own
	// service-level limiters still apply underneath. Login is the only
	// state-changing route exempt from CSRF: no session exists yet.
	authLimit := s.rateLimit(s.deps.AuthLimiter, "auth")
	s.echo.POST("/auth/login", s.handleLogin, authLimit)
	s.echo.POST("/auth/refresh", s.handleRefresh, s.csrfProtection, authLimit)
	s.echo.POST("/auth/revoke", s.handleRevoke, s.csrfProtection, authLimit)
	s.echo.POST("/auth/mfa/setup", s.handleMFASetup, s.requireAuth, s.csrfProtection, s.rateLimit(s.deps.HeavyLimiter, "heavy"))

	// OAuth2 endpoints; the provider enforces its own authorize/token
	// budgets, the general API budget covers the rest.
	apiLimit := s.rateLimit(s.deps.APILimiter, "api")
	s.echo.GET("/oauth2/authorize", s.handleAuthorize)
	s.echo.POST("/oauth2/consent", s.handleConsent, s.requireAuth, s.csrfProtection, apiLimit)
	s.echo.POST("/oauth2/token", s.handleToken)
	s.echo.POST("/oauth2/introspect", s.handleIntrospect, apiLimit)
	s.echo.POST("/oauth2/revoke", s.handleOAuthRevoke, apiLimit)
	s.echo.POST("/oauth2/clients", s.handleRegisterClient, s.requireAuth, s.csrfProtection, s.requirePermission("admin"), apiLimit)

	// CSRF token issuance for browser sessions
	s.echo.GET("/csrf/token", s.handleCSRFToken, apiLimit)
}
