// Package server wires the HTTP surface: the security middleware pipeline,
// first-party auth endpoints, the OAuth2 endpoints, and operational routes.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/oschwald/geoip2-golang"
	goredis "github.com/redis/go-redis/v9"

	"github.com/yddav/marketing-hub-identity/internal/auth"
	"github.com/yddav/marketing-hub-identity/internal/config"
	"github.com/yddav/marketing-hub-identity/internal/crypto"
	"github.com/yddav/marketing-hub-identity/internal/domain"
	apperrors "github.com/yddav/marketing-hub-identity/internal/errors"
	"github.com/yddav/marketing-hub-identity/internal/oauth2"
	"github.com/yddav/marketing-hub-identity/internal/ratelimit"
)

// Dependencies carries everything the server needs; main assembles it.
type Dependencies struct {
	Auth   *auth.Service
	OAuth2 *oauth2.Provider
	Crypto *crypto.Service
	CSRF   domain.CSRFStore
	Logger *slog.Logger

	// Redis is optional; readiness skips the ping when nil.
	Redis *goredis.Client

	APILimiter   ratelimit.Limiter
	AuthLimiter  ratelimit.Limiter
	HeavyLimiter ratelimit.Limiter

	// GeoIP is optional; country checks are skipped when nil.
	GeoIP *geoip2.Reader
}

type Server struct {
	echo   *echo.Echo
	config *config.Config
	deps   Dependencies

	ipAllowList []netip.Prefix
	ipDenyList  []netip.Prefix
}

func NewServer(cfg *config.Config, deps Dependencies) (*Server, error) {
	allowList, err := parsePrefixes(cfg.IPAllowList)
	if err != nil {
		return nil, fmt.Errorf("invalid IP allow list: %w", err)
	}
	denyList, err := parsePrefixes(cfg.IPDenyList)
	if err != nil {
		return nil, fmt.Errorf("invalid IP deny list: %w", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(apperrors.Middleware())

	srv := &Server{
		echo:        e,
		config:      cfg,
		deps:        deps,
		ipAllowList: allowList,
		ipDenyList:  denyList,
	}

	// Pipeline order matters: headers and access control run before any
	// body is read, the size limit before sanitization parses the body.
	e.Use(srv.securityHeaders)
	e.Use(srv.accessControl)
	e.Use(srv.requestSizeLimit)
	e.Use(srv.inputSanitization)

	srv.registerRoutes()
	return srv, nil
}

// parsePrefixes accepts CIDR ranges and bare addresses.
func parsePrefixes(entries []string) ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(entries))
	for _, entry := range entries {
		if prefix, err := netip.ParsePrefix(entry); err == nil {
			prefixes = append(prefixes, prefix)
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("cannot parse %q as CIDR or address", entry)
		}
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

func (s *Server) Start() error {
	s.deps.Logger.Info("starting server", "port", s.config.Port)
	return s.echo.Start(fmt.Sprintf(":%s", s.config.Port))
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
