package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/yddav/marketing-hub-identity/internal/auth"
	apperrors "github.com/yddav/marketing-hub-identity/internal/errors"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	MFACode  string `json:"mfaCode"`
}

func (s *Server) handleLogin(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}

	result, err := s.deps.Auth.Authenticate(c.Request().Context(), req.Email, req.Password, req.MFACode, clientInfo(c))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, result)
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (s *Server) handleRefresh(c echo.Context) error {
	var req refreshRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}
	if req.RefreshToken == "" {
		return apperrors.ValidationError("refreshToken is required")
	}

	tokens, err := s.deps.Auth.RefreshAccessToken(c.Request().Context(), req.RefreshToken, clientInfo(c))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, tokens)
}

type revokeRequest struct {
	Token     string `json:"token"`
	TokenType string `json:"tokenType"`
}

func (s *Server) handleRevoke(c echo.Context) error {
	var req revokeRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}
	if req.Token == "" {
		return apperrors.ValidationError("token is required")
	}
	if req.TokenType == "" {
		req.TokenType = auth.TokenTypeAccess
	}
	if req.TokenType != auth.TokenTypeAccess && req.TokenType != auth.TokenTypeRefresh {
		return apperrors.ValidationError("tokenType must be access or refresh")
	}

	if err := s.deps.Auth.RevokeToken(c.Request().Context(), req.Token, req.TokenType); err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]bool{"revoked": true})
}

func (s *Server) handleMFASetup(c echo.Context) error {
	userID, _ := c.Get(contextKeyUserID).(string)

	setup, err := s.deps.Auth.SetupMFA(c.Request().Context(), userID)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, setup)
}

func clientInfo(c echo.Context) auth.ClientInfo {
	return auth.ClientInfo{
		IP:        c.RealIP(),
		UserAgent: c.Request().UserAgent(),
	}
}
