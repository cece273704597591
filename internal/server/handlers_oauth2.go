package server

import (
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"

	apperrors "github.com/yddav/marketing-hub-identity/internal/errors"
	"github.com/yddav/marketing-hub-identity/internal/oauth2"
)

func (s *Server) handleAuthorize(c echo.Context) error {
	params := oauth2.AuthorizeParams{
		ClientID:            c.QueryParam("client_id"),
		RedirectURI:         c.QueryParam("redirect_uri"),
		ResponseType:        c.QueryParam("response_type"),
		Scope:               c.QueryParam("scope"),
		State:               c.QueryParam("state"),
		CodeChallenge:       c.QueryParam("code_challenge"),
		CodeChallengeMethod: c.QueryParam("code_challenge_method"),
	}

	page, err := s.deps.OAuth2.Authorize(c.Request().Context(), params, c.RealIP())
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, page)
}

type consentRequest struct {
	AuthRequestID string `json:"authRequestId"`
	Approved      bool   `json:"approved"`
}

// handleConsent resolves a pending authorization request for the
// authenticated user and answers with the redirect the UI should follow.
func (s *Server) handleConsent(c echo.Context) error {
	var req consentRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}
	if req.AuthRequestID == "" {
		return apperrors.ValidationError("authRequestId is required")
	}

	userID, _ := c.Get(contextKeyUserID).(string)

	result, err := s.deps.OAuth2.HandleConsent(c.Request().Context(), req.AuthRequestID, userID, req.Approved)
	if err != nil {
		return err
	}

	redirect, err := url.Parse(result.RedirectURI)
	if err != nil {
		return apperrors.InternalError("stored redirect URI is invalid", err)
	}
	query := redirect.Query()
	if result.Denied {
		query.Set("error", apperrors.GrantAccessDenied)
		query.Set("error_description", "user denied the request")
	} else {
		query.Set("code", result.Code)
	}
	if result.State != "" {
		query.Set("state", result.State)
	}
	redirect.RawQuery = query.Encode()

	return c.JSON(http.StatusOK, map[string]string{"redirectTo": redirect.String()})
}

func (s *Server) handleToken(c echo.Context) error {
	req := oauth2.TokenRequest{
		GrantType:    c.FormValue("grant_type"),
		Code:         c.FormValue("code"),
		RedirectURI:  c.FormValue("redirect_uri"),
		ClientID:     c.FormValue("client_id"),
		ClientSecret: c.FormValue("client_secret"),
		CodeVerifier: c.FormValue("code_verifier"),
		RefreshToken: c.FormValue("refresh_token"),
		Scope:        c.FormValue("scope"),
	}

	// client_secret_basic: credentials in the Authorization header take
	// precedence over form fields.
	if clientID, clientSecret, ok := c.Request().BasicAuth(); ok {
		req.ClientID = clientID
		req.ClientSecret = clientSecret
	}

	response, err := s.deps.OAuth2.Token(c.Request().Context(), req, c.RealIP())
	if err != nil {
		return err
	}

	c.Response().Header().Set("Cache-Control", "no-store")
	return c.JSON(http.StatusOK, response)
}

func (s *Server) handleIntrospect(c echo.Context) error {
	token := c.FormValue("token")
	clientID := c.FormValue("client_id")
	if clientID == "" {
		if basicID, _, ok := c.Request().BasicAuth(); ok {
			clientID = basicID
		}
	}

	info := s.deps.OAuth2.Introspect(c.Request().Context(), token, clientID)
	return c.JSON(http.StatusOK, info)
}

func (s *Server) handleOAuthRevoke(c echo.Context) error {
	token := c.FormValue("token")
	if token == "" {
		return apperrors.GrantErrorf(apperrors.GrantInvalidRequest, "token is required")
	}

	if err := s.deps.OAuth2.Revoke(c.Request().Context(), token, c.FormValue("token_type_hint")); err != nil {
		return err
	}

	return c.NoContent(http.StatusOK)
}

func (s *Server) handleRegisterClient(c echo.Context) error {
	var reg oauth2.ClientRegistration
	if err := c.Bind(&reg); err != nil {
		return apperrors.ValidationError("invalid request body")
	}

	creds, err := s.deps.OAuth2.RegisterClient(c.Request().Context(), reg)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, creds)
}
