// Package oauth2 implements a third-party authorization server: client
// registration, the authorization-code flow with PKCE, client-credentials
// and refresh-token grants, plus RFC 7662 introspection and RFC 7009
// revocation.
package oauth2

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/yddav/marketing-hub-identity/internal/domain"
	apperrors "github.com/yddav/marketing-hub-identity/internal/errors"
	"github.com/yddav/marketing-hub-identity/internal/logging"
	"github.com/yddav/marketing-hub-identity/internal/metrics"
	"github.com/yddav/marketing-hub-identity/internal/ratelimit"
)

const (
	Issuer   = "marketing-hub-oauth"
	Audience = "marketing-hub-api"

	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeClientCredentials = "client_credentials"
	GrantTypeRefreshToken      = "refresh_token"

	ResponseTypeCode = "code"

	clientIDPrefix    = "client_"
	clientIDBytes     = 16
	clientSecretBytes = 32
	codeBytes         = 32
	refreshBytes      = 32
)

var oauthSigningMethod = jwt.SigningMethodHS256

var supportedGrantTypes = []string{
	GrantTypeAuthorizationCode,
	GrantTypeClientCredentials,
	GrantTypeRefreshToken,
}

func isSupportedGrantType(grant string) bool {
	for _, g := range supportedGrantTypes {
		if g == grant {
			return true
		}
	}
	return false
}

// AccessClaims is the payload of issued OAuth2 access tokens. Sub carries the
// user id for user-delegated grants and the client id for client credentials.
type AccessClaims struct {
	ClientID string `json:"client_id"`
	Scope    string `json:"scope"`
	jwt.RegisteredClaims
}

// ProviderConfig wires the dependencies of the authorization server.
type ProviderConfig struct {
	Store            domain.OAuth2Store
	Revocations      domain.RevocationStore
	AuthorizeLimiter ratelimit.Limiter
	TokenLimiter     ratelimit.Limiter
	Clock            clockwork.Clock
	Logger           *slog.Logger

	// Hex-encoded HMAC secret for access tokens.
	JWTSecret string

	AccessTTL  time.Duration
	RefreshTTL time.Duration
	CodeTTL    time.Duration
}

type Provider struct {
	store            domain.OAuth2Store
	revocations      domain.RevocationStore
	authorizeLimiter ratelimit.Limiter
	tokenLimiter     ratelimit.Limiter
	clock            clockwork.Clock
	logger           *slog.Logger

	jwtSecret  []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	codeTTL    time.Duration
}

func NewProvider(cfg ProviderConfig) (*Provider, error) {
	secret, err := hex.DecodeString(cfg.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("invalid oauth2 jwt secret: %w", err)
	}

	return &Provider{
		store:            cfg.Store,
		revocations:      cfg.Revocations,
		authorizeLimiter: cfg.AuthorizeLimiter,
		tokenLimiter:     cfg.TokenLimiter,
		clock:            cfg.Clock,
		logger:           cfg.Logger,
		jwtSecret:        secret,
		accessTTL:        cfg.AccessTTL,
		refreshTTL:       cfg.RefreshTTL,
		codeTTL:          cfg.CodeTTL,
	}, nil
}

// ClientRegistration is the dynamic-registration request body.
type ClientRegistration struct {
	ClientName              string   `json:"clientName"`
	RedirectURIs            []string `json:"redirectUris"`
	GrantTypes              []string `json:"grantTypes"`
	ResponseTypes           []string `json:"responseTypes"`
	Scope                   string   `json:"scope"`
	TokenEndpointAuthMethod string   `json:"tokenEndpointAuthMethod"`
}

// ClientCredentials is returned exactly once; the secret is not retrievable
// afterwards.
type ClientCredentials struct {
	ClientID              string `json:"clientId"`
	ClientSecret          string `json:"clientSecret"`
	ClientIDIssuedAt      int64  `json:"clientIdIssuedAt"`
	ClientSecretExpiresAt int64  `json:"clientSecretExpiresAt"`
}

// RegisterClient validates and stores a new client, generating its
// credentials.
func (p *Provider) RegisterClient(ctx context.Context, reg ClientRegistration) (*ClientCredentials, error) {
	if reg.ClientName == "" {
		return nil, apperrors.ValidationError("client name is required")
	}
	if len(reg.RedirectURIs) == 0 {
		return nil, apperrors.ValidationError("at least one redirect URI is required")
	}
	for _, raw := range reg.RedirectURIs {
		u, err := url.Parse(raw)
		if err != nil || !u.IsAbs() || u.Host == "" {
			return nil, apperrors.ValidationError(fmt.Sprintf("invalid redirect URI: %s", raw))
		}
	}
	for _, grant := range reg.GrantTypes {
		if !isSupportedGrantType(grant) {
			return nil, apperrors.ValidationError(fmt.Sprintf("unsupported grant type: %s", grant))
		}
	}

	client := domain.Client{
		ClientID:                clientIDPrefix + randomHex(clientIDBytes),
		ClientSecret:            randomHex(clientSecretBytes),
		ClientName:              reg.ClientName,
		RedirectURIs:            reg.RedirectURIs,
		GrantTypes:              reg.GrantTypes,
		ResponseTypes:           reg.ResponseTypes,
		Scope:                   reg.Scope,
		TokenEndpointAuthMethod: reg.TokenEndpointAuthMethod,
		CreatedAt:               p.clock.Now().UTC(),
		IsActive:                true,
	}
	if len(client.GrantTypes) == 0 {
		client.GrantTypes = []string{GrantTypeAuthorizationCode}
	}
	if len(client.ResponseTypes) == 0 {
		client.ResponseTypes = []string{ResponseTypeCode}
	}
	if client.Scope == "" {
		client.Scope = DefaultScope
	}
	if client.TokenEndpointAuthMethod == "" {
		client.TokenEndpointAuthMethod = "client_secret_basic"
	}

	if err := p.store.PutClient(ctx, client); err != nil {
		return nil, apperrors.InternalError("failed to store client", err)
	}

	p.logger.Info("oauth2 client registered",
		"client_id", client.ClientID,
		"client_name", client.ClientName,
		"grant_types", strings.Join(client.GrantTypes, " "),
	)

	return &ClientCredentials{
		ClientID:              client.ClientID,
		ClientSecret:          client.ClientSecret,
		ClientIDIssuedAt:      p.clock.Now().Unix(),
		ClientSecretExpiresAt: 0,
	}, nil
}

// AuthorizeParams are the query parameters of the authorization endpoint.
type AuthorizeParams struct {
	ClientID            string
	RedirectURI         string
	ResponseType        string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
}

// ConsentPage is what the authorization UI renders for the user.
type ConsentPage struct {
	AuthRequestID string             `json:"authRequestId"`
	ClientID      string             `json:"clientId"`
	ClientName    string             `json:"clientName"`
	Scopes        []ScopeDescription `json:"scopes"`
	RedirectURI   string             `json:"redirectUri"`
	State         string             `json:"state"`
}

// Authorize validates an authorization request and parks it pending user
// consent. The redirect URI is validated against the registration before
// anything is issued; on mismatch the error goes to the caller, never to the
// unverified URI.
func (p *Provider) Authorize(ctx context.Context, params AuthorizeParams, ip string) (*ConsentPage, error) {
	allowed, retryAfter, err := p.authorizeLimiter.Allow(ctx, ip)
	if err != nil {
		return nil, apperrors.InternalError("rate limiter unavailable", err)
	}
	if !allowed {
		metrics.RateLimitHits.WithLabelValues("oauth_authorize").Inc()
		return nil, apperrors.RateLimitedError(retryAfter)
	}

	if params.ClientID == "" || params.RedirectURI == "" || params.ResponseType == "" {
		return nil, apperrors.GrantErrorf(apperrors.GrantInvalidRequest, "client_id, redirect_uri and response_type are required")
	}

	client, err := p.store.GetClient(ctx, params.ClientID)
	if err != nil {
		return nil, apperrors.InternalError("client lookup failed", err)
	}
	if client == nil || !client.IsActive {
		return nil, apperrors.GrantErrorf(apperrors.GrantInvalidClient, "unknown or inactive client")
	}
	if !client.HasRedirectURI(params.RedirectURI) {
		return nil, apperrors.GrantErrorf(apperrors.GrantInvalidRequest, "redirect_uri is not registered for this client")
	}
	if params.ResponseType != ResponseTypeCode {
		return nil, apperrors.GrantErrorf(apperrors.GrantUnsupportedResponse, "unsupported response_type %q", params.ResponseType)
	}
	if params.CodeChallenge != "" && params.CodeChallengeMethod != "S256" {
		return nil, apperrors.GrantErrorf(apperrors.GrantInvalidRequest, "only the S256 code challenge method is supported")
	}

	validScopes := filterScopes(strings.Fields(params.Scope))

	authReqID := uuid.NewString()
	request := domain.AuthorizationRequest{
		ClientID:            params.ClientID,
		RedirectURI:         params.RedirectURI,
		ResponseType:        params.ResponseType,
		Scope:               strings.Join(validScopes, " "),
		State:               params.State,
		CodeChallenge:       params.CodeChallenge,
		CodeChallengeMethod: params.CodeChallengeMethod,
		CreatedAt:           p.clock.Now().UTC(),
	}
	if err := p.store.PutAuthorizationRequest(ctx, authReqID, request, p.codeTTL); err != nil {
		return nil, apperrors.InternalError("failed to store authorization request", err)
	}

	return &ConsentPage{
		AuthRequestID: authReqID,
		ClientID:      client.ClientID,
		ClientName:    client.ClientName,
		Scopes:        describeScopes(validScopes),
		RedirectURI:   params.RedirectURI,
		State:         params.State,
	}, nil
}

// ConsentResult carries the redirect material back to the handler. Denied
// consent is a regular outcome, not an error: the handler relays
// access_denied to the registered redirect URI.
type ConsentResult struct {
	Denied      bool   `json:"-"`
	Code        string `json:"code,omitempty"`
	State       string `json:"state,omitempty"`
	RedirectURI string `json:"redirectUri"`
}

// HandleConsent resolves a pending authorization request. Approval mints a
// single-use authorization code bound to the consenting user; either way the
// pending request is deleted.
func (p *Provider) HandleConsent(ctx context.Context, authRequestID, userID string, approved bool) (*ConsentResult, error) {
	request, err := p.store.GetAuthorizationRequest(ctx, authRequestID)
	if err != nil {
		return nil, apperrors.InternalError("authorization request lookup failed", err)
	}
	if request == nil {
		return nil, apperrors.GrantErrorf(apperrors.GrantInvalidRequest, "unknown or expired authorization request")
	}

	if err := p.store.DeleteAuthorizationRequest(ctx, authRequestID); err != nil {
		return nil, apperrors.InternalError("failed to delete authorization request", err)
	}

	if !approved {
		logging.Audit("oauth_consent_denied",
			"client_id", request.ClientID,
			"user_id", userID,
		)
		return &ConsentResult{
			Denied:      true,
			State:       request.State,
			RedirectURI: request.RedirectURI,
		}, nil
	}

	code := domain.AuthorizationCode{
		Code:                randomHex(codeBytes),
		ClientID:            request.ClientID,
		UserID:              userID,
		RedirectURI:         request.RedirectURI,
		Scope:               request.Scope,
		CodeChallenge:       request.CodeChallenge,
		CodeChallengeMethod: request.CodeChallengeMethod,
		CreatedAt:           p.clock.Now().UTC(),
	}
	if err := p.store.PutAuthorizationCode(ctx, code, p.codeTTL); err != nil {
		return nil, apperrors.InternalError("failed to store authorization code", err)
	}

	logging.Audit("oauth_code_issued",
		"client_id", request.ClientID,
		"user_id", userID,
		"scope", request.Scope,
	)

	return &ConsentResult{
		Code:        code.Code,
		State:       request.State,
		RedirectURI: request.RedirectURI,
	}, nil
}

// TokenRequest is the form body of the token endpoint.
type TokenRequest struct {
	GrantType    string `form:"grant_type"`
	Code         string `form:"code"`
	RedirectURI  string `form:"redirect_uri"`
	ClientID     string `form:"client_id"`
	ClientSecret string `form:"client_secret"`
	CodeVerifier string `form:"code_verifier"`
	RefreshToken string `form:"refresh_token"`
	Scope        string `form:"scope"`
}

// TokenResponse uses RFC 6749 wire field names.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope"`
}

// Token dispatches a token request to its grant handler after client
// authentication.
func (p *Provider) Token(ctx context.Context, req TokenRequest, ip string) (*TokenResponse, error) {
	allowed, retryAfter, err := p.tokenLimiter.Allow(ctx, ip)
	if err != nil {
		return nil, apperrors.InternalError("rate limiter unavailable", err)
	}
	if !allowed {
		metrics.RateLimitHits.WithLabelValues("oauth_token").Inc()
		return nil, apperrors.RateLimitedError(retryAfter)
	}

	if !isSupportedGrantType(req.GrantType) {
		return nil, apperrors.GrantErrorf(apperrors.GrantUnsupportedGrantType, "unsupported grant_type %q", req.GrantType)
	}

	client, err := p.authenticateClient(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, err
	}
	if !client.HasGrantType(req.GrantType) {
		return nil, apperrors.GrantErrorf(apperrors.GrantUnauthorizedClient, "client is not authorized for grant_type %q", req.GrantType)
	}

	var response *TokenResponse
	switch req.GrantType {
	case GrantTypeAuthorizationCode:
		response, err = p.handleAuthorizationCodeGrant(ctx, req, client)
	case GrantTypeClientCredentials:
		response, err = p.handleClientCredentialsGrant(client, req.Scope)
	case GrantTypeRefreshToken:
		response, err = p.handleRefreshTokenGrant(ctx, req.RefreshToken, client)
	}
	if err != nil {
		return nil, err
	}

	metrics.TokensIssued.WithLabelValues(req.GrantType).Inc()
	p.logger.Info("oauth2 token issued",
		"grant_type", req.GrantType,
		"client_id", client.ClientID,
		"scope", response.Scope,
	)
	return response, nil
}

// authenticateClient compares the presented secret in constant time so
// timing cannot narrow down a secret prefix.
func (p *Provider) authenticateClient(ctx context.Context, clientID, clientSecret string) (*domain.Client, error) {
	client, err := p.store.GetClient(ctx, clientID)
	if err != nil {
		return nil, apperrors.InternalError("client lookup failed", err)
	}
	if client == nil || !client.IsActive {
		return nil, apperrors.GrantErrorf(apperrors.GrantInvalidClient, "unknown or inactive client")
	}
	if subtle.ConstantTimeCompare([]byte(client.ClientSecret), []byte(clientSecret)) != 1 {
		logging.Audit("oauth_client_auth_failed", "client_id", clientID)
		return nil, apperrors.GrantErrorf(apperrors.GrantInvalidClient, "invalid client credentials")
	}
	return client, nil
}

func (p *Provider) handleAuthorizationCodeGrant(ctx context.Context, req TokenRequest, client *domain.Client) (*TokenResponse, error) {
	if req.Code == "" || req.RedirectURI == "" {
		return nil, apperrors.GrantErrorf(apperrors.GrantInvalidRequest, "code and redirect_uri are required")
	}

	// The consume is atomic: a replayed or concurrently redeemed code gets
	// nil here.
	code, err := p.store.ConsumeAuthorizationCode(ctx, req.Code)
	if err != nil {
		return nil, apperrors.InternalError("authorization code lookup failed", err)
	}
	if code == nil {
		return nil, apperrors.GrantErrorf(apperrors.GrantInvalidGrant, "invalid or expired authorization code")
	}
	if code.ClientID != client.ClientID {
		return nil, apperrors.GrantErrorf(apperrors.GrantInvalidGrant, "authorization code was issued to another client")
	}
	if code.RedirectURI != req.RedirectURI {
		return nil, apperrors.GrantErrorf(apperrors.GrantInvalidGrant, "redirect_uri does not match the authorization request")
	}

	if code.CodeChallenge != "" {
		if req.CodeVerifier == "" {
			return nil, apperrors.GrantErrorf(apperrors.GrantInvalidGrant, "code_verifier is required")
		}
		sum := sha256.Sum256([]byte(req.CodeVerifier))
		computed := base64.RawURLEncoding.EncodeToString(sum[:])
		if subtle.ConstantTimeCompare([]byte(computed), []byte(code.CodeChallenge)) != 1 {
			logging.Audit("oauth_pkce_failed", "client_id", client.ClientID)
			return nil, apperrors.GrantErrorf(apperrors.GrantInvalidGrant, "invalid code_verifier")
		}
	}

	return p.issueTokens(ctx, client.ClientID, code.UserID, strings.Fields(code.Scope))
}

func (p *Provider) handleClientCredentialsGrant(client *domain.Client, scope string) (*TokenResponse, error) {
	requested := strings.Fields(scope)
	if len(requested) == 0 {
		requested = []string{DefaultScope}
	}
	validScopes := filterScopes(requested)

	// Client credentials act on the client's own behalf; no refresh token.
	accessToken, err := p.signAccessToken(client.ClientID, "", validScopes)
	if err != nil {
		return nil, apperrors.InternalError("failed to sign access token", err)
	}

	return &TokenResponse{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int64(p.accessTTL.Seconds()),
		Scope:       strings.Join(validScopes, " "),
	}, nil
}

// handleRefreshTokenGrant rotates: the presented refresh token is deleted
// and a new one issued with the original scope.
func (p *Provider) handleRefreshTokenGrant(ctx context.Context, refreshToken string, client *domain.Client) (*TokenResponse, error) {
	if refreshToken == "" {
		return nil, apperrors.GrantErrorf(apperrors.GrantInvalidRequest, "refresh_token is required")
	}

	record, err := p.store.GetRefreshToken(ctx, refreshToken)
	if err != nil {
		return nil, apperrors.InternalError("refresh token lookup failed", err)
	}
	if record == nil || record.ClientID != client.ClientID {
		return nil, apperrors.GrantErrorf(apperrors.GrantInvalidGrant, "invalid refresh token")
	}

	if err := p.store.DeleteRefreshToken(ctx, refreshToken); err != nil {
		return nil, apperrors.InternalError("failed to rotate refresh token", err)
	}

	return p.issueTokens(ctx, client.ClientID, record.UserID, strings.Fields(record.Scope))
}

func (p *Provider) issueTokens(ctx context.Context, clientID, userID string, scopes []string) (*TokenResponse, error) {
	accessToken, err := p.signAccessToken(clientID, userID, scopes)
	if err != nil {
		return nil, apperrors.InternalError("failed to sign access token", err)
	}

	refreshToken := randomHex(refreshBytes)
	record := domain.RefreshTokenRecord{
		Token:     refreshToken,
		ClientID:  clientID,
		UserID:    userID,
		Scope:     strings.Join(scopes, " "),
		CreatedAt: p.clock.Now().UTC(),
	}
	if err := p.store.PutRefreshToken(ctx, record, p.refreshTTL); err != nil {
		return nil, apperrors.InternalError("failed to store refresh token", err)
	}

	return &TokenResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(p.accessTTL.Seconds()),
		Scope:        record.Scope,
	}, nil
}

func (p *Provider) signAccessToken(clientID, userID string, scopes []string) (string, error) {
	subject := userID
	if subject == "" {
		subject = clientID
	}

	now := p.clock.Now()
	claims := &AccessClaims{
		ClientID: clientID,
		Scope:    strings.Join(scopes, " "),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    Issuer,
			Audience:  jwt.ClaimStrings{Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(p.accessTTL)),
		},
	}
	return jwt.NewWithClaims(oauthSigningMethod, claims).SignedString(p.jwtSecret)
}

// Introspection is the RFC 7662 response. Inactive tokens yield only
// {"active": false}; nothing else about them is disclosed.
type Introspection struct {
	Active   bool   `json:"active"`
	Subject  string `json:"sub,omitempty"`
	ClientID string `json:"client_id,omitempty"`
	Scope    string `json:"scope,omitempty"`
	Exp      int64  `json:"exp,omitempty"`
	Iat      int64  `json:"iat,omitempty"`
}

// Introspect reports the state of an access token to a registered client.
// It never returns an error for a bad token: any verification failure,
// including revocation, maps to active=false.
func (p *Provider) Introspect(ctx context.Context, token, clientID string) *Introspection {
	inactive := &Introspection{Active: false}

	client, err := p.store.GetClient(ctx, clientID)
	if err != nil || client == nil {
		return inactive
	}

	revoked, err := p.revocations.IsRawTokenRevoked(ctx, token)
	if err != nil || revoked {
		return inactive
	}

	claims, err := p.parseAccessToken(token)
	if err != nil {
		return inactive
	}

	return &Introspection{
		Active:   true,
		Subject:  claims.Subject,
		ClientID: claims.ClientID,
		Scope:    claims.Scope,
		Exp:      claims.ExpiresAt.Unix(),
		Iat:      claims.IssuedAt.Unix(),
	}
}

func (p *Provider) parseAccessToken(token string) (*AccessClaims, error) {
	var claims AccessClaims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return p.jwtSecret, nil },
		jwt.WithValidMethods([]string{oauthSigningMethod.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithAudience(Audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.clock.Now),
	)
	if err != nil {
		return nil, err
	}
	return &claims, nil
}

// Revoke invalidates a token per RFC 7009. Refresh tokens are deleted;
// access tokens are blacklisted by their raw value until natural expiry.
// Unknown tokens succeed silently.
func (p *Provider) Revoke(ctx context.Context, token, tokenTypeHint string) error {
	if tokenTypeHint == "refresh_token" {
		if err := p.store.DeleteRefreshToken(ctx, token); err != nil {
			return apperrors.InternalError("failed to delete refresh token", err)
		}
		metrics.TokensRevoked.WithLabelValues("oauth_refresh").Inc()
		logging.Audit("oauth_token_revoked", "token_type", "refresh_token")
		return nil
	}

	claims, err := p.parseAccessToken(token)
	if err != nil {
		// Per RFC 7009 an invalid token is not an error for the caller.
		return nil
	}

	remaining := claims.ExpiresAt.Time.Sub(p.clock.Now())
	if remaining > 0 {
		if err := p.revocations.RevokeRawToken(ctx, token, remaining); err != nil {
			return apperrors.InternalError("failed to blacklist token", err)
		}
	}

	metrics.TokensRevoked.WithLabelValues("oauth_access").Inc()
	logging.Audit("oauth_token_revoked", "token_type", "access_token")
	return nil
}

func randomHex(n int) string {
	raw := make([]byte, n)
	if _, err := rand.Read(raw); err != nil {
		panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
	}
	return hex.EncodeToString(raw)
}
