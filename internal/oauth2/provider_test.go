package oauth2

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/yddav/marketing-hub-identity/internal/errors"
	"github.com/yddav/marketing-hub-identity/internal/ratelimit"
	"github.com/yddav/marketing-hub-identity/internal/store"
)

const (
	testJWTSecret = "8368616e676520746869732070617373776f726420746f206120736563726574"
	testRedirect  = "https://app.example.com/callback"
	testIP        = "198.51.100.7"
)

type oauthEnv struct {
	provider *Provider
	mem      *store.Memory
	clock    *clockwork.FakeClock
	client   *ClientCredentials
}

func newOAuthEnv(t *testing.T) *oauthEnv {
	t.Helper()

	clock := clockwork.NewFakeClock()
	mem := store.NewMemory(clock)

	provider, err := NewProvider(ProviderConfig{
		Store:            mem,
		Revocations:      mem,
		AuthorizeLimiter: ratelimit.NewMemoryLimiter(ratelimit.AuthorizeProfile, clock),
		TokenLimiter:     ratelimit.NewMemoryLimiter(ratelimit.TokenProfile, clock),
		Clock:            clock,
		Logger:           slog.Default(),
		JWTSecret:        testJWTSecret,
		AccessTTL:        time.Hour,
		RefreshTTL:       30 * 24 * time.Hour,
		CodeTTL:          10 * time.Minute,
	})
	require.NoError(t, err)

	creds, err := provider.RegisterClient(context.Background(), ClientRegistration{
		ClientName:   "Campaign Dashboard",
		RedirectURIs: []string{testRedirect},
		GrantTypes:   []string{GrantTypeAuthorizationCode, GrantTypeClientCredentials, GrantTypeRefreshToken},
		Scope:        "read:campaigns write:campaigns",
	})
	require.NoError(t, err)

	return &oauthEnv{provider: provider, mem: mem, clock: clock, client: creds}
}

func pkcePair() (verifier, challenge string) {
	verifier = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	sum := sha256.Sum256([]byte(verifier))
	return verifier, base64.RawURLEncoding.EncodeToString(sum[:])
}

// runConsentFlow walks authorize + consent and returns the issued code.
func (e *oauthEnv) runConsentFlow(t *testing.T, challenge string) string {
	t.Helper()
	ctx := context.Background()

	page, err := e.provider.Authorize(ctx, AuthorizeParams{
		ClientID:            e.client.ClientID,
		RedirectURI:         testRedirect,
		ResponseType:        ResponseTypeCode,
		Scope:               "read:campaigns bogus:scope",
		State:               "xyz",
		CodeChallenge:       challenge,
		CodeChallengeMethod: "S256",
	}, testIP)
	require.NoError(t, err)

	result, err := e.provider.HandleConsent(ctx, page.AuthRequestID, "u-1", true)
	require.NoError(t, err)
	require.False(t, result.Denied)
	require.NotEmpty(t, result.Code)
	assert.Equal(t, "xyz", result.State)
	return result.Code
}

func grantCode(t *testing.T, err error) string {
	t.Helper()
	structured := apperrors.AsStructuredError(err)
	require.NotNil(t, structured)
	require.Equal(t, apperrors.TypeGrant, structured.Type)
	return structured.Code
}

func TestProvider_RegisterClientDefaults(t *testing.T) {
	env := newOAuthEnv(t)

	creds, err := env.provider.RegisterClient(context.Background(), ClientRegistration{
		ClientName:   "Minimal",
		RedirectURIs: []string{testRedirect},
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(creds.ClientID, "client_"))
	assert.Len(t, creds.ClientSecret, 64)
	assert.Zero(t, creds.ClientSecretExpiresAt)

	stored, err := env.mem.GetClient(context.Background(), creds.ClientID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, []string{GrantTypeAuthorizationCode}, stored.GrantTypes)
	assert.Equal(t, []string{ResponseTypeCode}, stored.ResponseTypes)
	assert.Equal(t, DefaultScope, stored.Scope)
	assert.Equal(t, "client_secret_basic", stored.TokenEndpointAuthMethod)
	assert.True(t, stored.IsActive)
}

func TestProvider_RegisterClientValidation(t *testing.T) {
	env := newOAuthEnv(t)
	ctx := context.Background()

	_, err := env.provider.RegisterClient(ctx, ClientRegistration{RedirectURIs: []string{testRedirect}})
	assert.Error(t, err, "missing name")

	_, err = env.provider.RegisterClient(ctx, ClientRegistration{ClientName: "x"})
	assert.Error(t, err, "missing redirect URIs")

	_, err = env.provider.RegisterClient(ctx, ClientRegistration{ClientName: "x", RedirectURIs: []string{"not a url"}})
	assert.Error(t, err, "relative redirect URI")
}

func TestProvider_RegisterClientRejectsUnsupportedGrantTypes(t *testing.T) {
	env := newOAuthEnv(t)
	ctx := context.Background()

	_, err := env.provider.RegisterClient(ctx, ClientRegistration{
		ClientName:   "Legacy",
		RedirectURIs: []string{testRedirect},
		GrantTypes:   []string{"implicit", "password"},
	})
	require.Error(t, err)
	structured := apperrors.AsStructuredError(err)
	require.NotNil(t, structured)
	assert.Equal(t, apperrors.TypeValidation, structured.Type)

	// A supported set still registers
	_, err = env.provider.RegisterClient(ctx, ClientRegistration{
		ClientName:   "Modern",
		RedirectURIs: []string{testRedirect},
		GrantTypes:   []string{GrantTypeAuthorizationCode, GrantTypeRefreshToken},
	})
	assert.NoError(t, err)
}

func TestProvider_AuthorizeFiltersUnknownScopes(t *testing.T) {
	env := newOAuthEnv(t)

	page, err := env.provider.Authorize(context.Background(), AuthorizeParams{
		ClientID:     env.client.ClientID,
		RedirectURI:  testRedirect,
		ResponseType: ResponseTypeCode,
		Scope:        "read:campaigns nonsense admin",
	}, testIP)
	require.NoError(t, err)

	names := make([]string, 0, len(page.Scopes))
	for _, s := range page.Scopes {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"read:campaigns", "admin"}, names)
}

func TestProvider_AuthorizeRejectsUnregisteredRedirect(t *testing.T) {
	env := newOAuthEnv(t)

	_, err := env.provider.Authorize(context.Background(), AuthorizeParams{
		ClientID:     env.client.ClientID,
		RedirectURI:  "https://evil.example.com/steal",
		ResponseType: ResponseTypeCode,
	}, testIP)
	require.Error(t, err)
	assert.Equal(t, apperrors.GrantInvalidRequest, grantCode(t, err))
}

func TestProvider_AuthorizeRejectsPlainPKCE(t *testing.T) {
	env := newOAuthEnv(t)

	_, err := env.provider.Authorize(context.Background(), AuthorizeParams{
		ClientID:            env.client.ClientID,
		RedirectURI:         testRedirect,
		ResponseType:        ResponseTypeCode,
		CodeChallenge:       "abc",
		CodeChallengeMethod: "plain",
	}, testIP)
	require.Error(t, err)
	assert.Equal(t, apperrors.GrantInvalidRequest, grantCode(t, err))
}

func TestProvider_AuthorizeRateLimited(t *testing.T) {
	env := newOAuthEnv(t)
	ctx := context.Background()

	params := AuthorizeParams{
		ClientID:     env.client.ClientID,
		RedirectURI:  testRedirect,
		ResponseType: ResponseTypeCode,
	}
	for i := 0; i < 10; i++ {
		_, err := env.provider.Authorize(ctx, params, testIP)
		require.NoError(t, err)
	}

	_, err := env.provider.Authorize(ctx, params, testIP)
	require.Error(t, err)
	structured := apperrors.AsStructuredError(err)
	require.NotNil(t, structured)
	assert.Equal(t, apperrors.TypeRateLimited, structured.Type)
}

func TestProvider_ConsentDenied(t *testing.T) {
	env := newOAuthEnv(t)
	ctx := context.Background()

	page, err := env.provider.Authorize(ctx, AuthorizeParams{
		ClientID:     env.client.ClientID,
		RedirectURI:  testRedirect,
		ResponseType: ResponseTypeCode,
		State:        "s",
	}, testIP)
	require.NoError(t, err)

	result, err := env.provider.HandleConsent(ctx, page.AuthRequestID, "u-1", false)
	require.NoError(t, err)
	assert.True(t, result.Denied)
	assert.Empty(t, result.Code)
	assert.Equal(t, testRedirect, result.RedirectURI)

	// The pending request is gone either way
	_, err = env.provider.HandleConsent(ctx, page.AuthRequestID, "u-1", true)
	assert.Error(t, err)
}

func TestProvider_AuthorizationCodeFlowWithPKCE(t *testing.T) {
	env := newOAuthEnv(t)
	verifier, challenge := pkcePair()
	code := env.runConsentFlow(t, challenge)

	response, err := env.provider.Token(context.Background(), TokenRequest{
		GrantType:    GrantTypeAuthorizationCode,
		Code:         code,
		RedirectURI:  testRedirect,
		ClientID:     env.client.ClientID,
		ClientSecret: env.client.ClientSecret,
		CodeVerifier: verifier,
	}, testIP)
	require.NoError(t, err)

	assert.Equal(t, "Bearer", response.TokenType)
	assert.Equal(t, int64(3600), response.ExpiresIn)
	assert.Equal(t, "read:campaigns", response.Scope)
	assert.NotEmpty(t, response.RefreshToken)

	claims, err := env.provider.parseAccessToken(response.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.Subject)
	assert.Equal(t, env.client.ClientID, claims.ClientID)
}

func TestProvider_TokenRejectsWrongVerifier(t *testing.T) {
	env := newOAuthEnv(t)
	_, challenge := pkcePair()
	code := env.runConsentFlow(t, challenge)

	_, err := env.provider.Token(context.Background(), TokenRequest{
		GrantType:    GrantTypeAuthorizationCode,
		Code:         code,
		RedirectURI:  testRedirect,
		ClientID:     env.client.ClientID,
		ClientSecret: env.client.ClientSecret,
		CodeVerifier: "wrong-verifier-value-wrong-verifier-value-1",
	}, testIP)
	require.Error(t, err)
	assert.Equal(t, apperrors.GrantInvalidGrant, grantCode(t, err))
}

func TestProvider_AuthorizationCodeIsSingleUse(t *testing.T) {
	env := newOAuthEnv(t)
	verifier, challenge := pkcePair()
	code := env.runConsentFlow(t, challenge)

	request := TokenRequest{
		GrantType:    GrantTypeAuthorizationCode,
		Code:         code,
		RedirectURI:  testRedirect,
		ClientID:     env.client.ClientID,
		ClientSecret: env.client.ClientSecret,
		CodeVerifier: verifier,
	}

	_, err := env.provider.Token(context.Background(), request, testIP)
	require.NoError(t, err)

	_, err = env.provider.Token(context.Background(), request, testIP)
	require.Error(t, err)
	assert.Equal(t, apperrors.GrantInvalidGrant, grantCode(t, err))
}

func TestProvider_TokenRejectsRedirectMismatch(t *testing.T) {
	env := newOAuthEnv(t)
	verifier, challenge := pkcePair()
	code := env.runConsentFlow(t, challenge)

	_, err := env.provider.Token(context.Background(), TokenRequest{
		GrantType:    GrantTypeAuthorizationCode,
		Code:         code,
		RedirectURI:  testRedirect + "/other",
		ClientID:     env.client.ClientID,
		ClientSecret: env.client.ClientSecret,
		CodeVerifier: verifier,
	}, testIP)
	require.Error(t, err)
	assert.Equal(t, apperrors.GrantInvalidGrant, grantCode(t, err))
}

func TestProvider_TokenRejectsBadClientSecret(t *testing.T) {
	env := newOAuthEnv(t)
	_, challenge := pkcePair()
	code := env.runConsentFlow(t, challenge)

	_, err := env.provider.Token(context.Background(), TokenRequest{
		GrantType:    GrantTypeAuthorizationCode,
		Code:         code,
		RedirectURI:  testRedirect,
		ClientID:     env.client.ClientID,
		ClientSecret: "nope",
	}, testIP)
	require.Error(t, err)
	assert.Equal(t, apperrors.GrantInvalidClient, grantCode(t, err))
}

func TestProvider_TokenRejectsUnsupportedGrant(t *testing.T) {
	env := newOAuthEnv(t)

	_, err := env.provider.Token(context.Background(), TokenRequest{
		GrantType:    "password",
		ClientID:     env.client.ClientID,
		ClientSecret: env.client.ClientSecret,
	}, testIP)
	require.Error(t, err)
	assert.Equal(t, apperrors.GrantUnsupportedGrantType, grantCode(t, err))
}

func TestProvider_TokenRejectsUnregisteredGrant(t *testing.T) {
	env := newOAuthEnv(t)

	creds, err := env.provider.RegisterClient(context.Background(), ClientRegistration{
		ClientName:   "Code Only",
		RedirectURIs: []string{testRedirect},
		GrantTypes:   []string{GrantTypeAuthorizationCode},
	})
	require.NoError(t, err)

	_, err = env.provider.Token(context.Background(), TokenRequest{
		GrantType:    GrantTypeClientCredentials,
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
	}, testIP)
	require.Error(t, err)
	assert.Equal(t, apperrors.GrantUnauthorizedClient, grantCode(t, err))
}

func TestProvider_ClientCredentialsGrant(t *testing.T) {
	env := newOAuthEnv(t)

	response, err := env.provider.Token(context.Background(), TokenRequest{
		GrantType:    GrantTypeClientCredentials,
		ClientID:     env.client.ClientID,
		ClientSecret: env.client.ClientSecret,
	}, testIP)
	require.NoError(t, err)

	assert.Empty(t, response.RefreshToken, "client credentials grant issues no refresh token")
	assert.Equal(t, DefaultScope, response.Scope)

	claims, err := env.provider.parseAccessToken(response.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, env.client.ClientID, claims.Subject, "sub falls back to the client id")
}

func TestProvider_RefreshTokenGrantRotates(t *testing.T) {
	env := newOAuthEnv(t)
	verifier, challenge := pkcePair()
	code := env.runConsentFlow(t, challenge)
	ctx := context.Background()

	first, err := env.provider.Token(ctx, TokenRequest{
		GrantType:    GrantTypeAuthorizationCode,
		Code:         code,
		RedirectURI:  testRedirect,
		ClientID:     env.client.ClientID,
		ClientSecret: env.client.ClientSecret,
		CodeVerifier: verifier,
	}, testIP)
	require.NoError(t, err)

	second, err := env.provider.Token(ctx, TokenRequest{
		GrantType:    GrantTypeRefreshToken,
		RefreshToken: first.RefreshToken,
		ClientID:     env.client.ClientID,
		ClientSecret: env.client.ClientSecret,
	}, testIP)
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
	assert.Equal(t, first.Scope, second.Scope)

	// The consumed refresh token is dead
	_, err = env.provider.Token(ctx, TokenRequest{
		GrantType:    GrantTypeRefreshToken,
		RefreshToken: first.RefreshToken,
		ClientID:     env.client.ClientID,
		ClientSecret: env.client.ClientSecret,
	}, testIP)
	require.Error(t, err)
	assert.Equal(t, apperrors.GrantInvalidGrant, grantCode(t, err))
}

func TestProvider_IntrospectActiveToken(t *testing.T) {
	env := newOAuthEnv(t)

	response, err := env.provider.Token(context.Background(), TokenRequest{
		GrantType:    GrantTypeClientCredentials,
		ClientID:     env.client.ClientID,
		ClientSecret: env.client.ClientSecret,
		Scope:        "read:analytics",
	}, testIP)
	require.NoError(t, err)

	info := env.provider.Introspect(context.Background(), response.AccessToken, env.client.ClientID)
	assert.True(t, info.Active)
	assert.Equal(t, "read:analytics", info.Scope)
	assert.Equal(t, env.client.ClientID, info.ClientID)
}

func TestProvider_IntrospectNeverLeaksDetail(t *testing.T) {
	env := newOAuthEnv(t)
	ctx := context.Background()

	response, err := env.provider.Token(ctx, TokenRequest{
		GrantType:    GrantTypeClientCredentials,
		ClientID:     env.client.ClientID,
		ClientSecret: env.client.ClientSecret,
	}, testIP)
	require.NoError(t, err)

	// Unknown introspecting client
	info := env.provider.Introspect(ctx, response.AccessToken, "client_unknown")
	assert.Equal(t, &Introspection{Active: false}, info)

	// Garbage token
	info = env.provider.Introspect(ctx, "not-a-token", env.client.ClientID)
	assert.Equal(t, &Introspection{Active: false}, info)

	// Expired token
	env.clock.Advance(2 * time.Hour)
	info = env.provider.Introspect(ctx, response.AccessToken, env.client.ClientID)
	assert.Equal(t, &Introspection{Active: false}, info)
}

func TestProvider_RevokeAccessToken(t *testing.T) {
	env := newOAuthEnv(t)
	ctx := context.Background()

	response, err := env.provider.Token(ctx, TokenRequest{
		GrantType:    GrantTypeClientCredentials,
		ClientID:     env.client.ClientID,
		ClientSecret: env.client.ClientSecret,
	}, testIP)
	require.NoError(t, err)

	require.NoError(t, env.provider.Revoke(ctx, response.AccessToken, "access_token"))

	info := env.provider.Introspect(ctx, response.AccessToken, env.client.ClientID)
	assert.False(t, info.Active)
}

func TestProvider_RevokeRefreshToken(t *testing.T) {
	env := newOAuthEnv(t)
	verifier, challenge := pkcePair()
	code := env.runConsentFlow(t, challenge)
	ctx := context.Background()

	response, err := env.provider.Token(ctx, TokenRequest{
		GrantType:    GrantTypeAuthorizationCode,
		Code:         code,
		RedirectURI:  testRedirect,
		ClientID:     env.client.ClientID,
		ClientSecret: env.client.ClientSecret,
		CodeVerifier: verifier,
	}, testIP)
	require.NoError(t, err)

	require.NoError(t, env.provider.Revoke(ctx, response.RefreshToken, "refresh_token"))

	_, err = env.provider.Token(ctx, TokenRequest{
		GrantType:    GrantTypeRefreshToken,
		RefreshToken: response.RefreshToken,
		ClientID:     env.client.ClientID,
		ClientSecret: env.client.ClientSecret,
	}, testIP)
	assert.Error(t, err)
}

func TestProvider_RevokeUnknownTokenSucceeds(t *testing.T) {
	env := newOAuthEnv(t)
	assert.NoError(t, env.provider.Revoke(context.Background(), "garbage", "access_token"))
}
