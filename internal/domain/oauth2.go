package domain

import (
	"context"
	"time"
)

// Client is a registered OAuth2 client. The secret is returned once at
// registration and never expires.
type Client struct {
	ClientID                string    `json:"clientId"`
	ClientSecret            string    `json:"clientSecret"`
	ClientName              string    `json:"clientName"`
	RedirectURIs            []string  `json:"redirectUris"`
	GrantTypes              []string  `json:"grantTypes"`
	ResponseTypes           []string  `json:"responseTypes"`
	Scope                   string    `json:"scope"`
	TokenEndpointAuthMethod string    `json:"tokenEndpointAuthMethod"`
	CreatedAt               time.Time `json:"createdAt"`
	IsActive                bool      `json:"isActive"`
}

// HasGrantType reports whether the client registered for the grant.
func (c *Client) HasGrantType(grant string) bool {
	for _, g := range c.GrantTypes {
		if g == grant {
			return true
		}
	}
	return false
}

// HasRedirectURI reports whether uri exactly matches a registered URI.
func (c *Client) HasRedirectURI(uri string) bool {
	for _, u := range c.RedirectURIs {
		if u == uri {
			return true
		}
	}
	return false
}

// AuthorizationRequest is the pending-consent record produced by the
// authorize endpoint. Ephemeral: 10 minute TTL.
type AuthorizationRequest struct {
	ClientID            string    `json:"clientId"`
	RedirectURI         string    `json:"redirectUri"`
	ResponseType        string    `json:"responseType"`
	Scope               string    `json:"scope"`
	State               string    `json:"state"`
	CodeChallenge       string    `json:"codeChallenge"`
	CodeChallengeMethod string    `json:"codeChallengeMethod"`
	CreatedAt           time.Time `json:"createdAt"`
}

// AuthorizationCode binds a single-use code to the consenting user and the
// requesting client. Ephemeral: 10 minute TTL, consumed atomically.
type AuthorizationCode struct {
	Code                string    `json:"code"`
	ClientID            string    `json:"clientId"`
	UserID              string    `json:"userId"`
	RedirectURI         string    `json:"redirectUri"`
	Scope               string    `json:"scope"`
	CodeChallenge       string    `json:"codeChallenge"`
	CodeChallengeMethod string    `json:"codeChallengeMethod"`
	CreatedAt           time.Time `json:"createdAt"`
}

// RefreshTokenRecord is the stored side of an opaque OAuth2 refresh token.
type RefreshTokenRecord struct {
	Token     string    `json:"token"`
	ClientID  string    `json:"clientId"`
	UserID    string    `json:"userId"`
	Scope     string    `json:"scope"`
	CreatedAt time.Time `json:"createdAt"`
}

// OAuth2Store persists clients and the ephemeral grant-flow records.
type OAuth2Store interface {
	PutClient(ctx context.Context, client Client) error
	GetClient(ctx context.Context, clientID string) (*Client, error)

	PutAuthorizationRequest(ctx context.Context, id string, req AuthorizationRequest, ttl time.Duration) error
	GetAuthorizationRequest(ctx context.Context, id string) (*AuthorizationRequest, error)
	DeleteAuthorizationRequest(ctx context.Context, id string) error

	PutAuthorizationCode(ctx context.Context, code AuthorizationCode, ttl time.Duration) error
	// ConsumeAuthorizationCode atomically fetches and deletes the code.
	// Concurrent redemption of the same code yields at most one non-nil result.
	ConsumeAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)

	PutRefreshToken(ctx context.Context, record RefreshTokenRecord, ttl time.Duration) error
	GetRefreshToken(ctx context.Context, token string) (*RefreshTokenRecord, error)
	DeleteRefreshToken(ctx context.Context, token string) error
}
