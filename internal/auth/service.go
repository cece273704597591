// Package auth implements first-party authentication: credential and MFA
// verification, HMAC-signed token pairs backed by server-side sessions, and
// token-id revocation.
package auth

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/crypto/bcrypt"

	"github.com/yddav/marketing-hub-identity/internal/domain"
	apperrors "github.com/yddav/marketing-hub-identity/internal/errors"
	"github.com/yddav/marketing-hub-identity/internal/logging"
	"github.com/yddav/marketing-hub-identity/internal/metrics"
	"github.com/yddav/marketing-hub-identity/internal/ratelimit"
)

const (
	Issuer   = "marketing-hub-auth"
	Audience = "marketing-hub-api"

	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

var signingMethod = jwt.SigningMethodHS512

// Claims is the token payload. Access and refresh tokens of one pair share
// SessionID and the registered ID (jti), so revoking the pair is a single
// blacklist entry.
type Claims struct {
	Email       string   `json:"email,omitempty"`
	Role        string   `json:"role,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	SessionID   string   `json:"sessionId"`
	TokenType   string   `json:"type"`
	jwt.RegisteredClaims
}

// TokenPair is the issued credential set.
type TokenPair struct {
	AccessToken           string `json:"accessToken"`
	RefreshToken          string `json:"refreshToken,omitempty"`
	AccessTokenExpiresIn  int64  `json:"accessTokenExpiresIn"`
	RefreshTokenExpiresIn int64  `json:"refreshTokenExpiresIn,omitempty"`
	TokenType             string `json:"tokenType"`
}

// LoginResult is the outcome of Authenticate. When MFARequired is set the
// credentials were valid but an MFA code must be supplied on a second call.
type LoginResult struct {
	MFARequired bool         `json:"requiresMFA,omitempty"`
	User        *domain.User `json:"user,omitempty"`
	Tokens      *TokenPair   `json:"tokens,omitempty"`
}

// ClientInfo carries request metadata into the audit trail and session record.
type ClientInfo struct {
	IP        string
	UserAgent string
}

// ServiceConfig wires the dependencies of the auth service.
type ServiceConfig struct {
	Users        domain.UserRepository
	Sessions     domain.SessionStore
	Revocations  domain.RevocationStore
	LoginLimiter ratelimit.Limiter
	MFALimiter   ratelimit.Limiter
	Clock        clockwork.Clock
	Logger       *slog.Logger

	// Hex-encoded HMAC secrets, distinct per token type.
	AccessSecret  string
	RefreshSecret string

	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

type Service struct {
	users        domain.UserRepository
	sessions     domain.SessionStore
	revocations  domain.RevocationStore
	loginLimiter ratelimit.Limiter
	mfaLimiter   ratelimit.Limiter
	clock        clockwork.Clock
	logger       *slog.Logger

	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
}

func NewService(cfg ServiceConfig) (*Service, error) {
	accessSecret, err := hex.DecodeString(cfg.AccessSecret)
	if err != nil {
		return nil, fmt.Errorf("invalid access token secret: %w", err)
	}
	refreshSecret, err := hex.DecodeString(cfg.RefreshSecret)
	if err != nil {
		return nil, fmt.Errorf("invalid refresh token secret: %w", err)
	}

	return &Service{
		users:         cfg.Users,
		sessions:      cfg.Sessions,
		revocations:   cfg.Revocations,
		loginLimiter:  cfg.LoginLimiter,
		mfaLimiter:    cfg.MFALimiter,
		clock:         cfg.Clock,
		logger:        cfg.Logger,
		accessSecret:  accessSecret,
		refreshSecret: refreshSecret,
		accessTTL:     cfg.AccessTTL,
		refreshTTL:    cfg.RefreshTTL,
	}, nil
}

// Authenticate verifies credentials and, when enabled, an MFA code. Failure
// responses never reveal whether the account exists. Rate limits apply
// before any credential work: login attempts per IP, MFA attempts per
// IP and user.
func (s *Service) Authenticate(ctx context.Context, email, password, mfaCode string, client ClientInfo) (*LoginResult, error) {
	allowed, retryAfter, err := s.loginLimiter.Allow(ctx, client.IP)
	if err != nil {
		return nil, apperrors.InternalError("rate limiter unavailable", err)
	}
	if !allowed {
		metrics.RateLimitHits.WithLabelValues("login").Inc()
		logging.Audit("rate_limit_exceeded", "limit", "login", "ip", client.IP)
		return nil, apperrors.RateLimitedError(retryAfter)
	}

	if email == "" || password == "" {
		return nil, apperrors.ValidationError("email and password are required")
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, apperrors.InternalError("user lookup failed", err)
	}
	if user == nil {
		s.auditAuthFailure("user_not_found", "", email, client)
		return nil, apperrors.AuthenticationError("invalid credentials")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.auditAuthFailure("invalid_password", user.ID, email, client)
		return nil, apperrors.AuthenticationError("invalid credentials")
	}

	if user.MFAEnabled {
		if mfaCode == "" {
			metrics.AuthEvents.WithLabelValues("mfa_required").Inc()
			logging.Audit("mfa_required", "user_id", user.ID, "ip", client.IP)
			return &LoginResult{MFARequired: true}, nil
		}

		mfaKey := client.IP + ":" + user.ID
		allowed, retryAfter, err := s.mfaLimiter.Allow(ctx, mfaKey)
		if err != nil {
			return nil, apperrors.InternalError("rate limiter unavailable", err)
		}
		if !allowed {
			metrics.RateLimitHits.WithLabelValues("mfa").Inc()
			logging.Audit("rate_limit_exceeded", "limit", "mfa", "ip", client.IP, "user_id", user.ID)
			return nil, apperrors.RateLimitedError(retryAfter)
		}

		if !s.VerifyMFACode(user.MFASecret, mfaCode) {
			metrics.AuthEvents.WithLabelValues("mfa_failed").Inc()
			logging.Audit("mfa_failed", "user_id", user.ID, "ip", client.IP)
			return nil, apperrors.AuthenticationError("invalid MFA code")
		}
	}

	tokens, err := s.GenerateTokenPair(ctx, user, client)
	if err != nil {
		return nil, err
	}

	metrics.AuthEvents.WithLabelValues("success").Inc()
	metrics.TokensIssued.WithLabelValues("login").Inc()
	logging.Audit("authentication_success",
		"user_id", user.ID,
		"ip", client.IP,
		"user_agent", client.UserAgent,
	)

	sanitized := user.Sanitize()
	return &LoginResult{User: &sanitized, Tokens: tokens}, nil
}

func (s *Service) auditAuthFailure(reason, userID, email string, client ClientInfo) {
	metrics.AuthEvents.WithLabelValues("failed").Inc()
	logging.Audit("authentication_failed",
		"reason", reason,
		"user_id", userID,
		"email", email,
		"ip", client.IP,
		"user_agent", client.UserAgent,
	)
}

// GenerateTokenPair issues an access/refresh pair sharing a fresh session id
// and token id, and records the backing session with the refresh TTL.
func (s *Service) GenerateTokenPair(ctx context.Context, user *domain.User, client ClientInfo) (*TokenPair, error) {
	now := s.clock.Now()
	sessionID := uuid.NewString()
	tokenID := uuid.NewString()

	accessToken, err := s.signToken(&Claims{
		Email:       user.Email,
		Role:        user.Role,
		Permissions: PermissionsForRole(user.Role),
		SessionID:   sessionID,
		TokenType:   TokenTypeAccess,
		RegisteredClaims: s.registeredClaims(user.ID, tokenID, now, s.accessTTL),
	}, s.accessSecret)
	if err != nil {
		return nil, apperrors.InternalError("failed to sign access token", err)
	}

	refreshToken, err := s.signToken(&Claims{
		SessionID:        sessionID,
		TokenType:        TokenTypeRefresh,
		RegisteredClaims: s.registeredClaims(user.ID, tokenID, now, s.refreshTTL),
	}, s.refreshSecret)
	if err != nil {
		return nil, apperrors.InternalError("failed to sign refresh token", err)
	}

	session := domain.Session{
		SessionID: sessionID,
		UserID:    user.ID,
		TokenID:   tokenID,
		IP:        client.IP,
		UserAgent: client.UserAgent,
		CreatedAt: now.UTC(),
		LastUsed:  now.UTC(),
		IsActive:  true,
	}
	if err := s.sessions.Put(ctx, session, s.refreshTTL); err != nil {
		return nil, apperrors.InternalError("failed to store session", err)
	}

	return &TokenPair{
		AccessToken:           accessToken,
		RefreshToken:          refreshToken,
		AccessTokenExpiresIn:  int64(s.accessTTL.Seconds()),
		RefreshTokenExpiresIn: int64(s.refreshTTL.Seconds()),
		TokenType:             "Bearer",
	}, nil
}

func (s *Service) registeredClaims(subject, tokenID string, now time.Time, ttl time.Duration) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		ID:        tokenID,
		Subject:   subject,
		Issuer:    Issuer,
		Audience:  jwt.ClaimStrings{Audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
}

func (s *Service) signToken(claims *Claims, secret []byte) (string, error) {
	return jwt.NewWithClaims(signingMethod, claims).SignedString(secret)
}

// VerifyToken validates a token end to end: signature, issuer, audience,
// expiry, declared type, blacklist, and backing session. On success the
// session's LastUsed is updated. Every failure collapses into one opaque
// error so callers cannot distinguish expired from revoked.
func (s *Service) VerifyToken(ctx context.Context, tokenString, tokenType string) (*Claims, error) {
	claims, err := s.parseToken(tokenString, tokenType)
	if err != nil {
		s.auditTokenFailure(tokenType, err)
		return nil, apperrors.TokenInvalidError(err)
	}

	revoked, err := s.revocations.IsTokenIDRevoked(ctx, claims.ID)
	if err != nil {
		return nil, apperrors.InternalError("revocation check failed", err)
	}
	if revoked {
		s.auditTokenFailure(tokenType, fmt.Errorf("token id is blacklisted"))
		return nil, apperrors.TokenInvalidError(nil)
	}

	session, err := s.sessions.Get(ctx, claims.SessionID)
	if err != nil {
		return nil, apperrors.InternalError("session lookup failed", err)
	}
	if session == nil || !session.IsActive {
		s.auditTokenFailure(tokenType, fmt.Errorf("session missing or inactive"))
		return nil, apperrors.TokenInvalidError(nil)
	}

	if err := s.sessions.Touch(ctx, claims.SessionID, s.clock.Now().UTC()); err != nil {
		s.logger.Warn("failed to update session last used",
			"session_id", claims.SessionID,
			"error", err.Error(),
		)
	}

	return claims, nil
}

func (s *Service) parseToken(tokenString, tokenType string) (*Claims, error) {
	secret := s.accessSecret
	if tokenType == TokenTypeRefresh {
		secret = s.refreshSecret
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(tokenString, &claims,
		func(*jwt.Token) (any, error) { return secret, nil },
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithAudience(Audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.clock.Now),
	)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != tokenType {
		return nil, fmt.Errorf("token type mismatch: got %q, want %q", claims.TokenType, tokenType)
	}
	return &claims, nil
}

func (s *Service) auditTokenFailure(tokenType string, cause error) {
	attrs := []any{"token_type", tokenType}
	if cause != nil {
		attrs = append(attrs, "reason", cause.Error())
	}
	logging.Audit("token_verification_failed", attrs...)
}

// RefreshAccessToken exchanges a valid refresh token for a new access token.
// The refresh token itself is not rotated: the new access token keeps the
// session id but gets a fresh token id, so session deactivation remains the
// kill switch for the whole lineage.
func (s *Service) RefreshAccessToken(ctx context.Context, refreshToken string, client ClientInfo) (*TokenPair, error) {
	claims, err := s.VerifyToken(ctx, refreshToken, TokenTypeRefresh)
	if err != nil {
		logging.Audit("token_refresh_failed", "ip", client.IP)
		return nil, err
	}

	user, err := s.users.GetUserByID(ctx, claims.Subject)
	if err != nil {
		return nil, apperrors.InternalError("user lookup failed", err)
	}
	if user == nil {
		return nil, apperrors.TokenInvalidError(nil)
	}

	now := s.clock.Now()
	accessToken, err := s.signToken(&Claims{
		Email:       user.Email,
		Role:        user.Role,
		Permissions: PermissionsForRole(user.Role),
		SessionID:   claims.SessionID,
		TokenType:   TokenTypeAccess,
		RegisteredClaims: s.registeredClaims(user.ID, uuid.NewString(), now, s.accessTTL),
	}, s.accessSecret)
	if err != nil {
		return nil, apperrors.InternalError("failed to sign access token", err)
	}

	metrics.TokensIssued.WithLabelValues("refresh").Inc()
	logging.Audit("token_refreshed",
		"user_id", user.ID,
		"session_id", claims.SessionID,
		"ip", client.IP,
	)

	return &TokenPair{
		AccessToken:          accessToken,
		AccessTokenExpiresIn: int64(s.accessTTL.Seconds()),
		TokenType:            "Bearer",
	}, nil
}

// RevokeToken blacklists the token's id for its remaining lifetime. Revoking
// a refresh token additionally deactivates the session, which invalidates
// every access token minted against it.
func (s *Service) RevokeToken(ctx context.Context, tokenString, tokenType string) error {
	claims, err := s.VerifyToken(ctx, tokenString, tokenType)
	if err != nil {
		logging.Audit("token_revocation_failed", "token_type", tokenType)
		return err
	}

	remaining := claims.ExpiresAt.Time.Sub(s.clock.Now())
	if remaining > 0 {
		if err := s.revocations.RevokeTokenID(ctx, claims.ID, remaining); err != nil {
			return apperrors.InternalError("failed to blacklist token", err)
		}
	}

	if tokenType == TokenTypeRefresh {
		if err := s.sessions.Deactivate(ctx, claims.SessionID); err != nil {
			return apperrors.InternalError("failed to deactivate session", err)
		}
	}

	metrics.TokensRevoked.WithLabelValues(tokenType).Inc()
	logging.Audit("token_revoked",
		"user_id", claims.Subject,
		"token_id", claims.ID,
		"session_id", claims.SessionID,
		"token_type", tokenType,
	)
	return nil
}
