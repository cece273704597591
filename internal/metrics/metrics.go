package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Security Middleware Metrics
var (
	// BlockedRequests tracks requests short-circuited by any security check
	BlockedRequests = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "security_blocked_requests_total",
			Help: "Total requests blocked by the security middleware pipeline",
		},
	)

	// XSSAttempts tracks requests matching an XSS signature
	XSSAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "security_xss_attempts_total",
			Help: "Total requests rejected for XSS patterns",
		},
	)

	// SQLInjectionAttempts tracks requests matching a SQL injection signature
	SQLInjectionAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "security_sql_injection_attempts_total",
			Help: "Total requests rejected for SQL injection patterns",
		},
	)

	// CSRFAttempts tracks missing or mismatched CSRF tokens
	CSRFAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "security_csrf_attempts_total",
			Help: "Total requests rejected by CSRF validation",
		},
	)

	// RateLimitHits tracks requests denied by a rate limiter, by profile
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "security_rate_limit_hits_total",
			Help: "Total requests denied by rate limiting, by limiter profile",
		},
		[]string{"profile"},
	)

	// GeoBlocks tracks requests denied by country-based access control
	GeoBlocks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "security_geo_blocks_total",
			Help: "Total requests denied by geographic access control",
		},
	)

	// IPBlocks tracks requests denied by IP allow/deny lists
	IPBlocks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "security_ip_blocks_total",
			Help: "Total requests denied by IP access control",
		},
	)
)

// Authentication Metrics
var (
	// AuthEvents tracks authentication outcomes by event type
	AuthEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_events_total",
			Help: "Authentication events by type (success/failed/mfa_required/mfa_failed)",
		},
		[]string{"event"},
	)

	// TokensIssued tracks issued tokens by flow
	TokensIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_tokens_issued_total",
			Help: "Tokens issued by flow (login/refresh/oauth2 grant type)",
		},
		[]string{"flow"},
	)

	// TokensRevoked tracks revocations by token type
	TokensRevoked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_tokens_revoked_total",
			Help: "Tokens revoked by token type",
		},
		[]string{"type"},
	)
)

// Encryption Metrics
var (
	// EncryptionOps tracks encrypt/decrypt operations by outcome
	EncryptionOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "encryption_operations_total",
			Help: "Encryption service operations by operation and status",
		},
		[]string{"operation", "status"},
	)

	// EncryptedBytes tracks plaintext bytes processed
	EncryptedBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "encryption_bytes_total",
			Help: "Plaintext bytes processed by direction (encrypt/decrypt)",
		},
		[]string{"direction"},
	)

	// KeyRotations tracks completed key rotations
	KeyRotations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "encryption_key_rotations_total",
			Help: "Total completed encryption key rotations",
		},
	)

	// KeyRotationFailures tracks per-key rotation failures
	KeyRotationFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "encryption_key_rotation_failures_total",
			Help: "Total failed encryption key rotation attempts",
		},
	)

	// ActiveKeys tracks the number of loaded encryption keys
	ActiveKeys = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "encryption_active_keys",
			Help: "Number of encryption keys currently loaded",
		},
	)
)
