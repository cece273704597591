package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	AppEnv    string
	Port      string
	LogLevel  string
	LogFormat string

	RedisURL string

	// HMAC signing secrets. Access and refresh tokens are signed with
	// distinct secrets so a leaked access secret cannot mint refresh tokens.
	JWTAccessSecret  string
	JWTRefreshSecret string
	OAuth2JWTSecret  string

	AccessTokenTTL       time.Duration
	RefreshTokenTTL      time.Duration
	OAuth2AccessTTL      time.Duration
	OAuth2RefreshTTL     time.Duration
	AuthorizationCodeTTL time.Duration

	KeyStorePath        string
	KeyRotationInterval time.Duration
	RotationCheckEvery  time.Duration

	UsersFile string

	MaxRequestBytes int64
	GeoIPDatabase   string
	IPAllowList     []string
	IPDenyList      []string
	CountryAllow    []string
	CountryDeny     []string
}

func Load() (*Config, error) {
	cfg := &Config{
		AppEnv:    getEnv("APP_ENV", "development"),
		Port:      getEnv("PORT", "8080"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		RedisURL: getEnv("REDIS_URL", ""),

		JWTAccessSecret:  getEnv("JWT_ACCESS_SECRET", ""),
		JWTRefreshSecret: getEnv("JWT_REFRESH_SECRET", ""),
		OAuth2JWTSecret:  getEnv("OAUTH2_JWT_SECRET", ""),

		AccessTokenTTL:       15 * time.Minute,
		RefreshTokenTTL:      7 * 24 * time.Hour,
		OAuth2AccessTTL:      time.Hour,
		OAuth2RefreshTTL:     30 * 24 * time.Hour,
		AuthorizationCodeTTL: 10 * time.Minute,

		KeyStorePath:        getEnv("KEY_STORE_PATH", "security/keys"),
		KeyRotationInterval: 30 * 24 * time.Hour,
		RotationCheckEvery:  24 * time.Hour,

		UsersFile: getEnv("USERS_FILE", ""),

		MaxRequestBytes: 10 * 1024 * 1024,
		GeoIPDatabase:   getEnv("GEOIP_DATABASE", ""),
		IPAllowList:     splitList(getEnv("IP_ALLOW_LIST", "")),
		IPDenyList:      splitList(getEnv("IP_DENY_LIST", "")),
		CountryAllow:    splitList(getEnv("COUNTRY_ALLOW_LIST", "")),
		CountryDeny:     splitList(getEnv("COUNTRY_DENY_LIST", "")),
	}

	if v := getEnv("KEY_ROTATION_INTERVAL", ""); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("KEY_ROTATION_INTERVAL must be a duration: %w", err)
		}
		cfg.KeyRotationInterval = d
	}

	if v := getEnv("MAX_REQUEST_BYTES", ""); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("MAX_REQUEST_BYTES must be a positive integer")
		}
		cfg.MaxRequestBytes = n
	}

	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}
	if err := validateSecret("JWT_ACCESS_SECRET", cfg.JWTAccessSecret); err != nil {
		return nil, err
	}
	if err := validateSecret("JWT_REFRESH_SECRET", cfg.JWTRefreshSecret); err != nil {
		return nil, err
	}
	if err := validateSecret("OAUTH2_JWT_SECRET", cfg.OAuth2JWTSecret); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateSecret requires hex-encoded secrets of at least 32 bytes so weak
// ad-hoc strings cannot serve as HMAC keys.
func validateSecret(name, value string) error {
	if value == "" {
		return fmt.Errorf("%s is required", name)
	}
	raw, err := hex.DecodeString(value)
	if err != nil {
		return fmt.Errorf("%s must be valid hex: %w", name, err)
	}
	if len(raw) < 32 {
		return fmt.Errorf("%s must be at least 64 hex characters (32 bytes), got %d bytes", name, len(raw))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
