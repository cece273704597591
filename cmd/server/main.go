package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/oschwald/geoip2-golang"
	goredis "github.com/redis/go-redis/v9"

	"github.com/yddav/marketing-hub-identity/internal/auth"
	"github.com/yddav/marketing-hub-identity/internal/config"
	"github.com/yddav/marketing-hub-identity/internal/crypto"
	"github.com/yddav/marketing-hub-identity/internal/logging"
	"github.com/yddav/marketing-hub-identity/internal/oauth2"
	"github.com/yddav/marketing-hub-identity/internal/ratelimit"
	"github.com/yddav/marketing-hub-identity/internal/redis"
	"github.com/yddav/marketing-hub-identity/internal/server"
	"github.com/yddav/marketing-hub-identity/internal/store"
)

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupRedis(ctx context.Context, cfg *config.Config) *goredis.Client {
	client, err := redis.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

func setupCrypto(cfg *config.Config, clock clockwork.Clock) *crypto.Service {
	keys, err := crypto.OpenKeyManager(cfg.KeyStorePath, clock)
	if err != nil {
		slog.Error("Failed to open keystore", "error", err)
		os.Exit(1)
	}
	return crypto.NewService(keys, clock, slog.Default(), cfg.KeyRotationInterval, cfg.RotationCheckEvery)
}

func setupGeoIP(cfg *config.Config) *geoip2.Reader {
	if cfg.GeoIPDatabase == "" {
		return nil
	}
	reader, err := geoip2.Open(cfg.GeoIPDatabase)
	if err != nil {
		slog.Error("Failed to open GeoIP database", "error", err, "path", cfg.GeoIPDatabase)
		os.Exit(1)
	}
	return reader
}

func runGracefulShutdown(srv *server.Server, stopRotation context.CancelFunc) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		stopRotation()
		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port)

	redisClient := setupRedis(context.Background(), cfg)
	defer func() { _ = redisClient.Close() }()

	sessions := redis.NewSessionStore(redisClient)
	revocations := redis.NewRevocationStore(redisClient)
	oauthStore := redis.NewOAuth2Store(redisClient)
	csrfStore := redis.NewCSRFStore(redisClient)

	cryptoSvc := setupCrypto(cfg, clock)
	rotationCtx, stopRotation := context.WithCancel(context.Background())
	go cryptoSvc.Run(rotationCtx)

	users, err := store.LoadUserDirectory(cfg.UsersFile)
	if err != nil {
		slog.Error("Failed to load user directory", "error", err)
		os.Exit(1)
	}

	authSvc, err := auth.NewService(auth.ServiceConfig{
		Users:         users,
		Sessions:      sessions,
		Revocations:   revocations,
		LoginLimiter:  ratelimit.NewRedisLimiter(redisClient, ratelimit.LoginProfile),
		MFALimiter:    ratelimit.NewRedisLimiter(redisClient, ratelimit.MFAProfile),
		Clock:         clock,
		Logger:        slog.Default(),
		AccessSecret:  cfg.JWTAccessSecret,
		RefreshSecret: cfg.JWTRefreshSecret,
		AccessTTL:     cfg.AccessTokenTTL,
		RefreshTTL:    cfg.RefreshTokenTTL,
	})
	if err != nil {
		slog.Error("Failed to create auth service", "error", err)
		os.Exit(1)
	}

	oauthProvider, err := oauth2.NewProvider(oauth2.ProviderConfig{
		Store:            oauthStore,
		Revocations:      revocations,
		AuthorizeLimiter: ratelimit.NewRedisLimiter(redisClient, ratelimit.AuthorizeProfile),
		TokenLimiter:     ratelimit.NewRedisLimiter(redisClient, ratelimit.TokenProfile),
		Clock:            clock,
		Logger:           slog.Default(),
		JWTSecret:        cfg.OAuth2JWTSecret,
		AccessTTL:        cfg.OAuth2AccessTTL,
		RefreshTTL:       cfg.OAuth2RefreshTTL,
		CodeTTL:          cfg.AuthorizationCodeTTL,
	})
	if err != nil {
		slog.Error("Failed to create OAuth2 provider", "error", err)
		os.Exit(1)
	}

	geoReader := setupGeoIP(cfg)
	if geoReader != nil {
		defer func() { _ = geoReader.Close() }()
	}

	srv, err := server.NewServer(cfg, server.Dependencies{
		Auth:         authSvc,
		OAuth2:       oauthProvider,
		Crypto:       cryptoSvc,
		CSRF:         csrfStore,
		Logger:       slog.Default(),
		Redis:        redisClient,
		APILimiter:   ratelimit.NewRedisLimiter(redisClient, ratelimit.APIProfile),
		AuthLimiter:  ratelimit.NewRedisLimiter(redisClient, ratelimit.AuthProfile),
		HeavyLimiter: ratelimit.NewRedisLimiter(redisClient, ratelimit.HeavyProfile),
		GeoIP:        geoReader,
	})
	if err != nil {
		slog.Error("Failed to create server", "error", err)
		os.Exit(1)
	}

	done := runGracefulShutdown(srv, stopRotation)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
