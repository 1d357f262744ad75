package main

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	cacheadapter "github.com/lanternauth/lantern/internal/adapter/cache"
	"github.com/lanternauth/lantern/internal/analytics"
	"github.com/lanternauth/lantern/internal/bootstrap"
	"github.com/lanternauth/lantern/internal/config"
	httptransport "github.com/lanternauth/lantern/internal/http"
	"github.com/lanternauth/lantern/internal/http/handler"
	httpmiddleware "github.com/lanternauth/lantern/internal/http/middleware"
	"github.com/lanternauth/lantern/internal/keyring"
	apimiddleware "github.com/lanternauth/lantern/internal/middleware"
	"github.com/lanternauth/lantern/internal/password"
	"github.com/lanternauth/lantern/internal/repository"
	"github.com/lanternauth/lantern/internal/server"
	"github.com/lanternauth/lantern/internal/service"
	"github.com/lanternauth/lantern/internal/telemetry"
)

func main() {
	app := fx.New(
		fx.Provide(
			newConfig,
			newLogger,
			newTelemetry,
			newSnowflake,
			newPGXPool,
			newClientRepository,
			newUserRepository,
			newKeyRepository,
			newRedisClient,
			newCSRFStore,
			newAuthCodeStore,
			newHasher,
			newAnalyticsSink,
			newKeyManager,
			newAuthorizeService,
			newTokenService,
			newDiscoveryService,
			service.NewAdminService,
			newOIDCHandler,
			handler.NewAdminHandler,
			newAdminMiddleware,
			newRateLimiter,
			httptransport.NewRouter,
			server.NewHTTPServer,
		),
		fx.Invoke(useTelemetry, bootstrap.EnsureAdmin, bootstrap.EnsureSigningKey, startHTTPServer),
	)

	app.Run()
}

func newConfig() (config.Config, error) {
	return config.Load()
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Environment == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func newTelemetry(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*telemetry.Provider, error) {
	provider, err := telemetry.New(context.Background(), cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("telemetry init: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return provider.Shutdown(stopCtx)
		},
	})

	return provider, nil
}

func newSnowflake() (*snowflake.Node, error) {
	node, err := snowflake.NewNode(1)
	return node, err
}

func newPGXPool(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			pool.Close()
			return nil
		},
	})

	return pool, nil
}

func newClientRepository(pool *pgxpool.Pool) repository.ClientRepository {
	return repository.NewPostgresClientRepo(pool)
}

func newUserRepository(pool *pgxpool.Pool) repository.UserRepository {
	return repository.NewPostgresUserRepo(pool)
}

func newKeyRepository(pool *pgxpool.Pool) repository.KeyRepository {
	return repository.NewPostgresKeyRepo(pool)
}

func newRedisClient(lc fx.Lifecycle, cfg config.Config) (redis.UniversalClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}

func newCSRFStore(client redis.UniversalClient) repository.CSRFTokenStore {
	return cacheadapter.NewRedisTokenStore(client, "csrf:")
}

func newAuthCodeStore(client redis.UniversalClient) repository.AuthCodeStore {
	return cacheadapter.NewRedisTokenStore(client, "authcode:")
}

func newHasher(cfg config.Config) *password.Hasher {
	return password.NewHasher(cfg.BcryptCost)
}

func newAnalyticsSink(logger *zap.Logger) analytics.Sink {
	return analytics.NewZapSink(logger)
}

func newKeyManager(repo repository.KeyRepository, logger *zap.Logger) *keyring.Manager {
	return keyring.NewManager(repo, logger)
}

func newAuthorizeService(
	clients repository.ClientRepository,
	users repository.UserRepository,
	csrf repository.CSRFTokenStore,
	codes repository.AuthCodeStore,
	passwords *password.Hasher,
	sink analytics.Sink,
	cfg config.Config,
	logger *zap.Logger,
) *service.AuthorizeService {
	return service.NewAuthorizeService(clients, users, csrf, codes, passwords, sink, cfg.CSRFTokenTTL, cfg.AuthCodeTTL, logger)
}

func newTokenService(
	clients repository.ClientRepository,
	users repository.UserRepository,
	codes repository.AuthCodeStore,
	keys *keyring.Manager,
	cfg config.Config,
	logger *zap.Logger,
) *service.TokenService {
	return service.NewTokenService(clients, users, codes, keys, cfg.IssuerURL(), cfg.TokenTTL, cfg.StrictTokenChecks, logger)
}

func newDiscoveryService(cfg config.Config) *service.DiscoveryService {
	return service.NewDiscoveryService(cfg)
}

func newOIDCHandler(
	authorize *service.AuthorizeService,
	tokens *service.TokenService,
	keys *keyring.Manager,
	discovery *service.DiscoveryService,
	cfg config.Config,
) *handler.OIDCHandler {
	return handler.NewOIDCHandler(authorize, tokens, keys, discovery, cfg.ProviderName)
}

func newAdminMiddleware(cfg config.Config) *httpmiddleware.Admin {
	return &httpmiddleware.Admin{Secret: cfg.AdminAPISecret}
}

func newRateLimiter(cfg config.Config) *apimiddleware.RateLimiter {
	return apimiddleware.NewRateLimiter(cfg.RateLimitRPM)
}

func startHTTPServer(lc fx.Lifecycle, srv *server.HTTPServer, cfg config.Config, logger *zap.Logger) {
	addr := ":" + cfg.HTTPPort
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runCtx, stop := context.WithCancel(context.Background())
			cancel = stop
			done = make(chan struct{})

			go func() {
				if err := srv.Run(runCtx, addr); err != nil {
					logger.Error("http server stopped", zap.Error(err))
				}
				close(done)
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			if done == nil {
				return nil
			}
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}

func useTelemetry(*telemetry.Provider) {}
