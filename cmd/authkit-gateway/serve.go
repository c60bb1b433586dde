package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/FlowMCP/remote-mcp-authkit/internal/client"
	"github.com/FlowMCP/remote-mcp-authkit/internal/config"
	"github.com/FlowMCP/remote-mcp-authkit/internal/gateway"
	"github.com/FlowMCP/remote-mcp-authkit/internal/logging"
	"github.com/FlowMCP/remote-mcp-authkit/internal/mcpfilter"
	"github.com/FlowMCP/remote-mcp-authkit/internal/metrics"
	"github.com/FlowMCP/remote-mcp-authkit/internal/oauth"
	"github.com/FlowMCP/remote-mcp-authkit/internal/schema"
)

const shutdownTimeout = 10 * time.Second

func runServe(ctx context.Context, cfg config.Config, stderr io.Writer) error {
	logger := logging.New(stderr, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg.Auth.RedisURL, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	users, err := loadUsers(cfg.Auth.UsersFile, logger)
	if err != nil {
		return err
	}
	secret, err := jwtSecret(cfg.Auth.JWTSecret, logger)
	if err != nil {
		return err
	}

	rec := metrics.New()
	provider := oauth.NewProvider(oauth.Config{
		Issuer:          cfg.Auth.Issuer,
		Secret:          secret,
		AccessTokenTTL:  cfg.Auth.AccessTokenTTL,
		RefreshTokenTTL: cfg.Auth.RefreshTokenTTL,
		AuthCodeTTL:     cfg.Auth.AuthCodeTTL,
		ResourcePath:    cfg.RoutePath,
	}, store, users, oauth.WithLogger(logger))

	builder := newBuilder(cfg, logger, rec)
	pool := gateway.NewPool(builder.Build, gateway.WithLogger(logger), gateway.WithMetrics(rec))
	router := gateway.NewRouter(provider, pool, cfg.RoutePath, gateway.WithLogger(logger), gateway.WithMetrics(rec))

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           gateway.Handler(router, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		errCh <- rec.ListenAndServe(ctx, cfg.MetricsAddr, logger)
	}()
	go func() {
		logger.Info("gateway listening", "addr", cfg.Addr, "route_path", cfg.RoutePath)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("gateway server: %w", err)
		}
	}()

	var runErr error
wait:
	for {
		select {
		case <-ctx.Done():
			break wait
		case err := <-errCh:
			if err != nil {
				runErr = err
				break wait
			}
		}
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := pool.Shutdown(shutdownCtx); err != nil {
		logger.Warn("instance shutdown", "err", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("gateway shutdown", "err", err)
		_ = srv.Close()
	}
	return runErr
}

func newBuilder(cfg config.Config, logger *slog.Logger, rec *metrics.Recorder) *gateway.Builder {
	fsys, source := schema.Builtin(), "builtin"
	if cfg.SchemaDir != "" {
		fsys, source = os.DirFS(cfg.SchemaDir), cfg.SchemaDir
	}
	loader := schema.NewLoader(fsys,
		schema.WithSource(source),
		schema.WithCacheTTL(cfg.SchemaCacheTTL),
		schema.WithLogger(logger),
	)

	ai := client.NewClient(
		client.WithBaseURL(cfg.AI.BaseURL),
		client.WithAccountID(cfg.AI.AccountID),
		client.WithAPIToken(cfg.AI.APIToken),
	)
	var images client.ImageGenerator
	if ai.Available() {
		images = ai
	} else {
		logger.Warn("image backend not configured", "need", config.KeyCFAccountID+", "+config.KeyCFAPIToken)
	}

	return &gateway.Builder{
		Loader: loader,
		LoadOptions: schema.LoadOptions{
			ExcludeImports:      cfg.Schema.ExcludeImports,
			ExcludeServerParams: cfg.Schema.ExcludeServerParams,
			AddMetadata:         cfg.Schema.AddMetadata,
		},
		Filter: mcpfilter.Options{
			IncludeNamespaces: cfg.Filter.IncludeNamespaces,
			ExcludeNamespaces: cfg.Filter.ExcludeNamespaces,
			ActivateTags:      cfg.Filter.ActivateTags,
		},
		ServerParams: cfg.ServerParams,
		Images:       images,
		ImageModel:   cfg.AI.ImageModel,
		RoutePath:    cfg.RoutePath,
		Logger:       logger,
		Metrics:      rec,
	}
}

func openStore(ctx context.Context, redisURL string, logger *slog.Logger) (oauth.Store, func(), error) {
	if redisURL == "" {
		logger.Info("grant store: memory")
		return oauth.NewMemoryStore(), func() {}, nil
	}
	rs, err := oauth.OpenRedis(ctx, redisURL)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("grant store: redis")
	return rs, func() {
		if err := rs.Close(); err != nil {
			logger.Warn("close redis", "err", err)
		}
	}, nil
}

func loadUsers(path string, logger *slog.Logger) (*oauth.Directory, error) {
	if path == "" {
		logger.Warn("no users file configured, nobody can sign in", "key", config.KeyAuthUsersFile)
		return oauth.NewDirectory(), nil
	}
	users, err := oauth.LoadDirectory(path)
	if err != nil {
		return nil, err
	}
	logger.Info("users loaded", "path", path, "count", users.Len())
	return users, nil
}

func jwtSecret(configured string, logger *slog.Logger) ([]byte, error) {
	if configured != "" {
		return []byte(configured), nil
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate jwt secret: %w", err)
	}
	logger.Warn("JWT_SECRET not set, tokens will not survive a restart")
	return secret, nil
}
