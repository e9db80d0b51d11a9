// Command api serves the storefront cart, favorites, session and catalog HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hanko-field/storefront/internal/di"
	"github.com/hanko-field/storefront/internal/platform/config"
	"github.com/hanko-field/storefront/internal/platform/observability"
	"github.com/hanko-field/storefront/internal/platform/secrets"
	"github.com/hanko-field/storefront/internal/repositories"
	"github.com/hanko-field/storefront/internal/services"
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger); err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("storefront api stopped", zap.Error(err))
	}
}

func run(ctx context.Context, logger *zap.Logger) error {
	startedAt := time.Now().UTC()
	appLogger := logger.Named("storefront")
	ctx = observability.WithLogger(ctx, appLogger)

	env, err := config.EnvironmentValues()
	if err != nil {
		return fmt.Errorf("read environment: %w", err)
	}

	fetcher, err := secrets.NewFetcher(ctx, secrets.ConfigFromEnv(env), secrets.WithLogger(appLogger.Named("secrets")))
	if err != nil {
		return fmt.Errorf("secret fetcher: %w", err)
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			appLogger.Warn("secret fetcher close failed", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(env)...),
	)
	if err != nil {
		return err
	}
	appLogger.Info("configuration loaded", zap.Stringer("config", cfg))

	container, err := di.NewContainer(ctx, cfg,
		di.WithLogger(logger),
		di.WithBuildInfo(buildInfo(env, cfg, startedAt)),
		di.WithDependencyChecks(repositories.DependencyCheck{
			Name:     "secretManager",
			Timeout:  time.Second,
			Optional: true,
			Check:    fetcher.Ping,
		}),
	)
	if err != nil {
		return fmt.Errorf("container: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			appLogger.Warn("container close failed", zap.Error(err))
		}
	}()

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      container.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		container.RunIdempotencyCleanup(gctx)
		return nil
	})
	g.Go(func() error {
		container.RunGuestSessionCleanup(gctx)
		return nil
	})
	g.Go(func() error {
		appLogger.Info("listening", zap.String("addr", server.Addr), zap.String("datastore", cfg.Datastore.Driver))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		appLogger.Info("draining requests")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func buildInfo(env map[string]string, cfg config.Config, startedAt time.Time) services.BuildInfo {
	orDefault := func(v, fallback string) string {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
		return fallback
	}
	return services.BuildInfo{
		Version:     orDefault(env["API_BUILD_VERSION"], "dev"),
		CommitSHA:   orDefault(env["API_BUILD_COMMIT_SHA"], "unknown"),
		Environment: orDefault(cfg.Security.Environment, "local"),
		StartedAt:   startedAt,
	}
}

// requiredSecretNames lists the secrets that must resolve before the server starts. The signer key
// matters only for a private image bucket, and the DSN only for Postgres.
func requiredSecretNames(env map[string]string) []string {
	required := []string{"Session.SigningKey"}
	if strings.TrimSpace(env["API_STORAGE_SIGNER_EMAIL"]) != "" {
		required = append(required, "Storage.SignerKey")
	}
	if strings.EqualFold(strings.TrimSpace(env["API_DATASTORE_DRIVER"]), config.DriverPostgres) {
		required = append(required, "Postgres.DSN")
	}
	slices.Sort(required)
	return required
}
