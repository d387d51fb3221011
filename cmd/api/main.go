package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/lionbidi/storefront/internal/di"
	"github.com/lionbidi/storefront/internal/handlers"
	"github.com/lionbidi/storefront/internal/platform/config"
	"github.com/lionbidi/storefront/internal/platform/observability"
	"github.com/lionbidi/storefront/internal/platform/secrets"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	env, err := config.EnvironmentValues()
	if err != nil {
		panic(err)
	}

	logger, err := observability.NewLogger(env["STOREFRONT_LOG_LEVEL"])
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	secretFetcher, err := newSecretFetcher(ctx, logger, env)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if cerr := secretFetcher.Close(); cerr != nil {
			logger.Warn("failed to close secret fetcher", zap.Error(cerr))
		}
	}()

	cfg, err := config.Load(ctx, config.WithSecretResolver(config.SecretResolverFunc(secretFetcher.ResolveSecret)))
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	container, err := di.NewContainer(ctx, cfg,
		di.WithLogger(logger),
		di.WithBuildInfo(buildInfoFromEnv(env, cfg)),
		di.WithStartedAt(startedAt),
	)
	if err != nil {
		logger.Fatal("failed to build dependencies", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if cerr := container.Close(closeCtx); cerr != nil {
			logger.Warn("failed to release dependencies", zap.Error(cerr))
		}
	}()

	cleanupCtx, cleanupCancel := context.WithCancel(ctx)
	var cleanupWG sync.WaitGroup
	var cleanupTicker *time.Ticker
	if interval := cfg.Idempotency.CleanupInterval; interval > 0 {
		cleanupTicker = time.NewTicker(interval)
		cleanupWG.Add(1)
		go func() {
			defer cleanupWG.Done()
			for {
				select {
				case <-cleanupCtx.Done():
					return
				case <-cleanupTicker.C:
					removed, err := container.Idempotency.CleanupExpired(cleanupCtx, time.Now().UTC(), cfg.Idempotency.CleanupBatchSize)
					if err != nil {
						logger.Warn("idempotency cleanup failed", zap.Error(err))
						continue
					}
					if removed > 0 {
						logger.Debug("idempotency cleanup", zap.Int("removed", removed))
					}
				}
			}
		}()
	}

	server := &http.Server{
		Addr:         net.JoinHostPort("", cfg.Server.Port),
		Handler:      container.Router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("storefront api listening",
			zap.String("addr", server.Addr),
			zap.String("environment", cfg.Security.Environment),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutting down")

	if cleanupTicker != nil {
		cleanupTicker.Stop()
	}
	cleanupCancel()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func buildInfoFromEnv(env map[string]string, cfg config.Config) handlers.BuildInfo {
	version := strings.TrimSpace(env["STOREFRONT_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["STOREFRONT_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	return handlers.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: cfg.Security.Environment,
	}
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	envLabel := strings.ToLower(lookup("STOREFRONT_SECURITY_ENVIRONMENT"))
	if envLabel == "" {
		envLabel = "local"
	}
	project := lookup("STOREFRONT_SECRET_PROJECT_ID")
	if project == "" {
		project = lookup("STOREFRONT_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("STOREFRONT_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithEnvironment(envLabel),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if project != "" {
		opts = append(opts, secrets.WithProject(project))
	}
	if credentialsFile := lookup("STOREFRONT_FIREBASE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}
	return secrets.NewFetcher(ctx, opts...)
}
