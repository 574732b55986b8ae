package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iago/storybook-back/internal/ai"
	"github.com/iago/storybook-back/internal/cache"
	"github.com/iago/storybook-back/internal/compiler"
	"github.com/iago/storybook-back/internal/config"
	httpserver "github.com/iago/storybook-back/internal/http"
	"github.com/iago/storybook-back/internal/http/handlers"
	"github.com/iago/storybook-back/internal/pipeline"
	"github.com/iago/storybook-back/internal/queue"
	"github.com/iago/storybook-back/internal/registry"
	"github.com/iago/storybook-back/internal/repository"
	"github.com/iago/storybook-back/internal/retry"
	"github.com/iago/storybook-back/internal/service"
	"github.com/iago/storybook-back/internal/storage"
	"github.com/iago/storybook-back/internal/worker"
)

func main() {
	dotenvErr := config.LoadDotEnv(".env", ".env.local")
	cfg := config.Load()
	logger := config.NewLogger(cfg)
	if dotenvErr != nil {
		logger.WithError(dotenvErr).Warn("failed loading .env files")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg, registryCloser := setupRegistry(ctx, cfg, logger)
	defer registryCloser()

	history, historyCloser := setupHistory(ctx, cfg, logger)
	defer historyCloser()

	provider := setupProvider(cfg, logger)

	store, err := storage.NewArtifactStore(cfg.StorybookDir)
	if err != nil {
		logger.WithError(err).WithField("dir", cfg.StorybookDir).Fatal("failed to prepare storybook directory")
	}

	orchestrator, err := pipeline.NewOrchestrator(pipeline.Config{
		Registry: reg,
		Provider: provider,
		Store:    store,
		Compiler: compiler.New(1024),
		ImageRetry: retry.NewPolicy(
			cfg.ImageMaxRetries,
			retry.LinearBackoff(time.Duration(cfg.ImageRetryBackoffMS)*time.Millisecond),
		),
		Traits: cache.NewTraitsCache(cache.Config{
			TTL:        time.Duration(cfg.TraitsCacheTTLSeconds) * time.Second,
			MaxEntries: cfg.TraitsCacheMaxEntries,
		}),
		History:    history,
		Pages:      cfg.StorybookPages,
		JobTimeout: time.Duration(cfg.JobTimeoutMS) * time.Millisecond,
		Logger:     logger,
	})
	if err != nil {
		logger.WithError(err).Fatal("failed to build pipeline")
	}

	localQueue := queue.NewLocalQueue(cfg.JobQueueCapacity, logger)
	processor := worker.NewProcessor(localQueue, orchestrator, cfg.MaxConcurrentJobs, logger)
	processor.Start(ctx)

	janitor := worker.NewJanitor(
		store,
		time.Duration(cfg.ArtifactTTLMinutes)*time.Minute,
		time.Duration(cfg.ArtifactSweepIntervalSeconds)*time.Second,
		logger,
	)
	janitor.Start(ctx)

	storybooks := service.NewStorybooksService(reg, localQueue, provider, store, history, logger)
	api := handlers.NewAPI(storybooks, cfg.MaxUploadMB, logger)

	handler := httpserver.NewRouter(httpserver.RouterDependencies{
		API:            api,
		Logger:         logger,
		AuthToken:      cfg.AuthToken,
		CORSOrigins:    cfg.CORSAllowedOrigins,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		Context:        ctx,
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.WithField("port", cfg.Port).Info("api listening")
		errChan <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("server failed")
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("graceful shutdown failed")
	}

	localQueue.Close()
	processor.Wait()
	janitor.Wait()
	logger.Info("workers stopped")
}

func setupRegistry(ctx context.Context, cfg config.Config, logger logrus.FieldLogger) (registry.Registry, func()) {
	if cfg.RedisAddr == "" {
		logger.Info("REDIS_ADDR not configured, using in-memory job registry")
		return registry.NewMemoryRegistry(), func() {}
	}

	redisRegistry, err := registry.NewRedisRegistry(ctx, registry.RedisConfig{
		Addr:      cfg.RedisAddr,
		Password:  cfg.RedisPassword,
		DB:        cfg.RedisDB,
		KeyPrefix: cfg.RedisKeyPrefix,
		TTL:       time.Duration(cfg.RedisJobTTLSeconds) * time.Second,
	})
	if err != nil {
		logger.WithError(err).Warn("failed to initialize redis registry, fallback to memory")
		return registry.NewMemoryRegistry(), func() {}
	}
	logger.Info("redis job registry initialized")
	return redisRegistry, func() {
		_ = redisRegistry.Close()
	}
}

func setupHistory(ctx context.Context, cfg config.Config, logger logrus.FieldLogger) (repository.BooksRepository, func()) {
	if cfg.DatabaseURL == "" {
		logger.Info("DATABASE_URL not configured, using in-memory book history")
		return repository.NewMemoryBooksRepository(), func() {}
	}

	pgRepo, err := repository.NewPostgresBooksRepository(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.WithError(err).Warn("failed to initialize postgres history, fallback to memory")
		return repository.NewMemoryBooksRepository(), func() {}
	}
	logger.Info("postgres book history initialized")
	return pgRepo, pgRepo.Close
}

func setupProvider(cfg config.Config, logger logrus.FieldLogger) ai.ContentProvider {
	if cfg.ProviderMock {
		logger.Warn("PROVIDER_MOCK enabled, pages are generated locally")
		return ai.NewMockProvider(cfg.StorybookPages)
	}

	client := ai.NewOpenAIClient(ai.OpenAIClientConfig{
		APIKey:          cfg.OpenAIAPIKey,
		BaseURL:         cfg.OpenAIBaseURL,
		Timeout:         time.Duration(cfg.OpenAITimeoutMS) * time.Millisecond,
		DownloadTimeout: time.Duration(cfg.DownloadTimeoutMS) * time.Millisecond,
		Router: ai.NewModelRouter(ai.ModelRouterConfig{
			VisionModel:    cfg.OpenAIModelVision,
			NarrativeModel: cfg.OpenAIModelNarrative,
			ImageModel:     cfg.OpenAIModelImage,
			ImageSize:      cfg.OpenAIImageSize,
			ImageQuality:   cfg.OpenAIImageQuality,
		}),
	})
	if !client.Available() {
		logger.Warn("OPENAI_API_KEY not configured, storybook requests will be rejected")
	}
	return client
}
