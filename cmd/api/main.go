package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"storyforge/internal/adapter/repo"
	"storyforge/internal/capability"
	"storyforge/internal/domain"
	"storyforge/internal/http/handlers"
	httpapi "storyforge/internal/http/httpapi"
	"storyforge/internal/infra"
	"storyforge/internal/notify"
	"storyforge/internal/pipeline"
	"storyforge/internal/providers"
	"storyforge/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()

	var jobs domain.JobRepository
	if cfg.DatabaseURL != "" {
		dbpool, derr := infra.NewDBPool(ctx, cfg)
		if derr != nil {
			logger.Fatal().Err(derr).Msg("failed to connect database")
		}
		defer dbpool.Close()
		jobs = repo.NewPostgres(dbpool)
	} else {
		logger.Warn().Msg("DATABASE_URL not set, using in-memory job store")
		jobs = repo.NewMemory()
	}

	blobs, err := storage.NewFileStore(cfg.StoragePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init blob storage")
	}

	source := capability.NewFileSource(cfg.SettingsFile, cfg.SettingsCacheTTL)
	resolver := capability.NewResolver(source)
	if _, err := resolver.Languages(ctx); err != nil {
		logger.Fatal().Err(err).Str("file", cfg.SettingsFile).Msg("failed to load capability settings")
	}

	var notifier notify.Notifier
	if cfg.NotifyWebhookURL != "" {
		notifier = notify.NewWebhookNotifier(cfg.NotifyWebhookURL, nil, logger)
	} else {
		notifier = notify.NewLogNotifier(logger)
	}

	registry := providers.Default(cfg, logger)
	executor := pipeline.NewExecutor(resolver, registry, logger)
	recorder := pipeline.NewRecorder(jobs, logger)
	orchestrator := pipeline.NewOrchestrator(jobs, executor, blobs, notifier, recorder, logger)

	runner := pipeline.NewRunner(cfg.WorkerCount, orchestrator, logger)
	runner.Start()
	defer runner.Stop()

	reconciler := pipeline.NewReconciler(jobs, runner, cfg.ReconcileGrace, logger)
	if err := reconciler.Start(cfg.ReconcileSpec); err != nil {
		logger.Fatal().Err(err).Msg("failed to start reconciler")
	}
	defer reconciler.Stop()

	defaultLang, _ := resolver.DefaultLanguage(ctx)
	langs, _ := resolver.Languages(ctx)

	app := handlers.NewApp(jobs, runner, blobs, resolver, logger)
	router := httpapi.NewRouter(app, httpapi.RouterOptions{
		Logger:          logger,
		AllowedOrigins:  cfg.AllowedOrigins,
		RateLimitPerMin: cfg.RateLimitPerMin,
		DefaultLanguage: defaultLang,
		Languages:       langs,
	})

	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
