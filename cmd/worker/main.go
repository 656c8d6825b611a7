package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"storyforge/internal/adapter/repo"
	"storyforge/internal/capability"
	"storyforge/internal/domain"
	"storyforge/internal/infra"
	"storyforge/internal/notify"
	"storyforge/internal/pipeline"
	"storyforge/internal/providers"
	"storyforge/internal/storage"
)

const (
	jobPollInterval = 2 * time.Second
	jobClaimBatch   = 10
)

type jobWorker struct {
	ctx          context.Context
	jobs         domain.JobRepository
	orchestrator *pipeline.Orchestrator
	logger       infra.Logger
	concurrency  int
}

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.DatabaseURL == "" {
		logger.Fatal().Msg("worker: DATABASE_URL is required, the worker cannot share an in-memory store")
	}
	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer pool.Close()
	jobs := repo.NewPostgres(pool)

	blobs, err := storage.NewFileStore(cfg.StoragePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure storage")
	}

	source := capability.NewFileSource(cfg.SettingsFile, cfg.SettingsCacheTTL)
	resolver := capability.NewResolver(source)
	if _, err := resolver.Languages(ctx); err != nil {
		logger.Fatal().Err(err).Str("file", cfg.SettingsFile).Msg("worker: failed to load capability settings")
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

	worker := &jobWorker{
		ctx:          ctx,
		jobs:         jobs,
		orchestrator: orchestrator,
		logger:       logger,
		concurrency:  cfg.WorkerCount,
	}

	if err := worker.Run(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("worker: stopped with error")
	}
	logger.Info().Msg("worker: stopped")
}

// Run polls for pending jobs and processes each batch concurrently. The
// guarded pending->processing transition inside the orchestrator makes it
// safe to run several workers against the same database.
func (w *jobWorker) Run() error {
	w.logger.Info().Msg("worker: started")
	for {
		select {
		case <-w.ctx.Done():
			return w.ctx.Err()
		default:
		}

		pending, err := w.jobs.ListByStatus(w.ctx, domain.StatusPending, jobClaimBatch)
		if err != nil {
			w.logger.Error().Err(err).Msg("worker: failed to list pending jobs")
			w.sleep(jobPollInterval)
			continue
		}
		if len(pending) == 0 {
			w.sleep(jobPollInterval)
			continue
		}

		g, ctx := errgroup.WithContext(w.ctx)
		g.SetLimit(w.concurrency)
		for _, job := range pending {
			job := job
			g.Go(func() error {
				if err := w.orchestrator.Process(ctx, job.ID); err != nil {
					w.logger.Error().Err(err).Str("job_id", job.ID).Msg("worker: job processing failed")
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
}

func (w *jobWorker) sleep(d time.Duration) {
	select {
	case <-w.ctx.Done():
	case <-time.After(d):
	}
}
