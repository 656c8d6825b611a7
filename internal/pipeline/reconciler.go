package pipeline

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"storyforge/internal/domain"
	"storyforge/internal/infra"
)

// Enqueuer accepts job ids for background processing.
type Enqueuer interface {
	Enqueue(jobID string)
}

// Reconciler periodically re-enqueues jobs still pending after a grace
// period, covering a background trigger lost to a crash between Create and
// Enqueue. Duplicate triggers are absorbed by the orchestrator's guarded
// entry transition. Jobs interrupted mid-processing are deliberately not
// recovered here; the pipeline has no per-stage idempotency keys to resume
// safely.
type Reconciler struct {
	repo   domain.JobRepository
	runner Enqueuer
	grace  time.Duration
	logger infra.Logger
	cron   *cron.Cron
}

const reconcileBatchSize = 100

func NewReconciler(repo domain.JobRepository, runner Enqueuer, grace time.Duration, logger infra.Logger) *Reconciler {
	return &Reconciler{
		repo:   repo,
		runner: runner,
		grace:  grace,
		logger: logger,
	}
}

// Start schedules the sweep. The spec uses cron syntax, e.g. "@every 30s".
func (r *Reconciler) Start(spec string) error {
	c := cron.New()
	if _, err := c.AddFunc(spec, r.sweep); err != nil {
		return err
	}
	c.Start()
	r.cron = c
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (r *Reconciler) Stop() {
	if r.cron == nil {
		return
	}
	<-r.cron.Stop().Done()
}

func (r *Reconciler) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	jobs, err := r.repo.ListByStatus(ctx, domain.StatusPending, reconcileBatchSize)
	if err != nil {
		r.logger.Error().Err(err).Msg("reconciler: list pending jobs failed")
		return
	}
	cutoff := time.Now().Add(-r.grace)
	requeued := 0
	for _, job := range jobs {
		if job.UpdatedAt.After(cutoff) {
			continue
		}
		r.runner.Enqueue(job.ID)
		requeued++
	}
	if requeued > 0 {
		r.logger.Info().Int("count", requeued).Msg("reconciler: re-enqueued stale pending jobs")
	}
}
