package pipeline

import (
	"context"
	"sync"

	"storyforge/internal/infra"
)

// Processor runs the pipeline for one job id.
type Processor interface {
	Process(ctx context.Context, jobID string) error
}

// Runner is the worker pool that executes job orchestrations: one logical
// task per job, no shared state between jobs beyond the repository. A
// duplicate Enqueue for the same id is harmless because the orchestrator's
// entry transition is a compare-and-set.
type Runner struct {
	workers int
	proc    Processor
	logger  infra.Logger

	ids      chan string
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewRunner(workers int, proc Processor, logger infra.Logger) *Runner {
	if workers <= 0 {
		workers = 1
	}
	return &Runner{
		workers: workers,
		proc:    proc,
		logger:  logger,
		ids:     make(chan string, 1024),
		stopCh:  make(chan struct{}),
	}
}

// Start launches the worker goroutines.
func (r *Runner) Start() {
	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}
}

// Enqueue hands a job id to the pool without blocking the caller.
func (r *Runner) Enqueue(jobID string) {
	select {
	case r.ids <- jobID:
	default:
		go func() {
			select {
			case r.ids <- jobID:
			case <-r.stopCh:
			}
		}()
	}
}

// Stop drains the workers and waits for in-flight jobs to finish.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
		r.wg.Wait()
	})
}

func (r *Runner) worker() {
	defer r.wg.Done()
	for {
		select {
		case <-r.stopCh:
			return
		case jobID := <-r.ids:
			if err := r.proc.Process(context.Background(), jobID); err != nil {
				r.logger.Error().Err(err).Str("job_id", jobID).Msg("runner: job processing failed")
			}
		}
	}
}
