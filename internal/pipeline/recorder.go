package pipeline

import (
	"context"

	"storyforge/internal/capability"
	"storyforge/internal/domain"
	"storyforge/internal/infra"
)

// Recorder attaches per-stage metadata to the job record: the winning
// vendor, the attempt count, wall-clock latency, and the estimated cost.
// Recording is auditing only; a recording failure never fails the stage.
type Recorder struct {
	repo   domain.JobRepository
	logger infra.Logger
}

func NewRecorder(repo domain.JobRepository, logger infra.Logger) *Recorder {
	return &Recorder{repo: repo, logger: logger}
}

// Record appends the metric for a completed stage.
func (r *Recorder) Record(ctx context.Context, jobID string, stage domain.Stage, att Attempt, result *capability.Result) {
	metric := domain.StageMetric{
		Stage:    stage,
		Vendor:   att.Vendor,
		Model:    att.Model,
		Attempts: att.Attempts,
		Latency:  att.Latency,
		Cost:     EstimateCost(att.Config, result),
	}
	if err := r.repo.AppendMetric(ctx, jobID, metric); err != nil {
		r.logger.Error().Err(err).
			Str("job_id", jobID).
			Str("stage", string(stage)).
			Msg("recorder: append metric failed")
	}
}

// EstimateCost is a pure function of the result's output size and the
// candidate's per-unit price from the capability config.
func EstimateCost(cfg capability.ProviderConfig, result *capability.Result) float64 {
	if result == nil || cfg.PricePerUnit <= 0 {
		return 0
	}
	return float64(result.Units) * cfg.PricePerUnit
}
