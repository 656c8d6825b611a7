package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"storyforge/internal/capability"
	"storyforge/internal/domain"
	"storyforge/internal/infra"
	"storyforge/internal/notify"
	"storyforge/internal/storage"
)

// ErrorKindAllProvidersFailed is the error kind recorded on a job whose
// stage exhausted every candidate.
const (
	ErrorKindAllProvidersFailed = "all_providers_failed"
	ErrorKindInternal           = "internal"
)

// Orchestrator chains the capability stages for one job, feeding each
// stage's output into the next and assembling the final artifact. It is the
// only writer of a job while the job is processing.
type Orchestrator struct {
	repo     domain.JobRepository
	executor *Executor
	blobs    storage.Store
	notifier notify.Notifier
	recorder *Recorder
	logger   infra.Logger
}

func NewOrchestrator(repo domain.JobRepository, executor *Executor, blobs storage.Store, notifier notify.Notifier, recorder *Recorder, logger infra.Logger) *Orchestrator {
	return &Orchestrator{
		repo:     repo,
		executor: executor,
		blobs:    blobs,
		notifier: notifier,
		recorder: recorder,
		logger:   logger,
	}
}

// Process runs the full pipeline for one job. Entry is a guarded
// pending -> processing transition: when two triggers race for the same job,
// exactly one wins the compare-and-set and the other returns without work.
func (o *Orchestrator) Process(ctx context.Context, jobID string) error {
	job, err := o.repo.Transition(ctx, jobID, domain.StatusPending, domain.StatusProcessing, domain.Patch{})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			o.logger.Debug().Str("job_id", jobID).Msg("orchestrator: job already claimed, skipping")
			return nil
		}
		return fmt.Errorf("claim job %s: %w", jobID, err)
	}

	o.logger.Info().
		Str("job_id", job.ID).
		Str("input_type", string(job.InputType)).
		Str("language", job.Language).
		Msg("orchestrator: pipeline started")

	plan, err := domain.PlanFor(job.InputType)
	if err != nil {
		o.fail(ctx, job.ID, ErrorKindInternal, fmt.Sprintf("unsupported input type %q", job.InputType))
		return nil
	}

	text, media, mediaMIME, err := o.loadInput(ctx, job)
	if err != nil {
		o.fail(ctx, job.ID, ErrorKindInternal, fmt.Sprintf("load input payload: %v", err))
		return nil
	}

	var title, body string
	for _, stage := range plan {
		req := capability.Request{Language: job.Language}
		var kind capability.Kind
		switch stage {
		case domain.StageDescribe:
			kind = capability.KindDescription
			req.Media, req.MediaMIME = media, mediaMIME
		case domain.StageTranscribe:
			kind = capability.KindTranscription
			req.Media, req.MediaMIME = media, mediaMIME
		case domain.StageNarrate:
			kind = capability.KindNarration
			req.Text = text
		case domain.StageSpeak:
			kind = capability.KindSpeech
			req.Text = strings.TrimSpace(title + "\n\n" + body)
		}

		result, attempt, err := o.executor.Run(ctx, kind, job.Language, req)
		if err != nil {
			o.failStage(ctx, job.ID, stage, err)
			return nil
		}

		output := domain.StageOutput{Stage: stage, CompletedAt: time.Now().UTC()}
		switch stage {
		case domain.StageDescribe, domain.StageTranscribe:
			output.Text = result.Text
			text = result.Text
		case domain.StageNarrate:
			output.Title, output.Body = result.Title, result.Body
			title, body = result.Title, result.Body
		case domain.StageSpeak:
			ref, err := o.storeAudio(ctx, job.ID, result)
			if err != nil {
				o.fail(ctx, job.ID, ErrorKindInternal, fmt.Sprintf("store audio artifact: %v", err))
				return nil
			}
			output.AudioRef = ref
		}

		if err := o.repo.AppendStageOutput(ctx, job.ID, output); err != nil {
			o.logger.Error().Err(err).
				Str("job_id", job.ID).
				Str("stage", string(stage)).
				Msg("orchestrator: persist stage output failed")
		}
		o.recorder.Record(ctx, job.ID, stage, attempt, result)
	}

	o.finish(ctx, job)
	return nil
}

// loadInput reads the raw payload from the blob store once. Text inputs
// carry their content in the blob as UTF-8.
func (o *Orchestrator) loadInput(ctx context.Context, job *domain.Job) (text string, media []byte, mediaMIME string, err error) {
	data, err := o.blobs.Get(ctx, job.InputRef)
	if err != nil {
		return "", nil, "", err
	}
	if job.InputType == domain.InputTypeText {
		return string(data), nil, "", nil
	}
	return "", data, http.DetectContentType(data), nil
}

// storeAudio writes the synthesized audio to the blob store and returns its ref.
func (o *Orchestrator) storeAudio(ctx context.Context, jobID string, result *capability.Result) (string, error) {
	if len(result.Audio) == 0 {
		return "", errors.New("speech stage produced no audio")
	}
	key := fmt.Sprintf("stories/%s/story%s", jobID, extensionForMIME(result.AudioMIME))
	return o.blobs.Put(ctx, key, result.Audio)
}

// finish consults the approval policy once every stage has succeeded.
func (o *Orchestrator) finish(ctx context.Context, job *domain.Job) {
	switch job.ApprovalPolicy {
	case domain.ApprovalManual, domain.ApprovalNotify:
		if _, err := o.repo.Transition(ctx, job.ID, domain.StatusProcessing, domain.StatusPendingApproval, domain.Patch{}); err != nil {
			o.logger.Error().Err(err).Str("job_id", job.ID).Msg("orchestrator: transition to pending_approval failed")
			return
		}
		if err := o.notifier.Notify(ctx, job.ID, notify.EventAwaitingApproval); err != nil {
			o.logger.Warn().Err(err).Str("job_id", job.ID).Msg("orchestrator: approval notification failed")
		}
		o.logger.Info().Str("job_id", job.ID).Msg("orchestrator: pipeline finished, awaiting approval")
	default:
		if _, err := o.repo.Transition(ctx, job.ID, domain.StatusProcessing, domain.StatusCompleted, domain.Patch{}); err != nil {
			o.logger.Error().Err(err).Str("job_id", job.ID).Msg("orchestrator: transition to completed failed")
			return
		}
		o.logger.Info().Str("job_id", job.ID).Msg("orchestrator: pipeline completed")
	}
}

// failStage marks the job failed with the classified stage error. The error
// carries failure kinds only, never raw vendor response bodies.
func (o *Orchestrator) failStage(ctx context.Context, jobID string, stage domain.Stage, err error) {
	var exhausted *AllProvidersFailedError
	if errors.As(err, &exhausted) {
		o.fail(ctx, jobID, ErrorKindAllProvidersFailed, fmt.Sprintf("stage %s: %s", stage, exhausted.Error()))
		return
	}
	o.fail(ctx, jobID, ErrorKindInternal, fmt.Sprintf("stage %s: %v", stage, err))
}

func (o *Orchestrator) fail(ctx context.Context, jobID, kind, message string) {
	o.logger.Error().
		Str("job_id", jobID).
		Str("error_kind", kind).
		Str("error", message).
		Msg("orchestrator: pipeline failed")
	if _, err := o.repo.Transition(ctx, jobID, domain.StatusProcessing, domain.StatusFailed, domain.Patch{
		ErrorKind:    kind,
		ErrorMessage: message,
	}); err != nil {
		o.logger.Error().Err(err).Str("job_id", jobID).Msg("orchestrator: transition to failed failed")
	}
}

func extensionForMIME(mime string) string {
	switch strings.ToLower(strings.TrimSpace(mime)) {
	case "audio/wav", "audio/x-wav":
		return ".wav"
	case "audio/ogg":
		return ".ogg"
	case "audio/webm":
		return ".webm"
	default:
		return ".mp3"
	}
}
