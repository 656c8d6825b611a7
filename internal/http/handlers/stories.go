package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/abadojack/whatlanggo"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"storyforge/internal/domain"
	"storyforge/internal/middleware"
	"storyforge/internal/storage"
)

type createStoryRequest struct {
	InputType      string `json:"input_type"`
	Text           string `json:"text,omitempty"`
	PayloadBase64  string `json:"payload_base64,omitempty"`
	MIME           string `json:"mime,omitempty"`
	Language       string `json:"language,omitempty"`
	ApprovalPolicy string `json:"approval_policy,omitempty"`
}

type createStoryResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

type storyError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type storyResponse struct {
	ID             string               `json:"id"`
	InputType      domain.InputType     `json:"input_type"`
	Language       string               `json:"language"`
	ApprovalPolicy string               `json:"approval_policy"`
	Status         domain.Status        `json:"status"`
	StageOutputs   []domain.StageOutput `json:"stage_outputs"`
	Metadata       []domain.StageMetric `json:"metadata"`
	Error          *storyError          `json:"error,omitempty"`
	RejectReason   string               `json:"reject_reason,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
}

// StoriesCreate accepts a new story input, persists it as a pending job, and
// triggers background orchestration. It returns immediately; clients poll
// StoriesGet for progress.
func (a *App) StoriesCreate(w http.ResponseWriter, r *http.Request) {
	var req createStoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}

	inputType, ok := domain.ParseInputType(req.InputType)
	if !ok {
		a.error(w, http.StatusBadRequest, "bad_request", "input_type must be image, text, or audio")
		return
	}
	policy, ok := domain.ParseApprovalPolicy(req.ApprovalPolicy)
	if !ok {
		a.error(w, http.StatusBadRequest, "bad_request", "approval_policy must be auto, manual, or notify")
		return
	}

	var payload []byte
	switch inputType {
	case domain.InputTypeText:
		if strings.TrimSpace(req.Text) == "" {
			a.error(w, http.StatusBadRequest, "bad_request", "text is required for text input")
			return
		}
		payload = []byte(req.Text)
	default:
		if req.PayloadBase64 == "" {
			a.error(w, http.StatusBadRequest, "bad_request", "payload_base64 is required for image and audio input")
			return
		}
		decoded, err := base64.StdEncoding.DecodeString(req.PayloadBase64)
		if err != nil || len(decoded) == 0 {
			a.error(w, http.StatusBadRequest, "bad_request", "payload_base64 is not valid base64")
			return
		}
		payload = decoded
	}

	lang := a.jobLanguage(r, req, inputType)

	jobID := uuid.NewString()
	inputRef, err := a.Blobs.Put(r.Context(), inputKey(jobID, inputType, req.MIME), payload)
	if err != nil {
		a.Logger.Error().Err(err).Msg("stories: store input payload failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to store input")
		return
	}

	now := time.Now().UTC()
	job := &domain.Job{
		ID:             jobID,
		InputType:      inputType,
		InputRef:       inputRef,
		Language:       lang,
		ApprovalPolicy: policy,
		Status:         domain.StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := a.Repo.Create(r.Context(), job); err != nil {
		a.Logger.Error().Err(err).Msg("stories: create job failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to create job")
		return
	}
	a.Runner.Enqueue(jobID)

	a.json(w, http.StatusAccepted, createStoryResponse{JobID: jobID, Status: string(domain.StatusPending)})
}

// StoriesGet is the polling endpoint. It is read-only and safe to call
// repeatedly; an unchanged job yields an identical response.
func (a *App) StoriesGet(w http.ResponseWriter, r *http.Request) {
	job, ok := a.loadJob(w, r)
	if !ok {
		return
	}
	a.json(w, http.StatusOK, storyView(job))
}

// StoriesApprove moves a pending_approval job to completed. Driven by the
// external approval collaborator, never by the pipeline itself.
func (a *App) StoriesApprove(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := a.Repo.Transition(r.Context(), jobID, domain.StatusPendingApproval, domain.StatusCompleted, domain.Patch{})
	if err != nil {
		a.transitionError(w, err)
		return
	}
	a.json(w, http.StatusOK, storyView(job))
}

type rejectStoryRequest struct {
	Reason string `json:"reason"`
}

// StoriesReject moves a pending_approval job to rejected with a reason.
func (a *App) StoriesReject(w http.ResponseWriter, r *http.Request) {
	var req rejectStoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	jobID := chi.URLParam(r, "job_id")
	job, err := a.Repo.Transition(r.Context(), jobID, domain.StatusPendingApproval, domain.StatusRejected, domain.Patch{
		RejectReason: req.Reason,
	})
	if err != nil {
		a.transitionError(w, err)
		return
	}
	a.json(w, http.StatusOK, storyView(job))
}

// StoriesAudio streams the final narrated audio for a finished story.
func (a *App) StoriesAudio(w http.ResponseWriter, r *http.Request) {
	job, ok := a.loadJob(w, r)
	if !ok {
		return
	}
	output, found := job.StageOutput(domain.StageSpeak)
	if !found || output.AudioRef == "" {
		a.error(w, http.StatusNotFound, "not_found", "audio not available")
		return
	}
	data, err := a.Blobs.Get(r.Context(), output.AudioRef)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "audio not available")
			return
		}
		a.Logger.Error().Err(err).Str("job_id", job.ID).Msg("stories: read audio failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to read audio")
		return
	}
	w.Header().Set("Content-Type", audioContentType(output.AudioRef))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (a *App) loadJob(w http.ResponseWriter, r *http.Request) (*domain.Job, bool) {
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "job_id required")
		return nil, false
	}
	job, err := a.Repo.Get(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "job not found")
			return nil, false
		}
		a.Logger.Error().Err(err).Str("job_id", jobID).Msg("stories: load job failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load job")
		return nil, false
	}
	return job, true
}

func (a *App) transitionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "job not found")
	case errors.Is(err, domain.ErrInvalidTransition):
		a.error(w, http.StatusConflict, "conflict", "job is not awaiting approval")
	default:
		a.error(w, http.StatusInternalServerError, "internal", "failed to update job")
	}
}

// jobLanguage picks the job's language tag: the explicit request value, else
// detection on text input, else the Accept-Language match, else the
// configured default.
func (a *App) jobLanguage(r *http.Request, req createStoryRequest, inputType domain.InputType) string {
	if lang := strings.TrimSpace(req.Language); lang != "" {
		return lang
	}
	if inputType == domain.InputTypeText {
		info := whatlanggo.Detect(req.Text)
		if info.IsReliable() {
			if iso := info.Lang.Iso6391(); iso != "" {
				return iso
			}
		}
	}
	if lang := middleware.LanguageFromContext(r.Context()); lang != "" {
		return lang
	}
	if def, err := a.Resolver.DefaultLanguage(r.Context()); err == nil {
		return def
	}
	return "en"
}

func storyView(job *domain.Job) storyResponse {
	resp := storyResponse{
		ID:             job.ID,
		InputType:      job.InputType,
		Language:       job.Language,
		ApprovalPolicy: string(job.ApprovalPolicy),
		Status:         job.Status,
		StageOutputs:   job.StageOutputs,
		Metadata:       job.Metrics,
		RejectReason:   job.RejectReason,
		CreatedAt:      job.CreatedAt,
		UpdatedAt:      job.UpdatedAt,
	}
	if resp.StageOutputs == nil {
		resp.StageOutputs = []domain.StageOutput{}
	}
	if resp.Metadata == nil {
		resp.Metadata = []domain.StageMetric{}
	}
	if job.Status == domain.StatusFailed {
		resp.Error = &storyError{Kind: job.ErrorKind, Message: job.ErrorMessage}
	}
	return resp
}

func inputKey(jobID string, inputType domain.InputType, mime string) string {
	return fmt.Sprintf("inputs/%s/source%s", jobID, inputExtension(inputType, mime))
}

func inputExtension(inputType domain.InputType, mime string) string {
	switch inputType {
	case domain.InputTypeText:
		return ".txt"
	case domain.InputTypeImage:
		switch strings.ToLower(mime) {
		case "image/jpeg", "image/jpg":
			return ".jpg"
		case "image/webp":
			return ".webp"
		default:
			return ".png"
		}
	default:
		switch strings.ToLower(mime) {
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
}

func audioContentType(ref string) string {
	switch {
	case strings.HasSuffix(ref, ".wav"):
		return "audio/wav"
	case strings.HasSuffix(ref, ".ogg"):
		return "audio/ogg"
	case strings.HasSuffix(ref, ".webm"):
		return "audio/webm"
	default:
		return "audio/mpeg"
	}
}
