package domain

import "time"

// InputType enumerates the kinds of raw input a story can start from.
type InputType string

const (
	InputTypeImage InputType = "image"
	InputTypeText  InputType = "text"
	InputTypeAudio InputType = "audio"
)

// ApprovalPolicy controls what happens once every pipeline stage has succeeded.
type ApprovalPolicy string

const (
	ApprovalAuto   ApprovalPolicy = "auto"
	ApprovalManual ApprovalPolicy = "manual"
	ApprovalNotify ApprovalPolicy = "notify"
)

// Status enumerates job lifecycle states.
type Status string

const (
	StatusPending         Status = "pending"
	StatusProcessing      Status = "processing"
	StatusPendingApproval Status = "pending_approval"
	StatusCompleted       Status = "completed"
	StatusRejected        Status = "rejected"
	StatusFailed          Status = "failed"
)

// Terminal reports whether a job in this status can never move again.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusRejected, StatusFailed:
		return true
	}
	return false
}

var transitions = map[Status][]Status{
	StatusPending:         {StatusProcessing},
	StatusProcessing:      {StatusCompleted, StatusPendingApproval, StatusFailed},
	StatusPendingApproval: {StatusCompleted, StatusRejected},
}

// ValidTransition reports whether the state machine allows from -> to.
func ValidTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Stage names one step of the fixed story pipeline.
type Stage string

const (
	StageDescribe   Stage = "describe"
	StageTranscribe Stage = "transcribe"
	StageNarrate    Stage = "narrate"
	StageSpeak      Stage = "speak"
)

// PlanFor returns the ordered stage sequence for an input type.
func PlanFor(t InputType) ([]Stage, error) {
	switch t {
	case InputTypeImage:
		return []Stage{StageDescribe, StageNarrate, StageSpeak}, nil
	case InputTypeText:
		return []Stage{StageNarrate, StageSpeak}, nil
	case InputTypeAudio:
		return []Stage{StageTranscribe, StageNarrate, StageSpeak}, nil
	}
	return nil, ErrInvalidInput
}

// StageOutput is the artifact one stage produced for a job.
type StageOutput struct {
	Stage       Stage     `json:"stage"`
	Text        string    `json:"text,omitempty"`
	Title       string    `json:"title,omitempty"`
	Body        string    `json:"body,omitempty"`
	AudioRef    string    `json:"audio_ref,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

// StageMetric records which vendor won a stage and what it cost.
type StageMetric struct {
	Stage    Stage         `json:"stage"`
	Vendor   string        `json:"vendor"`
	Model    string        `json:"model"`
	Attempts int           `json:"attempts"`
	Latency  time.Duration `json:"latency_ns"`
	Cost     float64       `json:"cost_usd"`
}

// Job is the persistent record tracking one end-to-end pipeline run.
type Job struct {
	ID             string         `json:"id"`
	InputType      InputType      `json:"input_type"`
	InputRef       string         `json:"input_ref"`
	Language       string         `json:"language"`
	ApprovalPolicy ApprovalPolicy `json:"approval_policy"`
	Status         Status         `json:"status"`
	StageOutputs   []StageOutput  `json:"stage_outputs"`
	Metrics        []StageMetric  `json:"metrics"`
	ErrorKind      string         `json:"error_kind,omitempty"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	RejectReason   string         `json:"reject_reason,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// StageOutput returns the recorded output for a stage, if that stage finished.
func (j *Job) StageOutput(stage Stage) (*StageOutput, bool) {
	for i := range j.StageOutputs {
		if j.StageOutputs[i].Stage == stage {
			return &j.StageOutputs[i], true
		}
	}
	return nil, false
}

// Clone returns a deep copy so callers can never mutate stored state.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	cp := *j
	cp.StageOutputs = append([]StageOutput(nil), j.StageOutputs...)
	cp.Metrics = append([]StageMetric(nil), j.Metrics...)
	return &cp
}

// ParseInputType validates a wire value.
func ParseInputType(raw string) (InputType, bool) {
	switch InputType(raw) {
	case InputTypeImage, InputTypeText, InputTypeAudio:
		return InputType(raw), true
	}
	return "", false
}

// ParseApprovalPolicy validates a wire value; empty defaults to auto.
func ParseApprovalPolicy(raw string) (ApprovalPolicy, bool) {
	if raw == "" {
		return ApprovalAuto, true
	}
	switch ApprovalPolicy(raw) {
	case ApprovalAuto, ApprovalManual, ApprovalNotify:
		return ApprovalPolicy(raw), true
	}
	return "", false
}
