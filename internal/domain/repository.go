package domain

import "context"

// Patch carries the optional field updates applied alongside a status
// transition. Empty fields are left untouched.
type Patch struct {
	ErrorKind    string
	ErrorMessage string
	RejectReason string
}

// JobRepository is the persistence contract for jobs. Transition is a guarded
// compare-and-set: it only advances the job when its current status matches
// from, which is what keeps a second concurrent orchestration run from
// touching the same job.
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	Transition(ctx context.Context, id string, from, to Status, patch Patch) (*Job, error)
	AppendStageOutput(ctx context.Context, id string, out StageOutput) error
	AppendMetric(ctx context.Context, id string, metric StageMetric) error
	ListByStatus(ctx context.Context, status Status, limit int) ([]*Job, error)
}
