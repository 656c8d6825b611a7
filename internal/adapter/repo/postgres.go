package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"storyforge/internal/domain"
)

// Postgres implements domain.JobRepository on pgx. Stage outputs and metrics
// are JSONB arrays appended in place, so the additive operations never race
// with the guarded status transition.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

const jobColumns = `id, input_type, input_ref, language, approval_policy, status,
stage_outputs, metrics, error_kind, error_message, reject_reason, created_at, updated_at`

func (r *Postgres) Create(ctx context.Context, job *domain.Job) error {
	query := `
INSERT INTO jobs (id, input_type, input_ref, language, approval_policy, status, stage_outputs, metrics, error_kind, error_message, reject_reason, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, '[]'::jsonb, '[]'::jsonb, '', '', '', $7, $8);
`
	_, err := r.pool.Exec(ctx, query,
		job.ID,
		job.InputType,
		job.InputRef,
		job.Language,
		job.ApprovalPolicy,
		job.Status,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (r *Postgres) Get(ctx context.Context, id string) (*domain.Job, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1;`, id)
	return scanJob(row)
}

// Transition is a guarded compare-and-set: the UPDATE matches the current
// status, so only one concurrent orchestration can advance a given job.
func (r *Postgres) Transition(ctx context.Context, id string, from, to domain.Status, patch domain.Patch) (*domain.Job, error) {
	if !domain.ValidTransition(from, to) {
		return nil, domain.ErrInvalidTransition
	}
	query := `
UPDATE jobs
SET status = $3,
    error_kind = COALESCE(NULLIF($4, ''), error_kind),
    error_message = COALESCE(NULLIF($5, ''), error_message),
    reject_reason = COALESCE(NULLIF($6, ''), reject_reason),
    updated_at = NOW()
WHERE id = $1 AND status = $2
RETURNING ` + jobColumns + `;`
	row := r.pool.QueryRow(ctx, query, id, from, to, patch.ErrorKind, patch.ErrorMessage, patch.RejectReason)
	job, err := scanJob(row)
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	// Guard missed: distinguish a missing job from a status mismatch.
	if _, getErr := r.Get(ctx, id); getErr != nil {
		return nil, getErr
	}
	return nil, domain.ErrInvalidTransition
}

func (r *Postgres) AppendStageOutput(ctx context.Context, id string, out domain.StageOutput) error {
	payload, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("encode stage output: %w", err)
	}
	return r.appendJSONB(ctx, id, "stage_outputs", payload)
}

func (r *Postgres) AppendMetric(ctx context.Context, id string, metric domain.StageMetric) error {
	payload, err := json.Marshal(metric)
	if err != nil {
		return fmt.Errorf("encode metric: %w", err)
	}
	return r.appendJSONB(ctx, id, "metrics", payload)
}

func (r *Postgres) appendJSONB(ctx context.Context, id, column string, payload []byte) error {
	query := fmt.Sprintf(`
UPDATE jobs
SET %s = %s || $2::jsonb,
    updated_at = NOW()
WHERE id = $1;`, column, column)
	tag, err := r.pool.Exec(ctx, query, id, payload)
	if err != nil {
		return fmt.Errorf("append %s: %w", column, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *Postgres) ListByStatus(ctx context.Context, status domain.Status, limit int) ([]*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE status = $1 ORDER BY created_at ASC LIMIT $2;`
	rows, err := r.pool.Query(ctx, query, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var job domain.Job
	var outputs, metrics []byte
	if err := row.Scan(
		&job.ID,
		&job.InputType,
		&job.InputRef,
		&job.Language,
		&job.ApprovalPolicy,
		&job.Status,
		&outputs,
		&metrics,
		&job.ErrorKind,
		&job.ErrorMessage,
		&job.RejectReason,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}
	if len(outputs) > 0 {
		if err := json.Unmarshal(outputs, &job.StageOutputs); err != nil {
			return nil, fmt.Errorf("decode stage outputs: %w", err)
		}
	}
	if len(metrics) > 0 {
		if err := json.Unmarshal(metrics, &job.Metrics); err != nil {
			return nil, fmt.Errorf("decode metrics: %w", err)
		}
	}
	return &job, nil
}

var _ domain.JobRepository = (*Postgres)(nil)
