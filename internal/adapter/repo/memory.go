package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"storyforge/internal/domain"
)

// Memory is an in-process JobRepository for development and tests. All reads
// return snapshot clones so callers can never mutate stored state, and
// Transition is a compare-and-set under the write lock.
type Memory struct {
	mu   sync.RWMutex
	jobs map[string]*domain.Job
}

func NewMemory() *Memory {
	return &Memory{jobs: make(map[string]*domain.Job)}
}

func (m *Memory) Create(_ context.Context, job *domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.jobs[job.ID]; exists {
		return domain.ErrInvalidInput
	}
	m.jobs[job.ID] = job.Clone()
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (*domain.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return job.Clone(), nil
}

func (m *Memory) Transition(_ context.Context, id string, from, to domain.Status, patch domain.Patch) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if job.Status != from || !domain.ValidTransition(from, to) {
		return nil, domain.ErrInvalidTransition
	}
	job.Status = to
	if patch.ErrorKind != "" {
		job.ErrorKind = patch.ErrorKind
	}
	if patch.ErrorMessage != "" {
		job.ErrorMessage = patch.ErrorMessage
	}
	if patch.RejectReason != "" {
		job.RejectReason = patch.RejectReason
	}
	job.UpdatedAt = time.Now().UTC()
	return job.Clone(), nil
}

func (m *Memory) AppendStageOutput(_ context.Context, id string, out domain.StageOutput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	job.StageOutputs = append(job.StageOutputs, out)
	job.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) AppendMetric(_ context.Context, id string, metric domain.StageMetric) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	job.Metrics = append(job.Metrics, metric)
	job.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) ListByStatus(_ context.Context, status domain.Status, limit int) ([]*domain.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Job
	for _, job := range m.jobs {
		if job.Status == status {
			out = append(out, job.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var _ domain.JobRepository = (*Memory)(nil)
