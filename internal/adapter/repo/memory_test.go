package repo

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"storyforge/internal/domain"
)

func newJob(id string, status domain.Status, createdAt time.Time) *domain.Job {
	return &domain.Job{
		ID:             id,
		InputType:      domain.InputTypeText,
		InputRef:       "inputs/" + id + "/source.txt",
		Language:       "en",
		ApprovalPolicy: domain.ApprovalAuto,
		Status:         status,
		CreatedAt:      createdAt,
		UpdatedAt:      createdAt,
	}
}

func TestMemoryCreateAndGet(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	ctx := context.Background()

	job := newJob("a", domain.StatusPending, time.Now())
	require.NoError(t, m.Create(ctx, job))
	require.ErrorIs(t, m.Create(ctx, job), domain.ErrInvalidInput)

	got, err := m.Get(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, got.Status)

	_, err = m.Get(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMemoryGetReturnsClones(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.Create(ctx, newJob("a", domain.StatusPending, time.Now())))
	require.NoError(t, m.AppendStageOutput(ctx, "a", domain.StageOutput{Stage: domain.StageNarrate, Title: "T"}))

	got, err := m.Get(ctx, "a")
	require.NoError(t, err)
	got.Status = domain.StatusFailed
	got.StageOutputs[0].Title = "mutated"

	fresh, err := m.Get(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, fresh.Status)
	require.Equal(t, "T", fresh.StageOutputs[0].Title)
}

func TestMemoryTransitionGuards(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.Create(ctx, newJob("a", domain.StatusPending, time.Now())))

	got, err := m.Transition(ctx, "a", domain.StatusPending, domain.StatusProcessing, domain.Patch{})
	require.NoError(t, err)
	require.Equal(t, domain.StatusProcessing, got.Status)

	// Stale from-status misses the guard.
	_, err = m.Transition(ctx, "a", domain.StatusPending, domain.StatusProcessing, domain.Patch{})
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	// A transition the state machine forbids is rejected even with the
	// right from-status.
	_, err = m.Transition(ctx, "a", domain.StatusProcessing, domain.StatusRejected, domain.Patch{})
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = m.Transition(ctx, "missing", domain.StatusPending, domain.StatusProcessing, domain.Patch{})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMemoryTransitionAppliesPatch(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.Create(ctx, newJob("a", domain.StatusProcessing, time.Now())))

	got, err := m.Transition(ctx, "a", domain.StatusProcessing, domain.StatusFailed, domain.Patch{
		ErrorKind:    "all_providers_failed",
		ErrorMessage: "stage speak: exhausted",
	})
	require.NoError(t, err)
	require.Equal(t, "all_providers_failed", got.ErrorKind)
	require.Equal(t, "stage speak: exhausted", got.ErrorMessage)
}

func TestMemoryTransitionIsSingleWinner(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.Create(ctx, newJob("a", domain.StatusPending, time.Now())))

	const racers = 16
	var wg sync.WaitGroup
	wins := make(chan struct{}, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Transition(ctx, "a", domain.StatusPending, domain.StatusProcessing, domain.Patch{}); err == nil {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	count := 0
	for range wins {
		count++
	}
	require.Equal(t, 1, count, "exactly one racer claims the job")
}

func TestMemoryListByStatus(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	ctx := context.Background()
	base := time.Now()
	require.NoError(t, m.Create(ctx, newJob("c", domain.StatusPending, base.Add(2*time.Second))))
	require.NoError(t, m.Create(ctx, newJob("a", domain.StatusPending, base)))
	require.NoError(t, m.Create(ctx, newJob("b", domain.StatusPending, base.Add(time.Second))))
	require.NoError(t, m.Create(ctx, newJob("d", domain.StatusCompleted, base)))

	got, err := m.ListByStatus(ctx, domain.StatusPending, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "a", got[0].ID)
	require.Equal(t, "b", got[1].ID)
}
