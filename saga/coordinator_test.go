package saga

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type memoryRepository struct {
	instances map[uuid.UUID]*Instance
	processed map[string]bool
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{instances: map[uuid.UUID]*Instance{}, processed: map[string]bool{}}
}

func (r *memoryRepository) Save(ctx context.Context, instance *Instance) error {
	clone := *instance
	r.instances[instance.SagaID] = &clone
	return nil
}

func (r *memoryRepository) Load(ctx context.Context, sagaID uuid.UUID) (*Instance, error) {
	instance, ok := r.instances[sagaID]
	if !ok {
		return nil, errors.New("not found")
	}
	clone := *instance
	return &clone, nil
}

func (r *memoryRepository) FindByStatus(ctx context.Context, status Status) ([]*Instance, error) {
	var out []*Instance
	for _, instance := range r.instances {
		if instance.Status == status {
			clone := *instance
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (r *memoryRepository) HasProcessed(ctx context.Context, sagaID uuid.UUID, eventID string) (bool, error) {
	return r.processed[sagaID.String()+":"+eventID], nil
}

func (r *memoryRepository) MarkProcessed(ctx context.Context, sagaID uuid.UUID, eventID, eventType string) error {
	r.processed[sagaID.String()+":"+eventID] = true
	return nil
}

type fakeStep struct {
	failUntilAttempt int
	attempts         int
	compensated      bool
}

func (s *fakeStep) Execute(ctx context.Context, data json.RawMessage) (json.RawMessage, error) {
	s.attempts++
	if s.attempts <= s.failUntilAttempt {
		return nil, errors.New("transient failure")
	}
	return json.RawMessage(`{"done":true}`), nil
}

func (s *fakeStep) Compensate(ctx context.Context, data json.RawMessage) error {
	s.compensated = true
	return nil
}

func TestCoordinator_Start_RunsAllStepsToCompletion(t *testing.T) {
	repo := newMemoryRepository()
	coordinator := NewCoordinator(repo)

	step1 := &fakeStep{}
	step2 := &fakeStep{}
	def := Definition{
		SagaType:   "test-saga",
		StepNames:  []string{"step1", "step2"},
		MaxRetries: 3,
		Executors:  map[string]StepExecutor{"step1": step1, "step2": step2},
	}

	instance, err := coordinator.Start(context.Background(), uuid.New(), def, json.RawMessage(`{}`))
	require.NoError(t, err)
	require.True(t, instance.IsCompleted())
	require.Equal(t, 1, step1.attempts)
	require.Equal(t, 1, step2.attempts)
}

func TestCoordinator_Compensate_RollsBackCompletedStepWhenLaterStepFails(t *testing.T) {
	repo := newMemoryRepository()
	coordinator := NewCoordinator(repo)

	step1 := &fakeStep{}
	step2 := &fakeStep{failUntilAttempt: 99} // always fails
	def := Definition{
		SagaType:   "test-saga",
		StepNames:  []string{"step1", "step2"},
		MaxRetries: 0,
		Executors:  map[string]StepExecutor{"step1": step1, "step2": step2},
	}

	instance, err := coordinator.Start(context.Background(), uuid.New(), def, json.RawMessage(`{}`))
	require.NoError(t, err)
	require.True(t, instance.IsFailed() || instance.IsCompensating() || instance.Status == Compensated)
	require.True(t, step1.compensated)
}

func TestCoordinator_RetryStalled_RetriesFailedStepWithinBudget(t *testing.T) {
	repo := newMemoryRepository()
	coordinator := NewCoordinator(repo)

	step1 := &fakeStep{failUntilAttempt: 1}
	def := Definition{
		SagaType:   "test-saga",
		StepNames:  []string{"step1"},
		MaxRetries: 3,
		Executors:  map[string]StepExecutor{"step1": step1},
	}

	instance, err := coordinator.Start(context.Background(), uuid.New(), def, json.RawMessage(`{}`))
	require.NoError(t, err)
	require.False(t, instance.IsCompleted())

	require.NoError(t, coordinator.RetryStalled(context.Background(), def))

	reloaded, err := repo.Load(context.Background(), instance.SagaID)
	require.NoError(t, err)
	require.True(t, reloaded.IsCompleted())
}

func TestCoordinator_Resume_ContinuesRunningInstanceFromPersistedPosition(t *testing.T) {
	repo := newMemoryRepository()
	coordinator := NewCoordinator(repo)

	step1 := &fakeStep{failUntilAttempt: 1}
	step2 := &fakeStep{}
	def := Definition{
		SagaType:   "test-saga",
		StepNames:  []string{"step1", "step2"},
		MaxRetries: 3,
		Executors:  map[string]StepExecutor{"step1": step1, "step2": step2},
	}

	sagaID := uuid.New()
	instance, err := coordinator.Start(context.Background(), sagaID, def, json.RawMessage(`{}`))
	require.NoError(t, err)
	require.False(t, instance.IsCompleted())

	// Simulates a process restart: a fresh coordinator over the same
	// repository resumes the instance purely from its persisted state.
	resumed := NewCoordinator(repo)
	result, err := resumed.Resume(context.Background(), sagaID, def)
	require.NoError(t, err)
	require.True(t, result.IsCompleted())
	require.Equal(t, 1, step2.attempts) // step2 only runs once resume drives step1 to success
}

func TestCoordinator_Resume_CompensatingInstanceFinishesRollback(t *testing.T) {
	repo := newMemoryRepository()
	coordinator := NewCoordinator(repo)

	step1 := &fakeStep{}
	def := Definition{
		SagaType:   "test-saga",
		StepNames:  []string{"step1"},
		MaxRetries: 0,
		Executors:  map[string]StepExecutor{"step1": step1},
	}

	// Craft an instance stuck mid-compensation, as if the process crashed
	// after MarkCompensating but before the compensation call completed.
	sagaID := uuid.New()
	instance := New(sagaID, def.SagaType, []Step{NewStep("step1", 0)}, json.RawMessage(`{}`))
	instance.Steps[0].MarkCompleted(nil)
	instance.MarkCompensating()
	require.NoError(t, repo.Save(context.Background(), instance))

	result, err := coordinator.Resume(context.Background(), sagaID, def)
	require.NoError(t, err)
	require.Equal(t, Compensated, result.Status)
	require.True(t, step1.compensated)
}

func TestCoordinator_Resume_UnknownSagaReturnsError(t *testing.T) {
	repo := newMemoryRepository()
	coordinator := NewCoordinator(repo)

	_, err := coordinator.Resume(context.Background(), uuid.New(), Definition{SagaType: "test-saga"})
	require.Error(t, err)
}

func TestInstance_CompensationSteps_ReverseOrder(t *testing.T) {
	instance := New(uuid.New(), "test", []Step{
		NewStep("a", 1),
		NewStep("b", 1),
		NewStep("c", 1),
	}, json.RawMessage(`{}`))
	instance.Steps[0].MarkCompleted(nil)
	instance.Steps[1].MarkCompleted(nil)

	steps := instance.CompensationSteps()
	require.Len(t, steps, 2)
	require.Equal(t, "b", steps[0].Name)
	require.Equal(t, "a", steps[1].Name)
}
