package saga

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/orders-platform/order-processing/apperr"
)

// StepExecutor is the registry-addressed unit of work a saga step runs.
// Steps are looked up by name from a Definition rather than carried as
// closures on the persisted instance, so a saga can be reloaded and
// resumed by any coordinator process without needing the original Go call
// stack that started it.
type StepExecutor interface {
	// Execute performs the step's forward action against data (the saga's
	// JSON-encoded working set) and returns a result to merge back in.
	Execute(ctx context.Context, data json.RawMessage) (json.RawMessage, error)
	// Compensate undoes a previously completed Execute. It must be safe to
	// call on a step whose Execute partially failed.
	Compensate(ctx context.Context, data json.RawMessage) error
}

// Definition declares a saga type's steps, in forward order, each
// addressed by name through a registry of StepExecutors.
type Definition struct {
	SagaType   string
	StepNames  []string
	MaxRetries int
	Executors  map[string]StepExecutor
	// OnCompensated, if set, runs once after an instance finishes rolling
	// back, regardless of how many of its steps actually reached Completed.
	// A step whose Execute never ran (because an earlier step exhausted its
	// retries first) never appears in CompensationSteps and so never gets a
	// chance to undo whatever that step's absence still leaves outstanding
	// outside the saga itself; OnCompensated is the saga-level catch-all for
	// that.
	OnCompensated func(ctx context.Context, instance *Instance) error
}

// RetryBackoff computes the delay before retrying a failed step, doubling
// with each attempt up to a 30-second ceiling.
func RetryBackoff(attempt int) time.Duration {
	backoff := time.Duration(1<<uint(attempt)) * time.Second
	if backoff > 30*time.Second {
		backoff = 30 * time.Second
	}
	return backoff
}

// Coordinator drives saga instances through their declared steps: forward
// execution with bounded retry, then reverse-order compensation of every
// completed step once a step exhausts its retries.
type Coordinator struct {
	repo Repository
}

// NewCoordinator creates a saga coordinator over repo.
func NewCoordinator(repo Repository) *Coordinator {
	return &Coordinator{repo: repo}
}

// Start creates and persists a new saga instance for def under sagaID,
// then immediately begins running it. Callers that must not double-start
// a saga for the same trigger (e.g. a redelivered event) should derive
// sagaID deterministically from the trigger and check Load first.
func (c *Coordinator) Start(ctx context.Context, sagaID uuid.UUID, def Definition, data json.RawMessage) (*Instance, error) {
	steps := make([]Step, len(def.StepNames))
	for i, name := range def.StepNames {
		steps[i] = NewStep(name, def.MaxRetries)
	}

	instance := New(sagaID, def.SagaType, steps, data)
	if err := c.repo.Save(ctx, instance); err != nil {
		return nil, err
	}

	log.Info().
		Str("saga_id", instance.SagaID.String()).
		Str("saga_type", instance.SagaType).
		Msg("saga started")

	if err := c.Run(ctx, def, instance); err != nil {
		return instance, err
	}
	return instance, nil
}

// Resume loads the single saga instance identified by sagaID and continues
// it from its persisted position: Running instances re-enter Run at their
// current step, Compensating instances re-enter Compensate. Safe to call
// after a process restart, since it starts from whatever state was last
// saved rather than assuming any in-memory progress.
func (c *Coordinator) Resume(ctx context.Context, sagaID uuid.UUID, def Definition) (*Instance, error) {
	instance, err := c.repo.Load(ctx, sagaID)
	if err != nil {
		return nil, err
	}

	switch instance.Status {
	case Compensating:
		return instance, c.Compensate(ctx, def, instance)
	case Running:
		return instance, c.Run(ctx, def, instance)
	default:
		// Completed, Compensated, or Failed: nothing left to drive.
		return instance, nil
	}
}

// Run advances instance through its remaining steps until it completes,
// fails into compensation, or a step is left pending retry.
func (c *Coordinator) Run(ctx context.Context, def Definition, instance *Instance) error {
	for instance.HasMoreSteps() {
		done, err := c.executeStep(ctx, def, instance)
		if err != nil {
			return err
		}
		if !done {
			// Step failed: either it has retries left and the caller's
			// retry loop (RetryStalled) will pick this instance back up
			// later, or it exhausted them and executeStep has already
			// compensated the instance.
			return nil
		}
		instance.AdvanceStep()
		if err := c.repo.Save(ctx, instance); err != nil {
			return err
		}
	}

	instance.MarkCompleted()
	if err := c.repo.Save(ctx, instance); err != nil {
		return err
	}

	log.Info().Str("saga_id", instance.SagaID.String()).Msg("saga completed")
	return nil
}

// executeStep runs the current step's executor once. It returns
// done=true if the step completed (so Run should advance). On failure it
// returns done=false: with a nil error if the step still has retries
// remaining, or, once retries are exhausted, with whatever Compensate
// returned after rolling the instance back.
func (c *Coordinator) executeStep(ctx context.Context, def Definition, instance *Instance) (bool, error) {
	step := instance.CurrentStepPtr()
	if step == nil {
		return true, nil
	}

	executor, ok := def.Executors[step.Name]
	if !ok {
		return false, apperr.Domain("no executor registered for saga step "+step.Name, nil)
	}

	step.MarkRunning()
	if err := c.repo.Save(ctx, instance); err != nil {
		return false, err
	}

	result, err := executor.Execute(ctx, instance.Data)
	if err != nil {
		step.MarkFailed(err.Error())

		log.Warn().
			Str("saga_id", instance.SagaID.String()).
			Str("step", step.Name).
			Int("retry_count", step.RetryCount).
			Err(err).
			Msg("saga step failed")

		if step.CanRetry() {
			if saveErr := c.repo.Save(ctx, instance); saveErr != nil {
				return false, saveErr
			}
			return false, nil
		}

		if saveErr := c.repo.Save(ctx, instance); saveErr != nil {
			return false, saveErr
		}
		return false, c.Compensate(ctx, def, instance)
	}

	step.MarkCompleted(result)
	if result != nil {
		instance.Data = mergeData(instance.Data, result)
	}
	return true, nil
}

// Compensate rolls back every completed step of instance in reverse
// order, marking the instance Compensated if every compensation succeeds
// or Failed if any compensation itself fails.
func (c *Coordinator) Compensate(ctx context.Context, def Definition, instance *Instance) error {
	instance.MarkCompensating()
	if err := c.repo.Save(ctx, instance); err != nil {
		return err
	}

	log.Warn().Str("saga_id", instance.SagaID.String()).Msg("saga compensating")

	for _, completed := range instance.CompensationSteps() {
		executor, ok := def.Executors[completed.Name]
		if !ok {
			return apperr.Domain("no executor registered for saga step "+completed.Name, nil)
		}

		idx := indexOfStep(instance.Steps, completed.Name)
		if idx < 0 {
			continue
		}
		instance.Steps[idx].MarkCompensating()

		if err := executor.Compensate(ctx, instance.Data); err != nil {
			instance.Steps[idx].MarkCompensationFailed(err.Error())
			instance.MarkFailed()
			_ = c.repo.Save(ctx, instance)

			log.Error().
				Str("saga_id", instance.SagaID.String()).
				Str("step", completed.Name).
				Err(err).
				Msg("saga compensation failed")

			return apperr.External("saga compensation failed for step "+completed.Name, err)
		}

		instance.Steps[idx].MarkCompensated()
	}

	instance.MarkCompensated()
	if err := c.repo.Save(ctx, instance); err != nil {
		return err
	}

	if def.OnCompensated != nil {
		if err := def.OnCompensated(ctx, instance); err != nil {
			log.Error().
				Str("saga_id", instance.SagaID.String()).
				Err(err).
				Msg("saga compensation hook failed")
		}
	}

	return nil
}

// ResumeFailed loads every instance left Running or Compensating (e.g.
// after a process crash mid-saga) and re-drives it from where it stopped.
func (c *Coordinator) ResumeFailed(ctx context.Context, def Definition) error {
	for _, status := range []Status{Running, Compensating} {
		instances, err := c.repo.FindByStatus(ctx, status)
		if err != nil {
			return err
		}

		for _, instance := range instances {
			if instance.SagaType != def.SagaType {
				continue
			}

			if _, runErr := c.Resume(ctx, instance.SagaID, def); runErr != nil {
				log.Error().
					Str("saga_id", instance.SagaID.String()).
					Err(runErr).
					Msg("failed to resume saga instance")
			}
		}
	}
	return nil
}

// RetryStalled finds Failed-step instances still worth retrying (i.e. not
// yet exhausted) and re-attempts their current step. Intended to be
// called on a ticker by a saga worker process.
func (c *Coordinator) RetryStalled(ctx context.Context, def Definition) error {
	instances, err := c.repo.FindByStatus(ctx, Running)
	if err != nil {
		return err
	}

	for _, instance := range instances {
		if instance.SagaType != def.SagaType {
			continue
		}
		step := instance.CurrentStepPtr()
		if step == nil || !step.IsFailed() {
			continue
		}
		if !step.CanRetry() {
			if err := c.Compensate(ctx, def, instance); err != nil {
				log.Error().Str("saga_id", instance.SagaID.String()).Err(err).Msg("compensation failed during retry sweep")
			}
			continue
		}

		time.Sleep(RetryBackoff(step.RetryCount))
		if err := c.Run(ctx, def, instance); err != nil {
			log.Error().Str("saga_id", instance.SagaID.String()).Err(err).Msg("saga retry failed")
		}
	}
	return nil
}

func indexOfStep(steps []Step, name string) int {
	for i, s := range steps {
		if s.Name == name {
			return i
		}
	}
	return -1
}

// mergeData shallow-merges a step's JSON result object into the saga's
// working data object, so later steps see earlier steps' results.
func mergeData(data, result json.RawMessage) json.RawMessage {
	var base map[string]interface{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &base); err != nil {
			base = map[string]interface{}{}
		}
	}
	if base == nil {
		base = map[string]interface{}{}
	}

	var addition map[string]interface{}
	if err := json.Unmarshal(result, &addition); err != nil {
		return data
	}
	for k, v := range addition {
		base[k] = v
	}

	merged, err := json.Marshal(base)
	if err != nil {
		return data
	}
	return merged
}
