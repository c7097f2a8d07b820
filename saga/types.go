// Package saga implements the generic saga coordinator: declared
// sequences of (execute, compensate) steps addressed by name through a
// registry, so an instance's state is plain data and can be persisted,
// resumed, and retried independently of any particular saga's Go code.
package saga

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// StepStatus is the lifecycle state of a single saga step.
type StepStatus string

const (
	StepPending             StepStatus = "PENDING"
	StepRunning             StepStatus = "RUNNING"
	StepCompleted           StepStatus = "COMPLETED"
	StepFailed              StepStatus = "FAILED"
	StepCompensating        StepStatus = "COMPENSATING"
	StepCompensated         StepStatus = "COMPENSATED"
	StepCompensationFailed  StepStatus = "COMPENSATION_FAILED"
)

// Status is the overall lifecycle state of a saga instance.
type Status string

const (
	Running      Status = "RUNNING"
	Completed    Status = "COMPLETED"
	Compensating Status = "COMPENSATING"
	Compensated  Status = "COMPENSATED"
	Failed       Status = "FAILED"
)

// Step is a single named step within a saga instance.
type Step struct {
	Name       string          `json:"name"`
	Status     StepStatus      `json:"status"`
	RetryCount int             `json:"retry_count"`
	MaxRetries int             `json:"max_retries"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// NewStep creates a step in the Pending state.
func NewStep(name string, maxRetries int) Step {
	return Step{Name: name, Status: StepPending, MaxRetries: maxRetries}
}

func (s *Step) MarkRunning() { s.Status = StepRunning }

func (s *Step) MarkCompleted(result json.RawMessage) {
	s.Status = StepCompleted
	s.Result = result
	s.Error = ""
}

func (s *Step) MarkFailed(err string) {
	s.Status = StepFailed
	s.Error = err
	s.RetryCount++
}

func (s *Step) MarkCompensating() { s.Status = StepCompensating }

func (s *Step) MarkCompensated() {
	s.Status = StepCompensated
	s.Error = ""
}

func (s *Step) MarkCompensationFailed(err string) {
	s.Status = StepCompensationFailed
	s.Error = err
}

func (s *Step) CanRetry() bool      { return s.RetryCount < s.MaxRetries }
func (s *Step) IsCompleted() bool   { return s.Status == StepCompleted }
func (s *Step) IsFailed() bool      { return s.Status == StepFailed }
func (s *Step) IsCompensated() bool { return s.Status == StepCompensated }

// Instance is the full persisted state of a saga run.
type Instance struct {
	SagaID      uuid.UUID       `json:"saga_id"`
	SagaType    string          `json:"saga_type"`
	CurrentStep int             `json:"current_step"`
	Steps       []Step          `json:"steps"`
	Data        json.RawMessage `json:"data"`
	Status      Status          `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// New creates a fresh, Running saga instance with the given declared steps.
func New(sagaID uuid.UUID, sagaType string, steps []Step, data json.RawMessage) *Instance {
	now := time.Now()
	return &Instance{
		SagaID:      sagaID,
		SagaType:    sagaType,
		CurrentStep: 0,
		Steps:       steps,
		Data:        data,
		Status:      Running,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (i *Instance) IsCompleted() bool    { return i.Status == Completed }
func (i *Instance) IsCompensating() bool { return i.Status == Compensating }
func (i *Instance) IsFailed() bool       { return i.Status == Failed }
func (i *Instance) HasMoreSteps() bool   { return i.CurrentStep < len(i.Steps) }

func (i *Instance) CurrentStepPtr() *Step {
	if i.CurrentStep < 0 || i.CurrentStep >= len(i.Steps) {
		return nil
	}
	return &i.Steps[i.CurrentStep]
}

func (i *Instance) AdvanceStep() {
	i.CurrentStep++
	i.UpdatedAt = time.Now()
}

func (i *Instance) MarkCompleted() {
	i.Status = Completed
	i.UpdatedAt = time.Now()
}

func (i *Instance) MarkCompensating() {
	i.Status = Compensating
	i.UpdatedAt = time.Now()
}

func (i *Instance) MarkCompensated() {
	i.Status = Compensated
	i.UpdatedAt = time.Now()
}

func (i *Instance) MarkFailed() {
	i.Status = Failed
	i.UpdatedAt = time.Now()
}

// CompensationSteps returns the instance's Completed steps in reverse
// order, the sequence Compensate walks to unwind a failed saga.
func (i *Instance) CompensationSteps() []Step {
	var completed []Step
	for _, step := range i.Steps {
		if step.IsCompleted() {
			completed = append(completed, step)
		}
	}
	for left, right := 0, len(completed)-1; left < right; left, right = left+1, right-1 {
		completed[left], completed[right] = completed[right], completed[left]
	}
	return completed
}
