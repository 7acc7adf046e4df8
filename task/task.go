// Package task provides the asynchronous task queue: background work
// submitted over the API, executed by a worker pool, with progress and
// log lines streamed to WebSocket subscribers.
package task

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/flowd-sh/flowd/errors"
)

// Status represents the current state of a task.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// IsValidStatus returns true if the status string is a valid Status.
func IsValidStatus(s string) bool {
	switch Status(s) {
	case StatusQueued, StatusRunning, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// Task is one unit of asynchronous background work.
//
// Infrastructure stays domain-agnostic: Type identifies which registered
// handler executes the task, and Payload carries handler-specific data
// the queue never inspects.
type Task struct {
	ID              string          `json:"id"`
	Seq             int64           `json:"-"` // creation-order tiebreaker, assigned by the store
	Type            string          `json:"type"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	Status          Status          `json:"status"`
	Progress        int             `json:"progress"` // 0-100
	ProgressMessage string          `json:"progressMessage,omitempty"`
	Result          string          `json:"result,omitempty"`
	Error           string          `json:"error,omitempty"`
	SubscriberID    string          `json:"subscriberId,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	StartedAt       *time.Time      `json:"startedAt,omitempty"`
	CompletedAt     *time.Time      `json:"completedAt,omitempty"`
}

// NewTask creates a queued task for the given handler type.
func NewTask(taskType string, payload json.RawMessage, subscriberID string) (*Task, error) {
	if taskType == "" {
		return nil, errors.New("task type cannot be empty")
	}
	return &Task{
		ID:           uuid.New().String(),
		Type:         taskType,
		Payload:      payload,
		Status:       StatusQueued,
		SubscriberID: subscriberID,
		CreatedAt:    time.Now(),
	}, nil
}

// Start marks the task as running.
func (t *Task) Start() {
	now := time.Now()
	t.Status = StatusRunning
	t.StartedAt = &now
}

// Complete marks the task as completed with a result summary.
func (t *Task) Complete(result string) {
	now := time.Now()
	t.Status = StatusCompleted
	t.Result = result
	t.Progress = 100
	t.CompletedAt = &now
}

// Fail marks the task as failed with an error message.
func (t *Task) Fail(err error) {
	now := time.Now()
	t.Status = StatusFailed
	t.Error = err.Error()
	t.CompletedAt = &now
}

// Terminal returns true once the task has reached a final status.
func (t *Task) Terminal() bool {
	return t.Status == StatusCompleted || t.Status == StatusFailed
}

// Handler executes one task type. Domain packages implement this and
// register with the queue; the queue routes tasks by Type without
// knowing what they do.
type Handler interface {
	// Execute runs the task to completion. Handlers decode their own
	// payload, report progress through the emitter, and must honor ctx
	// cancellation. The returned string becomes the task result.
	Execute(ctx context.Context, t *Task, emitter *Emitter) (string, error)

	// Name returns the task type this handler serves.
	Name() string
}
