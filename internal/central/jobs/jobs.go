// Package jobs provides the task-dispatch capability used for per-site
// rename work and small deferred updates. Dispatch is fire-and-forget:
// callers get a handle back immediately and poll status separately.
package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/openfederation/centralid/internal/central/domain"
)

var (
	ErrQueueFull = errors.New("jobs: queue full")
	ErrStopped   = errors.New("jobs: dispatcher stopped")
	ErrNoSuchJob = errors.New("jobs: unknown handle")
)

// State of one submitted task.
type State string

const (
	StateQueued  State = "queued"
	StateRunning State = "running"
	StateDone    State = "done"
	StateFailed  State = "failed"
)

// Handle identifies a submitted task.
type Handle struct {
	ID          uuid.UUID
	Site        string
	SubmittedAt time.Time
}

// Status is a point-in-time view of a task's progress. Failed tasks keep
// their payload so an operator can resubmit them.
type Status struct {
	Handle Handle
	State  State
	Err    string
	Task   domain.RenameTask
}

// Dispatcher accepts per-site rename tasks. Each task is an independent,
// idempotent unit: submitting the same completed task again is a no-op
// at the executor level.
type Dispatcher interface {
	// Submit enqueues a task for a site and returns its handle.
	Submit(ctx context.Context, site string, task domain.RenameTask) (Handle, error)

	// Status reports a task's current state.
	Status(id uuid.UUID) (Status, error)

	// Failed lists failed tasks for operator retry.
	Failed() []Status
}
