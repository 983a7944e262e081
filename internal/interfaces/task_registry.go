package interfaces

import (
	"github.com/haneum/bandcrawl/internal/models"
)

// TaskUpdate carries partial updates merged into an existing task. Nil fields
// are left untouched.
type TaskUpdate struct {
	Status      *models.TaskStatus
	Message     *string
	Progress    *int
	Error       *string
	ResultRefs  []string // Appended when non-nil
	FailedItems *int
}

// TaskRegistry is an in-memory keyed table of long-running task records.
// Create/Get are safe for concurrent use; a given task is updated by a single
// owning orchestration run (enforced by the caller).
type TaskRegistry interface {
	// Create allocates and stores a pending task with a fresh unique ID
	Create(kind models.TaskKind, initialMessage string) *models.Task

	// Update merges fields into an existing task. Unknown IDs are a silent
	// no-op so late updates cannot race task teardown. Updates that would
	// violate task invariants (terminal immutability, monotonic progress,
	// one-directional status) are dropped.
	Update(taskID string, update TaskUpdate)

	// Get returns a snapshot of the task, or false when unknown
	Get(taskID string) (*models.Task, bool)

	// List returns snapshots of all registered tasks
	List() []*models.Task
}
