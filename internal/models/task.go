package models

import (
	"time"
)

// TaskStatus represents the state of a crawl task
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// TaskKind represents the type of crawl work a task performs
type TaskKind string

const (
	TaskKindPostCrawl    TaskKind = "post_crawl"
	TaskKindCommentCrawl TaskKind = "comment_crawl"
)

// Task tracks one unit of asynchronous crawl work. It is created when a crawl
// is submitted, mutated only by the owning orchestration run, and polled by
// clients until it reaches a terminal status.
//
// Invariants:
//   - Status transitions are one-directional: pending -> processing -> completed|failed
//   - Progress is monotonically non-decreasing while status is processing
//   - Once terminal, a task is immutable
type Task struct {
	ID       string     `json:"id"`
	Kind     TaskKind   `json:"kind"`
	Status   TaskStatus `json:"status"`
	Message  string     `json:"message"`  // Human-readable progress text
	Progress int        `json:"progress"` // 0-100
	// Error contains a short, machine-usable reason string, distinct from
	// Message. Only populated when the task fails or completes with warnings.
	Error string `json:"error,omitempty"`
	// ResultRefs are opaque references to records produced by the task
	// (post/comment/product natural keys).
	ResultRefs []string `json:"result_refs,omitempty"`
	// FailedItems counts per-item persistence failures that were skipped
	FailedItems int       `json:"failed_items"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// IsTerminal reports whether the task has reached a final status
func (t *Task) IsTerminal() bool {
	return t.Status == TaskStatusCompleted || t.Status == TaskStatusFailed
}

// Clone returns a copy safe to hand to pollers while the owning run keeps
// mutating the registry entry.
func (t *Task) Clone() *Task {
	c := *t
	if t.ResultRefs != nil {
		c.ResultRefs = append([]string{}, t.ResultRefs...)
	}
	return &c
}

// CanTransition reports whether a status change is allowed
func CanTransition(from, to TaskStatus) bool {
	if from == to {
		return true
	}
	switch from {
	case TaskStatusPending:
		return to == TaskStatusProcessing || to == TaskStatusCompleted || to == TaskStatusFailed
	case TaskStatusProcessing:
		return to == TaskStatusCompleted || to == TaskStatusFailed
	default:
		// Terminal states admit no transitions
		return false
	}
}
