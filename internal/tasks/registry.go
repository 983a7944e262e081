package tasks

import (
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/haneum/bandcrawl/internal/common"
	"github.com/haneum/bandcrawl/internal/interfaces"
	"github.com/haneum/bandcrawl/internal/models"
)

// Registry is a mutex-guarded in-memory task table. Entries are never deleted
// within the process lifetime; reaping is an external concern.
type Registry struct {
	mu     sync.RWMutex
	tasks  map[string]*models.Task
	logger arbor.ILogger
}

// NewRegistry creates an empty task registry
func NewRegistry(logger arbor.ILogger) *Registry {
	return &Registry{
		tasks:  make(map[string]*models.Task),
		logger: logger,
	}
}

var _ interfaces.TaskRegistry = (*Registry)(nil)

// Create allocates and stores a pending task with a fresh unique ID
func (r *Registry) Create(kind models.TaskKind, initialMessage string) *models.Task {
	now := time.Now()
	task := &models.Task{
		ID:        common.NewTaskID(),
		Kind:      kind,
		Status:    models.TaskStatusPending,
		Message:   initialMessage,
		Progress:  0,
		CreatedAt: now,
		UpdatedAt: now,
	}

	r.mu.Lock()
	r.tasks[task.ID] = task
	r.mu.Unlock()

	r.logger.Debug().
		Str("task_id", task.ID).
		Str("kind", string(kind)).
		Msg("Task created")

	return task.Clone()
}

// Update merges fields into an existing task. Unknown IDs no-op silently:
// update calls can race completion of a task torn down early, and a late
// update must not fail the caller. Updates violating task invariants are
// dropped field-by-field.
func (r *Registry) Update(taskID string, update interfaces.TaskUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[taskID]
	if !ok {
		return
	}

	// Terminal tasks are immutable
	if task.IsTerminal() {
		return
	}

	changed := false

	if update.Status != nil && models.CanTransition(task.Status, *update.Status) {
		if task.Status != *update.Status {
			task.Status = *update.Status
			changed = true
		}
	}
	if update.Message != nil && task.Message != *update.Message {
		task.Message = *update.Message
		changed = true
	}
	// Progress is monotonic while processing; regressions are dropped
	if update.Progress != nil && *update.Progress > task.Progress {
		p := *update.Progress
		if p > 100 {
			p = 100
		}
		task.Progress = p
		changed = true
	}
	if update.Error != nil && task.Error != *update.Error {
		task.Error = *update.Error
		changed = true
	}
	if update.ResultRefs != nil {
		task.ResultRefs = append(task.ResultRefs, update.ResultRefs...)
		changed = true
	}
	if update.FailedItems != nil && task.FailedItems != *update.FailedItems {
		task.FailedItems = *update.FailedItems
		changed = true
	}

	if changed {
		task.UpdatedAt = time.Now()
	}
}

// Get returns a snapshot of the task, or false when unknown
func (r *Registry) Get(taskID string) (*models.Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	task, ok := r.tasks[taskID]
	if !ok {
		return nil, false
	}
	return task.Clone(), true
}

// List returns snapshots of all registered tasks
func (r *Registry) List() []*models.Task {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.Task, 0, len(r.tasks))
	for _, task := range r.tasks {
		out = append(out, task.Clone())
	}
	return out
}
