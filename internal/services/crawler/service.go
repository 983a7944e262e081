package crawler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/haneum/bandcrawl/internal/common"
	"github.com/haneum/bandcrawl/internal/interfaces"
	"github.com/haneum/bandcrawl/internal/models"
)

// DriverFactory builds a fresh browser driver for one task. Drivers are never
// reused across tasks.
type DriverFactory func() interfaces.BrowserDriver

// Service is the task-submission boundary: synchronous handoff, asynchronous
// execution. It enforces one running crawl per account so two logins cannot
// race the same session record.
type Service struct {
	cfg          *common.Config
	logger       arbor.ILogger
	registry     interfaces.TaskRegistry
	orchestrator *Orchestrator
	newDriver    DriverFactory

	mu             sync.Mutex
	activeAccounts map[string]string // account ID -> owning task ID
	wg             sync.WaitGroup
}

// NewService wires the crawl service
func NewService(
	cfg *common.Config,
	logger arbor.ILogger,
	registry interfaces.TaskRegistry,
	orchestrator *Orchestrator,
	newDriver DriverFactory,
) *Service {
	return &Service{
		cfg:            cfg,
		logger:         logger,
		registry:       registry,
		orchestrator:   orchestrator,
		newDriver:      newDriver,
		activeAccounts: make(map[string]string),
	}
}

// StartCrawl validates the request, registers a pending task, and launches
// the orchestration run in the background. Returns the task ID for polling.
func (s *Service) StartCrawl(kind models.TaskKind, creds models.Credentials, target models.CrawlTarget) (string, error) {
	if creds.AccountID == "" || creds.Email == "" {
		return "", fmt.Errorf("account credentials are required")
	}
	if target.BandID == "" {
		return "", fmt.Errorf("band ID is required")
	}
	if kind == models.TaskKindCommentCrawl && target.PostID == "" {
		return "", fmt.Errorf("comment crawl requires a post ID")
	}

	s.mu.Lock()
	if owner, busy := s.activeAccounts[creds.AccountID]; busy {
		s.mu.Unlock()
		return "", fmt.Errorf("account %s already has a running crawl (task %s)", creds.AccountID, owner)
	}

	task := s.registry.Create(kind, fmt.Sprintf("Queued %s for band %s", kind, target.BandID))
	s.activeAccounts[creds.AccountID] = task.ID
	s.mu.Unlock()

	s.logger.Info().
		Str("task_id", task.ID).
		Str("kind", string(kind)).
		Str("band_id", target.BandID).
		Msg("Crawl task submitted")

	s.wg.Add(1)
	common.SafeGo(s.logger, "crawl:"+task.ID, func() {
		s.run(task, creds, target)
	})

	return task.ID, nil
}

func (s *Service) run(task *models.Task, creds models.Credentials, target models.CrawlTarget) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.activeAccounts, creds.AccountID)
		s.mu.Unlock()
	}()
	defer func() {
		// A panicking run must still leave the task terminal
		if r := recover(); r != nil {
			status := models.TaskStatusFailed
			reason := "internal_error"
			message := "Crawl run panicked"
			s.registry.Update(task.ID, interfaces.TaskUpdate{Status: &status, Message: &message, Error: &reason})
			panic(r)
		}
	}()

	// Hard wall-clock ceiling per task. The captcha wait's own timeout is
	// included within this ceiling, not additional to it.
	taskTimeout := common.Duration(s.cfg.Crawler.TaskTimeout, 10*time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), taskTimeout)
	defer cancel()

	s.orchestrator.Run(ctx, task, s.newDriver(), creds, target)
}

// GetTaskStatus returns a snapshot of the task for polling clients
func (s *Service) GetTaskStatus(taskID string) (*models.Task, bool) {
	return s.registry.Get(taskID)
}

// ListTasks returns snapshots of all registered tasks
func (s *Service) ListTasks() []*models.Task {
	return s.registry.List()
}

// Wait blocks until all in-flight crawl runs finish. Used during shutdown.
func (s *Service) Wait() {
	s.wg.Wait()
}
