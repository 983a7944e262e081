package scheduler

import (
	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/haneum/bandcrawl/internal/common"
	"github.com/haneum/bandcrawl/internal/models"
	"github.com/haneum/bandcrawl/internal/services/crawler"
)

// CredentialResolver returns login credentials for a configured account ID.
// Credentials live outside the config file so the schedule can be committed
// without secrets.
type CredentialResolver func(accountID string) (models.Credentials, bool)

// Scheduler re-crawls configured bands on a cron schedule. Each tick submits
// one post-crawl task per target; targets whose account is still busy from
// the previous tick are skipped, not queued.
type Scheduler struct {
	cfg     common.SchedulerConfig
	service *crawler.Service
	creds   CredentialResolver
	cron    *cron.Cron
	logger  arbor.ILogger
}

// NewScheduler creates a crawl scheduler
func NewScheduler(cfg common.SchedulerConfig, service *crawler.Service, creds CredentialResolver, logger arbor.ILogger) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		service: service,
		creds:   creds,
		cron:    cron.New(cron.WithSeconds()),
		logger:  logger,
	}
}

// Start begins the scheduled crawling
func (s *Scheduler) Start() error {
	schedule := s.cfg.Schedule
	if schedule == "" {
		// Default: every 6 hours
		schedule = "0 0 */6 * * *"
	}

	_, err := s.cron.AddFunc(schedule, func() {
		s.runCrawls()
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Info().
		Str("schedule", schedule).
		Int("targets", len(s.cfg.Targets)).
		Msg("Crawl scheduler started")

	return nil
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	s.cron.Stop()
	s.logger.Info().Msg("Crawl scheduler stopped")
}

// RunNow triggers an immediate crawl of all targets
func (s *Scheduler) RunNow() {
	s.logger.Info().Msg("Triggering immediate scheduled crawl")
	common.SafeGo(s.logger, "scheduler:run_now", s.runCrawls)
}

func (s *Scheduler) runCrawls() {
	for _, target := range s.cfg.Targets {
		creds, ok := s.creds(target.AccountID)
		if !ok {
			s.logger.Warn().
				Str("account_id", target.AccountID).
				Msg("No credentials configured for scheduled target, skipping")
			continue
		}

		taskID, err := s.service.StartCrawl(models.TaskKindPostCrawl, creds, models.CrawlTarget{BandID: target.BandID})
		if err != nil {
			// Most commonly the account is still busy from the previous tick
			s.logger.Warn().
				Err(err).
				Str("band_id", target.BandID).
				Msg("Scheduled crawl skipped")
			continue
		}

		s.logger.Info().
			Str("task_id", taskID).
			Str("band_id", target.BandID).
			Msg("Scheduled crawl submitted")
	}
}
