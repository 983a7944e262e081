package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/haneum/bandcrawl/internal/common"
	"github.com/haneum/bandcrawl/internal/interfaces"
	"github.com/haneum/bandcrawl/internal/models"
)

// Coarse progress milestones reported while a task is processing
const (
	progressSessionCheck = 10
	progressAuthDone     = 30
	progressScraping     = 50
	progressPersisting   = 70
	progressExtracting   = 90
)

// Orchestrator runs the per-task state machine: session check, login with
// captcha fallback, access verification, scraping with retry, transactional
// persistence, and optional product extraction. One Run owns one task and one
// browser driver; Runs never share state with each other.
type Orchestrator struct {
	cfg       *common.Config
	logger    arbor.ILogger
	registry  interfaces.TaskRegistry
	sessions  interfaces.SessionStore
	posts     interfaces.PostStore
	products  interfaces.ProductStore
	extractor interfaces.Extractor
	retry     *RetryPolicy
}

// NewOrchestrator wires the orchestrator. The extractor may be nil, in which
// case post crawls persist scraped content without product extraction.
func NewOrchestrator(
	cfg *common.Config,
	logger arbor.ILogger,
	registry interfaces.TaskRegistry,
	sessions interfaces.SessionStore,
	posts interfaces.PostStore,
	products interfaces.ProductStore,
	extractor interfaces.Extractor,
) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		logger:    logger,
		registry:  registry,
		sessions:  sessions,
		posts:     posts,
		products:  products,
		extractor: extractor,
		retry: NewRetryPolicy(
			cfg.Crawler.RetryAttempts,
			common.Duration(cfg.Crawler.RetryBackoffMin, 2*time.Second),
			common.Duration(cfg.Crawler.RetryBackoffMax, 4*time.Second),
			logger,
		),
	}
}

// Run executes one crawl task to a terminal status. It always leaves the task
// terminal: every exit path transitions to Completed or Failed.
func (o *Orchestrator) Run(ctx context.Context, task *models.Task, driver interfaces.BrowserDriver, creds models.Credentials, target models.CrawlTarget) {
	log := o.logger.WithCorrelationId(task.ID)
	log.Info().
		Str("kind", string(task.Kind)).
		Str("band_id", target.BandID).
		Str("post_id", target.PostID).
		Msg("Crawl task starting")

	o.setProcessing(task.ID, "Starting browser session")

	if err := driver.Start(ctx); err != nil {
		o.fail(ctx, task.ID, "browser_startup", "Browser failed to start", err)
		return
	}
	defer func() {
		if err := driver.Close(); err != nil {
			log.Warn().Err(err).Msg("Browser close failed")
		}
	}()

	o.progress(task.ID, progressSessionCheck, "Checking cached session")

	if err := o.authenticate(ctx, log, driver, creds, target); err != nil {
		reason := "authentication_failed"
		var authErr *authError
		if errors.As(err, &authErr) {
			reason = authErr.reason
		}
		o.fail(ctx, task.ID, reason, "Authentication failed", err)
		return
	}

	o.progress(task.ID, progressAuthDone, "Authenticated, starting scrape")

	switch task.Kind {
	case models.TaskKindCommentCrawl:
		o.runCommentCrawl(ctx, log, task.ID, driver, target)
	default:
		o.runPostCrawl(ctx, log, task.ID, driver, target)
	}
}

// authError tags authentication failures with a machine-usable reason
type authError struct {
	reason string
	err    error
}

func (e *authError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.reason, e.err)
	}
	return e.reason
}

func (e *authError) Unwrap() error { return e.err }

// authenticate reaches a logged-in state with access to the target band. A
// cached session that fails access verification triggers exactly one fresh
// login; a second verification failure is terminal.
func (o *Orchestrator) authenticate(ctx context.Context, log arbor.ILogger, driver interfaces.BrowserDriver, creds models.Credentials, target models.CrawlTarget) error {
	ttl := common.Duration(o.cfg.Band.SessionTTL, 24*time.Hour)

	session, err := o.sessions.Load(ctx, creds.AccountID)
	switch {
	case err == nil && !session.Expired(ttl):
		if err := driver.ApplySession(ctx, session); err != nil {
			log.Warn().Err(err).Msg("Cached session could not be applied, falling back to login")
		} else {
			log.Debug().Str("account_id", creds.AccountID).Msg("Cached session applied")
		}
	case err == nil:
		log.Debug().
			Str("account_id", creds.AccountID).
			Str("captured_at", session.CapturedAt.Format(time.RFC3339)).
			Msg("Cached session expired, logging in")
	case errors.Is(err, interfaces.ErrSessionNotFound):
		log.Debug().Str("account_id", creds.AccountID).Msg("No cached session, logging in")
	default:
		log.Warn().Err(err).Msg("Session load failed, logging in")
	}

	check, err := o.verifyAccess(ctx, driver, target)
	if err != nil {
		return err
	}

	if !check.LoggedIn {
		// Covers both the no-session path and a stale session revoked
		// server-side after passing the TTL check
		if err := o.login(ctx, log, driver, creds); err != nil {
			return err
		}

		check, err = o.verifyAccess(ctx, driver, target)
		if err != nil {
			return err
		}
		if !check.LoggedIn {
			return &authError{reason: "login_not_effective"}
		}
	}

	if !check.HasAccess {
		return &authError{reason: "access_denied"}
	}
	return nil
}

func (o *Orchestrator) verifyAccess(ctx context.Context, driver interfaces.BrowserDriver, target models.CrawlTarget) (models.AccessCheck, error) {
	var check models.AccessCheck
	err := o.retry.Do(ctx, "verify_access", func() error {
		var verifyErr error
		check, verifyErr = driver.VerifyAccess(ctx, target)
		return verifyErr
	})
	if err != nil {
		return check, &authError{reason: "verify_access_failed", err: err}
	}
	return check, nil
}

// login drives one credential submission, handling the captcha suspend state
// by waiting for manual completion within the configured bound.
func (o *Orchestrator) login(ctx context.Context, log arbor.ILogger, driver interfaces.BrowserDriver, creds models.Credentials) error {
	result, err := driver.Login(ctx, creds)
	if err != nil {
		return &authError{reason: "login_failed", err: err}
	}

	switch result.State {
	case models.LoginSuccess:
		o.saveSession(ctx, log, creds.AccountID, result.Cookies)
		return nil

	case models.LoginCaptchaRequired:
		log.Info().Msg("CAPTCHA required, waiting for manual completion")
		poll := common.Duration(o.cfg.Crawler.CaptchaPollInterval, 30*time.Second)
		maxWait := common.Duration(o.cfg.Crawler.CaptchaWaitTimeout, 5*time.Minute)

		cookies, ok := driver.AwaitManualCompletion(ctx, poll, maxWait)
		if !ok {
			return &authError{reason: "manual_login_timeout"}
		}
		o.saveSession(ctx, log, creds.AccountID, cookies)
		return nil

	case models.LoginInvalidCredentials:
		// Retrying with the same bad credentials cannot succeed
		return &authError{reason: "invalid_credentials"}

	default:
		return &authError{reason: "login_unknown", err: errors.New(result.Diagnostic)}
	}
}

func (o *Orchestrator) saveSession(ctx context.Context, log arbor.ILogger, accountID string, cookies []models.Cookie) {
	if err := o.sessions.Save(ctx, accountID, cookies); err != nil {
		// A failed save degrades the next crawl to a fresh login, nothing worse
		log.Warn().Err(err).Str("account_id", accountID).Msg("Session save failed")
	}
}

// runPostCrawl scrapes the band's post list, persists each post, and runs
// product extraction per post. Per-item persistence failures are skipped and
// counted; the task fails only when nothing succeeded.
func (o *Orchestrator) runPostCrawl(ctx context.Context, log arbor.ILogger, taskID string, driver interfaces.BrowserDriver, target models.CrawlTarget) {
	o.progress(taskID, progressScraping, "Scraping post list")

	var scraped []models.ScrapedPost
	err := o.retry.Do(ctx, "post_list", func() error {
		var scrapeErr error
		scraped, scrapeErr = driver.ScrapePostList(ctx, target)
		return scrapeErr
	})
	if err != nil {
		o.fail(ctx, taskID, "scrape_failed", "Post list scrape failed", err)
		return
	}
	if len(scraped) == 0 {
		o.complete(taskID, "No posts found on page", nil, 0)
		return
	}

	o.progress(taskID, progressPersisting, fmt.Sprintf("Persisting %d posts", len(scraped)))

	var refs []string
	failed := 0
	for i := range scraped {
		post := &scraped[i]
		stored, err := o.posts.UpsertPost(ctx, post)
		if err != nil {
			failed++
			log.Warn().Err(err).Str("post_key", post.NaturalKey()).Msg("Post persist failed, skipping")
			continue
		}
		refs = append(refs, stored.Key)
	}

	if len(refs) == 0 {
		o.fail(ctx, taskID, "persistence_failed", "All posts failed to persist", nil)
		return
	}

	if o.extractor != nil {
		o.progress(taskID, progressExtracting, "Extracting product data")
		for i := range scraped {
			post := &scraped[i]
			productRefs, extractFailed := o.extractProducts(ctx, log, post)
			refs = append(refs, productRefs...)
			failed += extractFailed
		}
	}

	o.complete(taskID, fmt.Sprintf("Crawled %d posts", len(scraped)), refs, failed)
}

// extractProducts runs extraction for one post and persists the results.
// Extraction itself degrades to placeholders internally; only context
// cancellation and per-product persistence failures surface here.
func (o *Orchestrator) extractProducts(ctx context.Context, log arbor.ILogger, post *models.ScrapedPost) ([]string, int) {
	outcome, err := o.extractor.Extract(ctx, post.Content, post.PostedAtText, post.ExternalBandID, post.ExternalPostID)
	if err != nil {
		log.Warn().Err(err).Str("post_key", post.NaturalKey()).Msg("Extraction aborted for post")
		return nil, 1
	}

	var refs []string
	failed := 0
	for i := range outcome.Products {
		product := &outcome.Products[i]
		stored, err := o.products.UpsertProduct(ctx, product)
		if err != nil {
			failed++
			log.Warn().Err(err).Str("product_key", product.Key).Msg("Product persist failed, skipping")
			continue
		}
		refs = append(refs, stored.Key)
	}
	return refs, failed
}

// runCommentCrawl scrapes one post's comments and replaces them atomically
// with the post upsert.
func (o *Orchestrator) runCommentCrawl(ctx context.Context, log arbor.ILogger, taskID string, driver interfaces.BrowserDriver, target models.CrawlTarget) {
	if target.PostID == "" {
		o.fail(ctx, taskID, "invalid_target", "Comment crawl requires a post ID", nil)
		return
	}

	o.progress(taskID, progressScraping, "Scraping comments")

	post := o.loadOrStubPost(ctx, target)

	var comments []models.ScrapedComment
	err := o.retry.Do(ctx, "comments", func() error {
		var scrapeErr error
		comments, scrapeErr = driver.ScrapeComments(ctx, post)
		return scrapeErr
	})
	if err != nil {
		o.fail(ctx, taskID, "scrape_failed", "Comment scrape failed", err)
		return
	}

	o.progress(taskID, progressPersisting, fmt.Sprintf("Persisting %d comments", len(comments)))

	post.CommentCount = len(comments)
	if err := o.posts.SavePostWithComments(ctx, post, comments); err != nil {
		o.fail(ctx, taskID, "persistence_failed", "Comment persist failed", err)
		return
	}

	refs := make([]string, 0, len(comments))
	for i := range comments {
		refs = append(refs, comments[i].Key)
	}

	o.complete(taskID, fmt.Sprintf("Crawled %d comments", len(comments)), refs, 0)
}

// loadOrStubPost returns the stored post for the target, or a minimal stub
// when the post has not been crawled yet
func (o *Orchestrator) loadOrStubPost(ctx context.Context, target models.CrawlTarget) *models.ScrapedPost {
	if post, err := o.posts.GetPost(ctx, target.BandID, target.PostID); err == nil {
		return post
	}
	return &models.ScrapedPost{
		Key:            models.PostKey(target.BandID, target.PostID),
		ExternalPostID: target.PostID,
		ExternalBandID: target.BandID,
		URL:            fmt.Sprintf("%s/band/%s/post/%s", o.cfg.Band.BaseURL, target.BandID, target.PostID),
		ScrapedAt:      time.Now(),
	}
}

func (o *Orchestrator) setProcessing(taskID, message string) {
	status := models.TaskStatusProcessing
	o.registry.Update(taskID, interfaces.TaskUpdate{Status: &status, Message: &message})
}

func (o *Orchestrator) progress(taskID string, value int, message string) {
	o.registry.Update(taskID, interfaces.TaskUpdate{Progress: &value, Message: &message})
}

func (o *Orchestrator) complete(taskID, message string, refs []string, failedItems int) {
	status := models.TaskStatusCompleted
	progress := 100
	update := interfaces.TaskUpdate{
		Status:     &status,
		Message:    &message,
		Progress:   &progress,
		ResultRefs: refs,
	}
	if failedItems > 0 {
		update.FailedItems = &failedItems
		reason := "partial_failure"
		update.Error = &reason
	}
	o.registry.Update(taskID, update)

	o.logger.Info().
		Str("task_id", taskID).
		Int("result_refs", len(refs)).
		Int("failed_items", failedItems).
		Msg("Crawl task completed")
}

func (o *Orchestrator) fail(ctx context.Context, taskID, reason, message string, err error) {
	// A hard task-timeout cancellation wins over whichever step it interrupted
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		reason = "timeout"
		message = "Task exceeded its wall-clock ceiling"
	}

	status := models.TaskStatusFailed
	o.registry.Update(taskID, interfaces.TaskUpdate{
		Status:  &status,
		Message: &message,
		Error:   &reason,
	})

	event := o.logger.Warn().Str("task_id", taskID).Str("reason", reason)
	if err != nil {
		event = event.Err(err)
	}
	event.Msg("Crawl task failed")
}
