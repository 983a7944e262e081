package crawler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/haneum/bandcrawl/internal/common"
	"github.com/haneum/bandcrawl/internal/interfaces"
	"github.com/haneum/bandcrawl/internal/models"
	"github.com/haneum/bandcrawl/internal/services/browser"
	"github.com/haneum/bandcrawl/internal/tasks"
)

// fakeDriver scripts browser behavior per test
type fakeDriver struct {
	mu sync.Mutex

	access      models.AccessCheck
	loginResult *models.LoginResult
	manualOK    bool

	// accessAfterLogin replaces access once a login succeeds, modeling the
	// site recognizing the fresh cookies
	accessAfterLogin *models.AccessCheck

	posts    []models.ScrapedPost
	comments []models.ScrapedComment

	// commentErrs are returned in order before comments succeed
	commentErrs []error

	// blockScrapes makes scrape calls hang until the task context is done,
	// modeling a wedged page load
	blockScrapes bool

	startCalls   int
	loginCalls   int
	commentCalls int
	closed       bool
}

func (d *fakeDriver) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.startCalls++
	return nil
}

func (d *fakeDriver) ApplySession(ctx context.Context, session *models.Session) error { return nil }

func (d *fakeDriver) VerifyAccess(ctx context.Context, target models.CrawlTarget) (models.AccessCheck, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.access, nil
}

func (d *fakeDriver) Login(ctx context.Context, creds models.Credentials) (*models.LoginResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.loginCalls++
	result := d.loginResult
	if result == nil {
		result = &models.LoginResult{State: models.LoginSuccess}
	}
	if result.State == models.LoginSuccess && d.accessAfterLogin != nil {
		d.access = *d.accessAfterLogin
	}
	return result, nil
}

func (d *fakeDriver) AwaitManualCompletion(ctx context.Context, pollInterval, maxWait time.Duration) ([]models.Cookie, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.manualOK {
		if d.accessAfterLogin != nil {
			d.access = *d.accessAfterLogin
		}
		return []models.Cookie{{Name: "band_session", Value: "manual", Domain: "band.us"}}, true
	}
	return nil, false
}

func (d *fakeDriver) ScrapePostList(ctx context.Context, target models.CrawlTarget) ([]models.ScrapedPost, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.posts, nil
}

func (d *fakeDriver) ScrapeComments(ctx context.Context, post *models.ScrapedPost) ([]models.ScrapedComment, error) {
	d.mu.Lock()
	if d.blockScrapes {
		d.mu.Unlock()
		<-ctx.Done()
		return nil, ctx.Err()
	}
	defer d.mu.Unlock()
	d.commentCalls++
	if len(d.commentErrs) > 0 {
		err := d.commentErrs[0]
		d.commentErrs = d.commentErrs[1:]
		return nil, err
	}
	return d.comments, nil
}

func (d *fakeDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// memSessions is an in-memory session store
type memSessions struct {
	mu       sync.Mutex
	sessions map[string]*models.Session
	saves    int
}

func newMemSessions() *memSessions {
	return &memSessions{sessions: make(map[string]*models.Session)}
}

func (s *memSessions) Load(ctx context.Context, accountID string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[accountID]
	if !ok {
		return nil, interfaces.ErrSessionNotFound
	}
	return session, nil
}

func (s *memSessions) Save(ctx context.Context, accountID string, cookies []models.Cookie) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	s.sessions[accountID] = &models.Session{AccountID: accountID, Cookies: cookies, CapturedAt: time.Now()}
	return nil
}

// memPosts is an in-memory post store
type memPosts struct {
	mu          sync.Mutex
	posts       map[string]*models.ScrapedPost
	comments    map[string][]models.ScrapedComment
	upsertErr   error
	upsertCalls int
}

func newMemPosts() *memPosts {
	return &memPosts{
		posts:    make(map[string]*models.ScrapedPost),
		comments: make(map[string][]models.ScrapedComment),
	}
}

func (s *memPosts) UpsertPost(ctx context.Context, post *models.ScrapedPost) (*models.ScrapedPost, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertCalls++
	if s.upsertErr != nil {
		return nil, s.upsertErr
	}
	post.Key = post.NaturalKey()
	s.posts[post.Key] = post
	return post, nil
}

func (s *memPosts) SavePostWithComments(ctx context.Context, post *models.ScrapedPost, comments []models.ScrapedComment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := post.NaturalKey()
	post.Key = key
	s.posts[key] = post
	for i := range comments {
		comments[i].PostKey = key
		comments[i].Key = models.CommentKey(key, comments[i].Index)
	}
	s.comments[key] = comments
	return nil
}

func (s *memPosts) ReplaceComments(ctx context.Context, postKey string, comments []models.ScrapedComment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.comments[postKey] = comments
	return nil
}

func (s *memPosts) GetPost(ctx context.Context, bandID, postID string) (*models.ScrapedPost, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	post, ok := s.posts[models.PostKey(bandID, postID)]
	if !ok {
		return nil, errors.New("post not found")
	}
	return post, nil
}

func (s *memPosts) ListComments(ctx context.Context, postKey string) ([]models.ScrapedComment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.comments[postKey], nil
}

// memProducts is an in-memory product store
type memProducts struct {
	mu       sync.Mutex
	products map[string]*models.ExtractedProduct
}

func newMemProducts() *memProducts {
	return &memProducts{products: make(map[string]*models.ExtractedProduct)}
}

func (s *memProducts) UpsertProduct(ctx context.Context, product *models.ExtractedProduct) (*models.ExtractedProduct, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	product.Key = product.NaturalKey()
	s.products[product.Key] = product
	return product, nil
}

func (s *memProducts) GetProduct(ctx context.Context, bandID, postID string, itemNumber int) (*models.ExtractedProduct, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	product, ok := s.products[models.ProductKey(bandID, postID, itemNumber)]
	if !ok {
		return nil, errors.New("product not found")
	}
	return product, nil
}

func (s *memProducts) ListProductsByPost(ctx context.Context, bandID, postID string) ([]models.ExtractedProduct, error) {
	return nil, nil
}

type testHarness struct {
	cfg      *common.Config
	registry *tasks.Registry
	sessions *memSessions
	posts    *memPosts
	products *memProducts
	orch     *Orchestrator
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	cfg := common.NewDefaultConfig()
	// Keep retry backoff out of test wall-clock time
	cfg.Crawler.RetryBackoffMin = "1ms"
	cfg.Crawler.RetryBackoffMax = "2ms"

	logger := arbor.NewLogger()
	registry := tasks.NewRegistry(logger)
	sessions := newMemSessions()
	posts := newMemPosts()
	products := newMemProducts()

	orch := NewOrchestrator(cfg, logger, registry, sessions, posts, products, nil)

	return &testHarness{
		cfg:      cfg,
		registry: registry,
		sessions: sessions,
		posts:    posts,
		products: products,
		orch:     orch,
	}
}

func (h *testHarness) runTask(kind models.TaskKind, driver *fakeDriver, target models.CrawlTarget) *models.Task {
	task := h.registry.Create(kind, "queued")
	creds := models.Credentials{AccountID: "acct", Email: "a@b.c", Password: "pw"}
	h.orch.Run(context.Background(), task, driver, creds, target)
	final, _ := h.registry.Get(task.ID)
	return final
}

func validSessionDriver() *fakeDriver {
	return &fakeDriver{access: models.AccessCheck{LoggedIn: true, HasAccess: true}}
}

func cachedSession(sessions *memSessions) {
	sessions.sessions["acct"] = &models.Session{
		AccountID:  "acct",
		Cookies:    []models.Cookie{{Name: "band_session", Value: "cached", Domain: "band.us"}},
		CapturedAt: time.Now(),
	}
}

func TestNewOrchestrator_RetryBackoffHasOwnConfigKeys(t *testing.T) {
	cfg := common.NewDefaultConfig()
	// Pacing and retry backoff are tuned independently
	cfg.Crawler.MinActionDelay = "30s"
	cfg.Crawler.MaxActionDelay = "60s"
	cfg.Crawler.RetryBackoffMin = "5ms"
	cfg.Crawler.RetryBackoffMax = "10ms"

	logger := arbor.NewLogger()
	orch := NewOrchestrator(cfg, logger, tasks.NewRegistry(logger), newMemSessions(), newMemPosts(), newMemProducts(), nil)

	assert.Equal(t, 5*time.Millisecond, orch.retry.MinBackoff)
	assert.Equal(t, 10*time.Millisecond, orch.retry.MaxBackoff)
}

func TestRun_StructuralErrorFailsWithoutRetry(t *testing.T) {
	h := newTestHarness(t)
	cachedSession(h.sessions)

	driver := validSessionDriver()
	driver.commentErrs = []error{
		&browser.ScrapeStructureError{Step: "comments", Selector: ".cCommentList"},
	}

	final := h.runTask(models.TaskKindCommentCrawl, driver, models.CrawlTarget{BandID: "b1", PostID: "p1"})

	assert.Equal(t, models.TaskStatusFailed, final.Status)
	assert.Equal(t, "scrape_failed", final.Error)
	assert.Equal(t, 1, driver.commentCalls, "structural errors must not be retried")
	assert.True(t, driver.closed)
}

func TestRun_TransientErrorRetriedTwiceThenFails(t *testing.T) {
	h := newTestHarness(t)
	cachedSession(h.sessions)

	driver := validSessionDriver()
	driver.commentErrs = []error{
		&browser.DriverError{Step: "comments", Err: errors.New("net timeout")},
		&browser.DriverError{Step: "comments", Err: errors.New("net timeout")},
		&browser.DriverError{Step: "comments", Err: errors.New("net timeout")},
	}

	final := h.runTask(models.TaskKindCommentCrawl, driver, models.CrawlTarget{BandID: "b1", PostID: "p1"})

	assert.Equal(t, models.TaskStatusFailed, final.Status)
	assert.Equal(t, 3, driver.commentCalls, "initial attempt plus exactly 2 retries")
}

func TestRun_TransientErrorSucceedsOnRetry(t *testing.T) {
	h := newTestHarness(t)
	cachedSession(h.sessions)

	driver := validSessionDriver()
	driver.comments = []models.ScrapedComment{{Index: 1, Content: "댓글"}}
	driver.commentErrs = []error{
		&browser.DriverError{Step: "comments", Err: errors.New("net timeout")},
	}

	final := h.runTask(models.TaskKindCommentCrawl, driver, models.CrawlTarget{BandID: "b1", PostID: "p1"})

	assert.Equal(t, models.TaskStatusCompleted, final.Status)
	assert.Equal(t, 2, driver.commentCalls)
}

func TestRun_InvalidCredentialsFailsImmediately(t *testing.T) {
	h := newTestHarness(t)

	driver := &fakeDriver{
		access:      models.AccessCheck{LoggedIn: false},
		loginResult: &models.LoginResult{State: models.LoginInvalidCredentials},
	}

	final := h.runTask(models.TaskKindPostCrawl, driver, models.CrawlTarget{BandID: "b1"})

	assert.Equal(t, models.TaskStatusFailed, final.Status)
	assert.Equal(t, "invalid_credentials", final.Error)
	assert.Equal(t, 1, driver.loginCalls, "bad credentials must not be retried")
}

func TestRun_CaptchaTimeoutFails(t *testing.T) {
	h := newTestHarness(t)
	h.cfg.Crawler.CaptchaWaitTimeout = "10ms"
	h.cfg.Crawler.CaptchaPollInterval = "5ms"

	driver := &fakeDriver{
		access:      models.AccessCheck{LoggedIn: false},
		loginResult: &models.LoginResult{State: models.LoginCaptchaRequired},
		manualOK:    false,
	}

	final := h.runTask(models.TaskKindPostCrawl, driver, models.CrawlTarget{BandID: "b1"})

	assert.Equal(t, models.TaskStatusFailed, final.Status)
	assert.Equal(t, "manual_login_timeout", final.Error)
}

func TestRun_CaptchaManualCompletionProceeds(t *testing.T) {
	h := newTestHarness(t)

	driver := &fakeDriver{
		access:           models.AccessCheck{LoggedIn: false},
		loginResult:      &models.LoginResult{State: models.LoginCaptchaRequired},
		manualOK:         true,
		accessAfterLogin: &models.AccessCheck{LoggedIn: true, HasAccess: true},
	}

	final := h.runTask(models.TaskKindPostCrawl, driver, models.CrawlTarget{BandID: "b1"})
	assert.Equal(t, models.TaskStatusCompleted, final.Status)
	assert.Equal(t, 1, h.sessions.saves, "manually captured cookies must be persisted")
}

func TestRun_AccessDeniedFailsWithoutRetry(t *testing.T) {
	h := newTestHarness(t)
	cachedSession(h.sessions)

	driver := &fakeDriver{access: models.AccessCheck{LoggedIn: true, HasAccess: false}}

	final := h.runTask(models.TaskKindPostCrawl, driver, models.CrawlTarget{BandID: "b1"})

	assert.Equal(t, models.TaskStatusFailed, final.Status)
	assert.Equal(t, "access_denied", final.Error)
	assert.Equal(t, 0, driver.loginCalls)
}

func TestRun_ExpiredSessionTriggersLogin(t *testing.T) {
	h := newTestHarness(t)
	h.sessions.sessions["acct"] = &models.Session{
		AccountID:  "acct",
		CapturedAt: time.Now().Add(-25 * time.Hour),
	}

	driver := &fakeDriver{
		access: models.AccessCheck{LoggedIn: false},
		loginResult: &models.LoginResult{
			State:   models.LoginSuccess,
			Cookies: []models.Cookie{{Name: "band_session", Value: "fresh", Domain: "band.us"}},
		},
		accessAfterLogin: &models.AccessCheck{LoggedIn: true, HasAccess: true},
	}

	final := h.runTask(models.TaskKindPostCrawl, driver, models.CrawlTarget{BandID: "b1"})
	assert.Equal(t, models.TaskStatusCompleted, final.Status)
	assert.Equal(t, 1, driver.loginCalls)
	assert.Equal(t, 1, h.sessions.saves)
}

func TestRun_PostCrawlPersistsAllPosts(t *testing.T) {
	h := newTestHarness(t)
	cachedSession(h.sessions)

	driver := validSessionDriver()
	driver.posts = []models.ScrapedPost{
		{ExternalBandID: "b1", ExternalPostID: "1", Content: "사과"},
		{ExternalBandID: "b1", ExternalPostID: "2", Content: "배"},
	}

	final := h.runTask(models.TaskKindPostCrawl, driver, models.CrawlTarget{BandID: "b1"})

	assert.Equal(t, models.TaskStatusCompleted, final.Status)
	assert.Equal(t, 100, final.Progress)
	assert.Len(t, final.ResultRefs, 2)
	assert.Equal(t, 0, final.FailedItems)
	assert.Len(t, h.posts.posts, 2)
}

func TestRun_AllPersistFailuresFailTask(t *testing.T) {
	h := newTestHarness(t)
	cachedSession(h.sessions)
	h.posts.upsertErr = &interfaces.PersistenceError{Key: "b1:1", Err: errors.New("disk full")}

	driver := validSessionDriver()
	driver.posts = []models.ScrapedPost{
		{ExternalBandID: "b1", ExternalPostID: "1", Content: "사과"},
	}

	final := h.runTask(models.TaskKindPostCrawl, driver, models.CrawlTarget{BandID: "b1"})

	assert.Equal(t, models.TaskStatusFailed, final.Status)
	assert.Equal(t, "persistence_failed", final.Error)
}

func TestRun_CommentCrawlRequiresPostID(t *testing.T) {
	h := newTestHarness(t)
	cachedSession(h.sessions)

	final := h.runTask(models.TaskKindCommentCrawl, validSessionDriver(), models.CrawlTarget{BandID: "b1"})

	assert.Equal(t, models.TaskStatusFailed, final.Status)
	assert.Equal(t, "invalid_target", final.Error)
}

func TestStartCrawl_EndToEnd(t *testing.T) {
	h := newTestHarness(t)
	cachedSession(h.sessions)

	driver := validSessionDriver()
	driver.comments = []models.ScrapedComment{
		{Index: 1, AuthorName: "a", Content: "1판 주세요"},
		{Index: 2, AuthorName: "b", Content: "2판이요"},
		{Index: 3, AuthorName: "c", Content: "저도요"},
	}

	service := NewService(h.cfg, arbor.NewLogger(), h.registry, h.orch, func() interfaces.BrowserDriver {
		return driver
	})

	creds := models.Credentials{AccountID: "acct", Email: "a@b.c", Password: "pw"}
	target := models.CrawlTarget{BandID: "82443310", PostID: "26123"}

	taskID, err := service.StartCrawl(models.TaskKindCommentCrawl, creds, target)
	require.NoError(t, err)
	require.NotEmpty(t, taskID)

	sawIntermediate := false
	deadline := time.Now().Add(5 * time.Second)
	var final *models.Task
	for time.Now().Before(deadline) {
		task, ok := service.GetTaskStatus(taskID)
		require.True(t, ok)
		if task.Progress > 0 && task.Progress < 100 {
			sawIntermediate = true
		}
		if task.IsTerminal() {
			final = task
			break
		}
		time.Sleep(time.Millisecond)
	}

	require.NotNil(t, final, "task never reached a terminal status")
	assert.Equal(t, models.TaskStatusCompleted, final.Status)
	assert.Equal(t, 100, final.Progress)
	assert.True(t, sawIntermediate, "polling must observe an intermediate progress value")

	stored, err := h.posts.ListComments(context.Background(), "82443310:26123")
	require.NoError(t, err)
	require.Len(t, stored, 3)
	for i, comment := range stored {
		assert.Equal(t, "82443310:26123", comment.PostKey)
		assert.Equal(t, i+1, comment.Index)
	}
	assert.Len(t, final.ResultRefs, 3)
}

func TestStartCrawl_WallClockCeilingForcesTimeout(t *testing.T) {
	h := newTestHarness(t)
	cachedSession(h.sessions)
	h.cfg.Crawler.TaskTimeout = "100ms"

	driver := validSessionDriver()
	driver.blockScrapes = true

	service := NewService(h.cfg, arbor.NewLogger(), h.registry, h.orch, func() interfaces.BrowserDriver {
		return driver
	})

	creds := models.Credentials{AccountID: "acct", Email: "a@b.c", Password: "pw"}
	taskID, err := service.StartCrawl(models.TaskKindCommentCrawl, creds, models.CrawlTarget{BandID: "b1", PostID: "p1"})
	require.NoError(t, err)

	service.Wait()

	final, ok := service.GetTaskStatus(taskID)
	require.True(t, ok)
	assert.Equal(t, models.TaskStatusFailed, final.Status)
	assert.Equal(t, "timeout", final.Error, "a wedged scrape must surface the ceiling, not the step it interrupted")
}

func TestStartCrawl_SingleFlightPerAccount(t *testing.T) {
	h := newTestHarness(t)
	cachedSession(h.sessions)

	blocker := make(chan struct{})
	driver := validSessionDriver()

	service := NewService(h.cfg, arbor.NewLogger(), h.registry, h.orch, func() interfaces.BrowserDriver {
		<-blocker
		return driver
	})

	creds := models.Credentials{AccountID: "acct", Email: "a@b.c"}
	target := models.CrawlTarget{BandID: "b1"}

	_, err := service.StartCrawl(models.TaskKindPostCrawl, creds, target)
	require.NoError(t, err)

	_, err = service.StartCrawl(models.TaskKindPostCrawl, creds, target)
	assert.Error(t, err, "second crawl for the same account must be rejected while the first runs")

	// A different account is unaffected
	other := models.Credentials{AccountID: "other", Email: "o@b.c"}
	_, err = service.StartCrawl(models.TaskKindPostCrawl, other, target)
	assert.NoError(t, err)

	close(blocker)
	service.Wait()
}

func TestStartCrawl_ValidatesInput(t *testing.T) {
	h := newTestHarness(t)
	service := NewService(h.cfg, arbor.NewLogger(), h.registry, h.orch, func() interfaces.BrowserDriver {
		return validSessionDriver()
	})

	_, err := service.StartCrawl(models.TaskKindPostCrawl, models.Credentials{}, models.CrawlTarget{BandID: "b1"})
	assert.Error(t, err)

	creds := models.Credentials{AccountID: "a", Email: "a@b.c"}
	_, err = service.StartCrawl(models.TaskKindPostCrawl, creds, models.CrawlTarget{})
	assert.Error(t, err)

	_, err = service.StartCrawl(models.TaskKindCommentCrawl, creds, models.CrawlTarget{BandID: "b1"})
	assert.Error(t, err)
}
