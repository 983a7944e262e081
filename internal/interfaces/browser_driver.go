package interfaces

import (
	"context"
	"time"

	"github.com/haneum/bandcrawl/internal/models"
)

// BrowserDriver owns one headless-browser session and abstracts the concrete
// browser engine. Implementations must not share browser contexts between
// tasks: navigation mutates DOM and cookie state destructively.
type BrowserDriver interface {
	// Start launches the browser context
	Start(ctx context.Context) error

	// ApplySession injects cached cookies into a fresh browser context
	ApplySession(ctx context.Context, session *models.Session) error

	// VerifyAccess navigates to a known authenticated page and inspects DOM
	// markers to determine login state; when logged in it also checks the
	// target resource for an access-denied marker.
	VerifyAccess(ctx context.Context, target models.CrawlTarget) (models.AccessCheck, error)

	// Login submits credentials via simulated keystrokes and waits for either
	// navigation away from the login page or a CAPTCHA marker.
	Login(ctx context.Context, creds models.Credentials) (*models.LoginResult, error)

	// AwaitManualCompletion polls the current page at fixed intervals until
	// login markers appear or maxWait elapses. Used only after a
	// captcha_required login outcome. Returns the captured cookies on success.
	AwaitManualCompletion(ctx context.Context, pollInterval, maxWait time.Duration) ([]models.Cookie, bool)

	// ScrapePostList auto-scrolls the band page to trigger lazy loading and
	// extracts each post. Posts missing a derivable external ID are assigned a
	// synthetic placeholder ID rather than dropped.
	ScrapePostList(ctx context.Context, target models.CrawlTarget) ([]models.ScrapedPost, error)

	// ScrapeComments navigates to the post permalink and extracts its
	// comments. An absent comment container after the bounded wait yields an
	// empty slice, not an error.
	ScrapeComments(ctx context.Context, post *models.ScrapedPost) ([]models.ScrapedComment, error)

	// Close releases the browser context
	Close() error
}
