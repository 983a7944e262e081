package browser

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/haneum/bandcrawl/internal/common"
	"github.com/haneum/bandcrawl/internal/interfaces"
	"github.com/haneum/bandcrawl/internal/models"
)

// DOM markers on band.us. Grouped here so a site redesign is a one-file fix.
const (
	selEmailLoginButton = `a[data-uiselector="emailLoginButton"], .uBtn.-icoType.-email`
	selEmailInput       = `input#input_email`
	selPasswordInput    = `input#pw`
	selLoginSubmit      = `button[type="submit"], .uBtn.-tcType.-confirm`
	selCaptchaMarker    = `#captcha_layer, .captchaArea, iframe[src*="captcha"]`
	selLoginError       = `.errorTxt, p.loginError`
	selProfileMarker    = `button[data-uiselector="profileButton"], .uProfileImage`
	selAccessDenied     = `.bandRestricted, .joinBandPopup`
	selPostListWrap     = `.postListWrap, .cContentsList`
	selPostCard         = `[data-viewname="DPostCardMainView"], .cCard.gContentsCard`
	selCommentList      = `.sCommentList, .cCommentList`
)

// Driver owns one headless Chrome session. A driver must not be shared
// between tasks: navigation mutates DOM and cookie state destructively.
type Driver struct {
	bandCfg common.BandConfig
	cfg     common.CrawlerConfig
	logger  arbor.ILogger

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	// limiter enforces the minimum spacing between navigation actions;
	// pace() adds random jitter on top for human-like timing
	limiter *rate.Limiter

	navTimeout  time.Duration
	commentWait time.Duration
	minDelay    time.Duration
	maxDelay    time.Duration

	mu      sync.Mutex
	started bool
}

// NewDriver creates a driver from crawler configuration. Start must be called
// before any navigation.
func NewDriver(bandCfg common.BandConfig, cfg common.CrawlerConfig, logger arbor.ILogger) *Driver {
	minDelay := common.Duration(cfg.MinActionDelay, 2*time.Second)
	maxDelay := common.Duration(cfg.MaxActionDelay, 4*time.Second)
	if maxDelay < minDelay {
		maxDelay = minDelay
	}

	return &Driver{
		bandCfg:     bandCfg,
		cfg:         cfg,
		logger:      logger,
		limiter:     rate.NewLimiter(rate.Every(minDelay), 1),
		navTimeout:  common.Duration(cfg.NavigationTimeout, 30*time.Second),
		commentWait: common.Duration(cfg.CommentWaitTimeout, 8*time.Second),
		minDelay:    minDelay,
		maxDelay:    maxDelay,
	}
}

var _ interfaces.BrowserDriver = (*Driver)(nil)

// Start launches the browser context and verifies it responds
func (d *Driver) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return fmt.Errorf("driver already started")
	}

	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.UserAgent(d.cfg.UserAgent),

		// Reduce automation fingerprinting
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("excludeSwitches", "enable-automation"),
		chromedp.Flag("useAutomationExtension", false),
		chromedp.WindowSize(1920, 1080),
	}
	if d.cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	d.allocCancel = allocCancel

	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(s string, i ...interface{}) {
			d.logger.Debug().Msgf("chromedp: "+s, i...)
		}),
	)
	d.browserCtx = browserCtx
	d.browserCancel = browserCancel

	testCtx, testCancel := context.WithTimeout(browserCtx, 30*time.Second)
	defer testCancel()

	if err := chromedp.Run(testCtx, chromedp.Navigate("about:blank")); err != nil {
		d.closeLocked()
		return driverErr("browser_startup", err)
	}

	d.started = true
	d.logger.Debug().Bool("headless", d.cfg.Headless).Msg("Browser driver started")

	return nil
}

// ApplySession injects cached cookies into the browser context
func (d *Driver) ApplySession(ctx context.Context, session *models.Session) error {
	if err := chromedp.Run(d.runCtx(ctx), network.Enable()); err != nil {
		return driverErr("apply_session", err)
	}

	err := chromedp.Run(d.runCtx(ctx), chromedp.ActionFunc(func(ctx context.Context) error {
		for _, c := range session.Cookies {
			// ChromeDP rejects leading-dot domains
			domain := strings.TrimPrefix(c.Domain, ".")

			param := network.SetCookie(c.Name, c.Value).
				WithDomain(domain).
				WithPath(c.Path).
				WithSecure(c.Secure).
				WithHTTPOnly(c.HTTPOnly)
			if !c.Expires.IsZero() && c.Expires.After(time.Now()) {
				expires := cdp.TimeSinceEpoch(c.Expires)
				param = param.WithExpires(&expires)
			}
			if err := param.Do(ctx); err != nil {
				d.logger.Warn().
					Err(err).
					Str("cookie", c.Name).
					Str("domain", domain).
					Msg("Failed to inject cookie")
			}
		}
		return nil
	}))
	if err != nil {
		return driverErr("apply_session", err)
	}

	d.logger.Debug().
		Int("cookies", len(session.Cookies)).
		Str("account_id", session.AccountID).
		Msg("Session cookies applied")

	return nil
}

// VerifyAccess checks login state on the band home page, then checks the
// target band for an access-denied marker.
func (d *Driver) VerifyAccess(ctx context.Context, target models.CrawlTarget) (models.AccessCheck, error) {
	check := models.AccessCheck{}

	if err := d.pace(ctx); err != nil {
		return check, err
	}
	if err := d.navigate(ctx, d.bandCfg.BaseURL+"/home", "verify_access"); err != nil {
		return check, err
	}

	loggedIn, err := d.elementExists(ctx, selProfileMarker)
	if err != nil {
		return check, driverErr("verify_access", err)
	}
	check.LoggedIn = loggedIn
	if !loggedIn {
		return check, nil
	}

	if err := d.pace(ctx); err != nil {
		return check, err
	}
	if err := d.navigate(ctx, d.bandURL(target), "verify_access"); err != nil {
		return check, err
	}

	denied, err := d.elementExists(ctx, selAccessDenied)
	if err != nil {
		return check, driverErr("verify_access", err)
	}
	check.HasAccess = !denied

	return check, nil
}

// Login submits credentials via simulated keystrokes. The outcome is one of
// success (cookies captured), captcha_required, invalid_credentials, or
// unknown with a raw diagnostic.
func (d *Driver) Login(ctx context.Context, creds models.Credentials) (*models.LoginResult, error) {
	if err := d.pace(ctx); err != nil {
		return nil, err
	}
	if err := d.navigate(ctx, d.bandCfg.AuthURL, "login"); err != nil {
		return nil, err
	}

	// Some auth variants hide the email form behind a chooser button
	if present, _ := d.elementExists(ctx, selEmailLoginButton); present {
		if err := chromedp.Run(d.runCtx(ctx), chromedp.Click(selEmailLoginButton, chromedp.ByQuery)); err != nil {
			d.logger.Debug().Err(err).Msg("Email login chooser click failed, continuing")
		}
	}

	formCtx, formCancel := context.WithTimeout(d.runCtx(ctx), d.navTimeout)
	defer formCancel()
	if err := chromedp.Run(formCtx, chromedp.WaitVisible(selEmailInput, chromedp.ByQuery)); err != nil {
		return nil, &ScrapeStructureError{Step: "login", Selector: selEmailInput}
	}

	// Keystroke simulation rather than a form submit, to look like a person
	err := chromedp.Run(d.runCtx(ctx),
		chromedp.SendKeys(selEmailInput, creds.Email, chromedp.ByQuery),
		chromedp.Sleep(d.jitter()),
		chromedp.SendKeys(selPasswordInput, creds.Password, chromedp.ByQuery),
		chromedp.Sleep(d.jitter()),
		chromedp.Click(selLoginSubmit, chromedp.ByQuery),
	)
	if err != nil {
		return nil, driverErr("login", err)
	}

	deadline := time.Now().Add(d.navTimeout)
	var lastURL string
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}

		if err := chromedp.Run(d.runCtx(ctx), chromedp.Location(&lastURL)); err != nil {
			return nil, driverErr("login", err)
		}

		// Navigated away from the auth host: login accepted
		if !strings.Contains(lastURL, authHost(d.bandCfg.AuthURL)) {
			cookies, err := d.captureCookies(ctx)
			if err != nil {
				return nil, err
			}
			return &models.LoginResult{State: models.LoginSuccess, Cookies: cookies}, nil
		}

		if captcha, _ := d.elementExists(ctx, selCaptchaMarker); captcha {
			return &models.LoginResult{State: models.LoginCaptchaRequired}, nil
		}
		if errVisible, _ := d.elementExists(ctx, selLoginError); errVisible {
			return &models.LoginResult{State: models.LoginInvalidCredentials}, nil
		}
	}

	return &models.LoginResult{
		State:      models.LoginUnknown,
		Diagnostic: fmt.Sprintf("login page did not resolve within %s (url=%s)", d.navTimeout, lastURL),
	}, nil
}

// AwaitManualCompletion polls for login markers until they appear or maxWait
// elapses. Used only after a captcha_required login outcome.
func (d *Driver) AwaitManualCompletion(ctx context.Context, pollInterval, maxWait time.Duration) ([]models.Cookie, bool) {
	deadline := time.Now().Add(maxWait)

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil, false
		case <-time.After(pollInterval):
		}

		var currentURL string
		if err := chromedp.Run(d.runCtx(ctx), chromedp.Location(&currentURL)); err != nil {
			d.logger.Debug().Err(err).Msg("Manual-completion poll failed")
			continue
		}

		if !strings.Contains(currentURL, authHost(d.bandCfg.AuthURL)) {
			cookies, err := d.captureCookies(ctx)
			if err != nil {
				d.logger.Warn().Err(err).Msg("Failed to capture cookies after manual login")
				return nil, false
			}
			d.logger.Info().Msg("Manual login completed")
			return cookies, true
		}
	}

	return nil, false
}

// Close releases the browser context
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closeLocked()
	return nil
}

func (d *Driver) closeLocked() {
	if d.browserCancel != nil {
		d.browserCancel()
		d.browserCancel = nil
	}
	if d.allocCancel != nil {
		d.allocCancel()
		d.allocCancel = nil
	}
	d.started = false
}

// runCtx binds the browser context to the caller's cancellation
func (d *Driver) runCtx(ctx context.Context) context.Context {
	if d.browserCtx == nil {
		return ctx
	}
	return d.browserCtx
}

func (d *Driver) navigate(ctx context.Context, url, step string) error {
	navCtx, cancel := context.WithTimeout(d.runCtx(ctx), d.navTimeout)
	defer cancel()

	if err := chromedp.Run(navCtx, chromedp.Navigate(url)); err != nil {
		return driverErr(step, err)
	}
	return nil
}

func (d *Driver) elementExists(ctx context.Context, selector string) (bool, error) {
	var found bool
	script := fmt.Sprintf(`document.querySelector(%q) !== null`, selector)
	evalCtx, cancel := context.WithTimeout(d.runCtx(ctx), 5*time.Second)
	defer cancel()
	if err := chromedp.Run(evalCtx, chromedp.Evaluate(script, &found)); err != nil {
		return false, err
	}
	return found, nil
}

func (d *Driver) captureCookies(ctx context.Context) ([]models.Cookie, error) {
	var raw []*network.Cookie
	err := chromedp.Run(d.runCtx(ctx), chromedp.ActionFunc(func(ctx context.Context) error {
		cookies, err := network.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		raw = cookies
		return nil
	}))
	if err != nil {
		return nil, driverErr("capture_cookies", err)
	}

	cookies := make([]models.Cookie, 0, len(raw))
	for _, c := range raw {
		cookie := models.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		}
		if c.Expires > 0 {
			cookie.Expires = time.Unix(int64(c.Expires), 0)
		}
		cookies = append(cookies, cookie)
	}
	return cookies, nil
}

// pace enforces human-like spacing between navigation actions: the rate
// limiter guarantees the minimum delay, jitter adds the randomized remainder.
func (d *Driver) pace(ctx context.Context) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d.jitter()):
		return nil
	}
}

func (d *Driver) jitter() time.Duration {
	spread := d.maxDelay - d.minDelay
	if spread <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(spread)))
}

func (d *Driver) bandURL(target models.CrawlTarget) string {
	return fmt.Sprintf("%s/band/%s", d.bandCfg.BaseURL, target.BandID)
}

func (d *Driver) postURL(bandID, postID string) string {
	return fmt.Sprintf("%s/band/%s/post/%s", d.bandCfg.BaseURL, bandID, postID)
}

func authHost(authURL string) string {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(authURL, "https://"), "http://")
	if idx := strings.IndexByte(trimmed, '/'); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return trimmed
}
