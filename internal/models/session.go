package models

import (
	"time"
)

// Cookie is one browser cookie captured from an authenticated session
type Cookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Domain   string    `json:"domain"`
	Path     string    `json:"path"`
	Expires  time.Time `json:"expires,omitempty"`
	HTTPOnly bool      `json:"http_only"`
	Secure   bool      `json:"secure"`
}

// Session is cached authentication material for one external account.
// The store returns whatever was last written; TTL policy is enforced by the
// caller, not the store.
type Session struct {
	AccountID  string    `json:"account_id" badgerhold:"key"`
	Cookies    []Cookie  `json:"cookies"`
	CapturedAt time.Time `json:"captured_at"`
}

// Expired reports whether the session is older than the given TTL
func (s *Session) Expired(ttl time.Duration) bool {
	return time.Since(s.CapturedAt) > ttl
}

// Credentials holds login credentials for one Band account
type Credentials struct {
	AccountID string `json:"account_id"`
	Email     string `json:"email"`
	Password  string `json:"-"`
}

// LoginState tags the outcome of a login attempt
type LoginState string

const (
	LoginSuccess            LoginState = "success"
	LoginCaptchaRequired    LoginState = "captcha_required"
	LoginInvalidCredentials LoginState = "invalid_credentials"
	LoginUnknown            LoginState = "unknown"
)

// LoginResult is the tagged outcome of a driver login attempt
type LoginResult struct {
	State LoginState `json:"state"`
	// Cookies is populated only when State is LoginSuccess
	Cookies []Cookie `json:"cookies,omitempty"`
	// Diagnostic carries raw page context for LoginUnknown outcomes
	Diagnostic string `json:"diagnostic,omitempty"`
}

// AccessCheck reports login and target-resource access state
type AccessCheck struct {
	LoggedIn  bool `json:"logged_in"`
	HasAccess bool `json:"has_access"`
}

// CrawlTarget identifies the band (and optionally a single post) to crawl
type CrawlTarget struct {
	BandID string `json:"band_id"`
	PostID string `json:"post_id,omitempty"`
}
