package badger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/haneum/bandcrawl/internal/interfaces"
	"github.com/haneum/bandcrawl/internal/models"
)

// SessionStorage implements the SessionStore interface for Badger. Cookies
// are filtered to configured domain suffixes before persisting so unrelated
// cookies never reach disk.
type SessionStorage struct {
	store         *badgerhold.Store
	cookieDomains []string
	logger        arbor.ILogger
}

// NewSessionStorage creates a new SessionStorage instance
func NewSessionStorage(store *badgerhold.Store, cookieDomains []string, logger arbor.ILogger) interfaces.SessionStore {
	return &SessionStorage{
		store:         store,
		cookieDomains: cookieDomains,
		logger:        logger,
	}
}

func (s *SessionStorage) Load(ctx context.Context, accountID string) (*models.Session, error) {
	var session models.Session
	if err := s.store.Get(sessionKey(accountID), &session); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to load session for %s: %w", accountID, err)
	}
	return &session, nil
}

func (s *SessionStorage) Save(ctx context.Context, accountID string, cookies []models.Cookie) error {
	if accountID == "" {
		return fmt.Errorf("account ID is required")
	}

	filtered := s.filterCookies(cookies)
	if len(filtered) < len(cookies) {
		s.logger.Debug().
			Int("kept", len(filtered)).
			Int("dropped", len(cookies)-len(filtered)).
			Msg("Filtered session cookies to scrape-target domains")
	}

	session := &models.Session{
		AccountID:  accountID,
		Cookies:    filtered,
		CapturedAt: time.Now(),
	}

	if err := s.store.Upsert(sessionKey(accountID), session); err != nil {
		return fmt.Errorf("failed to save session for %s: %w", accountID, err)
	}
	return nil
}

// filterCookies keeps only cookies whose domain matches a configured suffix.
// An empty configured list keeps everything.
func (s *SessionStorage) filterCookies(cookies []models.Cookie) []models.Cookie {
	if len(s.cookieDomains) == 0 {
		return cookies
	}
	filtered := make([]models.Cookie, 0, len(cookies))
	for _, c := range cookies {
		cookieDomain := strings.TrimPrefix(c.Domain, ".")
		for _, domain := range s.cookieDomains {
			base := strings.TrimPrefix(domain, ".")
			if cookieDomain == base || strings.HasSuffix(cookieDomain, "."+base) {
				filtered = append(filtered, c)
				break
			}
		}
	}
	return filtered
}

func sessionKey(accountID string) string {
	return "session:" + accountID
}
