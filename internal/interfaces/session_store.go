package interfaces

import (
	"context"
	"errors"

	"github.com/haneum/bandcrawl/internal/models"
)

// ErrSessionNotFound is returned by Load when no session is cached for an account
var ErrSessionNotFound = errors.New("session not found")

// SessionStore persists browser authentication cookies per external account.
// The store is a dumb key-value layer: it returns whatever was last written
// along with its capture time and does not enforce expiry itself.
type SessionStore interface {
	// Load reads the cached session for an account. Returns ErrSessionNotFound
	// when nothing has been saved.
	Load(ctx context.Context, accountID string) (*models.Session, error)

	// Save overwrites any existing session for the account. Implementations
	// filter the cookie set to domains relevant to the scrape target before
	// persisting.
	Save(ctx context.Context, accountID string, cookies []models.Cookie) error
}
