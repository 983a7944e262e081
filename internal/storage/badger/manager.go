package badger

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/haneum/bandcrawl/internal/common"
	"github.com/haneum/bandcrawl/internal/interfaces"
)

// Manager owns the Badger connection and bundles the stores built on it.
// All stores share one badgerhold instance; closing the manager closes it.
type Manager struct {
	store    *badgerhold.Store
	sessions interfaces.SessionStore
	posts    interfaces.PostStore
	products interfaces.ProductStore
	logger   arbor.ILogger
}

// NewManager opens the database and wires the stores
func NewManager(logger arbor.ILogger, config *common.Config) (*Manager, error) {
	store, err := openStore(logger, &config.Storage.Badger)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		store:    store,
		sessions: NewSessionStorage(store, config.Band.CookieDomains, logger),
		posts:    NewPostStorage(store, logger),
		products: NewProductStorage(store, logger),
		logger:   logger,
	}

	logger.Info().Msg("Badger storage manager initialized")

	return manager, nil
}

// openStore opens the badgerhold store at the configured path, honoring
// reset_on_startup for clean test runs.
func openStore(logger arbor.ILogger, config *common.BadgerConfig) (*badgerhold.Store, error) {
	if config.ResetOnStartup {
		if _, err := os.Stat(config.Path); err == nil {
			logger.Debug().Str("path", config.Path).Msg("Deleting existing database (reset_on_startup=true)")
			if err := os.RemoveAll(config.Path); err != nil {
				return nil, fmt.Errorf("failed to reset database directory %s: %w", config.Path, err)
			}
		}
	}

	if err := os.MkdirAll(filepath.Dir(config.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	options := badgerhold.DefaultOptions
	options.Dir = config.Path
	options.ValueDir = config.Path
	options.Logger = nil // Badger's own logger is noisy; arbor logs around it

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database at %s: %w", config.Path, err)
	}

	logger.Debug().Str("path", config.Path).Msg("Badger database opened")
	return store, nil
}

// SessionStore returns the session store interface
func (m *Manager) SessionStore() interfaces.SessionStore {
	return m.sessions
}

// PostStore returns the post store interface
func (m *Manager) PostStore() interfaces.PostStore {
	return m.posts
}

// ProductStore returns the product store interface
func (m *Manager) ProductStore() interfaces.ProductStore {
	return m.products
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.store != nil {
		return m.store.Close()
	}
	return nil
}
