package badger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/haneum/bandcrawl/internal/interfaces"
	"github.com/haneum/bandcrawl/internal/models"
)

// ProductStorage implements the ProductStore interface for Badger
type ProductStorage struct {
	store  *badgerhold.Store
	logger arbor.ILogger
}

// NewProductStorage creates a new ProductStorage instance
func NewProductStorage(store *badgerhold.Store, logger arbor.ILogger) interfaces.ProductStore {
	return &ProductStorage{
		store:  store,
		logger: logger,
	}
}

func (s *ProductStorage) UpsertProduct(ctx context.Context, product *models.ExtractedProduct) (*models.ExtractedProduct, error) {
	if product.ItemNumber < 1 {
		product.ItemNumber = 1
	}
	key := product.NaturalKey()
	if product.ExternalBandID == "" || product.ExternalPostID == "" {
		return nil, &interfaces.PersistenceError{Key: key, Err: fmt.Errorf("product natural key is incomplete")}
	}
	product.Key = key

	now := time.Now()
	var existing models.ExtractedProduct
	if err := s.store.Get(key, &existing); err == nil {
		product.ExtractedAt = existing.ExtractedAt
	} else if product.ExtractedAt.IsZero() {
		product.ExtractedAt = now
	}
	product.UpdatedAt = now

	if err := s.store.Upsert(key, product); err != nil {
		return nil, &interfaces.PersistenceError{Key: key, Err: err}
	}
	return product, nil
}

func (s *ProductStorage) GetProduct(ctx context.Context, bandID, postID string, itemNumber int) (*models.ExtractedProduct, error) {
	key := models.ProductKey(bandID, postID, itemNumber)
	var product models.ExtractedProduct
	if err := s.store.Get(key, &product); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("product not found: %s", key)
		}
		return nil, fmt.Errorf("failed to get product %s: %w", key, err)
	}
	return &product, nil
}

func (s *ProductStorage) ListProductsByPost(ctx context.Context, bandID, postID string) ([]models.ExtractedProduct, error) {
	var products []models.ExtractedProduct
	query := badgerhold.Where("ExternalPostID").Eq(postID)
	if err := s.store.Find(&products, query); err != nil {
		return nil, fmt.Errorf("failed to list products for %s:%s: %w", bandID, postID, err)
	}
	filtered := products[:0]
	for _, p := range products {
		if p.ExternalBandID == bandID {
			filtered = append(filtered, p)
		}
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].ItemNumber < filtered[j].ItemNumber })
	return filtered, nil
}
