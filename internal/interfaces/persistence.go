package interfaces

import (
	"context"
	"fmt"

	"github.com/haneum/bandcrawl/internal/models"
)

// PersistenceError carries the natural key that failed so the orchestrator
// can skip the item and continue the batch.
type PersistenceError struct {
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failed for %s: %v", e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// PostStore is the boundary to the storage engine: durable keyed records with
// upsert-by-natural-key semantics.
type PostStore interface {
	// UpsertPost creates or updates a post by its natural key (last-write-wins)
	UpsertPost(ctx context.Context, post *models.ScrapedPost) (*models.ScrapedPost, error)

	// SavePostWithComments upserts the post and replaces all of its comments
	// in one transaction, so a crash mid-write cannot leave orphaned comments
	// pointing at a stale post version.
	SavePostWithComments(ctx context.Context, post *models.ScrapedPost, comments []models.ScrapedComment) error

	// ReplaceComments deletes all stored comments for the post and inserts the
	// given batch.
	ReplaceComments(ctx context.Context, postKey string, comments []models.ScrapedComment) error

	// GetPost returns a stored post by natural key
	GetPost(ctx context.Context, bandID, postID string) (*models.ScrapedPost, error)

	// ListComments returns stored comments for a post ordered by index
	ListComments(ctx context.Context, postKey string) ([]models.ScrapedComment, error)
}

// ProductStore persists extraction results keyed by
// (band ID, post ID, item number).
type ProductStore interface {
	UpsertProduct(ctx context.Context, product *models.ExtractedProduct) (*models.ExtractedProduct, error)
	GetProduct(ctx context.Context, bandID, postID string, itemNumber int) (*models.ExtractedProduct, error)
	ListProductsByPost(ctx context.Context, bandID, postID string) ([]models.ExtractedProduct, error)
}
