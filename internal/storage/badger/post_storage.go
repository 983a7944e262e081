package badger

import (
	"context"
	"fmt"
	"sort"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/haneum/bandcrawl/internal/interfaces"
	"github.com/haneum/bandcrawl/internal/models"
)

// PostStorage implements the PostStore interface for Badger
type PostStorage struct {
	store  *badgerhold.Store
	logger arbor.ILogger
}

// NewPostStorage creates a new PostStorage instance
func NewPostStorage(store *badgerhold.Store, logger arbor.ILogger) interfaces.PostStore {
	return &PostStorage{
		store:  store,
		logger: logger,
	}
}

func (s *PostStorage) UpsertPost(ctx context.Context, post *models.ScrapedPost) (*models.ScrapedPost, error) {
	key := post.NaturalKey()
	if post.ExternalBandID == "" || post.ExternalPostID == "" {
		return nil, &interfaces.PersistenceError{Key: key, Err: fmt.Errorf("post natural key is incomplete")}
	}
	post.Key = key

	now := time.Now()
	var existing models.ScrapedPost
	if err := s.store.Get(key, &existing); err == nil {
		post.CreatedAt = existing.CreatedAt
	} else {
		post.CreatedAt = now
	}
	post.UpdatedAt = now

	if err := s.store.Upsert(key, post); err != nil {
		return nil, &interfaces.PersistenceError{Key: key, Err: err}
	}
	return post, nil
}

// SavePostWithComments upserts the post and replaces its comments atomically.
// The delete-then-insert runs in the same Badger transaction as the post
// upsert, so a crash mid-write cannot leave comments pointing at a stale post.
func (s *PostStorage) SavePostWithComments(ctx context.Context, post *models.ScrapedPost, comments []models.ScrapedComment) error {
	key := post.NaturalKey()
	post.Key = key

	now := time.Now()
	var existing models.ScrapedPost
	if err := s.store.Get(key, &existing); err == nil {
		post.CreatedAt = existing.CreatedAt
	} else {
		post.CreatedAt = now
	}
	post.UpdatedAt = now

	err := s.store.Badger().Update(func(txn *badgerdb.Txn) error {
		if err := s.store.TxUpsert(txn, key, post); err != nil {
			return fmt.Errorf("upsert post: %w", err)
		}
		if err := s.store.TxDeleteMatching(txn, &models.ScrapedComment{}, badgerhold.Where("PostKey").Eq(key)); err != nil {
			return fmt.Errorf("delete comments: %w", err)
		}
		for i := range comments {
			c := &comments[i]
			c.PostKey = key
			c.Key = models.CommentKey(key, c.Index)
			if c.ScrapedAt.IsZero() {
				c.ScrapedAt = now
			}
			if err := s.store.TxInsert(txn, c.Key, c); err != nil {
				return fmt.Errorf("insert comment %d: %w", c.Index, err)
			}
		}
		return nil
	})
	if err != nil {
		return &interfaces.PersistenceError{Key: key, Err: err}
	}
	return nil
}

func (s *PostStorage) ReplaceComments(ctx context.Context, postKey string, comments []models.ScrapedComment) error {
	now := time.Now()
	err := s.store.Badger().Update(func(txn *badgerdb.Txn) error {
		if err := s.store.TxDeleteMatching(txn, &models.ScrapedComment{}, badgerhold.Where("PostKey").Eq(postKey)); err != nil {
			return fmt.Errorf("delete comments: %w", err)
		}
		for i := range comments {
			c := &comments[i]
			c.PostKey = postKey
			c.Key = models.CommentKey(postKey, c.Index)
			if c.ScrapedAt.IsZero() {
				c.ScrapedAt = now
			}
			if err := s.store.TxInsert(txn, c.Key, c); err != nil {
				return fmt.Errorf("insert comment %d: %w", c.Index, err)
			}
		}
		return nil
	})
	if err != nil {
		return &interfaces.PersistenceError{Key: postKey, Err: err}
	}
	return nil
}

func (s *PostStorage) GetPost(ctx context.Context, bandID, postID string) (*models.ScrapedPost, error) {
	key := models.PostKey(bandID, postID)
	var post models.ScrapedPost
	if err := s.store.Get(key, &post); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("post not found: %s", key)
		}
		return nil, fmt.Errorf("failed to get post %s: %w", key, err)
	}
	return &post, nil
}

func (s *PostStorage) ListComments(ctx context.Context, postKey string) ([]models.ScrapedComment, error) {
	var comments []models.ScrapedComment
	if err := s.store.Find(&comments, badgerhold.Where("PostKey").Eq(postKey)); err != nil {
		return nil, fmt.Errorf("failed to list comments for %s: %w", postKey, err)
	}
	sort.Slice(comments, func(i, j int) bool { return comments[i].Index < comments[j].Index })
	return comments, nil
}
