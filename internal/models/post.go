package models

import (
	"fmt"
	"time"
)

// ScrapedPost is one external post scraped from a band page.
// Natural key: (ExternalBandID, ExternalPostID).
type ScrapedPost struct {
	Key            string    `json:"key" badgerhold:"key"` // "<band_id>:<post_id>"
	ExternalPostID string    `json:"external_post_id"`
	ExternalBandID string    `json:"external_band_id" badgerhold:"index"`
	Content        string    `json:"content"`
	AuthorName     string    `json:"author_name"`
	PostedAtText   string    `json:"posted_at_text"` // Free-form site text, e.g. "6월 18일 오전 9:00"
	URL            string    `json:"url"`
	CommentCount   int       `json:"comment_count"`
	ViewCount      int       `json:"view_count"`
	ScrapedAt      time.Time `json:"scraped_at"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// PostKey builds the natural key for a post
func PostKey(bandID, postID string) string {
	return fmt.Sprintf("%s:%s", bandID, postID)
}

// NaturalKey returns the post's natural key, deriving it when unset
func (p *ScrapedPost) NaturalKey() string {
	if p.Key != "" {
		return p.Key
	}
	return PostKey(p.ExternalBandID, p.ExternalPostID)
}

// ScrapedComment is one comment on a scraped post. Comments for a post are
// replaced wholesale on each re-crawl, never merged.
type ScrapedComment struct {
	Key             string    `json:"key" badgerhold:"key"` // "<post_key>:<index>"
	PostKey         string    `json:"post_key" badgerhold:"index"`
	Index           int       `json:"index"` // 1-based ordinal within the post
	AuthorName      string    `json:"author_name"`
	AuthorNickname  string    `json:"author_nickname"`
	ProfileImageURL string    `json:"profile_image_url"`
	Content         string    `json:"content"`
	TimestampText   string    `json:"timestamp_text"`
	ScrapedAt       time.Time `json:"scraped_at"`
}

// CommentKey builds the storage key for a comment within a post
func CommentKey(postKey string, index int) string {
	return fmt.Sprintf("%s:%d", postKey, index)
}
