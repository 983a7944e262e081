package interfaces

import (
	"context"

	"github.com/haneum/bandcrawl/internal/models"
)

// ExtractionOutcome is the normalized result of extracting product info from
// one post's text. Multiple is true only when the post describes genuinely
// distinct items; a single item offered at quantity/price tiers is a single
// product with tiered price options.
type ExtractionOutcome struct {
	Multiple bool
	Products []models.ExtractedProduct
}

// Extractor turns free post text into structured product records. It never
// fails on bad content: unparseable posts degrade to a placeholder record
// with the failure reason in its title.
type Extractor interface {
	Extract(ctx context.Context, content, postedAtHint, bandID, postID string) (*ExtractionOutcome, error)
}
