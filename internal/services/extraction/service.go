package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/haneum/bandcrawl/internal/interfaces"
	"github.com/haneum/bandcrawl/internal/models"
)

// Service turns free post text into structured product records via the LLM.
// Bad content never fails the pipeline: unparseable responses degrade to a
// placeholder record carrying the failure reason in its title, so the post is
// still recorded and flagged for review.
type Service struct {
	llm      interfaces.LLMService
	validate *validator.Validate
	logger   arbor.ILogger
}

// NewService creates a new extraction service
func NewService(llm interfaces.LLMService, logger arbor.ILogger) *Service {
	return &Service{
		llm:      llm,
		validate: validator.New(),
		logger:   logger,
	}
}

var _ interfaces.Extractor = (*Service)(nil)

// Extract analyzes one post's text and returns normalized product records.
// postedAtHint is the post's stated post time used as the reference for
// pickup-date resolution; current time is used when absent or unparseable.
func (s *Service) Extract(ctx context.Context, content, postedAtHint, bandID, postID string) (*interfaces.ExtractionOutcome, error) {
	if strings.TrimSpace(content) == "" {
		return s.placeholderOutcome("내용 없음", bandID, postID), nil
	}

	messages := []interfaces.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: buildUserPrompt(content, postedAtHint)},
	}

	response, err := s.llm.Chat(ctx, messages)
	if err != nil {
		// Caller cancellation propagates; other LLM failures degrade
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		s.logger.Warn().
			Err(err).
			Str("post_id", postID).
			Msg("LLM call failed, recording placeholder product")
		return s.placeholderOutcome(fmt.Sprintf("추출 실패: %v", err), bandID, postID), nil
	}

	raw, err := s.parseResponse(response)
	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("post_id", postID).
			Int("response_length", len(response)).
			Msg("Extraction response rejected, recording placeholder product")
		return s.placeholderOutcome(fmt.Sprintf("추출 실패: %v", err), bandID, postID), nil
	}

	ref := resolveReferenceTime(postedAtHint)
	products := make([]models.ExtractedProduct, 0, len(raw.Products))
	for _, rp := range raw.Products {
		products = append(products, s.normalizeProduct(rp, ref, bandID, postID))
	}

	multiple := raw.MultipleProducts
	// Defensive re-collapse: a "multiple products" response with one element
	// is a single product
	if len(products) == 1 {
		multiple = false
	} else if len(products) > 1 {
		multiple = true
		if merged := DetectAndMergeQuantityBasedProducts(products); merged != nil {
			products = merged
			multiple = false
		}
	}

	for i := range products {
		products[i].ItemNumber = i + 1
		products[i].Key = models.ProductKey(bandID, postID, i+1)
	}

	return &interfaces.ExtractionOutcome{
		Multiple: multiple,
		Products: products,
	}, nil
}

// parseResponse strips code fences, parses the JSON payload, and validates it
// against the response schema.
func (s *Service) parseResponse(response string) (*rawResponse, error) {
	payload := extractJSONPayload(response)
	if payload == "" {
		return nil, fmt.Errorf("no JSON object in response")
	}

	var raw rawResponse
	err := json.Unmarshal([]byte(payload), &raw)
	if err != nil || len(raw.Products) == 0 {
		// Some responses arrive as a bare product object rather than the
		// documented envelope. The envelope unmarshal succeeds on those
		// too (unknown fields are ignored) and just leaves Products
		// empty, so retry with the bare shape on an empty result as well
		// as on a parse error.
		var single rawProduct
		if err2 := json.Unmarshal([]byte(payload), &single); err2 == nil && single.Title != "" {
			raw = rawResponse{Products: []rawProduct{single}}
		} else if err != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
	}

	if err := s.validate.Struct(&raw); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	return &raw, nil
}

func (s *Service) normalizeProduct(rp rawProduct, ref time.Time, bandID, postID string) models.ExtractedProduct {
	options := make([]models.PriceOption, 0, len(rp.PriceOptions))
	for _, po := range rp.PriceOptions {
		if po.Price < 0 {
			continue
		}
		quantity := po.Quantity
		if quantity < 1 {
			quantity = 1
		}
		options = append(options, models.PriceOption{
			Quantity:    quantity,
			Price:       po.Price,
			Description: po.Description,
		})
	}

	// No valid sale price found: zero-price placeholder entry
	if len(options) == 0 {
		options = append(options, models.PriceOption{Quantity: 1, Price: 0})
	}

	basePrice := options[0].Price
	for _, po := range options[1:] {
		if po.Price < basePrice {
			basePrice = po.Price
		}
	}

	product := models.ExtractedProduct{
		ExternalBandID: bandID,
		ExternalPostID: postID,
		Title:          strings.TrimSpace(rp.Title),
		BasePrice:      basePrice,
		PriceOptions:   options,
		QuantityText:   rp.QuantityText,
		Category:       rp.Category,
		Status:         mapStatus(rp.Status),
		Tags:           rp.Tags,
		Features:       rp.Features,
		PickupInfo:     rp.PickupInfo,
		PickupType:     models.PickupReceive,
		StockQuantity:  rp.StockQuantity,
		ExtractedAt:    time.Now(),
	}

	if strings.TrimSpace(rp.PickupInfo) != "" {
		pickup, ptype := ExtractPickupDate(rp.PickupInfo, ref)
		product.PickupDate = &pickup
		product.PickupType = ptype
	}

	return product
}

func (s *Service) placeholderOutcome(reason, bandID, postID string) *interfaces.ExtractionOutcome {
	product := models.ExtractedProduct{
		Key:            models.ProductKey(bandID, postID, 1),
		ExternalBandID: bandID,
		ExternalPostID: postID,
		ItemNumber:     1,
		Title:          reason,
		BasePrice:      0,
		PriceOptions:   []models.PriceOption{{Quantity: 1, Price: 0}},
		Status:         models.ProductOnSale,
		Tags:           []string{"needs_review"},
		PickupType:     models.PickupReceive,
		ExtractedAt:    time.Now(),
	}
	return &interfaces.ExtractionOutcome{
		Multiple: false,
		Products: []models.ExtractedProduct{product},
	}
}

// extractJSONPayload strips markdown code fences and surrounding prose,
// returning the outermost JSON object.
func extractJSONPayload(response string) string {
	response = strings.TrimSpace(response)
	if after, ok := strings.CutPrefix(response, "```json"); ok {
		response = after
	} else if after, ok := strings.CutPrefix(response, "```"); ok {
		response = after
	}
	response = strings.TrimSuffix(strings.TrimSpace(response), "```")

	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start < 0 || end <= start {
		return ""
	}
	return response[start : end+1]
}

// resolveReferenceTime parses the post's stated post time, falling back to
// the current time.
func resolveReferenceTime(hint string) time.Time {
	hint = strings.TrimSpace(hint)
	if hint == "" {
		return time.Now()
	}
	layouts := []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04",
		"2006-01-02",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, hint); err == nil {
			return t
		}
	}
	return time.Now()
}
