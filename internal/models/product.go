package models

import (
	"fmt"
	"time"
)

// ProductStatus is the sale status mapped from free post text
type ProductStatus string

const (
	ProductOnSale   ProductStatus = "on_sale"
	ProductSoldOut  ProductStatus = "sold_out"
	ProductReserved ProductStatus = "reserved"
	ProductClosed   ProductStatus = "closed"
)

// PickupType is the fulfillment mode inferred from post text
type PickupType string

const (
	PickupArrival  PickupType = "arrival"  // 도착
	PickupDelivery PickupType = "delivery" // 배송
	PickupCounter  PickupType = "pickup"   // 픽업
	PickupHandOff  PickupType = "handoff"  // 전달
	PickupReceive  PickupType = "receive"  // 수령 (default)
)

// PriceOption is one purchasable quantity/price bundle. Every entry is a
// genuine sale price; reference prices shown for comparison are excluded
// during extraction.
type PriceOption struct {
	Quantity    int    `json:"quantity"`
	Price       int    `json:"price"` // Smallest currency unit (KRW)
	Description string `json:"description,omitempty"`
}

// ExtractedProduct is structured product info derived from one post's text.
// BasePrice always equals the minimum price among PriceOptions.
type ExtractedProduct struct {
	Key            string        `json:"key" badgerhold:"key"` // "<band_id>:<post_id>:<item_number>"
	ExternalBandID string        `json:"external_band_id"`
	ExternalPostID string        `json:"external_post_id" badgerhold:"index"`
	ItemNumber     int           `json:"item_number"` // 1-based ordinal for multi-product posts
	Title          string        `json:"title"`
	BasePrice      int           `json:"base_price"` // Lowest valid sale price
	PriceOptions   []PriceOption `json:"price_options"`
	QuantityText   string        `json:"quantity_text,omitempty"`
	Category       string        `json:"category,omitempty"`
	Status         ProductStatus `json:"status"`
	Tags           []string      `json:"tags,omitempty"`
	Features       []string      `json:"features,omitempty"`
	PickupInfo     string        `json:"pickup_info,omitempty"`
	PickupDate     *time.Time    `json:"pickup_date,omitempty"`
	PickupType     PickupType    `json:"pickup_type"`
	// StockQuantity is nil when the post does not state a stock amount
	StockQuantity *int      `json:"stock_quantity,omitempty"`
	ExtractedAt   time.Time `json:"extracted_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ProductKey builds the natural key for an extracted product
func ProductKey(bandID, postID string, itemNumber int) string {
	return fmt.Sprintf("%s:%s:%d", bandID, postID, itemNumber)
}

// NaturalKey returns the product's natural key, deriving it when unset
func (p *ExtractedProduct) NaturalKey() string {
	if p.Key != "" {
		return p.Key
	}
	return ProductKey(p.ExternalBandID, p.ExternalPostID, p.ItemNumber)
}
