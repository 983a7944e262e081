package extraction

import (
	"strings"

	"github.com/haneum/bandcrawl/internal/models"
)

// rawResponse is the schema the model is instructed to return. It is
// validated with go-playground/validator immediately after JSON parse;
// unknown or missing fields get explicit defaults during normalization
// rather than propagating as zero values.
type rawResponse struct {
	MultipleProducts bool         `json:"multipleProducts"`
	Products         []rawProduct `json:"products" validate:"required,min=1,dive"`
}

type rawProduct struct {
	Title         string           `json:"title" validate:"required"`
	PriceOptions  []rawPriceOption `json:"priceOptions" validate:"dive"`
	QuantityText  string           `json:"quantityText"`
	Category      string           `json:"category"`
	Status        string           `json:"status"`
	Tags          []string         `json:"tags"`
	Features      []string         `json:"features"`
	PickupInfo    string           `json:"pickupInfo"`
	StockQuantity *int             `json:"stockQuantity"`
}

type rawPriceOption struct {
	Quantity    int    `json:"quantity" validate:"gte=0"`
	Price       int    `json:"price" validate:"gte=0"`
	Description string `json:"description"`
}

// mapStatus maps free status text (Korean or English) to the status enum
func mapStatus(status string) models.ProductStatus {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "품절", "sold_out", "soldout":
		return models.ProductSoldOut
	case "예약", "예약중", "reserved":
		return models.ProductReserved
	case "마감", "마감됨", "closed":
		return models.ProductClosed
	default:
		return models.ProductOnSale
	}
}
