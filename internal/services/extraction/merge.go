package extraction

import (
	"regexp"
	"sort"
	"strings"

	"github.com/haneum/bandcrawl/internal/models"
)

// The LLM sometimes mis-classifies quantity-tiered pricing ("사과 1개",
// "사과 2개") as separate products. When every title reduces to the same base
// name plus a trailing quantity, the set is re-merged into one product whose
// price options are the per-title prices.

// titleQuantityRe captures "<name> <integer><unit>" with the unit drawn from
// a closed synonym set. 봉지 must precede 봉 in the alternation.
var titleQuantityRe = regexp.MustCompile(`^(.+?)\s+(\d+)\s*(개|알|과|낱개|각|봉지|봉|팩|통)?\s*$`)

// DetectAndMergeQuantityBasedProducts collapses N>=2 products whose titles
// differ only by a trailing quantity into a single product with
// quantity-tiered price options sorted ascending by quantity. Returns nil
// when no merge applies, so applying the function to its own output is a
// no-op.
func DetectAndMergeQuantityBasedProducts(products []models.ExtractedProduct) []models.ExtractedProduct {
	if len(products) < 2 {
		return nil
	}

	type tier struct {
		quantity int
		price    int
		title    string
	}

	var baseName, normalized string
	tiers := make([]tier, 0, len(products))

	for _, p := range products {
		m := titleQuantityRe.FindStringSubmatch(p.Title)
		if m == nil {
			// No trailing quantity: the titles describe distinct items
			return nil
		}

		base := strings.TrimSpace(m[1])
		norm := normalizeTitle(base)
		if normalized == "" {
			baseName = base
			normalized = norm
		} else if norm != normalized {
			return nil
		}

		quantity := atoi(m[2])
		if quantity < 1 {
			quantity = 1
		}

		price := p.BasePrice
		if price == 0 && len(p.PriceOptions) > 0 {
			price = p.PriceOptions[0].Price
		}

		tiers = append(tiers, tier{quantity: quantity, price: price, title: p.Title})
	}

	sort.Slice(tiers, func(i, j int) bool { return tiers[i].quantity < tiers[j].quantity })

	options := make([]models.PriceOption, len(tiers))
	basePrice := tiers[0].price
	for i, t := range tiers {
		options[i] = models.PriceOption{
			Quantity:    t.quantity,
			Price:       t.price,
			Description: t.title,
		}
		if t.price < basePrice {
			basePrice = t.price
		}
	}

	merged := products[0]
	merged.Title = baseName
	merged.BasePrice = basePrice
	merged.PriceOptions = options
	merged.ItemNumber = 1
	merged.Key = ""

	return []models.ExtractedProduct{merged}
}

// normalizeTitle compares base names case- and whitespace-insensitively
func normalizeTitle(title string) string {
	return strings.ToLower(strings.Join(strings.Fields(title), " "))
}
