package deals

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/cases"

	"github.com/andrew12-circle/circle-marketplace/internal/config"
	"github.com/andrew12-circle/circle-marketplace/internal/model"
)

// PlaceholderRating stands in for items with no rating of their own.
// TODO: drop once the ratings feed populates CatalogItem.Rating for every item.
const PlaceholderRating = 4.2

// brandPoints scales BrandMultiplier into the same range as the flat bonuses.
const brandPoints = 10

// Breakdown holds the six weighted components of a score, in the order
// they are evaluated.
type Breakdown struct {
	Discount  float64 `json:"discount"`
	Rating    float64 `json:"rating"`
	Featured  float64 `json:"featured"`
	CoPay     float64 `json:"co_pay"`
	Brand     float64 `json:"brand"`
	Sponsored float64 `json:"sponsored"`
}

// Total returns the unrounded sum of all components.
func (b Breakdown) Total() float64 {
	return b.Discount + b.Rating + b.Featured + b.CoPay + b.Brand + b.Sponsored
}

// Result is the scoring outcome for a single catalog item.
type Result struct {
	ItemID    string            `json:"item_id"`
	Item      model.CatalogItem `json:"item"`
	Score     float64           `json:"score"`
	Breakdown Breakdown         `json:"breakdown"`
	Reasons   []string          `json:"reasons"`
}

// Score computes the deal score for item. It is pure: the same inputs always
// give the same result, and bad numeric input counts as zero.
func Score(item model.CatalogItem, w config.DealWeights) Result {
	var b Breakdown
	var reasons []string

	retail := ParsePrice(item.RetailPrice)
	discounted := ParsePrice(item.DiscountedPrice)
	if pct := discountPct(retail, discounted); pct > 0 {
		b.Discount = pct * w.DiscountMultiplier
		if b.Discount != 0 {
			reasons = append(reasons, fmt.Sprintf("%.1f%% discount", pct))
		}
	}

	rating := itemRating(item)
	b.Rating = rating * w.RatingMultiplier
	if b.Rating != 0 {
		reasons = append(reasons, fmt.Sprintf("%.1f/5 rating", rating))
	}

	if item.IsFeatured && w.FeaturedBonus != 0 {
		b.Featured = w.FeaturedBonus
		reasons = append(reasons, "Featured service")
	}

	if item.AllowsCoPay && w.CoPayBonus != 0 {
		b.CoPay = w.CoPayBonus
		reasons = append(reasons, "Co-pay available")
	}

	if isRecognizedBrand(item.VendorDisplayName, w.RecognizedBrands) && w.BrandMultiplier != 0 {
		b.Brand = w.BrandMultiplier * brandPoints
		reasons = append(reasons, "Recognized brand")
	}

	if item.IsSponsored && w.SponsoredBonus != 0 {
		b.Sponsored = w.SponsoredBonus
		reasons = append(reasons, "Sponsored placement")
	}

	return Result{
		ItemID:    item.ID,
		Item:      item,
		Score:     round2(b.Total()),
		Breakdown: b,
		Reasons:   reasons,
	}
}

// ParsePrice parses a stored price such as "$1,299.00". Anything that does
// not parse to a finite, non-negative number is treated as zero.
func ParsePrice(s string) float64 {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

// discountPct returns the percentage saved off retail, or 0 when either
// price is missing.
func discountPct(retail, discounted float64) float64 {
	if retail <= 0 || discounted <= 0 {
		return 0
	}
	return (retail - discounted) / retail * 100
}

func itemRating(item model.CatalogItem) float64 {
	if item.Rating == nil || math.IsNaN(*item.Rating) || math.IsInf(*item.Rating, 0) {
		return PlaceholderRating
	}
	return *item.Rating
}

// isRecognizedBrand reports whether any brand is a case-insensitive
// substring of the vendor display name.
func isRecognizedBrand(vendorDisplayName string, brands []string) bool {
	// A Caser carries state, so each call gets its own to keep Score safe
	// for concurrent use.
	fold := cases.Fold()
	name := fold.String(vendorDisplayName)
	if name == "" {
		return false
	}
	for _, brand := range brands {
		brand = fold.String(strings.TrimSpace(brand))
		if brand != "" && strings.Contains(name, brand) {
			return true
		}
	}
	return false
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
