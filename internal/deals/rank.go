package deals

import (
	"cmp"
	"slices"

	"go.uber.org/zap"

	"github.com/andrew12-circle/circle-marketplace/internal/config"
	"github.com/andrew12-circle/circle-marketplace/internal/metrics"
	"github.com/andrew12-circle/circle-marketplace/internal/model"
)

// Eligible reports whether item may enter the ranking pool: featured, a
// positive co-pay price, or a verified vendor offering a real discount.
func Eligible(item model.CatalogItem) bool {
	if item.IsFeatured {
		return true
	}
	if ParsePrice(item.CoPayPrice) > 0 {
		return true
	}
	if !item.VendorVerified {
		return false
	}
	discounted := ParsePrice(item.DiscountedPrice)
	return discounted > 0 && discounted < ParsePrice(item.RetailPrice)
}

// FilterEligible returns the eligible items in their original order.
func FilterEligible(items []model.CatalogItem) []model.CatalogItem {
	out := make([]model.CatalogItem, 0, len(items))
	for _, item := range items {
		if Eligible(item) {
			out = append(out, item)
		}
	}
	return out
}

// Rank scores eligible items and returns them by descending score, capped
// at w.ResultLimit. Equal scores keep catalog order.
// Returns nil when the top-deals pass is disabled.
func Rank(items []model.CatalogItem, w config.DealWeights) []Result {
	if !w.Enabled {
		return nil
	}

	pool := FilterEligible(items)
	results := make([]Result, 0, len(pool))
	for _, item := range pool {
		results = append(results, Score(item, w))
	}

	slices.SortStableFunc(results, func(a, b Result) int {
		return cmp.Compare(b.Score, a.Score)
	})

	if limit := max(w.ResultLimit, 0); len(results) > limit {
		results = results[:limit]
	}

	metrics.DealsConsidered.Add(float64(len(items)))
	metrics.DealsEligible.Add(float64(len(pool)))

	zap.L().Debug("deals: ranked catalog",
		zap.Int("items", len(items)),
		zap.Int("eligible", len(pool)),
		zap.Int("returned", len(results)),
	)

	return results
}
