// Package deals ranks marketplace catalog items into a "top deals" shortlist.
package deals

import (
	"errors"
	"io/fs"
	"os"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/andrew12-circle/circle-marketplace/internal/config"
)

// DefaultWeights returns the weights used before an operator edits them.
func DefaultWeights() config.DealWeights {
	return config.DealWeights{
		DiscountMultiplier: 1.0,
		RatingMultiplier:   2.0,
		FeaturedBonus:      15,
		CoPayBonus:         10,
		BrandMultiplier:    1.5,
		SponsoredBonus:     5,
		RecognizedBrands:   []string{},
		ResultLimit:        8,
		Enabled:            true,
	}
}

// ValidateWeights checks that no weight or limit is negative. It is the
// only constraint enforced on operator-supplied weights.
func ValidateWeights(w config.DealWeights) error {
	var errs []string

	checks := []struct {
		name  string
		value float64
	}{
		{"discount_multiplier", w.DiscountMultiplier},
		{"rating_multiplier", w.RatingMultiplier},
		{"featured_bonus", w.FeaturedBonus},
		{"co_pay_bonus", w.CoPayBonus},
		{"brand_multiplier", w.BrandMultiplier},
		{"sponsored_bonus", w.SponsoredBonus},
		{"result_limit", float64(w.ResultLimit)},
	}
	for _, c := range checks {
		if c.value < 0 {
			errs = append(errs, c.name+" must be >= 0")
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("deals: invalid weights: %s", strings.Join(errs, "; "))
	}
	return nil
}

// LoadWeights reads weights from a YAML file. A missing file yields
// fallback unchanged so a fresh install works without one.
func LoadWeights(path string, fallback config.DealWeights) (config.DealWeights, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fallback, nil
		}
		return fallback, eris.Wrapf(err, "deals: read weights %s", path)
	}

	w := fallback
	if err := yaml.Unmarshal(data, &w); err != nil {
		return fallback, eris.Wrapf(err, "deals: parse weights %s", path)
	}
	w.RecognizedBrands = NormalizeBrands(w.RecognizedBrands)
	return w, nil
}

// SaveWeights writes weights to a YAML file after validating them.
func SaveWeights(path string, w config.DealWeights) error {
	if err := ValidateWeights(w); err != nil {
		return err
	}
	w.RecognizedBrands = NormalizeBrands(w.RecognizedBrands)

	data, err := yaml.Marshal(w)
	if err != nil {
		return eris.Wrap(err, "deals: marshal weights")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "deals: write weights %s", path)
	}
	return nil
}

// NormalizeBrands lowercases, trims, dedupes and sorts brand names.
func NormalizeBrands(brands []string) []string {
	out := make([]string, 0, len(brands))
	for _, b := range brands {
		b = strings.ToLower(strings.TrimSpace(b))
		if b == "" || slices.Contains(out, b) {
			continue
		}
		out = append(out, b)
	}
	slices.Sort(out)
	return out
}

// AddBrand returns a copy of w with brand added to the recognized set.
func AddBrand(w config.DealWeights, brand string) config.DealWeights {
	w.RecognizedBrands = NormalizeBrands(append(slices.Clone(w.RecognizedBrands), brand))
	return w
}

// RemoveBrand returns a copy of w without brand.
func RemoveBrand(w config.DealWeights, brand string) config.DealWeights {
	target := strings.ToLower(strings.TrimSpace(brand))
	kept := make([]string, 0, len(w.RecognizedBrands))
	for _, b := range w.RecognizedBrands {
		if strings.ToLower(b) != target {
			kept = append(kept, b)
		}
	}
	w.RecognizedBrands = NormalizeBrands(kept)
	return w
}
