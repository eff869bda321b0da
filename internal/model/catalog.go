package model

import "time"

// CatalogItem is a marketplace service offered by a vendor. Prices are kept
// as the raw strings the catalog stores; callers parse them when needed.
type CatalogItem struct {
	ID                string     `json:"id"`
	Title             string     `json:"title"`
	Category          string     `json:"category,omitempty"`
	VendorID          string     `json:"vendor_id,omitempty"`
	VendorName        string     `json:"vendor_name"`
	VendorDisplayName string     `json:"vendor_display_name"`
	VendorVerified    bool       `json:"vendor_verified"`
	RetailPrice       string     `json:"retail_price"`
	DiscountedPrice   string     `json:"discounted_price"`
	CoPayPrice        string     `json:"co_pay_price,omitempty"`
	IsFeatured        bool       `json:"is_featured"`
	AllowsCoPay       bool       `json:"allows_co_pay"`
	IsSponsored       bool       `json:"is_sponsored"`
	Rating            *float64   `json:"rating,omitempty"`
	Research          string     `json:"research,omitempty"`
	ResearchUpdatedAt *time.Time `json:"research_updated_at,omitempty"`
}

// HasResearch reports whether the item already carries generated research.
func (c CatalogItem) HasResearch() bool {
	return c.Research != ""
}

// Vendor is the seller of one or more catalog items.
type Vendor struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Verified    bool   `json:"verified"`
}
