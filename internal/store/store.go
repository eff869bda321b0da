// Package store persists the marketplace catalog, user profiles and the
// admin allowlist.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/andrew12-circle/circle-marketplace/internal/model"
)

// ErrNotFound is returned when an update targets a missing row.
var ErrNotFound = eris.New("store: not found")

// ListOptions pages through catalog items ordered by id. Limit <= 0 means
// no limit.
type ListOptions struct {
	Limit  int
	Offset int
}

// Store defines the persistence interface for the marketplace.
type Store interface {
	// Catalog
	ListCatalogItems(ctx context.Context, opts ListOptions) ([]model.CatalogItem, error)
	GetCatalogItem(ctx context.Context, id string) (*model.CatalogItem, error)
	SaveResearch(ctx context.Context, itemID, research string) error
	UpsertVendor(ctx context.Context, v model.Vendor) error
	// UpsertCatalogItem creates the item's vendor if it is missing but never
	// rewrites an existing vendor row; use UpsertVendor for that.
	UpsertCatalogItem(ctx context.Context, item model.CatalogItem) error
	ImportCatalog(ctx context.Context, vendors []model.Vendor, items []model.CatalogItem) (int64, error)

	// Profiles and admin allowlist
	GetProfile(ctx context.Context, userID string) (*model.Profile, error)
	UpsertProfile(ctx context.Context, p model.Profile) error
	IsAllowlisted(ctx context.Context, userID string) (bool, error)
	AddToAllowlist(ctx context.Context, userID, note string) error

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// vendorForItem derives the vendor row implied by a catalog item.
func vendorForItem(item model.CatalogItem) model.Vendor {
	return model.Vendor{
		ID:          item.VendorID,
		Name:        item.VendorName,
		DisplayName: item.VendorDisplayName,
		Verified:    item.VendorVerified,
	}
}
