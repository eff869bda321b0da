package store

import (
	"context"

	"github.com/andrew12-circle/circle-marketplace/internal/adminauth"
	"github.com/andrew12-circle/circle-marketplace/internal/model"
)

// AdminSource answers admin checks from the local database, for
// deployments where this service owns the profiles table.
type AdminSource struct {
	store Store
}

// NewAdminSource adapts st to adminauth.Source.
func NewAdminSource(st Store) *AdminSource {
	return &AdminSource{store: st}
}

var _ adminauth.Source = (*AdminSource)(nil)

// EnhancedAdminCheck reports every way the user could qualify.
func (a *AdminSource) EnhancedAdminCheck(ctx context.Context, userID string) (*adminauth.EnhancedChecks, error) {
	p, err := a.store.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	allowlisted, err := a.store.IsAllowlisted(ctx, userID)
	if err != nil {
		return nil, err
	}

	checks := &adminauth.EnhancedChecks{Allowlisted: allowlisted}
	if p != nil {
		checks.ProfileFlag = p.IsAdmin
		checks.AdminSpecialty = p.HasAdminSpecialty()
	}
	return checks, nil
}

// IsAdmin reports the profile admin flag.
func (a *AdminSource) IsAdmin(ctx context.Context, userID string) (bool, error) {
	p, err := a.store.GetProfile(ctx, userID)
	if err != nil || p == nil {
		return false, err
	}
	return p.IsAdmin, nil
}

// GetProfile returns the user's profile, or nil when there is none.
func (a *AdminSource) GetProfile(ctx context.Context, userID string) (*model.Profile, error) {
	return a.store.GetProfile(ctx, userID)
}
