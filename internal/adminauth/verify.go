package adminauth

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/andrew12-circle/circle-marketplace/internal/metrics"
	"github.com/andrew12-circle/circle-marketplace/internal/model"
)

// Tier names, in evaluation order.
const (
	TierEnhanced = "enhanced_check"
	TierBasic    = "basic_check"
	TierProfile  = "profile_lookup"
)

// EnhancedChecks is the result of the enhanced self-check: one flag per
// way a user can qualify as admin.
type EnhancedChecks struct {
	ProfileFlag    bool `json:"profile_flag"`
	AdminSpecialty bool `json:"admin_specialty"`
	Allowlisted    bool `json:"allowlisted"`
}

// Any reports whether at least one method qualified the user.
func (c EnhancedChecks) Any() bool {
	return c.ProfileFlag || c.AdminSpecialty || c.Allowlisted
}

// Source is where admin facts come from: the hosted backend or the local
// store.
type Source interface {
	EnhancedAdminCheck(ctx context.Context, userID string) (*EnhancedChecks, error)
	IsAdmin(ctx context.Context, userID string) (bool, error)
	GetProfile(ctx context.Context, userID string) (*model.Profile, error)
}

// Verifier runs the three-tier admin check against a Source.
type Verifier struct {
	tiers []Tier
}

// NewVerifier builds the enhanced, basic and profile tiers over src.
func NewVerifier(src Source) *Verifier {
	return &Verifier{tiers: []Tier{
		{Name: TierEnhanced, Check: enhancedCheck(src)},
		{Name: TierBasic, Check: basicCheck(src)},
		{Name: TierProfile, Check: profileCheck(src)},
	}}
}

// Verify reports whether userID is an admin, with the trail of tiers tried.
func (v *Verifier) Verify(ctx context.Context, userID string) (bool, Diagnostic) {
	if userID == "" {
		return false, Diagnostic{Tiers: []TierOutcome{}}
	}

	ok, diag := FirstMatch(ctx, userID, v.tiers...)
	if ok {
		metrics.AdminVerifications.WithLabelValues(diag.Method).Inc()
		zap.L().Debug("adminauth: verified", zap.String("user_id", userID), zap.String("method", diag.Method))
	} else {
		metrics.AdminVerifications.WithLabelValues(metrics.MethodDenied).Inc()
		zap.L().Warn("adminauth: denied",
			zap.String("user_id", userID),
			zap.Any("diagnostic", diag),
		)
	}
	return ok, diag
}

func enhancedCheck(src Source) Check {
	return func(ctx context.Context, userID string) (bool, map[string]any, error) {
		checks, err := src.EnhancedAdminCheck(ctx, userID)
		if err != nil {
			return false, nil, eris.Wrap(err, "adminauth: enhanced check")
		}
		if checks == nil {
			return false, nil, eris.New("adminauth: enhanced check returned no result")
		}
		return checks.Any(), map[string]any{
			"profile_flag":    checks.ProfileFlag,
			"admin_specialty": checks.AdminSpecialty,
			"allowlisted":     checks.Allowlisted,
		}, nil
	}
}

func basicCheck(src Source) Check {
	return func(ctx context.Context, userID string) (bool, map[string]any, error) {
		ok, err := src.IsAdmin(ctx, userID)
		if err != nil {
			return false, nil, eris.Wrap(err, "adminauth: basic check")
		}
		return ok, map[string]any{"is_admin": ok}, nil
	}
}

func profileCheck(src Source) Check {
	return func(ctx context.Context, userID string) (bool, map[string]any, error) {
		p, err := src.GetProfile(ctx, userID)
		if err != nil {
			return false, nil, eris.Wrap(err, "adminauth: profile lookup")
		}
		if p == nil {
			return false, map[string]any{"profile_found": false}, nil
		}
		specialty := p.HasAdminSpecialty()
		return p.IsAdmin || specialty, map[string]any{
			"profile_found":   true,
			"is_admin":        p.IsAdmin,
			"admin_specialty": specialty,
		}, nil
	}
}
