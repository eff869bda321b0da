// Package adminauth decides whether a user may run privileged operations
// by trying an ordered list of checks until one says yes.
package adminauth

import (
	"context"
	"maps"

	"go.uber.org/zap"
)

// Check answers whether userID is an admin. Details are free-form facts
// recorded in the diagnostic.
type Check func(ctx context.Context, userID string) (bool, map[string]any, error)

// Tier is one named check in the chain.
type Tier struct {
	Name  string
	Check Check
}

// TierOutcome records what a single tier returned.
type TierOutcome struct {
	Tier    string         `json:"tier"`
	Admin   bool           `json:"admin"`
	Details map[string]any `json:"details,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// Diagnostic is the trail of every tier attempted for one verification.
type Diagnostic struct {
	UserID string        `json:"user_id"`
	Method string        `json:"method,omitempty"`
	Tiers  []TierOutcome `json:"tiers"`
}

// Redacted returns a copy that keeps which tiers ran and their verdicts
// but drops details and error text.
func (d Diagnostic) Redacted() Diagnostic {
	out := Diagnostic{UserID: d.UserID, Method: d.Method, Tiers: make([]TierOutcome, len(d.Tiers))}
	for i, t := range d.Tiers {
		out.Tiers[i] = TierOutcome{Tier: t.Tier, Admin: t.Admin}
	}
	return out
}

// FirstMatch runs tiers in order and stops at the first one that reports
// admin. Tier errors are recorded in the diagnostic and never returned.
func FirstMatch(ctx context.Context, userID string, tiers ...Tier) (bool, Diagnostic) {
	diag := Diagnostic{UserID: userID, Tiers: make([]TierOutcome, 0, len(tiers))}

	for _, tier := range tiers {
		admin, details, err := tier.Check(ctx, userID)
		outcome := TierOutcome{Tier: tier.Name, Admin: admin && err == nil, Details: maps.Clone(details)}
		if err != nil {
			outcome.Error = err.Error()
			zap.L().Debug("adminauth: tier failed, trying next",
				zap.String("tier", tier.Name),
				zap.String("user_id", userID),
				zap.Error(err),
			)
		}
		diag.Tiers = append(diag.Tiers, outcome)

		if outcome.Admin {
			diag.Method = tier.Name
			return true, diag
		}
	}

	return false, diag
}
