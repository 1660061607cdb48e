package enrichment

import "context"

// Repository defines the interface for category rule data access
type Repository interface {
	// Create persists a new rule.
	Create(ctx context.Context, params CreateRuleParams) (*CategoryRule, error)

	// GetByID retrieves a rule by ID. Returns nil if not found.
	GetByID(ctx context.Context, id int64) (*CategoryRule, error)

	// ListForUser returns the rules the enricher evaluates for a user: the
	// user's own rules first, then global rules, each in ascending
	// priority order with ties broken by id.
	ListForUser(ctx context.Context, userID int64) ([]*CategoryRule, error)

	// ListByOwner returns rules owned by a user (nil for global rules).
	ListByOwner(ctx context.Context, userID *int64) ([]*CategoryRule, error)

	// Update applies non-nil fields to an existing rule.
	Update(ctx context.Context, id int64, params UpdateRuleParams) (*CategoryRule, error)

	// Delete removes a rule.
	Delete(ctx context.Context, id int64) error
}
