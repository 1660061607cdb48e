package directdebit

import "context"

// Repository defines the interface for direct debit mapping data access
type Repository interface {
	// Create inserts a mapping. Returns ErrDuplicateMapping when the user
	// already has an active mapping for the normalized merchant.
	Create(ctx context.Context, params CreateMappingParams) (*Mapping, error)

	GetByID(ctx context.Context, id int64) (*Mapping, error)

	// GetActiveByMerchant returns the user's active mapping for a normalized
	// merchant, or nil when none exists.
	GetActiveByMerchant(ctx context.Context, userID int64, normalizedMerchant string) (*Mapping, error)

	ListByUserID(ctx context.Context, userID int64) ([]*Mapping, error)
	Update(ctx context.Context, id int64, params UpdateMappingParams) (*Mapping, error)
	Delete(ctx context.Context, id int64) error
}
