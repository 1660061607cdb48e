package record

import "context"

// Repository defines the interface for source record data access
type Repository interface {
	// Upsert inserts or refreshes a record by (user, source type, external id).
	// Returns the stored record and whether it was newly created. Redelivered
	// records update the envelope in place and never duplicate.
	Upsert(ctx context.Context, params Upsert) (*SourceRecord, bool, error)

	GetByID(ctx context.Context, id string) (*SourceRecord, error)
	GetByExternalID(ctx context.Context, userID int64, sourceType, externalID string) (*SourceRecord, error)

	// ListByState returns a user's records in the given match state,
	// optionally restricted to one source type.
	ListByState(ctx context.Context, userID int64, state string, sourceType *string) ([]*SourceRecord, error)

	// ListByTransaction returns the records linked to a transaction.
	ListByTransaction(ctx context.Context, transactionID string) ([]*SourceRecord, error)

	// SetMatchState records the outcome of matching. transactionID is nil for
	// unmatched and ambiguous states.
	SetMatchState(ctx context.Context, id string, state string, transactionID *string) error
}
