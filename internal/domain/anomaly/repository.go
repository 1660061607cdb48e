package anomaly

import "context"

// Repository defines the interface for anomaly data access
type Repository interface {
	// Create opens an anomaly. When an open anomaly with the same
	// fingerprint already exists it is returned unchanged with created
	// false, so detection sweeps stay idempotent.
	Create(ctx context.Context, params CreateParams) (*Anomaly, bool, error)

	// GetByID retrieves an anomaly by ID. Returns nil if not found.
	GetByID(ctx context.Context, id string) (*Anomaly, error)

	// List returns anomalies matching the query, newest first.
	List(ctx context.Context, q Query) ([]*Anomaly, error)

	// CountOpen returns the number of open anomalies for a user.
	CountOpen(ctx context.Context, userID int64) (int, error)

	// Close moves an anomaly to resolved or dismissed and stamps the
	// resolution.
	Close(ctx context.Context, id string, status string, resolution *string) error
}
