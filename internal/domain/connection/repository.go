package connection

import (
	"context"
	"time"
)

// Repository defines the interface for connection and account data access
type Repository interface {
	Create(ctx context.Context, params CreateConnectionParams) (*Connection, error)
	GetByID(ctx context.Context, id string) (*Connection, error)
	ListByUserID(ctx context.Context, userID int64) ([]*Connection, error)
	ListActive(ctx context.Context) ([]*Connection, error)

	// UpdateTokens replaces the stored token pair in a single statement.
	UpdateTokens(ctx context.Context, id string, update TokenUpdate) error

	// UpdateCursor advances the sync cursor. Callers only do this after the
	// page behind the cursor is confirmed stored.
	UpdateCursor(ctx context.Context, id string, cursor string) error

	UpdateStatus(ctx context.Context, id string, status string, lastError *string) error
	TouchLastSynced(ctx context.Context, id string, at time.Time) error

	UpsertAccount(ctx context.Context, params UpsertAccountParams) (*Account, bool, error)
	GetAccountByID(ctx context.Context, id string) (*Account, error)
	ListAccountsByConnection(ctx context.Context, connectionID string) ([]*Account, error)
	ListAccountsByUser(ctx context.Context, userID int64) ([]*Account, error)
}
