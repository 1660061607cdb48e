package connection

import (
	"context"
	"fmt"
)

// Service handles business logic for bank connections
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Create registers a new connection after an OAuth exchange. Token values
// must already be encrypted by the caller.
func (s *Service) Create(ctx context.Context, params CreateConnectionParams) (*Connection, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	conn, err := s.repo.Create(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection: %w", err)
	}
	return conn, nil
}

// Get returns a connection by ID, verifying ownership
func (s *Service) Get(ctx context.Context, id string, userID int64) (*Connection, error) {
	conn, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if conn == nil {
		return nil, ErrConnectionNotFound
	}
	if conn.UserID != userID {
		return nil, ErrForbidden
	}
	return conn, nil
}

// ListForUser returns all connections belonging to a user
func (s *Service) ListForUser(ctx context.Context, userID int64) ([]*Connection, error) {
	return s.repo.ListByUserID(ctx, userID)
}

// MarkAuthExpired records a refresh rejection. The connection stays out of
// sync rotation until the user re-authorizes; nothing retries it.
func (s *Service) MarkAuthExpired(ctx context.Context, id string, cause error) error {
	msg := cause.Error()
	if err := s.repo.UpdateStatus(ctx, id, StatusExpired, &msg); err != nil {
		return fmt.Errorf("failed to mark connection expired: %w", err)
	}
	return nil
}

// MarkError records a non-auth sync failure without taking the connection
// out of rotation.
func (s *Service) MarkError(ctx context.Context, id string, cause error) error {
	msg := cause.Error()
	if err := s.repo.UpdateStatus(ctx, id, StatusError, &msg); err != nil {
		return fmt.Errorf("failed to mark connection errored: %w", err)
	}
	return nil
}

// MarkHealthy clears a previous error state after a clean sync.
func (s *Service) MarkHealthy(ctx context.Context, id string) error {
	if err := s.repo.UpdateStatus(ctx, id, StatusActive, nil); err != nil {
		return fmt.Errorf("failed to mark connection healthy: %w", err)
	}
	return nil
}

// Revoke deactivates a connection, verifying ownership.
func (s *Service) Revoke(ctx context.Context, id string, userID int64) error {
	conn, err := s.Get(ctx, id, userID)
	if err != nil {
		return err
	}
	if err := s.repo.UpdateStatus(ctx, conn.ID, StatusRevoked, nil); err != nil {
		return fmt.Errorf("failed to revoke connection: %w", err)
	}
	return nil
}

// RevokeFromProvider handles a provider-initiated revocation, such as the
// user cancelling consent at their bank. The provider is authoritative here,
// so there is no ownership check.
func (s *Service) RevokeFromProvider(ctx context.Context, id string) error {
	conn, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if conn == nil {
		return ErrConnectionNotFound
	}
	reason := "revoked by provider"
	if err := s.repo.UpdateStatus(ctx, conn.ID, StatusRevoked, &reason); err != nil {
		return fmt.Errorf("failed to revoke connection: %w", err)
	}
	return nil
}
