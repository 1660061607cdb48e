package directdebit

import (
	"context"
	"fmt"

	"tally/internal/domain/merchant"
)

// Service handles business logic for direct debit mappings
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Create normalizes the merchant and stores the mapping. One active mapping
// per merchant per user.
func (s *Service) Create(ctx context.Context, params CreateMappingParams) (*Mapping, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	normalized := merchant.Normalize(params.Merchant)
	if normalized == "" {
		return nil, fmt.Errorf("merchant %q normalizes to nothing", params.Merchant)
	}
	params.Merchant = normalized

	existing, err := s.repo.GetActiveByMerchant(ctx, params.UserID, normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing mapping: %w", err)
	}
	if existing != nil {
		return nil, ErrDuplicateMapping
	}

	mapping, err := s.repo.Create(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to create mapping: %w", err)
	}
	return mapping, nil
}

// Lookup returns the active mapping for a normalized merchant, or nil.
func (s *Service) Lookup(ctx context.Context, userID int64, normalizedMerchant string) (*Mapping, error) {
	if normalizedMerchant == "" {
		return nil, nil
	}
	return s.repo.GetActiveByMerchant(ctx, userID, normalizedMerchant)
}

// Get returns a mapping by ID, verifying ownership
func (s *Service) Get(ctx context.Context, id, userID int64) (*Mapping, error) {
	mapping, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if mapping == nil {
		return nil, ErrMappingNotFound
	}
	if mapping.UserID != userID {
		return nil, ErrForbidden
	}
	return mapping, nil
}

// ListForUser returns all mappings for a user
func (s *Service) ListForUser(ctx context.Context, userID int64) ([]*Mapping, error) {
	return s.repo.ListByUserID(ctx, userID)
}

// Update changes a mapping, verifying ownership. Reactivating a mapping
// re-checks the one-active-per-merchant constraint.
func (s *Service) Update(ctx context.Context, id, userID int64, params UpdateMappingParams) (*Mapping, error) {
	mapping, err := s.Get(ctx, id, userID)
	if err != nil {
		return nil, err
	}

	if params.Active != nil && *params.Active && !mapping.Active {
		existing, err := s.repo.GetActiveByMerchant(ctx, userID, mapping.NormalizedMerchant)
		if err != nil {
			return nil, fmt.Errorf("failed to check existing mapping: %w", err)
		}
		if existing != nil && existing.ID != id {
			return nil, ErrDuplicateMapping
		}
	}

	updated, err := s.repo.Update(ctx, id, params)
	if err != nil {
		return nil, fmt.Errorf("failed to update mapping: %w", err)
	}
	return updated, nil
}

// Delete removes a mapping, verifying ownership
func (s *Service) Delete(ctx context.Context, id, userID int64) error {
	if _, err := s.Get(ctx, id, userID); err != nil {
		return err
	}
	return s.repo.Delete(ctx, id)
}
