package enrichment

import (
	"context"
	"strings"
)

// Service handles the category rule CRUD consumed by the API. Only a user's
// own rules are editable here; global rules ship with the database.
type Service struct {
	repo Repository
}

// NewService creates a new category rule service
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// CreateRule creates a rule owned by the user. Patterns are lowercased so
// they compare against normalized merchants.
func (s *Service) CreateRule(ctx context.Context, userID int64, params CreateRuleParams) (*CategoryRule, error) {
	params.UserID = &userID
	params.Pattern = strings.ToLower(strings.TrimSpace(params.Pattern))
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return s.repo.Create(ctx, params)
}

// GetRule returns a rule by ID, verifying ownership. Global rules are
// readable by everyone.
func (s *Service) GetRule(ctx context.Context, ruleID, userID int64) (*CategoryRule, error) {
	rule, err := s.repo.GetByID(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	if rule == nil {
		return nil, ErrRuleNotFound
	}
	if rule.UserID != nil && *rule.UserID != userID {
		return nil, ErrForbidden
	}
	return rule, nil
}

// ListRules returns the rules that apply to a user: their own first, then
// the global set.
func (s *Service) ListRules(ctx context.Context, userID int64) ([]*CategoryRule, error) {
	return s.repo.ListForUser(ctx, userID)
}

// UpdateRule applies changes to a rule the user owns.
func (s *Service) UpdateRule(ctx context.Context, ruleID, userID int64, params UpdateRuleParams) (*CategoryRule, error) {
	if params.Pattern != nil {
		lowered := strings.ToLower(strings.TrimSpace(*params.Pattern))
		params.Pattern = &lowered
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if err := s.ownedBy(ctx, ruleID, userID); err != nil {
		return nil, err
	}
	return s.repo.Update(ctx, ruleID, params)
}

// DeleteRule removes a rule the user owns.
func (s *Service) DeleteRule(ctx context.Context, ruleID, userID int64) error {
	if err := s.ownedBy(ctx, ruleID, userID); err != nil {
		return err
	}
	return s.repo.Delete(ctx, ruleID)
}

func (s *Service) ownedBy(ctx context.Context, ruleID, userID int64) error {
	rule, err := s.repo.GetByID(ctx, ruleID)
	if err != nil {
		return err
	}
	if rule == nil {
		return ErrRuleNotFound
	}
	if rule.UserID == nil {
		return ErrGlobalRule
	}
	if *rule.UserID != userID {
		return ErrForbidden
	}
	return nil
}
