package enrichment

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tally/internal/domain/ledger"
)

// Enrichment metadata sources
const (
	SourceRule       = "rule"
	SourceClassifier = "classifier"
)

var (
	ErrRuleNotFound = errors.New("category rule not found")
	ErrForbidden    = errors.New("forbidden: rule does not belong to user")
	ErrGlobalRule   = errors.New("global rules are managed by operators, not the API")
)

// CategoryRule assigns a category to transactions whose normalized merchant
// contains the pattern. UserID nil means the rule is global and applies to
// everyone, after the user's own rules.
type CategoryRule struct {
	ID          int64            `json:"id"`
	UserID      *int64           `json:"-"`
	Priority    int              `json:"priority"`
	Pattern     string           `json:"pattern"`
	MinAmount   *decimal.Decimal `json:"minAmount,omitempty"`
	MaxAmount   *decimal.Decimal `json:"maxAmount,omitempty"`
	Direction   *string          `json:"direction,omitempty"` // "debit" or "credit", nil matches both
	Category    string           `json:"category"`
	Subcategory *string          `json:"subcategory,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}

// Matches reports whether the rule applies to a transaction. Merchant must
// already be normalized; amount is the transaction's non-negative amount.
func (r *CategoryRule) Matches(merchant string, amount decimal.Decimal, direction string) bool {
	if r.Direction != nil && *r.Direction != direction {
		return false
	}
	if r.MinAmount != nil && amount.LessThan(*r.MinAmount) {
		return false
	}
	if r.MaxAmount != nil && amount.GreaterThan(*r.MaxAmount) {
		return false
	}
	return strings.Contains(merchant, r.Pattern)
}

// CreateRuleParams contains the parameters for creating a category rule
type CreateRuleParams struct {
	UserID      *int64
	Priority    int
	Pattern     string
	MinAmount   *decimal.Decimal
	MaxAmount   *decimal.Decimal
	Direction   *string
	Category    string
	Subcategory *string
}

// Validate validates the create parameters
func (p *CreateRuleParams) Validate() error {
	if strings.TrimSpace(p.Pattern) == "" {
		return errors.New("pattern is required")
	}
	if strings.TrimSpace(p.Category) == "" {
		return errors.New("category is required")
	}
	if p.Priority < 0 {
		return errors.New("priority must be non-negative")
	}
	if p.Direction != nil && *p.Direction != ledger.DirectionDebit && *p.Direction != ledger.DirectionCredit {
		return errors.New("direction must be debit or credit")
	}
	if p.MinAmount != nil && p.MinAmount.IsNegative() {
		return errors.New("minimum amount must be non-negative")
	}
	if p.MinAmount != nil && p.MaxAmount != nil && p.MaxAmount.LessThan(*p.MinAmount) {
		return errors.New("maximum amount must not be below minimum")
	}
	return nil
}

// UpdateRuleParams contains the parameters for updating a category rule.
// Nil fields are left unchanged; an empty direction clears the filter.
type UpdateRuleParams struct {
	Priority    *int
	Pattern     *string
	MinAmount   *decimal.Decimal
	MaxAmount   *decimal.Decimal
	Direction   *string
	Category    *string
	Subcategory *string
}

func (p *UpdateRuleParams) Validate() error {
	if p.Pattern != nil && strings.TrimSpace(*p.Pattern) == "" {
		return errors.New("pattern cannot be cleared")
	}
	if p.Category != nil && strings.TrimSpace(*p.Category) == "" {
		return errors.New("category cannot be cleared")
	}
	if p.Priority != nil && *p.Priority < 0 {
		return errors.New("priority must be non-negative")
	}
	if p.Direction != nil && *p.Direction != "" && *p.Direction != ledger.DirectionDebit && *p.Direction != ledger.DirectionCredit {
		return errors.New("direction must be debit, credit or empty")
	}
	return nil
}
