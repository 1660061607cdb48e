package directdebit

import (
	"errors"
	"time"
)

var (
	ErrMappingNotFound  = errors.New("direct debit mapping not found")
	ErrForbidden        = errors.New("forbidden: mapping does not belong to user")
	ErrDuplicateMapping = errors.New("an active mapping already exists for this merchant")
)

// Mapping pins a recurring merchant to a payee and category. While active,
// the matcher attaches this merchant's records deterministically at full
// confidence, skipping fuzzy scoring.
type Mapping struct {
	ID                 int64     `json:"id"`
	UserID             int64     `json:"-"`
	NormalizedMerchant string    `json:"merchant"`
	PayeeName          string    `json:"payeeName"`
	Category           string    `json:"category"`
	Subcategory        *string   `json:"subcategory,omitempty"`
	Active             bool      `json:"active"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// CreateMappingParams contains the parameters for creating a mapping.
// Merchant holds raw text; the service normalizes it before storage.
type CreateMappingParams struct {
	UserID      int64
	Merchant    string
	PayeeName   string
	Category    string
	Subcategory *string
}

func (p CreateMappingParams) Validate() error {
	if p.UserID <= 0 {
		return errors.New("valid user ID is required")
	}
	if p.Merchant == "" {
		return errors.New("merchant is required")
	}
	if p.PayeeName == "" {
		return errors.New("payee name is required")
	}
	if p.Category == "" {
		return errors.New("category is required")
	}
	return nil
}

// UpdateMappingParams contains the parameters for updating a mapping.
// Nil fields are left unchanged.
type UpdateMappingParams struct {
	PayeeName   *string
	Category    *string
	Subcategory *string
	Active      *bool
}
