package connection

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Connection status values. A connection leaves "active" only through
// revocation or an auth failure the user must resolve.
const (
	StatusActive  = "active"
	StatusExpired = "expired"
	StatusRevoked = "revoked"
	StatusError   = "error"
)

var (
	ErrConnectionNotFound = errors.New("connection not found")
	ErrAccountNotFound    = errors.New("account not found")
	ErrForbidden          = errors.New("access forbidden")
	ErrInvalidCurrency    = errors.New("valid ISO 4217 currency is required")

	// ErrAuthExpired means the institution rejected the refresh token.
	// Surfaced to the connection's status; never retried automatically.
	ErrAuthExpired = errors.New("connection authorization expired")
)

// Common ISO 4217 currency codes
var validCurrencies = map[string]struct{}{
	"GBP": {}, "USD": {}, "EUR": {}, "BRL": {}, "JPY": {},
	"CHF": {}, "CAD": {}, "AUD": {}, "NZD": {}, "CNY": {},
	"INR": {}, "MXN": {}, "ZAR": {}, "SEK": {}, "NOK": {},
	"DKK": {}, "PLN": {}, "TRY": {}, "KRW": {}, "SGD": {},
	"HKD": {}, "ARS": {}, "CLP": {}, "COP": {},
}

// Connection is an authorized link to one institution at the bank-feed
// provider. Token columns hold ciphertext; only the vault sees plaintext.
type Connection struct {
	ID              string     `json:"id"`
	UserID          int64      `json:"userId"`
	InstitutionID   string     `json:"institutionId"`
	InstitutionName string     `json:"institutionName"`
	AccessToken     string     `json:"-"`
	RefreshToken    string     `json:"-"`
	TokenExpiry     time.Time  `json:"-"`
	SyncCursor      *string    `json:"-"`
	Status          string     `json:"status"`
	LastSyncedAt    *time.Time `json:"lastSyncedAt,omitempty"`
	LastError       *string    `json:"lastError,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// Account is one account under a connection, as reported by the provider.
type Account struct {
	ID              string          `json:"id"`
	ConnectionID    string          `json:"connectionId"`
	UserID          int64           `json:"userId"`
	ExternalID      string          `json:"-"`
	Name            string          `json:"name"`
	Currency        string          `json:"currency"`
	ReportedBalance decimal.Decimal `json:"reportedBalance"`
	BalanceAsOf     *time.Time      `json:"balanceAsOf,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

type CreateConnectionParams struct {
	UserID          int64
	InstitutionID   string
	InstitutionName string
	AccessToken     string
	RefreshToken    string
	TokenExpiry     time.Time
}

func (p CreateConnectionParams) Validate() error {
	if p.UserID <= 0 {
		return errors.New("valid user ID is required")
	}
	if p.InstitutionID == "" {
		return errors.New("institution ID is required")
	}
	if p.AccessToken == "" || p.RefreshToken == "" {
		return errors.New("token pair is required")
	}
	return nil
}

// TokenUpdate carries a freshly rotated token pair. Refresh tokens are
// single-use upstream, so the stored pair is replaced atomically.
type TokenUpdate struct {
	AccessToken  string
	RefreshToken string
	TokenExpiry  time.Time
}

type UpsertAccountParams struct {
	ConnectionID    string
	UserID          int64
	ExternalID      string
	Name            string
	Currency        string
	ReportedBalance decimal.Decimal
	BalanceAsOf     *time.Time
}

func (p UpsertAccountParams) Validate() error {
	if p.ConnectionID == "" {
		return errors.New("connection ID is required")
	}
	if p.UserID <= 0 {
		return errors.New("valid user ID is required")
	}
	if p.ExternalID == "" {
		return errors.New("external account ID is required")
	}
	if p.Name == "" {
		return errors.New("account name is required")
	}
	if !IsValidCurrency(p.Currency) {
		return ErrInvalidCurrency
	}
	return nil
}

// IsValidCurrency checks if the provided currency is a valid ISO 4217 code.
func IsValidCurrency(c string) bool {
	if len(c) != 3 {
		return false
	}
	_, ok := validCurrencies[c]
	return ok
}
