package ledger

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Direction of money movement. Amounts are stored non-negative; the sign
// lives here.
const (
	DirectionDebit  = "debit"
	DirectionCredit = "credit"
)

// Match rules, in cascade order.
const (
	RuleExactID     = "exact-id"
	RuleDirectDebit = "direct-debit-mapping"
	RuleFuzzy       = "fuzzy"
	RuleManual      = "manual"
)

// Enrichment statuses
const (
	EnrichmentUnclassified = "unclassified"
	EnrichmentRule         = "rule"
	EnrichmentProvisional  = "provisional"
)

var (
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrForbidden           = errors.New("access forbidden")
)

// Transaction is one canonical ledger entry. Its amount always comes from
// the bank-feed record that seeded it; other sources only annotate.
type Transaction struct {
	ID               string          `json:"id"`
	UserID           int64           `json:"userId"`
	AccountID        string          `json:"accountId"`
	Amount           decimal.Decimal `json:"amount"` // non-negative
	Direction        string          `json:"direction"`
	Currency         string          `json:"currency"`
	OccurredOn       time.Time       `json:"occurredOn"` // date, UTC
	DisplayMerchant  string          `json:"displayMerchant"`
	Category         *string         `json:"category,omitempty"`
	Subcategory      *string         `json:"subcategory,omitempty"`
	EnrichmentStatus string          `json:"enrichmentStatus"`
	Enrichment       *EnrichmentMeta `json:"enrichment,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// EnrichmentMeta records where a categorization came from. Stored as JSONB,
// never free text.
type EnrichmentMeta struct {
	Source     string    `json:"source"` // "rule" or "classifier"
	RuleID     *int64    `json:"ruleId,omitempty"`
	Model      string    `json:"model,omitempty"`
	Confidence *float64  `json:"confidence,omitempty"`
	AppliedAt  time.Time `json:"appliedAt"`
}

// Match links one source record to one transaction. A record has at most
// one match; a transaction accumulates them.
type Match struct {
	ID             string    `json:"id"`
	SourceRecordID string    `json:"sourceRecordId"`
	TransactionID  string    `json:"transactionId"`
	Rule           string    `json:"rule"`
	Confidence     float64   `json:"confidence"`
	CreatedAt      time.Time `json:"createdAt"`
}

type CreateTransactionParams struct {
	UserID          int64
	AccountID       string
	Amount          decimal.Decimal
	Direction       string
	Currency        string
	OccurredOn      time.Time
	DisplayMerchant string
	Category        *string
	Subcategory     *string
}

func (p CreateTransactionParams) Validate() error {
	if p.UserID <= 0 {
		return errors.New("valid user ID is required")
	}
	if p.AccountID == "" {
		return errors.New("account ID is required")
	}
	if p.Amount.IsNegative() {
		return errors.New("amount must be non-negative")
	}
	if p.Direction != DirectionDebit && p.Direction != DirectionCredit {
		return errors.New("direction must be debit or credit")
	}
	if p.OccurredOn.IsZero() {
		return errors.New("occurred-on date is required")
	}
	return nil
}

type CreateMatchParams struct {
	SourceRecordID string
	TransactionID  string
	Rule           string
	Confidence     float64
}

func (p CreateMatchParams) Validate() error {
	if p.SourceRecordID == "" || p.TransactionID == "" {
		return errors.New("source record and transaction IDs are required")
	}
	switch p.Rule {
	case RuleExactID, RuleDirectDebit, RuleFuzzy, RuleManual:
	default:
		return errors.New("unknown match rule")
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return errors.New("confidence must be within [0, 1]")
	}
	return nil
}

// TransactionQuery filters the read API listing. All filters are user-scoped.
type TransactionQuery struct {
	UserID    int64
	AccountID *string
	Category  *string
	Direction *string
	From      *time.Time
	To        *time.Time
	Limit     int
	Offset    int
}

// CandidateQuery bounds the fuzzy-match candidate scan.
type CandidateQuery struct {
	UserID    int64
	Direction string
	Currency  string
	From      time.Time
	To        time.Time
	AmountMin decimal.Decimal
	AmountMax decimal.Decimal
}

// TransactionSources pairs a transaction's identity fields with the external
// ids of every record matched into it, for duplicate detection.
type TransactionSources struct {
	TransactionID string
	Amount        decimal.Decimal
	Direction     string
	OccurredOn    time.Time
	ExternalIDs   []string
}
