package record

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Source types. Only bank_transaction records may seed ledger transactions;
// the other three annotate.
const (
	SourceBank        = "bank_transaction"
	SourceReceipt     = "email_receipt"
	SourceMarketplace = "marketplace_order"
	SourceCardExport  = "card_export"
)

// Match states
const (
	StateUnmatched = "unmatched"
	StateMatched   = "matched"
	StateAmbiguous = "ambiguous"
)

var (
	// ErrMalformed marks a record that fails validation. Callers skip the
	// record and keep the batch going.
	ErrMalformed = errors.New("malformed source record")

	ErrRecordNotFound = errors.New("source record not found")
)

// SourceRecord is the normalized envelope every ingestor produces. The
// envelope is immutable after ingest except for the match columns.
type SourceRecord struct {
	ID                 string          `json:"id"`
	UserID             int64           `json:"userId"`
	SourceType         string          `json:"sourceType"`
	ExternalID         string          `json:"externalId"`
	AccountID          *string         `json:"accountId,omitempty"`
	Amount             decimal.Decimal `json:"amount"` // signed; negative = money out
	Currency           string          `json:"currency"`
	OccurredAt         time.Time       `json:"occurredAt"` // UTC
	RawMerchant        string          `json:"rawMerchant"`
	NormalizedMerchant string          `json:"normalizedMerchant"`
	Detail             json.RawMessage `json:"detail,omitempty"`
	MatchState         string          `json:"matchState"`
	TransactionID      *string         `json:"transactionId,omitempty"`
	IngestedAt         time.Time       `json:"ingestedAt"`
	UpdatedAt          time.Time       `json:"updatedAt"`
}

// LineItem is one purchased item on a receipt or order.
type LineItem struct {
	Description string          `json:"description"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	Amount      decimal.Decimal `json:"amount"`
}

// BankDetail is the per-source payload for bank_transaction records.
type BankDetail struct {
	Description     string `json:"description"`
	Reference       string `json:"reference,omitempty"`
	TransactionType string `json:"transactionType,omitempty"` // provider scheme code, e.g. DD, POS, FPO
	CategoryCode    string `json:"categoryCode,omitempty"`
}

// ReceiptDetail is the per-source payload for email_receipt records.
type ReceiptDetail struct {
	Seller    string          `json:"seller"`
	OrderRef  string          `json:"orderRef,omitempty"`
	Tax       decimal.Decimal `json:"tax"`
	LineItems []LineItem      `json:"lineItems,omitempty"`
}

// OrderDetail is the per-source payload for marketplace_order records.
// Orders predate settlement, so OrderedAt can sit days before the bank date.
type OrderDetail struct {
	Marketplace string          `json:"marketplace"`
	OrderRef    string          `json:"orderRef"`
	Shipping    decimal.Decimal `json:"shipping"`
	OrderedAt   time.Time       `json:"orderedAt"`
	LineItems   []LineItem      `json:"lineItems,omitempty"`
}

// CardDetail is the per-source payload for card_export records.
type CardDetail struct {
	Network  string `json:"network"`
	Last4    string `json:"last4,omitempty"`
	AuthCode string `json:"authCode,omitempty"`
}

// Bank decodes the detail payload of a bank_transaction record.
func (r *SourceRecord) Bank() (*BankDetail, error) {
	return decodeDetail[BankDetail](r, SourceBank)
}

// Receipt decodes the detail payload of an email_receipt record.
func (r *SourceRecord) Receipt() (*ReceiptDetail, error) {
	return decodeDetail[ReceiptDetail](r, SourceReceipt)
}

// Order decodes the detail payload of a marketplace_order record.
func (r *SourceRecord) Order() (*OrderDetail, error) {
	return decodeDetail[OrderDetail](r, SourceMarketplace)
}

// Card decodes the detail payload of a card_export record.
func (r *SourceRecord) Card() (*CardDetail, error) {
	return decodeDetail[CardDetail](r, SourceCardExport)
}

func decodeDetail[T any](r *SourceRecord, want string) (*T, error) {
	if r.SourceType != want {
		return nil, fmt.Errorf("record is %s, not %s", r.SourceType, want)
	}
	if len(r.Detail) == 0 {
		return new(T), nil
	}
	var d T
	if err := json.Unmarshal(r.Detail, &d); err != nil {
		return nil, fmt.Errorf("failed to decode %s detail: %w", want, err)
	}
	return &d, nil
}

// Currencies whose minor unit is the whole unit. Everything else uses two
// decimal places.
var zeroExponentCurrencies = map[string]struct{}{
	"JPY": {}, "KRW": {}, "CLP": {},
}

// AmountFromMinor converts an upstream minor-unit amount to a decimal in the
// currency's major unit. Ingestors use this so every source agrees on scale.
func AmountFromMinor(minor int64, currency string) decimal.Decimal {
	if _, ok := zeroExponentCurrencies[currency]; ok {
		return decimal.New(minor, 0)
	}
	return decimal.New(minor, -2)
}

// Page is one upstream page of normalized records plus the cursor that
// resumes after it. Ingestors return it; the sync pipeline stores the
// records before advancing the cursor.
type Page struct {
	Upserts    []Upsert
	NextCursor *string
	HasMore    bool
}

// Upsert carries one normalized record into storage. Records are keyed by
// (user, source type, external id), which is what makes redelivery safe.
type Upsert struct {
	UserID             int64
	SourceType         string
	ExternalID         string
	AccountID          *string
	Amount             decimal.Decimal
	Currency           string
	OccurredAt         time.Time
	RawMerchant        string
	NormalizedMerchant string
	Detail             any
}

// Validate enforces the envelope invariants. Failures wrap ErrMalformed so
// ingest loops can skip the record without dropping the batch.
func (u Upsert) Validate() error {
	if u.UserID <= 0 {
		return fmt.Errorf("%w: missing user", ErrMalformed)
	}
	switch u.SourceType {
	case SourceBank:
		if u.AccountID == nil || *u.AccountID == "" {
			return fmt.Errorf("%w: bank record without account", ErrMalformed)
		}
	case SourceReceipt, SourceMarketplace, SourceCardExport:
		if u.AccountID != nil {
			return fmt.Errorf("%w: %s record must not carry an account", ErrMalformed, u.SourceType)
		}
	default:
		return fmt.Errorf("%w: unknown source type %q", ErrMalformed, u.SourceType)
	}
	if u.ExternalID == "" {
		return fmt.Errorf("%w: missing external id", ErrMalformed)
	}
	if u.Amount.IsZero() {
		return fmt.Errorf("%w: zero amount", ErrMalformed)
	}
	if len(u.Currency) != 3 {
		return fmt.Errorf("%w: invalid currency %q", ErrMalformed, u.Currency)
	}
	if u.OccurredAt.IsZero() {
		return fmt.Errorf("%w: missing occurred-at", ErrMalformed)
	}
	return nil
}

// MarshalDetail serializes the typed detail payload for storage.
func (u Upsert) MarshalDetail() (json.RawMessage, error) {
	if u.Detail == nil {
		return nil, nil
	}
	raw, err := json.Marshal(u.Detail)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal detail: %w", err)
	}
	return raw, nil
}
