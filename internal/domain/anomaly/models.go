package anomaly

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Anomaly kinds
const (
	KindBalanceDrift         = "balance_drift"
	KindDuplicateTransaction = "duplicate_transaction"
	KindAmbiguousMatch       = "ambiguous_match"
)

// Anomaly statuses
const (
	StatusOpen      = "open"
	StatusResolved  = "resolved"
	StatusDismissed = "dismissed"
)

var validKinds = map[string]struct{}{
	KindBalanceDrift:         {},
	KindDuplicateTransaction: {},
	KindAmbiguousMatch:       {},
}

var validStatuses = map[string]struct{}{
	StatusOpen:      {},
	StatusResolved:  {},
	StatusDismissed: {},
}

// Domain errors
var (
	ErrAnomalyNotFound    = errors.New("anomaly not found")
	ErrAnomalyClosed      = errors.New("anomaly is already closed")
	ErrInvalidKind        = errors.New("invalid anomaly kind")
	ErrInvalidStatus      = errors.New("invalid anomaly status")
	ErrChoiceRequired     = errors.New("resolving an ambiguous match requires a transaction choice")
	ErrChoiceNotCandidate = errors.New("chosen transaction is not one of the candidates")
	ErrForbidden          = errors.New("access forbidden")
)

// Anomaly is a detected inconsistency surfaced for human review. Anomalies
// are advisory: opening one never mutates ledger data. AccountID is set for
// account-scoped kinds and nil for ambiguous matches.
type Anomaly struct {
	ID         string          `json:"id"`
	UserID     int64           `json:"-"`
	AccountID  *string         `json:"account_id,omitempty"`
	Kind       string          `json:"kind"`
	Status     string          `json:"status"`
	Details    json.RawMessage `json:"details"`
	Resolution *string         `json:"resolution,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	ResolvedAt *time.Time      `json:"resolved_at,omitempty"`
}

// AmbiguousDetails records a source record that matched more than one
// transaction. The record stays parked until an operator picks a side.
type AmbiguousDetails struct {
	SourceRecordID string   `json:"source_record_id"`
	CandidateIDs   []string `json:"candidate_ids"`
}

// DriftDetails records a gap between the provider-reported balance and the
// balance replayed from stored transactions.
type DriftDetails struct {
	AccountID string          `json:"account_id"`
	Reported  decimal.Decimal `json:"reported"`
	Computed  decimal.Decimal `json:"computed"`
	Delta     decimal.Decimal `json:"delta"`
}

// DuplicateDetails records a group of transactions that look like the same
// real-world purchase stored twice.
type DuplicateDetails struct {
	AccountID      string   `json:"account_id"`
	TransactionIDs []string `json:"transaction_ids"`
}

// Ambiguous decodes the details payload of an ambiguous-match anomaly.
func (a *Anomaly) Ambiguous() (*AmbiguousDetails, error) {
	if a.Kind != KindAmbiguousMatch {
		return nil, fmt.Errorf("anomaly %s is %s, not %s", a.ID, a.Kind, KindAmbiguousMatch)
	}
	var d AmbiguousDetails
	if err := json.Unmarshal(a.Details, &d); err != nil {
		return nil, fmt.Errorf("failed to decode anomaly details: %w", err)
	}
	return &d, nil
}

// CreateParams contains parameters for opening an anomaly.
type CreateParams struct {
	UserID      int64
	AccountID   *string
	Kind        string
	Details     any
	Fingerprint string
}

func (p CreateParams) Validate() error {
	if p.UserID <= 0 {
		return errors.New("valid user ID is required")
	}
	if !IsValidKind(p.Kind) {
		return ErrInvalidKind
	}
	if p.Fingerprint == "" {
		return errors.New("anomaly fingerprint is required")
	}
	return nil
}

// MarshalDetails encodes the typed details payload for storage.
func (p CreateParams) MarshalDetails() (json.RawMessage, error) {
	raw, err := json.Marshal(p.Details)
	if err != nil {
		return nil, fmt.Errorf("failed to encode anomaly details: %w", err)
	}
	return raw, nil
}

// Query filters the anomaly listing.
type Query struct {
	UserID int64
	Status *string
	Kind   *string
	Limit  int
	Offset int
}

func (q Query) Validate() error {
	if q.UserID <= 0 {
		return errors.New("valid user ID is required")
	}
	if q.Status != nil && !IsValidStatus(*q.Status) {
		return ErrInvalidStatus
	}
	if q.Kind != nil && !IsValidKind(*q.Kind) {
		return ErrInvalidKind
	}
	return nil
}

// ResolveParams describes how an operator closes an anomaly. Dismiss closes
// without taking a side; Resolve on an ambiguous match must name the
// transaction the record belongs to.
type ResolveParams struct {
	Dismiss       bool
	TransactionID *string
	Note          *string
}

func IsValidKind(k string) bool {
	_, ok := validKinds[k]
	return ok
}

func IsValidStatus(s string) bool {
	_, ok := validStatuses[s]
	return ok
}

// Fingerprint builds the dedup key for an open anomaly: one open anomaly
// per kind and subject, however many times detection runs.
func Fingerprint(kind string, parts ...string) string {
	sorted := make([]string, len(parts))
	copy(sorted, parts)
	sort.Strings(sorted)
	return kind + ":" + strings.Join(sorted, ",")
}
