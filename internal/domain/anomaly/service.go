package anomaly

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"tally/internal/domain/ledger"
	"tally/internal/domain/record"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// MatchWriter records manual links into the ledger.
type MatchWriter interface {
	CreateMatch(ctx context.Context, params ledger.CreateMatchParams) (*ledger.Match, error)
}

// RecordStateWriter moves source records between match states.
type RecordStateWriter interface {
	SetMatchState(ctx context.Context, id string, state string, transactionID *string) error
}

// Service contains the business logic for anomaly operations. The writer
// methods are idempotent per subject; detection sweeps can call them on
// every run without piling up duplicates.
type Service struct {
	repo    Repository
	matches MatchWriter
	records RecordStateWriter
}

// NewService creates a new anomaly service
func NewService(repo Repository, matches MatchWriter, records RecordStateWriter) *Service {
	return &Service{repo: repo, matches: matches, records: records}
}

// AmbiguousMatch opens an anomaly for a record that matched more than one
// transaction.
func (s *Service) AmbiguousMatch(ctx context.Context, userID int64, recordID string, candidateIDs []string) error {
	_, _, err := s.repo.Create(ctx, CreateParams{
		UserID: userID,
		Kind:   KindAmbiguousMatch,
		Details: AmbiguousDetails{
			SourceRecordID: recordID,
			CandidateIDs:   candidateIDs,
		},
		Fingerprint: Fingerprint(KindAmbiguousMatch, recordID),
	})
	return err
}

// BalanceDrift opens an anomaly for an account whose replayed balance
// disagrees with the provider-reported one.
func (s *Service) BalanceDrift(ctx context.Context, userID int64, accountID string, reported, computed decimal.Decimal) error {
	_, _, err := s.repo.Create(ctx, CreateParams{
		UserID:    userID,
		AccountID: &accountID,
		Kind:      KindBalanceDrift,
		Details: DriftDetails{
			AccountID: accountID,
			Reported:  reported,
			Computed:  computed,
			Delta:     reported.Sub(computed),
		},
		Fingerprint: Fingerprint(KindBalanceDrift, accountID),
	})
	return err
}

// DuplicateTransaction opens an anomaly for a group of transactions that
// look like one purchase stored twice.
func (s *Service) DuplicateTransaction(ctx context.Context, userID int64, accountID string, transactionIDs []string) error {
	_, _, err := s.repo.Create(ctx, CreateParams{
		UserID:    userID,
		AccountID: &accountID,
		Kind:      KindDuplicateTransaction,
		Details: DuplicateDetails{
			AccountID:      accountID,
			TransactionIDs: transactionIDs,
		},
		Fingerprint: Fingerprint(KindDuplicateTransaction, transactionIDs...),
	})
	return err
}

// List returns anomalies for a user, newest first.
func (s *Service) List(ctx context.Context, q Query) ([]*Anomaly, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if q.Limit <= 0 {
		q.Limit = defaultPageSize
	}
	if q.Limit > maxPageSize {
		q.Limit = maxPageSize
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return s.repo.List(ctx, q)
}

// Get retrieves a single anomaly, enforcing ownership.
func (s *Service) Get(ctx context.Context, id string, userID int64) (*Anomaly, error) {
	if id == "" {
		return nil, errors.New("anomaly ID is required")
	}
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, ErrAnomalyNotFound
	}
	if a.UserID != userID {
		return nil, ErrForbidden
	}
	return a, nil
}

// Resolve closes an open anomaly. Dismissing takes no side; resolving an
// ambiguous match links the parked record to the chosen transaction as a
// manual match. Balance and duplicate anomalies are advisory, so resolving
// them only records the outcome.
func (s *Service) Resolve(ctx context.Context, id string, userID int64, params ResolveParams) (*Anomaly, error) {
	a, err := s.Get(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if a.Status != StatusOpen {
		return nil, ErrAnomalyClosed
	}

	if params.Dismiss {
		if err := s.dismiss(ctx, a, params.Note); err != nil {
			return nil, err
		}
		return s.repo.GetByID(ctx, id)
	}

	if a.Kind == KindAmbiguousMatch {
		if err := s.resolveAmbiguous(ctx, a, params); err != nil {
			return nil, err
		}
	}
	if err := s.repo.Close(ctx, id, StatusResolved, params.Note); err != nil {
		return nil, err
	}
	return s.repo.GetByID(ctx, id)
}

// dismiss closes the anomaly without taking a side. A dismissed ambiguity
// releases its record back to unmatched; if the data is still ambiguous on
// the next sweep the anomaly simply reopens.
func (s *Service) dismiss(ctx context.Context, a *Anomaly, note *string) error {
	if a.Kind == KindAmbiguousMatch {
		d, err := a.Ambiguous()
		if err != nil {
			return err
		}
		if err := s.records.SetMatchState(ctx, d.SourceRecordID, record.StateUnmatched, nil); err != nil {
			return fmt.Errorf("failed to release ambiguous record: %w", err)
		}
	}
	return s.repo.Close(ctx, a.ID, StatusDismissed, note)
}

func (s *Service) resolveAmbiguous(ctx context.Context, a *Anomaly, params ResolveParams) error {
	if params.TransactionID == nil || *params.TransactionID == "" {
		return ErrChoiceRequired
	}
	d, err := a.Ambiguous()
	if err != nil {
		return err
	}
	chosen := *params.TransactionID
	found := false
	for _, c := range d.CandidateIDs {
		if c == chosen {
			found = true
			break
		}
	}
	if !found {
		return ErrChoiceNotCandidate
	}

	if _, err := s.matches.CreateMatch(ctx, ledger.CreateMatchParams{
		SourceRecordID: d.SourceRecordID,
		TransactionID:  chosen,
		Rule:           ledger.RuleManual,
		Confidence:     1.0,
	}); err != nil {
		return fmt.Errorf("failed to create manual match: %w", err)
	}
	if err := s.records.SetMatchState(ctx, d.SourceRecordID, record.StateMatched, &chosen); err != nil {
		return fmt.Errorf("failed to update record state: %w", err)
	}
	return nil
}
