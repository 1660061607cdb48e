package anomaly

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"tally/internal/domain/ledger"
	"tally/internal/domain/record"
)

// MockAnomalyRepo implements Repository for testing
type MockAnomalyRepo struct {
	CreateFunc    func(ctx context.Context, params CreateParams) (*Anomaly, bool, error)
	GetByIDFunc   func(ctx context.Context, id string) (*Anomaly, error)
	ListFunc      func(ctx context.Context, q Query) ([]*Anomaly, error)
	CountOpenFunc func(ctx context.Context, userID int64) (int, error)
	CloseFunc     func(ctx context.Context, id string, status string, resolution *string) error
}

func (m *MockAnomalyRepo) Create(ctx context.Context, params CreateParams) (*Anomaly, bool, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, params)
	}
	return &Anomaly{ID: "a-1", UserID: params.UserID, Kind: params.Kind, Status: StatusOpen}, true, nil
}
func (m *MockAnomalyRepo) GetByID(ctx context.Context, id string) (*Anomaly, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, nil
}
func (m *MockAnomalyRepo) List(ctx context.Context, q Query) ([]*Anomaly, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, q)
	}
	return nil, nil
}
func (m *MockAnomalyRepo) CountOpen(ctx context.Context, userID int64) (int, error) {
	if m.CountOpenFunc != nil {
		return m.CountOpenFunc(ctx, userID)
	}
	return 0, nil
}
func (m *MockAnomalyRepo) Close(ctx context.Context, id string, status string, resolution *string) error {
	if m.CloseFunc != nil {
		return m.CloseFunc(ctx, id, status, resolution)
	}
	return nil
}

// MockMatchWriter implements MatchWriter for testing
type MockMatchWriter struct {
	CreateMatchFunc func(ctx context.Context, params ledger.CreateMatchParams) (*ledger.Match, error)
}

func (m *MockMatchWriter) CreateMatch(ctx context.Context, params ledger.CreateMatchParams) (*ledger.Match, error) {
	if m.CreateMatchFunc != nil {
		return m.CreateMatchFunc(ctx, params)
	}
	return &ledger.Match{}, nil
}

// MockRecordStateWriter implements RecordStateWriter for testing
type MockRecordStateWriter struct {
	SetMatchStateFunc func(ctx context.Context, id string, state string, transactionID *string) error
}

func (m *MockRecordStateWriter) SetMatchState(ctx context.Context, id string, state string, transactionID *string) error {
	if m.SetMatchStateFunc != nil {
		return m.SetMatchStateFunc(ctx, id, state, transactionID)
	}
	return nil
}

func ambiguousAnomaly(t *testing.T, id string, userID int64, recordID string, candidates []string) *Anomaly {
	t.Helper()
	raw, err := json.Marshal(AmbiguousDetails{SourceRecordID: recordID, CandidateIDs: candidates})
	if err != nil {
		t.Fatal(err)
	}
	return &Anomaly{ID: id, UserID: userID, Kind: KindAmbiguousMatch, Status: StatusOpen, Details: raw}
}

func TestAmbiguousMatch_FingerprintPerRecord(t *testing.T) {
	var got CreateParams
	repo := &MockAnomalyRepo{
		CreateFunc: func(ctx context.Context, params CreateParams) (*Anomaly, bool, error) {
			got = params
			return &Anomaly{ID: "a-1"}, true, nil
		},
	}
	service := NewService(repo, &MockMatchWriter{}, &MockRecordStateWriter{})

	err := service.AmbiguousMatch(context.Background(), 1, "rec-9", []string{"txn-1", "txn-2"})
	if err != nil {
		t.Fatalf("AmbiguousMatch() error: %v", err)
	}

	if got.Kind != KindAmbiguousMatch {
		t.Errorf("Kind = %q, want ambiguous_match", got.Kind)
	}
	if got.Fingerprint != Fingerprint(KindAmbiguousMatch, "rec-9") {
		t.Errorf("Fingerprint = %q, want record-scoped", got.Fingerprint)
	}
	d, ok := got.Details.(AmbiguousDetails)
	if !ok {
		t.Fatalf("Details = %T, want AmbiguousDetails", got.Details)
	}
	if d.SourceRecordID != "rec-9" || len(d.CandidateIDs) != 2 {
		t.Errorf("Details = %+v, want record and both candidates", d)
	}
}

func TestBalanceDrift_ComputesDelta(t *testing.T) {
	var got CreateParams
	repo := &MockAnomalyRepo{
		CreateFunc: func(ctx context.Context, params CreateParams) (*Anomaly, bool, error) {
			got = params
			return &Anomaly{ID: "a-1"}, true, nil
		},
	}
	service := NewService(repo, &MockMatchWriter{}, &MockRecordStateWriter{})

	reported := decimal.RequireFromString("920.00")
	computed := decimal.RequireFromString("950.00")
	if err := service.BalanceDrift(context.Background(), 1, "acc-1", reported, computed); err != nil {
		t.Fatalf("BalanceDrift() error: %v", err)
	}

	d, ok := got.Details.(DriftDetails)
	if !ok {
		t.Fatalf("Details = %T, want DriftDetails", got.Details)
	}
	if !d.Delta.Equal(decimal.RequireFromString("-30.00")) {
		t.Errorf("Delta = %s, want -30.00", d.Delta)
	}
}

func TestResolve_AmbiguousLinksChosenTransaction(t *testing.T) {
	a := ambiguousAnomaly(t, "a-1", 1, "rec-9", []string{"txn-1", "txn-2"})
	var closedStatus string
	repo := &MockAnomalyRepo{
		GetByIDFunc: func(ctx context.Context, id string) (*Anomaly, error) {
			return a, nil
		},
		CloseFunc: func(ctx context.Context, id, status string, resolution *string) error {
			closedStatus = status
			return nil
		},
	}
	var matchParams ledger.CreateMatchParams
	matches := &MockMatchWriter{
		CreateMatchFunc: func(ctx context.Context, params ledger.CreateMatchParams) (*ledger.Match, error) {
			matchParams = params
			return &ledger.Match{ID: "m-1"}, nil
		},
	}
	var movedTo string
	var movedTxn *string
	records := &MockRecordStateWriter{
		SetMatchStateFunc: func(ctx context.Context, id, state string, txnID *string) error {
			if id != "rec-9" {
				t.Errorf("moved record %q, want rec-9", id)
			}
			movedTo = state
			movedTxn = txnID
			return nil
		},
	}
	service := NewService(repo, matches, records)

	txn := "txn-2"
	_, err := service.Resolve(context.Background(), "a-1", 1, ResolveParams{TransactionID: &txn})
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}

	if matchParams.Rule != ledger.RuleManual {
		t.Errorf("Rule = %q, want manual", matchParams.Rule)
	}
	if matchParams.Confidence != 1.0 {
		t.Errorf("Confidence = %v, want 1.0", matchParams.Confidence)
	}
	if matchParams.TransactionID != "txn-2" {
		t.Errorf("TransactionID = %q, want the chosen txn-2", matchParams.TransactionID)
	}
	if movedTo != record.StateMatched || movedTxn == nil || *movedTxn != "txn-2" {
		t.Errorf("record moved to (%q, %v), want (matched, txn-2)", movedTo, movedTxn)
	}
	if closedStatus != StatusResolved {
		t.Errorf("anomaly closed as %q, want resolved", closedStatus)
	}
}

func TestResolve_AmbiguousRequiresChoice(t *testing.T) {
	a := ambiguousAnomaly(t, "a-1", 1, "rec-9", []string{"txn-1", "txn-2"})
	repo := &MockAnomalyRepo{
		GetByIDFunc: func(ctx context.Context, id string) (*Anomaly, error) { return a, nil },
	}
	service := NewService(repo, &MockMatchWriter{}, &MockRecordStateWriter{})

	_, err := service.Resolve(context.Background(), "a-1", 1, ResolveParams{})
	if !errors.Is(err, ErrChoiceRequired) {
		t.Errorf("expected ErrChoiceRequired, got %v", err)
	}
}

func TestResolve_RejectsNonCandidate(t *testing.T) {
	a := ambiguousAnomaly(t, "a-1", 1, "rec-9", []string{"txn-1", "txn-2"})
	repo := &MockAnomalyRepo{
		GetByIDFunc: func(ctx context.Context, id string) (*Anomaly, error) { return a, nil },
	}
	linkCalls := 0
	matches := &MockMatchWriter{
		CreateMatchFunc: func(ctx context.Context, params ledger.CreateMatchParams) (*ledger.Match, error) {
			linkCalls++
			return &ledger.Match{}, nil
		},
	}
	service := NewService(repo, matches, &MockRecordStateWriter{})

	txn := "txn-99"
	_, err := service.Resolve(context.Background(), "a-1", 1, ResolveParams{TransactionID: &txn})
	if !errors.Is(err, ErrChoiceNotCandidate) {
		t.Errorf("expected ErrChoiceNotCandidate, got %v", err)
	}
	if linkCalls != 0 {
		t.Error("no link may be written for a non-candidate choice")
	}
}

func TestResolve_DismissReleasesRecord(t *testing.T) {
	a := ambiguousAnomaly(t, "a-1", 1, "rec-9", []string{"txn-1", "txn-2"})
	var closedStatus string
	repo := &MockAnomalyRepo{
		GetByIDFunc: func(ctx context.Context, id string) (*Anomaly, error) { return a, nil },
		CloseFunc: func(ctx context.Context, id, status string, resolution *string) error {
			closedStatus = status
			return nil
		},
	}
	var movedTo string
	records := &MockRecordStateWriter{
		SetMatchStateFunc: func(ctx context.Context, id, state string, txnID *string) error {
			movedTo = state
			if txnID != nil {
				t.Error("released record must not point at a transaction")
			}
			return nil
		},
	}
	service := NewService(repo, &MockMatchWriter{}, records)

	_, err := service.Resolve(context.Background(), "a-1", 1, ResolveParams{Dismiss: true})
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if movedTo != record.StateUnmatched {
		t.Errorf("record moved to %q, want unmatched", movedTo)
	}
	if closedStatus != StatusDismissed {
		t.Errorf("anomaly closed as %q, want dismissed", closedStatus)
	}
}

func TestResolve_ChecksOwnership(t *testing.T) {
	a := ambiguousAnomaly(t, "a-1", 7, "rec-9", []string{"txn-1"})
	repo := &MockAnomalyRepo{
		GetByIDFunc: func(ctx context.Context, id string) (*Anomaly, error) { return a, nil },
	}
	service := NewService(repo, &MockMatchWriter{}, &MockRecordStateWriter{})

	txn := "txn-1"
	_, err := service.Resolve(context.Background(), "a-1", 1, ResolveParams{TransactionID: &txn})
	if !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
}

func TestResolve_ClosedAnomalyRejected(t *testing.T) {
	a := ambiguousAnomaly(t, "a-1", 1, "rec-9", []string{"txn-1"})
	a.Status = StatusResolved
	repo := &MockAnomalyRepo{
		GetByIDFunc: func(ctx context.Context, id string) (*Anomaly, error) { return a, nil },
	}
	service := NewService(repo, &MockMatchWriter{}, &MockRecordStateWriter{})

	txn := "txn-1"
	_, err := service.Resolve(context.Background(), "a-1", 1, ResolveParams{TransactionID: &txn})
	if !errors.Is(err, ErrAnomalyClosed) {
		t.Errorf("expected ErrAnomalyClosed, got %v", err)
	}
}

func TestList_ValidatesFilters(t *testing.T) {
	service := NewService(&MockAnomalyRepo{}, &MockMatchWriter{}, &MockRecordStateWriter{})

	bad := "sideways"
	_, err := service.List(context.Background(), Query{UserID: 1, Status: &bad})
	if !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("expected ErrInvalidStatus, got %v", err)
	}

	_, err = service.List(context.Background(), Query{UserID: 0})
	if err == nil {
		t.Error("expected error for missing user ID")
	}
}

func TestList_ClampsPaging(t *testing.T) {
	var got Query
	repo := &MockAnomalyRepo{
		ListFunc: func(ctx context.Context, q Query) ([]*Anomaly, error) {
			got = q
			return nil, nil
		},
	}
	service := NewService(repo, &MockMatchWriter{}, &MockRecordStateWriter{})

	if _, err := service.List(context.Background(), Query{UserID: 1, Limit: 10000, Offset: -5}); err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if got.Limit != maxPageSize {
		t.Errorf("Limit = %d, want clamped to %d", got.Limit, maxPageSize)
	}
	if got.Offset != 0 {
		t.Errorf("Offset = %d, want 0", got.Offset)
	}
}

func TestFingerprint_OrderInsensitive(t *testing.T) {
	a := Fingerprint(KindDuplicateTransaction, "txn-2", "txn-1")
	b := Fingerprint(KindDuplicateTransaction, "txn-1", "txn-2")
	if a != b {
		t.Errorf("fingerprints differ for the same set: %q vs %q", a, b)
	}
}
