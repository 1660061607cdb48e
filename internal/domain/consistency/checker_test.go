package consistency

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tally/internal/domain/connection"
	"tally/internal/domain/ledger"
)

// MockLedgerReader implements LedgerReader for testing
type MockLedgerReader struct {
	ListByAccountOrderedFunc   func(ctx context.Context, accountID string) ([]*ledger.Transaction, error)
	ListTransactionSourcesFunc func(ctx context.Context, accountID string) ([]*ledger.TransactionSources, error)
}

func (m *MockLedgerReader) ListByAccountOrdered(ctx context.Context, accountID string) ([]*ledger.Transaction, error) {
	if m.ListByAccountOrderedFunc != nil {
		return m.ListByAccountOrderedFunc(ctx, accountID)
	}
	return nil, nil
}
func (m *MockLedgerReader) ListTransactionSources(ctx context.Context, accountID string) ([]*ledger.TransactionSources, error) {
	if m.ListTransactionSourcesFunc != nil {
		return m.ListTransactionSourcesFunc(ctx, accountID)
	}
	return nil, nil
}

// MockAnomalySink implements AnomalySink for testing
type MockAnomalySink struct {
	BalanceDriftFunc         func(ctx context.Context, userID int64, accountID string, reported, computed decimal.Decimal) error
	DuplicateTransactionFunc func(ctx context.Context, userID int64, accountID string, transactionIDs []string) error
}

func (m *MockAnomalySink) BalanceDrift(ctx context.Context, userID int64, accountID string, reported, computed decimal.Decimal) error {
	if m.BalanceDriftFunc != nil {
		return m.BalanceDriftFunc(ctx, userID, accountID, reported, computed)
	}
	return nil
}
func (m *MockAnomalySink) DuplicateTransaction(ctx context.Context, userID int64, accountID string, transactionIDs []string) error {
	if m.DuplicateTransactionFunc != nil {
		return m.DuplicateTransactionFunc(ctx, userID, accountID, transactionIDs)
	}
	return nil
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func txn(id, amount, direction string) *ledger.Transaction {
	return &ledger.Transaction{ID: id, Amount: dec(amount), Direction: direction}
}

func testAccount(balance string) *connection.Account {
	return &connection.Account{ID: "acc-1", ReportedBalance: dec(balance)}
}

func testConfig() Config {
	return Config{BalanceTolerance: dec("0.01")}
}

func TestCheckAccount_BalanceReplay(t *testing.T) {
	history := []*ledger.Transaction{
		txn("t-1", "1000.00", ledger.DirectionCredit),
		txn("t-2", "50.00", ledger.DirectionDebit),
		txn("t-3", "30.00", ledger.DirectionDebit),
	}

	tests := []struct {
		name      string
		reported  string
		wantDrift bool
	}{
		{
			name:      "reported matches replay",
			reported:  "920.00",
			wantDrift: false,
		},
		{
			name:      "reported within tolerance",
			reported:  "920.01",
			wantDrift: false,
		},
		{
			name:      "reported disagrees",
			reported:  "850.00",
			wantDrift: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledgerReader := &MockLedgerReader{
				ListByAccountOrderedFunc: func(ctx context.Context, accountID string) ([]*ledger.Transaction, error) {
					return history, nil
				},
			}
			driftFlagged := false
			sink := &MockAnomalySink{
				BalanceDriftFunc: func(ctx context.Context, userID int64, accountID string, reported, computed decimal.Decimal) error {
					driftFlagged = true
					if !computed.Equal(dec("920.00")) {
						t.Errorf("computed = %s, want 920.00", computed)
					}
					if !reported.Equal(dec(tt.reported)) {
						t.Errorf("reported = %s, want %s", reported, tt.reported)
					}
					return nil
				},
			}
			checker := NewChecker(ledgerReader, sink, testConfig())

			report, err := checker.CheckAccount(context.Background(), 1, testAccount(tt.reported))
			if err != nil {
				t.Fatalf("CheckAccount() error: %v", err)
			}

			if !report.Computed.Equal(dec("920.00")) {
				t.Errorf("report.Computed = %s, want 920.00", report.Computed)
			}
			if report.Drift != tt.wantDrift {
				t.Errorf("report.Drift = %v, want %v", report.Drift, tt.wantDrift)
			}
			if driftFlagged != tt.wantDrift {
				t.Errorf("anomaly flagged = %v, want %v", driftFlagged, tt.wantDrift)
			}
		})
	}
}

func TestCheckAccount_EmptyAccount(t *testing.T) {
	checker := NewChecker(&MockLedgerReader{}, &MockAnomalySink{}, testConfig())

	report, err := checker.CheckAccount(context.Background(), 1, testAccount("0.00"))
	if err != nil {
		t.Fatalf("CheckAccount() error: %v", err)
	}
	if !report.Computed.Equal(decimal.Zero) {
		t.Errorf("Computed = %s, want 0", report.Computed)
	}
	if report.Drift {
		t.Error("empty account with zero balance must not drift")
	}
}

func sourcesRow(txnID, amount, direction, date string, extIDs ...string) *ledger.TransactionSources {
	return &ledger.TransactionSources{
		TransactionID: txnID,
		Amount:        dec(amount),
		Direction:     direction,
		OccurredOn:    day(date),
		ExternalIDs:   extIDs,
	}
}

func TestDuplicateGroups(t *testing.T) {
	tests := []struct {
		name    string
		sources []*ledger.TransactionSources
		want    [][]string
	}{
		{
			name: "shared external id flags the pair",
			sources: []*ledger.TransactionSources{
				sourcesRow("t-1", "9.99", ledger.DirectionDebit, "2025-03-10", "b-1", "r-7"),
				sourcesRow("t-2", "9.99", ledger.DirectionDebit, "2025-03-10", "b-2", "r-7"),
			},
			want: [][]string{{"t-1", "t-2"}},
		},
		{
			name: "same shape without shared id is a repeat purchase",
			sources: []*ledger.TransactionSources{
				sourcesRow("t-1", "3.20", ledger.DirectionDebit, "2025-03-10", "b-1"),
				sourcesRow("t-2", "3.20", ledger.DirectionDebit, "2025-03-10", "b-2"),
			},
			want: nil,
		},
		{
			name: "different dates never group",
			sources: []*ledger.TransactionSources{
				sourcesRow("t-1", "9.99", ledger.DirectionDebit, "2025-03-10", "r-7"),
				sourcesRow("t-2", "9.99", ledger.DirectionDebit, "2025-03-11", "r-7"),
			},
			want: nil,
		},
		{
			name: "different direction never groups",
			sources: []*ledger.TransactionSources{
				sourcesRow("t-1", "9.99", ledger.DirectionDebit, "2025-03-10", "r-7"),
				sourcesRow("t-2", "9.99", ledger.DirectionCredit, "2025-03-10", "r-7"),
			},
			want: nil,
		},
		{
			name: "transitive sharing merges into one group",
			sources: []*ledger.TransactionSources{
				sourcesRow("t-1", "9.99", ledger.DirectionDebit, "2025-03-10", "a"),
				sourcesRow("t-2", "9.99", ledger.DirectionDebit, "2025-03-10", "a", "b"),
				sourcesRow("t-3", "9.99", ledger.DirectionDebit, "2025-03-10", "b"),
			},
			want: [][]string{{"t-1", "t-2", "t-3"}},
		},
		{
			name:    "no sources",
			sources: nil,
			want:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := duplicateGroups(tt.sources)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("duplicateGroups() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCheckAccount_FlagsDuplicates(t *testing.T) {
	ledgerReader := &MockLedgerReader{
		ListTransactionSourcesFunc: func(ctx context.Context, accountID string) ([]*ledger.TransactionSources, error) {
			return []*ledger.TransactionSources{
				sourcesRow("t-1", "9.99", ledger.DirectionDebit, "2025-03-10", "b-1", "r-7"),
				sourcesRow("t-2", "9.99", ledger.DirectionDebit, "2025-03-10", "b-2", "r-7"),
			}, nil
		},
	}
	var flagged []string
	sink := &MockAnomalySink{
		DuplicateTransactionFunc: func(ctx context.Context, userID int64, accountID string, transactionIDs []string) error {
			flagged = transactionIDs
			return nil
		},
	}
	checker := NewChecker(ledgerReader, sink, testConfig())

	report, err := checker.CheckAccount(context.Background(), 1, testAccount("-19.98"))
	if err != nil {
		t.Fatalf("CheckAccount() error: %v", err)
	}
	if len(report.Duplicates) != 1 {
		t.Fatalf("Duplicates = %v, want one group", report.Duplicates)
	}
	if !reflect.DeepEqual(flagged, []string{"t-1", "t-2"}) {
		t.Errorf("flagged = %v, want [t-1 t-2]", flagged)
	}
}
