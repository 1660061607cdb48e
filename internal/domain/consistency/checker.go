package consistency

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"tally/internal/domain/connection"
	"tally/internal/domain/ledger"
)

// LedgerReader provides the transaction history the checker replays.
type LedgerReader interface {
	ListByAccountOrdered(ctx context.Context, accountID string) ([]*ledger.Transaction, error)
	ListTransactionSources(ctx context.Context, accountID string) ([]*ledger.TransactionSources, error)
}

// AnomalySink receives the checker's findings.
type AnomalySink interface {
	BalanceDrift(ctx context.Context, userID int64, accountID string, reported, computed decimal.Decimal) error
	DuplicateTransaction(ctx context.Context, userID int64, accountID string, transactionIDs []string) error
}

// Config carries the checker's thresholds.
type Config struct {
	// BalanceTolerance absorbs pending-transaction noise between the
	// provider's reported balance and our replayed one.
	BalanceTolerance decimal.Decimal
}

// Report summarizes one account check.
type Report struct {
	AccountID  string
	Computed   decimal.Decimal
	Reported   decimal.Decimal
	Drift      bool
	Duplicates [][]string
}

// Checker validates an account's ledger after a matching pass. It only ever
// writes anomalies; the ledger itself is never corrected from here.
type Checker struct {
	ledger    LedgerReader
	anomalies AnomalySink
	cfg       Config
}

// NewChecker creates a new consistency checker
func NewChecker(ledgerReader LedgerReader, anomalies AnomalySink, cfg Config) *Checker {
	return &Checker{ledger: ledgerReader, anomalies: anomalies, cfg: cfg}
}

// CheckAccount replays the account's transaction history against the
// reported balance and scans for duplicate transactions.
func (c *Checker) CheckAccount(ctx context.Context, userID int64, account *connection.Account) (*Report, error) {
	report := &Report{AccountID: account.ID, Reported: account.ReportedBalance}

	txns, err := c.ledger.ListByAccountOrdered(ctx, account.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list account transactions: %w", err)
	}

	computed := decimal.Zero
	for _, txn := range txns {
		if txn.Direction == ledger.DirectionCredit {
			computed = computed.Add(txn.Amount)
		} else {
			computed = computed.Sub(txn.Amount)
		}
	}
	report.Computed = computed

	if account.ReportedBalance.Sub(computed).Abs().GreaterThan(c.cfg.BalanceTolerance) {
		report.Drift = true
		if err := c.anomalies.BalanceDrift(ctx, userID, account.ID, account.ReportedBalance, computed); err != nil {
			return nil, fmt.Errorf("failed to flag balance drift: %w", err)
		}
	}

	sources, err := c.ledger.ListTransactionSources(ctx, account.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transaction sources: %w", err)
	}
	report.Duplicates = duplicateGroups(sources)
	for _, group := range report.Duplicates {
		if err := c.anomalies.DuplicateTransaction(ctx, userID, account.ID, group); err != nil {
			return nil, fmt.Errorf("failed to flag duplicate transactions: %w", err)
		}
	}

	return report, nil
}

// duplicateGroups finds sets of transactions that look like one purchase
// stored twice: identical amount, direction and date, with at least one
// contributing external id in common. Same price at the same shop on the
// same day is a legitimate repeat purchase, so the shared id is what makes
// the call.
func duplicateGroups(sources []*ledger.TransactionSources) [][]string {
	type key struct {
		amount    string
		direction string
		day       string
	}
	buckets := make(map[key][]*ledger.TransactionSources)
	for _, s := range sources {
		k := key{
			amount:    s.Amount.String(),
			direction: s.Direction,
			day:       s.OccurredOn.Format("2006-01-02"),
		}
		buckets[k] = append(buckets[k], s)
	}

	var groups [][]string
	for _, bucket := range buckets {
		if len(bucket) < 2 {
			continue
		}
		groups = append(groups, mergeByExternalID(bucket)...)
	}

	// Map iteration order is random; callers and tests want stable output.
	for _, g := range groups {
		sort.Strings(g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i][0] < groups[j][0] })
	return groups
}

// mergeByExternalID unions bucket members that share an external id and
// returns every union of size two or more.
func mergeByExternalID(bucket []*ledger.TransactionSources) [][]string {
	parent := make([]int, len(bucket))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[rb] = ra
		}
	}

	owner := make(map[string]int)
	for i, s := range bucket {
		for _, ext := range s.ExternalIDs {
			if prev, ok := owner[ext]; ok {
				union(prev, i)
			} else {
				owner[ext] = i
			}
		}
	}

	sets := make(map[int][]string)
	for i, s := range bucket {
		root := find(i)
		sets[root] = append(sets[root], s.TransactionID)
	}

	var groups [][]string
	for _, ids := range sets {
		if len(ids) >= 2 {
			groups = append(groups, ids)
		}
	}
	return groups
}
