package matching

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tally/internal/domain/directdebit"
	"tally/internal/domain/ledger"
	"tally/internal/domain/record"
)

// Config carries the matching thresholds. All of them are deployment
// configuration, not constants: tolerances that fit one bank feed are wrong
// for another.
type Config struct {
	DateWindowDays            int
	MarketplaceDateWindowDays int
	AmountTolerance           decimal.Decimal
	AmountTolerancePct        decimal.Decimal // percent of the amount
	SimilarityThreshold       float64
}

// MappingLookup resolves a user's active direct-debit mapping for a
// normalized merchant. *directdebit.Service implements it.
type MappingLookup interface {
	Lookup(ctx context.Context, userID int64, normalizedMerchant string) (*directdebit.Mapping, error)
}

// AnomalySink receives ambiguity findings for the review queue.
type AnomalySink interface {
	AmbiguousMatch(ctx context.Context, userID int64, recordID string, candidateIDs []string) error
}

// Outcome reports what Match did with one record.
type Outcome struct {
	State         string
	TransactionID string
	Rule          string
	Confidence    float64
	Created       bool     // a transaction was created by this call
	CandidateIDs  []string // populated when State is ambiguous
}

// Engine runs the match cascade: replay, direct-debit pin, fuzzy, then seed
// or park. Matching the same record twice is a no-op.
type Engine struct {
	records   record.Repository
	ledger    ledger.Repository
	mappings  MappingLookup
	anomalies AnomalySink
	cfg       Config
}

func NewEngine(records record.Repository, ledgerRepo ledger.Repository, mappings MappingLookup, anomalies AnomalySink, cfg Config) *Engine {
	return &Engine{
		records:   records,
		ledger:    ledgerRepo,
		mappings:  mappings,
		anomalies: anomalies,
		cfg:       cfg,
	}
}

// Match runs the cascade for one record and applies its side effects: the
// match row, the record's match state, and any created transaction.
func (e *Engine) Match(ctx context.Context, rec *record.SourceRecord) (*Outcome, error) {
	// Replay: a record already matched keeps its link, whatever the rules
	// would say today.
	existing, err := e.ledger.GetMatchByRecord(ctx, rec.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up existing match: %w", err)
	}
	if existing != nil {
		return &Outcome{
			State:         record.StateMatched,
			TransactionID: existing.TransactionID,
			Rule:          existing.Rule,
			Confidence:    existing.Confidence,
		}, nil
	}

	// Ambiguity is resolved by people, not by re-running the engine.
	if rec.MatchState == record.StateAmbiguous {
		return &Outcome{State: record.StateAmbiguous}, nil
	}

	mapping, err := e.mappings.Lookup(ctx, rec.UserID, rec.NormalizedMerchant)
	if err != nil {
		return nil, fmt.Errorf("failed to look up direct-debit mapping: %w", err)
	}
	if mapping != nil {
		return e.matchPinned(ctx, rec, mapping)
	}

	outcome, err := e.matchFuzzy(ctx, rec)
	if err != nil {
		return nil, err
	}
	if outcome != nil {
		return outcome, nil
	}

	if rec.SourceType == record.SourceBank {
		return e.seed(ctx, rec, displayMerchant(rec), nil, nil, ledger.RuleExactID)
	}

	// Non-bank records never create transactions; they wait for the bank
	// side to arrive.
	return &Outcome{State: record.StateUnmatched}, nil
}

// matchPinned handles records whose merchant has an active direct-debit
// mapping: full confidence, no fuzzy scoring.
func (e *Engine) matchPinned(ctx context.Context, rec *record.SourceRecord, mapping *directdebit.Mapping) (*Outcome, error) {
	if rec.SourceType == record.SourceBank {
		return e.seed(ctx, rec, mapping.PayeeName, &mapping.Category, mapping.Subcategory, ledger.RuleDirectDebit)
	}

	// Annotating records attach to the nearest-dated transaction created
	// through the same mapping, within the source's date window.
	candidates, err := e.ledger.ListByMappedMerchant(ctx, rec.UserID, rec.NormalizedMerchant)
	if err != nil {
		return nil, fmt.Errorf("failed to list mapped transactions: %w", err)
	}

	window := e.window(rec)
	recDay := dateOf(rec.OccurredAt)
	var best *ledger.Transaction
	bestDays := window + 1
	for _, cand := range candidates {
		days := dayDistance(recDay, cand.OccurredOn)
		if days < bestDays {
			best = cand
			bestDays = days
		}
	}
	if best == nil {
		return &Outcome{State: record.StateUnmatched}, nil
	}

	if err := e.link(ctx, rec, best.ID, ledger.RuleDirectDebit, 1.0); err != nil {
		return nil, err
	}
	return &Outcome{
		State:         record.StateMatched,
		TransactionID: best.ID,
		Rule:          ledger.RuleDirectDebit,
		Confidence:    1.0,
	}, nil
}

// matchFuzzy scans candidates by amount, date and merchant similarity.
// Returns nil when nothing qualifies so the cascade can fall through.
func (e *Engine) matchFuzzy(ctx context.Context, rec *record.SourceRecord) (*Outcome, error) {
	if rec.NormalizedMerchant == "" {
		return nil, nil
	}

	window := e.window(rec)
	abs := rec.Amount.Abs()
	tol := e.amountTolerance(abs)
	recDay := dateOf(rec.OccurredAt)

	q := ledger.CandidateQuery{
		UserID:    rec.UserID,
		Direction: directionOf(rec),
		Currency:  rec.Currency,
		From:      recDay.AddDate(0, 0, -window),
		To:        recDay.AddDate(0, 0, window),
		AmountMin: abs.Sub(tol),
		AmountMax: abs.Add(tol),
	}
	candidates, err := e.ledger.ListCandidates(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list match candidates: %w", err)
	}

	type scored struct {
		txn *ledger.Transaction
		sim float64
	}
	var qualified []scored
	for _, cand := range candidates {
		sim := Similarity(rec.NormalizedMerchant, strings.ToLower(cand.DisplayMerchant))
		if sim < e.cfg.SimilarityThreshold {
			continue
		}
		if rec.SourceType == record.SourceBank {
			// A transaction's amount comes from exactly one bank record.
			taken, err := e.ledger.HasBankSource(ctx, cand.ID)
			if err != nil {
				return nil, fmt.Errorf("failed to check bank source: %w", err)
			}
			if taken {
				continue
			}
		}
		qualified = append(qualified, scored{txn: cand, sim: sim})
	}

	switch len(qualified) {
	case 0:
		return nil, nil
	case 1:
		hit := qualified[0]
		confidence := e.confidence(hit.sim, dayDistance(recDay, hit.txn.OccurredOn), window)
		if err := e.link(ctx, rec, hit.txn.ID, ledger.RuleFuzzy, confidence); err != nil {
			return nil, err
		}
		return &Outcome{
			State:         record.StateMatched,
			TransactionID: hit.txn.ID,
			Rule:          ledger.RuleFuzzy,
			Confidence:    confidence,
		}, nil
	default:
		// Two or more plausible targets: surface, never guess.
		ids := make([]string, len(qualified))
		for i, s := range qualified {
			ids[i] = s.txn.ID
		}
		if err := e.records.SetMatchState(ctx, rec.ID, record.StateAmbiguous, nil); err != nil {
			return nil, fmt.Errorf("failed to mark record ambiguous: %w", err)
		}
		if err := e.anomalies.AmbiguousMatch(ctx, rec.UserID, rec.ID, ids); err != nil {
			return nil, fmt.Errorf("failed to queue ambiguity: %w", err)
		}
		return &Outcome{State: record.StateAmbiguous, CandidateIDs: ids}, nil
	}
}

// seed creates a transaction from a bank record and links the record to it
// at full confidence.
func (e *Engine) seed(ctx context.Context, rec *record.SourceRecord, display string, category, subcategory *string, rule string) (*Outcome, error) {
	if rec.AccountID == nil {
		return nil, fmt.Errorf("bank record %s has no account", rec.ID)
	}

	txn, err := e.ledger.CreateTransaction(ctx, ledger.CreateTransactionParams{
		UserID:          rec.UserID,
		AccountID:       *rec.AccountID,
		Amount:          rec.Amount.Abs(),
		Direction:       directionOf(rec),
		Currency:        rec.Currency,
		OccurredOn:      dateOf(rec.OccurredAt),
		DisplayMerchant: display,
		Category:        category,
		Subcategory:     subcategory,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}

	if err := e.link(ctx, rec, txn.ID, rule, 1.0); err != nil {
		return nil, err
	}
	return &Outcome{
		State:         record.StateMatched,
		TransactionID: txn.ID,
		Rule:          rule,
		Confidence:    1.0,
		Created:       true,
	}, nil
}

func (e *Engine) link(ctx context.Context, rec *record.SourceRecord, transactionID, rule string, confidence float64) error {
	if _, err := e.ledger.CreateMatch(ctx, ledger.CreateMatchParams{
		SourceRecordID: rec.ID,
		TransactionID:  transactionID,
		Rule:           rule,
		Confidence:     confidence,
	}); err != nil {
		return fmt.Errorf("failed to create match: %w", err)
	}
	if err := e.records.SetMatchState(ctx, rec.ID, record.StateMatched, &transactionID); err != nil {
		return fmt.Errorf("failed to update record state: %w", err)
	}
	return nil
}

// window returns the date window in days for a record's source. Marketplace
// orders settle late, so they get the wider window.
func (e *Engine) window(rec *record.SourceRecord) int {
	if rec.SourceType == record.SourceMarketplace {
		return e.cfg.MarketplaceDateWindowDays
	}
	return e.cfg.DateWindowDays
}

// amountTolerance is the larger of the absolute and the percentage
// tolerance, so small amounts keep a workable floor and large amounts absorb
// rounding and FX drift.
func (e *Engine) amountTolerance(abs decimal.Decimal) decimal.Decimal {
	pct := abs.Mul(e.cfg.AmountTolerancePct).Div(decimal.NewFromInt(100))
	if pct.GreaterThan(e.cfg.AmountTolerance) {
		return pct
	}
	return e.cfg.AmountTolerance
}

// confidence scales merchant similarity by date proximity. Same-day keeps
// the full similarity; the edge of the window keeps 80% of it.
func (e *Engine) confidence(sim float64, days, window int) float64 {
	proximity := 1 - float64(days)/float64(window+1)
	c := sim * (0.8 + 0.2*proximity)
	if c > 1 {
		c = 1
	}
	return c
}

func directionOf(rec *record.SourceRecord) string {
	if rec.Amount.IsNegative() {
		return ledger.DirectionDebit
	}
	return ledger.DirectionCredit
}

func displayMerchant(rec *record.SourceRecord) string {
	if rec.NormalizedMerchant != "" {
		return rec.NormalizedMerchant
	}
	if trimmed := strings.TrimSpace(rec.RawMerchant); trimmed != "" {
		return trimmed
	}
	return "unknown"
}

// dateOf truncates a timestamp to its UTC date.
func dateOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

func dayDistance(a, b time.Time) int {
	d := int(dateOf(a).Sub(dateOf(b)).Hours() / 24)
	if d < 0 {
		d = -d
	}
	return d
}
