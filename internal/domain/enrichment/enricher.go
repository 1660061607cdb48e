package enrichment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"tally/internal/domain/ledger"
	"tally/internal/domain/merchant"
)

// Classifier is the external categorization collaborator. Implementations
// live outside this package; the enricher only needs the call.
type Classifier interface {
	Classify(ctx context.Context, input ClassifyInput) (*Classification, error)
}

// ClassifyInput describes one transaction to the classifier.
type ClassifyInput struct {
	Merchant  string
	Amount    decimal.Decimal
	Direction string
}

// Classification is the classifier's verdict. Model names the upstream
// model so provisional categories can be audited later.
type Classification struct {
	Category    string
	Subcategory *string
	Model       string
	Confidence  float64
}

// TransactionWriter persists enrichment outcomes.
type TransactionWriter interface {
	UpdateEnrichment(ctx context.Context, id string, category, subcategory *string, status string, meta *ledger.EnrichmentMeta) error
}

// Result reports what the enricher decided for one transaction.
type Result struct {
	Category    *string
	Subcategory *string
	Status      string
	Meta        *ledger.EnrichmentMeta
	Changed     bool
}

// Enricher assigns categories: the user's rules first, then global rules,
// first match in priority order wins; otherwise the classifier gets a shot
// and its answer is stored as provisional. A nil classifier is fine.
type Enricher struct {
	rules      Repository
	writer     TransactionWriter
	classifier Classifier
}

// NewEnricher creates a new enricher
func NewEnricher(rules Repository, writer TransactionWriter, classifier Classifier) *Enricher {
	return &Enricher{rules: rules, writer: writer, classifier: classifier}
}

// Enrich categorizes one transaction and persists the outcome when it
// differs from what is already stored. Re-running over an unchanged
// transaction is a no-op, so enrichment is safe to repeat after partial
// sync failures.
func (e *Enricher) Enrich(ctx context.Context, txn *ledger.Transaction) (*Result, error) {
	normalized := merchant.Normalize(txn.DisplayMerchant)

	result, err := e.decide(ctx, txn, normalized)
	if err != nil {
		return nil, err
	}

	if !changed(txn, result) {
		result.Changed = false
		return result, nil
	}

	result.Changed = true
	if err := e.writer.UpdateEnrichment(ctx, txn.ID, result.Category, result.Subcategory, result.Status, result.Meta); err != nil {
		return nil, fmt.Errorf("failed to store enrichment: %w", err)
	}
	return result, nil
}

func (e *Enricher) decide(ctx context.Context, txn *ledger.Transaction, normalized string) (*Result, error) {
	rules, err := e.rules.ListForUser(ctx, txn.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to list category rules: %w", err)
	}

	for _, rule := range rules {
		if rule.Matches(normalized, txn.Amount, txn.Direction) {
			return &Result{
				Category:    &rule.Category,
				Subcategory: rule.Subcategory,
				Status:      ledger.EnrichmentRule,
				Meta: &ledger.EnrichmentMeta{
					Source:    SourceRule,
					RuleID:    &rule.ID,
					AppliedAt: time.Now().UTC(),
				},
			}, nil
		}
	}

	if e.classifier == nil {
		return &Result{Status: ledger.EnrichmentUnclassified}, nil
	}

	classification, err := e.classifier.Classify(ctx, ClassifyInput{
		Merchant:  normalized,
		Amount:    txn.Amount,
		Direction: txn.Direction,
	})
	if err != nil {
		// The classifier is best-effort; the transaction just stays
		// unclassified until the next pass.
		log.Warn().Err(err).Str("transaction_id", txn.ID).Msg("classification failed")
		return &Result{Status: ledger.EnrichmentUnclassified}, nil
	}
	if classification == nil || strings.TrimSpace(classification.Category) == "" {
		return &Result{Status: ledger.EnrichmentUnclassified}, nil
	}

	return &Result{
		Category:    &classification.Category,
		Subcategory: classification.Subcategory,
		Status:      ledger.EnrichmentProvisional,
		Meta: &ledger.EnrichmentMeta{
			Source:     SourceClassifier,
			Model:      classification.Model,
			Confidence: &classification.Confidence,
			AppliedAt:  time.Now().UTC(),
		},
	}, nil
}

// changed compares the decided outcome against what the transaction already
// carries. Metadata timestamps are deliberately excluded so a repeat run
// with the same verdict writes nothing.
func changed(txn *ledger.Transaction, r *Result) bool {
	if txn.EnrichmentStatus != r.Status {
		return true
	}
	return !strPtrEqual(txn.Category, r.Category) || !strPtrEqual(txn.Subcategory, r.Subcategory)
}

func strPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
