package ledger

import (
	"context"
)

// Repository defines the interface for transaction and match data access
type Repository interface {
	CreateTransaction(ctx context.Context, params CreateTransactionParams) (*Transaction, error)
	GetTransaction(ctx context.Context, id string) (*Transaction, error)
	ListTransactions(ctx context.Context, q TransactionQuery) ([]*Transaction, error)

	// ListCandidates returns possible fuzzy-match targets inside the date and
	// amount windows, oldest first.
	ListCandidates(ctx context.Context, q CandidateQuery) ([]*Transaction, error)

	// ListByAccountOrdered returns an account's transactions ordered by
	// occurred-on then creation time, for balance replay.
	ListByAccountOrdered(ctx context.Context, accountID string) ([]*Transaction, error)

	// ListByMappedMerchant returns transactions created through a direct-debit
	// mapping for the given user and merchant, newest first.
	ListByMappedMerchant(ctx context.Context, userID int64, normalizedMerchant string) ([]*Transaction, error)

	UpdateEnrichment(ctx context.Context, id string, category, subcategory *string, status string, meta *EnrichmentMeta) error

	CreateMatch(ctx context.Context, params CreateMatchParams) (*Match, error)
	GetMatchByRecord(ctx context.Context, sourceRecordID string) (*Match, error)
	ListMatchesByTransaction(ctx context.Context, transactionID string) ([]*Match, error)

	// HasBankSource reports whether a bank record is already matched into the
	// transaction. The canonical amount is single-sourced, so at most one
	// bank record may contribute.
	HasBankSource(ctx context.Context, transactionID string) (bool, error)

	// ListTransactionSources returns every transaction on the account with
	// the external ids matched into it, for duplicate detection.
	ListTransactionSources(ctx context.Context, accountID string) ([]*TransactionSources, error)
}
