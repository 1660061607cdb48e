package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"tally/internal/domain/ledger"
	"tally/internal/domain/record"
)

// LedgerRepository implements the ledger.Repository interface for PostgreSQL
type LedgerRepository struct {
	db *DB
}

// NewLedgerRepository creates a new PostgreSQL ledger repository
func NewLedgerRepository(db *DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

const transactionColumns = `id, user_id, account_id, amount, direction, currency, occurred_on,
	       display_merchant, category, subcategory, enrichment_status, enrichment, created_at, updated_at`

func (r *LedgerRepository) CreateTransaction(ctx context.Context, params ledger.CreateTransactionParams) (*ledger.Transaction, error) {
	query := `
		INSERT INTO transactions (id, user_id, account_id, amount, direction, currency, occurred_on, display_merchant, category, subcategory, enrichment_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING ` + transactionColumns

	id := uuid.New().String()
	row := r.db.QueryRowContext(ctx, query,
		id, params.UserID, params.AccountID, params.Amount, params.Direction,
		params.Currency, params.OccurredOn, params.DisplayMerchant,
		params.Category, params.Subcategory, ledger.EnrichmentUnclassified,
	)

	var txn ledger.Transaction
	if err := scanTransactionInto(row, &txn); err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}
	return &txn, nil
}

func (r *LedgerRepository) GetTransaction(ctx context.Context, id string) (*ledger.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE id = $1
	`

	var txn ledger.Transaction
	err := scanTransactionInto(r.db.QueryRowContext(ctx, query, id), &txn)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}

	return &txn, nil
}

func (r *LedgerRepository) ListTransactions(ctx context.Context, q ledger.TransactionQuery) ([]*ledger.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE user_id = $1
	`
	args := []any{q.UserID}
	argIndex := 2

	if q.AccountID != nil {
		query += fmt.Sprintf(" AND account_id = $%d", argIndex)
		args = append(args, *q.AccountID)
		argIndex++
	}
	if q.Category != nil {
		query += fmt.Sprintf(" AND category = $%d", argIndex)
		args = append(args, *q.Category)
		argIndex++
	}
	if q.Direction != nil {
		query += fmt.Sprintf(" AND direction = $%d", argIndex)
		args = append(args, *q.Direction)
		argIndex++
	}
	if q.From != nil {
		query += fmt.Sprintf(" AND occurred_on >= $%d", argIndex)
		args = append(args, *q.From)
		argIndex++
	}
	if q.To != nil {
		query += fmt.Sprintf(" AND occurred_on <= $%d", argIndex)
		args = append(args, *q.To)
		argIndex++
	}

	query += " ORDER BY occurred_on DESC, created_at DESC"

	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIndex)
		args = append(args, q.Limit)
		argIndex++
	}
	if q.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIndex)
		args = append(args, q.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	return scanTransactions(rows)
}

func (r *LedgerRepository) ListCandidates(ctx context.Context, q ledger.CandidateQuery) ([]*ledger.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE user_id = $1
		  AND direction = $2
		  AND currency = $3
		  AND occurred_on BETWEEN $4 AND $5
		  AND amount BETWEEN $6 AND $7
		ORDER BY occurred_on, created_at
	`

	rows, err := r.db.QueryContext(ctx, query,
		q.UserID, q.Direction, q.Currency, q.From, q.To, q.AmountMin, q.AmountMax,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list candidate transactions: %w", err)
	}
	defer rows.Close()

	return scanTransactions(rows)
}

func (r *LedgerRepository) ListByAccountOrdered(ctx context.Context, accountID string) ([]*ledger.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE account_id = $1
		ORDER BY occurred_on, created_at
	`

	rows, err := r.db.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list account transactions: %w", err)
	}
	defer rows.Close()

	return scanTransactions(rows)
}

// ListByMappedMerchant finds transactions attached through a direct-debit
// match whose source record carries the given normalized merchant.
func (r *LedgerRepository) ListByMappedMerchant(ctx context.Context, userID int64, normalizedMerchant string) ([]*ledger.Transaction, error) {
	query := `
		SELECT DISTINCT t.id, t.user_id, t.account_id, t.amount, t.direction, t.currency, t.occurred_on,
		       t.display_merchant, t.category, t.subcategory, t.enrichment_status, t.enrichment, t.created_at, t.updated_at
		FROM transactions t
		JOIN matches m ON m.transaction_id = t.id AND m.rule = $3
		JOIN source_records sr ON sr.id = m.source_record_id
		WHERE t.user_id = $1 AND sr.normalized_merchant = $2
		ORDER BY t.occurred_on DESC, t.created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, userID, normalizedMerchant, ledger.RuleDirectDebit)
	if err != nil {
		return nil, fmt.Errorf("failed to list mapped transactions: %w", err)
	}
	defer rows.Close()

	return scanTransactions(rows)
}

func (r *LedgerRepository) UpdateEnrichment(ctx context.Context, id string, category, subcategory *string, status string, meta *ledger.EnrichmentMeta) error {
	var metaJSON []byte
	if meta != nil {
		var err error
		metaJSON, err = json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("failed to marshal enrichment meta: %w", err)
		}
	}

	query := `
		UPDATE transactions
		SET category = $2, subcategory = $3, enrichment_status = $4, enrichment = $5, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query, id, category, subcategory, status, metaJSON)
	if err != nil {
		return fmt.Errorf("failed to update enrichment: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return ledger.ErrTransactionNotFound
	}

	return nil
}

func (r *LedgerRepository) CreateMatch(ctx context.Context, params ledger.CreateMatchParams) (*ledger.Match, error) {
	query := `
		INSERT INTO matches (id, source_record_id, transaction_id, rule, confidence)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, source_record_id, transaction_id, rule, confidence, created_at
	`

	var m ledger.Match
	id := uuid.New().String()
	err := r.db.QueryRowContext(ctx, query,
		id, params.SourceRecordID, params.TransactionID, params.Rule, params.Confidence,
	).Scan(
		&m.ID, &m.SourceRecordID, &m.TransactionID, &m.Rule, &m.Confidence, &m.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create match: %w", err)
	}

	return &m, nil
}

func (r *LedgerRepository) GetMatchByRecord(ctx context.Context, sourceRecordID string) (*ledger.Match, error) {
	query := `
		SELECT id, source_record_id, transaction_id, rule, confidence, created_at
		FROM matches
		WHERE source_record_id = $1
	`

	var m ledger.Match
	err := r.db.QueryRowContext(ctx, query, sourceRecordID).Scan(
		&m.ID, &m.SourceRecordID, &m.TransactionID, &m.Rule, &m.Confidence, &m.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get match by record: %w", err)
	}

	return &m, nil
}

func (r *LedgerRepository) ListMatchesByTransaction(ctx context.Context, transactionID string) ([]*ledger.Match, error) {
	query := `
		SELECT id, source_record_id, transaction_id, rule, confidence, created_at
		FROM matches
		WHERE transaction_id = $1
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, query, transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list matches: %w", err)
	}
	defer rows.Close()

	var matches []*ledger.Match
	for rows.Next() {
		var m ledger.Match
		err := rows.Scan(&m.ID, &m.SourceRecordID, &m.TransactionID, &m.Rule, &m.Confidence, &m.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		matches = append(matches, &m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating matches: %w", err)
	}

	return matches, nil
}

func (r *LedgerRepository) HasBankSource(ctx context.Context, transactionID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1
			FROM matches m
			JOIN source_records sr ON sr.id = m.source_record_id
			WHERE m.transaction_id = $1 AND sr.source_type = $2
		)
	`

	var exists bool
	err := r.db.QueryRowContext(ctx, query, transactionID, record.SourceBank).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check bank source: %w", err)
	}

	return exists, nil
}

func (r *LedgerRepository) ListTransactionSources(ctx context.Context, accountID string) ([]*ledger.TransactionSources, error) {
	query := `
		SELECT t.id, t.amount, t.direction, t.occurred_on,
		       COALESCE(array_agg(sr.external_id) FILTER (WHERE sr.id IS NOT NULL), '{}')
		FROM transactions t
		LEFT JOIN matches m ON m.transaction_id = t.id
		LEFT JOIN source_records sr ON sr.id = m.source_record_id
		WHERE t.account_id = $1
		GROUP BY t.id, t.amount, t.direction, t.occurred_on, t.created_at
		ORDER BY t.occurred_on, t.created_at
	`

	rows, err := r.db.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transaction sources: %w", err)
	}
	defer rows.Close()

	var sources []*ledger.TransactionSources
	for rows.Next() {
		var ts ledger.TransactionSources
		err := rows.Scan(&ts.TransactionID, &ts.Amount, &ts.Direction, &ts.OccurredOn, pq.Array(&ts.ExternalIDs))
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction sources: %w", err)
		}
		sources = append(sources, &ts)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transaction sources: %w", err)
	}

	return sources, nil
}

func scanTransactionInto(row connectionScanner, txn *ledger.Transaction) error {
	var category, subcategory sql.NullString
	var enrichment []byte

	err := row.Scan(
		&txn.ID, &txn.UserID, &txn.AccountID, &txn.Amount, &txn.Direction,
		&txn.Currency, &txn.OccurredOn, &txn.DisplayMerchant,
		&category, &subcategory, &txn.EnrichmentStatus, &enrichment,
		&txn.CreatedAt, &txn.UpdatedAt,
	)
	if err != nil {
		return err
	}

	if category.Valid {
		txn.Category = &category.String
	}
	if subcategory.Valid {
		txn.Subcategory = &subcategory.String
	}
	if len(enrichment) > 0 {
		var meta ledger.EnrichmentMeta
		if err := json.Unmarshal(enrichment, &meta); err != nil {
			return fmt.Errorf("failed to decode enrichment meta: %w", err)
		}
		txn.Enrichment = &meta
	}

	return nil
}

func scanTransactions(rows *sql.Rows) ([]*ledger.Transaction, error) {
	var txns []*ledger.Transaction
	for rows.Next() {
		var txn ledger.Transaction
		if err := scanTransactionInto(rows, &txn); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txns = append(txns, &txn)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}

	return txns, nil
}
