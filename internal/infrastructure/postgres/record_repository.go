package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"tally/internal/domain/record"
)

// RecordRepository implements the record.Repository interface for PostgreSQL
type RecordRepository struct {
	db *DB
}

// NewRecordRepository creates a new PostgreSQL source record repository
func NewRecordRepository(db *DB) *RecordRepository {
	return &RecordRepository{db: db}
}

const recordColumns = `id, user_id, source_type, external_id, account_id, amount, currency, occurred_at,
	       raw_merchant, normalized_merchant, detail, match_state, transaction_id, ingested_at, updated_at`

// Upsert inserts or refreshes a record keyed by (user, source type, external
// id). Redelivery updates the envelope only; the match columns are owned by
// SetMatchState and survive the refresh.
func (r *RecordRepository) Upsert(ctx context.Context, params record.Upsert) (*record.SourceRecord, bool, error) {
	detail, err := params.MarshalDetail()
	if err != nil {
		return nil, false, err
	}

	query := `
		INSERT INTO source_records (id, user_id, source_type, external_id, account_id, amount, currency, occurred_at, raw_merchant, normalized_merchant, detail, match_state)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (user_id, source_type, external_id) DO UPDATE SET
		    account_id = EXCLUDED.account_id,
		    amount = EXCLUDED.amount,
		    currency = EXCLUDED.currency,
		    occurred_at = EXCLUDED.occurred_at,
		    raw_merchant = EXCLUDED.raw_merchant,
		    normalized_merchant = EXCLUDED.normalized_merchant,
		    detail = EXCLUDED.detail,
		    updated_at = CURRENT_TIMESTAMP
		RETURNING ` + recordColumns + `,
		          (xmax = 0) AS was_inserted
	`

	id := uuid.New().String()
	row := r.db.QueryRowContext(ctx, query,
		id, params.UserID, params.SourceType, params.ExternalID, params.AccountID,
		params.Amount, params.Currency, params.OccurredAt,
		params.RawMerchant, params.NormalizedMerchant, detail, record.StateUnmatched,
	)

	var rec record.SourceRecord
	var wasInserted bool
	if err := scanRecordInto(row, &rec, &wasInserted); err != nil {
		return nil, false, fmt.Errorf("failed to upsert source record: %w", err)
	}

	return &rec, wasInserted, nil
}

func (r *RecordRepository) GetByID(ctx context.Context, id string) (*record.SourceRecord, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM source_records
		WHERE id = $1
	`

	var rec record.SourceRecord
	err := scanRecordInto(r.db.QueryRowContext(ctx, query, id), &rec, nil)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get source record: %w", err)
	}

	return &rec, nil
}

func (r *RecordRepository) GetByExternalID(ctx context.Context, userID int64, sourceType, externalID string) (*record.SourceRecord, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM source_records
		WHERE user_id = $1 AND source_type = $2 AND external_id = $3
	`

	var rec record.SourceRecord
	err := scanRecordInto(r.db.QueryRowContext(ctx, query, userID, sourceType, externalID), &rec, nil)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get source record by external id: %w", err)
	}

	return &rec, nil
}

func (r *RecordRepository) ListByState(ctx context.Context, userID int64, state string, sourceType *string) ([]*record.SourceRecord, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM source_records
		WHERE user_id = $1 AND match_state = $2
	`
	args := []any{userID, state}

	if sourceType != nil {
		query += ` AND source_type = $3`
		args = append(args, *sourceType)
	}
	query += ` ORDER BY occurred_at, ingested_at`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list source records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

func (r *RecordRepository) ListByTransaction(ctx context.Context, transactionID string) ([]*record.SourceRecord, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM source_records
		WHERE transaction_id = $1
		ORDER BY ingested_at
	`

	rows, err := r.db.QueryContext(ctx, query, transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list records by transaction: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

func (r *RecordRepository) SetMatchState(ctx context.Context, id string, state string, transactionID *string) error {
	query := `
		UPDATE source_records
		SET match_state = $2, transaction_id = $3, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query, id, state, transactionID)
	if err != nil {
		return fmt.Errorf("failed to set match state: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return record.ErrRecordNotFound
	}

	return nil
}

// scanRecordInto scans one source record row. wasInserted is non-nil only for
// the upsert path, whose RETURNING carries the extra column.
func scanRecordInto(row connectionScanner, rec *record.SourceRecord, wasInserted *bool) error {
	var accountID, transactionID sql.NullString
	var detail []byte

	dest := []any{
		&rec.ID, &rec.UserID, &rec.SourceType, &rec.ExternalID, &accountID,
		&rec.Amount, &rec.Currency, &rec.OccurredAt,
		&rec.RawMerchant, &rec.NormalizedMerchant, &detail,
		&rec.MatchState, &transactionID, &rec.IngestedAt, &rec.UpdatedAt,
	}
	if wasInserted != nil {
		dest = append(dest, wasInserted)
	}

	if err := row.Scan(dest...); err != nil {
		return err
	}

	if accountID.Valid {
		rec.AccountID = &accountID.String
	}
	if transactionID.Valid {
		rec.TransactionID = &transactionID.String
	}
	rec.Detail = detail

	return nil
}

func scanRecords(rows *sql.Rows) ([]*record.SourceRecord, error) {
	var records []*record.SourceRecord
	for rows.Next() {
		var rec record.SourceRecord
		if err := scanRecordInto(rows, &rec, nil); err != nil {
			return nil, fmt.Errorf("failed to scan source record: %w", err)
		}
		records = append(records, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating source records: %w", err)
	}

	return records, nil
}
