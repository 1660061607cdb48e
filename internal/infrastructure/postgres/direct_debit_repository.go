package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"tally/internal/domain/directdebit"
)

// uniqueViolation is the PostgreSQL error code for unique constraint breaches
const uniqueViolation = "23505"

// DirectDebitRepository implements the directdebit.Repository interface for
// PostgreSQL
type DirectDebitRepository struct {
	db *DB
}

// NewDirectDebitRepository creates a new PostgreSQL direct debit repository
func NewDirectDebitRepository(db *DB) *DirectDebitRepository {
	return &DirectDebitRepository{db: db}
}

const mappingColumns = `id, user_id, normalized_merchant, payee_name, category, subcategory, active, created_at, updated_at`

// Create inserts a mapping. The partial unique index on active rows backs the
// one-active-mapping-per-merchant rule even when two requests race.
func (r *DirectDebitRepository) Create(ctx context.Context, params directdebit.CreateMappingParams) (*directdebit.Mapping, error) {
	query := `
		INSERT INTO direct_debit_mappings (user_id, normalized_merchant, payee_name, category, subcategory, active)
		VALUES ($1, $2, $3, $4, $5, TRUE)
		RETURNING ` + mappingColumns

	var m directdebit.Mapping
	err := scanMappingInto(r.db.QueryRowContext(ctx, query,
		params.UserID, params.Merchant, params.PayeeName, params.Category, params.Subcategory,
	), &m)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return nil, directdebit.ErrDuplicateMapping
		}
		return nil, fmt.Errorf("failed to create mapping: %w", err)
	}

	return &m, nil
}

func (r *DirectDebitRepository) GetByID(ctx context.Context, id int64) (*directdebit.Mapping, error) {
	query := `
		SELECT ` + mappingColumns + `
		FROM direct_debit_mappings
		WHERE id = $1
	`

	var m directdebit.Mapping
	err := scanMappingInto(r.db.QueryRowContext(ctx, query, id), &m)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get mapping: %w", err)
	}

	return &m, nil
}

func (r *DirectDebitRepository) GetActiveByMerchant(ctx context.Context, userID int64, normalizedMerchant string) (*directdebit.Mapping, error) {
	query := `
		SELECT ` + mappingColumns + `
		FROM direct_debit_mappings
		WHERE user_id = $1 AND normalized_merchant = $2 AND active
	`

	var m directdebit.Mapping
	err := scanMappingInto(r.db.QueryRowContext(ctx, query, userID, normalizedMerchant), &m)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active mapping: %w", err)
	}

	return &m, nil
}

func (r *DirectDebitRepository) ListByUserID(ctx context.Context, userID int64) ([]*directdebit.Mapping, error) {
	query := `
		SELECT ` + mappingColumns + `
		FROM direct_debit_mappings
		WHERE user_id = $1
		ORDER BY normalized_merchant
	`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list mappings: %w", err)
	}
	defer rows.Close()

	var mappings []*directdebit.Mapping
	for rows.Next() {
		var m directdebit.Mapping
		if err := scanMappingInto(rows, &m); err != nil {
			return nil, fmt.Errorf("failed to scan mapping: %w", err)
		}
		mappings = append(mappings, &m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating mappings: %w", err)
	}

	return mappings, nil
}

func (r *DirectDebitRepository) Update(ctx context.Context, id int64, params directdebit.UpdateMappingParams) (*directdebit.Mapping, error) {
	query := `
		UPDATE direct_debit_mappings
		SET payee_name = COALESCE($2, payee_name),
		    category = COALESCE($3, category),
		    subcategory = COALESCE($4, subcategory),
		    active = COALESCE($5, active),
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
		RETURNING ` + mappingColumns

	var m directdebit.Mapping
	err := scanMappingInto(r.db.QueryRowContext(ctx, query,
		id, params.PayeeName, params.Category, params.Subcategory, params.Active,
	), &m)

	if err == sql.ErrNoRows {
		return nil, directdebit.ErrMappingNotFound
	}
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return nil, directdebit.ErrDuplicateMapping
		}
		return nil, fmt.Errorf("failed to update mapping: %w", err)
	}

	return &m, nil
}

func (r *DirectDebitRepository) Delete(ctx context.Context, id int64) error {
	query := `DELETE FROM direct_debit_mappings WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete mapping: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return directdebit.ErrMappingNotFound
	}

	return nil
}

func scanMappingInto(row connectionScanner, m *directdebit.Mapping) error {
	var subcategory sql.NullString

	err := row.Scan(
		&m.ID, &m.UserID, &m.NormalizedMerchant, &m.PayeeName,
		&m.Category, &subcategory, &m.Active, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return err
	}

	if subcategory.Valid {
		m.Subcategory = &subcategory.String
	}

	return nil
}
