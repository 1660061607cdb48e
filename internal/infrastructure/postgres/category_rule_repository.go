package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"tally/internal/domain/enrichment"
)

// CategoryRuleRepository implements the enrichment.Repository interface for
// PostgreSQL. Rows with a NULL user_id are global rules.
type CategoryRuleRepository struct {
	db *DB
}

// NewCategoryRuleRepository creates a new PostgreSQL category rule repository
func NewCategoryRuleRepository(db *DB) *CategoryRuleRepository {
	return &CategoryRuleRepository{db: db}
}

const categoryRuleColumns = `id, user_id, priority, pattern, min_amount, max_amount, direction, category, subcategory, created_at, updated_at`

func (r *CategoryRuleRepository) Create(ctx context.Context, params enrichment.CreateRuleParams) (*enrichment.CategoryRule, error) {
	query := `
		INSERT INTO category_rules (user_id, priority, pattern, min_amount, max_amount, direction, category, subcategory)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING ` + categoryRuleColumns

	var rule enrichment.CategoryRule
	err := scanCategoryRuleInto(r.db.QueryRowContext(ctx, query,
		params.UserID, params.Priority, params.Pattern,
		nullDecimal(params.MinAmount), nullDecimal(params.MaxAmount),
		params.Direction, params.Category, params.Subcategory,
	), &rule)
	if err != nil {
		return nil, fmt.Errorf("failed to create category rule: %w", err)
	}

	return &rule, nil
}

func (r *CategoryRuleRepository) GetByID(ctx context.Context, id int64) (*enrichment.CategoryRule, error) {
	query := `
		SELECT ` + categoryRuleColumns + `
		FROM category_rules
		WHERE id = $1
	`

	var rule enrichment.CategoryRule
	err := scanCategoryRuleInto(r.db.QueryRowContext(ctx, query, id), &rule)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get category rule: %w", err)
	}

	return &rule, nil
}

// ListForUser returns the rules in evaluation order: the user's own rules
// first, then global rules, each by ascending priority with id breaking ties.
func (r *CategoryRuleRepository) ListForUser(ctx context.Context, userID int64) ([]*enrichment.CategoryRule, error) {
	query := `
		SELECT ` + categoryRuleColumns + `
		FROM category_rules
		WHERE user_id = $1 OR user_id IS NULL
		ORDER BY (user_id IS NULL), priority, id
	`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules for user: %w", err)
	}
	defer rows.Close()

	return scanCategoryRules(rows)
}

func (r *CategoryRuleRepository) ListByOwner(ctx context.Context, userID *int64) ([]*enrichment.CategoryRule, error) {
	var query string
	var args []any

	if userID == nil {
		query = `
			SELECT ` + categoryRuleColumns + `
			FROM category_rules
			WHERE user_id IS NULL
			ORDER BY priority, id
		`
	} else {
		query = `
			SELECT ` + categoryRuleColumns + `
			FROM category_rules
			WHERE user_id = $1
			ORDER BY priority, id
		`
		args = []any{*userID}
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules by owner: %w", err)
	}
	defer rows.Close()

	return scanCategoryRules(rows)
}

// Update applies non-nil fields. An empty direction clears the filter; nil
// leaves it alone.
func (r *CategoryRuleRepository) Update(ctx context.Context, id int64, params enrichment.UpdateRuleParams) (*enrichment.CategoryRule, error) {
	query := `
		UPDATE category_rules
		SET priority = COALESCE($2, priority),
		    pattern = COALESCE($3, pattern),
		    min_amount = COALESCE($4, min_amount),
		    max_amount = COALESCE($5, max_amount),
		    direction = CASE WHEN $6::text IS NULL THEN direction WHEN $6 = '' THEN NULL ELSE $6 END,
		    category = COALESCE($7, category),
		    subcategory = COALESCE($8, subcategory),
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
		RETURNING ` + categoryRuleColumns

	var rule enrichment.CategoryRule
	err := scanCategoryRuleInto(r.db.QueryRowContext(ctx, query,
		id, params.Priority, params.Pattern,
		nullDecimal(params.MinAmount), nullDecimal(params.MaxAmount),
		params.Direction, params.Category, params.Subcategory,
	), &rule)

	if err == sql.ErrNoRows {
		return nil, enrichment.ErrRuleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update category rule: %w", err)
	}

	return &rule, nil
}

func (r *CategoryRuleRepository) Delete(ctx context.Context, id int64) error {
	query := `DELETE FROM category_rules WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete category rule: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return enrichment.ErrRuleNotFound
	}

	return nil
}

func scanCategoryRuleInto(row connectionScanner, rule *enrichment.CategoryRule) error {
	var userID sql.NullInt64
	var minAmount, maxAmount decimal.NullDecimal
	var direction, subcategory sql.NullString

	err := row.Scan(
		&rule.ID, &userID, &rule.Priority, &rule.Pattern,
		&minAmount, &maxAmount, &direction,
		&rule.Category, &subcategory, &rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		return err
	}

	if userID.Valid {
		rule.UserID = &userID.Int64
	}
	if minAmount.Valid {
		rule.MinAmount = &minAmount.Decimal
	}
	if maxAmount.Valid {
		rule.MaxAmount = &maxAmount.Decimal
	}
	if direction.Valid {
		rule.Direction = &direction.String
	}
	if subcategory.Valid {
		rule.Subcategory = &subcategory.String
	}

	return nil
}

func scanCategoryRules(rows *sql.Rows) ([]*enrichment.CategoryRule, error) {
	var rules []*enrichment.CategoryRule
	for rows.Next() {
		var rule enrichment.CategoryRule
		if err := scanCategoryRuleInto(rows, &rule); err != nil {
			return nil, fmt.Errorf("failed to scan category rule: %w", err)
		}
		rules = append(rules, &rule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating category rules: %w", err)
	}

	return rules, nil
}

// Helper functions

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}
