package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// CursorRepository persists per-user resume cursors for the non-bank feeds.
// Bank cursors live on the connection row instead.
type CursorRepository struct {
	db *DB
}

// NewCursorRepository creates a new PostgreSQL cursor repository
func NewCursorRepository(db *DB) *CursorRepository {
	return &CursorRepository{db: db}
}

func (r *CursorRepository) Get(ctx context.Context, userID int64, source string) (*string, error) {
	query := `
		SELECT cursor
		FROM source_cursors
		WHERE user_id = $1 AND source_type = $2
	`

	var cursor string
	err := r.db.QueryRowContext(ctx, query, userID, source).Scan(&cursor)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get source cursor: %w", err)
	}

	return &cursor, nil
}

func (r *CursorRepository) Set(ctx context.Context, userID int64, source string, cursor string) error {
	query := `
		INSERT INTO source_cursors (user_id, source_type, cursor)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, source_type) DO UPDATE SET
		    cursor = EXCLUDED.cursor,
		    updated_at = CURRENT_TIMESTAMP
	`

	_, err := r.db.ExecContext(ctx, query, userID, source, cursor)
	if err != nil {
		return fmt.Errorf("failed to set source cursor: %w", err)
	}

	return nil
}
