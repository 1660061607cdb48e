package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"tally/internal/domain/anomaly"
)

// AnomalyRepository implements the anomaly.Repository interface for PostgreSQL
type AnomalyRepository struct {
	db *DB
}

// NewAnomalyRepository creates a new PostgreSQL anomaly repository
func NewAnomalyRepository(db *DB) *AnomalyRepository {
	return &AnomalyRepository{db: db}
}

const anomalyColumns = `id, user_id, account_id, kind, status, details, resolution, created_at, resolved_at`

// Create opens an anomaly. A partial unique index on (user_id, fingerprint)
// over open rows makes re-detection hit the conflict path, which hands back
// the existing anomaly untouched.
func (r *AnomalyRepository) Create(ctx context.Context, params anomaly.CreateParams) (*anomaly.Anomaly, bool, error) {
	details, err := params.MarshalDetails()
	if err != nil {
		return nil, false, err
	}

	query := `
		INSERT INTO anomalies (id, user_id, account_id, kind, status, details, fingerprint)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, fingerprint) WHERE status = 'open' DO UPDATE SET
		    fingerprint = EXCLUDED.fingerprint
		RETURNING ` + anomalyColumns + `,
		          (xmax = 0) AS was_inserted
	`

	var a anomaly.Anomaly
	var wasInserted bool

	id := uuid.New().String()
	err = scanAnomalyInto(r.db.QueryRowContext(ctx, query,
		id, params.UserID, params.AccountID, params.Kind, anomaly.StatusOpen, details, params.Fingerprint,
	), &a, &wasInserted)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create anomaly: %w", err)
	}

	return &a, wasInserted, nil
}

func (r *AnomalyRepository) GetByID(ctx context.Context, id string) (*anomaly.Anomaly, error) {
	query := `
		SELECT ` + anomalyColumns + `
		FROM anomalies
		WHERE id = $1
	`

	var a anomaly.Anomaly
	err := scanAnomalyInto(r.db.QueryRowContext(ctx, query, id), &a, nil)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get anomaly: %w", err)
	}

	return &a, nil
}

func (r *AnomalyRepository) List(ctx context.Context, q anomaly.Query) ([]*anomaly.Anomaly, error) {
	query := `
		SELECT ` + anomalyColumns + `
		FROM anomalies
		WHERE user_id = $1
	`
	args := []any{q.UserID}
	argIndex := 2

	if q.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argIndex)
		args = append(args, *q.Status)
		argIndex++
	}
	if q.Kind != nil {
		query += fmt.Sprintf(" AND kind = $%d", argIndex)
		args = append(args, *q.Kind)
		argIndex++
	}

	query += " ORDER BY created_at DESC"

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
		return nil, fmt.Errorf("failed to list anomalies: %w", err)
	}
	defer rows.Close()

	var anomalies []*anomaly.Anomaly
	for rows.Next() {
		var a anomaly.Anomaly
		if err := scanAnomalyInto(rows, &a, nil); err != nil {
			return nil, fmt.Errorf("failed to scan anomaly: %w", err)
		}
		anomalies = append(anomalies, &a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating anomalies: %w", err)
	}

	return anomalies, nil
}

func (r *AnomalyRepository) CountOpen(ctx context.Context, userID int64) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM anomalies
		WHERE user_id = $1 AND status = $2
	`

	var count int
	err := r.db.QueryRowContext(ctx, query, userID, anomaly.StatusOpen).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count open anomalies: %w", err)
	}

	return count, nil
}

func (r *AnomalyRepository) Close(ctx context.Context, id string, status string, resolution *string) error {
	query := `
		UPDATE anomalies
		SET status = $2, resolution = $3, resolved_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND status = $4
	`

	result, err := r.db.ExecContext(ctx, query, id, status, resolution, anomaly.StatusOpen)
	if err != nil {
		return fmt.Errorf("failed to close anomaly: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return anomaly.ErrAnomalyNotFound
	}

	return nil
}

func scanAnomalyInto(row connectionScanner, a *anomaly.Anomaly, wasInserted *bool) error {
	var accountID, resolution sql.NullString
	var resolvedAt sql.NullTime
	var details []byte

	dest := []any{
		&a.ID, &a.UserID, &accountID, &a.Kind, &a.Status,
		&details, &resolution, &a.CreatedAt, &resolvedAt,
	}
	if wasInserted != nil {
		dest = append(dest, wasInserted)
	}

	if err := row.Scan(dest...); err != nil {
		return err
	}

	if accountID.Valid {
		a.AccountID = &accountID.String
	}
	if resolution.Valid {
		a.Resolution = &resolution.String
	}
	if resolvedAt.Valid {
		a.ResolvedAt = &resolvedAt.Time
	}
	a.Details = details

	return nil
}
