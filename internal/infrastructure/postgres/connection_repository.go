package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"tally/internal/domain/connection"
)

// ConnectionRepository implements the connection.Repository interface for
// PostgreSQL. Token columns carry ciphertext; this layer never sees plaintext.
type ConnectionRepository struct {
	db *DB
}

// NewConnectionRepository creates a new PostgreSQL connection repository
func NewConnectionRepository(db *DB) *ConnectionRepository {
	return &ConnectionRepository{db: db}
}

const connectionColumns = `id, user_id, institution_id, institution_name, access_token, refresh_token,
	       token_expiry, sync_cursor, status, last_synced_at, last_error, created_at, updated_at`

func (r *ConnectionRepository) Create(ctx context.Context, params connection.CreateConnectionParams) (*connection.Connection, error) {
	query := `
		INSERT INTO bank_connections (id, user_id, institution_id, institution_name, access_token, refresh_token, token_expiry, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING ` + connectionColumns

	id := uuid.New().String()
	row := r.db.QueryRowContext(ctx, query,
		id, params.UserID, params.InstitutionID, params.InstitutionName,
		params.AccessToken, params.RefreshToken, params.TokenExpiry, connection.StatusActive,
	)

	conn, err := scanConnection(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection: %w", err)
	}
	return conn, nil
}

func (r *ConnectionRepository) GetByID(ctx context.Context, id string) (*connection.Connection, error) {
	query := `
		SELECT ` + connectionColumns + `
		FROM bank_connections
		WHERE id = $1
	`

	conn, err := scanConnection(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	return conn, nil
}

func (r *ConnectionRepository) ListByUserID(ctx context.Context, userID int64) ([]*connection.Connection, error) {
	query := `
		SELECT ` + connectionColumns + `
		FROM bank_connections
		WHERE user_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	defer rows.Close()

	return scanConnections(rows)
}

func (r *ConnectionRepository) ListActive(ctx context.Context) ([]*connection.Connection, error) {
	query := `
		SELECT ` + connectionColumns + `
		FROM bank_connections
		WHERE status = $1
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, query, connection.StatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list active connections: %w", err)
	}
	defer rows.Close()

	return scanConnections(rows)
}

func (r *ConnectionRepository) UpdateTokens(ctx context.Context, id string, update connection.TokenUpdate) error {
	query := `
		UPDATE bank_connections
		SET access_token = $2, refresh_token = $3, token_expiry = $4, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query, id, update.AccessToken, update.RefreshToken, update.TokenExpiry)
	if err != nil {
		return fmt.Errorf("failed to update connection tokens: %w", err)
	}
	return requireConnectionRow(result)
}

func (r *ConnectionRepository) UpdateCursor(ctx context.Context, id string, cursor string) error {
	query := `
		UPDATE bank_connections
		SET sync_cursor = $2, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query, id, cursor)
	if err != nil {
		return fmt.Errorf("failed to update sync cursor: %w", err)
	}
	return requireConnectionRow(result)
}

func (r *ConnectionRepository) UpdateStatus(ctx context.Context, id string, status string, lastError *string) error {
	query := `
		UPDATE bank_connections
		SET status = $2, last_error = $3, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query, id, status, lastError)
	if err != nil {
		return fmt.Errorf("failed to update connection status: %w", err)
	}
	return requireConnectionRow(result)
}

func (r *ConnectionRepository) TouchLastSynced(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE bank_connections
		SET last_synced_at = $2, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("failed to touch last synced: %w", err)
	}
	return requireConnectionRow(result)
}

// UpsertAccount inserts or refreshes the snapshot of a provider-reported
// account, keyed by (connection_id, external_id).
func (r *ConnectionRepository) UpsertAccount(ctx context.Context, params connection.UpsertAccountParams) (*connection.Account, bool, error) {
	query := `
		INSERT INTO accounts (id, connection_id, user_id, external_id, name, currency, reported_balance, balance_as_of)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (connection_id, external_id) DO UPDATE SET
		    name = EXCLUDED.name,
		    currency = EXCLUDED.currency,
		    reported_balance = EXCLUDED.reported_balance,
		    balance_as_of = EXCLUDED.balance_as_of,
		    updated_at = CURRENT_TIMESTAMP
		RETURNING id, connection_id, user_id, external_id, name, currency, reported_balance, balance_as_of, created_at, updated_at,
		          (xmax = 0) AS was_inserted
	`

	var acc connection.Account
	var balanceAsOf sql.NullTime
	var wasInserted bool

	id := uuid.New().String()
	err := r.db.QueryRowContext(ctx, query,
		id, params.ConnectionID, params.UserID, params.ExternalID,
		params.Name, params.Currency, params.ReportedBalance, params.BalanceAsOf,
	).Scan(
		&acc.ID, &acc.ConnectionID, &acc.UserID, &acc.ExternalID,
		&acc.Name, &acc.Currency, &acc.ReportedBalance, &balanceAsOf,
		&acc.CreatedAt, &acc.UpdatedAt, &wasInserted,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to upsert account: %w", err)
	}

	if balanceAsOf.Valid {
		acc.BalanceAsOf = &balanceAsOf.Time
	}

	return &acc, wasInserted, nil
}

func (r *ConnectionRepository) GetAccountByID(ctx context.Context, id string) (*connection.Account, error) {
	query := `
		SELECT id, connection_id, user_id, external_id, name, currency, reported_balance, balance_as_of, created_at, updated_at
		FROM accounts
		WHERE id = $1
	`

	var acc connection.Account
	var balanceAsOf sql.NullTime

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&acc.ID, &acc.ConnectionID, &acc.UserID, &acc.ExternalID,
		&acc.Name, &acc.Currency, &acc.ReportedBalance, &balanceAsOf,
		&acc.CreatedAt, &acc.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	if balanceAsOf.Valid {
		acc.BalanceAsOf = &balanceAsOf.Time
	}

	return &acc, nil
}

func (r *ConnectionRepository) ListAccountsByConnection(ctx context.Context, connectionID string) ([]*connection.Account, error) {
	query := `
		SELECT id, connection_id, user_id, external_id, name, currency, reported_balance, balance_as_of, created_at, updated_at
		FROM accounts
		WHERE connection_id = $1
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, query, connectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts by connection: %w", err)
	}
	defer rows.Close()

	return scanAccounts(rows)
}

func (r *ConnectionRepository) ListAccountsByUser(ctx context.Context, userID int64) ([]*connection.Account, error) {
	query := `
		SELECT id, connection_id, user_id, external_id, name, currency, reported_balance, balance_as_of, created_at, updated_at
		FROM accounts
		WHERE user_id = $1
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts by user: %w", err)
	}
	defer rows.Close()

	return scanAccounts(rows)
}

type connectionScanner interface {
	Scan(dest ...any) error
}

func scanConnection(row connectionScanner) (*connection.Connection, error) {
	var conn connection.Connection
	var syncCursor, lastError sql.NullString
	var lastSyncedAt sql.NullTime

	err := row.Scan(
		&conn.ID, &conn.UserID, &conn.InstitutionID, &conn.InstitutionName,
		&conn.AccessToken, &conn.RefreshToken, &conn.TokenExpiry,
		&syncCursor, &conn.Status, &lastSyncedAt, &lastError,
		&conn.CreatedAt, &conn.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if syncCursor.Valid {
		conn.SyncCursor = &syncCursor.String
	}
	if lastSyncedAt.Valid {
		conn.LastSyncedAt = &lastSyncedAt.Time
	}
	if lastError.Valid {
		conn.LastError = &lastError.String
	}

	return &conn, nil
}

func scanConnections(rows *sql.Rows) ([]*connection.Connection, error) {
	var conns []*connection.Connection
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan connection: %w", err)
		}
		conns = append(conns, conn)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating connections: %w", err)
	}

	return conns, nil
}

func scanAccounts(rows *sql.Rows) ([]*connection.Account, error) {
	var accounts []*connection.Account
	for rows.Next() {
		var acc connection.Account
		var balanceAsOf sql.NullTime

		err := rows.Scan(
			&acc.ID, &acc.ConnectionID, &acc.UserID, &acc.ExternalID,
			&acc.Name, &acc.Currency, &acc.ReportedBalance, &balanceAsOf,
			&acc.CreatedAt, &acc.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}

		if balanceAsOf.Valid {
			acc.BalanceAsOf = &balanceAsOf.Time
		}

		accounts = append(accounts, &acc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}

	return accounts, nil
}

func requireConnectionRow(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return connection.ErrConnectionNotFound
	}
	return nil
}
