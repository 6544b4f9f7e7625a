// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides binding/pairing/cursor persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger

	// now is injectable for pairing-token expiry tests.
	now func() time.Time
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL keeps admin reads safe while webhook handlers write
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger.With("component", "store"),
		now:    time.Now,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	s.logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist.
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS bindings (
			external_user_id TEXT PRIMARY KEY,
			gateway_id       TEXT NOT NULL,
			created_at       TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_bindings_gateway ON bindings(gateway_id);

		CREATE TABLE IF NOT EXISTS pending_bindings (
			token      TEXT PRIMARY KEY,
			gateway_id TEXT NOT NULL,
			created_at TEXT NOT NULL,
			expires_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_pending_bindings_expires ON pending_bindings(expires_at);

		CREATE TABLE IF NOT EXISTS sync_state (
			id         INTEGER PRIMARY KEY CHECK (id = 1),
			cursor     TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// Bind creates or overwrites the binding for an external user. Overwriting is
// not an error: re-pairing to a new gateway supersedes the old mapping.
func (s *SQLiteStore) Bind(ctx context.Context, externalUserID, gatewayID string) error {
	query := `
		INSERT INTO bindings (external_user_id, gateway_id, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(external_user_id) DO UPDATE SET
			gateway_id = excluded.gateway_id,
			created_at = excluded.created_at
	`

	_, err := s.db.ExecContext(ctx, query,
		externalUserID,
		gatewayID,
		s.now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting binding: %w", err)
	}

	s.logger.Debug("bound user", "external_user_id", externalUserID, "gateway_id", gatewayID)
	return nil
}

// Lookup returns the gateway bound to an external user.
// Returns ErrNotFound if no binding exists.
func (s *SQLiteStore) Lookup(ctx context.Context, externalUserID string) (string, error) {
	var gatewayID string
	err := s.db.QueryRowContext(ctx,
		`SELECT gateway_id FROM bindings WHERE external_user_id = ?`,
		externalUserID,
	).Scan(&gatewayID)

	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("querying binding: %w", err)
	}
	return gatewayID, nil
}

// Unbind removes the binding for an external user. Removing an absent binding
// is not an error.
func (s *SQLiteStore) Unbind(ctx context.Context, externalUserID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM bindings WHERE external_user_id = ?`,
		externalUserID,
	)
	if err != nil {
		return fmt.Errorf("deleting binding: %w", err)
	}

	s.logger.Debug("unbound user", "external_user_id", externalUserID)
	return nil
}

// ListByGateway returns the external users bound to a gateway, used to
// re-announce bindings to a reconnected gateway.
func (s *SQLiteStore) ListByGateway(ctx context.Context, gatewayID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT external_user_id FROM bindings WHERE gateway_id = ? ORDER BY external_user_id`,
		gatewayID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying bindings by gateway: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var user string
		if err := rows.Scan(&user); err != nil {
			return nil, fmt.Errorf("scanning binding row: %w", err)
		}
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating binding rows: %w", err)
	}
	return users, nil
}

// UnbindByGateway removes all bindings for a gateway and returns the number
// removed.
func (s *SQLiteStore) UnbindByGateway(ctx context.Context, gatewayID string) (int, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM bindings WHERE gateway_id = ?`,
		gatewayID,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting bindings by gateway: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}

	s.logger.Debug("unbound gateway", "gateway_id", gatewayID, "count", count)
	return int(count), nil
}

// CreatePendingBinding issues a pairing token for a gateway with a fresh TTL.
// Re-creating with the same token refreshes both target and expiry.
func (s *SQLiteStore) CreatePendingBinding(ctx context.Context, token, gatewayID string) (*PendingBinding, error) {
	createdAt := s.now().UTC()
	expiresAt := createdAt.Add(PendingBindingTTL)

	query := `
		INSERT INTO pending_bindings (token, gateway_id, created_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(token) DO UPDATE SET
			gateway_id = excluded.gateway_id,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at
	`

	_, err := s.db.ExecContext(ctx, query,
		token,
		gatewayID,
		createdAt.Format(time.RFC3339),
		expiresAt.Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("upserting pending binding: %w", err)
	}

	s.logger.Debug("created pending binding", "gateway_id", gatewayID, "expires_at", expiresAt)
	return &PendingBinding{
		Token:     token,
		GatewayID: gatewayID,
		CreatedAt: createdAt,
		ExpiresAt: expiresAt,
	}, nil
}

// ResolvePendingBinding consumes a pairing token: it atomically deletes the
// matching non-expired row and returns its gateway. A second call with the
// same token, or a call with an expired token, returns ErrNotFound.
func (s *SQLiteStore) ResolvePendingBinding(ctx context.Context, token string) (string, error) {
	now := s.now().UTC().Format(time.RFC3339)

	var gatewayID string
	err := s.db.QueryRowContext(ctx,
		`DELETE FROM pending_bindings WHERE token = ? AND expires_at > ? RETURNING gateway_id`,
		token, now,
	).Scan(&gatewayID)

	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("resolving pending binding: %w", err)
	}

	s.logger.Debug("resolved pending binding", "gateway_id", gatewayID)
	return gatewayID, nil
}

// DeleteExpiredPendingBindings removes expired, unresolved pairing tokens.
// Not required for correctness (ResolvePendingBinding rejects expired rows)
// but keeps the table bounded.
func (s *SQLiteStore) DeleteExpiredPendingBindings(ctx context.Context) (int, error) {
	now := s.now().UTC().Format(time.RFC3339)

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM pending_bindings WHERE expires_at <= ?`,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting expired pending bindings: %w", err)
	}

	count, _ := result.RowsAffected()
	if count > 0 {
		s.logger.Debug("deleted expired pending bindings", "count", count)
	}
	return int(count), nil
}

// GetSyncCursor returns the persisted sync checkpoint, or an empty string if
// no sync has completed yet.
func (s *SQLiteStore) GetSyncCursor(ctx context.Context) (string, error) {
	var cursor string
	err := s.db.QueryRowContext(ctx, `SELECT cursor FROM sync_state WHERE id = 1`).Scan(&cursor)

	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("querying sync cursor: %w", err)
	}
	return cursor, nil
}

// SetSyncCursor persists the sync checkpoint so a restart resumes from the
// last fully-processed position.
func (s *SQLiteStore) SetSyncCursor(ctx context.Context, cursor string) error {
	query := `
		INSERT INTO sync_state (id, cursor, updated_at)
		VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			cursor     = excluded.cursor,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query, cursor, s.now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("upserting sync cursor: %w", err)
	}
	return nil
}

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)
