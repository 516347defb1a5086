package noncestore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // postgres driver
)

const defaultQueryTimeout = 5 * time.Second

// PostgresStore is the multi-instance-safe Store backing, using an
// INSERT ... ON CONFLICT upsert so two facilitator replicas racing on
// the same key never both see Fresh, and an expired row's slot is
// reusable without a separate sweep process. See CheckAndMarkUsed.
type PostgresStore struct {
	db        *sql.DB
	ownsDB    bool
	tableName string
}

// NewPostgresStore opens (or reuses) a Postgres connection and ensures the
// nonce table exists.
func NewPostgresStore(db *sql.DB, tableName string) (*PostgresStore, error) {
	if tableName == "" {
		tableName = "facilitator_nonces"
	}
	s := &PostgresStore{db: db, tableName: tableName}
	if err := s.createTable(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewPostgresStoreFromDSN opens its own connection pool, owned by this
// store and closed on Close().
func NewPostgresStoreFromDSN(dsn, tableName string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("noncestore: open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("noncestore: ping postgres: %w", err)
	}
	s, err := NewPostgresStore(db, tableName)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.ownsDB = true
	return s, nil
}

func (s *PostgresStore) createTable() error {
	ctx, cancel := withTimeout(context.Background())
	defer cancel()

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			key        TEXT PRIMARY KEY,
			expires_at TIMESTAMPTZ NOT NULL
		)
	`, s.tableName)
	_, err := s.db.ExecContext(ctx, query)
	return err
}

// CheckAndMarkUsed relies on an upsert: the INSERT either creates the row
// (Fresh) or, on conflict, updates it only if the existing row has already
// expired (also Fresh — an expired nonce is eligible for reuse), leaving a
// live, unexpired row untouched (AlreadyUsed). Postgres guarantees the
// conflict check and the write happen atomically under the row's lock, so
// two facilitator replicas racing on the same key never both see Fresh.
// The store never runs an application-level sweep; the WHERE clause below
// is what makes an expired row's slot reusable without one.
func (s *PostgresStore) CheckAndMarkUsed(ctx context.Context, key string, ttl time.Duration) (Outcome, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (key, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET expires_at = EXCLUDED.expires_at
		WHERE %s.expires_at <= now()
	`, s.tableName, s.tableName)

	result, err := s.db.ExecContext(ctx, query, key, time.Now().Add(ttl).UTC())
	if err != nil {
		return AlreadyUsed, fmt.Errorf("noncestore: check and mark used: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return AlreadyUsed, fmt.Errorf("noncestore: rows affected: %w", err)
	}
	if rows == 0 {
		return AlreadyUsed, nil
	}
	return Fresh, nil
}

func (s *PostgresStore) Release(ctx context.Context, key string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`DELETE FROM %s WHERE key = $1`, s.tableName)
	_, err := s.db.ExecContext(ctx, query, key)
	if err != nil {
		return fmt.Errorf("noncestore: release: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, defaultQueryTimeout)
}
