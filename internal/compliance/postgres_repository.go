package compliance

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	_ "github.com/lib/pq" // postgres driver
)

const (
	queryTimeoutGet  = 5 * time.Second
	queryTimeoutList = 10 * time.Second
)

var validTableNameRegex = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// PostgresRepository implements Repository using PostgreSQL, for operators
// whose blacklist is large enough or changes often enough to warrant a
// real datastore instead of a static YAML file.
type PostgresRepository struct {
	db        *sql.DB
	ownsDB    bool
	tableName string
}

// NewPostgresRepository opens its own connection pool.
func NewPostgresRepository(connectionString string) (*PostgresRepository, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("compliance: open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("compliance: ping postgres: %w", err)
	}
	r := &PostgresRepository{db: db, ownsDB: true, tableName: "compliance_blacklist"}
	if err := r.createTable(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

// NewPostgresRepositoryWithDB reuses an existing shared connection pool.
func NewPostgresRepositoryWithDB(db *sql.DB) (*PostgresRepository, error) {
	r := &PostgresRepository{db: db, ownsDB: false, tableName: "compliance_blacklist"}
	if err := r.createTable(); err != nil {
		return nil, err
	}
	return r, nil
}

// WithTableName sets a custom table name, validated to prevent SQL
// injection since the name is interpolated into queries (placeholders
// can't parameterize identifiers).
func (r *PostgresRepository) WithTableName(tableName string) (*PostgresRepository, error) {
	if tableName == "" {
		return r, nil
	}
	if !validTableNameRegex.MatchString(tableName) {
		return nil, fmt.Errorf("compliance: invalid table name %q", tableName)
	}
	r.tableName = tableName
	return r, nil
}

func (r *PostgresRepository) createTable() error {
	ctx, cancel := withQueryTimeout(context.Background(), queryTimeoutGet)
	defer cancel()

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			address    TEXT PRIMARY KEY,
			reason     TEXT NOT NULL DEFAULT '',
			added_by   TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`, r.tableName)
	_, err := r.db.ExecContext(ctx, query)
	return err
}

func (r *PostgresRepository) IsListed(ctx context.Context, address string) (bool, error) {
	ctx, cancel := withQueryTimeout(ctx, queryTimeoutGet)
	defer cancel()

	query := fmt.Sprintf(`SELECT 1 FROM %s WHERE address = $1`, r.tableName)
	var exists int
	err := r.db.QueryRowContext(ctx, query, address).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("compliance: is listed: %w", err)
	}
	return true, nil
}

func (r *PostgresRepository) ListEntries(ctx context.Context) ([]Entry, error) {
	ctx, cancel := withQueryTimeout(ctx, queryTimeoutList)
	defer cancel()

	query := fmt.Sprintf(`SELECT address, reason, added_by, created_at FROM %s ORDER BY created_at`, r.tableName)
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("compliance: list entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Address, &e.Reason, &e.AddedBy, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("compliance: scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *PostgresRepository) AddEntry(ctx context.Context, entry Entry) error {
	ctx, cancel := withQueryTimeout(ctx, queryTimeoutGet)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (address, reason, added_by, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (address) DO UPDATE SET reason = EXCLUDED.reason, added_by = EXCLUDED.added_by
	`, r.tableName)
	_, err := r.db.ExecContext(ctx, query, entry.Address, entry.Reason, entry.AddedBy)
	if err != nil {
		return fmt.Errorf("compliance: add entry: %w", err)
	}
	return nil
}

func (r *PostgresRepository) RemoveEntry(ctx context.Context, address string) error {
	ctx, cancel := withQueryTimeout(ctx, queryTimeoutGet)
	defer cancel()

	query := fmt.Sprintf(`DELETE FROM %s WHERE address = $1`, r.tableName)
	_, err := r.db.ExecContext(ctx, query, address)
	if err != nil {
		return fmt.Errorf("compliance: remove entry: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Close() error {
	if r.ownsDB {
		return r.db.Close()
	}
	return nil
}

func withQueryTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}
