package tokenregistry

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	_ "github.com/lib/pq" // postgres driver

	"github.com/x402fac/facilitator/pkg/protocol"
)

const (
	queryTimeoutGet  = 5 * time.Second
	queryTimeoutList = 10 * time.Second
)

var validTableNameRegex = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// PostgresRepository implements Repository using PostgreSQL, for operators
// whose accepted-token list is large or changes at runtime (e.g. via an
// admin API) rather than a deploy-time file.
type PostgresRepository struct {
	db        *sql.DB
	ownsDB    bool
	tableName string
}

// NewPostgresRepository opens its own connection pool.
func NewPostgresRepository(connectionString string) (*PostgresRepository, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("tokenregistry: open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("tokenregistry: ping postgres: %w", err)
	}
	r := &PostgresRepository{db: db, ownsDB: true, tableName: "token_deployments"}
	if err := r.createTable(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

// NewPostgresRepositoryWithDB reuses an existing shared connection pool.
func NewPostgresRepositoryWithDB(db *sql.DB) (*PostgresRepository, error) {
	r := &PostgresRepository{db: db, ownsDB: false, tableName: "token_deployments"}
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
		return nil, fmt.Errorf("tokenregistry: invalid table name %q", tableName)
	}
	r.tableName = tableName
	return r, nil
}

func (r *PostgresRepository) createTable() error {
	ctx, cancel := withQueryTimeout(context.Background(), queryTimeoutGet)
	defer cancel()

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			network         TEXT NOT NULL,
			asset           TEXT NOT NULL,
			symbol          TEXT NOT NULL DEFAULT '',
			decimals        SMALLINT NOT NULL DEFAULT 0,
			eip712_name     TEXT NOT NULL DEFAULT '',
			eip712_version  TEXT NOT NULL DEFAULT '',
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (network, asset)
		)
	`, r.tableName)
	_, err := r.db.ExecContext(ctx, query)
	return err
}

func (r *PostgresRepository) GetDeployment(ctx context.Context, network protocol.Network, asset string) (Deployment, error) {
	ctx, cancel := withQueryTimeout(ctx, queryTimeoutGet)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT network, asset, symbol, decimals, eip712_name, eip712_version, created_at, updated_at
		FROM %s WHERE network = $1 AND asset = $2
	`, r.tableName)
	var d Deployment
	var networkStr string
	err := r.db.QueryRowContext(ctx, query, string(network), asset).Scan(
		&networkStr, &d.Asset, &d.Symbol, &d.Decimals, &d.EIP712Name, &d.EIP712Version, &d.CreatedAt, &d.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return Deployment{}, ErrDeploymentNotFound
	}
	if err != nil {
		return Deployment{}, fmt.Errorf("tokenregistry: get deployment: %w", err)
	}
	d.Network = protocol.Network(networkStr)
	return d, nil
}

func (r *PostgresRepository) ListDeployments(ctx context.Context) ([]Deployment, error) {
	ctx, cancel := withQueryTimeout(ctx, queryTimeoutList)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT network, asset, symbol, decimals, eip712_name, eip712_version, created_at, updated_at
		FROM %s ORDER BY network, asset
	`, r.tableName)
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("tokenregistry: list deployments: %w", err)
	}
	defer rows.Close()

	var deployments []Deployment
	for rows.Next() {
		var d Deployment
		var networkStr string
		if err := rows.Scan(&networkStr, &d.Asset, &d.Symbol, &d.Decimals, &d.EIP712Name, &d.EIP712Version, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("tokenregistry: scan deployment: %w", err)
		}
		d.Network = protocol.Network(networkStr)
		deployments = append(deployments, d)
	}
	return deployments, rows.Err()
}

func (r *PostgresRepository) AddDeployment(ctx context.Context, d Deployment) error {
	ctx, cancel := withQueryTimeout(ctx, queryTimeoutGet)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (network, asset, symbol, decimals, eip712_name, eip712_version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		ON CONFLICT (network, asset) DO UPDATE SET
			symbol = EXCLUDED.symbol,
			decimals = EXCLUDED.decimals,
			eip712_name = EXCLUDED.eip712_name,
			eip712_version = EXCLUDED.eip712_version,
			updated_at = NOW()
	`, r.tableName)
	_, err := r.db.ExecContext(ctx, query, string(d.Network), d.Asset, d.Symbol, d.Decimals, d.EIP712Name, d.EIP712Version)
	if err != nil {
		return fmt.Errorf("tokenregistry: add deployment: %w", err)
	}
	return nil
}

func (r *PostgresRepository) RemoveDeployment(ctx context.Context, network protocol.Network, asset string) error {
	ctx, cancel := withQueryTimeout(ctx, queryTimeoutGet)
	defer cancel()

	query := fmt.Sprintf(`DELETE FROM %s WHERE network = $1 AND asset = $2`, r.tableName)
	_, err := r.db.ExecContext(ctx, query, string(network), asset)
	if err != nil {
		return fmt.Errorf("tokenregistry: remove deployment: %w", err)
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
