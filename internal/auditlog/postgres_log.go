package auditlog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // postgres driver
)

const queryTimeout = 5 * time.Second

// PostgresLog implements Log on Postgres. Append-only: there is no
// update or delete path, matching the "audit trail" framing — operators
// needing retention limits enforce them out of band (partition rotation,
// a scheduled DELETE ... WHERE created_at < cutoff), not through this API.
type PostgresLog struct {
	db        *sql.DB
	ownsDB    bool
	tableName string
}

// NewPostgresLog opens its own connection pool.
func NewPostgresLog(connectionString string) (*PostgresLog, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("auditlog: open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("auditlog: ping postgres: %w", err)
	}
	l := &PostgresLog{db: db, ownsDB: true, tableName: "settlement_audit_log"}
	if err := l.createTable(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

// NewPostgresLogWithDB reuses an existing shared connection pool.
func NewPostgresLogWithDB(db *sql.DB) (*PostgresLog, error) {
	l := &PostgresLog{db: db, ownsDB: false, tableName: "settlement_audit_log"}
	if err := l.createTable(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *PostgresLog) createTable() error {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id               BIGSERIAL PRIMARY KEY,
			outcome          TEXT NOT NULL,
			network          TEXT NOT NULL,
			scheme           TEXT NOT NULL,
			payer            TEXT NOT NULL,
			pay_to           TEXT NOT NULL,
			asset            TEXT NOT NULL,
			amount           TEXT NOT NULL,
			authorization_id TEXT NOT NULL,
			resource         TEXT NOT NULL DEFAULT '',
			success          BOOLEAN NOT NULL,
			reason           TEXT NOT NULL DEFAULT '',
			transaction_hash TEXT NOT NULL DEFAULT '',
			created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`, l.tableName)
	if _, err := l.db.ExecContext(ctx, query); err != nil {
		return err
	}

	indexQuery := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_payer_auth_idx ON %s (payer, authorization_id)
	`, l.tableName, l.tableName)
	_, err := l.db.ExecContext(ctx, indexQuery)
	return err
}

func (l *PostgresLog) Append(ctx context.Context, record Record) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s
			(outcome, network, scheme, payer, pay_to, asset, amount, authorization_id, resource, success, reason, transaction_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, l.tableName)
	_, err := l.db.ExecContext(ctx, query,
		string(record.Outcome), record.Network, record.Scheme, record.Payer, record.PayTo,
		record.Asset, record.Amount, record.AuthorizationID, record.Resource,
		record.Success, record.Reason, record.TransactionHash, record.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("auditlog: append: %w", err)
	}
	return nil
}

func (l *PostgresLog) FindByAuthorization(ctx context.Context, payer, authorizationID string) ([]Record, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT outcome, network, scheme, payer, pay_to, asset, amount, authorization_id, resource, success, reason, transaction_hash, created_at
		FROM %s
		WHERE payer = $1 AND authorization_id = $2
		ORDER BY created_at DESC
	`, l.tableName)
	rows, err := l.db.QueryContext(ctx, query, payer, authorizationID)
	if err != nil {
		return nil, fmt.Errorf("auditlog: find by authorization: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var outcome string
		if err := rows.Scan(&outcome, &r.Network, &r.Scheme, &r.Payer, &r.PayTo, &r.Asset, &r.Amount,
			&r.AuthorizationID, &r.Resource, &r.Success, &r.Reason, &r.TransactionHash, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("auditlog: scan record: %w", err)
		}
		r.Outcome = Outcome(outcome)
		records = append(records, r)
	}
	return records, rows.Err()
}

func (l *PostgresLog) Close() error {
	if l.ownsDB {
		return l.db.Close()
	}
	return nil
}
