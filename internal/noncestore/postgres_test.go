package noncestore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakePostgres is a minimal database/sql/driver backing that understands
// just enough of CheckAndMarkUsed's upsert to exercise its real SQL against
// expiry semantics, without requiring a live Postgres instance.
type fakePostgres struct {
	mu   sync.Mutex
	rows map[string]time.Time
}

var fakePostgresRegistry = struct {
	mu sync.Mutex
	m  map[string]*fakePostgres
}{m: map[string]*fakePostgres{}}

func registerFakePostgres(name string) {
	fakePostgresRegistry.mu.Lock()
	defer fakePostgresRegistry.mu.Unlock()
	fakePostgresRegistry.m[name] = &fakePostgres{rows: map[string]time.Time{}}
}

type fakePostgresDriver struct{}

func (fakePostgresDriver) Open(name string) (driver.Conn, error) {
	fakePostgresRegistry.mu.Lock()
	db, ok := fakePostgresRegistry.m[name]
	fakePostgresRegistry.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("fakepostgres: db %q not registered", name)
	}
	return &fakePostgresConn{db: db}, nil
}

func init() {
	sql.Register("fakepostgres", fakePostgresDriver{})
}

type fakePostgresConn struct{ db *fakePostgres }

func (c *fakePostgresConn) Prepare(string) (driver.Stmt, error) {
	return nil, fmt.Errorf("fakepostgres: Prepare unsupported, use ExecContext")
}
func (c *fakePostgresConn) Close() error              { return nil }
func (c *fakePostgresConn) Begin() (driver.Tx, error) { return nil, fmt.Errorf("fakepostgres: transactions unsupported") }

func (c *fakePostgresConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()

	switch {
	case strings.Contains(query, "CREATE TABLE"):
		return driver.RowsAffected(0), nil

	case strings.Contains(query, "INSERT INTO"):
		key, ok := args[0].Value.(string)
		if !ok {
			return nil, fmt.Errorf("fakepostgres: expected string key arg")
		}
		expiresAt, ok := args[1].Value.(time.Time)
		if !ok {
			return nil, fmt.Errorf("fakepostgres: expected time.Time expiry arg")
		}
		existing, exists := c.db.rows[key]
		if exists && existing.After(time.Now()) {
			return driver.RowsAffected(0), nil
		}
		c.db.rows[key] = expiresAt
		return driver.RowsAffected(1), nil

	case strings.Contains(query, "DELETE FROM"):
		key, ok := args[0].Value.(string)
		if !ok {
			return nil, fmt.Errorf("fakepostgres: expected string key arg")
		}
		delete(c.db.rows, key)
		return driver.RowsAffected(1), nil

	default:
		return nil, fmt.Errorf("fakepostgres: unsupported query: %s", query)
	}
}

func newFakePostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	name := t.Name()
	registerFakePostgres(name)
	db, err := sql.Open("fakepostgres", name)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s, err := NewPostgresStore(db, "")
	require.NoError(t, err)
	return s
}

func TestPostgresStore_CheckAndMarkUsed_FreshThenUsed(t *testing.T) {
	s := newFakePostgresStore(t)
	ctx := context.Background()

	outcome, err := s.CheckAndMarkUsed(ctx, "evm#0xabc#1", time.Minute)
	require.NoError(t, err)
	require.Equal(t, Fresh, outcome)

	outcome, err = s.CheckAndMarkUsed(ctx, "evm#0xabc#1", time.Minute)
	require.NoError(t, err)
	require.Equal(t, AlreadyUsed, outcome)
}

func TestPostgresStore_ExpiresAfterTTL(t *testing.T) {
	s := newFakePostgresStore(t)
	ctx := context.Background()

	outcome, err := s.CheckAndMarkUsed(ctx, "near#alice.near#1", time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, Fresh, outcome)

	time.Sleep(5 * time.Millisecond)

	outcome, err = s.CheckAndMarkUsed(ctx, "near#alice.near#1", time.Minute)
	require.NoError(t, err)
	require.Equal(t, Fresh, outcome, "expired row should be reusable without an application-level sweep")
}

func TestPostgresStore_Release(t *testing.T) {
	s := newFakePostgresStore(t)
	ctx := context.Background()

	_, err := s.CheckAndMarkUsed(ctx, "stellar#G...#group#1", time.Minute)
	require.NoError(t, err)

	require.NoError(t, s.Release(ctx, "stellar#G...#group#1"))

	outcome, err := s.CheckAndMarkUsed(ctx, "stellar#G...#group#1", time.Minute)
	require.NoError(t, err)
	require.Equal(t, Fresh, outcome, "released key should be reusable")
}
