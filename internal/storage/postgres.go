package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	createWatchEntriesSQL = `CREATE TABLE IF NOT EXISTS watch_entries (
        entry_key   BYTEA PRIMARY KEY,
        entry_value BYTEA NOT NULL
    );`

	getEntrySQL = `SELECT entry_value FROM watch_entries WHERE entry_key = $1;`

	upsertEntrySQL = `INSERT INTO watch_entries (entry_key, entry_value)
    VALUES ($1, $2)
    ON CONFLICT (entry_key) DO UPDATE
    SET entry_value = EXCLUDED.entry_value;`

	replaceEntrySQL = `UPDATE watch_entries SET entry_value = $2 WHERE entry_key = $1;`

	deleteEntrySQL = `DELETE FROM watch_entries WHERE entry_key = $1;`

	listEntriesSQL = `SELECT entry_key, entry_value FROM watch_entries ORDER BY entry_key;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// PostgresOptions tune the shared PostgreSQL backend.
type PostgresOptions struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewPool configures a PostgreSQL connection pool from runtime settings.
func NewPool(ctx context.Context, opts PostgresOptions) (*pgxpool.Pool, error) {
	if opts.DSN == "" {
		return nil, fmt.Errorf("storage.dsn is required")
	}

	poolConfig, err := pgxpool.ParseConfig(opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}

	if opts.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = opts.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	return pool, nil
}

// PostgresKV stores watch entries in PostgreSQL, for deployments sharing one state across hosts.
type PostgresKV struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects and makes sure the watch_entries table exists.
func OpenPostgres(ctx context.Context, opts PostgresOptions) (*PostgresKV, error) {
	pool, err := NewPool(ctx, opts)
	if err != nil {
		return nil, wrapErr("open", err)
	}
	if _, err := pool.Exec(ctx, createWatchEntriesSQL); err != nil {
		pool.Close()
		return nil, wrapErr("migrate", err)
	}
	return NewPostgresKV(pool), nil
}

// NewPostgresKV wires an existing pool.
func NewPostgresKV(pool *pgxpool.Pool) *PostgresKV {
	return &PostgresKV{pool: pool}
}

func (s *PostgresKV) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// Get returns the value stored under key.
func (s *PostgresKV) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, wrapErr("get", err)
	}
	var value []byte
	if scanErr := pool.QueryRow(ctx, getEntrySQL, key).Scan(&value); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, wrapErr("get", scanErr)
	}
	return value, true, nil
}

// Put inserts or overwrites key.
func (s *PostgresKV) Put(ctx context.Context, key, value []byte) error {
	pool, err := s.getPool()
	if err != nil {
		return wrapErr("put", err)
	}
	if _, execErr := pool.Exec(ctx, upsertEntrySQL, key, value); execErr != nil {
		return wrapErr("put", execErr)
	}
	return nil
}

// Replace overwrites key only when it already exists.
func (s *PostgresKV) Replace(ctx context.Context, key, value []byte) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, wrapErr("replace", err)
	}
	cmdTag, execErr := pool.Exec(ctx, replaceEntrySQL, key, value)
	if execErr != nil {
		return false, wrapErr("replace", execErr)
	}
	return cmdTag.RowsAffected() > 0, nil
}

// Delete removes key; deleting a missing key is not an error.
func (s *PostgresKV) Delete(ctx context.Context, key []byte) error {
	pool, err := s.getPool()
	if err != nil {
		return wrapErr("delete", err)
	}
	if _, execErr := pool.Exec(ctx, deleteEntrySQL, key); execErr != nil {
		return wrapErr("delete", execErr)
	}
	return nil
}

// Iterate visits every pair in key order. Rows are collected before fn runs so
// the callback never holds a pool connection.
func (s *PostgresKV) Iterate(ctx context.Context, fn func(key, value []byte) error) error {
	pool, err := s.getPool()
	if err != nil {
		return wrapErr("iterate", err)
	}

	rows, queryErr := pool.Query(ctx, listEntriesSQL)
	if queryErr != nil {
		return wrapErr("iterate", queryErr)
	}
	type pair struct{ key, value []byte }
	pairs, collectErr := pgx.CollectRows(rows, func(row pgx.CollectableRow) (pair, error) {
		var p pair
		err := row.Scan(&p.key, &p.value)
		return p, err
	})
	if collectErr != nil {
		return wrapErr("iterate", collectErr)
	}

	for _, p := range pairs {
		if err := fn(p.key, p.value); err != nil {
			return err
		}
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *PostgresKV) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// Session locks die with the connection, so a failed unlock only delays the next holder.
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// Close releases the underlying pool resources.
func (s *PostgresKV) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

var (
	_ KV             = (*PostgresKV)(nil)
	_ AdvisoryLocker = (*PostgresKV)(nil)
)
