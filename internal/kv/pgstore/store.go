// Package pgstore implements kv.Store on PostgreSQL. Every bucket lives
// in one table keyed by (bucket, k, d); bytea ordering matches unsigned
// byte order, so cursor movements are single ordered lookups.
package pgstore

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/devrev/entitydb/internal/errors"
	"github.com/devrev/entitydb/internal/kv"
)

const schema = `
CREATE TABLE IF NOT EXISTS kv_buckets (
	name     text    PRIMARY KEY,
	dup_sort boolean NOT NULL
);
CREATE TABLE IF NOT EXISTS kv_entries (
	bucket text  NOT NULL,
	k      bytea NOT NULL,
	d      bytea NOT NULL,
	PRIMARY KEY (bucket, k, d)
);
`

// Config holds PostgreSQL connection settings
type Config struct {
	Host        string
	Port        int
	Database    string
	User        string
	Password    string
	MaxConns    int
	MinConns    int
	LockTimeout time.Duration
}

// ConnString renders the pgx connection string.
func (c Config) ConnString() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s pool_max_conns=%d pool_min_conns=%d",
		c.Host, c.Port, c.Database, c.User, c.Password, c.MaxConns, c.MinConns,
	)
}

// Store is a kv.Store backed by a pgx connection pool.
type Store struct {
	pool        *pgxpool.Pool
	logger      *zap.Logger
	lockTimeout time.Duration

	mu      sync.RWMutex
	buckets map[string]bool
}

var _ kv.Store = (*Store)(nil)

// New connects using cfg and creates the tables if needed.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	return Open(ctx, cfg.ConnString(), cfg.LockTimeout, logger)
}

// Open connects using a connection string.
func Open(ctx context.Context, connString string, lockTimeout time.Duration, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if lockTimeout <= 0 {
		lockTimeout = 5 * time.Second
	}

	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, errors.Unavailable("failed to parse connection string", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, errors.Unavailable("failed to create connection pool", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Unavailable("failed to ping database", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, mapError("failed to create tables", err)
	}

	s := &Store{
		pool:        pool,
		logger:      logger,
		lockTimeout: lockTimeout,
		buckets:     make(map[string]bool),
	}

	logger.Info("Connected to PostgreSQL store",
		zap.String("host", config.ConnConfig.Host),
		zap.String("database", config.ConnConfig.Database))
	return s, nil
}

// EnsureBucket registers the bucket in kv_buckets.
func (s *Store) EnsureBucket(ctx context.Context, name string, dupSort bool) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO kv_buckets (name, dup_sort) VALUES ($1, $2) ON CONFLICT (name) DO NOTHING`,
		name, dupSort)
	if err != nil {
		return mapError("failed to create bucket", err)
	}

	existing, ok, err := s.lookupBucket(ctx, s.pool, name)
	if err != nil {
		return err
	}
	if !ok {
		return errors.InternalError(fmt.Sprintf("bucket '%s' vanished after creation", name), nil)
	}
	if existing != dupSort {
		return errors.InternalError(fmt.Sprintf("bucket '%s' exists with dupSort=%t", name, existing), nil).
			WithDetail("bucket", name)
	}
	return nil
}

// DropBucket removes the bucket and its entries.
func (s *Store) DropBucket(ctx context.Context, name string) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM kv_entries WHERE bucket = $1`, name); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `DELETE FROM kv_buckets WHERE name = $1`, name)
		return err
	})
	if err != nil {
		return mapError("failed to drop bucket", err)
	}

	s.mu.Lock()
	delete(s.buckets, name)
	s.mu.Unlock()
	return nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// lookupBucket returns the dupSort flag of a bucket, caching hits.
func (s *Store) lookupBucket(ctx context.Context, q querier, name string) (bool, bool, error) {
	s.mu.RLock()
	dup, ok := s.buckets[name]
	s.mu.RUnlock()
	if ok {
		return dup, true, nil
	}

	err := q.QueryRow(ctx, `SELECT dup_sort FROM kv_buckets WHERE name = $1`, name).Scan(&dup)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return false, false, nil
	}
	if err != nil {
		return false, false, mapError("failed to look up bucket", err)
	}

	s.mu.Lock()
	s.buckets[name] = dup
	s.mu.Unlock()
	return dup, true, nil
}

// Begin starts a PostgreSQL transaction. Lock waits longer than the
// configured lock timeout fail with a lock conflict.
func (s *Store) Begin(ctx context.Context, writable bool) (kv.Txn, error) {
	opts := pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite}
	if !writable {
		opts.IsoLevel = pgx.RepeatableRead
		opts.AccessMode = pgx.ReadOnly
	}

	tx, err := s.pool.BeginTx(ctx, opts)
	if err != nil {
		return nil, mapError("failed to begin transaction", err)
	}

	timeout := fmt.Sprintf("%dms", s.lockTimeout.Milliseconds())
	if _, err := tx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`, timeout); err != nil {
		tx.Rollback(ctx)
		return nil, mapError("failed to set lock timeout", err)
	}

	return newTxn(ctx, s, tx, writable), nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// mapError converts driver errors into store errors. Deadlocks and lock
// timeouts keep their identity so callers can retry.
func mapError(msg string, err error) error {
	if err == nil {
		return nil
	}
	var ee *errors.EntityError
	if stderrors.As(err, &ee) {
		return err
	}

	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40P01":
			return errors.Deadlock(msg, err).WithDetail("sqlstate", pgErr.Code)
		case "55P03", "40001":
			return errors.LockConflict(msg, err).WithDetail("sqlstate", pgErr.Code)
		case "57P01", "57P02", "57P03", "08000", "08003", "08006":
			return errors.Unavailable(msg, err).WithDetail("sqlstate", pgErr.Code)
		}
		return errors.InternalError(msg, err).WithDetail("sqlstate", pgErr.Code)
	}
	if pgconn.Timeout(err) || stderrors.Is(err, context.Canceled) {
		return errors.Unavailable(msg, err)
	}
	return errors.InternalError(msg, err)
}
