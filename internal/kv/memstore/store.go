// Package memstore is an in-memory implementation of kv.Store backed by
// pair-ordered skip lists, with an optional commit log for durability.
package memstore

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/devrev/entitydb/internal/errors"
	"github.com/devrev/entitydb/internal/kv"
)

// maxReaders is the semaphore weight a writer takes. Readers take one
// unit each, so a writer excludes every reader.
const maxReaders = 1 << 30

// Config holds memstore configuration
type Config struct {
	// LockTimeout bounds how long Begin waits for the store lock.
	LockTimeout time.Duration
	// CommitLog enables durability when set.
	CommitLog *CommitLogConfig
}

type bucket struct {
	name    string
	dupSort bool
	list    *skipList
}

// Store is a single-writer, multi-reader sorted store.
type Store struct {
	cfg     Config
	logger  *zap.Logger
	lock    *semaphore.Weighted
	buckets map[string]*bucket
	log     *CommitLog
	seed    int64
	closed  atomic.Bool
}

var _ kv.Store = (*Store)(nil)

// New creates a store. With a commit log configured, committed
// transactions found in the log directory are replayed first.
func New(cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Store{
		cfg:     cfg,
		logger:  logger,
		lock:    semaphore.NewWeighted(maxReaders),
		buckets: make(map[string]*bucket),
		seed:    time.Now().UnixNano(),
	}

	if cfg.CommitLog != nil {
		log, err := OpenCommitLog(cfg.CommitLog, logger)
		if err != nil {
			return nil, err
		}
		n, err := log.Recover(s.apply)
		if err != nil {
			log.Close()
			return nil, err
		}
		if err := log.Start(); err != nil {
			log.Close()
			return nil, err
		}
		s.log = log
		logger.Info("Memstore opened",
			zap.String("dir", cfg.CommitLog.Dir),
			zap.Int("replayed_records", n),
			zap.Int("buckets", len(s.buckets)))
	}

	return s, nil
}

// acquire takes the store lock. Waiters are served in arrival order, so
// a writer queued behind a stream of other writers still gets its turn
// within the lock timeout.
func (s *Store) acquire(ctx context.Context, writable bool) error {
	if s.closed.Load() {
		return errors.Closed("memstore")
	}

	wctx, cancel := context.WithTimeout(ctx, s.cfg.LockTimeout)
	defer cancel()
	if err := s.lock.Acquire(wctx, lockWeight(writable)); err != nil {
		if ctx.Err() != nil {
			return errors.Unavailable("waiting for store lock", ctx.Err())
		}
		return errors.LockConflict(fmt.Sprintf("lock not acquired within %s", s.cfg.LockTimeout), nil).
			WithDetail("writable", writable)
	}
	if s.closed.Load() {
		s.release(writable)
		return errors.Closed("memstore")
	}
	return nil
}

func (s *Store) release(writable bool) {
	s.lock.Release(lockWeight(writable))
}

func lockWeight(writable bool) int64 {
	if writable {
		return maxReaders
	}
	return 1
}

func (s *Store) newList() *skipList {
	s.seed++
	return newSkipList(s.seed)
}

// EnsureBucket creates the bucket if needed.
func (s *Store) EnsureBucket(ctx context.Context, name string, dupSort bool) error {
	if err := s.acquire(ctx, true); err != nil {
		return err
	}
	defer s.release(true)

	if b, ok := s.buckets[name]; ok {
		if b.dupSort != dupSort {
			return errors.InternalError(fmt.Sprintf("bucket '%s' exists with dupSort=%t", name, b.dupSort), nil).
				WithDetail("bucket", name)
		}
		return nil
	}

	op := logOp{Op: opCreateBucket, Bucket: name, DupSort: dupSort}
	if err := s.appendLog("", []logOp{op}); err != nil {
		return err
	}
	s.buckets[name] = &bucket{name: name, dupSort: dupSort, list: s.newList()}
	return nil
}

// DropBucket removes the bucket. Dropping a missing bucket is a no-op.
func (s *Store) DropBucket(ctx context.Context, name string) error {
	if err := s.acquire(ctx, true); err != nil {
		return err
	}
	defer s.release(true)

	if _, ok := s.buckets[name]; !ok {
		return nil
	}
	if err := s.appendLog("", []logOp{{Op: opDropBucket, Bucket: name}}); err != nil {
		return err
	}
	delete(s.buckets, name)
	return nil
}

// Begin starts a transaction.
func (s *Store) Begin(ctx context.Context, writable bool) (kv.Txn, error) {
	if err := s.acquire(ctx, writable); err != nil {
		return nil, err
	}
	return newTxn(s, writable), nil
}

// Compact rewrites the commit log as a single snapshot record.
func (s *Store) Compact(ctx context.Context) error {
	if s.log == nil {
		return nil
	}
	if err := s.acquire(ctx, true); err != nil {
		return err
	}
	defer s.release(true)

	var ops []logOp
	for name, b := range s.buckets {
		ops = append(ops, logOp{Op: opCreateBucket, Bucket: name, DupSort: b.dupSort})
		for n := b.list.first(); n != nil; n = n.forward[0] {
			ops = append(ops, logOp{Op: opPut, Bucket: name, Key: n.key, Data: n.data})
		}
	}
	return s.log.Rewrite(ops)
}

// Close waits for running transactions and closes the commit log.
func (s *Store) Close() error {
	if err := s.acquire(context.Background(), true); err != nil {
		if errors.GetCode(err) == errors.ErrCodeClosed {
			return nil
		}
		return err
	}
	defer s.release(true)

	s.closed.Store(true)
	if s.log != nil {
		return s.log.Close()
	}
	return nil
}

// BucketLen returns the number of pairs in a bucket.
func (s *Store) BucketLen(name string) int {
	if err := s.acquire(context.Background(), false); err != nil {
		return 0
	}
	defer s.release(false)
	if b, ok := s.buckets[name]; ok {
		return b.list.len()
	}
	return 0
}

func (s *Store) appendLog(txnID string, ops []logOp) error {
	if s.log == nil || len(ops) == 0 {
		return nil
	}
	return s.log.Append(txnID, ops)
}

// apply replays one logged operation. Called during recovery only.
func (s *Store) apply(op logOp) error {
	switch op.Op {
	case opCreateBucket:
		if _, ok := s.buckets[op.Bucket]; !ok {
			s.buckets[op.Bucket] = &bucket{name: op.Bucket, dupSort: op.DupSort, list: s.newList()}
		}
		return nil
	case opDropBucket:
		delete(s.buckets, op.Bucket)
		return nil
	}

	b, ok := s.buckets[op.Bucket]
	if !ok {
		return errors.CommitLogFailed(fmt.Sprintf("replay references missing bucket '%s'", op.Bucket), nil)
	}
	switch op.Op {
	case opPut:
		if !b.dupSort {
			for _, d := range b.list.pairsOf(op.Key) {
				b.list.remove(op.Key, d)
			}
		}
		b.list.insert(op.Key, op.Data)
	case opDeleteDup:
		b.list.remove(op.Key, op.Data)
	default:
		return errors.CommitLogFailed(fmt.Sprintf("unknown operation %q", op.Op), nil)
	}
	return nil
}
