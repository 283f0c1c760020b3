package memstore

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	entityerrors "github.com/devrev/entitydb/internal/errors"
	"github.com/devrev/entitydb/internal/kv"
	"github.com/devrev/entitydb/internal/kv/kvtest"
)

func TestConformance(t *testing.T) {
	kvtest.Run(t, func(t *testing.T) kv.Store {
		s, err := New(Config{LockTimeout: time.Second}, zap.NewNop())
		require.NoError(t, err)
		return s
	})
}

func TestConformance_WithCommitLog(t *testing.T) {
	kvtest.Run(t, func(t *testing.T) kv.Store {
		s, err := New(Config{
			LockTimeout: time.Second,
			CommitLog:   &CommitLogConfig{Dir: t.TempDir()},
		}, zap.NewNop())
		require.NoError(t, err)
		return s
	})
}

func TestSkipList_PrevLinks(t *testing.T) {
	sl := newSkipList(1)
	for _, k := range []string{"m", "c", "x", "a", "q"} {
		assert.True(t, sl.insert([]byte(k), nil))
	}
	assert.False(t, sl.insert([]byte("q"), nil))
	assert.True(t, sl.remove([]byte("x"), nil))
	assert.False(t, sl.remove([]byte("x"), nil))

	var backwards []string
	for n := sl.last(); n != nil; n = n.prev {
		backwards = append(backwards, string(n.key))
	}
	assert.Equal(t, []string{"q", "m", "c", "a"}, backwards)
	assert.Equal(t, 4, sl.len())
}

func TestCommitLog_Recovery(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := Config{LockTimeout: time.Second, CommitLog: &CommitLogConfig{Dir: dir, SyncWrites: true}}

	s, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, s.EnsureBucket(ctx, "ent.Author", false))
	require.NoError(t, s.EnsureBucket(ctx, "idx.Author.Owners", true))
	require.NoError(t, kv.Update(ctx, s, func(txn kv.Txn) error {
		require.NoError(t, txn.Put(ctx, "ent.Author", []byte{1}, []byte("gigi")))
		require.NoError(t, txn.Put(ctx, "ent.Author", []byte{1}, []byte("gigi v2")))
		require.NoError(t, txn.Put(ctx, "idx.Author.Owners", []byte("carl"), []byte{1}))
		require.NoError(t, txn.Put(ctx, "idx.Author.Owners", []byte("zeke"), []byte{1}))
		return nil
	}))
	require.NoError(t, kv.Update(ctx, s, func(txn kv.Txn) error {
		_, err := txn.DeleteDup(ctx, "idx.Author.Owners", []byte("zeke"), []byte{1})
		return err
	}))

	// rolled back work never reaches the log
	txn, err := s.Begin(ctx, true)
	require.NoError(t, err)
	require.NoError(t, txn.Put(ctx, "ent.Author", []byte{2}, []byte("lost")))
	require.NoError(t, txn.Rollback())
	require.NoError(t, s.Close())

	reopened, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	defer reopened.Close()

	require.NoError(t, kv.View(ctx, reopened, func(txn kv.Txn) error {
		v, st, err := txn.Get(ctx, "ent.Author", []byte{1})
		require.NoError(t, err)
		assert.Equal(t, kv.Success, st)
		assert.Equal(t, "gigi v2", string(v))

		_, st, err = txn.Get(ctx, "ent.Author", []byte{2})
		require.NoError(t, err)
		assert.Equal(t, kv.NotFound, st)
		return nil
	}))
	assert.Equal(t, 1, reopened.BucketLen("ent.Author"))
	assert.Equal(t, 1, reopened.BucketLen("idx.Author.Owners"))
}

func TestCommitLog_TornTailIsSkipped(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := Config{LockTimeout: time.Second, CommitLog: &CommitLogConfig{Dir: dir}}

	s, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, s.EnsureBucket(ctx, "b", false))
	require.NoError(t, kv.Update(ctx, s, func(txn kv.Txn) error {
		return txn.Put(ctx, "b", []byte("k"), []byte("v"))
	}))
	require.NoError(t, s.Close())

	files, err := filepath.Glob(filepath.Join(dir, "commitlog-*.log"))
	require.NoError(t, err)
	require.NotEmpty(t, files)
	f, err := os.OpenFile(files[len(files)-1], os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"seq":99,"ops":[{"op":"put","buc`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	reopened, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 1, reopened.BucketLen("b"))
	require.NoError(t, kv.Update(ctx, reopened, func(txn kv.Txn) error {
		return txn.Put(ctx, "b", []byte("k2"), []byte("v2"))
	}))
	require.NoError(t, reopened.Close())

	// the torn record was cut off, so the older segment replays cleanly
	again, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	defer again.Close()
	assert.Equal(t, 2, again.BucketLen("b"))
}

func TestCommitLog_CorruptMiddleFailsRecovery(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := Config{LockTimeout: time.Second, CommitLog: &CommitLogConfig{Dir: dir}}

	s, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, s.EnsureBucket(ctx, "b", false))
	require.NoError(t, s.Close())

	// a valid record after the damaged one rules out a torn write
	path := filepath.Join(dir, "commitlog-000000000001.log")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, append([]byte("garbage\n"), data...), 0644))

	_, err = New(cfg, zap.NewNop())
	require.Error(t, err)
}

func TestCompact(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := Config{LockTimeout: time.Second, CommitLog: &CommitLogConfig{Dir: dir}}

	s, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, s.EnsureBucket(ctx, "d", true))
	for i := 0; i < 5; i++ {
		require.NoError(t, kv.Update(ctx, s, func(txn kv.Txn) error {
			return txn.Put(ctx, "d", []byte("k"), []byte{byte(i)})
		}))
	}
	require.NoError(t, s.Compact(ctx))
	require.NoError(t, s.Close())

	files, err := filepath.Glob(filepath.Join(dir, "commitlog-*.log"))
	require.NoError(t, err)
	assert.Len(t, files, 1)

	reopened, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, 5, reopened.BucketLen("d"))
}

func TestWriterLockTimeout(t *testing.T) {
	ctx := context.Background()
	s, err := New(Config{LockTimeout: 20 * time.Millisecond}, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	writer, err := s.Begin(ctx, true)
	require.NoError(t, err)

	_, err = s.Begin(ctx, true)
	require.Error(t, err)
	assert.True(t, entityerrors.IsStoreError(err))
	assert.Equal(t, entityerrors.ErrCodeLockConflict, entityerrors.GetCode(err))

	_, err = s.Begin(ctx, false)
	assert.Equal(t, entityerrors.ErrCodeLockConflict, entityerrors.GetCode(err))

	require.NoError(t, writer.Commit())

	r1, err := s.Begin(ctx, false)
	require.NoError(t, err)
	r2, err := s.Begin(ctx, false)
	require.NoError(t, err, "readers share the lock")
	require.NoError(t, r1.Rollback())
	require.NoError(t, r2.Rollback())
}

func TestWaitingWriterIsServedUnderWriteLoad(t *testing.T) {
	ctx := context.Background()
	s, err := New(Config{LockTimeout: time.Second}, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.EnsureBucket(ctx, "b", false))

	var stop atomic.Bool
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; !stop.Load(); i++ {
				err := kv.Update(ctx, s, func(txn kv.Txn) error {
					time.Sleep(time.Millisecond)
					return txn.Put(ctx, "b", []byte{byte(w), byte(i)}, []byte("v"))
				})
				if err != nil {
					t.Errorf("busy writer %d: %v", w, err)
					return
				}
			}
		}(w)
	}

	for i := 0; i < 20; i++ {
		err := kv.Update(ctx, s, func(txn kv.Txn) error {
			return txn.Put(ctx, "b", []byte("waiting"), []byte{byte(i)})
		})
		require.NoError(t, err, "round %d", i)
	}
	stop.Store(true)
	wg.Wait()
}

func TestLockWaitHonoursContext(t *testing.T) {
	ctx := context.Background()
	s, err := New(Config{LockTimeout: time.Minute}, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	writer, err := s.Begin(ctx, true)
	require.NoError(t, err)

	cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = s.Begin(cctx, false)
	assert.Equal(t, entityerrors.ErrCodeUnavailable, entityerrors.GetCode(err))

	require.NoError(t, writer.Rollback())
}

func TestCursorSurvivesDeleteOfCurrentPair(t *testing.T) {
	ctx := context.Background()
	s, err := New(Config{}, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.EnsureBucket(ctx, "d", true))

	require.NoError(t, kv.Update(ctx, s, func(txn kv.Txn) error {
		for _, d := range []string{"1", "2", "3"} {
			require.NoError(t, txn.Put(ctx, "d", []byte("k"), []byte(d)))
		}

		c, err := txn.Cursor(ctx, "d")
		require.NoError(t, err)
		defer c.Close()

		st, err := c.SearchBoth([]byte("k"), []byte("2"))
		require.NoError(t, err)
		require.Equal(t, kv.Success, st)

		_, err = txn.DeleteDup(ctx, "d", []byte("k"), []byte("2"))
		require.NoError(t, err)

		st, err = c.NextDup()
		require.NoError(t, err)
		require.Equal(t, kv.Success, st)
		assert.Equal(t, "3", string(c.Data()))

		st, err = c.PrevDup()
		require.NoError(t, err)
		require.Equal(t, kv.Success, st)
		assert.Equal(t, "1", string(c.Data()))
		return nil
	}))
}

func TestClosedStore(t *testing.T) {
	s, err := New(Config{}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.Begin(context.Background(), false)
	assert.ErrorIs(t, err, entityerrors.ErrClosed)
}
