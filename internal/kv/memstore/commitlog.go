package memstore

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/devrev/entitydb/internal/errors"
	"github.com/devrev/entitydb/internal/util"
)

type opType string

const (
	opCreateBucket opType = "create_bucket"
	opDropBucket   opType = "drop_bucket"
	opPut          opType = "put"
	opDeleteDup    opType = "delete_dup"
)

// logOp is one replayable mutation.
type logOp struct {
	Op      opType `json:"op"`
	Bucket  string `json:"bucket"`
	DupSort bool   `json:"dup_sort,omitempty"`
	Key     []byte `json:"key,omitempty"`
	Data    []byte `json:"data,omitempty"`
}

// logRecord is one committed transaction, written as a JSON line.
type logRecord struct {
	Sequence uint64  `json:"seq"`
	TxnID    string  `json:"txn,omitempty"`
	Ops      []logOp `json:"ops"`
	Checksum uint32  `json:"checksum"`
}

func (r *logRecord) computeChecksum() (uint32, error) {
	payload, err := json.Marshal(struct {
		Sequence uint64  `json:"seq"`
		TxnID    string  `json:"txn"`
		Ops      []logOp `json:"ops"`
	}{r.Sequence, r.TxnID, r.Ops})
	if err != nil {
		return 0, err
	}
	return util.ComputeChecksum(payload), nil
}

// CommitLogConfig holds commit log configuration
type CommitLogConfig struct {
	Dir              string
	SegmentSize      int64
	SyncWrites       bool
	RotationInterval time.Duration
}

// CommitLog is an append-only log of committed transactions split into
// numbered segments.
type CommitLog struct {
	config      *CommitLogConfig
	currentFile *os.File
	logger      *zap.Logger
	mu          sync.Mutex
	segmentID   int64
	sequence    uint64
	stopChan    chan struct{}
	stopOnce    sync.Once
}

// OpenCommitLog prepares the log directory. Call Recover, then Start.
func OpenCommitLog(cfg *CommitLogConfig, logger *zap.Logger) (*CommitLog, error) {
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, errors.CommitLogFailed("failed to create commit log directory", err)
	}
	if cfg.SegmentSize <= 0 {
		cfg.SegmentSize = 64 << 20
	}
	if cfg.RotationInterval <= 0 {
		cfg.RotationInterval = time.Minute
	}
	return &CommitLog{
		config:   cfg,
		logger:   logger,
		stopChan: make(chan struct{}),
	}, nil
}

// Start opens a fresh segment for appends and starts the rotation checker.
func (l *CommitLog) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.openNewSegment(); err != nil {
		return err
	}
	go l.rotationChecker()
	return nil
}

// Append writes one committed transaction.
func (l *CommitLog) Append(txnID string, ops []logOp) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.currentFile == nil {
		return errors.Closed("commit log")
	}
	l.sequence++
	return l.writeRecord(l.currentFile, &logRecord{Sequence: l.sequence, TxnID: txnID, Ops: ops})
}

func (l *CommitLog) writeRecord(f *os.File, rec *logRecord) error {
	sum, err := rec.computeChecksum()
	if err != nil {
		return errors.CommitLogFailed("failed to marshal record", err)
	}
	rec.Checksum = sum

	data, err := json.Marshal(rec)
	if err != nil {
		return errors.CommitLogFailed("failed to marshal record", err)
	}
	data = append(data, '\n')

	if _, err := f.Write(data); err != nil {
		return errors.CommitLogFailed("failed to write to commit log", err)
	}
	if l.config.SyncWrites {
		if err := f.Sync(); err != nil {
			return errors.CommitLogFailed("failed to sync commit log", err)
		}
	}
	return nil
}

func (l *CommitLog) segmentPath(id int64) string {
	return filepath.Join(l.config.Dir, fmt.Sprintf("commitlog-%012d.log", id))
}

// openNewSegment creates the next numbered segment
func (l *CommitLog) openNewSegment() error {
	if l.currentFile != nil {
		l.currentFile.Close()
	}

	l.segmentID++
	path := l.segmentPath(l.segmentID)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return errors.CommitLogFailed("failed to open commit log file", err)
	}
	l.currentFile = file

	l.logger.Info("Opened new commit log segment", zap.String("path", path))
	return nil
}

// rotationChecker periodically checks if rotation is needed
func (l *CommitLog) rotationChecker() {
	ticker := time.NewTicker(l.config.RotationInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.checkRotation()
		case <-l.stopChan:
			return
		}
	}
}

func (l *CommitLog) checkRotation() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.currentFile == nil {
		return
	}
	info, err := l.currentFile.Stat()
	if err != nil {
		l.logger.Error("Failed to stat commit log", zap.Error(err))
		return
	}
	if info.Size() >= l.config.SegmentSize {
		l.logger.Info("Rotating commit log due to size",
			zap.Int64("size", info.Size()),
			zap.Int64("threshold", l.config.SegmentSize))
		if err := l.openNewSegment(); err != nil {
			l.logger.Error("Failed to rotate commit log", zap.Error(err))
		}
	}
}

func (l *CommitLog) segments() ([]string, error) {
	files, err := filepath.Glob(filepath.Join(l.config.Dir, "commitlog-*.log"))
	if err != nil {
		return nil, errors.CommitLogFailed("failed to list commit log files", err)
	}
	sort.Strings(files)
	return files, nil
}

// Recover replays every record through apply and returns the number of
// records replayed. A damaged final line of the newest segment is a torn
// write and is skipped; damage anywhere else fails recovery.
func (l *CommitLog) Recover(apply func(logOp) error) (int, error) {
	l.logger.Info("Starting commit log recovery", zap.String("dir", l.config.Dir))

	files, err := l.segments()
	if err != nil {
		return 0, err
	}

	recovered := 0
	for i, path := range files {
		var id int64
		if _, err := fmt.Sscanf(filepath.Base(path), "commitlog-%d.log", &id); err == nil && id > l.segmentID {
			l.segmentID = id
		}

		count, err := l.recoverFromFile(path, i == len(files)-1, apply)
		recovered += count
		if err != nil {
			return recovered, err
		}
	}

	l.logger.Info("Commit log recovery completed", zap.Int("records", recovered))
	return recovered, nil
}

func (l *CommitLog) recoverFromFile(path string, newest bool, apply func(logOp) error) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, errors.CommitLogFailed("failed to open commit log file", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 256<<20)

	var pending error
	var good int64
	count := 0
	for scanner.Scan() {
		if pending != nil {
			return count, pending
		}
		lineLen := int64(len(scanner.Bytes())) + 1

		var rec logRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			pending = errors.CommitLogFailed(fmt.Sprintf("unreadable record in %s", filepath.Base(path)), err)
			continue
		}
		sum, err := rec.computeChecksum()
		if err != nil || sum != rec.Checksum {
			pending = errors.ChecksumFailed(rec.Checksum, sum).WithDetail("file", filepath.Base(path))
			continue
		}

		for _, op := range rec.Ops {
			if err := apply(op); err != nil {
				return count, err
			}
		}
		if rec.Sequence > l.sequence {
			l.sequence = rec.Sequence
		}
		good += lineLen
		count++
	}
	if err := scanner.Err(); err != nil {
		return count, errors.CommitLogFailed("failed to read commit log", err)
	}

	if pending != nil {
		if !newest {
			return count, pending
		}
		l.logger.Warn("Truncating torn commit log record", zap.String("file", path), zap.Error(pending))
		if err := os.Truncate(path, good); err != nil {
			return count, errors.CommitLogFailed("failed to truncate torn record", err)
		}
	}
	return count, nil
}

// Rewrite replaces every segment with one holding a single snapshot record.
func (l *CommitLog) Rewrite(ops []logOp) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	old, err := l.segments()
	if err != nil {
		return err
	}
	if err := l.openNewSegment(); err != nil {
		return err
	}
	l.sequence++
	if err := l.writeRecord(l.currentFile, &logRecord{Sequence: l.sequence, Ops: ops}); err != nil {
		return err
	}
	if !l.config.SyncWrites {
		if err := l.currentFile.Sync(); err != nil {
			return errors.CommitLogFailed("failed to sync commit log", err)
		}
	}

	for _, path := range old {
		if err := os.Remove(path); err != nil {
			l.logger.Warn("Failed to remove compacted segment", zap.String("path", path), zap.Error(err))
		}
	}
	l.logger.Info("Commit log compacted", zap.Int("segments_removed", len(old)), zap.Int("ops", len(ops)))
	return nil
}

// Close stops rotation and closes the current segment.
func (l *CommitLog) Close() error {
	l.stopOnce.Do(func() { close(l.stopChan) })

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.currentFile != nil {
		err := l.currentFile.Close()
		l.currentFile = nil
		return err
	}
	return nil
}
