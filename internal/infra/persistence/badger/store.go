// Package badger persists the session document in an embedded BadgerDB,
// one key per bucket under a common prefix.
package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"varianthunter/internal/infra/persistence/memory"
)

const keyPrefix = "session/"

// Config holds configuration for the BadgerDB instance.
type Config struct {
	// Path is the database directory. Ignored when InMemory is true.
	Path string
	// InMemory keeps all data in RAM. Used by tests.
	InMemory bool
	// SyncWrites fsyncs every commit.
	SyncWrites bool
	// Logger receives BadgerDB's internal logs. Nil disables them.
	Logger *slog.Logger
	// GCInterval controls value log garbage collection. Zero disables it.
	GCInterval time.Duration
	// GCDiscardRatio is the minimum garbage ratio before a value log is rewritten.
	GCDiscardRatio float64
}

// DefaultConfig returns production defaults rooted at path.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns configuration for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Store is a BadgerDB-backed document store.
type Store struct {
	db     *badger.DB
	stopGC chan struct{}
	gcDone chan struct{}
	once   sync.Once
}

// Open opens the database described by cfg and starts value log GC when
// an interval is configured.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	s := &Store{db: db}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.stopGC = make(chan struct{})
		s.gcDone = make(chan struct{})
		go s.runGC(cfg.GCInterval, cfg.GCDiscardRatio)
	}
	return s, nil
}

func (s *Store) runGC(interval time.Duration, ratio float64) {
	defer close(s.gcDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopGC:
			return
		case <-ticker.C:
			// RunValueLogGC returns ErrNoRewrite once nothing is left to collect.
			for s.db.RunValueLogGC(ratio) == nil {
			}
		}
	}
}

// Load returns the stored snapshot. The boolean is false when no bucket
// key exists.
func (s *Store) Load(ctx context.Context) (memory.Snapshot, bool, error) {
	if err := ctx.Err(); err != nil {
		return memory.Snapshot{}, false, err
	}
	payloads := make(map[string][]byte)
	err := s.db.View(func(txn *badger.Txn) error {
		for _, bucket := range memory.Buckets {
			item, err := txn.Get([]byte(keyPrefix + bucket))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return fmt.Errorf("get %s: %w", bucket, err)
			}
			val, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("read %s: %w", bucket, err)
			}
			payloads[bucket] = val
		}
		return nil
	})
	if err != nil {
		return memory.Snapshot{}, false, err
	}
	if len(payloads) == 0 {
		return memory.Snapshot{}, false, nil
	}
	snapshot, err := memory.DecodeBuckets(payloads)
	if err != nil {
		return memory.Snapshot{}, false, err
	}
	return snapshot, true, nil
}

// Save writes every bucket in a single badger transaction.
func (s *Store) Save(ctx context.Context, snapshot memory.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payloads, err := memory.EncodeBuckets(snapshot)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		for _, bucket := range memory.Buckets {
			if err := txn.Set([]byte(keyPrefix+bucket), payloads[bucket]); err != nil {
				return fmt.Errorf("set %s: %w", bucket, err)
			}
		}
		return nil
	})
}

// Close stops GC and closes the database.
func (s *Store) Close() error {
	s.once.Do(func() {
		if s.stopGC != nil {
			close(s.stopGC)
			<-s.gcDone
		}
	})
	return s.db.Close()
}

// DB exposes the underlying database for tests.
func (s *Store) DB() *badger.DB { return s.db }
