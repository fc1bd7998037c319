package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"varianthunter/internal/config"
	badgerstore "varianthunter/internal/infra/persistence/badger"
	"varianthunter/internal/infra/persistence/memory"
	"varianthunter/internal/infra/persistence/postgres"
	"varianthunter/internal/infra/persistence/sqlite"
)

// StorageDriver identifies a concrete durable document store.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // process memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
	StorageBadger   StorageDriver = "badger"   // embedded badger key-value store
)

// OpenDocumentStore selects a durable store from configuration. slogger
// receives badger's internal logs and may be nil.
func OpenDocumentStore(ctx context.Context, cfg config.StorageConfig, slogger *slog.Logger) (DocumentStore, error) {
	switch StorageDriver(cfg.Driver) {
	case StorageMemory:
		return NewMemoryDocumentStore(), nil
	case StorageSQLite:
		return sqlite.NewStore(cfg.SQLitePath)
	case StoragePostgres:
		return postgres.NewStore(ctx, cfg.PostgresDSN)
	case StorageBadger:
		bcfg := badgerstore.DefaultConfig(cfg.BadgerPath)
		if cfg.BadgerInMemory {
			bcfg = badgerstore.InMemoryConfig()
		}
		bcfg.Logger = slogger
		return badgerstore.Open(bcfg)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", cfg.Driver)
	}
}

// MemoryDocumentStore keeps the last saved snapshot in process memory. The
// snapshot is stored in its encoded bucket form so callers never share maps.
type MemoryDocumentStore struct {
	mu      sync.Mutex
	buckets map[string][]byte
	saves   int
}

// NewMemoryDocumentStore returns an empty in-process document store.
func NewMemoryDocumentStore() *MemoryDocumentStore {
	return &MemoryDocumentStore{}
}

// Load implements DocumentStore.
func (m *MemoryDocumentStore) Load(context.Context) (memory.Snapshot, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.buckets == nil {
		return memory.Snapshot{}, false, nil
	}
	s, err := memory.DecodeBuckets(m.buckets)
	if err != nil {
		return memory.Snapshot{}, false, err
	}
	return s, true, nil
}

// Save implements DocumentStore.
func (m *MemoryDocumentStore) Save(_ context.Context, snapshot memory.Snapshot) error {
	buckets, err := memory.EncodeBuckets(snapshot)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.buckets = buckets
	m.saves++
	m.mu.Unlock()
	return nil
}

// Saves reports how many snapshots have been written.
func (m *MemoryDocumentStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// Close implements DocumentStore.
func (m *MemoryDocumentStore) Close() error { return nil }
