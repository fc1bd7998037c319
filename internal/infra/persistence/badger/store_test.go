package badger

import (
	"context"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"varianthunter/internal/infra/persistence/memory"
	"varianthunter/pkg/domain"
)

func snapshotWithAnalysis(t *testing.T) memory.Snapshot {
	t.Helper()
	mem := memory.NewStore(nil)
	_, err := mem.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.AddAnalysis(domain.Analysis{Rows: []domain.MutationRow{{Protein: "S", Mutation: "E484K"}}})
		return err
	})
	require.NoError(t, err)
	return mem.ExportState()
}

func TestInMemoryStoreRoundTrip(t *testing.T) {
	store, err := Open(InMemoryConfig())
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	_, ok, err := store.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "fresh database must report no document")

	require.NoError(t, store.Save(ctx, snapshotWithAnalysis(t)))
	snap, ok, err := store.Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, snap.Analyses, 1)
	assert.Equal(t, "S_E484K", snap.Analyses[0].Rows[0].ItemKey())

	err = store.DB().View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(keyPrefix + "session"))
		return err
	})
	assert.NoError(t, err)
}

func TestPersistentStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.GCInterval = time.Hour
	store, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), snapshotWithAnalysis(t)))
	require.NoError(t, store.Close())

	reopened, err := Open(DefaultConfig(dir))
	require.NoError(t, err)
	defer reopened.Close()
	snap, ok, err := reopened.Load(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, snap.Analyses, 1)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}

func TestCancelledContext(t *testing.T) {
	store, err := Open(InMemoryConfig())
	require.NoError(t, err)
	defer store.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, store.Save(ctx, memory.Snapshot{}))
	_, _, err = store.Load(ctx)
	assert.Error(t, err)
}
