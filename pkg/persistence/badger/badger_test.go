package badger

import (
	"testing"
	"time"

	badgerdb "github.com/dgraph-io/badger/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Layr-Labs/eigenx-claims-go/pkg/logger"
	"github.com/Layr-Labs/eigenx-claims-go/pkg/persistence"
	"github.com/Layr-Labs/eigenx-claims-go/pkg/persistence/persistencetest"
	"github.com/Layr-Labs/eigenx-claims-go/pkg/testutil"
	"github.com/Layr-Labs/eigenx-claims-go/pkg/types"
)

func newTestBadger(t *testing.T, dir string) *BadgerPersistence {
	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})

	bp, err := NewBadgerPersistence(dir, testLogger)
	require.NoError(t, err)
	return bp
}

func TestBadgerPersistence(t *testing.T) {
	persistencetest.Run(t, func(t *testing.T) persistence.IAllocationTreePersistence {
		return newTestBadger(t, t.TempDir())
	})
}

func TestBadgerPersistence_SurvivesRestart(t *testing.T) {
	tmpDir := t.TempDir()

	tree := testutil.CreateTestTree(t, "durable", persistence.LeavesPerChunk+5)

	bp := newTestBadger(t, tmpDir)
	require.NoError(t, bp.SaveTree(tree))
	_, err := bp.ActivateTree(&types.ActivePointer{TreeID: tree.ID, ActivatedAt: time.Now().UTC(), ActivatedBy: "ops"})
	require.NoError(t, err)
	require.NoError(t, bp.Close())

	// Reopen the same directory
	bp2 := newTestBadger(t, tmpDir)
	defer func() { _ = bp2.Close() }()

	loaded, err := bp2.LoadTree(tree.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, tree.Root, loaded.Root)
	assert.Len(t, loaded.Leaves, tree.TotalUsers)
	assert.True(t, loaded.IsActive)

	pointer, err := bp2.GetActivePointer()
	require.NoError(t, err)
	require.NotNil(t, pointer)
	assert.Equal(t, tree.ID, pointer.TreeID)
	assert.Equal(t, "ops", pointer.ActivatedBy)
}

func TestBadgerPersistence_DuplicateNameLeavesNoChunks(t *testing.T) {
	bp := newTestBadger(t, t.TempDir())
	defer func() { _ = bp.Close() }()

	require.NoError(t, bp.SaveTree(testutil.CreateTestTree(t, "taken", 2)))

	rejected := testutil.CreateTestTree(t, "taken", 3)
	require.Error(t, bp.SaveTree(rejected))

	count := 0
	err := bp.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(leavesPrefix(rejected.ID))
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	require.NoError(t, err)
	assert.Zero(t, count, "rejected tree should not leave leaf chunks behind")
}

func TestBadgerPersistence_SchemaVersionMismatch(t *testing.T) {
	tmpDir := t.TempDir()

	bp := newTestBadger(t, tmpDir)
	err := bp.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set([]byte(keySchemaVersion), []byte("v0"))
	})
	require.NoError(t, err)
	require.NoError(t, bp.Close())

	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	_, err = NewBadgerPersistence(tmpDir, testLogger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported schema version")
}

func TestLeavesKey_SortsNumerically(t *testing.T) {
	assert.Less(t, string(leavesKey("id", 9)), string(leavesKey("id", 10)))
	assert.Less(t, string(leavesKey("id", 99)), string(leavesKey("id", 100)))
}

