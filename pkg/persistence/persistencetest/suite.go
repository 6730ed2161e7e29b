// Package persistencetest holds behaviour checks shared by every IAllocationTreePersistence backend.
package persistencetest

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Layr-Labs/eigenx-claims-go/pkg/persistence"
	"github.com/Layr-Labs/eigenx-claims-go/pkg/testutil"
	"github.com/Layr-Labs/eigenx-claims-go/pkg/types"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) persistence.IAllocationTreePersistence

// Run executes the shared backend checks as subtests.
func Run(t *testing.T, newStore Factory) {
	t.Run("SaveAndLoad", func(t *testing.T) { testSaveAndLoad(t, newStore(t)) })
	t.Run("LoadNotFound", func(t *testing.T) { testLoadNotFound(t, newStore(t)) })
	t.Run("DuplicateName", func(t *testing.T) { testDuplicateName(t, newStore(t)) })
	t.Run("InvalidTree", func(t *testing.T) { testInvalidTree(t, newStore(t)) })
	t.Run("ChunkedLeaves", func(t *testing.T) { testChunkedLeaves(t, newStore(t)) })
	t.Run("ListTrees", func(t *testing.T) { testListTrees(t, newStore(t)) })
	t.Run("ActivateTree", func(t *testing.T) { testActivateTree(t, newStore(t)) })
	t.Run("ActivateUnknownTree", func(t *testing.T) { testActivateUnknownTree(t, newStore(t)) })
	t.Run("ConcurrentActivation", func(t *testing.T) { testConcurrentActivation(t, newStore(t)) })
	t.Run("ConcurrentSaveSameName", func(t *testing.T) { testConcurrentSaveSameName(t, newStore(t)) })
	t.Run("Close", func(t *testing.T) { testClose(t, newStore(t)) })
}

func testSaveAndLoad(t *testing.T, store persistence.IAllocationTreePersistence) {
	defer func() { _ = store.Close() }()

	tree := testutil.CreateTestTree(t, "season-1", 5)
	tree.Metadata.Labels = map[string]string{"season": "1"}
	require.NoError(t, store.SaveTree(tree))

	loaded, err := store.LoadTree(tree.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assertTreesEqual(t, tree, loaded)
	assert.False(t, loaded.IsActive)

	byName, err := store.LoadTreeByName("season-1")
	require.NoError(t, err)
	require.NotNil(t, byName)
	assert.Equal(t, tree.ID, byName.ID)

	exists, err := store.TreeNameExists("season-1")
	require.NoError(t, err)
	assert.True(t, exists)

	// Mutating a loaded tree must not change what is stored
	loaded.Leaves[0].Amount = types.NewAmountFromUint64(1)
	reloaded, err := store.LoadTree(tree.ID)
	require.NoError(t, err)
	assert.Equal(t, tree.Leaves[0].Amount.String(), reloaded.Leaves[0].Amount.String())

	require.NoError(t, store.HealthCheck())
}

func testLoadNotFound(t *testing.T, store persistence.IAllocationTreePersistence) {
	defer func() { _ = store.Close() }()

	tree, err := store.LoadTree("does-not-exist")
	require.NoError(t, err)
	assert.Nil(t, tree)

	tree, err = store.LoadTreeByName("does-not-exist")
	require.NoError(t, err)
	assert.Nil(t, tree)

	exists, err := store.TreeNameExists("does-not-exist")
	require.NoError(t, err)
	assert.False(t, exists)

	pointer, err := store.GetActivePointer()
	require.NoError(t, err)
	assert.Nil(t, pointer)

	trees, err := store.ListTrees()
	require.NoError(t, err)
	assert.Empty(t, trees)
}

func testDuplicateName(t *testing.T, store persistence.IAllocationTreePersistence) {
	defer func() { _ = store.Close() }()

	first := testutil.CreateTestTree(t, "dup", 3)
	require.NoError(t, store.SaveTree(first))

	second := testutil.CreateTestTree(t, "dup", 4)
	err := store.SaveTree(second)
	require.Error(t, err)

	var dupErr *types.DuplicateNameError
	require.True(t, errors.As(err, &dupErr), "expected DuplicateNameError, got %v", err)
	assert.Equal(t, "dup", dupErr.Name)

	// The rejected tree left nothing behind
	loaded, err := store.LoadTree(second.ID)
	require.NoError(t, err)
	assert.Nil(t, loaded)

	byName, err := store.LoadTreeByName("dup")
	require.NoError(t, err)
	require.NotNil(t, byName)
	assert.Equal(t, first.ID, byName.ID)
}

func testInvalidTree(t *testing.T, store persistence.IAllocationTreePersistence) {
	defer func() { _ = store.Close() }()

	require.Error(t, store.SaveTree(nil))

	noID := testutil.CreateTestTree(t, "no-id", 2)
	noID.ID = ""
	require.Error(t, store.SaveTree(noID))

	mismatch := testutil.CreateTestTree(t, "mismatch", 2)
	mismatch.TotalUsers = 3
	require.Error(t, store.SaveTree(mismatch))

	_, err := store.ActivateTree(nil)
	require.Error(t, err)
}

func testChunkedLeaves(t *testing.T, store persistence.IAllocationTreePersistence) {
	defer func() { _ = store.Close() }()

	n := persistence.LeavesPerChunk*2 + 17
	tree := testutil.CreateTestTree(t, "large", n)
	require.NoError(t, store.SaveTree(tree))

	loaded, err := store.LoadTree(tree.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Len(t, loaded.Leaves, n)
	for i, leaf := range loaded.Leaves {
		require.Equal(t, i, leaf.Index)
		require.Equal(t, tree.Leaves[i].WalletAddress, leaf.WalletAddress)
	}
	assert.Equal(t, tree.Leaves[n-1].Proof, loaded.Leaves[n-1].Proof)
}

func testListTrees(t *testing.T, store persistence.IAllocationTreePersistence) {
	defer func() { _ = store.Close() }()

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	names := []string{"c", "a", "b"}
	for i, name := range names {
		tree := testutil.CreateTestTree(t, name, i+1)
		tree.Metadata.CreatedAt = base.Add(time.Duration(len(names)-i) * time.Hour)
		require.NoError(t, store.SaveTree(tree))
	}

	trees, err := store.ListTrees()
	require.NoError(t, err)
	require.Len(t, trees, 3)

	// Oldest first: "b" was created earliest
	assert.Equal(t, "b", trees[0].Name)
	assert.Equal(t, "a", trees[1].Name)
	assert.Equal(t, "c", trees[2].Name)
	for _, tree := range trees {
		assert.Nil(t, tree.Leaves, "list should return summaries only")
		assert.NotNil(t, tree.TotalAmount)
	}
}

func testActivateTree(t *testing.T, store persistence.IAllocationTreePersistence) {
	defer func() { _ = store.Close() }()

	first := testutil.CreateTestTree(t, "first", 2)
	second := testutil.CreateTestTree(t, "second", 3)
	require.NoError(t, store.SaveTree(first))
	require.NoError(t, store.SaveTree(second))

	previous, err := store.ActivateTree(&types.ActivePointer{TreeID: first.ID, ActivatedAt: time.Now().UTC(), ActivatedBy: "ops"})
	require.NoError(t, err)
	assert.Nil(t, previous)

	previous, err = store.ActivateTree(&types.ActivePointer{TreeID: second.ID, ActivatedAt: time.Now().UTC(), ActivatedBy: "ops"})
	require.NoError(t, err)
	require.NotNil(t, previous)
	assert.Equal(t, first.ID, previous.TreeID)

	pointer, err := store.GetActivePointer()
	require.NoError(t, err)
	require.NotNil(t, pointer)
	assert.Equal(t, second.ID, pointer.TreeID)
	assert.Equal(t, "ops", pointer.ActivatedBy)

	loadedFirst, err := store.LoadTree(first.ID)
	require.NoError(t, err)
	assert.False(t, loadedFirst.IsActive)

	loadedSecond, err := store.LoadTree(second.ID)
	require.NoError(t, err)
	assert.True(t, loadedSecond.IsActive)

	assertSingleActive(t, store, second.ID)
}

func testActivateUnknownTree(t *testing.T, store persistence.IAllocationTreePersistence) {
	defer func() { _ = store.Close() }()

	tree := testutil.CreateTestTree(t, "only", 2)
	require.NoError(t, store.SaveTree(tree))
	_, err := store.ActivateTree(&types.ActivePointer{TreeID: tree.ID})
	require.NoError(t, err)

	_, err = store.ActivateTree(&types.ActivePointer{TreeID: "missing"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrTreeNotFound), "expected ErrTreeNotFound, got %v", err)

	// Previous active tree is untouched
	pointer, err := store.GetActivePointer()
	require.NoError(t, err)
	require.NotNil(t, pointer)
	assert.Equal(t, tree.ID, pointer.TreeID)
}

func testConcurrentActivation(t *testing.T, store persistence.IAllocationTreePersistence) {
	defer func() { _ = store.Close() }()

	const numTrees = 8
	ids := make([]string, numTrees)
	for i := 0; i < numTrees; i++ {
		tree := testutil.CreateTestTree(t, fmt.Sprintf("concurrent-%d", i), 2)
		require.NoError(t, store.SaveTree(tree))
		ids[i] = tree.ID
	}

	var wg sync.WaitGroup
	errs := make(chan error, numTrees)
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := store.ActivateTree(&types.ActivePointer{TreeID: id, ActivatedAt: time.Now().UTC()})
			errs <- err
		}(id)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	pointer, err := store.GetActivePointer()
	require.NoError(t, err)
	require.NotNil(t, pointer)
	assert.Contains(t, ids, pointer.TreeID)

	assertSingleActive(t, store, pointer.TreeID)
}

func testConcurrentSaveSameName(t *testing.T, store persistence.IAllocationTreePersistence) {
	defer func() { _ = store.Close() }()

	const writers = 6
	var wg sync.WaitGroup
	results := make(chan error, writers)
	for i := 0; i < writers; i++ {
		tree := testutil.CreateTestTree(t, "contended", i+1)
		wg.Add(1)
		go func(tree *types.AllocationTree) {
			defer wg.Done()
			results <- store.SaveTree(tree)
		}(tree)
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
			continue
		}
		var dupErr *types.DuplicateNameError
		require.True(t, errors.As(err, &dupErr), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, succeeded)

	trees, err := store.ListTrees()
	require.NoError(t, err)
	assert.Len(t, trees, 1)
}

func testClose(t *testing.T, store persistence.IAllocationTreePersistence) {
	require.NoError(t, store.Close())
	require.NoError(t, store.Close(), "Close should be idempotent")

	require.Error(t, store.HealthCheck())
	require.Error(t, store.SaveTree(testutil.CreateTestTree(t, "after-close", 1)))
	_, err := store.LoadTree("any")
	require.Error(t, err)
	_, err = store.ListTrees()
	require.Error(t, err)
	_, err = store.TreeNameExists("any")
	require.Error(t, err)
	_, err = store.GetActivePointer()
	require.Error(t, err)
}

func assertSingleActive(t *testing.T, store persistence.IAllocationTreePersistence, expectedID string) {
	t.Helper()

	trees, err := store.ListTrees()
	require.NoError(t, err)

	active := 0
	for _, tree := range trees {
		if tree.IsActive {
			active++
			assert.Equal(t, expectedID, tree.ID)
		}
	}
	assert.Equal(t, 1, active, "exactly one tree should be active")
}

func assertTreesEqual(t *testing.T, expected, actual *types.AllocationTree) {
	t.Helper()

	assert.Equal(t, expected.ID, actual.ID)
	assert.Equal(t, expected.Name, actual.Name)
	assert.Equal(t, expected.Description, actual.Description)
	assert.Equal(t, expected.Root, actual.Root)
	assert.Equal(t, expected.TotalAmount.String(), actual.TotalAmount.String())
	assert.Equal(t, expected.TotalUsers, actual.TotalUsers)
	assert.Equal(t, expected.Version, actual.Version)
	assert.Equal(t, expected.Metadata.CreatedBy, actual.Metadata.CreatedBy)
	assert.Equal(t, expected.Metadata.Source, actual.Metadata.Source)
	assert.Equal(t, expected.Metadata.Labels, actual.Metadata.Labels)
	assert.True(t, expected.Metadata.CreatedAt.Equal(actual.Metadata.CreatedAt))

	require.Len(t, actual.Leaves, len(expected.Leaves))
	for i := range expected.Leaves {
		assert.Equal(t, expected.Leaves[i].WalletAddress, actual.Leaves[i].WalletAddress)
		assert.Equal(t, expected.Leaves[i].Amount.String(), actual.Leaves[i].Amount.String())
		assert.Equal(t, expected.Leaves[i].Index, actual.Leaves[i].Index)
		assert.Equal(t, expected.Leaves[i].Proof, actual.Leaves[i].Proof)
	}
}
