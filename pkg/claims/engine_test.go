package claims

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Layr-Labs/eigenx-claims-go/pkg/cache"
	"github.com/Layr-Labs/eigenx-claims-go/pkg/metrics"
	"github.com/Layr-Labs/eigenx-claims-go/pkg/persistence/memory"
	"github.com/Layr-Labs/eigenx-claims-go/pkg/testutil"
	"github.com/Layr-Labs/eigenx-claims-go/pkg/types"
)

const (
	walletA      = "0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA1"
	walletALower = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa1"
	walletB      = "0xBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB2"
	walletBLower = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb2"
	walletC      = "0xccccccccccccccccccccccccccccccccccccccc3"
)

func newTestEngine(t *testing.T) (*Engine, *memory.MemoryPersistence) {
	t.Helper()
	store := memory.NewMemoryPersistence()
	t.Cleanup(func() { _ = store.Close() })
	return NewEngine(store, cache.NewMemoryCache(time.Minute, 0, zap.NewNop()), metrics.New(), zap.NewNop()), store
}

func scenarioRequest(name string) *CreateTreeRequest {
	return &CreateTreeRequest{
		Name:        name,
		Description: "season one airdrop",
		CreatedBy:   "admin",
		Allocations: []*types.RawAllocation{
			{WalletAddress: walletA, Amount: "100"},
			{WalletAddress: walletALower, Amount: "50"},
			{WalletAddress: walletB, Amount: "200"},
		},
	}
}

func TestEngine_Create_ConcreteScenario(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	tree, err := engine.Create(ctx, scenarioRequest("season-1"))
	require.NoError(t, err)

	require.Len(t, tree.Leaves, 2)
	assert.Equal(t, 2, tree.TotalUsers)
	assert.Equal(t, "350", tree.TotalAmount.String())
	assert.False(t, tree.IsActive)
	assert.NotEmpty(t, tree.ID)
	assert.Equal(t, types.SourceAPI, tree.Metadata.Source)
	assert.Equal(t, "admin", tree.Metadata.CreatedBy)

	leafA := GetProofForWallet(tree, walletA)
	require.NotNil(t, leafA)
	assert.Equal(t, walletALower, leafA.WalletAddress)
	assert.Equal(t, "150", leafA.Amount.String())

	leafB := GetProofForWallet(tree, walletBLower)
	require.NotNil(t, leafB)
	assert.Equal(t, "200", leafB.Amount.String())
	assert.NotEqual(t, leafA.Index, leafB.Index)

	for _, leaf := range []*types.Leaf{leafA, leafB} {
		assert.True(t, engine.VerifyProof(leaf.WalletAddress, leaf.Amount.BigInt(), leaf.Proof, tree.Root))
	}

	assert.Nil(t, GetProofForWallet(tree, walletC))

	// Persisted and listed
	trees, err := engine.ListTrees(ctx)
	require.NoError(t, err)
	require.Len(t, trees, 1)
	assert.Equal(t, tree.Root, trees[0].Root)
}

func TestEngine_Create_DeterministicUnderPermutation(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	raw := testutil.CreateTestAllocations(25)
	raw = append(raw, &types.RawAllocation{WalletAddress: raw[3].WalletAddress, Amount: "7"})

	first, err := engine.Create(ctx, &CreateTreeRequest{Name: "perm-0", Allocations: raw})
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(42))
	for i := 1; i <= 5; i++ {
		shuffled := make([]*types.RawAllocation, len(raw))
		copy(shuffled, raw)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

		tree, err := engine.Create(ctx, &CreateTreeRequest{Name: fmt.Sprintf("perm-%d", i), Allocations: shuffled})
		require.NoError(t, err)

		assert.Equal(t, first.Root, tree.Root)
		require.Len(t, tree.Leaves, len(first.Leaves))
		for j := range first.Leaves {
			assert.Equal(t, first.Leaves[j].WalletAddress, tree.Leaves[j].WalletAddress)
			assert.Equal(t, first.Leaves[j].Proof, tree.Leaves[j].Proof)
		}
	}
}

func TestEngine_Create_Errors(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.Create(ctx, &CreateTreeRequest{Name: "  ", Allocations: testutil.CreateTestAllocations(1)})
	require.ErrorIs(t, err, ErrNameRequired)

	_, err = engine.Create(ctx, scenarioRequest("taken"))
	require.NoError(t, err)

	_, err = engine.Create(ctx, scenarioRequest("taken"))
	var dupErr *types.DuplicateNameError
	require.True(t, errors.As(err, &dupErr), "expected DuplicateNameError, got %v", err)

	bad := scenarioRequest("bad")
	bad.Allocations = append(bad.Allocations, &types.RawAllocation{WalletAddress: "0x123", Amount: "1"})
	_, err = engine.Create(ctx, bad)
	var invalidErr *types.InvalidAllocationError
	require.True(t, errors.As(err, &invalidErr), "expected InvalidAllocationError, got %v", err)
	assert.Equal(t, 3, invalidErr.Index)

	negative := scenarioRequest("negative")
	negative.Allocations[1].Amount = "-5"
	_, err = engine.Create(ctx, negative)
	require.True(t, errors.As(err, &invalidErr))

	// Failed imports persist nothing
	trees, err := engine.ListTrees(ctx)
	require.NoError(t, err)
	require.Len(t, trees, 1)
	assert.Equal(t, "taken", trees[0].Name)
}

func TestEngine_CreateFromFile(t *testing.T) {
	engine, _ := newTestEngine(t)

	path := filepath.Join(t.TempDir(), "allocations.csv")
	content := "wallet,amount\n" + walletA + ",100\n\n" + walletALower + ",50\n" + walletB + ",200\nbroken-line\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	tree, err := engine.CreateFromFile(context.Background(), &CreateTreeRequest{Name: "from-csv", CreatedBy: "cli"}, path)
	require.NoError(t, err)
	assert.Equal(t, "350", tree.TotalAmount.String())
	assert.Equal(t, types.SourceCSV, tree.Metadata.Source)
	assert.Len(t, tree.Leaves, 2)
}

func TestEngine_Activate(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	active, err := engine.GetActiveTree(ctx)
	require.NoError(t, err)
	assert.Nil(t, active)

	first, err := engine.Create(ctx, scenarioRequest("first"))
	require.NoError(t, err)
	second, err := engine.Create(ctx, &CreateTreeRequest{Name: "second", Allocations: testutil.CreateTestAllocations(4)})
	require.NoError(t, err)

	require.NoError(t, engine.Activate(ctx, first.ID, "ops"))
	active, err = engine.GetActiveTree(ctx)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, first.ID, active.ID)
	assert.True(t, active.IsActive)

	summary, err := engine.GetActiveSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.Root, summary.Root)
	assert.True(t, summary.IsActive)
	assert.Nil(t, summary.Leaves)

	require.NoError(t, engine.Activate(ctx, second.ID, "ops"))
	active, err = engine.GetActiveTree(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, active.ID)

	trees, err := engine.ListTrees(ctx)
	require.NoError(t, err)
	activeCount := 0
	for _, tree := range trees {
		if tree.IsActive {
			activeCount++
		}
	}
	assert.Equal(t, 1, activeCount)

	err = engine.Activate(ctx, "missing", "ops")
	require.ErrorIs(t, err, types.ErrTreeNotFound)

	active, err = engine.GetActiveTree(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, active.ID, "failed activation must keep the previous tree active")
}

func TestEngine_Activate_RejectsCorruptTree(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	good, err := engine.Create(ctx, scenarioRequest("good"))
	require.NoError(t, err)
	require.NoError(t, engine.Activate(ctx, good.ID, "ops"))

	corrupt := testutil.CreateTestTree(t, "corrupt", 4)
	corrupt.TotalAmount = types.NewAmountFromUint64(1)
	require.NoError(t, store.SaveTree(corrupt))

	err = engine.Activate(ctx, corrupt.ID, "ops")
	var integrityErr *types.IntegrityError
	require.True(t, errors.As(err, &integrityErr), "expected IntegrityError, got %v", err)
	assert.Equal(t, corrupt.ID, integrityErr.TreeID)
	assert.Contains(t, integrityErr.Reason, "totalAmount")

	active, err := engine.GetActiveTree(ctx)
	require.NoError(t, err)
	assert.Equal(t, good.ID, active.ID)
}

func TestEngine_Activate_RejectsReorderedLeaves(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	reordered := testutil.CreateTestTree(t, "reordered", 5)
	reordered.Leaves[0], reordered.Leaves[1] = reordered.Leaves[1], reordered.Leaves[0]
	require.NoError(t, store.SaveTree(reordered))

	err := engine.Activate(ctx, reordered.ID, "ops")
	var integrityErr *types.IntegrityError
	require.True(t, errors.As(err, &integrityErr), "expected IntegrityError, got %v", err)

	result, err := engine.IsEligible(ctx, "0x0000000000000000000000000000000000000001")
	require.NoError(t, err)
	assert.False(t, result.Eligible)
	assert.Empty(t, result.TreeID)
}

func TestEngine_ConcurrentActivation(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	ids := make([]string, 6)
	for i := range ids {
		tree, err := engine.Create(ctx, &CreateTreeRequest{Name: fmt.Sprintf("tree-%d", i), Allocations: testutil.CreateTestAllocations(i + 1)})
		require.NoError(t, err)
		ids[i] = tree.ID
	}

	var wg sync.WaitGroup
	for round := 0; round < 3; round++ {
		for _, id := range ids {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				assert.NoError(t, engine.Activate(ctx, id, "race"))
			}(id)
		}
	}
	wg.Wait()

	trees, err := engine.ListTrees(ctx)
	require.NoError(t, err)
	activeCount := 0
	activeID := ""
	for _, tree := range trees {
		if tree.IsActive {
			activeCount++
			activeID = tree.ID
		}
	}
	require.Equal(t, 1, activeCount)

	active, err := engine.GetActiveTree(ctx)
	require.NoError(t, err)
	assert.Equal(t, activeID, active.ID)
}

func TestEngine_IsEligible(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	// No active tree is not an error
	result, err := engine.IsEligible(ctx, walletA)
	require.NoError(t, err)
	assert.False(t, result.Eligible)
	assert.Empty(t, result.TreeID)

	tree, err := engine.Create(ctx, scenarioRequest("eligibility"))
	require.NoError(t, err)
	require.NoError(t, engine.Activate(ctx, tree.ID, "ops"))

	for i := 0; i < 2; i++ { // second pass is served from the cache
		result, err = engine.IsEligible(ctx, walletA)
		require.NoError(t, err)
		require.True(t, result.Eligible)
		assert.Equal(t, walletALower, result.WalletAddress)
		assert.Equal(t, "150", result.Amount.String())
		assert.Equal(t, tree.ID, result.TreeID)
		assert.Equal(t, tree.Root, result.Root)
		assert.True(t, engine.VerifyProof(result.WalletAddress, result.Amount.BigInt(), result.Proof, result.Root))
	}

	result, err = engine.IsEligible(ctx, walletC)
	require.NoError(t, err)
	assert.False(t, result.Eligible)
	assert.Equal(t, tree.ID, result.TreeID)
	assert.Nil(t, result.Proof)

	_, err = engine.IsEligible(ctx, "not-an-address")
	require.ErrorIs(t, err, ErrInvalidWalletAddress)
}

func TestEngine_FollowsActivationFromAnotherEngine(t *testing.T) {
	store := memory.NewMemoryPersistence()
	defer func() { _ = store.Close() }()

	admin := NewEngine(store, nil, nil, zap.NewNop())
	reader := NewEngine(store, cache.NewMemoryCache(time.Minute, 0, zap.NewNop()), nil, zap.NewNop())
	ctx := context.Background()

	first, err := admin.Create(ctx, scenarioRequest("first"))
	require.NoError(t, err)
	second, err := admin.Create(ctx, &CreateTreeRequest{
		Name:        "second",
		Allocations: []*types.RawAllocation{{WalletAddress: walletA, Amount: "999"}},
	})
	require.NoError(t, err)

	require.NoError(t, admin.Activate(ctx, first.ID, "ops"))
	result, err := reader.IsEligible(ctx, walletA)
	require.NoError(t, err)
	assert.Equal(t, "150", result.Amount.String())

	// The reader never saw this activation, and its cache still holds the old proof
	require.NoError(t, admin.Activate(ctx, second.ID, "ops"))
	result, err = reader.IsEligible(ctx, walletA)
	require.NoError(t, err)
	assert.Equal(t, second.ID, result.TreeID)
	assert.Equal(t, "999", result.Amount.String())
}

func TestEngine_VerifyClaim(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	tree, err := engine.Create(ctx, scenarioRequest("claims"))
	require.NoError(t, err)
	leaf := GetProofForWallet(tree, walletB)
	require.NotNil(t, leaf)

	// No active tree
	ok, err := engine.VerifyClaim(ctx, walletB, leaf.Amount.BigInt(), leaf.Proof)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, engine.Activate(ctx, tree.ID, "ops"))

	ok, err = engine.VerifyClaim(ctx, walletB, leaf.Amount.BigInt(), leaf.Proof)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = engine.VerifyClaim(ctx, walletB, big.NewInt(201), leaf.Proof)
	require.NoError(t, err)
	assert.False(t, ok)

	// Non-member wallet presenting another leaf's proof
	ok, err = engine.VerifyClaim(ctx, walletC, leaf.Amount.BigInt(), leaf.Proof)
	require.NoError(t, err)
	assert.False(t, ok)

	tampered := make([]common.Hash, len(leaf.Proof))
	copy(tampered, leaf.Proof)
	tampered[0][31] ^= 0x01
	ok, err = engine.VerifyClaim(ctx, walletB, leaf.Amount.BigInt(), tampered)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEngine_ValidateTree(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	tree, err := engine.Create(ctx, scenarioRequest("validate"))
	require.NoError(t, err)

	result, err := engine.ValidateTree(ctx, tree.ID)
	require.NoError(t, err)
	assert.True(t, result.Valid)

	_, err = engine.ValidateTree(ctx, "missing")
	require.ErrorIs(t, err, types.ErrTreeNotFound)
}

func TestEngine_CanceledContext(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := engine.Create(ctx, scenarioRequest("canceled"))
	require.ErrorIs(t, err, context.Canceled)

	_, err = engine.IsEligible(ctx, walletA)
	require.ErrorIs(t, err, context.Canceled)
}
