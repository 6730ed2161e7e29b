package testutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/Layr-Labs/eigenx-claims-go/pkg/allocation"
	"github.com/Layr-Labs/eigenx-claims-go/pkg/types"
)

// CreateTestAllocations creates n raw allocations with distinct wallets and amounts 1000*(i+1)
func CreateTestAllocations(n int) []*types.RawAllocation {
	raw := make([]*types.RawAllocation, n)
	for i := 0; i < n; i++ {
		raw[i] = &types.RawAllocation{
			WalletAddress: fmt.Sprintf("0x%040x", i+1),
			Amount:        fmt.Sprintf("%d", 1000*(i+1)),
		}
	}
	return raw
}

// CreateTestTree builds a complete, valid tree over n generated allocations
func CreateTestTree(t *testing.T, name string, n int) *types.AllocationTree {
	t.Helper()

	allocs, err := allocation.Normalize(CreateTestAllocations(n))
	require.NoError(t, err)

	tree, err := allocation.BuildTree(allocs)
	require.NoError(t, err)

	tree.ID = uuid.NewString()
	tree.Name = name
	tree.Description = "test tree " + name
	tree.Metadata = types.TreeMetadata{
		CreatedBy: "test",
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
		Source:    types.SourceAPI,
	}
	return tree
}
