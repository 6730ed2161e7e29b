package allocation

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/Layr-Labs/eigenx-claims-go/pkg/merkle"
	"github.com/Layr-Labs/eigenx-claims-go/pkg/types"
)

// BuildTree builds the merkle tree over normalized allocations and attaches the proof of
// every leaf. Identity and metadata (ID, Name, Description, Metadata) are left to the caller.
func BuildTree(allocs []*types.Allocation) (*types.AllocationTree, error) {
	mt, err := merkle.BuildAllocationTree(allocs)
	if err != nil {
		return nil, err
	}

	proofs := mt.GenerateAllProofs()
	leaves := make([]*types.Leaf, len(allocs))
	for i, alloc := range allocs {
		proof := make([]common.Hash, len(proofs[i]))
		for j, p := range proofs[i] {
			proof[j] = common.Hash(p)
		}
		leaves[i] = &types.Leaf{
			WalletAddress: alloc.WalletAddress,
			Amount:        types.NewAmount(alloc.Amount.BigInt()),
			Index:         i,
			Proof:         proof,
		}
	}

	return &types.AllocationTree{
		Root:        common.Hash(mt.Root),
		TotalAmount: types.NewAmount(TotalAmount(allocs)),
		TotalUsers:  len(allocs),
		Leaves:      leaves,
		Version:     types.TreeFormatVersion,
	}, nil
}
