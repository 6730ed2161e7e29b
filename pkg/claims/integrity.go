package claims

import (
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/Layr-Labs/eigenx-claims-go/pkg/merkle"
	"github.com/Layr-Labs/eigenx-claims-go/pkg/types"
)

// ValidateIntegrity checks everything activation depends on:
//   - leaf indices are unique and cover [0, N)
//   - leaves are ordered by lower-case address with no duplicates
//   - TotalUsers is N and TotalAmount is the exact sum of leaf amounts
//   - the root recomputed from the leaves matches the stored root
//   - every stored proof verifies against that root
func ValidateIntegrity(tree *types.AllocationTree) types.IntegrityResult {
	if reason := integrityViolation(tree); reason != "" {
		return types.IntegrityResult{Valid: false, Reason: reason}
	}
	return types.IntegrityResult{Valid: true}
}

func integrityViolation(tree *types.AllocationTree) string {
	if tree == nil {
		return "tree is nil"
	}
	if tree.Version != types.TreeFormatVersion {
		return fmt.Sprintf("unsupported tree version %d (expected %d)", tree.Version, types.TreeFormatVersion)
	}

	n := len(tree.Leaves)
	if n == 0 {
		return "tree has no leaves"
	}
	if tree.TotalUsers != n {
		return fmt.Sprintf("totalUsers is %d but tree has %d leaves", tree.TotalUsers, n)
	}

	for pos, leaf := range tree.Leaves {
		if leaf == nil {
			return fmt.Sprintf("leaf at position %d is nil", pos)
		}
		if leaf.Index < 0 || leaf.Index >= n {
			return fmt.Sprintf("leaf index %d out of range [0, %d)", leaf.Index, n)
		}
		// Lookups binary-search the slice, so storage order must be index order
		if leaf.Index != pos {
			return fmt.Sprintf("leaf at position %d has index %d", pos, leaf.Index)
		}
	}
	byIndex := tree.Leaves

	sum := new(big.Int)
	allocs := make([]*types.Allocation, n)
	for i, leaf := range byIndex {
		if !merkle.IsCanonicalAddress(leaf.WalletAddress) || leaf.WalletAddress != strings.ToLower(leaf.WalletAddress) {
			return fmt.Sprintf("leaf %d has non-canonical wallet address %q", i, leaf.WalletAddress)
		}
		if i > 0 && byIndex[i-1].WalletAddress >= leaf.WalletAddress {
			return fmt.Sprintf("leaf %d (%s) is not sorted after leaf %d (%s)", i, leaf.WalletAddress, i-1, byIndex[i-1].WalletAddress)
		}
		if leaf.Amount == nil || !leaf.Amount.FitsUint256() {
			return fmt.Sprintf("leaf %d has an amount outside uint256", i)
		}

		sum.Add(sum, leaf.Amount.BigInt())
		allocs[i] = &types.Allocation{WalletAddress: leaf.WalletAddress, Amount: leaf.Amount}
	}

	if tree.TotalAmount == nil || tree.TotalAmount.BigInt().Cmp(sum) != 0 {
		return fmt.Sprintf("totalAmount is %s but leaf amounts sum to %s", tree.TotalAmount.String(), sum.String())
	}

	mt, err := merkle.BuildAllocationTree(allocs)
	if err != nil {
		return fmt.Sprintf("failed to rebuild tree: %v", err)
	}
	if mt.Root != [32]byte(tree.Root) {
		return fmt.Sprintf("stored root %s does not match recomputed root %#x", tree.Root.Hex(), mt.Root)
	}

	for i, leaf := range byIndex {
		if !merkle.VerifyAllocationProof(leaf.WalletAddress, leaf.Amount.BigInt(), leaf.Proof, tree.Root) {
			return fmt.Sprintf("proof for leaf %d (%s) does not verify", i, leaf.WalletAddress)
		}
	}

	return ""
}

// GetProofForWallet returns the leaf of wallet (matched case-insensitively), or nil when
// the wallet is not in the tree. Leaves must be in index order, as built.
func GetProofForWallet(tree *types.AllocationTree, wallet string) *types.Leaf {
	if tree == nil {
		return nil
	}

	wallet = strings.ToLower(strings.TrimSpace(wallet))
	leaves := tree.Leaves
	i := sort.Search(len(leaves), func(i int) bool {
		return leaves[i].WalletAddress >= wallet
	})
	if i < len(leaves) && leaves[i].WalletAddress == wallet {
		return leaves[i].DeepCopy()
	}
	return nil
}
