package allocation

import (
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/Layr-Labs/eigenx-claims-go/pkg/merkle"
	"github.com/Layr-Labs/eigenx-claims-go/pkg/types"
)

// Normalize validates raw allocations and turns them into the ordered leaf list of a tree.
//
// Addresses are lower-cased, duplicate addresses are merged by summing their amounts,
// and the result is sorted by lower-case hex address. The position of each entry in the
// returned slice is its leaf index. Any malformed record aborts the whole import with
// an *types.InvalidAllocationError.
func Normalize(raw []*types.RawAllocation) ([]*types.Allocation, error) {
	if len(raw) == 0 {
		return nil, &types.InvalidAllocationError{Index: -1, Reason: "allocation list is empty"}
	}

	totals := make(map[string]*big.Int, len(raw))
	for i, r := range raw {
		if r == nil {
			return nil, &types.InvalidAllocationError{Index: i, Reason: "record is nil"}
		}

		wallet := strings.TrimSpace(r.WalletAddress)
		if !merkle.IsCanonicalAddress(wallet) {
			return nil, &types.InvalidAllocationError{
				Index:         i,
				WalletAddress: r.WalletAddress,
				Amount:        r.Amount,
				Reason:        "wallet address must be 0x followed by 40 hex digits",
			}
		}

		amount, err := types.ParseAmount(r.Amount)
		if err != nil {
			return nil, &types.InvalidAllocationError{
				Index:         i,
				WalletAddress: r.WalletAddress,
				Amount:        r.Amount,
				Reason:        err.Error(),
			}
		}

		wallet = strings.ToLower(wallet)
		sum, exists := totals[wallet]
		if !exists {
			sum = new(big.Int)
			totals[wallet] = sum
		}
		sum.Add(sum, amount.BigInt())

		if sum.BitLen() > types.MaxAmountBits {
			return nil, &types.InvalidAllocationError{
				Index:         i,
				WalletAddress: r.WalletAddress,
				Amount:        r.Amount,
				Reason:        fmt.Sprintf("total amount for %s exceeds uint256", wallet),
			}
		}
	}

	wallets := make([]string, 0, len(totals))
	for wallet := range totals {
		wallets = append(wallets, wallet)
	}
	sort.Strings(wallets)

	allocs := make([]*types.Allocation, len(wallets))
	for i, wallet := range wallets {
		allocs[i] = &types.Allocation{
			WalletAddress: wallet,
			Amount:        types.NewAmount(totals[wallet]),
		}
	}

	return allocs, nil
}

// TotalAmount returns the exact sum of all allocation amounts.
func TotalAmount(allocs []*types.Allocation) *big.Int {
	total := new(big.Int)
	for _, a := range allocs {
		total.Add(total, a.Amount.BigInt())
	}
	return total
}

// FromAllocations converts validated allocations back to raw records, e.g. to re-import them.
func FromAllocations(allocs []*types.Allocation) []*types.RawAllocation {
	raw := make([]*types.RawAllocation, len(allocs))
	for i, a := range allocs {
		raw[i] = &types.RawAllocation{WalletAddress: a.WalletAddress, Amount: a.Amount.String()}
	}
	return raw
}
