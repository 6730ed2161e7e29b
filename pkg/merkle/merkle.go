package merkle

import (
	"bytes"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/wealdtech/go-merkletree/v2/keccak256"

	"github.com/Layr-Labs/eigenx-claims-go/pkg/types"
)

// Hasher is the hash primitive used for leaves and parents.
type Hasher interface {
	Hash(data ...[]byte) []byte
}

// hasher is keccak256, the same primitive the claim contract uses.
var hasher Hasher = keccak256.New()

// leafLength is address (20 bytes) || uint256 amount (32 bytes)
const leafLength = common.AddressLength + 32

// BuildMerkleTree creates a binary merkle tree from leaf hashes, keeping the given order.
// Callers are responsible for ordering leaves deterministically.
//
// Parents are keccak256(min(a, b) || max(a, b)) so proofs carry no left/right flags.
// If there's an odd number of nodes at any level, the last node is duplicated.
func BuildMerkleTree(leaves [][32]byte) (*MerkleTree, error) {
	if len(leaves) == 0 {
		return nil, fmt.Errorf("cannot build merkle tree from empty leaf list")
	}

	leafCopy := make([][32]byte, len(leaves))
	copy(leafCopy, leaves)

	// Build tree levels bottom-up
	levels := make([][][32]byte, 0)
	levels = append(levels, leafCopy)

	currentLevel := leafCopy
	for len(currentLevel) > 1 {
		nextLevel := make([][32]byte, 0, (len(currentLevel)+1)/2)

		for i := 0; i < len(currentLevel); i += 2 {
			left := currentLevel[i]
			right := left
			if i+1 < len(currentLevel) {
				right = currentLevel[i+1]
			}
			nextLevel = append(nextLevel, hashPair(left, right))
		}

		levels = append(levels, nextLevel)
		currentLevel = nextLevel
	}

	return &MerkleTree{
		Leaves: leafCopy,
		Root:   currentLevel[0],
		levels: levels,
	}, nil
}

// BuildAllocationTree hashes each allocation with HashAllocation and builds the tree.
// Allocations must already be normalized (deduplicated and sorted by address).
func BuildAllocationTree(allocs []*types.Allocation) (*MerkleTree, error) {
	if len(allocs) == 0 {
		return nil, fmt.Errorf("cannot build merkle tree from empty allocation list")
	}

	leaves := make([][32]byte, len(allocs))
	for i, alloc := range allocs {
		leaf, err := HashAllocation(alloc)
		if err != nil {
			return nil, fmt.Errorf("failed to hash allocation %d: %w", i, err)
		}
		leaves[i] = leaf
	}

	return BuildMerkleTree(leaves)
}

// GenerateProof creates a merkle proof for the leaf at the given index.
// The proof consists of sibling hashes along the path from leaf to root.
func (mt *MerkleTree) GenerateProof(leafIndex int) (*MerkleProof, error) {
	if leafIndex < 0 || leafIndex >= len(mt.Leaves) {
		return nil, fmt.Errorf("leaf index %d out of bounds (tree has %d leaves)", leafIndex, len(mt.Leaves))
	}

	return &MerkleProof{
		LeafIndex: leafIndex,
		Leaf:      mt.Leaves[leafIndex],
		Proof:     mt.siblingPath(leafIndex),
	}, nil
}

// GenerateAllProofs returns the sibling path of every leaf, indexed by leaf index.
func (mt *MerkleTree) GenerateAllProofs() [][][32]byte {
	proofs := make([][][32]byte, len(mt.Leaves))
	for i := range mt.Leaves {
		proofs[i] = mt.siblingPath(i)
	}
	return proofs
}

func (mt *MerkleTree) siblingPath(leafIndex int) [][32]byte {
	proof := make([][32]byte, 0, mt.Depth())
	index := leafIndex

	for level := 0; level < len(mt.levels)-1; level++ {
		currentLevel := mt.levels[level]

		siblingIndex := index ^ 1
		// Last node of an odd level is paired with itself
		if siblingIndex >= len(currentLevel) {
			siblingIndex = index
		}

		proof = append(proof, currentLevel[siblingIndex])
		index = index / 2
	}

	return proof
}

// VerifyProof verifies that a leaf is included in the merkle tree with the given root.
// The leaf index is not needed because parents are hashed in sorted order.
func VerifyProof(proof *MerkleProof, root [32]byte) bool {
	if proof == nil {
		return false
	}
	return computeRoot(proof.Leaf, proof.Proof) == root
}

// VerifyAllocationProof recomputes the leaf for (walletAddress, amount), folds the proof
// and compares the result with root byte for byte. It has no side effects.
func VerifyAllocationProof(walletAddress string, amount *big.Int, proof []common.Hash, root common.Hash) bool {
	if !IsCanonicalAddress(walletAddress) || amount == nil {
		return false
	}

	leaf, err := HashLeaf(common.HexToAddress(walletAddress), amount)
	if err != nil {
		return false
	}

	siblings := make([][32]byte, len(proof))
	for i, p := range proof {
		siblings[i] = p
	}

	return computeRoot(leaf, siblings) == [32]byte(root)
}

func computeRoot(leaf [32]byte, siblings [][32]byte) [32]byte {
	current := leaf
	for _, sibling := range siblings {
		current = hashPair(current, sibling)
	}
	return current
}

// HashLeaf computes keccak256(address || uint256(amount)), i.e.
// keccak256(abi.encodePacked(address, uint256)) in Solidity.
func HashLeaf(addr common.Address, amount *big.Int) ([32]byte, error) {
	if amount == nil {
		return [32]byte{}, fmt.Errorf("amount cannot be nil")
	}
	if amount.Sign() < 0 {
		return [32]byte{}, fmt.Errorf("amount cannot be negative: %s", amount)
	}
	if amount.BitLen() > types.MaxAmountBits {
		return [32]byte{}, fmt.Errorf("amount %s does not fit in uint256", amount)
	}

	data := make([]byte, 0, leafLength)
	data = append(data, addr.Bytes()...)
	data = append(data, math.PaddedBigBytes(amount, 32)...)

	return toHash(hasher.Hash(data)), nil
}

// HashAllocation creates the leaf hash of a normalized allocation.
func HashAllocation(alloc *types.Allocation) ([32]byte, error) {
	if alloc == nil {
		return [32]byte{}, fmt.Errorf("allocation cannot be nil")
	}
	if !IsCanonicalAddress(alloc.WalletAddress) {
		return [32]byte{}, fmt.Errorf("invalid wallet address: %s", alloc.WalletAddress)
	}
	return HashLeaf(alloc.Address(), alloc.Amount.BigInt())
}

// IsCanonicalAddress reports whether s is 0x followed by exactly 40 hex digits (any case).
func IsCanonicalAddress(s string) bool {
	return strings.HasPrefix(s, "0x") && common.IsHexAddress(s)
}

// hashPair computes keccak256(min(a, b) || max(a, b)) for two 32-byte hashes.
// Sorting the pair makes the parent independent of child position.
func hashPair(a, b [32]byte) [32]byte {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	return toHash(hasher.Hash(a[:], b[:]))
}

func toHash(h []byte) [32]byte {
	var out [32]byte
	copy(out[:], h)
	return out
}
