package merkle

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/Layr-Labs/eigenx-claims-go/pkg/types"
)

// createTestAllocations creates n allocations with ascending, unique addresses
func createTestAllocations(n int) []*types.Allocation {
	allocs := make([]*types.Allocation, n)
	for i := 0; i < n; i++ {
		addr := common.BigToAddress(big.NewInt(int64(i + 1))) // Start from 1 to avoid the zero address
		allocs[i] = &types.Allocation{
			WalletAddress: "0x" + common.Bytes2Hex(addr.Bytes()),
			Amount:        types.NewAmountFromUint64(uint64(1000 * (i + 1))),
		}
	}
	return allocs
}

func toHashes(proof [][32]byte) []common.Hash {
	out := make([]common.Hash, len(proof))
	for i, p := range proof {
		out[i] = p
	}
	return out
}

// TestBuildMerkleTree tests merkle tree construction with various numbers of allocations
func TestBuildMerkleTree(t *testing.T) {
	testCases := []struct {
		name          string
		numAllocs     int
		expectedDepth int
	}{
		{"Single allocation", 1, 0},
		{"Two allocations", 2, 1},
		{"Three allocations", 3, 2},
		{"Four allocations (power of 2)", 4, 2},
		{"Seven allocations", 7, 3},
		{"Eight allocations (power of 2)", 8, 3},
		{"Fifteen allocations", 15, 4},
		{"Sixteen allocations (power of 2)", 16, 4},
		{"Seventeen allocations", 17, 5},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			allocs := createTestAllocations(tc.numAllocs)
			tree, err := BuildAllocationTree(allocs)
			require.NoError(t, err)
			require.NotNil(t, tree)

			require.Equal(t, tc.numAllocs, len(tree.Leaves))
			require.Equal(t, tc.expectedDepth, tree.Depth())
			require.NotEqual(t, [32]byte{}, tree.Root)

			for i := 0; i < tc.numAllocs; i++ {
				proof, err := tree.GenerateProof(i)
				require.NoError(t, err)
				require.Equal(t, i, proof.LeafIndex)
				require.Equal(t, tree.Leaves[i], proof.Leaf)
				require.Len(t, proof.Proof, tc.expectedDepth)

				require.True(t, VerifyProof(proof, tree.Root), "Proof for leaf %d should be valid", i)
				require.True(t, VerifyAllocationProof(
					allocs[i].WalletAddress, allocs[i].Amount.BigInt(), toHashes(proof.Proof), tree.Root,
				), "Allocation proof for leaf %d should be valid", i)
			}
		})
	}
}

// TestBuildMerkleTreeEmpty tests that building a tree from no leaves fails
func TestBuildMerkleTreeEmpty(t *testing.T) {
	tree, err := BuildMerkleTree([][32]byte{})
	require.Error(t, err)
	require.Nil(t, tree)
	require.Contains(t, err.Error(), "empty")

	tree, err = BuildAllocationTree(nil)
	require.Error(t, err)
	require.Nil(t, tree)
}

func TestSingleLeafTree(t *testing.T) {
	allocs := createTestAllocations(1)
	tree, err := BuildAllocationTree(allocs)
	require.NoError(t, err)

	leaf, err := HashAllocation(allocs[0])
	require.NoError(t, err)
	require.Equal(t, leaf, tree.Root)

	proof, err := tree.GenerateProof(0)
	require.NoError(t, err)
	require.Empty(t, proof.Proof)
	require.True(t, VerifyProof(proof, tree.Root))
}

// TestOddLevelDuplicatesLastNode pins the odd-node policy: the last node is paired with itself.
func TestOddLevelDuplicatesLastNode(t *testing.T) {
	allocs := createTestAllocations(3)
	tree, err := BuildAllocationTree(allocs)
	require.NoError(t, err)

	l0, l1, l2 := tree.Leaves[0], tree.Leaves[1], tree.Leaves[2]
	left := hashPair(l0, l1)
	right := hashPair(l2, l2)
	require.Equal(t, hashPair(left, right), tree.Root)

	proof, err := tree.GenerateProof(2)
	require.NoError(t, err)
	require.Equal(t, [][32]byte{l2, left}, proof.Proof)
}

// TestMerkleProofVerification tests proof verification with valid and invalid cases
func TestMerkleProofVerification(t *testing.T) {
	tree, err := BuildAllocationTree(createTestAllocations(4))
	require.NoError(t, err)

	t.Run("Valid proof", func(t *testing.T) {
		proof, err := tree.GenerateProof(0)
		require.NoError(t, err)
		require.True(t, VerifyProof(proof, tree.Root))
	})

	t.Run("Invalid proof - wrong root", func(t *testing.T) {
		proof, err := tree.GenerateProof(0)
		require.NoError(t, err)

		invalidRoot := [32]byte{1, 2, 3, 4, 5}
		require.False(t, VerifyProof(proof, invalidRoot))
	})

	t.Run("Invalid proof - tampered leaf", func(t *testing.T) {
		proof, err := tree.GenerateProof(0)
		require.NoError(t, err)

		proof.Leaf[0] ^= 0xFF
		require.False(t, VerifyProof(proof, tree.Root))
	})

	t.Run("Invalid proof - tampered sibling", func(t *testing.T) {
		proof, err := tree.GenerateProof(0)
		require.NoError(t, err)

		proof.Proof[0][0] ^= 0xFF
		require.False(t, VerifyProof(proof, tree.Root))
	})

	t.Run("Invalid proof - truncated", func(t *testing.T) {
		proof, err := tree.GenerateProof(0)
		require.NoError(t, err)

		proof.Proof = proof.Proof[:len(proof.Proof)-1]
		require.False(t, VerifyProof(proof, tree.Root))
	})

	t.Run("Invalid proof - nil proof", func(t *testing.T) {
		require.False(t, VerifyProof(nil, tree.Root))
	})
}

// TestVerifyAllocationProofMutations flips single bytes of every input and expects rejection
func TestVerifyAllocationProofMutations(t *testing.T) {
	allocs := createTestAllocations(9)
	tree, err := BuildAllocationTree(allocs)
	require.NoError(t, err)

	for i, alloc := range allocs {
		p, err := tree.GenerateProof(i)
		require.NoError(t, err)
		proof := toHashes(p.Proof)
		root := common.Hash(tree.Root)
		amount := alloc.Amount.BigInt()

		require.True(t, VerifyAllocationProof(alloc.WalletAddress, amount, proof, root))

		// amount
		require.False(t, VerifyAllocationProof(alloc.WalletAddress, new(big.Int).Add(amount, big.NewInt(1)), proof, root))
		require.False(t, VerifyAllocationProof(alloc.WalletAddress, new(big.Int).Xor(amount, big.NewInt(0x100)), proof, root))

		// wallet address: flip one byte
		addr := common.HexToAddress(alloc.WalletAddress)
		addr[0] ^= 0x01
		require.False(t, VerifyAllocationProof(addr.Hex(), amount, proof, root))

		// every proof element
		for j := range proof {
			tampered := make([]common.Hash, len(proof))
			copy(tampered, proof)
			tampered[j][31] ^= 0x01
			require.False(t, VerifyAllocationProof(alloc.WalletAddress, amount, tampered, root))
		}

		// root
		badRoot := root
		badRoot[0] ^= 0x80
		require.False(t, VerifyAllocationProof(alloc.WalletAddress, amount, proof, badRoot))
	}
}

func TestVerifyAllocationProofAcceptsMixedCaseAddress(t *testing.T) {
	allocs := createTestAllocations(5)
	tree, err := BuildAllocationTree(allocs)
	require.NoError(t, err)

	p, err := tree.GenerateProof(3)
	require.NoError(t, err)

	checksummed := common.HexToAddress(allocs[3].WalletAddress).Hex()
	require.True(t, VerifyAllocationProof(checksummed, allocs[3].Amount.BigInt(), toHashes(p.Proof), tree.Root))
}

func TestVerifyAllocationProofRejectsMalformedInput(t *testing.T) {
	allocs := createTestAllocations(2)
	tree, err := BuildAllocationTree(allocs)
	require.NoError(t, err)
	p, err := tree.GenerateProof(0)
	require.NoError(t, err)

	require.False(t, VerifyAllocationProof("not-an-address", allocs[0].Amount.BigInt(), toHashes(p.Proof), tree.Root))
	require.False(t, VerifyAllocationProof(allocs[0].WalletAddress[2:], allocs[0].Amount.BigInt(), toHashes(p.Proof), tree.Root))
	require.False(t, VerifyAllocationProof(allocs[0].WalletAddress, nil, toHashes(p.Proof), tree.Root))
	require.False(t, VerifyAllocationProof(allocs[0].WalletAddress, big.NewInt(-1), toHashes(p.Proof), tree.Root))
}

// TestGenerateProofInvalidIndex tests proof generation with invalid indices
func TestGenerateProofInvalidIndex(t *testing.T) {
	tree, err := BuildAllocationTree(createTestAllocations(4))
	require.NoError(t, err)

	t.Run("Negative index", func(t *testing.T) {
		proof, err := tree.GenerateProof(-1)
		require.Error(t, err)
		require.Nil(t, proof)
	})

	t.Run("Index out of bounds", func(t *testing.T) {
		proof, err := tree.GenerateProof(10)
		require.Error(t, err)
		require.Nil(t, proof)
	})
}

func TestGenerateAllProofsMatchesGenerateProof(t *testing.T) {
	tree, err := BuildAllocationTree(createTestAllocations(11))
	require.NoError(t, err)

	all := tree.GenerateAllProofs()
	require.Len(t, all, 11)
	for i := range all {
		p, err := tree.GenerateProof(i)
		require.NoError(t, err)
		require.Equal(t, p.Proof, all[i])
	}
}

// TestHashLeaf checks the packed encoding against a manual keccak256(address || uint256)
func TestHashLeaf(t *testing.T) {
	addr := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	amount := big.NewInt(150)

	leaf, err := HashLeaf(addr, amount)
	require.NoError(t, err)

	packed := append(addr.Bytes(), common.LeftPadBytes(amount.Bytes(), 32)...)
	require.Len(t, packed, 52)
	require.Equal(t, [32]byte(crypto.Keccak256Hash(packed)), leaf)

	t.Run("Deterministic", func(t *testing.T) {
		again, err := HashLeaf(addr, big.NewInt(150))
		require.NoError(t, err)
		require.Equal(t, leaf, again)
	})

	t.Run("Different amount changes the leaf", func(t *testing.T) {
		other, err := HashLeaf(addr, big.NewInt(151))
		require.NoError(t, err)
		require.NotEqual(t, leaf, other)
	})

	t.Run("Zero amount is allowed", func(t *testing.T) {
		_, err := HashLeaf(addr, big.NewInt(0))
		require.NoError(t, err)
	})

	t.Run("Max uint256 is allowed", func(t *testing.T) {
		maxU256 := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
		_, err := HashLeaf(addr, maxU256)
		require.NoError(t, err)
	})

	t.Run("Overflow is rejected", func(t *testing.T) {
		_, err := HashLeaf(addr, new(big.Int).Lsh(big.NewInt(1), 256))
		require.Error(t, err)
	})

	t.Run("Negative is rejected", func(t *testing.T) {
		_, err := HashLeaf(addr, big.NewInt(-5))
		require.Error(t, err)
	})
}

func TestHashPairIsOrderIndependent(t *testing.T) {
	a := [32]byte{0x01}
	b := [32]byte{0x02}

	require.Equal(t, hashPair(a, b), hashPair(b, a))
	require.Equal(t, [32]byte(crypto.Keccak256Hash(a[:], b[:])), hashPair(b, a))
}

func TestHasherMatchesGethKeccak(t *testing.T) {
	data := []byte("allocation")
	require.Equal(t, crypto.Keccak256(data), hasher.Hash(data))
	require.Equal(t, crypto.Keccak256([]byte("alloc"), []byte("ation")), hasher.Hash([]byte("alloc"), []byte("ation")))
}

func TestIsCanonicalAddress(t *testing.T) {
	testCases := []struct {
		input    string
		expected bool
	}{
		{"0x00000000000000000000000000000000000000aa", true},
		{"0xABCDEFabcdef0123456789ABCDEFabcdef012345", true},
		{"00000000000000000000000000000000000000aa", false},
		{"0X00000000000000000000000000000000000000aa", false},
		{"0x00000000000000000000000000000000000000a", false},
		{"0x00000000000000000000000000000000000000aaa", false},
		{"0x00000000000000000000000000000000000000ag", false},
		{"0x00000000000000000000000000000000000000aa ", false},
		{"", false},
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			require.Equal(t, tc.expected, IsCanonicalAddress(tc.input))
		})
	}
}
