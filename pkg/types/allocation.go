package types

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// TreeFormatVersion identifies the leaf encoding and pairing rule used to build a tree:
// keccak256(address || uint256(amount)) leaves, sorted-pair parents, duplicate-last odd nodes.
const TreeFormatVersion = 1

// Allocation sources recorded in tree metadata
const (
	SourceCSV  = "csv"
	SourceJSON = "json"
	SourceAPI  = "api"
)

// RawAllocation is an untrusted allocation record as read from an import file or request body.
type RawAllocation struct {
	WalletAddress string `json:"walletAddress"`
	Amount        string `json:"amount"`
}

// Allocation is a validated allocation. WalletAddress is always lower-case 0x-prefixed hex.
type Allocation struct {
	WalletAddress string  `json:"walletAddress"`
	Amount        *Amount `json:"amount"`
}

// Address returns the 20-byte form of the wallet address.
func (a *Allocation) Address() common.Address {
	return common.HexToAddress(a.WalletAddress)
}

// Leaf is one allocation placed in a tree together with its inclusion proof.
type Leaf struct {
	WalletAddress string        `json:"walletAddress"`
	Amount        *Amount       `json:"amount"`
	Index         int           `json:"index"`
	Proof         []common.Hash `json:"proof"`
}

// TreeMetadata carries bookkeeping about how a tree was produced.
type TreeMetadata struct {
	CreatedBy string            `json:"createdBy"`
	CreatedAt time.Time         `json:"createdAt"`
	Source    string            `json:"source"`
	Labels    map[string]string `json:"labels,omitempty"`
}

// AllocationTree is the persisted aggregate for one airdrop allocation.
// Once built, a tree is read-only; a correction is a new tree.
type AllocationTree struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Root        common.Hash  `json:"root"`
	TotalAmount *Amount      `json:"totalAmount"`
	TotalUsers  int          `json:"totalUsers"`
	Leaves      []*Leaf      `json:"leaves,omitempty"`
	Version     int          `json:"version"`
	Metadata    TreeMetadata `json:"metadata"`

	// IsActive is derived from the active-tree pointer when the tree is loaded.
	// It is never written to storage.
	IsActive bool `json:"-"`
}

// Summary returns a copy of the tree without leaves.
func (t *AllocationTree) Summary() *AllocationTree {
	if t == nil {
		return nil
	}
	s := *t
	s.Leaves = nil
	s.Metadata.Labels = copyLabels(t.Metadata.Labels)
	return &s
}

// ActivePointer is the single record naming the tree currently authoritative for claims.
type ActivePointer struct {
	TreeID      string    `json:"treeId"`
	ActivatedAt time.Time `json:"activatedAt"`
	ActivatedBy string    `json:"activatedBy"`
}

// IntegrityResult is the outcome of validating a tree before activation.
type IntegrityResult struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// EligibilityResult answers "is this wallet eligible under the active tree".
type EligibilityResult struct {
	WalletAddress string        `json:"walletAddress"`
	Eligible      bool          `json:"eligible"`
	TreeID        string        `json:"treeId,omitempty"`
	Root          common.Hash   `json:"root"`
	Amount        *Amount       `json:"amount,omitempty"`
	Index         int           `json:"index"`
	Proof         []common.Hash `json:"proof,omitempty"`
}

func copyLabels(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// DeepCopy returns a fully independent copy of the tree, leaves and proofs included.
func (t *AllocationTree) DeepCopy() *AllocationTree {
	if t == nil {
		return nil
	}
	c := *t
	c.TotalAmount = NewAmount(t.TotalAmount.BigInt())
	c.Metadata.Labels = copyLabels(t.Metadata.Labels)
	if t.Leaves != nil {
		c.Leaves = make([]*Leaf, len(t.Leaves))
		for i, l := range t.Leaves {
			c.Leaves[i] = l.DeepCopy()
		}
	}
	return &c
}

// DeepCopy returns an independent copy of the leaf.
func (l *Leaf) DeepCopy() *Leaf {
	if l == nil {
		return nil
	}
	proof := make([]common.Hash, len(l.Proof))
	copy(proof, l.Proof)
	return &Leaf{
		WalletAddress: l.WalletAddress,
		Amount:        NewAmount(l.Amount.BigInt()),
		Index:         l.Index,
		Proof:         proof,
	}
}
