package persistence

import (
	"encoding/json"
	"fmt"

	"github.com/Layr-Labs/eigenx-claims-go/pkg/types"
)

// MarshalTreeHeader serializes a tree without its leaves to JSON bytes.
func MarshalTreeHeader(tree *types.AllocationTree) ([]byte, error) {
	if tree == nil {
		return nil, fmt.Errorf("cannot marshal nil AllocationTree")
	}

	data, err := json.Marshal(tree.Summary())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal AllocationTree to JSON: %w", err)
	}

	return data, nil
}

// UnmarshalTreeHeader deserializes a tree header from JSON bytes.
func UnmarshalTreeHeader(data []byte) (*types.AllocationTree, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot unmarshal empty data")
	}

	var tree types.AllocationTree
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON to AllocationTree: %w", err)
	}

	return &tree, nil
}

// MarshalLeaves serializes a chunk of leaves to JSON bytes.
func MarshalLeaves(leaves []*types.Leaf) ([]byte, error) {
	return json.Marshal(leaves)
}

// UnmarshalLeaves deserializes a chunk of leaves from JSON bytes.
func UnmarshalLeaves(data []byte) ([]*types.Leaf, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot unmarshal empty data")
	}

	var leaves []*types.Leaf
	if err := json.Unmarshal(data, &leaves); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON to leaves: %w", err)
	}

	return leaves, nil
}

// MarshalActivePointer serializes the active pointer to JSON bytes.
func MarshalActivePointer(p *types.ActivePointer) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("cannot marshal nil ActivePointer")
	}

	return json.Marshal(p)
}

// UnmarshalActivePointer deserializes the active pointer from JSON bytes.
func UnmarshalActivePointer(data []byte) (*types.ActivePointer, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot unmarshal empty data")
	}

	var p types.ActivePointer
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON to ActivePointer: %w", err)
	}

	return &p, nil
}

// AssembleLeaves joins chunks back together and checks the leaf count against the header.
func AssembleLeaves(tree *types.AllocationTree, chunks [][]*types.Leaf) error {
	leaves := make([]*types.Leaf, 0, tree.TotalUsers)
	for _, chunk := range chunks {
		leaves = append(leaves, chunk...)
	}
	if len(leaves) != tree.TotalUsers {
		return fmt.Errorf("AllocationTree %s: found %d stored leaves, expected %d", tree.ID, len(leaves), tree.TotalUsers)
	}
	tree.Leaves = leaves
	return nil
}
