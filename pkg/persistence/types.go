package persistence

import (
	"errors"
	"fmt"
	"sort"

	"github.com/Layr-Labs/eigenx-claims-go/pkg/types"
)

// LeavesPerChunk is the number of leaves stored per record. Large airdrops are split so
// that no single value exceeds backend transaction/value limits.
const LeavesPerChunk = 1000

// MaxTxRetries bounds optimistic-transaction retries on write conflicts.
const MaxTxRetries = 10

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("persistence layer is closed")

// ChunkLeaves splits leaves into consecutive chunks of at most LeavesPerChunk.
func ChunkLeaves(leaves []*types.Leaf) [][]*types.Leaf {
	chunks := make([][]*types.Leaf, 0, (len(leaves)+LeavesPerChunk-1)/LeavesPerChunk)
	for start := 0; start < len(leaves); start += LeavesPerChunk {
		end := start + LeavesPerChunk
		if end > len(leaves) {
			end = len(leaves)
		}
		chunks = append(chunks, leaves[start:end])
	}
	return chunks
}

// NumChunks returns how many leaf chunks a tree with totalUsers leaves is stored in.
func NumChunks(totalUsers int) int {
	return (totalUsers + LeavesPerChunk - 1) / LeavesPerChunk
}

// ValidateForSave performs the checks every backend applies before writing a tree.
func ValidateForSave(tree *types.AllocationTree) error {
	if tree == nil {
		return fmt.Errorf("cannot save nil AllocationTree")
	}
	if tree.ID == "" {
		return fmt.Errorf("cannot save AllocationTree without an ID")
	}
	if tree.Name == "" {
		return fmt.Errorf("cannot save AllocationTree without a name")
	}
	if len(tree.Leaves) != tree.TotalUsers {
		return fmt.Errorf("AllocationTree %s has %d leaves but totalUsers=%d", tree.ID, len(tree.Leaves), tree.TotalUsers)
	}
	return nil
}

// ValidatePointer checks an active pointer before it is written.
func ValidatePointer(pointer *types.ActivePointer) error {
	if pointer == nil {
		return fmt.Errorf("cannot save nil ActivePointer")
	}
	if pointer.TreeID == "" {
		return fmt.Errorf("active pointer must name a tree")
	}
	return nil
}

// SortTrees orders tree summaries by creation time, then name.
func SortTrees(trees []*types.AllocationTree) {
	sort.Slice(trees, func(i, j int) bool {
		ti, tj := trees[i].Metadata.CreatedAt, trees[j].Metadata.CreatedAt
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return trees[i].Name < trees[j].Name
	})
}

// MarkActive sets IsActive on each tree according to the active pointer.
func MarkActive(pointer *types.ActivePointer, trees ...*types.AllocationTree) {
	for _, t := range trees {
		if t != nil {
			t.IsActive = pointer != nil && pointer.TreeID == t.ID
		}
	}
}
