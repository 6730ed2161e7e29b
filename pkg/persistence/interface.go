package persistence

import "github.com/Layr-Labs/eigenx-claims-go/pkg/types"

// IAllocationTreePersistence defines the storage contract for allocation trees.
// All implementations must be thread-safe; claim lookups and admin writes run concurrently.
//
// The interface supports:
// - Tree storage (save, load by id or name, list)
// - Active tree tracking through a single pointer record
// - Lifecycle management (close, health check)
//
// Stored trees are immutable. The IsActive flag on returned trees is derived from the
// active pointer at load time and is never written into a tree record.
type IAllocationTreePersistence interface {
	// Tree Management

	// SaveTree persists a new tree together with its leaves.
	// Returns *types.DuplicateNameError if another tree already uses tree.Name; the name
	// check and the write are atomic. Saving an ID that already exists is an error.
	SaveTree(tree *types.AllocationTree) error

	// LoadTree retrieves a tree (with leaves) by ID.
	// Returns nil if the tree doesn't exist, error only on storage failure.
	LoadTree(id string) (*types.AllocationTree, error)

	// LoadTreeByName retrieves a tree (with leaves) by its unique name.
	// Returns nil if the tree doesn't exist, error only on storage failure.
	LoadTreeByName(name string) (*types.AllocationTree, error)

	// TreeNameExists reports whether a tree with the given name is stored, without loading it.
	TreeNameExists(name string) (bool, error)

	// ListTrees returns summaries (no leaves) of all trees sorted by creation time, then name.
	// Returns empty slice if no trees exist, error only on storage failure.
	ListTrees() ([]*types.AllocationTree, error)

	// Active Tree Tracking

	// ActivateTree atomically replaces the active pointer with pointer.
	// Fails if pointer.TreeID does not name a stored tree, in which case the previous
	// pointer is left untouched. Returns the previous pointer (nil if none).
	ActivateTree(pointer *types.ActivePointer) (*types.ActivePointer, error)

	// GetActivePointer returns the active pointer, or nil if no tree was ever activated.
	GetActivePointer() (*types.ActivePointer, error)

	// Lifecycle Management

	// Close cleanly shuts down the persistence layer.
	// Idempotent - safe to call multiple times.
	// After Close(), all other operations should return errors.
	Close() error

	// HealthCheck verifies the persistence layer is operational.
	// Returns nil if healthy, error describing the problem if not.
	HealthCheck() error
}
