package memory

import (
	"fmt"
	"sync"

	"github.com/Layr-Labs/eigenx-claims-go/pkg/persistence"
	"github.com/Layr-Labs/eigenx-claims-go/pkg/types"
)

// MemoryPersistence is an in-memory implementation of IAllocationTreePersistence.
// This implementation is intended for TESTING ONLY.
//
// All data is stored in memory and will be lost when the process exits.
// Thread-safe using sync.RWMutex for concurrent access.
// Deep copies data to prevent external mutation.
type MemoryPersistence struct {
	mu sync.RWMutex

	// Tree storage: id -> tree (with leaves)
	trees map[string]*types.AllocationTree

	// Name index: name -> id
	names map[string]string

	// Active tree pointer, nil until the first activation
	active *types.ActivePointer

	// Closed flag
	closed bool
}

// NewMemoryPersistence creates a new in-memory persistence layer.
// Prints a loud warning since this should only be used for testing.
func NewMemoryPersistence() *MemoryPersistence {
	fmt.Println("⚠️  WARNING: Using in-memory persistence - ALL DATA WILL BE LOST ON RESTART")
	fmt.Println("⚠️  This should ONLY be used for testing. Set CLAIMS_PERSISTENCE_TYPE=badger or redis for production")

	return &MemoryPersistence{
		trees: make(map[string]*types.AllocationTree),
		names: make(map[string]string),
	}
}

// SaveTree persists a new tree.
func (m *MemoryPersistence) SaveTree(tree *types.AllocationTree) error {
	if err := persistence.ValidateForSave(tree); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return persistence.ErrClosed
	}

	if _, exists := m.names[tree.Name]; exists {
		return &types.DuplicateNameError{Name: tree.Name}
	}
	if _, exists := m.trees[tree.ID]; exists {
		return fmt.Errorf("AllocationTree %s already exists", tree.ID)
	}

	stored := tree.DeepCopy()
	stored.IsActive = false
	m.trees[tree.ID] = stored
	m.names[tree.Name] = tree.ID

	return nil
}

// LoadTree retrieves a tree by ID.
func (m *MemoryPersistence) LoadTree(id string) (*types.AllocationTree, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, persistence.ErrClosed
	}

	return m.loadLocked(id), nil
}

// LoadTreeByName retrieves a tree by name.
func (m *MemoryPersistence) LoadTreeByName(name string) (*types.AllocationTree, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, persistence.ErrClosed
	}

	id, exists := m.names[name]
	if !exists {
		return nil, nil // Not found is not an error
	}

	return m.loadLocked(id), nil
}

// TreeNameExists reports whether name is taken.
func (m *MemoryPersistence) TreeNameExists(name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return false, persistence.ErrClosed
	}

	_, exists := m.names[name]
	return exists, nil
}

func (m *MemoryPersistence) loadLocked(id string) *types.AllocationTree {
	tree, exists := m.trees[id]
	if !exists {
		return nil
	}

	// Deep copy to prevent external mutation
	result := tree.DeepCopy()
	persistence.MarkActive(m.active, result)
	return result
}

// ListTrees returns summaries of all trees sorted by creation time.
func (m *MemoryPersistence) ListTrees() ([]*types.AllocationTree, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, persistence.ErrClosed
	}

	result := make([]*types.AllocationTree, 0, len(m.trees))
	for _, tree := range m.trees {
		summary := tree.Summary()
		summary.TotalAmount = types.NewAmount(tree.TotalAmount.BigInt())
		result = append(result, summary)
	}

	persistence.MarkActive(m.active, result...)
	persistence.SortTrees(result)

	return result, nil
}

// ActivateTree replaces the active pointer.
func (m *MemoryPersistence) ActivateTree(pointer *types.ActivePointer) (*types.ActivePointer, error) {
	if err := persistence.ValidatePointer(pointer); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, persistence.ErrClosed
	}

	if _, exists := m.trees[pointer.TreeID]; !exists {
		return nil, types.ErrTreeNotFound
	}

	previous := copyPointer(m.active)
	m.active = copyPointer(pointer)

	return previous, nil
}

// GetActivePointer returns the active pointer.
func (m *MemoryPersistence) GetActivePointer() (*types.ActivePointer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, persistence.ErrClosed
	}

	return copyPointer(m.active), nil
}

// Close shuts down the persistence layer.
func (m *MemoryPersistence) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	return nil
}

// HealthCheck verifies the persistence layer is operational.
func (m *MemoryPersistence) HealthCheck() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return persistence.ErrClosed
	}

	return nil
}

func copyPointer(p *types.ActivePointer) *types.ActivePointer {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}
