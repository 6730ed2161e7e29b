package badger

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	badgerdb "github.com/dgraph-io/badger/v3"
	"go.uber.org/zap"

	"github.com/Layr-Labs/eigenx-claims-go/pkg/persistence"
	"github.com/Layr-Labs/eigenx-claims-go/pkg/types"
)

// Key prefixes for namespacing
const (
	keyPrefixTree        = "tree:"
	keyPrefixLeaves      = "leaves:"
	keyPrefixTreeName    = "treename:"
	keyActiveTree        = "active:tree"
	keySchemaVersion     = "metadata:schema_version"
	currentSchemaVersion = "v1"
)

// BadgerPersistence is a production-ready persistence implementation using Badger.
// Provides durable, disk-based storage with ACID guarantees.
//
// A tree is stored as one header record, a name index record and its leaves split into
// chunks of persistence.LeavesPerChunk. The header is written last, so a tree becomes
// visible only once all of its leaves are on disk.
type BadgerPersistence struct {
	db       *badgerdb.DB
	logger   *zap.Logger
	gcCancel context.CancelFunc
	gcWg     sync.WaitGroup
	mu       sync.RWMutex
	closed   bool
}

// NewBadgerPersistence creates a new Badger-backed persistence layer.
// The database is opened at the specified path with SyncWrites enabled for durability.
// A background goroutine is started for garbage collection.
func NewBadgerPersistence(dataPath string, logger *zap.Logger) (*BadgerPersistence, error) {
	absPath, err := filepath.Abs(dataPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	opts := badgerdb.DefaultOptions(absPath)
	opts.Logger = &badgerLoggerAdapter{logger: logger}
	opts.SyncWrites = true
	opts.CompactL0OnClose = true
	opts.NumVersionsToKeep = 1

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database at %s: %w", absPath, err)
	}

	bp := &BadgerPersistence{
		db:     db,
		logger: logger,
	}

	if err := bp.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	bp.gcCancel = cancel
	bp.gcWg.Add(1)
	go bp.runGC(ctx)

	logger.Sugar().Infow("Badger persistence initialized", "path", absPath)

	return bp, nil
}

// initSchema initializes or validates the schema version
func (b *BadgerPersistence) initSchema() error {
	return b.db.Update(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(keySchemaVersion))
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return txn.Set([]byte(keySchemaVersion), []byte(currentSchemaVersion))
		}
		if err != nil {
			return fmt.Errorf("failed to read schema version: %w", err)
		}

		existingVersion, err := item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("failed to read schema version value: %w", err)
		}

		if string(existingVersion) != currentSchemaVersion {
			return fmt.Errorf("unsupported schema version: %s (expected: %s)", existingVersion, currentSchemaVersion)
		}

		return nil
	})
}

// runGC runs periodic garbage collection in the background
func (b *BadgerPersistence) runGC(ctx context.Context) {
	defer b.gcWg.Done()

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			err := b.db.RunValueLogGC(0.5)
			if err != nil && !errors.Is(err, badgerdb.ErrNoRewrite) {
				b.logger.Sugar().Warnw("Badger GC error", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func treeKey(id string) []byte {
	return []byte(keyPrefixTree + id)
}

func treeNameKey(name string) []byte {
	return []byte(keyPrefixTreeName + name)
}

func leavesPrefix(id string) string {
	return keyPrefixLeaves + id + ":"
}

func leavesKey(id string, chunk int) []byte {
	return []byte(fmt.Sprintf("%s%06d", leavesPrefix(id), chunk))
}

// update runs fn in a read-write transaction, retrying on optimistic-concurrency conflicts
func (b *BadgerPersistence) update(fn func(txn *badgerdb.Txn) error) error {
	var err error
	for attempt := 0; attempt < persistence.MaxTxRetries; attempt++ {
		err = b.db.Update(fn)
		if !errors.Is(err, badgerdb.ErrConflict) {
			return err
		}
		b.logger.Sugar().Debugw("Badger transaction conflict, retrying", "attempt", attempt+1)
	}
	return fmt.Errorf("transaction failed after %d attempts: %w", persistence.MaxTxRetries, err)
}

// SaveTree persists a new tree
func (b *BadgerPersistence) SaveTree(tree *types.AllocationTree) error {
	if err := persistence.ValidateForSave(tree); err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return persistence.ErrClosed
	}

	header, err := persistence.MarshalTreeHeader(tree)
	if err != nil {
		return fmt.Errorf("failed to marshal AllocationTree: %w", err)
	}

	// Leaves can exceed a single transaction, so they go through a write batch first.
	// They stay invisible until the header below is committed.
	if err := b.writeLeaves(tree); err != nil {
		return err
	}

	err = b.update(func(txn *badgerdb.Txn) error {
		if _, err := txn.Get(treeNameKey(tree.Name)); err == nil {
			return &types.DuplicateNameError{Name: tree.Name}
		} else if !errors.Is(err, badgerdb.ErrKeyNotFound) {
			return err
		}

		if _, err := txn.Get(treeKey(tree.ID)); err == nil {
			return fmt.Errorf("AllocationTree %s already exists", tree.ID)
		} else if !errors.Is(err, badgerdb.ErrKeyNotFound) {
			return err
		}

		if err := txn.Set(treeNameKey(tree.Name), []byte(tree.ID)); err != nil {
			return err
		}
		return txn.Set(treeKey(tree.ID), header)
	})
	if err != nil {
		var dupErr *types.DuplicateNameError
		if errors.As(err, &dupErr) {
			b.deleteLeaves(tree.ID, persistence.NumChunks(tree.TotalUsers))
			return err
		}
		return fmt.Errorf("failed to save AllocationTree %s: %w", tree.ID, err)
	}

	b.logger.Sugar().Infow("Saved allocation tree",
		"id", tree.ID, "name", tree.Name, "leaves", tree.TotalUsers, "chunks", persistence.NumChunks(tree.TotalUsers))

	return nil
}

func (b *BadgerPersistence) writeLeaves(tree *types.AllocationTree) error {
	wb := b.db.NewWriteBatch()
	defer wb.Cancel()

	for i, chunk := range persistence.ChunkLeaves(tree.Leaves) {
		data, err := persistence.MarshalLeaves(chunk)
		if err != nil {
			return fmt.Errorf("failed to marshal leaf chunk %d: %w", i, err)
		}
		if err := wb.Set(leavesKey(tree.ID, i), data); err != nil {
			return fmt.Errorf("failed to write leaf chunk %d: %w", i, err)
		}
	}

	if err := wb.Flush(); err != nil {
		return fmt.Errorf("failed to flush leaves for %s: %w", tree.ID, err)
	}
	return nil
}

// deleteLeaves removes the chunks of a tree whose header was never committed
func (b *BadgerPersistence) deleteLeaves(id string, numChunks int) {
	wb := b.db.NewWriteBatch()
	defer wb.Cancel()

	for i := 0; i < numChunks; i++ {
		if err := wb.Delete(leavesKey(id, i)); err != nil {
			b.logger.Sugar().Warnw("Failed to remove orphaned leaves", "id", id, "error", err)
			return
		}
	}
	if err := wb.Flush(); err != nil {
		b.logger.Sugar().Warnw("Failed to remove orphaned leaves", "id", id, "error", err)
	}
}

// LoadTree retrieves a tree by ID
func (b *BadgerPersistence) LoadTree(id string) (*types.AllocationTree, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, persistence.ErrClosed
	}

	var tree *types.AllocationTree
	err := b.db.View(func(txn *badgerdb.Txn) error {
		var err error
		tree, err = loadTreeTxn(txn, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load AllocationTree %s: %w", id, err)
	}

	return tree, nil
}

// TreeNameExists checks the name index only
func (b *BadgerPersistence) TreeNameExists(name string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return false, persistence.ErrClosed
	}

	exists := false
	err := b.db.View(func(txn *badgerdb.Txn) error {
		_, err := txn.Get(treeNameKey(name))
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		exists = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to look up AllocationTree name %q: %w", name, err)
	}
	return exists, nil
}

// LoadTreeByName retrieves a tree by name
func (b *BadgerPersistence) LoadTreeByName(name string) (*types.AllocationTree, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, persistence.ErrClosed
	}

	var tree *types.AllocationTree
	err := b.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(treeNameKey(name))
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return nil // Not found is not an error
		}
		if err != nil {
			return err
		}

		id, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}

		tree, err = loadTreeTxn(txn, string(id))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load AllocationTree named %q: %w", name, err)
	}

	return tree, nil
}

// loadTreeTxn reads header, leaves and active pointer from one consistent snapshot
func loadTreeTxn(txn *badgerdb.Txn, id string) (*types.AllocationTree, error) {
	item, err := txn.Get(treeKey(id))
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	data, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}

	tree, err := persistence.UnmarshalTreeHeader(data)
	if err != nil {
		return nil, err
	}

	chunks := make([][]*types.Leaf, 0, persistence.NumChunks(tree.TotalUsers))
	opts := badgerdb.DefaultIteratorOptions
	opts.Prefix = []byte(leavesPrefix(id))

	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		value, err := it.Item().ValueCopy(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to read value: %w", err)
		}
		chunk, err := persistence.UnmarshalLeaves(value)
		if err != nil {
			return nil, fmt.Errorf("corrupt leaf chunk %s: %w", it.Item().Key(), err)
		}
		chunks = append(chunks, chunk)
	}

	if err := persistence.AssembleLeaves(tree, chunks); err != nil {
		return nil, err
	}

	pointer, err := activePointerTxn(txn)
	if err != nil {
		return nil, err
	}
	persistence.MarkActive(pointer, tree)

	return tree, nil
}

func activePointerTxn(txn *badgerdb.Txn) (*types.ActivePointer, error) {
	item, err := txn.Get([]byte(keyActiveTree))
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	data, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	return persistence.UnmarshalActivePointer(data)
}

// ListTrees returns summaries of all trees sorted by creation time
func (b *BadgerPersistence) ListTrees() ([]*types.AllocationTree, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, persistence.ErrClosed
	}

	trees := make([]*types.AllocationTree, 0)

	err := b.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefixTree)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()

			data, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("failed to read value: %w", err)
			}

			tree, err := persistence.UnmarshalTreeHeader(data)
			if err != nil {
				b.logger.Sugar().Warnw("Failed to unmarshal AllocationTree, skipping",
					"key", string(item.Key()), "error", err)
				continue
			}

			trees = append(trees, tree)
		}

		pointer, err := activePointerTxn(txn)
		if err != nil {
			return err
		}
		persistence.MarkActive(pointer, trees...)
		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to list AllocationTrees: %w", err)
	}

	persistence.SortTrees(trees)
	return trees, nil
}

// ActivateTree replaces the active pointer inside one transaction that also checks the tree exists
func (b *BadgerPersistence) ActivateTree(pointer *types.ActivePointer) (*types.ActivePointer, error) {
	if err := persistence.ValidatePointer(pointer); err != nil {
		return nil, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, persistence.ErrClosed
	}

	data, err := persistence.MarshalActivePointer(pointer)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ActivePointer: %w", err)
	}

	var previous *types.ActivePointer
	err = b.update(func(txn *badgerdb.Txn) error {
		if _, err := txn.Get(treeKey(pointer.TreeID)); errors.Is(err, badgerdb.ErrKeyNotFound) {
			return types.ErrTreeNotFound
		} else if err != nil {
			return err
		}

		var err error
		previous, err = activePointerTxn(txn)
		if err != nil {
			return err
		}

		return txn.Set([]byte(keyActiveTree), data)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to activate AllocationTree %s: %w", pointer.TreeID, err)
	}

	return previous, nil
}

// GetActivePointer retrieves the active pointer
func (b *BadgerPersistence) GetActivePointer() (*types.ActivePointer, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, persistence.ErrClosed
	}

	var pointer *types.ActivePointer
	err := b.db.View(func(txn *badgerdb.Txn) error {
		var err error
		pointer, err = activePointerTxn(txn)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get active pointer: %w", err)
	}

	return pointer, nil
}

// Close shuts down the persistence layer
func (b *BadgerPersistence) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil // Already closed, idempotent
	}
	b.closed = true
	b.mu.Unlock()

	if b.gcCancel != nil {
		b.gcCancel()
	}
	b.gcWg.Wait()

	if err := b.db.Close(); err != nil {
		return fmt.Errorf("failed to close badger database: %w", err)
	}

	b.logger.Sugar().Info("Badger persistence closed")
	return nil
}

// HealthCheck verifies the persistence layer is operational
func (b *BadgerPersistence) HealthCheck() error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return persistence.ErrClosed
	}

	return b.db.View(func(txn *badgerdb.Txn) error {
		_, err := txn.Get([]byte(keySchemaVersion))
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return fmt.Errorf("schema version not found - database may be corrupted")
		}
		return err
	})
}
