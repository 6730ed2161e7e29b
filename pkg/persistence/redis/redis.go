package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Layr-Labs/eigenx-claims-go/pkg/persistence"
	"github.com/Layr-Labs/eigenx-claims-go/pkg/types"
)

// Key prefixes for namespacing in Redis
const (
	keyPrefixTree        = "claims:tree:"
	keyPrefixLeaves      = "claims:leaves:"
	keyTreeNames         = "claims:treenames"
	keyActiveTree        = "claims:active:tree"
	keySchemaVersion     = "claims:metadata:schema_version"
	currentSchemaVersion = "v1"

	// Key set for listing operations (Redis doesn't support prefix iteration natively)
	keySetTrees = "claims:trees:index"
)

// RedisPersistence is a production-ready persistence implementation using Redis.
// Provides durable, distributed storage suitable for cloud-native deployments where
// several claim servers share one set of trees.
//
// Name uniqueness and the active pointer are guarded with WATCH/MULTI/EXEC, so
// concurrent writers from different processes cannot both succeed.
type RedisPersistence struct {
	client    *redis.Client
	logger    *zap.Logger
	keyPrefix string // Custom prefix for all keys
	mu        sync.RWMutex
	closed    bool
}

// RedisConfig holds the configuration for connecting to Redis
type RedisConfig struct {
	// Address is the Redis server address (host:port)
	Address string
	// Password is the optional Redis password
	Password string
	// DB is the Redis database number (0-15)
	DB int
	// KeyPrefix is an optional custom prefix for all keys (for multi-tenant setups).
	// If set, this prefix is prepended to all keys, e.g., "myapp:" would result in
	// keys like "myapp:claims:tree:<id>". If empty, keys use the default "claims:" prefix.
	KeyPrefix string
}

// NewRedisPersistence creates a new Redis-backed persistence layer.
func NewRedisPersistence(cfg *RedisConfig, logger *zap.Logger) (*RedisPersistence, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}

	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}

	rp := &RedisPersistence{
		client:    client,
		logger:    logger,
		keyPrefix: cfg.KeyPrefix,
	}

	if err := rp.initSchema(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if cfg.KeyPrefix != "" {
		logger.Sugar().Infow("Redis persistence initialized", "address", cfg.Address, "db", cfg.DB, "key_prefix", cfg.KeyPrefix)
	} else {
		logger.Sugar().Infow("Redis persistence initialized", "address", cfg.Address, "db", cfg.DB)
	}

	return rp, nil
}

// prefixKey adds the custom key prefix (if configured) to a key
func (r *RedisPersistence) prefixKey(key string) string {
	if r.keyPrefix == "" {
		return key
	}
	return r.keyPrefix + key
}

func (r *RedisPersistence) treeKey(id string) string {
	return r.prefixKey(keyPrefixTree + id)
}

func (r *RedisPersistence) leavesKey(id string, chunk int) string {
	return r.prefixKey(fmt.Sprintf("%s%s:%06d", keyPrefixLeaves, id, chunk))
}

func (r *RedisPersistence) leavesKeys(id string, numChunks int) []string {
	keys := make([]string, numChunks)
	for i := range keys {
		keys[i] = r.leavesKey(id, i)
	}
	return keys
}

// initSchema initializes or validates the schema version
func (r *RedisPersistence) initSchema(ctx context.Context) error {
	schemaKey := r.prefixKey(keySchemaVersion)

	// SETNX so that two servers starting together agree on the version
	if err := r.client.SetNX(ctx, schemaKey, currentSchemaVersion, 0).Err(); err != nil {
		return fmt.Errorf("failed to write schema version: %w", err)
	}

	existingVersion, err := r.client.Get(ctx, schemaKey).Result()
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	if existingVersion != currentSchemaVersion {
		return fmt.Errorf("unsupported schema version: %s (expected: %s)", existingVersion, currentSchemaVersion)
	}

	return nil
}

// watch runs an optimistic transaction over keys, retrying when a watched key changes
func (r *RedisPersistence) watch(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	var err error
	for attempt := 0; attempt < persistence.MaxTxRetries; attempt++ {
		err = r.client.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		r.logger.Sugar().Debugw("Redis transaction conflict, retrying", "attempt", attempt+1, "keys", keys)
		time.Sleep(time.Duration(attempt+1) * 5 * time.Millisecond)
	}
	return fmt.Errorf("transaction failed after %d attempts: %w", persistence.MaxTxRetries, err)
}

// SaveTree persists a new tree
func (r *RedisPersistence) SaveTree(tree *types.AllocationTree) error {
	if err := persistence.ValidateForSave(tree); err != nil {
		return err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return persistence.ErrClosed
	}

	ctx := context.Background()

	header, err := persistence.MarshalTreeHeader(tree)
	if err != nil {
		return fmt.Errorf("failed to marshal AllocationTree: %w", err)
	}

	// Leaf chunks are written first and only become reachable once the header exists
	pipe := r.client.Pipeline()
	for i, chunk := range persistence.ChunkLeaves(tree.Leaves) {
		data, err := persistence.MarshalLeaves(chunk)
		if err != nil {
			return fmt.Errorf("failed to marshal leaf chunk %d: %w", i, err)
		}
		pipe.Set(ctx, r.leavesKey(tree.ID, i), data, 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save leaves for %s: %w", tree.ID, err)
	}

	namesKey := r.prefixKey(keyTreeNames)
	treeKey := r.treeKey(tree.ID)

	err = r.watch(ctx, func(tx *redis.Tx) error {
		taken, err := tx.HExists(ctx, namesKey, tree.Name).Result()
		if err != nil {
			return err
		}
		if taken {
			return &types.DuplicateNameError{Name: tree.Name}
		}

		exists, err := tx.Exists(ctx, treeKey).Result()
		if err != nil {
			return err
		}
		if exists > 0 {
			return fmt.Errorf("AllocationTree %s already exists", tree.ID)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, namesKey, tree.Name, tree.ID)
			pipe.Set(ctx, treeKey, header, 0)
			pipe.SAdd(ctx, r.prefixKey(keySetTrees), tree.ID)
			return nil
		})
		return err
	}, namesKey, treeKey)

	if err != nil {
		var dupErr *types.DuplicateNameError
		if errors.As(err, &dupErr) {
			if delErr := r.client.Del(ctx, r.leavesKeys(tree.ID, persistence.NumChunks(tree.TotalUsers))...).Err(); delErr != nil {
				r.logger.Sugar().Warnw("Failed to remove orphaned leaves", "id", tree.ID, "error", delErr)
			}
			return err
		}
		return fmt.Errorf("failed to save AllocationTree %s: %w", tree.ID, err)
	}

	r.logger.Sugar().Infow("Saved allocation tree",
		"id", tree.ID, "name", tree.Name, "leaves", tree.TotalUsers, "chunks", persistence.NumChunks(tree.TotalUsers))

	return nil
}

// LoadTree retrieves a tree by ID
func (r *RedisPersistence) LoadTree(id string) (*types.AllocationTree, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, persistence.ErrClosed
	}

	tree, err := r.loadTree(context.Background(), id)
	if err != nil {
		return nil, fmt.Errorf("failed to load AllocationTree %s: %w", id, err)
	}
	return tree, nil
}

// TreeNameExists checks the name hash only
func (r *RedisPersistence) TreeNameExists(name string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return false, persistence.ErrClosed
	}

	exists, err := r.client.HExists(context.Background(), r.prefixKey(keyTreeNames), name).Result()
	if err != nil {
		return false, fmt.Errorf("failed to look up AllocationTree name %q: %w", name, err)
	}
	return exists, nil
}

// LoadTreeByName retrieves a tree by name
func (r *RedisPersistence) LoadTreeByName(name string) (*types.AllocationTree, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, persistence.ErrClosed
	}

	ctx := context.Background()

	id, err := r.client.HGet(ctx, r.prefixKey(keyTreeNames), name).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil // Not found is not an error
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve AllocationTree name %q: %w", name, err)
	}

	tree, err := r.loadTree(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load AllocationTree named %q: %w", name, err)
	}
	return tree, nil
}

func (r *RedisPersistence) loadTree(ctx context.Context, id string) (*types.AllocationTree, error) {
	data, err := r.client.Get(ctx, r.treeKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	tree, err := persistence.UnmarshalTreeHeader(data)
	if err != nil {
		return nil, err
	}

	numChunks := persistence.NumChunks(tree.TotalUsers)
	chunks := make([][]*types.Leaf, 0, numChunks)
	if numChunks > 0 {
		keys := r.leavesKeys(id, numChunks)
		values, err := r.client.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to fetch leaves: %w", err)
		}

		for i, val := range values {
			raw, ok := val.(string)
			if !ok {
				return nil, fmt.Errorf("leaf chunk %s is missing", keys[i])
			}
			chunk, err := persistence.UnmarshalLeaves([]byte(raw))
			if err != nil {
				return nil, fmt.Errorf("corrupt leaf chunk %s: %w", keys[i], err)
			}
			chunks = append(chunks, chunk)
		}
	}

	if err := persistence.AssembleLeaves(tree, chunks); err != nil {
		return nil, err
	}

	pointer, err := r.getActivePointer(ctx, r.client)
	if err != nil {
		return nil, err
	}
	persistence.MarkActive(pointer, tree)

	return tree, nil
}

// ListTrees returns summaries of all trees sorted by creation time
func (r *RedisPersistence) ListTrees() ([]*types.AllocationTree, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, persistence.ErrClosed
	}

	ctx := context.Background()
	indexKey := r.prefixKey(keySetTrees)

	ids, err := r.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list AllocationTree ids: %w", err)
	}

	trees := make([]*types.AllocationTree, 0, len(ids))
	if len(ids) == 0 {
		return trees, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.treeKey(id)
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch AllocationTrees: %w", err)
	}

	for i, val := range values {
		data, ok := val.(string)
		if !ok {
			r.logger.Sugar().Warnw("AllocationTree listed in index but missing", "key", keys[i])
			continue
		}

		tree, err := persistence.UnmarshalTreeHeader([]byte(data))
		if err != nil {
			r.logger.Sugar().Warnw("Failed to unmarshal AllocationTree, skipping",
				"key", keys[i], "error", err)
			continue
		}

		trees = append(trees, tree)
	}

	pointer, err := r.getActivePointer(ctx, r.client)
	if err != nil {
		return nil, fmt.Errorf("failed to read active pointer: %w", err)
	}
	persistence.MarkActive(pointer, trees...)
	persistence.SortTrees(trees)

	return trees, nil
}

// ActivateTree replaces the active pointer in a WATCH transaction that also checks the tree exists
func (r *RedisPersistence) ActivateTree(pointer *types.ActivePointer) (*types.ActivePointer, error) {
	if err := persistence.ValidatePointer(pointer); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, persistence.ErrClosed
	}

	data, err := persistence.MarshalActivePointer(pointer)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ActivePointer: %w", err)
	}

	ctx := context.Background()
	activeKey := r.prefixKey(keyActiveTree)
	treeKey := r.treeKey(pointer.TreeID)

	var previous *types.ActivePointer
	err = r.watch(ctx, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, treeKey).Result()
		if err != nil {
			return err
		}
		if exists == 0 {
			return types.ErrTreeNotFound
		}

		previous, err = r.getActivePointer(ctx, tx)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, activeKey, data, 0)
			return nil
		})
		return err
	}, activeKey, treeKey)

	if err != nil {
		return nil, fmt.Errorf("failed to activate AllocationTree %s: %w", pointer.TreeID, err)
	}

	return previous, nil
}

// GetActivePointer retrieves the active pointer
func (r *RedisPersistence) GetActivePointer() (*types.ActivePointer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, persistence.ErrClosed
	}

	pointer, err := r.getActivePointer(context.Background(), r.client)
	if err != nil {
		return nil, fmt.Errorf("failed to get active pointer: %w", err)
	}
	return pointer, nil
}

// stringGetter is satisfied by both *redis.Client and *redis.Tx
type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (r *RedisPersistence) getActivePointer(ctx context.Context, c stringGetter) (*types.ActivePointer, error) {
	data, err := c.Get(ctx, r.prefixKey(keyActiveTree)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return persistence.UnmarshalActivePointer(data)
}

// Close shuts down the persistence layer
func (r *RedisPersistence) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil // Already closed, idempotent
	}
	r.closed = true
	r.mu.Unlock()

	if err := r.client.Close(); err != nil {
		return fmt.Errorf("failed to close Redis client: %w", err)
	}

	r.logger.Sugar().Info("Redis persistence closed")
	return nil
}

// HealthCheck verifies the persistence layer is operational
func (r *RedisPersistence) HealthCheck() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return persistence.ErrClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}

	_, err := r.client.Get(ctx, r.prefixKey(keySchemaVersion)).Result()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("schema version not found - database may not be properly initialized")
	}
	if err != nil {
		return fmt.Errorf("failed to verify schema version: %w", err)
	}

	return nil
}
