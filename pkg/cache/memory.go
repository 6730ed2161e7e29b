package cache

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/Layr-Labs/eigenx-claims-go/pkg/types"
)

const memoryCleanUPPeriod = 1 * time.Minute

type memory struct {
	c       *cache.Cache
	maxSize int
	logger  *zap.Logger
}

// NewMemoryCache returns an in-process cache. A maxSize of 0 means unbounded.
func NewMemoryCache(ttl time.Duration, maxSize int, logger *zap.Logger) ProofCache {
	return &memory{
		c:       cache.New(ttl, memoryCleanUPPeriod),
		maxSize: maxSize,
		logger:  logger,
	}
}

// Get returns a copy of the cached leaf
func (m *memory) Get(_ context.Context, treeID, wallet string) (*types.Leaf, bool) {
	v, found := m.c.Get(entryKey(treeID, wallet))
	if !found {
		return nil, false
	}
	leaf, ok := v.(*types.Leaf)
	if !ok {
		return nil, false
	}
	return leaf.DeepCopy(), true
}

// Set stores a copy of leaf. When the cache is full, expired entries are evicted first
// and the new entry is dropped if that frees nothing.
func (m *memory) Set(_ context.Context, treeID string, leaf *types.Leaf) error {
	if leaf == nil {
		return nil
	}

	if m.maxSize > 0 && m.c.ItemCount() >= m.maxSize {
		m.c.DeleteExpired()
		if m.c.ItemCount() >= m.maxSize {
			m.logger.Sugar().Debugw("Proof cache full, not caching", "max_size", m.maxSize)
			return nil
		}
	}

	m.c.SetDefault(entryKey(treeID, leaf.WalletAddress), leaf.DeepCopy())
	return nil
}

// Purge removes every entry
func (m *memory) Purge(_ context.Context) error {
	m.c.Flush()
	return nil
}
