// Package cache holds per-wallet proof caches in front of the active allocation tree.
package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Layr-Labs/eigenx-claims-go/pkg/config"
	"github.com/Layr-Labs/eigenx-claims-go/pkg/types"
)

// ProofCache stores leaves (amount, index and proof) keyed by tree and wallet.
// Trees are immutable, so an entry never goes stale while its tree exists; entries are
// purged on activation only to release memory held for the previous tree.
type ProofCache interface {
	// Get returns the cached leaf for wallet in treeID. Wallet must be lower-case.
	Get(ctx context.Context, treeID, wallet string) (*types.Leaf, bool)
	// Set caches leaf under treeID and leaf.WalletAddress.
	Set(ctx context.Context, treeID string, leaf *types.Leaf) error
	// Purge removes every entry.
	Purge(ctx context.Context) error
}

// NewProofCache builds the cache selected by cfg.Type.
func NewProofCache(cfg *config.CacheConfig, logger *zap.Logger) (ProofCache, error) {
	if cfg == nil {
		return nil, fmt.Errorf("cache config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid cache config: %w", err)
	}

	switch cfg.Type {
	case config.CacheTypeNone:
		return &NullCache{}, nil
	case config.CacheTypeMemory:
		return NewMemoryCache(cfg.TTL, cfg.MaxSize, logger), nil
	case config.CacheTypeRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to connect to Redis cache at %s: %w", cfg.Redis.Address, err)
		}
		return NewRedisCache(client, cfg.Redis.KeyPrefix, cfg.TTL, logger), nil
	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

func entryKey(treeID, wallet string) string {
	return treeID + ":" + strings.ToLower(wallet)
}
