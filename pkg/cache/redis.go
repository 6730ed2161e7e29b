package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Layr-Labs/eigenx-claims-go/pkg/types"
)

const (
	keyPrefixProof = "claims:proof:"
	purgeScanCount = 500
)

type redisCache struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
	logger    *zap.Logger
}

// NewRedisCache returns a cache shared by every server pointing at the same Redis.
func NewRedisCache(client *redis.Client, keyPrefix string, ttl time.Duration, logger *zap.Logger) ProofCache {
	return &redisCache{
		client:    client,
		keyPrefix: keyPrefix + keyPrefixProof,
		ttl:       ttl,
		logger:    logger,
	}
}

// Get returns an entry from redis. Errors are logged and reported as a miss.
func (c *redisCache) Get(ctx context.Context, treeID, wallet string) (*types.Leaf, bool) {
	data, err := c.client.Get(ctx, c.keyPrefix+entryKey(treeID, wallet)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		c.logger.Sugar().Warnw("Proof cache read failed", "tree_id", treeID, "error", err)
		return nil, false
	}

	var leaf types.Leaf
	if err := json.Unmarshal(data, &leaf); err != nil {
		c.logger.Sugar().Warnw("Discarding corrupt proof cache entry", "tree_id", treeID, "wallet", wallet, "error", err)
		return nil, false
	}
	return &leaf, true
}

// Set sets a new entry in redis with the configured TTL
func (c *redisCache) Set(ctx context.Context, treeID string, leaf *types.Leaf) error {
	if leaf == nil {
		return nil
	}

	data, err := json.Marshal(leaf)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.keyPrefix+entryKey(treeID, leaf.WalletAddress), data, c.ttl).Err()
}

// Purge deletes every proof entry under the prefix
func (c *redisCache) Purge(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, c.keyPrefix+"*", purgeScanCount).Iterator()

	batch := make([]string, 0, purgeScanCount)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == purgeScanCount {
			if err := c.client.Del(ctx, batch...).Err(); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(batch) > 0 {
		return c.client.Del(ctx, batch...).Err()
	}
	return nil
}
