package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validServerConfig() *ClaimsServerConfig {
	return &ClaimsServerConfig{
		Port: DefaultPort,
		Persistence: PersistenceConfig{
			Type:     PersistenceTypeBadger,
			DataPath: DefaultDataPath,
		},
		Cache: CacheConfig{
			Type:    CacheTypeMemory,
			TTL:     DefaultCacheTTL,
			MaxSize: DefaultCacheMaxSize,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: DefaultRateLimitRPS,
			Burst:             DefaultRateLimitBurst,
		},
	}
}

func TestClaimsServerConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(c *ClaimsServerConfig)
		expectError string
	}{
		{
			name:   "valid",
			mutate: func(c *ClaimsServerConfig) {},
		},
		{
			name:        "port out of range",
			mutate:      func(c *ClaimsServerConfig) { c.Port = 70000 },
			expectError: "port",
		},
		{
			name:        "unsupported persistence",
			mutate:      func(c *ClaimsServerConfig) { c.Persistence.Type = "postgres" },
			expectError: "persistence.type",
		},
		{
			name:        "badger without path",
			mutate:      func(c *ClaimsServerConfig) { c.Persistence.DataPath = "" },
			expectError: "persistence.data_path",
		},
		{
			name: "redis without address",
			mutate: func(c *ClaimsServerConfig) {
				c.Persistence.Type = PersistenceTypeRedis
			},
			expectError: "persistence.redis.address",
		},
		{
			name: "redis db out of range",
			mutate: func(c *ClaimsServerConfig) {
				c.Persistence.Type = PersistenceTypeRedis
				c.Persistence.Redis = RedisConnectionConfig{Address: "localhost:6379", DB: 16}
			},
			expectError: "persistence.redis.db",
		},
		{
			name:        "cache without ttl",
			mutate:      func(c *ClaimsServerConfig) { c.Cache.TTL = 0 },
			expectError: "cache.ttl",
		},
		{
			name: "no cache needs no ttl",
			mutate: func(c *ClaimsServerConfig) {
				c.Cache = CacheConfig{Type: CacheTypeNone}
			},
		},
		{
			name:        "rate limit without burst",
			mutate:      func(c *ClaimsServerConfig) { c.RateLimit.Burst = 0 },
			expectError: "rate_limit.burst",
		},
		{
			name:   "rate limit disabled",
			mutate: func(c *ClaimsServerConfig) { c.RateLimit = RateLimitConfig{} },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validServerConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.expectError == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.expectError)
		})
	}
}

func TestClaimsServerConfig_Validate_AggregatesErrors(t *testing.T) {
	cfg := validServerConfig()
	cfg.Port = 0
	cfg.Cache.TTL = -time.Second

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port")
	assert.Contains(t, err.Error(), "cache.ttl")
}

func TestParseTypes(t *testing.T) {
	p, err := ParsePersistenceType("redis")
	require.NoError(t, err)
	assert.Equal(t, PersistenceTypeRedis, p)

	_, err = ParsePersistenceType("sqlite")
	require.Error(t, err)

	c, err := ParseCacheType("none")
	require.NoError(t, err)
	assert.Equal(t, CacheTypeNone, c)

	_, err = ParseCacheType("memcached")
	require.Error(t, err)
}
