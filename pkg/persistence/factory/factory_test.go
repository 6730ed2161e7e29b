package factory

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Layr-Labs/eigenx-claims-go/pkg/config"
	"github.com/Layr-Labs/eigenx-claims-go/pkg/persistence/badger"
	"github.com/Layr-Labs/eigenx-claims-go/pkg/persistence/memory"
	"github.com/Layr-Labs/eigenx-claims-go/pkg/persistence/redis"
)

func TestNewPersistence(t *testing.T) {
	logger := zap.NewNop()
	s := miniredis.RunT(t)

	store, err := NewPersistence(&config.PersistenceConfig{Type: config.PersistenceTypeMemory}, logger)
	require.NoError(t, err)
	require.IsType(t, &memory.MemoryPersistence{}, store)
	require.NoError(t, store.Close())

	store, err = NewPersistence(&config.PersistenceConfig{Type: config.PersistenceTypeBadger, DataPath: t.TempDir()}, logger)
	require.NoError(t, err)
	require.IsType(t, &badger.BadgerPersistence{}, store)
	require.NoError(t, store.Close())

	store, err = NewPersistence(&config.PersistenceConfig{
		Type:  config.PersistenceTypeRedis,
		Redis: config.RedisConnectionConfig{Address: s.Addr(), KeyPrefix: "test:"},
	}, logger)
	require.NoError(t, err)
	require.IsType(t, &redis.RedisPersistence{}, store)
	require.NoError(t, store.HealthCheck())
	require.NoError(t, store.Close())
}

func TestNewPersistence_InvalidConfig(t *testing.T) {
	_, err := NewPersistence(nil, zap.NewNop())
	require.Error(t, err)

	_, err = NewPersistence(&config.PersistenceConfig{Type: "sqlite"}, zap.NewNop())
	require.Error(t, err)

	_, err = NewPersistence(&config.PersistenceConfig{Type: config.PersistenceTypeRedis}, zap.NewNop())
	require.Error(t, err)
}
