package main

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/Layr-Labs/eigenx-claims-go/pkg/cache"
	"github.com/Layr-Labs/eigenx-claims-go/pkg/claims"
	"github.com/Layr-Labs/eigenx-claims-go/pkg/claimsclient"
	"github.com/Layr-Labs/eigenx-claims-go/pkg/config"
	"github.com/Layr-Labs/eigenx-claims-go/pkg/persistence"
	"github.com/Layr-Labs/eigenx-claims-go/pkg/persistence/factory"
	"github.com/Layr-Labs/eigenx-claims-go/pkg/types"
)

// treeBackend is what the store commands need, served either by a local store or a running server
type treeBackend interface {
	Create(ctx context.Context, req *claims.CreateTreeRequest) (*types.AllocationTree, error)
	ListTrees(ctx context.Context) ([]*types.AllocationTree, error)
	GetTree(ctx context.Context, id string, withLeaves bool) (*types.AllocationTree, error)
	ValidateTree(ctx context.Context, id string) (*types.IntegrityResult, error)
	Activate(ctx context.Context, id, activatedBy string) (*types.AllocationTree, error)
	IsEligible(ctx context.Context, wallet string) (*types.EligibilityResult, error)
	VerifyClaim(ctx context.Context, wallet string, amount *big.Int, proof []common.Hash) (bool, error)
	Close() error
}

// openBackend talks to --server when set, otherwise opens the configured store directly
func openBackend(c *cli.Context, l *zap.Logger) (treeBackend, error) {
	if serverURL := c.String("server"); serverURL != "" {
		client, err := claimsclient.NewClient(&claimsclient.ClientConfig{
			BaseURL:    serverURL,
			AdminToken: c.String("admin-token"),
			Logger:     l,
		})
		if err != nil {
			return nil, err
		}
		return &remoteBackend{client: client}, nil
	}

	persistenceType, err := config.ParsePersistenceType(c.String("persistence-type"))
	if err != nil {
		return nil, err
	}

	store, err := factory.NewPersistence(&config.PersistenceConfig{
		Type:     persistenceType,
		DataPath: c.String("data-path"),
		Redis: config.RedisConnectionConfig{
			Address:   c.String("redis-address"),
			Password:  c.String("redis-password"),
			DB:        c.Int("redis-db"),
			KeyPrefix: c.String("redis-key-prefix"),
		},
	}, l)
	if err != nil {
		return nil, fmt.Errorf("failed to open persistence: %w", err)
	}

	return &localBackend{
		engine: claims.NewEngine(store, &cache.NullCache{}, nil, l),
		store:  store,
	}, nil
}

type localBackend struct {
	engine *claims.Engine
	store  persistence.IAllocationTreePersistence
}

func (b *localBackend) Create(ctx context.Context, req *claims.CreateTreeRequest) (*types.AllocationTree, error) {
	return b.engine.Create(ctx, req)
}

func (b *localBackend) ListTrees(ctx context.Context) ([]*types.AllocationTree, error) {
	return b.engine.ListTrees(ctx)
}

func (b *localBackend) GetTree(ctx context.Context, id string, withLeaves bool) (*types.AllocationTree, error) {
	tree, err := b.engine.GetTree(ctx, id)
	if err != nil || withLeaves {
		return tree, err
	}
	return tree.Summary(), nil
}

func (b *localBackend) ValidateTree(ctx context.Context, id string) (*types.IntegrityResult, error) {
	return b.engine.ValidateTree(ctx, id)
}

func (b *localBackend) Activate(ctx context.Context, id, activatedBy string) (*types.AllocationTree, error) {
	if err := b.engine.Activate(ctx, id, activatedBy); err != nil {
		return nil, err
	}
	tree, err := b.engine.GetTree(ctx, id)
	if err != nil {
		return nil, err
	}
	return tree.Summary(), nil
}

func (b *localBackend) IsEligible(ctx context.Context, wallet string) (*types.EligibilityResult, error) {
	return b.engine.IsEligible(ctx, wallet)
}

func (b *localBackend) VerifyClaim(ctx context.Context, wallet string, amount *big.Int, proof []common.Hash) (bool, error) {
	return b.engine.VerifyClaim(ctx, wallet, amount, proof)
}

func (b *localBackend) Close() error {
	return b.store.Close()
}

type remoteBackend struct {
	client *claimsclient.Client
}

func (b *remoteBackend) Create(ctx context.Context, req *claims.CreateTreeRequest) (*types.AllocationTree, error) {
	return b.client.CreateTree(ctx, req)
}

func (b *remoteBackend) ListTrees(ctx context.Context) ([]*types.AllocationTree, error) {
	return b.client.ListTrees(ctx)
}

func (b *remoteBackend) GetTree(ctx context.Context, id string, withLeaves bool) (*types.AllocationTree, error) {
	return b.client.GetTree(ctx, id, withLeaves)
}

func (b *remoteBackend) ValidateTree(ctx context.Context, id string) (*types.IntegrityResult, error) {
	return b.client.ValidateTree(ctx, id)
}

func (b *remoteBackend) Activate(ctx context.Context, id, activatedBy string) (*types.AllocationTree, error) {
	return b.client.ActivateTree(ctx, id, activatedBy)
}

func (b *remoteBackend) IsEligible(ctx context.Context, wallet string) (*types.EligibilityResult, error) {
	return b.client.IsEligible(ctx, wallet)
}

func (b *remoteBackend) VerifyClaim(ctx context.Context, wallet string, amount *big.Int, proof []common.Hash) (bool, error) {
	resp, err := b.client.Verify(ctx, wallet, amount, proof, nil)
	if err != nil {
		return false, err
	}
	return resp.Valid, nil
}

func (b *remoteBackend) Close() error {
	return nil
}
