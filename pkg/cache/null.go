package cache

import (
	"context"

	"github.com/Layr-Labs/eigenx-claims-go/pkg/types"
)

// NullCache is a null cache that does nothing.
type NullCache struct{}

// Get returns not found
func (n *NullCache) Get(_ context.Context, _, _ string) (*types.Leaf, bool) {
	return nil, false
}

// Set does nothing
func (n *NullCache) Set(_ context.Context, _ string, _ *types.Leaf) error {
	return nil
}

// Purge does nothing
func (n *NullCache) Purge(_ context.Context) error {
	return nil
}
