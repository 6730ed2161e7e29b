package claimsclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Layr-Labs/eigenx-claims-go/pkg/cache"
	"github.com/Layr-Labs/eigenx-claims-go/pkg/claims"
	"github.com/Layr-Labs/eigenx-claims-go/pkg/config"
	"github.com/Layr-Labs/eigenx-claims-go/pkg/metrics"
	"github.com/Layr-Labs/eigenx-claims-go/pkg/persistence/memory"
	"github.com/Layr-Labs/eigenx-claims-go/pkg/server"
	"github.com/Layr-Labs/eigenx-claims-go/pkg/testutil"
	"github.com/Layr-Labs/eigenx-claims-go/pkg/types"
)

const adminToken = "token"

func newTestClient(t *testing.T, token string) *Client {
	t.Helper()

	store := memory.NewMemoryPersistence()
	t.Cleanup(func() { _ = store.Close() })

	m := metrics.New()
	engine := claims.NewEngine(store, cache.NewMemoryCache(time.Minute, 0, zap.NewNop()), m, zap.NewNop())
	srv := server.NewServer(engine, &config.ClaimsServerConfig{Port: 8080, AdminToken: adminToken}, m, zap.NewNop())

	ts := httptest.NewServer(srv.GetHandler())
	t.Cleanup(ts.Close)

	client, err := NewClient(&ClientConfig{BaseURL: ts.URL + "/", AdminToken: token, Logger: zap.NewNop()})
	require.NoError(t, err)
	return client
}

func TestNewClient_ValidationErrors(t *testing.T) {
	tests := []struct {
		name        string
		config      *ClientConfig
		expectedErr string
	}{
		{"nil config", nil, "config cannot be nil"},
		{"empty base URL", &ClientConfig{Logger: zap.NewNop()}, "base URL is required"},
		{"invalid base URL", &ClientConfig{BaseURL: "not a url", Logger: zap.NewNop()}, "invalid base URL"},
		{"nil logger", &ClientConfig{BaseURL: "http://localhost:8080"}, "logger is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient(tt.config)
			assert.Nil(t, client)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.expectedErr)
		})
	}
}

func TestClient_RoundTrip(t *testing.T) {
	client := newTestClient(t, adminToken)
	ctx := context.Background()

	require.NoError(t, client.Health(ctx))

	active, err := client.GetActiveTree(ctx)
	require.NoError(t, err)
	assert.Nil(t, active)

	created, err := client.CreateTree(ctx, &claims.CreateTreeRequest{
		Name:        "remote",
		CreatedBy:   "ci",
		Allocations: testutil.CreateTestAllocations(5),
		Labels:      map[string]string{"season": "1"},
	})
	require.NoError(t, err)
	assert.Equal(t, 5, created.TotalUsers)
	assert.Equal(t, "15000", created.TotalAmount.String())
	assert.Equal(t, types.SourceAPI, created.Metadata.Source)
	assert.Equal(t, "1", created.Metadata.Labels["season"])

	result, err := client.ValidateTree(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, result.Valid)

	activated, err := client.ActivateTree(ctx, created.ID, "ci")
	require.NoError(t, err)
	assert.True(t, activated.IsActive)

	full, err := client.GetTree(ctx, created.ID, true)
	require.NoError(t, err)
	require.Len(t, full.Leaves, 5)
	assert.True(t, full.IsActive)

	trees, err := client.ListTrees(ctx)
	require.NoError(t, err)
	require.Len(t, trees, 1)
	assert.True(t, trees[0].IsActive)

	leaf := full.Leaves[2]
	eligibility, err := client.IsEligible(ctx, leaf.WalletAddress)
	require.NoError(t, err)
	require.True(t, eligibility.Eligible)
	assert.Equal(t, leaf.Proof, eligibility.Proof)

	resp, err := client.Verify(ctx, leaf.WalletAddress, leaf.Amount.BigInt(), leaf.Proof, nil)
	require.NoError(t, err)
	assert.True(t, resp.Valid)
	assert.Equal(t, full.Root, resp.Root)

	root := full.Root
	resp, err = client.Verify(ctx, leaf.WalletAddress, leaf.Amount.BigInt(), leaf.Proof[1:], &root)
	require.NoError(t, err)
	assert.False(t, resp.Valid)
}

func TestClient_Errors(t *testing.T) {
	client := newTestClient(t, adminToken)
	ctx := context.Background()

	_, err := client.GetTree(ctx, "missing", false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrTreeNotFound))

	_, err = client.CreateTree(ctx, &claims.CreateTreeRequest{Name: "empty"})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.NotEmpty(t, apiErr.Message)

	readOnly := newTestClient(t, "")
	_, err = readOnly.CreateTree(ctx, &claims.CreateTreeRequest{Name: "x", Allocations: testutil.CreateTestAllocations(1)})
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.False(t, errors.Is(err, types.ErrTreeNotFound))
}
