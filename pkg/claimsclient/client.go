// Package claimsclient is a Go client for the claims server HTTP API.
package claimsclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/Layr-Labs/eigenx-claims-go/pkg/claims"
	"github.com/Layr-Labs/eigenx-claims-go/pkg/server"
	"github.com/Layr-Labs/eigenx-claims-go/pkg/types"
)

// ClientConfig holds the configuration for the claims client
type ClientConfig struct {
	BaseURL    string
	AdminToken string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client talks to one claims server
type Client struct {
	baseURL    string
	adminToken string
	httpClient *http.Client
	logger     *zap.Logger
}

// APIError is a non-2xx response from the server
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("claims server returned %d: %s", e.StatusCode, e.Message)
}

// Is lets callers match a 404 with errors.Is(err, types.ErrTreeNotFound)
func (e *APIError) Is(target error) bool {
	return target == types.ErrTreeNotFound && e.StatusCode == http.StatusNotFound
}

// NewClient creates a new claims client
func NewClient(config *ClientConfig) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if config.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if _, err := url.ParseRequestURI(config.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", config.BaseURL, err)
	}
	if config.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}

	return &Client{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		adminToken: config.AdminToken,
		httpClient: httpClient,
		logger:     config.Logger,
	}, nil
}

// Health returns nil when the server and its store are reachable
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

// ListTrees returns summaries of all trees, oldest first
func (c *Client) ListTrees(ctx context.Context) ([]*types.AllocationTree, error) {
	var resp []*server.TreeResponse
	if err := c.do(ctx, http.MethodGet, "/trees", nil, &resp); err != nil {
		return nil, err
	}

	trees := make([]*types.AllocationTree, 0, len(resp))
	for _, r := range resp {
		trees = append(trees, fromResponse(r))
	}
	return trees, nil
}

// GetTree returns one tree; withLeaves includes every leaf and proof
func (c *Client) GetTree(ctx context.Context, id string, withLeaves bool) (*types.AllocationTree, error) {
	path := "/trees/" + url.PathEscape(id)
	if withLeaves {
		path += "?leaves=true"
	}

	var resp server.TreeResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return fromResponse(&resp), nil
}

// GetActiveTree returns the active tree summary, or nil when none is active
func (c *Client) GetActiveTree(ctx context.Context) (*types.AllocationTree, error) {
	var resp server.TreeResponse
	err := c.do(ctx, http.MethodGet, "/trees/active", nil, &resp)
	if apiErr, ok := err.(*APIError); ok && apiErr.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return fromResponse(&resp), nil
}

// CreateTree uploads allocations as a new inactive tree. The server records the source as "api".
func (c *Client) CreateTree(ctx context.Context, req *claims.CreateTreeRequest) (*types.AllocationTree, error) {
	if req == nil {
		return nil, fmt.Errorf("request cannot be nil")
	}

	allocations, err := json.Marshal(req.Allocations)
	if err != nil {
		return nil, fmt.Errorf("failed to encode allocations: %w", err)
	}

	body := &server.CreateTreeRequest{
		Name:        req.Name,
		Description: req.Description,
		CreatedBy:   req.CreatedBy,
		Labels:      req.Labels,
		Allocations: allocations,
	}

	c.logger.Sugar().Infow("Uploading allocation tree", "name", req.Name, "records", len(req.Allocations))

	var resp server.TreeResponse
	if err := c.do(ctx, http.MethodPost, "/trees", body, &resp); err != nil {
		return nil, err
	}
	return fromResponse(&resp), nil
}

// ActivateTree activates a tree and returns its summary
func (c *Client) ActivateTree(ctx context.Context, id, activatedBy string) (*types.AllocationTree, error) {
	var resp server.TreeResponse
	body := &server.ActivateTreeRequest{ActivatedBy: activatedBy}
	if err := c.do(ctx, http.MethodPost, "/trees/"+url.PathEscape(id)+"/activate", body, &resp); err != nil {
		return nil, err
	}
	return fromResponse(&resp), nil
}

// ValidateTree runs integrity validation on the server
func (c *Client) ValidateTree(ctx context.Context, id string) (*types.IntegrityResult, error) {
	var result types.IntegrityResult
	if err := c.do(ctx, http.MethodGet, "/trees/"+url.PathEscape(id)+"/integrity", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// IsEligible looks the wallet up in the active tree
func (c *Client) IsEligible(ctx context.Context, wallet string) (*types.EligibilityResult, error) {
	var result types.EligibilityResult
	if err := c.do(ctx, http.MethodGet, "/eligibility/"+url.PathEscape(wallet), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Verify checks a proof on the server. A nil root verifies against the active tree.
func (c *Client) Verify(ctx context.Context, wallet string, amount *big.Int, proof []common.Hash, root *common.Hash) (*server.VerifyResponse, error) {
	if amount == nil {
		return nil, fmt.Errorf("amount cannot be nil")
	}

	req := &server.VerifyRequest{
		WalletAddress: wallet,
		Amount:        json.Number(amount.String()),
		Proof:         make([]string, len(proof)),
	}
	for i, p := range proof {
		req.Proof[i] = p.Hex()
	}
	if root != nil {
		req.Root = root.Hex()
	}

	var resp server.VerifyResponse
	if err := c.do(ctx, http.MethodPost, "/verify", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.adminToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.adminToken)
	}

	c.logger.Sugar().Debugw("Sending request to claims server", "method", method, "path", path)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to contact claims server: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		var errBody struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &errBody) == nil && errBody.Error != "" {
			msg = errBody.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func fromResponse(r *server.TreeResponse) *types.AllocationTree {
	if r == nil || r.AllocationTree == nil {
		return nil
	}
	tree := r.AllocationTree
	tree.IsActive = r.IsActive
	return tree
}
