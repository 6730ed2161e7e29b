// Package claims builds, activates and serves allocation trees for airdrop claims.
package claims

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/Layr-Labs/eigenx-claims-go/pkg/allocation"
	"github.com/Layr-Labs/eigenx-claims-go/pkg/cache"
	"github.com/Layr-Labs/eigenx-claims-go/pkg/merkle"
	"github.com/Layr-Labs/eigenx-claims-go/pkg/metrics"
	"github.com/Layr-Labs/eigenx-claims-go/pkg/persistence"
	"github.com/Layr-Labs/eigenx-claims-go/pkg/types"
)

// ErrNameRequired is returned when a tree is created without a name.
var ErrNameRequired = errors.New("allocation tree name is required")

// ErrInvalidWalletAddress is returned by lookups given something that is not a 20-byte hex address.
var ErrInvalidWalletAddress = errors.New("wallet address must be 0x followed by 40 hex digits")

// CreateTreeRequest describes a new allocation tree.
type CreateTreeRequest struct {
	Name        string
	Description string
	Allocations []*types.RawAllocation
	CreatedBy   string
	Source      string
	Labels      map[string]string
}

// Engine is the allocation tree service used by the claim API and the admin CLI.
// Reads (eligibility, verification) are safe for concurrent use with admin writes.
type Engine struct {
	store   persistence.IAllocationTreePersistence
	proofs  cache.ProofCache
	metrics *metrics.Metrics
	logger  *zap.Logger

	// active holds the most recently loaded active tree. It is only served while the
	// stored active pointer still names it.
	mu     sync.RWMutex
	active *types.AllocationTree
	loads  singleflight.Group

	now   func() time.Time
	newID func() string
}

// NewEngine creates an engine over store. A nil proofCache disables caching and nil
// metrics disables instrumentation.
func NewEngine(store persistence.IAllocationTreePersistence, proofCache cache.ProofCache, m *metrics.Metrics, logger *zap.Logger) *Engine {
	if proofCache == nil {
		proofCache = &cache.NullCache{}
	}
	return &Engine{
		store:   store,
		proofs:  proofCache,
		metrics: m,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}
}

// Create normalizes the allocations, builds the tree with every proof and persists it
// inactive. Nothing is stored when any record is invalid.
func (e *Engine) Create(ctx context.Context, req *CreateTreeRequest) (*types.AllocationTree, error) {
	if req == nil || strings.TrimSpace(req.Name) == "" {
		return nil, ErrNameRequired
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	name := strings.TrimSpace(req.Name)
	start := time.Now()

	// Fail fast before building; SaveTree repeats the check atomically
	taken, err := e.store.TreeNameExists(name)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to check tree name %q", name)
	}
	if taken {
		return nil, &types.DuplicateNameError{Name: name}
	}

	allocs, err := allocation.Normalize(req.Allocations)
	if err != nil {
		return nil, err
	}

	tree, err := allocation.BuildTree(allocs)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to build allocation tree %q", name)
	}

	source := req.Source
	if source == "" {
		source = types.SourceAPI
	}

	tree.ID = e.newID()
	tree.Name = name
	tree.Description = req.Description
	tree.Metadata = types.TreeMetadata{
		CreatedBy: req.CreatedBy,
		CreatedAt: e.now(),
		Source:    source,
		Labels:    req.Labels,
	}

	// Construction is deterministic, so a failure here is a bug rather than bad input
	if result := ValidateIntegrity(tree); !result.Valid {
		return nil, &types.IntegrityError{TreeID: tree.ID, Reason: result.Reason}
	}

	if err := e.store.SaveTree(tree); err != nil {
		var dupErr *types.DuplicateNameError
		if errors.As(err, &dupErr) {
			return nil, err
		}
		return nil, errors.Wrapf(err, "failed to save allocation tree %q", name)
	}

	took := time.Since(start)
	e.metrics.TreeCreated(tree.TotalUsers, took)
	e.logger.Sugar().Infow("Created allocation tree",
		"id", tree.ID,
		"name", tree.Name,
		"root", tree.Root.Hex(),
		"total_users", tree.TotalUsers,
		"total_amount", tree.TotalAmount.String(),
		"input_records", len(req.Allocations),
		"source", source,
		"duration", took,
	)

	return tree, nil
}

// CreateFromFile parses a CSV or JSON allocation file and creates a tree from it.
// req.Allocations is ignored and req.Source is set from the detected file format.
func (e *Engine) CreateFromFile(ctx context.Context, req *CreateTreeRequest, path string) (*types.AllocationTree, error) {
	if req == nil {
		return nil, ErrNameRequired
	}

	records, source, err := allocation.ParseFile(path, e.logger)
	if err != nil {
		return nil, err
	}

	fileReq := *req
	fileReq.Allocations = records
	fileReq.Source = source
	return e.Create(ctx, &fileReq)
}

// Activate validates the tree and makes it the single active tree. On any failure the
// previously active tree stays active.
func (e *Engine) Activate(ctx context.Context, treeID, activatedBy string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tree, err := e.store.LoadTree(treeID)
	if err != nil {
		e.metrics.Activation("error")
		return errors.Wrapf(err, "failed to load tree %s", treeID)
	}
	if tree == nil {
		e.metrics.Activation("not_found")
		return errors.Wrapf(types.ErrTreeNotFound, "tree %s", treeID)
	}

	if result := ValidateIntegrity(tree); !result.Valid {
		e.metrics.Activation("integrity_failed")
		e.logger.Sugar().Warnw("Refusing to activate tree that failed integrity validation",
			"id", tree.ID, "name", tree.Name, "reason", result.Reason)
		return &types.IntegrityError{TreeID: tree.ID, Reason: result.Reason}
	}

	previous, err := e.store.ActivateTree(&types.ActivePointer{
		TreeID:      tree.ID,
		ActivatedAt: e.now(),
		ActivatedBy: activatedBy,
	})
	if err != nil {
		e.metrics.Activation("error")
		return errors.Wrapf(err, "failed to activate tree %s", treeID)
	}

	tree.IsActive = true
	e.mu.Lock()
	e.active = tree
	e.mu.Unlock()

	if err := e.proofs.Purge(ctx); err != nil {
		e.logger.Sugar().Warnw("Failed to purge proof cache after activation", "error", err)
	}

	previousID := ""
	if previous != nil {
		previousID = previous.TreeID
	}
	e.metrics.Activation("success")
	e.logger.Sugar().Infow("Activated allocation tree",
		"id", tree.ID, "name", tree.Name, "root", tree.Root.Hex(),
		"previous_id", previousID, "activated_by", activatedBy)

	return nil
}

// GetActiveTree returns a copy of the active tree, or nil when no tree was ever activated.
func (e *Engine) GetActiveTree(ctx context.Context) (*types.AllocationTree, error) {
	tree, err := e.activeTree(ctx)
	if err != nil || tree == nil {
		return nil, err
	}
	return tree.DeepCopy(), nil
}

// GetActiveSummary returns the active tree without leaves, or nil when no tree was ever activated.
func (e *Engine) GetActiveSummary(ctx context.Context) (*types.AllocationTree, error) {
	tree, err := e.activeTree(ctx)
	if err != nil || tree == nil {
		return nil, err
	}
	return tree.Summary(), nil
}

// activeTree resolves the active pointer and returns the shared, read-only tree it names.
func (e *Engine) activeTree(ctx context.Context) (*types.AllocationTree, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pointer, err := e.store.GetActivePointer()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read active tree pointer")
	}
	if pointer == nil {
		return nil, nil
	}

	e.mu.RLock()
	cached := e.active
	e.mu.RUnlock()
	if cached != nil && cached.ID == pointer.TreeID {
		return cached, nil
	}

	// Concurrent claim requests after a switch share one load of the new tree
	v, err, _ := e.loads.Do(pointer.TreeID, func() (interface{}, error) {
		tree, err := e.store.LoadTree(pointer.TreeID)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to load active tree %s", pointer.TreeID)
		}
		if tree == nil {
			return nil, fmt.Errorf("active tree pointer names missing tree %s", pointer.TreeID)
		}
		tree.IsActive = true

		e.mu.Lock()
		e.active = tree
		e.mu.Unlock()

		e.logger.Sugar().Infow("Loaded active allocation tree", "id", tree.ID, "name", tree.Name, "leaves", tree.TotalUsers)
		return tree, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*types.AllocationTree), nil
}

// GetTree returns the tree with the given ID or ErrTreeNotFound.
func (e *Engine) GetTree(ctx context.Context, id string) (*types.AllocationTree, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tree, err := e.store.LoadTree(id)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load tree %s", id)
	}
	if tree == nil {
		return nil, errors.Wrapf(types.ErrTreeNotFound, "tree %s", id)
	}
	return tree, nil
}

// ListTrees returns summaries of all trees, oldest first.
func (e *Engine) ListTrees(ctx context.Context) ([]*types.AllocationTree, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	trees, err := e.store.ListTrees()
	if err != nil {
		return nil, errors.Wrap(err, "failed to list trees")
	}
	return trees, nil
}

// ValidateTree loads a tree and runs ValidateIntegrity on it.
func (e *Engine) ValidateTree(ctx context.Context, id string) (*types.IntegrityResult, error) {
	tree, err := e.GetTree(ctx, id)
	if err != nil {
		return nil, err
	}
	result := ValidateIntegrity(tree)
	return &result, nil
}

// IsEligible looks wallet up in the active tree. A wallet that is not in the tree, or
// the absence of an active tree, is reported as Eligible=false rather than an error.
func (e *Engine) IsEligible(ctx context.Context, wallet string) (*types.EligibilityResult, error) {
	wallet = strings.TrimSpace(wallet)
	if !merkle.IsCanonicalAddress(wallet) {
		return nil, ErrInvalidWalletAddress
	}
	wallet = strings.ToLower(wallet)

	result := &types.EligibilityResult{WalletAddress: wallet, Index: -1}

	tree, err := e.activeTree(ctx)
	if err != nil {
		return nil, err
	}
	if tree == nil {
		e.metrics.Eligibility(false)
		return result, nil
	}

	result.TreeID = tree.ID
	result.Root = tree.Root

	leaf, hit := e.proofs.Get(ctx, tree.ID, wallet)
	e.metrics.CacheLookup(hit)
	if !hit {
		leaf = GetProofForWallet(tree, wallet)
		if leaf != nil {
			if err := e.proofs.Set(ctx, tree.ID, leaf); err != nil {
				e.logger.Sugar().Warnw("Failed to cache proof", "tree_id", tree.ID, "error", err)
			}
		}
	}

	if leaf == nil {
		e.metrics.Eligibility(false)
		return result, nil
	}

	result.Eligible = true
	result.Amount = leaf.Amount
	result.Index = leaf.Index
	result.Proof = leaf.Proof

	e.metrics.Eligibility(true)
	return result, nil
}

// VerifyProof checks a proof against an explicit root. It touches no state.
func (e *Engine) VerifyProof(wallet string, amount *big.Int, proof []common.Hash, root common.Hash) bool {
	valid := merkle.VerifyAllocationProof(wallet, amount, proof, root)
	e.metrics.Verification(valid)
	return valid
}

// VerifyClaim checks a claim against the active tree's root. With no active tree every
// claim is invalid.
func (e *Engine) VerifyClaim(ctx context.Context, wallet string, amount *big.Int, proof []common.Hash) (bool, error) {
	tree, err := e.activeTree(ctx)
	if err != nil {
		return false, err
	}
	if tree == nil {
		e.metrics.Verification(false)
		return false, nil
	}
	return e.VerifyProof(wallet, amount, proof, tree.Root), nil
}

// HealthCheck reports whether the underlying store is reachable.
func (e *Engine) HealthCheck() error {
	return e.store.HealthCheck()
}
