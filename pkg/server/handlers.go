package server

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"

	"github.com/Layr-Labs/eigenx-claims-go/pkg/allocation"
	"github.com/Layr-Labs/eigenx-claims-go/pkg/claims"
	"github.com/Layr-Labs/eigenx-claims-go/pkg/types"
)

// maxBodyBytes bounds request bodies, tree creation included
const maxBodyBytes = 64 << 20

// CreateTreeRequest is the body of POST /trees. Allocations use the same JSON shapes as
// allocation import files.
type CreateTreeRequest struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	CreatedBy   string            `json:"createdBy"`
	Labels      map[string]string `json:"labels,omitempty"`
	Allocations json.RawMessage   `json:"allocations"`
}

// ActivateTreeRequest is the optional body of POST /trees/{id}/activate
type ActivateTreeRequest struct {
	ActivatedBy string `json:"activatedBy"`
}

// VerifyRequest is the body of POST /verify
type VerifyRequest struct {
	WalletAddress string      `json:"walletAddress"`
	Amount        json.Number `json:"amount"`
	Proof         []string    `json:"proof"`
	Root          string      `json:"root,omitempty"`
}

// VerifyResponse is returned by POST /verify
type VerifyResponse struct {
	Valid bool        `json:"valid"`
	Root  common.Hash `json:"root"`
}

// TreeResponse is a tree as returned by the admin routes
type TreeResponse struct {
	*types.AllocationTree
	IsActive bool `json:"isActive"`
}

func newTreeResponse(tree *types.AllocationTree, withLeaves bool) *TreeResponse {
	if !withLeaves {
		tree = tree.Summary()
	}
	return &TreeResponse{AllocationTree: tree, IsActive: tree.IsActive}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.HealthCheck(); err != nil {
		s.logger.Sugar().Warnw("Health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleEligibility(w http.ResponseWriter, r *http.Request) {
	result, err := s.engine.IsEligible(r.Context(), chi.URLParam(r, "wallet"))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	amount, err := types.ParseAmount(req.Amount.String())
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid amount: "+err.Error())
		return
	}

	proof := make([]common.Hash, len(req.Proof))
	for i, p := range req.Proof {
		h, err := parseHash(p)
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.Wrapf(err, "invalid proof element %d", i).Error())
			return
		}
		proof[i] = h
	}

	if req.Root != "" {
		root, err := parseHash(req.Root)
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.Wrap(err, "invalid root").Error())
			return
		}
		valid := s.engine.VerifyProof(req.WalletAddress, amount.BigInt(), proof, root)
		writeJSON(w, http.StatusOK, &VerifyResponse{Valid: valid, Root: root})
		return
	}

	active, err := s.engine.GetActiveSummary(r.Context())
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	if active == nil {
		writeJSON(w, http.StatusOK, &VerifyResponse{Valid: false})
		return
	}
	valid := s.engine.VerifyProof(req.WalletAddress, amount.BigInt(), proof, active.Root)
	writeJSON(w, http.StatusOK, &VerifyResponse{Valid: valid, Root: active.Root})
}

func (s *Server) handleListTrees(w http.ResponseWriter, r *http.Request) {
	trees, err := s.engine.ListTrees(r.Context())
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}

	resp := make([]*TreeResponse, 0, len(trees))
	for _, tree := range trees {
		resp = append(resp, newTreeResponse(tree, false))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetActiveTree(w http.ResponseWriter, r *http.Request) {
	get := s.engine.GetActiveSummary
	if wantLeaves(r) {
		get = s.engine.GetActiveTree
	}
	tree, err := get(r.Context())
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	if tree == nil {
		writeError(w, http.StatusNotFound, "no active allocation tree")
		return
	}
	writeJSON(w, http.StatusOK, newTreeResponse(tree, wantLeaves(r)))
}

func (s *Server) handleGetTree(w http.ResponseWriter, r *http.Request) {
	tree, err := s.engine.GetTree(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTreeResponse(tree, wantLeaves(r)))
}

func (s *Server) handleValidateTree(w http.ResponseWriter, r *http.Request) {
	result, err := s.engine.ValidateTree(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCreateTree(w http.ResponseWriter, r *http.Request) {
	var req CreateTreeRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := allocation.ParseJSON(req.Allocations)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	tree, err := s.engine.Create(r.Context(), &claims.CreateTreeRequest{
		Name:        req.Name,
		Description: req.Description,
		Allocations: records,
		CreatedBy:   req.CreatedBy,
		Source:      types.SourceAPI,
		Labels:      req.Labels,
	})
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newTreeResponse(tree, false))
}

func (s *Server) handleActivateTree(w http.ResponseWriter, r *http.Request) {
	var req ActivateTreeRequest
	if r.ContentLength != 0 {
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if req.ActivatedBy == "" {
		req.ActivatedBy = "api"
	}

	id := chi.URLParam(r, "id")
	if err := s.engine.Activate(r.Context(), id, req.ActivatedBy); err != nil {
		s.writeEngineError(w, r, err)
		return
	}

	tree, err := s.engine.GetTree(r.Context(), id)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTreeResponse(tree, false))
}

// requireAdmin checks the bearer token of write routes
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.adminToken == "" {
			writeError(w, http.StatusForbidden, "admin API is disabled")
			return
		}

		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.adminToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid or missing admin token")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// writeEngineError maps engine errors to HTTP statuses
func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		invalidAlloc *types.InvalidAllocationError
		duplicate    *types.DuplicateNameError
		integrity    *types.IntegrityError
	)

	switch {
	case errors.As(err, &invalidAlloc),
		errors.Is(err, claims.ErrNameRequired),
		errors.Is(err, claims.ErrInvalidWalletAddress):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &duplicate):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &integrity):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, types.ErrTreeNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		s.logger.Sugar().Errorw("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Wrap(err, "failed to parse request")
	}
	return nil
}

func parseHash(s string) (common.Hash, error) {
	b, err := hexutil.Decode(s)
	if err != nil {
		return common.Hash{}, err
	}
	if len(b) != common.HashLength {
		return common.Hash{}, errors.Errorf("expected %d bytes, got %d", common.HashLength, len(b))
	}
	return common.BytesToHash(b), nil
}

func wantLeaves(r *http.Request) bool {
	return r.URL.Query().Get("leaves") == "true"
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
