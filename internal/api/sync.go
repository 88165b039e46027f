package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"orderhub/internal/apperr"
	"orderhub/internal/auth"
	"orderhub/internal/model"
	"orderhub/internal/providers"
)

const maxBatch = 100

type syncRequest struct {
	TenantID string          `json:"tenantId"`
	BranchID string          `json:"branchId"`
	Provider string          `json:"provider"`
	Scope    model.SyncScope `json:"scope,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// toModel scopes the request to the caller: tenant from the principal, and
// the principal's own branch for branch roles.
func (in syncRequest) toModel(p auth.Principal) (model.SyncRequest, error) {
	const op = "api.sync"
	if in.Provider == "" {
		return model.SyncRequest{}, apperr.MissingField(op, "provider")
	}
	if in.TenantID != "" && in.TenantID != p.TenantID {
		return model.SyncRequest{}, apperr.Errorf(apperr.KindForbidden, op, "tenant %s", in.TenantID)
	}
	if !p.Privileged() {
		if in.BranchID == "" {
			in.BranchID = p.BranchID
		}
		if p.BranchID == "" || in.BranchID != p.BranchID {
			return model.SyncRequest{}, apperr.Errorf(apperr.KindForbidden, op, "branch %s", in.BranchID)
		}
	}
	switch in.Scope {
	case "", model.ScopeFull, model.ScopeIncremental:
	default:
		return model.SyncRequest{}, apperr.Errorf(apperr.KindInvalidPayload, op, "unknown scope %q", in.Scope)
	}
	out := model.SyncRequest{TenantID: p.TenantID, BranchID: in.BranchID, Provider: in.Provider, Scope: in.Scope}
	if len(in.Payload) > 0 && string(in.Payload) != "null" {
		out.Payload = in.Payload
	}
	return out, nil
}

// SyncHandler handles POST /v1/sync
func (s *Server) SyncHandler(w http.ResponseWriter, r *http.Request) {
	var in syncRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	req, err := in.toModel(principal(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.Sync.Synchronize(r.Context(), req)
	status := http.StatusOK
	if err != nil {
		status = errorStatus(err)
		if status == http.StatusServiceUnavailable {
			w.Header().Set("Retry-After", "5")
		}
	}
	writeJSON(w, status, res)
}

// BatchSyncHandler handles POST /v1/sync/batch. Each result is independent;
// requests rejected before syncing get a failed result in their slot.
func (s *Server) BatchSyncHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Requests []syncRequest `json:"requests"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if len(body.Requests) == 0 || len(body.Requests) > maxBatch {
		writeProblem(w, http.StatusBadRequest, "Invalid batch", "requests must hold 1 to 100 entries", r.URL.Path)
		return
	}
	p := principal(r)
	results := make([]model.SyncResult, len(body.Requests))
	var valid []model.SyncRequest
	var slots []int
	for i, in := range body.Requests {
		req, err := in.toModel(p)
		if err != nil {
			results[i] = model.SyncResult{
				CorrelationID: uuid.NewString(),
				FailedCount:   1,
				Errors:        []string{err.Error()},
				Timestamp:     time.Now().UTC(),
			}
			continue
		}
		valid = append(valid, req)
		slots = append(slots, i)
	}
	if len(valid) > 0 {
		for j, res := range s.Sync.BatchSynchronize(r.Context(), valid) {
			results[slots[j]] = res
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

type providerInfo struct {
	ID        string `json:"id"`
	Auth      string `json:"auth"`
	OrderAPI  bool   `json:"orderApi"`
	StatusAPI bool   `json:"statusApi"`
}

// ProvidersHandler handles GET /v1/providers
func (s *Server) ProvidersHandler(w http.ResponseWriter, r *http.Request) {
	ids := s.Providers.ListSupported()
	items := make([]providerInfo, 0, len(ids))
	for _, id := range ids {
		a, err := s.Providers.Resolve(id)
		if err != nil {
			continue
		}
		_, fetch := a.(providers.OrderFetcher)
		_, poll := a.(providers.StatusPoller)
		items = append(items, providerInfo{ID: id, Auth: string(a.Scheme().Kind), OrderAPI: fetch, StatusAPI: poll})
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": items})
}
