package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"orderhub/internal/apperr"
	"orderhub/internal/metrics"
	"orderhub/internal/model"
	"orderhub/internal/providers"
	"orderhub/internal/tracking"
)

const (
	kindOrders = "orders"
	kindStatus = "status"
)

var errRateLimited = errors.New("rate limit exceeded")

// OrderWebhookHandler handles POST /v1/webhooks/{tenantID}/{branchID}/{provider}/orders
func (s *Server) OrderWebhookHandler(w http.ResponseWriter, r *http.Request) {
	adapter, body, ok := s.ingress(w, r, kindOrders)
	if !ok {
		return
	}
	res, err := s.Sync.Synchronize(r.Context(), model.SyncRequest{
		TenantID: chi.URLParam(r, "tenantID"),
		BranchID: chi.URLParam(r, "branchID"),
		Provider: adapter.ID(),
		Payload:  body,
	})
	id := res.OrderID
	if id == "" {
		id = res.ProviderOrderID
	}
	outcome := "accepted"
	if res.Duplicate {
		outcome = "duplicate"
	}
	s.ack(w, adapter, kindOrders, id, outcome, err)
}

// StatusWebhookHandler handles POST /v1/webhooks/{tenantID}/{branchID}/{provider}/status
func (s *Server) StatusWebhookHandler(w http.ResponseWriter, r *http.Request) {
	const op = "api.statusWebhook"
	adapter, body, ok := s.ingress(w, r, kindStatus)
	if !ok {
		return
	}
	upd, err := adapter.ExtractStatusUpdate(body)
	if err != nil {
		s.ack(w, adapter, kindStatus, "", "", err)
		return
	}
	tenant, branch := chi.URLParam(r, "tenantID"), chi.URLParam(r, "branchID")
	snap, err := s.Store.FindOrderByExternal(r.Context(), tenant, adapter.ID(), upd.ExternalOrderID)
	if err != nil {
		s.ack(w, adapter, kindStatus, upd.ExternalOrderID, "", apperr.E(apperr.KindPersistenceUnavailable, op, err))
		return
	}
	if snap == nil || (branch != "" && snap.BranchID != branch) {
		// Providers may report orders that never reached us; acknowledging
		// stops their redelivery.
		s.Log.Info("status for unknown order", "provider", adapter.ID(), "tenant", tenant, "external_order_id", upd.ExternalOrderID)
		s.ack(w, adapter, kindStatus, upd.ExternalOrderID, "unknown_order", nil)
		return
	}
	out, err := s.Hub.OnExternalStatusEvent(r.Context(), tracking.StatusEvent{Order: *snap, Update: upd, Source: tracking.SourceWebhook})
	s.ack(w, adapter, kindStatus, snap.OrderID, string(out), err)
}

// ingress runs the checks shared by both webhook kinds: provider lookup,
// rate limit, body size and signature. It has written the response when ok
// is false.
func (s *Server) ingress(w http.ResponseWriter, r *http.Request, kind string) (adapter providers.Adapter, body []byte, ok bool) {
	const op = "api.ingress"
	provider := chi.URLParam(r, "provider")
	adapter, err := s.Providers.Resolve(provider)
	if err != nil {
		metrics.WebhooksReceived.WithLabelValues("unsupported", kind, string(apperr.KindUnsupportedProvider)).Inc()
		writeProblem(w, http.StatusNotFound, "Unsupported provider", err.Error(), r.URL.Path)
		return nil, nil, false
	}
	if !s.limiters.allow(adapter.ID()) {
		w.Header().Set("Retry-After", "1")
		metrics.WebhooksReceived.WithLabelValues(adapter.ID(), kind, "rate_limited").Inc()
		writeJSON(w, http.StatusTooManyRequests, adapter.FormatResponse(false, "", errRateLimited))
		return nil, nil, false
	}
	body, err = io.ReadAll(http.MaxBytesReader(w, r.Body, s.Config.Server.MaxBodyBytes))
	if err == nil && len(body) == 0 {
		err = errors.New("empty body")
	}
	if err != nil {
		s.ack(w, adapter, kind, "", "", apperr.E(apperr.KindInvalidPayload, op, err))
		return nil, nil, false
	}
	if err := s.Webhooks.Verify(r.Context(), adapter.ID(), chi.URLParam(r, "tenantID"), r.Header, body); err != nil {
		s.Log.Warn("webhook rejected", "provider", adapter.ID(), "kind", kind, "err", err)
		s.ack(w, adapter, kind, "", "", err)
		return nil, nil, false
	}
	return adapter, body, true
}

// ack replies with the provider-shaped acknowledgement. outcome labels the
// metric on success; failures are labelled by error kind.
func (s *Server) ack(w http.ResponseWriter, adapter providers.Adapter, kind, orderID, outcome string, err error) {
	status := http.StatusOK
	if err != nil {
		status = errorStatus(err)
		outcome = string(apperr.KindOf(err))
		if outcome == "" {
			outcome = "error"
		}
		if status == http.StatusServiceUnavailable {
			w.Header().Set("Retry-After", "5")
		}
	}
	if outcome == "" {
		outcome = "accepted"
	}
	metrics.WebhooksReceived.WithLabelValues(adapter.ID(), kind, outcome).Inc()
	writeJSON(w, status, adapter.FormatResponse(err == nil, orderID, err))
}
