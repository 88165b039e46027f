package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"orderhub/internal/model"
)

type trackingView struct {
	model.TrackingSession
	SubscriberCount int  `json:"subscriberCount"`
	Live            bool `json:"live"`
}

// OrderTrackingHandler handles GET /v1/orders/{orderID}/tracking. Orders the
// hub is not following are served from the store.
func (s *Server) OrderTrackingHandler(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	snap, err := s.Hub.Authorizer.Authorize(r.Context(), orderID, principal(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if sess, ok := s.Hub.Session(orderID); ok {
		writeJSON(w, http.StatusOK, trackingView{TrackingSession: sess, SubscriberCount: len(sess.Subscribers), Live: true})
		return
	}
	writeJSON(w, http.StatusOK, trackingView{TrackingSession: model.TrackingSession{
		OrderID:         snap.OrderID,
		TenantID:        snap.TenantID,
		BranchID:        snap.BranchID,
		Provider:        snap.Provider,
		ProviderOrderID: snap.ExternalOrderID,
		Status:          snap.Status,
		LastUpdate:      snap.UpdatedAt,
	}})
}
