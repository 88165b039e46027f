// Package api implements the HTTP and WebSocket surface of orderhub: provider
// webhook ingress, live order tracking and the operator endpoints.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"orderhub/internal/auth"
	"orderhub/internal/config"
	"orderhub/internal/logging"
	"orderhub/internal/metrics"
	"orderhub/internal/ordersync"
	"orderhub/internal/providers"
	"orderhub/internal/store"
	"orderhub/internal/tracking"
	"orderhub/internal/webhooks"
)

type Server struct {
	Config    *config.Config
	Store     store.Store
	Providers *providers.Registry
	Webhooks  *webhooks.Verifier
	Sync      *ordersync.Coordinator
	Hub       *tracking.Hub
	Auth      *auth.Verifier
	Log       *slog.Logger

	limiters *limiterSet
}

func NewServer(cfg *config.Config, st store.Store, reg *providers.Registry, coord *ordersync.Coordinator, hub *tracking.Hub, log *slog.Logger) *Server {
	return &Server{
		Config:    cfg,
		Store:     st,
		Providers: reg,
		Webhooks:  webhooks.NewVerifier(reg, webhooks.ConfigSecrets(cfg.Providers)),
		Sync:      coord,
		Hub:       hub,
		Auth:      auth.NewVerifier(cfg.Auth),
		Log:       logging.OrDiscard(log).With("component", "api"),
		limiters:  newLimiterSet(cfg.Ingress),
	}
}

// Routes builds the service router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, s.instrument, middleware.Recoverer)

	r.Get("/healthz", s.HealthHandler)
	r.Get("/readyz", s.ReadyHandler)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	r.With(s.requirePrincipal, s.requireRole(auth.RoleAdmin)).Get("/debug", s.DebugJSON)
	r.Get("/openapi.yaml", s.OpenAPIHandler)
	r.Get("/openapi.json", s.OpenAPIJSONHandler)
	r.Get("/docs", s.DocsHandler)

	r.Route("/v1", func(r chi.Router) {
		// Provider ingress authenticates with per-provider signatures.
		r.Post("/webhooks/{tenantID}/{branchID}/{provider}/orders", s.OrderWebhookHandler)
		r.Post("/webhooks/{tenantID}/{branchID}/{provider}/status", s.StatusWebhookHandler)

		// Subscribers authenticate per subscribe message.
		r.Get("/tracking/ws", s.TrackingWSHandler)

		r.Group(func(r chi.Router) {
			r.Use(s.requirePrincipal)
			r.Post("/sync", s.SyncHandler)
			r.Post("/sync/batch", s.BatchSyncHandler)
			r.Get("/providers", s.ProvidersHandler)
			r.Get("/orders/{orderID}/tracking", s.OrderTrackingHandler)

			r.Group(func(r chi.Router) {
				r.Use(s.requireRole(auth.RoleAdmin, auth.RoleOperator))
				r.Get("/subscriptions", s.ListSubscriptionsHandler)
				r.Post("/subscriptions", s.CreateSubscriptionHandler)
				r.Delete("/subscriptions/{id}", s.DeleteSubscriptionHandler)
			})
			r.Group(func(r chi.Router) {
				r.Use(s.requireRole(auth.RoleAdmin))
				r.Get("/admin/webhook-deliveries", s.WebhookDeliveriesHandler)
				r.Post("/admin/webhook-deliveries/{id}/retry", s.WebhookDeliveryRetryHandler)
			})
		})
	})
	return r
}
