package api

import (
	"net/http"
	"time"

	"orderhub/internal/buildinfo"
)

// DebugJSON handles GET /debug with build info and the effective settings,
// secrets redacted.
func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	cfg := s.Config
	providers := map[string]any{}
	for id, pc := range cfg.Providers {
		providers[id] = map[string]any{
			"enabled":       pc.Enabled,
			"hasSecret":     pc.Secret != "",
			"tenantSecrets": len(pc.TenantSecrets),
			"hasAPI":        pc.BaseURL != "",
			"rateRps":       pc.RateRPS,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"build": buildinfo.Info(),
		"time":  time.Now().UTC().Format(time.RFC3339),
		"config": map[string]any{
			"addr":            cfg.Server.Addr,
			"authMode":        cfg.Auth.Mode,
			"databaseDriver":  cfg.Database.Driver,
			"hasRedis":        cfg.Redis.URL != "",
			"eventsBroker":    cfg.Events.Broker,
			"kafka":           len(cfg.Events.Kafka.Brokers) > 0,
			"mqtt":            cfg.Events.MQTT.Broker != "",
			"ingressRateRps":  cfg.Ingress.RateRPS,
			"webhookAttempts": cfg.Webhooks.MaxAttempts,
			"trackingPoll":    cfg.Tracking.PollInterval.String(),
			"illegalPolicy":   cfg.Tracking.IllegalTransitionPolicy,
			"unknownPolicy":   cfg.Tracking.UnknownStatusPolicy,
			"providers":       providers,
		},
		"supportedProviders": s.Providers.ListSupported(),
	})
}
