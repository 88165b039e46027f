package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the service
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, route pattern, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// WebhooksReceived counts inbound provider webhooks by provider, kind (orders/status) and outcome
	WebhooksReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhooks_received_total", Help: "Inbound provider webhooks by outcome."},
		[]string{"provider", "kind", "outcome"},
	)
	// SyncResults counts synchronize outcomes
	SyncResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "sync_results_total", Help: "Order sync results by provider and outcome."},
		[]string{"provider", "outcome"},
	)
	SyncDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "sync_duration_seconds", Help: "Synchronize latency.", Buckets: prometheus.DefBuckets},
		[]string{"provider"},
	)

	// TrackingSessions is the number of live tracking sessions
	TrackingSessions = prometheus.NewGauge(prometheus.GaugeOpts{Name: "tracking_sessions_active", Help: "Live tracking sessions."})
	// TrackingBroadcasts counts per-subscriber deliveries (delivered or dropped)
	TrackingBroadcasts = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "tracking_broadcasts_total", Help: "Status pushes to subscribers."},
		[]string{"result"},
	)
	// StatusUpdates counts status updates entering the hub by source and outcome
	StatusUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "tracking_status_updates_total", Help: "Status updates by source and outcome."},
		[]string{"source", "outcome"},
	)

	// EventsForwarded counts event sink deliveries
	EventsForwarded = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "events_forwarded_total", Help: "Events delivered to sinks."},
		[]string{"sink", "type", "status"},
	)

	// WebhookDeliveries counts outbound webhook delivery outcomes by event type and status
	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook deliveries by event type and status."},
		[]string{"event_type", "status"},
	)
	// WebhookLatency tracks webhook delivery latencies in milliseconds
	WebhookLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "webhook_delivery_latency_ms", Help: "Webhook delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000}},
		[]string{"event_type", "status"},
	)
)

// RegisterDefault registers collectors to the service registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(
			HTTPRequests, HTTPDuration,
			WebhooksReceived, SyncResults, SyncDuration,
			TrackingSessions, TrackingBroadcasts, StatusUpdates,
			EventsForwarded, WebhookDeliveries, WebhookLatency,
		)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
