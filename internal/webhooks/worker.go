package webhooks

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"orderhub/internal/config"
	"orderhub/internal/logging"
	"orderhub/internal/metrics"
	"orderhub/internal/retry"
	"orderhub/internal/store"
)

// Worker polls the delivery queue and POSTs due deliveries to subscriber URLs,
// signing each body with the subscription secret.
type Worker struct {
	Store        store.Store
	HTTP         *http.Client
	Backoff      retry.Policy
	PollInterval time.Duration
	BatchSize    int
	Log          *slog.Logger
}

func NewWorker(s store.Store, cfg config.WebhooksConfig, log *slog.Logger) *Worker {
	backoff := retry.Default()
	if cfg.MaxAttempts > 0 {
		backoff.MaxAttempts = cfg.MaxAttempts
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = time.Second
	}
	return &Worker{
		Store:        s,
		HTTP:         &http.Client{Timeout: timeout},
		Backoff:      backoff,
		PollInterval: poll,
		BatchSize:    50,
		Log:          logging.OrDiscard(log).With("component", "webhooks.worker"),
	}
}

// Run processes the queue until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.processOnce(ctx)
		}
	}
}

func (w *Worker) processOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	items, err := w.Store.FetchDueWebhookDeliveries(ctx, w.BatchSize)
	if err != nil {
		w.Log.Warn("fetch due deliveries", "err", err)
		return
	}
	for _, it := range items {
		w.deliver(ctx, it)
	}
}

func (w *Worker) deliver(ctx context.Context, it store.WebhookDelivery) {
	code, latency, err := w.post(ctx, it)
	if err == nil {
		metrics.WebhookDeliveries.WithLabelValues(it.EventType, "success").Inc()
		metrics.WebhookLatency.WithLabelValues(it.EventType, "success").Observe(float64(latency))
		if err := w.Store.MarkWebhookDelivery(ctx, it.ID, true, nil, "", code, latency); err != nil {
			w.Log.Error("mark delivery", "id", it.ID, "err", err)
		}
		return
	}
	metrics.WebhookLatency.WithLabelValues(it.EventType, "failure").Observe(float64(latency))
	// Deliveries retry on any failure; only the attempt budget ends them.
	if it.Attempts+1 >= w.Backoff.MaxAttempts {
		metrics.WebhookDeliveries.WithLabelValues(it.EventType, "failed").Inc()
		w.Log.Warn("delivery exhausted", "id", it.ID, "url", it.URL, "attempts", it.Attempts+1, "err", err)
		if err := w.Store.FailWebhookDelivery(ctx, it.ID, err.Error(), code, latency); err != nil {
			w.Log.Error("fail delivery", "id", it.ID, "err", err)
		}
		return
	}
	metrics.WebhookDeliveries.WithLabelValues(it.EventType, "retry").Inc()
	next := time.Now().Add(w.Backoff.NextDelay(it.Attempts))
	if err := w.Store.MarkWebhookDelivery(ctx, it.ID, false, &next, err.Error(), code, latency); err != nil {
		w.Log.Error("mark delivery", "id", it.ID, "err", err)
	}
}

func (w *Worker) post(ctx context.Context, it store.WebhookDelivery) (code, latencyMs int, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, it.URL, bytes.NewReader(it.Payload))
	if err != nil {
		return 0, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Type", it.EventType)
	req.Header.Set("X-Delivery-Id", it.ID)
	if it.Secret != "" {
		req.Header.Set("X-Signature", SignHMAC(it.Secret, it.Payload))
	}
	start := time.Now()
	resp, err := w.HTTP.Do(req)
	latencyMs = int(time.Since(start).Milliseconds())
	if err != nil {
		return 0, latencyMs, err
	}
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, latencyMs, fmt.Errorf("subscriber responded %d", resp.StatusCode)
	}
	return resp.StatusCode, latencyMs, nil
}
