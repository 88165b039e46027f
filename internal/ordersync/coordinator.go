// Package ordersync turns provider order payloads into exactly one persisted
// canonical order per idempotency key and announces the outcome as events.
package ordersync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"orderhub/internal/apperr"
	"orderhub/internal/config"
	"orderhub/internal/events"
	"orderhub/internal/logging"
	"orderhub/internal/metrics"
	"orderhub/internal/model"
	"orderhub/internal/providers"
	"orderhub/internal/retry"
	"orderhub/internal/store"
)

// Resolver finds the adapter for a provider id.
type Resolver interface {
	Resolve(id string) (providers.Adapter, error)
}

// Coordinator turns provider payloads into persisted canonical orders, once
// per idempotency key.
type Coordinator struct {
	Providers        Resolver
	Store            store.Store
	Guard            Guard
	Events           events.Emitter
	Retry            retry.Policy
	BatchConcurrency int
	BatchPause       time.Duration
	Log              *slog.Logger

	mu      sync.Mutex
	cursors map[string]time.Time // scope key -> start of last clean incremental run
}

// New builds a Coordinator. A non-positive cfg.MaxAttempts means one attempt.
func New(reg Resolver, st store.Store, guard Guard, em events.Emitter, cfg config.SyncConfig, log *slog.Logger) *Coordinator {
	if em == nil {
		em = events.Discard{}
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	return &Coordinator{
		Providers: reg,
		Store:     st,
		Guard:     guard,
		Events:    em,
		Retry: retry.Policy{
			Base:        cfg.RetryBase,
			Max:         cfg.RetryMax,
			MaxAttempts: attempts,
		},
		BatchConcurrency: cfg.BatchConcurrency,
		BatchPause:       cfg.BatchPause,
		Log:              logging.OrDiscard(log).With("component", "ordersync"),
		cursors:          map[string]time.Time{},
	}
}

// Synchronize ingests one order payload, or pulls the provider's orders when
// the request has no payload. The returned result is always populated; err
// carries the classified failure.
func (c *Coordinator) Synchronize(ctx context.Context, req model.SyncRequest) (model.SyncResult, error) {
	start := time.Now()
	res := model.SyncResult{CorrelationID: uuid.NewString(), Timestamp: time.Now().UTC()}
	var err error
	if len(req.Payload) == 0 {
		res, err = c.syncScope(ctx, req, res)
	} else {
		res, err = c.syncOrder(ctx, req, req.Payload, res)
	}
	provider := strings.ToLower(req.Provider)
	metrics.SyncResults.WithLabelValues(provider, outcome(res, err)).Inc()
	metrics.SyncDuration.WithLabelValues(provider).Observe(time.Since(start).Seconds())
	return res, err
}

func outcome(res model.SyncResult, err error) string {
	switch {
	case err == nil && res.Duplicate:
		return "duplicate"
	case err == nil && res.Success:
		return "completed"
	case errors.Is(err, apperr.SyncInProgress):
		return "in_progress"
	case err == nil:
		return "partial"
	default:
		return string(apperr.KindOf(err))
	}
}

func (c *Coordinator) syncOrder(ctx context.Context, req model.SyncRequest, raw []byte, res model.SyncResult) (model.SyncResult, error) {
	const op = "ordersync.synchronize"
	adapter, err := c.Providers.Resolve(req.Provider)
	if err != nil {
		return failed(res, err), err
	}
	if err := adapter.ValidatePayload(raw); err != nil {
		return failed(res, err), err
	}
	order, err := adapter.ExtractOrder(raw)
	if err != nil {
		return failed(res, err), err
	}
	order.Provider = adapter.ID()
	if order.ReceivedAt.IsZero() {
		order.ReceivedAt = res.Timestamp
	}
	res.ProviderOrderID = order.ExternalOrderID

	branch := req.BranchID
	if branch == "" {
		branch = order.BranchID
	}
	key := model.NewOrderKey(req.TenantID, branch, adapter.ID(), order.ExternalOrderID)
	log := c.Log.With("correlation_id", res.CorrelationID, "tenant", req.TenantID, "provider", adapter.ID(), "order", order.ExternalOrderID)

	if v := order.Violations(); len(v) > 0 {
		err := apperr.Errorf(apperr.KindValidationFailed, op, "%s", strings.Join(v, "; "))
		res = failed(res, err)
		res.Errors = v
		log.Info("order rejected by validation", "violations", len(v))
		c.emitFailed(ctx, key, res, err)
		return res, err
	}

	out, err := c.persist(ctx, key, order, res)
	if err != nil {
		if errors.Is(err, apperr.SyncInProgress) {
			log.Debug("sync already in flight")
			return out, err
		}
		log.Warn("sync failed", "err", err)
		c.emitFailed(ctx, key, out, err)
		return out, err
	}
	if out.Duplicate {
		log.Debug("duplicate order ignored", "order_id", out.OrderID)
		return out, nil
	}
	log.Info("order synchronized", "order_id", out.OrderID)
	c.emitCompleted(ctx, key, order, out)
	return out, nil
}

// persist is the only code that runs under the guard.
func (c *Coordinator) persist(ctx context.Context, key model.IdempotencyKey, order model.ProviderOrder, res model.SyncResult) (model.SyncResult, error) {
	const op = "ordersync.persist"
	release, err := c.Guard.TryAcquire(ctx, key.String())
	if err != nil {
		return failed(res, err), err
	}
	defer release()

	existing, err := c.Store.FindExistingSync(ctx, key)
	if err != nil {
		err = apperr.E(apperr.KindPersistenceUnavailable, op, err)
		return failed(res, err), err
	}
	if existing != nil {
		return duplicate(existing.Result, res), nil
	}

	res.Success = true
	res.SyncedCount = 1
	rec, err := c.Store.CreateSyncRecord(ctx, key, order, res)
	if errors.Is(err, store.ErrConflict) {
		if rec.OrderID != "" {
			return duplicate(rec.Result, res), nil
		}
		existing, ferr := c.Store.FindExistingSync(ctx, key)
		if ferr == nil && existing != nil {
			return duplicate(existing.Result, res), nil
		}
		err = fmt.Errorf("conflicting sync record not readable: %w", err)
	}
	if err != nil {
		err = apperr.E(apperr.KindPersistenceUnavailable, op, err)
		return failed(res, err), err
	}
	return rec.Result, nil
}

// duplicate returns the prior result under the caller's correlation id.
func duplicate(prior, current model.SyncResult) model.SyncResult {
	prior.Duplicate = true
	prior.CorrelationID = current.CorrelationID
	prior.Timestamp = current.Timestamp
	return prior
}

func failed(res model.SyncResult, err error) model.SyncResult {
	res.Success = false
	res.SyncedCount = 0
	res.FailedCount = 1
	res.Errors = []string{err.Error()}
	res.Retryable = apperr.Retryable(err)
	return res
}

// syncScope pulls orders from the provider API and runs each through the
// order path. The scope guard stays held for the whole pull so two pulls of
// the same scope never overlap.
func (c *Coordinator) syncScope(ctx context.Context, req model.SyncRequest, res model.SyncResult) (model.SyncResult, error) {
	const op = "ordersync.scope"
	adapter, err := c.Providers.Resolve(req.Provider)
	if err != nil {
		return failed(res, err), err
	}
	fetcher, ok := adapter.(providers.OrderFetcher)
	if !ok {
		err := apperr.Errorf(apperr.KindInvalidPayload, op, "empty payload and %s has no order API", adapter.ID())
		return failed(res, err), err
	}
	scope := req.Scope
	if scope == "" {
		scope = model.ScopeIncremental
	}
	key := model.NewScopeKey(req.TenantID, req.BranchID, adapter.ID(), scope)
	release, err := c.Guard.TryAcquire(ctx, key.String())
	if err != nil {
		return failed(res, err), err
	}
	defer release()

	var since time.Time
	if scope == model.ScopeIncremental {
		since = c.cursor(key)
	}
	started := time.Now().UTC()
	raws, err := fetcher.FetchOrders(ctx, req.BranchID, since)
	if err != nil {
		err = fmt.Errorf("%s: fetch %s orders: %w", op, adapter.ID(), err)
		res = failed(res, err)
		res.Retryable = true
		c.emitFailed(ctx, key, res, err)
		return res, err
	}

	for _, raw := range raws {
		sub := model.SyncResult{CorrelationID: res.CorrelationID, Timestamp: res.Timestamp}
		r, err := c.syncOrder(ctx, model.SyncRequest{TenantID: req.TenantID, BranchID: req.BranchID, Provider: req.Provider}, raw, sub)
		if err != nil {
			res.FailedCount++
			res.Errors = append(res.Errors, err.Error())
			res.Retryable = res.Retryable || r.Retryable
			continue
		}
		res.SyncedCount++
	}
	res.Success = res.FailedCount == 0
	if res.Success && scope == model.ScopeIncremental {
		c.setCursor(key, started)
	}
	c.Log.Info("scope sync finished", "correlation_id", res.CorrelationID, "provider", adapter.ID(),
		"scope", scope, "fetched", len(raws), "synced", res.SyncedCount, "failed", res.FailedCount)
	return res, nil
}

func (c *Coordinator) cursor(key model.IdempotencyKey) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cursors[key.String()]
}

func (c *Coordinator) setCursor(key model.IdempotencyKey, t time.Time) {
	c.mu.Lock()
	c.cursors[key.String()] = t
	c.mu.Unlock()
}

// BatchSynchronize runs requests in groups of BatchConcurrency with a pause
// between groups. Results are positionally aligned with reqs and each one is
// independent of the others.
func (c *Coordinator) BatchSynchronize(ctx context.Context, reqs []model.SyncRequest) []model.SyncResult {
	out := make([]model.SyncResult, len(reqs))
	size := c.BatchConcurrency
	if size <= 0 {
		size = 5
	}
	for start := 0; start < len(reqs); start += size {
		end := min(start+size, len(reqs))
		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				out[i] = c.synchronizeWithRetry(ctx, reqs[i])
				return nil
			})
		}
		_ = g.Wait()
		if end == len(reqs) || c.BatchPause <= 0 {
			continue
		}
		t := time.NewTimer(c.BatchPause)
		select {
		case <-ctx.Done():
			t.Stop()
			for i := end; i < len(reqs); i++ {
				out[i] = failed(model.SyncResult{CorrelationID: uuid.NewString(), Timestamp: time.Now().UTC()}, ctx.Err())
				out[i].Retryable = true
			}
			return out
		case <-t.C:
		}
	}
	return out
}

func (c *Coordinator) synchronizeWithRetry(ctx context.Context, req model.SyncRequest) model.SyncResult {
	var res model.SyncResult
	_ = c.Retry.Do(ctx, func(ctx context.Context) error {
		var err error
		res, err = c.Synchronize(ctx, req)
		return err
	})
	return res
}

func (c *Coordinator) emitCompleted(ctx context.Context, key model.IdempotencyKey, order model.ProviderOrder, res model.SyncResult) {
	evt := events.New(events.TypeSyncCompleted, key.TenantID)
	evt.BranchID = key.BranchID
	evt.Provider = key.Provider
	evt.OrderID = res.OrderID
	evt.ExternalOrderID = order.ExternalOrderID
	evt.CorrelationID = res.CorrelationID
	evt.Order = &order
	evt.Result = &res
	c.Events.Publish(ctx, evt)
}

func (c *Coordinator) emitFailed(ctx context.Context, key model.IdempotencyKey, res model.SyncResult, err error) {
	evt := events.New(events.TypeSyncFailed, key.TenantID)
	evt.BranchID = key.BranchID
	evt.Provider = key.Provider
	evt.ExternalOrderID = res.ProviderOrderID
	evt.CorrelationID = res.CorrelationID
	evt.Result = &res
	evt.Error = err.Error()
	evt.Retryable = res.Retryable
	c.Events.Publish(ctx, evt)
}
