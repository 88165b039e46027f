package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"orderhub/internal/model"
)

// Memory is a process-local Store used in development and tests.
type Memory struct {
	mu         sync.Mutex
	syncs      map[string]*model.SyncRecord // idempotency key -> record
	orders     map[string]*memOrder         // order id -> order
	byExternal map[string]string            // tenant|provider|external -> order id
	subs       map[string][]model.Subscription
	// Webhooks queue state
	deliveries         map[string]*WebhookDelivery
	deliveriesByTenant map[string][]string
	dedup              map[string]string // tenant|event|url|dedup -> delivery id
}

type memOrder struct {
	snapshot model.OrderSnapshot
	order    model.ProviderOrder
	syncKey  string
}

func NewMemory() *Memory {
	return &Memory{
		syncs:              map[string]*model.SyncRecord{},
		orders:             map[string]*memOrder{},
		byExternal:         map[string]string{},
		subs:               map[string][]model.Subscription{},
		deliveries:         map[string]*WebhookDelivery{},
		deliveriesByTenant: map[string][]string{},
		dedup:              map[string]string{},
	}
}

func externalRef(tenantID, provider, externalOrderID string) string {
	return tenantID + "|" + strings.ToLower(provider) + "|" + externalOrderID
}

func (m *Memory) FindExistingSync(ctx context.Context, key model.IdempotencyKey) (*model.SyncRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.syncs[key.String()]
	if !ok || rec.Status == model.SyncRecordFailed {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (m *Memory) CreateSyncRecord(ctx context.Context, key model.IdempotencyKey, order model.ProviderOrder, result model.SyncResult) (model.SyncRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.syncs[key.String()]; ok && rec.Status != model.SyncRecordFailed {
		return *rec, ErrConflict
	}
	ref := externalRef(key.TenantID, key.Provider, order.ExternalOrderID)
	if id, ok := m.byExternal[ref]; ok {
		if rec, ok := m.syncs[m.orders[id].syncKey]; ok {
			return *rec, ErrConflict
		}
	}

	now := time.Now().UTC()
	orderID := uuid.NewString()
	result.OrderID = orderID
	rec := &model.SyncRecord{Key: key, OrderID: orderID, Status: model.SyncRecordCompleted, Result: result, CreatedAt: now}
	status := order.Status
	if status == "" {
		status = model.StatusPending
	}
	m.syncs[key.String()] = rec
	m.orders[orderID] = &memOrder{
		snapshot: model.OrderSnapshot{
			OrderID: orderID, TenantID: key.TenantID, BranchID: key.BranchID, Provider: key.Provider,
			ExternalOrderID: order.ExternalOrderID, Status: status, UpdatedAt: now,
		},
		order:   order,
		syncKey: key.String(),
	}
	m.byExternal[ref] = orderID
	return *rec, nil
}

func (m *Memory) FindOrder(ctx context.Context, orderID string) (*model.OrderSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return nil, nil
	}
	snap := o.snapshot
	return &snap, nil
}

func (m *Memory) FindOrderByExternal(ctx context.Context, tenantID, provider, externalOrderID string) (*model.OrderSnapshot, error) {
	m.mu.Lock()
	id, ok := m.byExternal[externalRef(tenantID, provider, externalOrderID)]
	m.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return m.FindOrder(ctx, id)
}

func (m *Memory) UpdateOrderStatus(ctx context.Context, orderID string, status model.OrderStatus, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return ErrNotFound
	}
	o.snapshot.Status = status
	o.snapshot.UpdatedAt = at
	return nil
}

func (m *Memory) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := model.Subscription{ID: uuid.NewString(), TenantID: req.TenantID, URL: req.URL, Events: req.Events, Secret: req.Secret}
	m.subs[req.TenantID] = append(m.subs[req.TenantID], s)
	return s, nil
}

func (m *Memory) GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Subscription
	for _, s := range m.subs[tenantID] {
		if subscribesTo(s, eventType) {
			out = append(out, s)
		}
	}
	return out, nil
}

func subscribesTo(s model.Subscription, eventType string) bool {
	for _, e := range s.Events {
		if e == eventType || e == "*" {
			return true
		}
	}
	return false
}

func (m *Memory) ListSubscriptions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Subscription, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.subs[tenantID]
	start := 0
	if cursor != "" {
		for i := range list {
			if list[i].ID == cursor {
				start = i + 1
				break
			}
		}
	}
	if limit <= 0 {
		limit = 100
	}
	end := start + limit
	if end > len(list) {
		end = len(list)
	}
	items := append([]model.Subscription(nil), list[start:end]...)
	next := ""
	if end < len(list) {
		next = list[end-1].ID
	}
	return items, next, nil
}

func (m *Memory) DeleteSubscription(ctx context.Context, tenantID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	arr := m.subs[tenantID]
	out := make([]model.Subscription, 0, len(arr))
	for _, s := range arr {
		if s.ID != id {
			out = append(out, s)
		}
	}
	if len(out) == len(arr) {
		return ErrNotFound
	}
	m.subs[tenantID] = out
	return nil
}

func (m *Memory) EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	dk := tenantID + "|" + eventType + "|" + url + "|" + computeDedupKey(payload)
	if id, ok := m.dedup[dk]; ok {
		return id, nil
	}
	now := time.Now()
	id := uuid.NewString()
	m.deliveries[id] = &WebhookDelivery{
		ID: id, TenantID: tenantID, SubscriptionID: subscriptionID, EventType: eventType, URL: url, Secret: secret,
		Payload: payload, Status: DeliveryPending, NextAttemptAt: now, CreatedAt: now,
	}
	m.deliveriesByTenant[tenantID] = append(m.deliveriesByTenant[tenantID], id)
	m.dedup[dk] = id
	return id, nil
}

func (m *Memory) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	out := []WebhookDelivery{}
	for _, id := range m.iterDeliveryIDs() {
		d := m.deliveries[id]
		if (d.Status == DeliveryPending || d.Status == DeliveryRetry) && !d.NextAttemptAt.After(now) {
			out = append(out, *d)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return ErrNotFound
	}
	d.Attempts++
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	if success {
		d.Status = DeliveryDelivered
		now := time.Now()
		d.DeliveredAt = &now
		return nil
	}
	d.Status = DeliveryRetry
	d.LastError = lastError
	if nextAttemptAt != nil {
		d.NextAttemptAt = *nextAttemptAt
	} else {
		d.NextAttemptAt = time.Now().Add(time.Minute)
	}
	return nil
}

func (m *Memory) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return ErrNotFound
	}
	d.Attempts++
	d.Status = DeliveryFailed
	d.LastError = lastError
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	return nil
}

func (m *Memory) ListWebhookDeliveries(ctx context.Context, tenantID, status, cursor string, limit int) ([]WebhookDelivery, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	ids := m.deliveriesByTenant[tenantID]
	start := 0
	if cursor != "" {
		for i, id := range ids {
			if id == cursor {
				start = i + 1
				break
			}
		}
	}
	out := []WebhookDelivery{}
	next := ""
	for _, id := range ids[start:] {
		d := m.deliveries[id]
		if status != "" && d.Status != status {
			continue
		}
		if len(out) == limit {
			next = out[len(out)-1].ID
			break
		}
		out = append(out, *d)
	}
	return out, next, nil
}

// RetryWebhookDelivery makes a failed or retrying delivery due now.
func (m *Memory) RetryWebhookDelivery(ctx context.Context, tenantID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil || d.TenantID != tenantID {
		return ErrNotFound
	}
	if d.Status == DeliveryDelivered {
		return ErrConflict
	}
	d.Status = DeliveryRetry
	d.NextAttemptAt = time.Now()
	return nil
}

func (m *Memory) Ping(ctx context.Context) error { return nil }
func (m *Memory) Close() error                   { return nil }

// iterDeliveryIDs returns delivery ids oldest first.
func (m *Memory) iterDeliveryIDs() []string {
	ids := make([]string, 0, len(m.deliveries))
	for id := range m.deliveries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := m.deliveries[ids[i]], m.deliveries[ids[j]]
		if a.NextAttemptAt.Equal(b.NextAttemptAt) {
			return a.ID < b.ID
		}
		return a.NextAttemptAt.Before(b.NextAttemptAt)
	})
	return ids
}
