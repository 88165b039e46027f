package store

import (
	"context"
	"errors"
	"time"

	"orderhub/internal/model"
)

// Store is the persistence collaborator: sync records and orders for the
// coordinator and tracking hub, plus the outbound webhook queue.
type Store interface {
	// Sync records and orders. Absent rows are (nil, nil).
	FindExistingSync(ctx context.Context, key model.IdempotencyKey) (*model.SyncRecord, error)
	// CreateSyncRecord persists the canonical order and its completed sync
	// record, assigning the canonical order id. When a non-failed record for the
	// key (or the same external order) already exists it returns that record
	// together with ErrConflict.
	CreateSyncRecord(ctx context.Context, key model.IdempotencyKey, order model.ProviderOrder, result model.SyncResult) (model.SyncRecord, error)
	FindOrder(ctx context.Context, orderID string) (*model.OrderSnapshot, error)
	FindOrderByExternal(ctx context.Context, tenantID, provider, externalOrderID string) (*model.OrderSnapshot, error)
	UpdateOrderStatus(ctx context.Context, orderID string, status model.OrderStatus, at time.Time) error

	// Subscriptions
	CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error)
	GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error)
	ListSubscriptions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Subscription, string, error)
	DeleteSubscription(ctx context.Context, tenantID, id string) error

	// Webhook deliveries
	EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error)
	FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
	MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error
	FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error
	ListWebhookDeliveries(ctx context.Context, tenantID, status, cursor string, limit int) ([]WebhookDelivery, string, error)
	RetryWebhookDelivery(ctx context.Context, tenantID, id string) error

	Ping(ctx context.Context) error
	Close() error
}

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

const (
	DeliveryPending   = "pending"
	DeliveryRetry     = "retry"
	DeliveryDelivered = "delivered"
	DeliveryFailed    = "failed"
)
