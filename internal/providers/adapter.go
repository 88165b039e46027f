// Package providers defines the delivery-platform adapter contract and the
// registry that resolves an adapter from a provider id.
package providers

import (
	"context"
	"encoding/json"
	"time"

	"orderhub/internal/model"
	"orderhub/internal/webhooks"
)

// Adapter converts one provider's webhook payloads into canonical types.
// Implementations are stateless and safe for concurrent use; extraction is a
// pure function of the raw bytes.
type Adapter interface {
	ID() string
	// Scheme describes how the provider authenticates its webhooks.
	Scheme() webhooks.Scheme
	// ValidatePayload is a structural check run before any extraction.
	ValidatePayload(raw []byte) error
	ExtractOrder(raw []byte) (model.ProviderOrder, error)
	MapOrderStatus(providerStatus string) (model.OrderStatus, error)
	ExtractCustomer(raw []byte) (model.CustomerInfo, error)
	ExtractDeliveryInfo(raw []byte) (model.DeliveryInfo, error)
	// ExtractStatusUpdate parses a status webhook. Unmapped provider statuses
	// leave Status empty instead of failing.
	ExtractStatusUpdate(raw []byte) (model.StatusUpdate, error)
	// FormatResponse builds the provider-shaped acknowledgement body.
	FormatResponse(success bool, orderID string, err error) any
}

// OrderFetcher is implemented by adapters that can pull orders from the
// provider's API for scope syncs.
type OrderFetcher interface {
	FetchOrders(ctx context.Context, branchID string, since time.Time) ([]json.RawMessage, error)
}

// StatusPoller is implemented by adapters whose API reports an order's
// current status; the tracking hub polls these while an order is live.
type StatusPoller interface {
	PollStatus(ctx context.Context, providerOrderID string) (model.StatusUpdate, error)
}
