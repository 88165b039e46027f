// Package events carries the canonical events other collaborators consume:
// sync.completed, sync.failed and order.status.updated.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"orderhub/internal/model"
)

const (
	TypeSyncCompleted      = "sync.completed"
	TypeSyncFailed         = "sync.failed"
	TypeOrderStatusUpdated = "order.status.updated"
)

// Types lists every event type the service emits.
var Types = []string{TypeSyncCompleted, TypeSyncFailed, TypeOrderStatusUpdated}

type Event struct {
	ID              string               `json:"id"`
	Type            string               `json:"type"`
	TenantID        string               `json:"tenantId"`
	BranchID        string               `json:"branchId,omitempty"`
	Provider        string               `json:"provider,omitempty"`
	OrderID         string               `json:"orderId,omitempty"`
	ExternalOrderID string               `json:"externalOrderId,omitempty"`
	CorrelationID   string               `json:"correlationId,omitempty"`
	Timestamp       time.Time            `json:"ts"`
	Order           *model.ProviderOrder `json:"order,omitempty"`
	Result          *model.SyncResult    `json:"result,omitempty"`
	Status          *StatusChange        `json:"status,omitempty"`
	Error           string               `json:"error,omitempty"`
	Retryable       bool                 `json:"retryable,omitempty"`
}

type StatusChange struct {
	From           model.OrderStatus    `json:"from"`
	To             model.OrderStatus    `json:"to"`
	ProviderStatus string               `json:"providerStatus,omitempty"`
	Source         string               `json:"source,omitempty"`
	Location       *model.GeoPoint      `json:"location,omitempty"`
	ETA            *time.Time           `json:"eta,omitempty"`
	Driver         *model.DriverContact `json:"driver,omitempty"`
}

// New stamps an id and timestamp onto an event of the given type.
func New(typ, tenantID string) Event {
	return Event{ID: "evt_" + uuid.NewString(), Type: typ, TenantID: tenantID, Timestamp: time.Now().UTC()}
}

// Emitter is what producers depend on.
type Emitter interface {
	Publish(ctx context.Context, evt Event)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, Event) {}
