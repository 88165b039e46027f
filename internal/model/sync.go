package model

import (
	"strings"
	"time"
)

type SyncScope string

const (
	ScopeFull        SyncScope = "full"
	ScopeIncremental SyncScope = "incremental"
)

// SyncRequest asks for one order (Payload set) or a provider pull for Scope.
type SyncRequest struct {
	TenantID string    `json:"tenantId"`
	BranchID string    `json:"branchId"`
	Provider string    `json:"provider"`
	Scope    SyncScope `json:"scope,omitempty"`
	Payload  []byte    `json:"payload,omitempty"`
}

type SyncResult struct {
	Success         bool      `json:"success"`
	SyncedCount     int       `json:"syncedCount"`
	FailedCount     int       `json:"failedCount"`
	Errors          []string  `json:"errors,omitempty"`
	ProviderOrderID string    `json:"providerOrderId,omitempty"`
	OrderID         string    `json:"orderId,omitempty"`
	CorrelationID   string    `json:"correlationId"`
	Retryable       bool      `json:"retryable"`
	Duplicate       bool      `json:"duplicate,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// IdempotencyKey identifies one logical sync regardless of delivery retries.
// Subject is the external order id, or "scope:<scope>" for provider pulls.
type IdempotencyKey struct {
	TenantID string `json:"tenantId"`
	BranchID string `json:"branchId"`
	Provider string `json:"provider"`
	Subject  string `json:"subject"`
}

func NewOrderKey(tenantID, branchID, provider, externalOrderID string) IdempotencyKey {
	return IdempotencyKey{TenantID: tenantID, BranchID: branchID, Provider: strings.ToLower(provider), Subject: externalOrderID}
}

func NewScopeKey(tenantID, branchID, provider string, scope SyncScope) IdempotencyKey {
	return IdempotencyKey{TenantID: tenantID, BranchID: branchID, Provider: strings.ToLower(provider), Subject: "scope:" + string(scope)}
}

func (k IdempotencyKey) String() string {
	return k.TenantID + "|" + k.BranchID + "|" + k.Provider + "|" + k.Subject
}

const (
	SyncRecordCompleted = "completed"
	SyncRecordFailed    = "failed"
)

type SyncRecord struct {
	Key       IdempotencyKey `json:"key"`
	OrderID   string         `json:"orderId"`
	Status    string         `json:"status"`
	Result    SyncResult     `json:"result"`
	CreatedAt time.Time      `json:"createdAt"`
}

// OrderSnapshot is the persisted view of an order used by tracking.
type OrderSnapshot struct {
	OrderID         string      `json:"orderId"`
	TenantID        string      `json:"tenantId"`
	BranchID        string      `json:"branchId"`
	Provider        string      `json:"provider"`
	ExternalOrderID string      `json:"externalOrderId"`
	Status          OrderStatus `json:"status"`
	UpdatedAt       time.Time   `json:"updatedAt"`
}
