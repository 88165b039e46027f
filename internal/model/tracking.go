package model

import "time"

// StatusUpdate is a provider status change already parsed by an adapter.
// Status is empty when the provider value has no canonical mapping.
type StatusUpdate struct {
	Provider        string         `json:"provider"`
	ExternalOrderID string         `json:"externalOrderId"`
	ProviderStatus  string         `json:"providerStatus"`
	Status          OrderStatus    `json:"status,omitempty"`
	Timestamp       time.Time      `json:"timestamp"`
	Location        *GeoPoint      `json:"location,omitempty"`
	ETA             *time.Time     `json:"eta,omitempty"`
	Driver          *DriverContact `json:"driver,omitempty"`
}

// TrackingSession is the server-side record of an order's status and its live subscribers.
type TrackingSession struct {
	OrderID         string              `json:"orderId"`
	TenantID        string              `json:"tenantId"`
	BranchID        string              `json:"branchId"`
	Provider        string              `json:"provider"`
	ProviderOrderID string              `json:"providerOrderId"`
	Status          OrderStatus         `json:"status"`
	CreatedAt       time.Time           `json:"createdAt"`
	LastUpdate      time.Time           `json:"lastUpdate"`
	Active          bool                `json:"isActive"`
	Subscribers     map[string]struct{} `json:"-"`
	Location        *GeoPoint           `json:"location,omitempty"`
	ETA             *time.Time          `json:"eta,omitempty"`
	Driver          *DriverContact      `json:"driver,omitempty"`
}

// SubscriberIDs returns the subscriber set as a slice.
func (s TrackingSession) SubscriberIDs() []string {
	out := make([]string, 0, len(s.Subscribers))
	for id := range s.Subscribers {
		out = append(out, id)
	}
	return out
}
