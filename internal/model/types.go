package model

import "time"

// Canonical order types. Every provider adapter converges to these.

type ProviderOrder struct {
	Provider        string            `json:"provider"`
	ExternalOrderID string            `json:"externalOrderId"`
	BranchID        string            `json:"branchId,omitempty"`
	ProviderStatus  string            `json:"providerStatus,omitempty"`
	Status          OrderStatus       `json:"status"`
	Customer        CustomerInfo      `json:"customer"`
	Items           []OrderItem       `json:"items"`
	Delivery        DeliveryInfo      `json:"delivery"`
	Payment         PaymentInfo       `json:"payment"`
	Totals          OrderTotals       `json:"totals"`
	Notes           string            `json:"notes,omitempty"`
	ScheduledAt     *time.Time        `json:"scheduledAt,omitempty"`
	ReceivedAt      time.Time         `json:"receivedAt"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

type CustomerInfo struct {
	Name    string   `json:"name"`
	Phone   string   `json:"phone,omitempty"`
	Email   string   `json:"email,omitempty"`
	Address *Address `json:"address,omitempty"`
}

type Address struct {
	Street      string    `json:"street"`
	Building    string    `json:"building,omitempty"`
	Floor       string    `json:"floor,omitempty"`
	Apartment   string    `json:"apartment,omitempty"`
	City        string    `json:"city"`
	Area        string    `json:"area,omitempty"`
	Landmark    string    `json:"landmark,omitempty"`
	Coordinates *GeoPoint `json:"coordinates,omitempty"`
}

type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type OrderItem struct {
	ExternalID string         `json:"externalId"`
	Name       string         `json:"name"`
	Quantity   int            `json:"quantity"`
	Price      float64        `json:"price"`
	Modifiers  []ItemModifier `json:"modifiers,omitempty"`
	Notes      string         `json:"notes,omitempty"`
}

type ItemModifier struct {
	ExternalID string  `json:"externalId"`
	Name       string  `json:"name"`
	Price      float64 `json:"price"`
	Quantity   int     `json:"quantity,omitempty"`
}

type DeliveryType string

const (
	DeliveryTypeDelivery DeliveryType = "delivery"
	DeliveryTypePickup   DeliveryType = "pickup"
)

type DeliveryInfo struct {
	Type          DeliveryType   `json:"type"`
	Address       *Address       `json:"address,omitempty"`
	Fee           float64        `json:"fee"`
	EstimatedTime *time.Time     `json:"estimatedTime,omitempty"`
	Driver        *DriverContact `json:"driver,omitempty"`
}

type DriverContact struct {
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type PaymentMethod string

const (
	PaymentCash   PaymentMethod = "cash"
	PaymentCard   PaymentMethod = "card"
	PaymentOnline PaymentMethod = "online"
)

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

type PaymentInfo struct {
	Method        PaymentMethod `json:"method"`
	Status        PaymentStatus `json:"status"`
	TransactionID string        `json:"transactionId,omitempty"`
	Amount        float64       `json:"amount"`
}

type OrderTotals struct {
	Subtotal    float64 `json:"subtotal"`
	DeliveryFee float64 `json:"deliveryFee"`
	Tax         float64 `json:"tax"`
	Discount    float64 `json:"discount"`
	Total       float64 `json:"total"`
}

// Outbound webhook subscriptions

type SubscriptionRequest struct {
	TenantID string   `json:"tenantId"`
	URL      string   `json:"url"`
	Events   []string `json:"events"`
	Secret   string   `json:"secret"`
}

type Subscription struct {
	ID       string   `json:"id"`
	TenantID string   `json:"tenantId"`
	URL      string   `json:"url"`
	Events   []string `json:"events"`
	Secret   string   `json:"secret,omitempty"`
}
