package model

import "strings"

// OrderStatus is the canonical order lifecycle state.
type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusConfirmed OrderStatus = "confirmed"
	StatusPreparing OrderStatus = "preparing"
	StatusReady     OrderStatus = "ready"
	StatusPickedUp  OrderStatus = "picked_up"
	StatusInTransit OrderStatus = "in_transit"
	StatusDelivered OrderStatus = "delivered"
	StatusCancelled OrderStatus = "cancelled"
	StatusFailed    OrderStatus = "failed"
)

// ForwardChain lists the non-exceptional lifecycle in order.
var ForwardChain = []OrderStatus{
	StatusPending,
	StatusConfirmed,
	StatusPreparing,
	StatusReady,
	StatusPickedUp,
	StatusInTransit,
	StatusDelivered,
}

// AllStatuses is every canonical status.
var AllStatuses = append(append([]OrderStatus(nil), ForwardChain...), StatusCancelled, StatusFailed)

func (s OrderStatus) Valid() bool {
	for _, v := range AllStatuses {
		if s == v {
			return true
		}
	}
	return false
}

func (s OrderStatus) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled || s == StatusFailed
}

// Rank is the position in ForwardChain, or -1 for cancelled, failed and unknown values.
func (s OrderStatus) Rank() int {
	for i, v := range ForwardChain {
		if s == v {
			return i
		}
	}
	return -1
}

// ParseStatus accepts a canonical status name in any case.
func ParseStatus(v string) (OrderStatus, bool) {
	s := OrderStatus(strings.ToLower(strings.TrimSpace(v)))
	return s, s.Valid()
}
