package model

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// TotalsTolerance absorbs provider-side rounding in the totals equation.
const TotalsTolerance = 0.01

// Violations lists business-rule violations of a canonical order. An empty
// result means the order can be handed to persistence.
func (o ProviderOrder) Violations() []string {
	var out []string
	if strings.TrimSpace(o.ExternalOrderID) == "" {
		out = append(out, "externalOrderId is required")
	}
	if len(o.Items) == 0 {
		out = append(out, "order has no items")
	}
	for i, it := range o.Items {
		if it.Quantity <= 0 {
			out = append(out, fmt.Sprintf("items[%d].quantity must be > 0", i))
		}
		if it.Price < 0 {
			out = append(out, fmt.Sprintf("items[%d].price must be >= 0", i))
		}
	}
	t := o.Totals
	for name, v := range map[string]float64{
		"subtotal": t.Subtotal, "deliveryFee": t.DeliveryFee, "tax": t.Tax, "discount": t.Discount, "total": t.Total,
	} {
		if v < 0 {
			out = append(out, "totals."+name+" must be >= 0")
		}
	}
	if want := t.Subtotal + t.DeliveryFee + t.Tax - t.Discount; math.Abs(want-t.Total) > TotalsTolerance {
		out = append(out, fmt.Sprintf("totals.total %.2f does not match computed %.2f", t.Total, want))
	}
	if o.Delivery.Fee < 0 {
		out = append(out, "delivery.fee must be >= 0")
	}
	if o.Payment.Amount < 0 {
		out = append(out, "payment.amount must be >= 0")
	}
	if strings.TrimSpace(o.Customer.Phone) == "" && strings.TrimSpace(o.Customer.Email) == "" {
		out = append(out, "customer contact (phone or email) is required")
	}
	sort.Strings(out)
	return out
}

// RoundMoney rounds to two decimals.
func RoundMoney(v float64) float64 {
	return math.Round(v*100) / 100
}
