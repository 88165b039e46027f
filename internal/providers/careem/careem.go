// Package careem adapts Careem Food order and status webhooks. Payloads are
// snake_case and signed with a hex HMAC-SHA256 in X-Careem-Signature.
package careem

import (
	"strconv"

	"orderhub/internal/model"
	"orderhub/internal/providers/payload"
	"orderhub/internal/webhooks"
)

const ID = "careem"

var statuses = payload.StatusTable{
	"new":        model.StatusPending,
	"accepted":   model.StatusConfirmed,
	"preparing":  model.StatusPreparing,
	"ready":      model.StatusReady,
	"picked_up":  model.StatusPickedUp,
	"on_the_way": model.StatusInTransit,
	"delivered":  model.StatusDelivered,
	"cancelled":  model.StatusCancelled,
	"failed":     model.StatusFailed,
}

type Adapter struct{}

func New() *Adapter { return &Adapter{} }

func (*Adapter) ID() string { return ID }

func (*Adapter) Scheme() webhooks.Scheme {
	return webhooks.Scheme{Kind: webhooks.SchemeHMACHex, Header: "X-Careem-Signature"}
}

type address struct {
	Street    string  `json:"street"`
	Building  string  `json:"building"`
	Floor     string  `json:"floor"`
	Apartment string  `json:"apartment"`
	City      string  `json:"city"`
	Area      string  `json:"area"`
	Landmark  string  `json:"landmark"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type customer struct {
	Name    string   `json:"name"`
	Phone   string   `json:"phone"`
	Email   string   `json:"email"`
	Address *address `json:"address"`
}

type driver struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type modifier struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
}

type item struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Quantity  int        `json:"quantity"`
	UnitPrice float64    `json:"unit_price"`
	Notes     string     `json:"notes"`
	Modifiers []modifier `json:"modifiers"`
}

type delivery struct {
	Type          string  `json:"type"`
	Fee           float64 `json:"fee"`
	EstimatedTime string  `json:"estimated_delivery_time"`
	Driver        *driver `json:"driver"`
}

type order struct {
	OrderID     string   `json:"order_id"`
	BranchID    string   `json:"branch_id"`
	Status      string   `json:"status"`
	CreatedAt   string   `json:"created_at"`
	ScheduledAt string   `json:"scheduled_at"`
	Notes       string   `json:"notes"`
	Customer    customer `json:"customer"`
	Items       []item   `json:"items"`
	Delivery    delivery `json:"delivery"`
	Payment     struct {
		Method        string  `json:"method"`
		Status        string  `json:"status"`
		TransactionID string  `json:"transaction_id"`
		Amount        float64 `json:"amount"`
	} `json:"payment"`
	Totals struct {
		Subtotal    float64 `json:"subtotal"`
		DeliveryFee float64 `json:"delivery_fee"`
		Tax         float64 `json:"tax"`
		Discount    float64 `json:"discount"`
		Total       float64 `json:"total"`
	} `json:"totals"`
}

type statusUpdate struct {
	OrderID   string `json:"order_id"`
	Status    string `json:"status"`
	UpdatedAt string `json:"updated_at"`
	ETA       string `json:"eta"`
	Location  *struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"location"`
	Driver *driver `json:"driver"`
}

func (a *Adapter) ValidatePayload(raw []byte) error {
	return orderSchema.Validate("careem.validate", raw)
}

func (a *Adapter) MapOrderStatus(providerStatus string) (model.OrderStatus, error) {
	return statuses.Map("careem.mapStatus", providerStatus)
}

func (a *Adapter) decode(op string, raw []byte) (order, error) {
	var o order
	if err := payload.Decode(op, raw, &o); err != nil {
		return o, err
	}
	return o, payload.RequireString(op, "order_id", o.OrderID)
}

func (a *Adapter) ExtractOrder(raw []byte) (model.ProviderOrder, error) {
	const op = "careem.extractOrder"
	o, err := a.decode(op, raw)
	if err != nil {
		return model.ProviderOrder{}, err
	}
	out := model.ProviderOrder{
		Provider:        ID,
		ExternalOrderID: o.OrderID,
		BranchID:        o.BranchID,
		ProviderStatus:  o.Status,
		Customer:        mapCustomer(o.Customer),
		Delivery:        mapDelivery(o.Delivery, o.Customer.Address),
		Payment: model.PaymentInfo{
			Method:        payload.Payment(o.Payment.Method),
			Status:        payload.PaymentState(o.Payment.Status),
			TransactionID: o.Payment.TransactionID,
			Amount:        o.Payment.Amount,
		},
		Totals: model.OrderTotals{
			Subtotal:    o.Totals.Subtotal,
			DeliveryFee: o.Totals.DeliveryFee,
			Tax:         o.Totals.Tax,
			Discount:    o.Totals.Discount,
			Total:       o.Totals.Total,
		},
		Notes:       o.Notes,
		ScheduledAt: payload.TimePtr(o.ScheduledAt),
		ReceivedAt:  payload.Time(o.CreatedAt),
	}
	if s, err := a.MapOrderStatus(o.Status); err == nil {
		out.Status = s
	} else {
		out.Status = model.StatusPending
	}
	for i, it := range o.Items {
		if err := payload.RequireString(op, "items["+strconv.Itoa(i)+"].name", it.Name); err != nil {
			return model.ProviderOrder{}, err
		}
		mi := model.OrderItem{ExternalID: it.ID, Name: it.Name, Quantity: it.Quantity, Price: it.UnitPrice, Notes: it.Notes}
		for _, m := range it.Modifiers {
			mi.Modifiers = append(mi.Modifiers, model.ItemModifier{ExternalID: m.ID, Name: m.Name, Price: m.Price, Quantity: m.Quantity})
		}
		out.Items = append(out.Items, mi)
	}
	return out, nil
}

func (a *Adapter) ExtractCustomer(raw []byte) (model.CustomerInfo, error) {
	o, err := a.decode("careem.extractCustomer", raw)
	if err != nil {
		return model.CustomerInfo{}, err
	}
	return mapCustomer(o.Customer), nil
}

func (a *Adapter) ExtractDeliveryInfo(raw []byte) (model.DeliveryInfo, error) {
	o, err := a.decode("careem.extractDelivery", raw)
	if err != nil {
		return model.DeliveryInfo{}, err
	}
	return mapDelivery(o.Delivery, o.Customer.Address), nil
}

func (a *Adapter) ExtractStatusUpdate(raw []byte) (model.StatusUpdate, error) {
	const op = "careem.extractStatus"
	if err := statusSchema.Validate(op, raw); err != nil {
		return model.StatusUpdate{}, err
	}
	var u statusUpdate
	if err := payload.Decode(op, raw, &u); err != nil {
		return model.StatusUpdate{}, err
	}
	out := model.StatusUpdate{
		Provider:        ID,
		ExternalOrderID: u.OrderID,
		ProviderStatus:  u.Status,
		Timestamp:       payload.Time(u.UpdatedAt),
		ETA:             payload.TimePtr(u.ETA),
	}
	out.Status, _ = a.MapOrderStatus(u.Status)
	if u.Location != nil {
		out.Location = payload.Point(u.Location.Latitude, u.Location.Longitude)
	}
	if u.Driver != nil {
		out.Driver = payload.Driver(u.Driver.Name, u.Driver.Phone)
	}
	return out, nil
}

// Ack is the body Careem expects in reply to a webhook.
type Ack struct {
	Status  string `json:"status"`
	OrderID string `json:"order_id,omitempty"`
	Message string `json:"message,omitempty"`
}

func (a *Adapter) FormatResponse(success bool, orderID string, err error) any {
	if success {
		return Ack{Status: "success", OrderID: orderID}
	}
	return Ack{Status: "error", OrderID: orderID, Message: payload.Ack(err)}
}

func mapCustomer(c customer) model.CustomerInfo {
	return model.CustomerInfo{Name: c.Name, Phone: c.Phone, Email: c.Email, Address: mapAddress(c.Address)}
}

func mapAddress(a *address) *model.Address {
	if a == nil {
		return nil
	}
	return &model.Address{
		Street: a.Street, Building: a.Building, Floor: a.Floor, Apartment: a.Apartment,
		City: a.City, Area: a.Area, Landmark: a.Landmark,
		Coordinates: payload.Point(a.Latitude, a.Longitude),
	}
}

func mapDelivery(d delivery, addr *address) model.DeliveryInfo {
	out := model.DeliveryInfo{
		Type:          model.DeliveryTypeDelivery,
		Fee:           d.Fee,
		EstimatedTime: payload.TimePtr(d.EstimatedTime),
	}
	if d.Type == "pickup" {
		out.Type = model.DeliveryTypePickup
	} else {
		out.Address = mapAddress(addr)
	}
	if d.Driver != nil {
		out.Driver = payload.Driver(d.Driver.Name, d.Driver.Phone)
	}
	return out
}
