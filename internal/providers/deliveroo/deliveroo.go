// Package deliveroo adapts Deliveroo order events. Orders arrive in an
// {event, body:{order}} envelope with money in fractional units and a base64
// HMAC-SHA256 in X-Deliveroo-Hmac-Sha256.
package deliveroo

import (
	"strconv"
	"strings"

	"orderhub/internal/model"
	"orderhub/internal/providers/payload"
	"orderhub/internal/webhooks"
)

const ID = "deliveroo"

var statuses = payload.StatusTable{
	"placed":               model.StatusPending,
	"accepted":             model.StatusConfirmed,
	"in_kitchen":           model.StatusPreparing,
	"ready_for_collection": model.StatusReady,
	"collected":            model.StatusPickedUp,
	"en_route":             model.StatusInTransit,
	"delivered":            model.StatusDelivered,
	"canceled":             model.StatusCancelled,
	"rejected":             model.StatusCancelled,
	"failed":               model.StatusFailed,
}

type Adapter struct{}

func New() *Adapter { return &Adapter{} }

func (*Adapter) ID() string { return ID }

func (*Adapter) Scheme() webhooks.Scheme {
	return webhooks.Scheme{Kind: webhooks.SchemeHMACBase64, Header: "X-Deliveroo-Hmac-Sha256"}
}

// money is an amount in the currency's minor unit.
type money struct {
	Fractional   int64  `json:"fractional"`
	CurrencyCode string `json:"currency_code"`
}

func (m money) value() float64 { return model.RoundMoney(float64(m.Fractional) / 100) }

type rider struct {
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Location *struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
	} `json:"location"`
}

type address struct {
	Street      string    `json:"street"`
	Number      string    `json:"number"`
	Floor       string    `json:"floor"`
	Postcode    string    `json:"postcode"`
	City        string    `json:"city"`
	Area        string    `json:"area"`
	Notes       string    `json:"address_notes"`
	Coordinates []float64 `json:"coordinates"` // [lon, lat]
}

type item struct {
	PosItemID string  `json:"pos_item_id"`
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	UnitPrice money   `json:"unit_price"`
	Notes     string  `json:"notes"`
	Modifiers []struct {
		PosItemID string `json:"pos_item_id"`
		Name      string `json:"name"`
		Quantity  int    `json:"quantity"`
		UnitPrice money  `json:"unit_price"`
	} `json:"modifiers"`
}

type order struct {
	ID              string `json:"id"`
	DisplayID       string `json:"display_id"`
	LocationID      string `json:"location_id"`
	Status          string `json:"status"`
	StatusUpdatedAt string `json:"status_updated_at"`
	FulfillmentType string `json:"fulfillment_type"`
	CreatedAt       string `json:"created_at"`
	ScheduledFor    string `json:"scheduled_for"`
	Notes           string `json:"order_notes"`
	Customer        struct {
		FirstName     string `json:"first_name"`
		LastName      string `json:"last_name"`
		ContactNumber string `json:"contact_number"`
		Email         string `json:"email"`
	} `json:"customer"`
	Delivery struct {
		Address             *address `json:"address"`
		DeliveryFee         money    `json:"delivery_fee"`
		EstimatedDeliveryAt string   `json:"estimated_delivery_at"`
	} `json:"delivery"`
	Items         []item `json:"items"`
	Subtotal      money  `json:"subtotal"`
	Tax           money  `json:"tax"`
	OfferDiscount money  `json:"offer_discount"`
	TotalPrice    money  `json:"total_price"`
	Payment       struct {
		Type          string `json:"type"`
		Status        string `json:"status"`
		TransactionID string `json:"transaction_id"`
	} `json:"payment"`
	Rider *rider `json:"rider"`
}

type envelope struct {
	Event string `json:"event"`
	Body  struct {
		Order order `json:"order"`
	} `json:"body"`
}

func (a *Adapter) ValidatePayload(raw []byte) error {
	return orderSchema.Validate("deliveroo.validate", raw)
}

func (a *Adapter) MapOrderStatus(providerStatus string) (model.OrderStatus, error) {
	return statuses.Map("deliveroo.mapStatus", providerStatus)
}

func (a *Adapter) decode(op string, raw []byte) (order, error) {
	var env envelope
	if err := payload.Decode(op, raw, &env); err != nil {
		return order{}, err
	}
	return env.Body.Order, payload.RequireString(op, "body.order.id", env.Body.Order.ID)
}

func (a *Adapter) ExtractOrder(raw []byte) (model.ProviderOrder, error) {
	const op = "deliveroo.extractOrder"
	o, err := a.decode(op, raw)
	if err != nil {
		return model.ProviderOrder{}, err
	}
	out := model.ProviderOrder{
		Provider:        ID,
		ExternalOrderID: o.ID,
		BranchID:        o.LocationID,
		ProviderStatus:  o.Status,
		Customer:        mapCustomer(o),
		Delivery:        mapDelivery(o),
		Payment: model.PaymentInfo{
			Method:        payload.Payment(o.Payment.Type),
			Status:        payload.PaymentState(o.Payment.Status),
			TransactionID: o.Payment.TransactionID,
			Amount:        o.TotalPrice.value(),
		},
		Totals: model.OrderTotals{
			Subtotal:    o.Subtotal.value(),
			DeliveryFee: o.Delivery.DeliveryFee.value(),
			Tax:         o.Tax.value(),
			Discount:    o.OfferDiscount.value(),
			Total:       o.TotalPrice.value(),
		},
		Notes:       o.Notes,
		ScheduledAt: payload.TimePtr(o.ScheduledFor),
		ReceivedAt:  payload.Time(o.CreatedAt),
	}
	if o.DisplayID != "" {
		out.Metadata = map[string]string{"display_id": o.DisplayID}
	}
	if c := o.TotalPrice.CurrencyCode; c != "" {
		if out.Metadata == nil {
			out.Metadata = map[string]string{}
		}
		out.Metadata["currency"] = c
	}
	out.Status, err = a.MapOrderStatus(o.Status)
	if err != nil {
		out.Status = model.StatusPending
	}
	for i, it := range o.Items {
		if err := payload.RequireString(op, "body.order.items["+strconv.Itoa(i)+"].name", it.Name); err != nil {
			return model.ProviderOrder{}, err
		}
		mi := model.OrderItem{ExternalID: it.PosItemID, Name: it.Name, Quantity: it.Quantity, Price: it.UnitPrice.value(), Notes: it.Notes}
		for _, m := range it.Modifiers {
			mi.Modifiers = append(mi.Modifiers, model.ItemModifier{ExternalID: m.PosItemID, Name: m.Name, Price: m.UnitPrice.value(), Quantity: m.Quantity})
		}
		out.Items = append(out.Items, mi)
	}
	return out, nil
}

func (a *Adapter) ExtractCustomer(raw []byte) (model.CustomerInfo, error) {
	o, err := a.decode("deliveroo.extractCustomer", raw)
	if err != nil {
		return model.CustomerInfo{}, err
	}
	return mapCustomer(o), nil
}

func (a *Adapter) ExtractDeliveryInfo(raw []byte) (model.DeliveryInfo, error) {
	o, err := a.decode("deliveroo.extractDelivery", raw)
	if err != nil {
		return model.DeliveryInfo{}, err
	}
	return mapDelivery(o), nil
}

func (a *Adapter) ExtractStatusUpdate(raw []byte) (model.StatusUpdate, error) {
	const op = "deliveroo.extractStatus"
	if err := statusSchema.Validate(op, raw); err != nil {
		return model.StatusUpdate{}, err
	}
	o, err := a.decode(op, raw)
	if err != nil {
		return model.StatusUpdate{}, err
	}
	out := model.StatusUpdate{
		Provider:        ID,
		ExternalOrderID: o.ID,
		ProviderStatus:  o.Status,
		Timestamp:       payload.Time(o.StatusUpdatedAt),
		ETA:             payload.TimePtr(o.Delivery.EstimatedDeliveryAt),
	}
	out.Status, _ = a.MapOrderStatus(o.Status)
	if o.Rider != nil {
		out.Driver = payload.Driver(o.Rider.Name, o.Rider.Phone)
		if o.Rider.Location != nil {
			out.Location = payload.Point(o.Rider.Location.Lat, o.Rider.Location.Lon)
		}
	}
	return out, nil
}

// Ack is the body Deliveroo expects in reply to an order event.
type Ack struct {
	Result  string `json:"result"`
	OrderID string `json:"order_id,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

func (a *Adapter) FormatResponse(success bool, orderID string, err error) any {
	if success {
		return Ack{Result: "accepted", OrderID: orderID}
	}
	return Ack{Result: "rejected", OrderID: orderID, Reason: payload.Ack(err)}
}

func mapCustomer(o order) model.CustomerInfo {
	return model.CustomerInfo{
		Name:    strings.TrimSpace(o.Customer.FirstName + " " + o.Customer.LastName),
		Phone:   o.Customer.ContactNumber,
		Email:   o.Customer.Email,
		Address: mapAddress(o.Delivery.Address),
	}
}

func mapAddress(a *address) *model.Address {
	if a == nil {
		return nil
	}
	out := &model.Address{
		Street:   strings.TrimSpace(a.Number + " " + a.Street),
		Floor:    a.Floor,
		City:     a.City,
		Area:     a.Area,
		Landmark: a.Notes,
	}
	if a.Postcode != "" {
		out.Area = strings.TrimSpace(out.Area + " " + a.Postcode)
	}
	if len(a.Coordinates) == 2 {
		out.Coordinates = payload.Point(a.Coordinates[1], a.Coordinates[0])
	}
	return out
}

func mapDelivery(o order) model.DeliveryInfo {
	d := model.DeliveryInfo{
		Type:          model.DeliveryTypeDelivery,
		Fee:           o.Delivery.DeliveryFee.value(),
		EstimatedTime: payload.TimePtr(o.Delivery.EstimatedDeliveryAt),
	}
	if o.FulfillmentType == "customer_collection" {
		d.Type = model.DeliveryTypePickup
	} else {
		d.Address = mapAddress(o.Delivery.Address)
	}
	if o.Rider != nil {
		d.Driver = payload.Driver(o.Rider.Name, o.Rider.Phone)
	}
	return d
}
