// Package jahez adapts Jahez webhooks and, when an API endpoint is
// configured, its REST API for order pulls and status polling. Webhooks are
// flat snake_case documents keyed by a numeric jahez_id and signed with
// "sha256=<hex>" in X-Jahez-Signature.
package jahez

import (
	"encoding/json"
	"strconv"
	"strings"

	"orderhub/internal/model"
	"orderhub/internal/providers/payload"
	"orderhub/internal/webhooks"
)

const ID = "jahez"

var statuses = payload.StatusTable{
	"new":            model.StatusPending,
	"accepted":       model.StatusConfirmed,
	"in_preparation": model.StatusPreparing,
	"ready":          model.StatusReady,
	"picked":         model.StatusPickedUp,
	"on_the_way":     model.StatusInTransit,
	"delivered":      model.StatusDelivered,
	"cancelled":      model.StatusCancelled,
	"rejected":       model.StatusCancelled,
	"failed":         model.StatusFailed,
}

type Adapter struct{}

func New() *Adapter { return &Adapter{} }

func (*Adapter) ID() string { return ID }

func (*Adapter) Scheme() webhooks.Scheme {
	return webhooks.Scheme{Kind: webhooks.SchemeHMACHex, Header: "X-Jahez-Signature", Prefix: "sha256="}
}

type order struct {
	JahezID       json.Number `json:"jahez_id"`
	BranchID      string      `json:"branch_id"`
	Status        string      `json:"status"`
	CreatedAt     string      `json:"created_at"`
	ScheduledAt   string      `json:"scheduled_at"`
	CustomerName  string      `json:"customer_name"`
	CustomerPhone string      `json:"customer_phone"`
	CustomerEmail string      `json:"customer_email"`
	DeliveryType  string      `json:"delivery_type"`
	ExpectedAt    string      `json:"expected_delivery_at"`
	Notes         string      `json:"notes"`
	Address       *struct {
		Street      string  `json:"street"`
		Building    string  `json:"building"`
		District    string  `json:"district"`
		City        string  `json:"city"`
		Description string  `json:"description"`
		Lat         float64 `json:"lat"`
		Lng         float64 `json:"lng"`
	} `json:"address"`
	Items []struct {
		ProductID payload.ID `json:"product_id"`
		Name      string     `json:"name"`
		Quantity  int        `json:"quantity"`
		Price     float64    `json:"price"`
		Notes     string     `json:"notes"`
		Addons    []struct {
			ID    payload.ID `json:"id"`
			Name  string     `json:"name"`
			Price float64    `json:"price"`
		} `json:"addons"`
	} `json:"items"`
	SubTotal      float64 `json:"sub_total"`
	DeliveryFee   float64 `json:"delivery_fee"`
	VAT           float64 `json:"vat"`
	Discount      float64 `json:"discount"`
	FinalPrice    float64 `json:"final_price"`
	PaymentMethod string  `json:"payment_method"`
	PaymentStatus string  `json:"payment_status"`
	DriverName    string  `json:"driver_name"`
	DriverPhone   string  `json:"driver_phone"`
}

type statusUpdate struct {
	JahezID     json.Number `json:"jahez_id"`
	Status      string      `json:"status"`
	UpdatedAt   string      `json:"updated_at"`
	ETA         string      `json:"eta"`
	DriverName  string      `json:"driver_name"`
	DriverPhone string      `json:"driver_phone"`
	DriverLat   float64     `json:"driver_lat"`
	DriverLng   float64     `json:"driver_lng"`
}

func (a *Adapter) ValidatePayload(raw []byte) error {
	return orderSchema.Validate("jahez.validate", raw)
}

func (a *Adapter) MapOrderStatus(providerStatus string) (model.OrderStatus, error) {
	return statuses.Map("jahez.mapStatus", providerStatus)
}

func (a *Adapter) decode(op string, raw []byte) (order, error) {
	var o order
	if err := payload.Decode(op, raw, &o); err != nil {
		return o, err
	}
	return o, payload.RequireString(op, "jahez_id", o.JahezID.String())
}

func (a *Adapter) ExtractOrder(raw []byte) (model.ProviderOrder, error) {
	const op = "jahez.extractOrder"
	o, err := a.decode(op, raw)
	if err != nil {
		return model.ProviderOrder{}, err
	}
	out := model.ProviderOrder{
		Provider:        ID,
		ExternalOrderID: o.JahezID.String(),
		BranchID:        o.BranchID,
		ProviderStatus:  o.Status,
		Customer:        mapCustomer(o),
		Delivery:        mapDelivery(o),
		Payment: model.PaymentInfo{
			Method: payload.Payment(o.PaymentMethod),
			Status: payload.PaymentState(o.PaymentStatus),
			Amount: o.FinalPrice,
		},
		Totals: model.OrderTotals{
			Subtotal:    o.SubTotal,
			DeliveryFee: o.DeliveryFee,
			Tax:         o.VAT,
			Discount:    o.Discount,
			Total:       o.FinalPrice,
		},
		Notes:       o.Notes,
		ScheduledAt: payload.TimePtr(o.ScheduledAt),
		ReceivedAt:  payload.Time(o.CreatedAt),
	}
	out.Status, err = a.MapOrderStatus(o.Status)
	if err != nil {
		out.Status = model.StatusPending
	}
	for i, it := range o.Items {
		if err := payload.RequireString(op, "items["+strconv.Itoa(i)+"].name", it.Name); err != nil {
			return model.ProviderOrder{}, err
		}
		mi := model.OrderItem{ExternalID: it.ProductID.String(), Name: it.Name, Quantity: it.Quantity, Price: it.Price, Notes: it.Notes}
		for _, ad := range it.Addons {
			mi.Modifiers = append(mi.Modifiers, model.ItemModifier{ExternalID: ad.ID.String(), Name: ad.Name, Price: ad.Price, Quantity: 1})
		}
		out.Items = append(out.Items, mi)
	}
	return out, nil
}

func (a *Adapter) ExtractCustomer(raw []byte) (model.CustomerInfo, error) {
	o, err := a.decode("jahez.extractCustomer", raw)
	if err != nil {
		return model.CustomerInfo{}, err
	}
	return mapCustomer(o), nil
}

func (a *Adapter) ExtractDeliveryInfo(raw []byte) (model.DeliveryInfo, error) {
	o, err := a.decode("jahez.extractDelivery", raw)
	if err != nil {
		return model.DeliveryInfo{}, err
	}
	return mapDelivery(o), nil
}

func (a *Adapter) ExtractStatusUpdate(raw []byte) (model.StatusUpdate, error) {
	const op = "jahez.extractStatus"
	if err := statusSchema.Validate(op, raw); err != nil {
		return model.StatusUpdate{}, err
	}
	var u statusUpdate
	if err := payload.Decode(op, raw, &u); err != nil {
		return model.StatusUpdate{}, err
	}
	out := model.StatusUpdate{
		Provider:        ID,
		ExternalOrderID: u.JahezID.String(),
		ProviderStatus:  u.Status,
		Timestamp:       payload.Time(u.UpdatedAt),
		ETA:             payload.TimePtr(u.ETA),
		Location:        payload.Point(u.DriverLat, u.DriverLng),
		Driver:          payload.Driver(u.DriverName, u.DriverPhone),
	}
	out.Status, _ = a.MapOrderStatus(u.Status)
	return out, nil
}

// Ack is the body Jahez expects in reply to a webhook. JahezID echoes the
// numeric id when the order id parses as one.
type Ack struct {
	Success int    `json:"success"`
	JahezID any    `json:"jahez_id,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

func (a *Adapter) FormatResponse(success bool, orderID string, err error) any {
	ack := Ack{Reason: payload.Ack(err)}
	if success {
		ack.Success = 1
	}
	if n, perr := strconv.ParseInt(orderID, 10, 64); perr == nil {
		ack.JahezID = n
	} else if orderID != "" {
		ack.JahezID = orderID
	}
	return ack
}

func mapCustomer(o order) model.CustomerInfo {
	c := model.CustomerInfo{Name: o.CustomerName, Phone: o.CustomerPhone, Email: o.CustomerEmail}
	c.Address = mapAddress(o)
	return c
}

func mapAddress(o order) *model.Address {
	if o.Address == nil {
		return nil
	}
	a := o.Address
	return &model.Address{
		Street: a.Street, Building: a.Building, City: a.City, Area: a.District, Landmark: a.Description,
		Coordinates: payload.Point(a.Lat, a.Lng),
	}
}

func mapDelivery(o order) model.DeliveryInfo {
	d := model.DeliveryInfo{
		Type:          model.DeliveryTypeDelivery,
		Fee:           o.DeliveryFee,
		EstimatedTime: payload.TimePtr(o.ExpectedAt),
		Driver:        payload.Driver(o.DriverName, o.DriverPhone),
	}
	if strings.EqualFold(o.DeliveryType, "pickup") {
		d.Type = model.DeliveryTypePickup
	} else {
		d.Address = mapAddress(o)
	}
	return d
}
