// Package talabat adapts Talabat order and status webhooks. Payloads are
// camelCase with products and price blocks; requests carry a bearer token.
package talabat

import (
	"strconv"
	"strings"

	"orderhub/internal/model"
	"orderhub/internal/providers/payload"
	"orderhub/internal/webhooks"
)

const ID = "talabat"

var statuses = payload.StatusTable{
	"order_received":   model.StatusPending,
	"order_accepted":   model.StatusConfirmed,
	"order_preparing":  model.StatusPreparing,
	"ready_for_pickup": model.StatusReady,
	"order_picked_up":  model.StatusPickedUp,
	"rider_on_the_way": model.StatusInTransit,
	"order_delivered":  model.StatusDelivered,
	"order_cancelled":  model.StatusCancelled,
	"order_rejected":   model.StatusCancelled,
	"delivery_failed":  model.StatusFailed,
}

type Adapter struct{}

func New() *Adapter { return &Adapter{} }

func (*Adapter) ID() string { return ID }

func (*Adapter) Scheme() webhooks.Scheme {
	return webhooks.Scheme{Kind: webhooks.SchemeBearer, Header: "Authorization", Prefix: "Bearer "}
}

type customer struct {
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	MobilePhone string `json:"mobilePhone"`
	Email       string `json:"email"`
}

type address struct {
	Street    string  `json:"street"`
	Building  string  `json:"building"`
	Floor     string  `json:"floor"`
	Apartment string  `json:"apartment"`
	City      string  `json:"city"`
	Area      string  `json:"area"`
	Landmark  string  `json:"landmark"`
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
}

type rider struct {
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Location *struct {
		Lat float64 `json:"lat"`
		Lng float64 `json:"lng"`
	} `json:"location"`
}

type product struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Comment  string `json:"comment"`
	Price    struct {
		UnitPrice  float64 `json:"unitPrice"`
		TotalPrice float64 `json:"totalPrice"`
	} `json:"price"`
	Toppings []struct {
		ID       string  `json:"id"`
		Name     string  `json:"name"`
		Price    float64 `json:"price"`
		Quantity int     `json:"quantity"`
	} `json:"toppings"`
}

type order struct {
	OrderID               string    `json:"orderId"`
	VendorID              string    `json:"vendorId"`
	Status                string    `json:"status"`
	CreatedAt             string    `json:"createdAt"`
	ExpeditionType        string    `json:"expeditionType"`
	EstimatedDeliveryTime string    `json:"estimatedDeliveryTime"`
	ScheduledFor          string    `json:"scheduledFor"`
	Customer              customer  `json:"customer"`
	DeliveryAddress       *address  `json:"deliveryAddress"`
	Products              []product `json:"products"`
	Rider                 *rider    `json:"rider"`
	Comments              struct {
		CustomerComment string `json:"customerComment"`
	} `json:"comments"`
	Price struct {
		SubTotal    float64 `json:"subTotal"`
		DeliveryFee float64 `json:"deliveryFee"`
		VAT         float64 `json:"vat"`
		Discount    float64 `json:"discount"`
		GrandTotal  float64 `json:"grandTotal"`
	} `json:"price"`
	Payment struct {
		Type          string  `json:"type"`
		Status        string  `json:"status"`
		TransactionID string  `json:"transactionId"`
		Amount        float64 `json:"amount"`
	} `json:"payment"`
}

type statusUpdate struct {
	OrderID               string `json:"orderId"`
	Status                string `json:"status"`
	Timestamp             string `json:"timestamp"`
	EstimatedDeliveryTime string `json:"estimatedDeliveryTime"`
	Rider                 *rider `json:"rider"`
}

func (a *Adapter) ValidatePayload(raw []byte) error {
	return orderSchema.Validate("talabat.validate", raw)
}

func (a *Adapter) MapOrderStatus(providerStatus string) (model.OrderStatus, error) {
	return statuses.Map("talabat.mapStatus", providerStatus)
}

func (a *Adapter) decode(op string, raw []byte) (order, error) {
	var o order
	if err := payload.Decode(op, raw, &o); err != nil {
		return o, err
	}
	return o, payload.RequireString(op, "orderId", o.OrderID)
}

func (a *Adapter) ExtractOrder(raw []byte) (model.ProviderOrder, error) {
	const op = "talabat.extractOrder"
	o, err := a.decode(op, raw)
	if err != nil {
		return model.ProviderOrder{}, err
	}
	out := model.ProviderOrder{
		Provider:        ID,
		ExternalOrderID: o.OrderID,
		BranchID:        o.VendorID,
		ProviderStatus:  o.Status,
		Customer:        mapCustomer(o),
		Delivery:        mapDelivery(o),
		Payment: model.PaymentInfo{
			Method:        payload.Payment(o.Payment.Type),
			Status:        payload.PaymentState(o.Payment.Status),
			TransactionID: o.Payment.TransactionID,
			Amount:        o.Payment.Amount,
		},
		Totals: model.OrderTotals{
			Subtotal:    o.Price.SubTotal,
			DeliveryFee: o.Price.DeliveryFee,
			Tax:         o.Price.VAT,
			Discount:    o.Price.Discount,
			Total:       o.Price.GrandTotal,
		},
		Notes:       o.Comments.CustomerComment,
		ScheduledAt: payload.TimePtr(o.ScheduledFor),
		ReceivedAt:  payload.Time(o.CreatedAt),
	}
	out.Status, err = a.MapOrderStatus(o.Status)
	if err != nil {
		out.Status = model.StatusPending
	}
	for i, p := range o.Products {
		if err := payload.RequireString(op, "products["+strconv.Itoa(i)+"].name", p.Name); err != nil {
			return model.ProviderOrder{}, err
		}
		unit := p.Price.UnitPrice
		if unit == 0 && p.Quantity > 0 {
			unit = model.RoundMoney(p.Price.TotalPrice / float64(p.Quantity))
		}
		it := model.OrderItem{ExternalID: p.ID, Name: p.Name, Quantity: p.Quantity, Price: unit, Notes: p.Comment}
		for _, tp := range p.Toppings {
			it.Modifiers = append(it.Modifiers, model.ItemModifier{ExternalID: tp.ID, Name: tp.Name, Price: tp.Price, Quantity: tp.Quantity})
		}
		out.Items = append(out.Items, it)
	}
	return out, nil
}

func (a *Adapter) ExtractCustomer(raw []byte) (model.CustomerInfo, error) {
	o, err := a.decode("talabat.extractCustomer", raw)
	if err != nil {
		return model.CustomerInfo{}, err
	}
	return mapCustomer(o), nil
}

func (a *Adapter) ExtractDeliveryInfo(raw []byte) (model.DeliveryInfo, error) {
	o, err := a.decode("talabat.extractDelivery", raw)
	if err != nil {
		return model.DeliveryInfo{}, err
	}
	return mapDelivery(o), nil
}

func (a *Adapter) ExtractStatusUpdate(raw []byte) (model.StatusUpdate, error) {
	const op = "talabat.extractStatus"
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
		Timestamp:       payload.Time(u.Timestamp),
		ETA:             payload.TimePtr(u.EstimatedDeliveryTime),
	}
	out.Status, _ = a.MapOrderStatus(u.Status)
	if u.Rider != nil {
		out.Driver = payload.Driver(u.Rider.Name, u.Rider.Phone)
		if u.Rider.Location != nil {
			out.Location = payload.Point(u.Rider.Location.Lat, u.Rider.Location.Lng)
		}
	}
	return out, nil
}

// Ack is the body Talabat expects in reply to a webhook.
type Ack struct {
	Success       bool   `json:"success"`
	RemoteOrderID string `json:"remoteOrderId,omitempty"`
	Error         string `json:"error,omitempty"`
}

func (a *Adapter) FormatResponse(success bool, orderID string, err error) any {
	return Ack{Success: success, RemoteOrderID: orderID, Error: payload.Ack(err)}
}

func mapCustomer(o order) model.CustomerInfo {
	c := model.CustomerInfo{
		Name:  strings.TrimSpace(o.Customer.FirstName + " " + o.Customer.LastName),
		Phone: o.Customer.MobilePhone,
		Email: o.Customer.Email,
	}
	c.Address = mapAddress(o.DeliveryAddress)
	return c
}

func mapAddress(a *address) *model.Address {
	if a == nil {
		return nil
	}
	return &model.Address{
		Street: a.Street, Building: a.Building, Floor: a.Floor, Apartment: a.Apartment,
		City: a.City, Area: a.Area, Landmark: a.Landmark,
		Coordinates: payload.Point(a.Lat, a.Lng),
	}
}

func mapDelivery(o order) model.DeliveryInfo {
	d := model.DeliveryInfo{
		Type:          model.DeliveryTypeDelivery,
		Fee:           o.Price.DeliveryFee,
		EstimatedTime: payload.TimePtr(o.EstimatedDeliveryTime),
	}
	if strings.EqualFold(o.ExpeditionType, "pickup") {
		d.Type = model.DeliveryTypePickup
	} else {
		d.Address = mapAddress(o.DeliveryAddress)
	}
	if o.Rider != nil {
		d.Driver = payload.Driver(o.Rider.Name, o.Rider.Phone)
	}
	return d
}
