package talabat

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderhub/internal/apperr"
	"orderhub/internal/model"
	"orderhub/internal/webhooks"
)

const sampleOrder = `{
  "orderId": "TLB-7781",
  "vendorId": "kwt-04",
  "status": "ORDER_RECEIVED",
  "createdAt": "2024-05-01T09:00:00Z",
  "expeditionType": "delivery",
  "customer": {"firstName": "Fahad", "lastName": "Al Sabah", "mobilePhone": "+96550000000"},
  "deliveryAddress": {"street": "Gulf Rd", "city": "Kuwait City", "lat": 29.37, "lng": 47.97},
  "products": [
    {"id": "p1", "name": "Machboos", "quantity": 1, "price": {"unitPrice": 3.5, "totalPrice": 3.5},
     "toppings": [{"id": "t1", "name": "Extra rice", "price": 0.5}]},
    {"id": "p2", "name": "Laban", "quantity": 2, "price": {"totalPrice": 1.0}}
  ],
  "price": {"subTotal": 4.5, "deliveryFee": 0.5, "vat": 0, "discount": 0, "grandTotal": 5.0},
  "payment": {"type": "cash", "status": "pending", "amount": 5.0},
  "comments": {"customerComment": "ring twice"}
}`

func TestExtractOrder(t *testing.T) {
	a := New()
	raw := []byte(sampleOrder)
	require.NoError(t, a.ValidatePayload(raw))

	o, err := a.ExtractOrder(raw)
	require.NoError(t, err)
	assert.Equal(t, "TLB-7781", o.ExternalOrderID)
	assert.Equal(t, "kwt-04", o.BranchID)
	assert.Equal(t, model.StatusPending, o.Status)
	assert.Equal(t, "Fahad Al Sabah", o.Customer.Name)
	require.Len(t, o.Items, 2)
	assert.Equal(t, 0.5, o.Items[1].Price) // derived from totalPrice / quantity
	assert.Equal(t, model.PaymentCash, o.Payment.Method)
	assert.Equal(t, 5.0, o.Totals.Total)
	assert.Equal(t, "ring twice", o.Notes)
	assert.Empty(t, o.Violations())
}

func TestValidateRejectsMalformed(t *testing.T) {
	a := New()
	assert.ErrorIs(t, a.ValidatePayload([]byte(`{"orderId":"x"}`)), apperr.InvalidPayload)
	assert.ErrorIs(t, a.ValidatePayload([]byte(`{"orderId":"x","customer":{},"products":[],"price":{"subTotal":1,"grandTotal":1},"expeditionType":"drone"}`)), apperr.InvalidPayload)
}

func TestMapOrderStatus(t *testing.T) {
	a := New()
	cases := map[string]model.OrderStatus{
		"ORDER_RECEIVED": model.StatusPending, "ORDER_ACCEPTED": model.StatusConfirmed,
		"ORDER_PREPARING": model.StatusPreparing, "READY_FOR_PICKUP": model.StatusReady,
		"ORDER_PICKED_UP": model.StatusPickedUp, "RIDER_ON_THE_WAY": model.StatusInTransit,
		"ORDER_DELIVERED": model.StatusDelivered, "ORDER_CANCELLED": model.StatusCancelled,
		"ORDER_REJECTED": model.StatusCancelled, "DELIVERY_FAILED": model.StatusFailed,
	}
	for in, want := range cases {
		got, err := a.MapOrderStatus(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := a.MapOrderStatus("ORDER_LOST")
	assert.ErrorIs(t, err, apperr.UnknownStatus)
}

func TestExtractStatusUpdate(t *testing.T) {
	u, err := New().ExtractStatusUpdate([]byte(`{"orderId":"TLB-7781","status":"RIDER_ON_THE_WAY","timestamp":"2024-05-01T09:30:00Z",
		"rider":{"name":"Ali","phone":"+965","location":{"lat":29.3,"lng":47.9}}}`))
	require.NoError(t, err)
	assert.Equal(t, model.StatusInTransit, u.Status)
	assert.Equal(t, "Ali", u.Driver.Name)
	assert.Equal(t, 29.3, u.Location.Lat)
}

func TestSchemeIsBearer(t *testing.T) {
	s := New().Scheme()
	assert.Equal(t, webhooks.SchemeBearer, s.Kind)
	assert.Equal(t, "Authorization", s.Header)
	assert.Equal(t, "Bearer ", s.Prefix)
}

func TestFormatResponse(t *testing.T) {
	b, _ := json.Marshal(New().FormatResponse(false, "TLB-1", apperr.InvalidPayload))
	var ack Ack
	require.NoError(t, json.Unmarshal(b, &ack))
	assert.False(t, ack.Success)
	assert.Equal(t, "TLB-1", ack.RemoteOrderID)
	assert.NotEmpty(t, ack.Error)
}
