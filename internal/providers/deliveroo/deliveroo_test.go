package deliveroo

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderhub/internal/apperr"
	"orderhub/internal/model"
)

const sampleOrder = `{
  "event": "order.new",
  "body": {
    "order": {
      "id": "gb:7c1b1d3e",
      "display_id": "0421",
      "location_id": "ldn-soho",
      "status": "placed",
      "fulfillment_type": "deliveroo",
      "created_at": "2024-05-01T18:00:00Z",
      "customer": {"first_name": "Sam", "contact_number": "+447700900000"},
      "delivery": {
        "address": {"street": "Dean St", "number": "22", "postcode": "W1D", "city": "London", "coordinates": [-0.1337, 51.5136]},
        "delivery_fee": {"fractional": 299, "currency_code": "GBP"},
        "estimated_delivery_at": "2024-05-01T18:35:00Z"
      },
      "items": [
        {"pos_item_id": "burger", "name": "Burger", "quantity": 2, "unit_price": {"fractional": 1050},
         "modifiers": [{"pos_item_id": "cheese", "name": "Cheese", "quantity": 1, "unit_price": {"fractional": 0}}]}
      ],
      "subtotal": {"fractional": 2100, "currency_code": "GBP"},
      "tax": {"fractional": 0},
      "offer_discount": {"fractional": 100},
      "total_price": {"fractional": 2299, "currency_code": "GBP"},
      "payment": {"type": "online", "status": "paid"}
    }
  }
}`

func TestExtractOrderConvertsFractionalMoney(t *testing.T) {
	a := New()
	raw := []byte(sampleOrder)
	require.NoError(t, a.ValidatePayload(raw))

	o, err := a.ExtractOrder(raw)
	require.NoError(t, err)
	assert.Equal(t, "gb:7c1b1d3e", o.ExternalOrderID)
	assert.Equal(t, "ldn-soho", o.BranchID)
	assert.Equal(t, 10.5, o.Items[0].Price)
	assert.Equal(t, 21.0, o.Totals.Subtotal)
	assert.Equal(t, 2.99, o.Totals.DeliveryFee)
	assert.Equal(t, 1.0, o.Totals.Discount)
	assert.Equal(t, 22.99, o.Totals.Total)
	assert.Equal(t, "GBP", o.Metadata["currency"])
	assert.Equal(t, "0421", o.Metadata["display_id"])
	require.NotNil(t, o.Delivery.Address.Coordinates)
	assert.Equal(t, 51.5136, o.Delivery.Address.Coordinates.Lat)
	assert.Equal(t, "22 Dean St", o.Delivery.Address.Street)
	assert.Empty(t, o.Violations())
}

func TestValidateRequiresEnvelope(t *testing.T) {
	a := New()
	assert.ErrorIs(t, a.ValidatePayload([]byte(`{"id":"flat"}`)), apperr.InvalidPayload)
	assert.ErrorIs(t, a.ValidatePayload([]byte(`{"event":"order.new","body":{"order":{"id":"x","items":[],"subtotal":{"fractional":"1"},"total_price":{"fractional":1}}}}`)), apperr.InvalidPayload)
}

func TestMapOrderStatus(t *testing.T) {
	a := New()
	cases := map[string]model.OrderStatus{
		"placed": model.StatusPending, "accepted": model.StatusConfirmed, "in_kitchen": model.StatusPreparing,
		"ready_for_collection": model.StatusReady, "collected": model.StatusPickedUp, "en_route": model.StatusInTransit,
		"delivered": model.StatusDelivered, "canceled": model.StatusCancelled, "rejected": model.StatusCancelled,
		"failed": model.StatusFailed,
	}
	for in, want := range cases {
		got, err := a.MapOrderStatus(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := a.MapOrderStatus("cancelled")
	assert.ErrorIs(t, err, apperr.UnknownStatus)
}

func TestExtractStatusUpdate(t *testing.T) {
	u, err := New().ExtractStatusUpdate([]byte(`{"event":"order.status_update","body":{"order":{"id":"gb:7c1b1d3e","status":"en_route",
		"status_updated_at":"2024-05-01T18:20:00Z","rider":{"name":"Jo","location":{"lat":51.51,"lon":-0.13}}}}}`))
	require.NoError(t, err)
	assert.Equal(t, model.StatusInTransit, u.Status)
	assert.Equal(t, -0.13, u.Location.Lng)
	assert.Equal(t, "Jo", u.Driver.Name)
}

func TestFormatResponse(t *testing.T) {
	b, _ := json.Marshal(New().FormatResponse(true, "gb:1", nil))
	assert.JSONEq(t, `{"result":"accepted","order_id":"gb:1"}`, string(b))
}
