package jahez

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderhub/internal/apperr"
	"orderhub/internal/config"
	"orderhub/internal/model"
	"orderhub/internal/webhooks"
)

const sampleOrder = `{
  "jahez_id": 5512034,
  "branch_id": "ruh-olaya",
  "status": "new",
  "created_at": "2024-05-01 20:15:00",
  "customer_name": "Noura",
  "customer_phone": "+966500000000",
  "delivery_type": "delivery",
  "address": {"street": "Olaya St", "district": "Al Olaya", "city": "Riyadh", "lat": 24.69, "lng": 46.68},
  "items": [
    {"product_id": 301, "name": "Kabsa", "quantity": 1, "price": 45, "addons": [{"id": "a1", "name": "Salad", "price": 5}]},
    {"product_id": "302", "name": "Water", "quantity": 2, "price": 2.5}
  ],
  "sub_total": 50,
  "delivery_fee": 9,
  "vat": 8.85,
  "discount": 0,
  "final_price": 67.85,
  "payment_method": "online",
  "payment_status": "paid"
}`

func TestExtractOrder(t *testing.T) {
	a := New()
	raw := []byte(sampleOrder)
	require.NoError(t, a.ValidatePayload(raw))

	o, err := a.ExtractOrder(raw)
	require.NoError(t, err)
	assert.Equal(t, "5512034", o.ExternalOrderID)
	assert.Equal(t, "ruh-olaya", o.BranchID)
	require.Len(t, o.Items, 2)
	assert.Equal(t, "301", o.Items[0].ExternalID)
	assert.Equal(t, "302", o.Items[1].ExternalID)
	assert.Equal(t, "Al Olaya", o.Delivery.Address.Area)
	assert.Equal(t, 67.85, o.Totals.Total)
	assert.Equal(t, model.PaymentPaid, o.Payment.Status)
	assert.Equal(t, time.Date(2024, 5, 1, 20, 15, 0, 0, time.UTC), o.ReceivedAt)
	assert.Empty(t, o.Violations())
}

func TestValidateRequiresNumericID(t *testing.T) {
	err := New().ValidatePayload([]byte(`{"jahez_id":"abc","items":[],"sub_total":0,"final_price":0}`))
	assert.ErrorIs(t, err, apperr.InvalidPayload)
}

func TestMapOrderStatus(t *testing.T) {
	a := New()
	cases := map[string]model.OrderStatus{
		"new": model.StatusPending, "accepted": model.StatusConfirmed, "in_preparation": model.StatusPreparing,
		"ready": model.StatusReady, "picked": model.StatusPickedUp, "on_the_way": model.StatusInTransit,
		"delivered": model.StatusDelivered, "cancelled": model.StatusCancelled, "rejected": model.StatusCancelled,
		"failed": model.StatusFailed,
	}
	for in, want := range cases {
		got, err := a.MapOrderStatus(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestSchemeUsesPrefixedHex(t *testing.T) {
	body := []byte(sampleOrder)
	v := webhooks.NewVerifier(schemeSource{New()}, webhooks.ConfigSecrets{ID: {Enabled: true, Secret: "s3cret"}})
	h := http.Header{}
	h.Set("X-Jahez-Signature", "sha256="+webhooks.SignHMAC("s3cret", body))
	require.NoError(t, v.Verify(context.Background(), ID, "t1", h, body))

	h.Set("X-Jahez-Signature", "sha256="+webhooks.SignHMAC("other", body))
	assert.ErrorIs(t, v.Verify(context.Background(), ID, "t1", h, body), apperr.AuthenticationFailed)
}

type schemeSource struct{ a *Adapter }

func (s schemeSource) SchemeFor(string) (webhooks.Scheme, error) { return s.a.Scheme(), nil }

func TestFormatResponse(t *testing.T) {
	b, _ := json.Marshal(New().FormatResponse(true, "5512034", nil))
	assert.JSONEq(t, `{"success":1,"jahez_id":5512034}`, string(b))
	b, _ = json.Marshal(New().FormatResponse(false, "", apperr.InvalidPayload))
	assert.Contains(t, string(b), `"success":0`)
}

func TestFetchOrdersAndPollStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("Authorization") != "Bearer key-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/orders":
			assert.Equal(t, "ruh-olaya", r.URL.Query().Get("branch_id"))
			assert.Equal(t, "2024-05-01T00:00:00Z", r.URL.Query().Get("since"))
			_, _ = w.Write([]byte(`{"orders":[` + sampleOrder + `]}`))
		case "/orders/5512034/status":
			_, _ = w.Write([]byte(`{"jahez_id":5512034,"status":"on_the_way","driver_name":"Saad","driver_lat":24.7,"driver_lng":46.7}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	a := NewWithAPI(config.ProviderConfig{BaseURL: srv.URL + "/", APIKey: "key-1", RateRPS: 100, RateBurst: 10})
	orders, err := a.FetchOrders(context.Background(), "ruh-olaya", time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, orders, 1)
	o, err := a.ExtractOrder(orders[0])
	require.NoError(t, err)
	assert.Equal(t, "5512034", o.ExternalOrderID)

	u, err := a.PollStatus(context.Background(), "5512034")
	require.NoError(t, err)
	assert.Equal(t, model.StatusInTransit, u.Status)
	assert.Equal(t, "Saad", u.Driver.Name)
	assert.Equal(t, 24.7, u.Location.Lat)

	_, err = a.PollStatus(context.Background(), "missing")
	assert.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestAPIRespectsContext(t *testing.T) {
	a := NewWithAPI(config.ProviderConfig{BaseURL: "http://127.0.0.1:1", RateRPS: 0.001, RateBurst: 1})
	a.Limiter.Allow() // drain the only token
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := a.FetchOrders(ctx, "b", time.Time{})
	assert.Error(t, err)
}
