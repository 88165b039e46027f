package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderhub/internal/config"
	"orderhub/internal/events"
	"orderhub/internal/logging"
	"orderhub/internal/metrics"
	"orderhub/internal/model"
	"orderhub/internal/ordersync"
	"orderhub/internal/providers"
	"orderhub/internal/providers/careem"
	"orderhub/internal/store"
	"orderhub/internal/tracking"
	"orderhub/internal/webhooks"
)

const careemSecret = "shh"

type fixture struct {
	srv   *Server
	ts    *httptest.Server
	store *store.Memory
	hub   *tracking.Hub
}

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()
	cfg := config.Defaults()
	cfg.Providers[careem.ID] = config.ProviderConfig{Enabled: true, Secret: careemSecret}
	cfg.Ingress.RateRPS = 0
	if mutate != nil {
		mutate(cfg)
	}
	log := logging.Discard()
	st := store.NewMemory()
	reg := providers.Default(cfg, log)
	broker := events.NewMemoryBroker(64)
	coord := ordersync.New(reg, st, ordersync.NewMemoryGuard(), broker, cfg.Sync, log)
	hub, err := tracking.NewHub(cfg.Tracking, tracking.StoreAuthorizer{Orders: st}, st, reg, broker, log)
	require.NoError(t, err)
	s := NewServer(cfg, st, reg, coord, hub, log)
	ts := httptest.NewServer(s.Routes())
	t.Cleanup(hub.Close)
	t.Cleanup(ts.Close)
	return &fixture{srv: s, ts: ts, store: st, hub: hub}
}

func careemOrder(id string, total float64) []byte {
	return []byte(fmt.Sprintf(`{"order_id":%q,"branch_id":"b1","status":"NEW",
		"customer":{"name":"Amal","phone":"+971500000000"},
		"items":[{"id":"i1","name":"Tea","quantity":1,"unit_price":10}],
		"totals":{"subtotal":10,"total":%v}}`, id, total))
}

// webhook posts body to the careem endpoint signed with sigBody.
func (f *fixture) webhook(t *testing.T, kind string, body, sigBody []byte) (*http.Response, careem.Ack) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, f.ts.URL+"/v1/webhooks/t1/b1/careem/"+kind, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Careem-Signature", webhooks.SignHMAC(careemSecret, sigBody))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var ack careem.Ack
	raw, _ := io.ReadAll(resp.Body)
	_ = json.Unmarshal(raw, &ack)
	return resp, ack
}

func (f *fixture) call(t *testing.T, method, path, token string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, f.ts.URL+path, rd)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, raw
}

func TestOrderWebhookAcceptsOnce(t *testing.T) {
	f := newFixture(t, nil)
	body := careemOrder("CRM-1", 10)

	resp, ack := f.webhook(t, "orders", body, body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "success", ack.Status)
	require.NotEmpty(t, ack.OrderID)

	resp, again := f.webhook(t, "orders", body, body)
	require.Equal(t, http.StatusOK, resp.StatusCode, "redelivery is acknowledged")
	assert.Equal(t, ack.OrderID, again.OrderID)

	snap, err := f.store.FindOrderByExternal(context.Background(), "t1", "careem", "CRM-1")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, ack.OrderID, snap.OrderID)
	assert.Equal(t, "b1", snap.BranchID)
}

func TestOrderWebhookRejectsAlteredBody(t *testing.T) {
	f := newFixture(t, nil)
	original := careemOrder("CRM-2", 10)
	altered := bytes.Replace(original, []byte("Tea"), []byte("Tee"), 1)

	resp, ack := f.webhook(t, "orders", altered, original)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "error", ack.Status)

	snap, err := f.store.FindOrderByExternal(context.Background(), "t1", "careem", "CRM-2")
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestOrderWebhookPayloadErrors(t *testing.T) {
	f := newFixture(t, nil)
	for name, body := range map[string][]byte{
		"malformed":  []byte(`{"order_id":`),
		"validation": careemOrder("CRM-3", 99),
		"empty":      {},
	} {
		resp, ack := f.webhook(t, "orders", body, body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, name)
		assert.Equal(t, "error", ack.Status, name)
		assert.NotEmpty(t, ack.Message, name)
	}
}

func TestUnsupportedProvider(t *testing.T) {
	f := newFixture(t, nil)
	resp, err := http.Post(f.ts.URL+"/v1/webhooks/t1/b1/ubereats/orders", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "application/problem+json", resp.Header.Get("Content-Type"))
}

func TestStatusWebhookDrivesTracking(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Tracking.IllegalTransitionPolicy = "reject" })
	body := careemOrder("CRM-4", 10)
	_, ack := f.webhook(t, "orders", body, body)
	orderID := ack.OrderID

	status := []byte(`{"order_id":"CRM-4","status":"preparing","location":{"latitude":25.1,"longitude":55.3}}`)
	resp, sack := f.webhook(t, "status", status, status)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, orderID, sack.OrderID)
	sess, ok := f.hub.Session(orderID)
	require.True(t, ok)
	assert.Equal(t, model.StatusPreparing, sess.Status)
	require.NotNil(t, sess.Location)

	rollback := []byte(`{"order_id":"CRM-4","status":"accepted"}`)
	resp, _ = f.webhook(t, "status", rollback, rollback)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	unknown := []byte(`{"order_id":"nobody","status":"accepted"}`)
	resp, uack := f.webhook(t, "status", unknown, unknown)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "success", uack.Status)

	unmapped := []byte(`{"order_id":"CRM-4","status":"foo_bar"}`)
	resp, _ = f.webhook(t, "status", unmapped, unmapped)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "unknown statuses are ignored by default")
	sess, _ = f.hub.Session(orderID)
	assert.Equal(t, model.StatusPreparing, sess.Status)
}

func TestIngressRateLimit(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.Ingress.RateRPS = 0.001
		c.Ingress.RateBurst = 1
	})
	body := careemOrder("CRM-5", 10)
	resp, _ := f.webhook(t, "orders", body, body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, ack := f.webhook(t, "orders", body, body)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get("Retry-After"))
	assert.Equal(t, "error", ack.Status)
}

func TestSyncEndpoints(t *testing.T) {
	f := newFixture(t, nil)
	req := map[string]any{"provider": "careem", "branchId": "b1", "payload": json.RawMessage(careemOrder("CRM-6", 10))}

	resp, _ := f.call(t, http.MethodPost, "/v1/sync", "", req)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, raw := f.call(t, http.MethodPost, "/v1/sync", "t1:operator", req)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	var res model.SyncResult
	require.NoError(t, json.Unmarshal(raw, &res))
	assert.True(t, res.Success)
	assert.Equal(t, "CRM-6", res.ProviderOrderID)

	resp, _ = f.call(t, http.MethodPost, "/v1/sync", "t1:branch:b2", req)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, raw = f.call(t, http.MethodPost, "/v1/sync", "t1:admin", map[string]any{"provider": "careem", "payload": json.RawMessage(careemOrder("CRM-7", 42))})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.NoError(t, json.Unmarshal(raw, &res))
	assert.False(t, res.Retryable)
	assert.NotEmpty(t, res.Errors)

	batch := map[string]any{"requests": []map[string]any{
		{"provider": "careem", "payload": json.RawMessage(careemOrder("CRM-8", 10))},
		{"payload": json.RawMessage(careemOrder("CRM-9", 10))},
		{"provider": "careem", "payload": json.RawMessage(careemOrder("CRM-6", 10))},
	}}
	resp, raw = f.call(t, http.MethodPost, "/v1/sync/batch", "t1:admin", batch)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	var out struct {
		Results []model.SyncResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(raw, &out))
	require.Len(t, out.Results, 3)
	assert.True(t, out.Results[0].Success)
	assert.False(t, out.Results[1].Success)
	assert.Contains(t, out.Results[1].Errors[0], "provider")
	assert.True(t, out.Results[2].Duplicate)
}

func TestProvidersEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	resp, raw := f.call(t, http.MethodGet, "/v1/providers", "t1:branch:b1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Providers []providerInfo `json:"providers"`
	}
	require.NoError(t, json.Unmarshal(raw, &out))
	require.Len(t, out.Providers, 4)
	assert.Equal(t, providerInfo{ID: "careem", Auth: "hmac-hex"}, out.Providers[0])
}

func TestSubscriptionsCRUD(t *testing.T) {
	f := newFixture(t, nil)
	create := map[string]any{"url": "https://example.com/hook", "events": []string{events.TypeOrderStatusUpdated}, "secret": "x"}

	resp, _ := f.call(t, http.MethodPost, "/v1/subscriptions", "t1:branch:b1", create)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, raw := f.call(t, http.MethodPost, "/v1/subscriptions", "t1:operator", create)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))
	var sub model.Subscription
	require.NoError(t, json.Unmarshal(raw, &sub))
	assert.Equal(t, "t1", sub.TenantID)

	for _, bad := range []map[string]any{
		{"url": "ftp://example.com", "events": []string{"*"}},
		{"url": "https://example.com"},
		{"url": "https://example.com", "events": []string{"order.eaten"}},
	} {
		resp, _ = f.call(t, http.MethodPost, "/v1/subscriptions", "t1:operator", bad)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	}

	resp, raw = f.call(t, http.MethodGet, "/v1/subscriptions", "t1:admin", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list struct {
		Items []model.Subscription `json:"items"`
	}
	require.NoError(t, json.Unmarshal(raw, &list))
	require.Len(t, list.Items, 1)
	assert.Empty(t, list.Items[0].Secret)

	resp, _ = f.call(t, http.MethodDelete, "/v1/subscriptions/"+sub.ID, "t1:admin", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = f.call(t, http.MethodDelete, "/v1/subscriptions/"+sub.ID, "t1:admin", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAdminDeliveries(t *testing.T) {
	f := newFixture(t, nil)
	id, err := f.store.EnqueueWebhook(context.Background(), "t1", "s1", events.TypeSyncCompleted, "https://example.com", "", []byte(`{"id":"e1"}`))
	require.NoError(t, err)

	resp, _ := f.call(t, http.MethodGet, "/v1/admin/webhook-deliveries", "t1:operator", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, raw := f.call(t, http.MethodGet, "/v1/admin/webhook-deliveries?status=pending", "t1:admin", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), id)

	resp, _ = f.call(t, http.MethodPost, "/v1/admin/webhook-deliveries/"+id+"/retry", "t1:admin", nil)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp, _ = f.call(t, http.MethodPost, "/v1/admin/webhook-deliveries/nope/retry", "t1:admin", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestOrderTrackingEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	body := careemOrder("CRM-10", 10)
	_, ack := f.webhook(t, "orders", body, body)

	resp, raw := f.call(t, http.MethodGet, "/v1/orders/"+ack.OrderID+"/tracking", "t1:branch:b1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	var view struct {
		Status model.OrderStatus `json:"status"`
		Live   bool              `json:"live"`
	}
	require.NoError(t, json.Unmarshal(raw, &view))
	assert.Equal(t, model.StatusPending, view.Status)
	assert.False(t, view.Live)

	resp, _ = f.call(t, http.MethodGet, "/v1/orders/"+ack.OrderID+"/tracking", "t2:admin", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp, _ = f.call(t, http.MethodGet, "/v1/orders/missing/tracking", "t1:admin", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func readWS(t *testing.T, c *websocket.Conn) tracking.Message {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	var m tracking.Message
	require.NoError(t, c.ReadJSON(&m))
	return m
}

func TestTrackingWebSocket(t *testing.T) {
	f := newFixture(t, nil)
	body := careemOrder("CRM-11", 10)
	_, ack := f.webhook(t, "orders", body, body)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(f.ts.URL, "http")+"/v1/tracking/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "subscribe", "orderId": ack.OrderID, "token": "t2:admin"}))
	m := readWS(t, conn)
	assert.Equal(t, tracking.MsgError, m.Type)
	assert.Equal(t, "forbidden", m.Message)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "subscribe", "orderId": ack.OrderID, "token": "t1:branch:b1"}))
	m = readWS(t, conn)
	assert.Equal(t, tracking.MsgSubscribed, m.Type, "ack arrives before the current status")
	m = readWS(t, conn)
	assert.Equal(t, tracking.MsgStatusUpdate, m.Type)
	assert.Equal(t, model.StatusPending, m.Status)

	status := []byte(`{"order_id":"CRM-11","status":"on_the_way","driver":{"name":"Sami","phone":"+971"}}`)
	resp, _ := f.webhook(t, "status", status, status)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	m = readWS(t, conn)
	assert.Equal(t, tracking.MsgStatusUpdate, m.Type)
	assert.Equal(t, ack.OrderID, m.OrderID)
	assert.Equal(t, model.StatusInTransit, m.Status)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "unsubscribe", "orderId": ack.OrderID}))
	m = readWS(t, conn)
	assert.Equal(t, tracking.MsgUnsubscribed, m.Type)
	sess, ok := f.hub.Session(ack.OrderID)
	require.True(t, ok)
	assert.Empty(t, sess.Subscribers)
}

func TestHealthReadyMetrics(t *testing.T) {
	metrics.RegisterDefault()
	f := newFixture(t, nil)
	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp, _ := f.call(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
	resp, _ := f.call(t, http.MethodGet, "/debug", "t1:operator", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp, raw := f.call(t, http.MethodGet, "/debug", "t1:admin", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotContains(t, string(raw), careemSecret)
}

func TestOpenAPIDocument(t *testing.T) {
	f := newFixture(t, nil)
	resp, raw := f.call(t, http.MethodGet, "/openapi.json", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var doc struct {
		Paths map[string]any `json:"paths"`
	}
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Contains(t, doc.Paths, "/v1/sync")
	assert.Contains(t, doc.Paths, "/v1/tracking/ws")

	resp, _ = f.call(t, http.MethodGet, "/openapi.yaml", "", nil)
	assert.Equal(t, "application/yaml", resp.Header.Get("Content-Type"))
}
