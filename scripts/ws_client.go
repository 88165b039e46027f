// Package main runs a demo tracking subscriber: it posts a Careem order
// webhook, subscribes to the order over WebSocket, then posts status updates
// and prints the frames it receives.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"

	"orderhub/internal/webhooks"
)

type wsMessage struct {
	Type    string `json:"type"`
	OrderID string `json:"orderId,omitempty"`
	Token   string `json:"token,omitempty"`
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)
	secret := os.Getenv("CAREEM_WEBHOOK_SECRET")
	extID := fmt.Sprintf("DEMO-%d", time.Now().Unix())

	post := func(kind string, body []byte) map[string]any {
		req, _ := http.NewRequest(http.MethodPost, base+"/v1/webhooks/t_demo/b1/careem/"+kind, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		if secret != "" {
			req.Header.Set("X-Careem-Signature", webhooks.SignHMAC(secret, body))
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			log.Fatal(err)
		}
		defer func() { _ = resp.Body.Close() }()
		var ack map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&ack)
		log.Printf("%s webhook -> %d %v", kind, resp.StatusCode, ack)
		return ack
	}

	ack := post("orders", []byte(fmt.Sprintf(`{"order_id":%q,"branch_id":"b1","status":"new",
		"customer":{"name":"Demo","phone":"+971500000000"},
		"items":[{"id":"i1","name":"Karak","quantity":2,"unit_price":5}],
		"totals":{"subtotal":10,"total":10}}`, extID)))
	orderID, _ := ack["order_id"].(string)
	if orderID == "" {
		log.Fatal("no order id in ack")
	}

	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/tracking/ws"}
	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	if err := c.WriteJSON(wsMessage{Type: "subscribe", OrderID: orderID, Token: "t_demo:branch:b1"}); err != nil {
		log.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var m wsMessage
			if err := c.ReadJSON(&m); err != nil {
				log.Printf("read: %v", err)
				return
			}
			log.Printf("WS <- %s %s %s", m.Type, m.Status, m.Message)
		}
	}()

	for _, st := range []string{"accepted", "preparing", "on_the_way", "delivered"} {
		time.Sleep(500 * time.Millisecond)
		post("status", []byte(fmt.Sprintf(`{"order_id":%q,"status":%q}`, extID, st)))
	}

	select {
	case <-time.After(2 * time.Second):
	case <-done:
	}
}
