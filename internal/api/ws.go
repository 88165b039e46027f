package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"orderhub/internal/apperr"
	"orderhub/internal/tracking"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

const (
	wsReadTimeout = 60 * time.Second
	wsPingEvery   = 20 * time.Second
	wsWriteWait   = 10 * time.Second
)

type wsClientMessage struct {
	Type    string `json:"type"`
	OrderID string `json:"orderId"`
	Token   string `json:"token,omitempty"`
}

// TrackingWSHandler handles GET /v1/tracking/ws. Clients send subscribe and
// unsubscribe messages; the server pushes statusUpdate frames.
func (s *Server) TrackingWSHandler(w http.ResponseWriter, r *http.Request) {
	// The upgrade request may carry a bearer token (or ?token=) used when a
	// subscribe message has none.
	fallback, fallbackErr := s.Auth.FromRequest(r)
	if fallbackErr != nil && r.URL.Query().Get("token") != "" {
		fallback, fallbackErr = s.Auth.Verify(r.URL.Query().Get("token"))
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	subscriberID := uuid.NewString()
	client := s.Hub.Connect(subscriberID)
	defer s.Hub.Disconnect(subscriberID)
	log := s.Log.With("subscriber", subscriberID)
	log.Debug("tracking client connected")

	replies := make(chan tracking.Message, 8)
	done := make(chan struct{})
	go s.wsWriter(conn, client, replies, done)
	reply := func(m tracking.Message) {
		select {
		case replies <- m:
		case <-done:
		}
	}

	conn.SetReadLimit(64 << 10)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(wsReadTimeout)) })

	for {
		var msg wsClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		switch msg.Type {
		case "subscribe":
			if msg.OrderID == "" {
				reply(tracking.Message{Type: tracking.MsgError, Message: "orderId required"})
				continue
			}
			p, err := fallback, fallbackErr
			if msg.Token != "" {
				p, err = s.Auth.Verify(msg.Token)
			}
			if err != nil {
				reply(tracking.Message{Type: tracking.MsgError, OrderID: msg.OrderID, Message: "unauthorized"})
				continue
			}
			if err := s.Hub.Subscribe(r.Context(), msg.OrderID, subscriberID, p); err != nil {
				log.Info("subscribe refused", "order_id", msg.OrderID, "err", err)
				reply(tracking.Message{Type: tracking.MsgError, OrderID: msg.OrderID, Message: subscribeError(err)})
			}
		case "unsubscribe":
			s.Hub.Unsubscribe(msg.OrderID, subscriberID)
			reply(tracking.Message{Type: tracking.MsgUnsubscribed, OrderID: msg.OrderID})
		default:
			reply(tracking.Message{Type: tracking.MsgError, OrderID: msg.OrderID, Message: "unknown message type " + msg.Type})
		}
	}
	log.Debug("tracking client disconnected")
}

func subscribeError(err error) string {
	switch apperr.KindOf(err) {
	case apperr.KindForbidden:
		return "forbidden"
	case apperr.KindNotFound:
		return "order not found"
	}
	return "subscribe failed"
}

// wsWriter is the connection's only writer. It exits when the hub closes the
// client channel or a write fails.
func (s *Server) wsWriter(conn *websocket.Conn, client *tracking.Client, replies <-chan tracking.Message, done chan<- struct{}) {
	defer close(done)
	defer func() { _ = conn.Close() }()
	ping := time.NewTicker(wsPingEvery)
	defer ping.Stop()
	write := func(m tracking.Message) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(m)
	}
	for {
		select {
		case m, ok := <-client.Messages():
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(time.Second))
				return
			}
			if err := write(m); err != nil {
				return
			}
		case m := <-replies:
			if err := write(m); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}
