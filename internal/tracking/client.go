package tracking

import (
	"time"

	"orderhub/internal/model"
)

// Message types on the subscription channel.
const (
	MsgStatusUpdate = "statusUpdate"
	MsgSubscribed   = "subscribed"
	MsgUnsubscribed = "unsubscribed"
	MsgError        = "error"
)

// Message is a server-to-client frame.
type Message struct {
	Type      string               `json:"type"`
	OrderID   string               `json:"orderId,omitempty"`
	Status    model.OrderStatus    `json:"status,omitempty"`
	Timestamp *time.Time           `json:"timestamp,omitempty"`
	Location  *model.GeoPoint      `json:"location,omitempty"`
	ETA       *time.Time           `json:"eta,omitempty"`
	Driver    *model.DriverContact `json:"driver,omitempty"`
	Message   string               `json:"message,omitempty"`
}

// Client is one subscriber connection. The hub closes Messages when the
// client is disconnected, replaced or the hub shuts down.
type Client struct {
	ID   string
	send chan Message
}

func (c *Client) Messages() <-chan Message { return c.send }

// push is a non-blocking send; it reports whether the message was queued.
func (c *Client) push(m Message) bool {
	select {
	case c.send <- m:
		return true
	default:
		return false
	}
}

func statusMessage(st model.TrackingSession) Message {
	ts := st.LastUpdate
	return Message{
		Type:      MsgStatusUpdate,
		OrderID:   st.OrderID,
		Status:    st.Status,
		Timestamp: &ts,
		Location:  st.Location,
		ETA:       st.ETA,
		Driver:    st.Driver,
	}
}
