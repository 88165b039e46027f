package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTSink publishes events for store-side agents (printers, kitchen
// displays) on <prefix>/<tenant>/<branch>/<type>.
type MQTTSink struct {
	client mqtt.Client
	prefix string
}

func NewMQTTSink(broker, clientID, prefix string) (*MQTTSink, error) {
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connect: timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return &MQTTSink{client: client, prefix: prefix}, nil
}

func (m *MQTTSink) Name() string { return "mqtt" }

func (m *MQTTSink) Deliver(ctx context.Context, evt Event) error {
	if !m.client.IsConnected() {
		return fmt.Errorf("mqtt not connected")
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	token := m.client.Publish(mqttTopic(m.prefix, evt), 1, false, data)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *MQTTSink) Close() error {
	m.client.Disconnect(250)
	return nil
}

func mqttTopic(prefix string, evt Event) string {
	branch := evt.BranchID
	if branch == "" {
		branch = "_"
	}
	parts := []string{strings.TrimSuffix(prefix, "/"), evt.TenantID, branch, evt.Type}
	return strings.Join(parts, "/")
}
