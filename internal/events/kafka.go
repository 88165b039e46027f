package events

import (
	"context"
	"encoding/json"
	"fmt"

	kafkago "github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// KafkaSink writes events to one topic keyed by order so per-order ordering
// survives partitioning.
type KafkaSink struct {
	w messageWriter
}

func NewKafkaSink(brokers []string, topic string) (*KafkaSink, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, fmt.Errorf("kafka sink needs brokers and a topic")
	}
	return &KafkaSink{w: &kafkago.Writer{
		Addr:                   kafkago.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireOne,
		AllowAutoTopicCreation: true,
	}}, nil
}

func (k *KafkaSink) Name() string { return "kafka" }

func (k *KafkaSink) Deliver(ctx context.Context, evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return k.w.WriteMessages(ctx, kafkago.Message{
		Key:   []byte(partitionKey(evt)),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "event-type", Value: []byte(evt.Type)},
			{Key: "tenant-id", Value: []byte(evt.TenantID)},
		},
	})
}

func (k *KafkaSink) Close() error { return k.w.Close() }

func partitionKey(evt Event) string {
	if evt.OrderID != "" {
		return evt.OrderID
	}
	return evt.TenantID + ":" + evt.Provider + ":" + evt.ExternalOrderID
}
