package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	"orderhub/internal/logging"
)

// RedisBroker implements Broker over Redis Pub/Sub so every instance sees
// every event.
type RedisBroker struct {
	rdb    *redis.Client
	prefix string
	buffer int
	log    *slog.Logger

	mu   sync.Mutex
	subs map[chan Event]*redis.PubSub
}

func NewRedisBroker(url string, buffer int, log *slog.Logger) (*RedisBroker, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return NewRedisBrokerClient(redis.NewClient(opt), buffer, log), nil
}

func NewRedisBrokerClient(rdb *redis.Client, buffer int, log *slog.Logger) *RedisBroker {
	if buffer <= 0 {
		buffer = 64
	}
	return &RedisBroker{
		rdb:    rdb,
		prefix: "orderhub:events:",
		buffer: buffer,
		log:    logging.OrDiscard(log).With("component", "events.redis"),
		subs:   map[chan Event]*redis.PubSub{},
	}
}

func (b *RedisBroker) Subscribe(eventType string) chan Event {
	ch := make(chan Event, b.buffer)
	ctx := context.Background()
	ps := b.rdb.Subscribe(ctx, b.chanName(eventType))
	// wait for the subscription confirmation so no publish is missed
	if _, err := ps.Receive(ctx); err != nil {
		b.log.Warn("subscribe failed", "type", eventType, "err", err)
	}
	b.mu.Lock()
	b.subs[ch] = ps
	b.mu.Unlock()
	go func() {
		defer close(ch)
		for msg := range ps.Channel() {
			var evt Event
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				b.log.Warn("decode event", "err", err)
				continue
			}
			select {
			case ch <- evt:
			default:
			}
		}
	}()
	return ch
}

// Unsubscribe closes the underlying PubSub; the pump goroutine then closes ch.
func (b *RedisBroker) Unsubscribe(_ string, ch chan Event) {
	b.mu.Lock()
	ps := b.subs[ch]
	delete(b.subs, ch)
	b.mu.Unlock()
	if ps != nil {
		_ = ps.Close()
	}
}

func (b *RedisBroker) Publish(ctx context.Context, evt Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	data, err := json.Marshal(evt)
	if err != nil {
		b.log.Error("encode event", "err", err)
		return
	}
	if err := b.rdb.Publish(ctx, b.chanName(evt.Type), data).Err(); err != nil {
		b.log.Warn("publish failed", "type", evt.Type, "err", err)
	}
}

func (b *RedisBroker) Close() error {
	b.mu.Lock()
	for ch, ps := range b.subs {
		_ = ps.Close()
		delete(b.subs, ch)
	}
	b.mu.Unlock()
	return b.rdb.Close()
}

func (b *RedisBroker) chanName(eventType string) string { return b.prefix + eventType }
