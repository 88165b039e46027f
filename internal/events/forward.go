package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"orderhub/internal/logging"
	"orderhub/internal/metrics"
	"orderhub/internal/retry"
)

// Sink delivers events to something outside the process.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, evt Event) error
}

// Forwarder drains broker subscriptions into sinks, one goroutine per
// (sink, event type), retrying transient sink failures.
type Forwarder struct {
	Broker Broker
	Retry  retry.Policy
	Log    *slog.Logger

	wg sync.WaitGroup
}

func NewForwarder(b Broker, log *slog.Logger) *Forwarder {
	return &Forwarder{
		Broker: b,
		Retry: retry.Policy{
			Base:        100 * time.Millisecond,
			Max:         2 * time.Second,
			MaxAttempts: 3,
			Retryable:   func(error) bool { return true },
		},
		Log: logging.OrDiscard(log).With("component", "events.forward"),
	}
}

// Attach starts forwarding the given event types (all types when empty) to
// sink until ctx ends.
func (f *Forwarder) Attach(ctx context.Context, sink Sink, types ...string) {
	if len(types) == 0 {
		types = Types
	}
	for _, typ := range types {
		ch := f.Broker.Subscribe(typ)
		f.wg.Add(1)
		go f.pump(ctx, sink, typ, ch)
	}
}

func (f *Forwarder) pump(ctx context.Context, sink Sink, typ string, ch chan Event) {
	defer f.wg.Done()
	defer f.Broker.Unsubscribe(typ, ch)
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			err := f.Retry.Do(ctx, func(ctx context.Context) error { return sink.Deliver(ctx, evt) })
			status := "ok"
			if err != nil {
				status = "error"
				f.Log.Error("sink delivery failed", "sink", sink.Name(), "type", evt.Type, "event", evt.ID, "err", err)
			}
			metrics.EventsForwarded.WithLabelValues(sink.Name(), evt.Type, status).Inc()
		}
	}
}

// Wait blocks until every pump has exited.
func (f *Forwarder) Wait() { f.wg.Wait() }
