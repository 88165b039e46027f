package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"orderhub/internal/events"
	"orderhub/internal/logging"
	"orderhub/internal/store"
)

// Publisher fans canonical events out to tenant subscriptions by enqueueing
// one delivery per matching subscription. It is attached to the event broker
// as a sink; the Worker performs the HTTP delivery.
type Publisher struct {
	Store store.Store
	Log   *slog.Logger
}

func NewPublisher(s store.Store, log *slog.Logger) *Publisher {
	return &Publisher{Store: s, Log: logging.OrDiscard(log).With("component", "webhooks.publisher")}
}

func (p *Publisher) Name() string { return "webhooks" }

// Deliver enqueues evt for every subscription of its tenant and type. The
// event id doubles as the delivery dedup key.
func (p *Publisher) Deliver(ctx context.Context, evt events.Event) error {
	subs, err := p.Store.GetSubscriptionsForEvent(ctx, evt.TenantID, evt.Type)
	if err != nil {
		return fmt.Errorf("load subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return nil
	}
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	for _, s := range subs {
		if _, err := p.Store.EnqueueWebhook(ctx, evt.TenantID, s.ID, evt.Type, s.URL, s.Secret, body); err != nil {
			return fmt.Errorf("enqueue %s: %w", s.ID, err)
		}
		p.Log.Debug("webhook enqueued", "tenant", evt.TenantID, "subscription", s.ID, "type", evt.Type, "event", evt.ID)
	}
	return nil
}
