// Package tracking keeps live order-status sessions and pushes status
// changes to subscribed clients.
package tracking

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"orderhub/internal/apperr"
	"orderhub/internal/auth"
	"orderhub/internal/config"
	"orderhub/internal/events"
	"orderhub/internal/logging"
	"orderhub/internal/metrics"
	"orderhub/internal/model"
	"orderhub/internal/orderstatus"
	"orderhub/internal/providers"
	"orderhub/internal/store"
)

const (
	SourceWebhook = "webhook"
	SourcePoll    = "poll"
)

// Outcome says what a status event did to its session.
type Outcome string

const (
	OutcomeTransitioned Outcome = "transitioned"
	OutcomeUnchanged    Outcome = "unchanged"
	OutcomeIgnored      Outcome = "ignored"
	OutcomeRejected     Outcome = "rejected"
	OutcomeFailed       Outcome = "failed"
)

// StatusEvent is a provider status update for a known order. Order seeds the
// session when the hub is not tracking the order yet.
type StatusEvent struct {
	Order  model.OrderSnapshot
	Update model.StatusUpdate
	Source string
}

// Resolver finds the adapter for a provider id.
type Resolver interface {
	Resolve(id string) (providers.Adapter, error)
}

// Authorizer decides whether a principal may follow an order.
type Authorizer interface {
	Authorize(ctx context.Context, orderID string, p auth.Principal) (model.OrderSnapshot, error)
}

// StatusStore records the canonical status of an order.
type StatusStore interface {
	UpdateOrderStatus(ctx context.Context, orderID string, status model.OrderStatus, at time.Time) error
}

// Hub owns the tracking sessions, their subscribers and their pollers.
type Hub struct {
	Authorizer      Authorizer
	Orders          StatusStore
	Providers       Resolver
	Events          events.Emitter
	IllegalPolicy   orderstatus.Policy
	UnknownPolicy   orderstatus.Policy
	PollInterval    time.Duration
	CleanupInterval time.Duration
	Retention       time.Duration
	MaxIdle         time.Duration
	Buffer          int
	Log             *slog.Logger

	// lock order: mu, then session.mu
	mu       sync.RWMutex
	sessions map[string]*session
	clients  map[string]*Client
}

type session struct {
	mu    sync.Mutex
	state model.TrackingSession
	stop  context.CancelFunc // nil when not polling
	// lastActivity is hub-side: creation, subscription changes and applied
	// transitions. Sweeps measure idleness from it.
	lastActivity time.Time
}

// NewHub builds a hub from tracking config. orders may be nil, in which case
// transitions are not persisted.
func NewHub(cfg config.TrackingConfig, authz Authorizer, orders StatusStore, reg Resolver, em events.Emitter, log *slog.Logger) (*Hub, error) {
	illegal, err := orderstatus.ParsePolicy(cfg.IllegalTransitionPolicy)
	if err != nil {
		return nil, err
	}
	unknown, err := orderstatus.ParsePolicy(cfg.UnknownStatusPolicy)
	if err != nil {
		return nil, err
	}
	if em == nil {
		em = events.Discard{}
	}
	return &Hub{
		Authorizer:      authz,
		Orders:          orders,
		Providers:       reg,
		Events:          em,
		IllegalPolicy:   illegal,
		UnknownPolicy:   unknown,
		PollInterval:    cfg.PollInterval,
		CleanupInterval: cfg.CleanupInterval,
		Retention:       cfg.Retention,
		MaxIdle:         cfg.MaxIdle,
		Buffer:          cfg.SubscriberBuffer,
		Log:             logging.OrDiscard(log).With("component", "tracking"),
		sessions:        map[string]*session{},
		clients:         map[string]*Client{},
	}, nil
}

// Connect registers a subscriber connection. A second Connect with the same
// id replaces the first; the old client's channel is closed and its
// subscriptions carry over.
func (h *Hub) Connect(subscriberID string) *Client {
	buf := h.Buffer
	if buf <= 0 {
		buf = 16
	}
	c := &Client{ID: subscriberID, send: make(chan Message, buf)}
	h.mu.Lock()
	if old, ok := h.clients[subscriberID]; ok {
		close(old.send)
	}
	h.clients[subscriberID] = c
	h.mu.Unlock()
	return c
}

// Disconnect drops the connection and every subscription it held.
func (h *Hub) Disconnect(subscriberID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[subscriberID]
	if !ok {
		return
	}
	delete(h.clients, subscriberID)
	close(c.send)
	for _, s := range h.sessions {
		s.mu.Lock()
		if _, ok := s.state.Subscribers[subscriberID]; ok {
			delete(s.state.Subscribers, subscriberID)
			s.lastActivity = time.Now()
			if len(s.state.Subscribers) == 0 {
				s.stopPolling()
			}
		}
		s.mu.Unlock()
	}
}

// Subscribe adds subscriberID to orderID's session after the authorizer
// approves, then pushes a subscribed ack followed by the current status to
// that subscriber only.
func (h *Hub) Subscribe(ctx context.Context, orderID, subscriberID string, p auth.Principal) error {
	const op = "tracking.subscribe"
	snap, err := h.Authorizer.Authorize(ctx, orderID, p)
	if err != nil {
		return err
	}

	h.mu.Lock()
	c, ok := h.clients[subscriberID]
	if !ok {
		h.mu.Unlock()
		return apperr.Errorf(apperr.KindNotFound, op, "subscriber %s is not connected", subscriberID)
	}
	s := h.sessionLocked(snap)
	s.mu.Lock()
	s.state.Subscribers[subscriberID] = struct{}{}
	s.lastActivity = time.Now()
	msg := statusMessage(s.state)
	if s.stop == nil && !s.state.Status.Terminal() {
		h.startPolling(s)
	}
	s.mu.Unlock()
	c.push(Message{Type: MsgSubscribed, OrderID: orderID})
	c.push(msg)
	h.mu.Unlock()
	h.Log.Debug("subscribed", "order_id", orderID, "subscriber", subscriberID)
	return nil
}

// Unsubscribe removes subscriberID. The session outlives its last subscriber
// until the retention sweep; polling stops right away.
func (h *Hub) Unsubscribe(orderID, subscriberID string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sessions[orderID]
	if !ok {
		return
	}
	s.mu.Lock()
	if _, ok := s.state.Subscribers[subscriberID]; ok {
		delete(s.state.Subscribers, subscriberID)
		s.lastActivity = time.Now()
	}
	if len(s.state.Subscribers) == 0 {
		s.stopPolling()
	}
	s.mu.Unlock()
}

// OnExternalStatusEvent applies a webhook or poll update. Only a transition
// broadcasts and emits order.status.updated.
func (h *Hub) OnExternalStatusEvent(ctx context.Context, ev StatusEvent) (Outcome, error) {
	return h.apply(ctx, ev, nil)
}

// apply is OnExternalStatusEvent with an identity check for pollers: when
// expect is set and no longer the live session for the order, nothing happens.
func (h *Hub) apply(ctx context.Context, ev StatusEvent, expect *session) (Outcome, error) {
	source := ev.Source
	if source == "" {
		source = SourceWebhook
	}
	orderID := ev.Order.OrderID
	if orderID == "" {
		return OutcomeIgnored, apperr.Errorf(apperr.KindInvalidPayload, "tracking.status", "status event without order id")
	}
	log := h.Log.With("order_id", orderID, "source", source, "provider_status", ev.Update.ProviderStatus)

	h.mu.Lock()
	var s *session
	if expect != nil {
		if h.sessions[orderID] != expect {
			h.mu.Unlock()
			return OutcomeIgnored, nil
		}
		s = expect
	} else {
		s = h.sessionLocked(ev.Order)
	}
	s.mu.Lock()
	h.mu.Unlock()

	prev := s.state.Status
	next, changed, err := orderstatus.Apply(s.state, ev.Update.Status, ev.Update.Timestamp)
	if err != nil {
		s.mu.Unlock()
		policy := h.IllegalPolicy
		if errors.Is(err, apperr.UnknownStatus) {
			policy = h.UnknownPolicy
		}
		if policy == orderstatus.PolicyReject {
			log.Info("status update rejected", "err", err)
			metrics.StatusUpdates.WithLabelValues(source, string(OutcomeRejected)).Inc()
			return OutcomeRejected, err
		}
		log.Info("status update ignored", "err", err)
		metrics.StatusUpdates.WithLabelValues(source, string(OutcomeIgnored)).Inc()
		return OutcomeIgnored, nil
	}
	if !changed {
		s.mu.Unlock()
		metrics.StatusUpdates.WithLabelValues(source, string(OutcomeUnchanged)).Inc()
		return OutcomeUnchanged, nil
	}

	if ev.Update.Location != nil {
		next.Location = ev.Update.Location
	}
	if ev.Update.ETA != nil {
		next.ETA = ev.Update.ETA
	}
	if ev.Update.Driver != nil {
		next.Driver = ev.Update.Driver
	}
	// The store must hold the new status before anyone hears about it, so a
	// session rebuilt from the store never predates a broadcast.
	if err := h.persist(ctx, next); err != nil {
		s.mu.Unlock()
		log.Warn("status not persisted", "to", next.Status, "err", err)
		metrics.StatusUpdates.WithLabelValues(source, string(OutcomeFailed)).Inc()
		return OutcomeFailed, err
	}
	s.state = next
	s.lastActivity = time.Now()
	if next.Status.Terminal() {
		s.stopPolling()
	}
	subs := next.SubscriberIDs()
	msg := statusMessage(next)
	s.mu.Unlock()

	h.broadcast(subs, msg)
	h.emit(ctx, next, prev, ev.Update, source)
	metrics.StatusUpdates.WithLabelValues(source, string(OutcomeTransitioned)).Inc()
	log.Info("order status changed", "from", prev, "to", next.Status, "subscribers", len(subs))
	return OutcomeTransitioned, nil
}

func (h *Hub) persist(ctx context.Context, st model.TrackingSession) error {
	if h.Orders == nil {
		return nil
	}
	err := h.Orders.UpdateOrderStatus(ctx, st.OrderID, st.Status, st.LastUpdate)
	if err == nil || errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return apperr.E(apperr.KindPersistenceUnavailable, "tracking.persist", err)
}

// sessionLocked returns the live session for snap.OrderID, creating it from
// the snapshot when absent. Caller holds h.mu.
func (h *Hub) sessionLocked(snap model.OrderSnapshot) *session {
	if s, ok := h.sessions[snap.OrderID]; ok {
		return s
	}
	status := snap.Status
	if status == "" {
		status = model.StatusPending
	}
	now := time.Now().UTC()
	last := snap.UpdatedAt
	if last.IsZero() {
		last = now
	}
	s := &session{state: model.TrackingSession{
		OrderID:         snap.OrderID,
		TenantID:        snap.TenantID,
		BranchID:        snap.BranchID,
		Provider:        snap.Provider,
		ProviderOrderID: snap.ExternalOrderID,
		Status:          status,
		CreatedAt:       now,
		LastUpdate:      last,
		Active:          true,
		Subscribers:     map[string]struct{}{},
	}, lastActivity: now}
	h.sessions[snap.OrderID] = s
	metrics.TrackingSessions.Set(float64(len(h.sessions)))
	return s
}

// broadcast never blocks: a full client buffer drops the message.
func (h *Hub) broadcast(subscribers []string, msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, id := range subscribers {
		c, ok := h.clients[id]
		if !ok {
			continue
		}
		if c.push(msg) {
			metrics.TrackingBroadcasts.WithLabelValues("delivered").Inc()
		} else {
			metrics.TrackingBroadcasts.WithLabelValues("dropped").Inc()
			h.Log.Warn("subscriber buffer full; update dropped", "subscriber", id, "order_id", msg.OrderID)
		}
	}
}

func (h *Hub) emit(ctx context.Context, st model.TrackingSession, prev model.OrderStatus, upd model.StatusUpdate, source string) {
	evt := events.New(events.TypeOrderStatusUpdated, st.TenantID)
	evt.BranchID = st.BranchID
	evt.Provider = st.Provider
	evt.OrderID = st.OrderID
	evt.ExternalOrderID = st.ProviderOrderID
	evt.Timestamp = st.LastUpdate
	evt.Status = &events.StatusChange{
		From:           prev,
		To:             st.Status,
		ProviderStatus: upd.ProviderStatus,
		Source:         source,
		Location:       st.Location,
		ETA:            st.ETA,
		Driver:         st.Driver,
	}
	h.Events.Publish(ctx, evt)
}

// startPolling launches the poll task when the order's adapter can report
// status. Caller holds s.mu.
func (h *Hub) startPolling(s *session) {
	if h.Providers == nil || h.PollInterval <= 0 {
		return
	}
	a, err := h.Providers.Resolve(s.state.Provider)
	if err != nil {
		return
	}
	poller, ok := a.(providers.StatusPoller)
	if !ok {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.stop = cancel
	go h.poll(ctx, s, poller)
}

// stopPolling cancels the poll task. Caller holds s.mu.
func (s *session) stopPolling() {
	if s.stop != nil {
		s.stop()
		s.stop = nil
	}
}

func (h *Hub) poll(ctx context.Context, s *session, p providers.StatusPoller) {
	t := time.NewTicker(h.PollInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		s.mu.Lock()
		snap := snapshotOf(s.state)
		s.mu.Unlock()

		upd, err := p.PollStatus(ctx, snap.ExternalOrderID)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			h.Log.Warn("status poll failed", "order_id", snap.OrderID, "err", err)
			continue
		}
		if _, err := h.apply(ctx, StatusEvent{Order: snap, Update: upd, Source: SourcePoll}, s); err != nil {
			h.Log.Debug("polled status not applied", "order_id", snap.OrderID, "err", err)
		}
	}
}

// Run sweeps idle sessions every CleanupInterval until ctx ends.
func (h *Hub) Run(ctx context.Context) {
	every := h.CleanupInterval
	if every <= 0 {
		every = time.Minute
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := h.Sweep(now); n > 0 {
				h.Log.Debug("tracking sweep", "removed", n)
			}
		}
	}
}

// Sweep removes terminal sessions, sessions idle past Retention with no
// subscribers, and sessions idle past MaxIdle regardless. Idleness counts
// from the last subscription change or applied transition, not from the
// order's own update time. It returns how many were removed.
func (h *Hub) Sweep(now time.Time) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	removed := 0
	for id, s := range h.sessions {
		s.mu.Lock()
		idle := now.Sub(s.lastActivity)
		reclaim := s.state.Status.Terminal() ||
			(len(s.state.Subscribers) == 0 && h.Retention > 0 && idle > h.Retention) ||
			(h.MaxIdle > 0 && idle > h.MaxIdle)
		if reclaim {
			h.teardownLocked(id, s)
			removed++
		}
		s.mu.Unlock()
	}
	metrics.TrackingSessions.Set(float64(len(h.sessions)))
	return removed
}

// teardownLocked is the only way a session leaves the map. Caller holds h.mu
// and s.mu.
func (h *Hub) teardownLocked(orderID string, s *session) {
	s.stopPolling()
	s.state.Active = false
	delete(h.sessions, orderID)
}

// Close stops every poller and forgets all sessions and clients.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, s := range h.sessions {
		s.mu.Lock()
		h.teardownLocked(id, s)
		s.mu.Unlock()
	}
	for id, c := range h.clients {
		close(c.send)
		delete(h.clients, id)
	}
	metrics.TrackingSessions.Set(0)
}

// Session returns a copy of the live session for orderID.
func (h *Hub) Session(orderID string) (model.TrackingSession, bool) {
	h.mu.RLock()
	s, ok := h.sessions[orderID]
	if !ok {
		h.mu.RUnlock()
		return model.TrackingSession{}, false
	}
	s.mu.Lock()
	out := s.state
	out.Subscribers = make(map[string]struct{}, len(s.state.Subscribers))
	for k := range s.state.Subscribers {
		out.Subscribers[k] = struct{}{}
	}
	s.mu.Unlock()
	h.mu.RUnlock()
	return out, true
}

// polling reports whether orderID has a live poll task.
func (h *Hub) polling(orderID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sessions[orderID]
	if !ok {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stop != nil
}

func snapshotOf(st model.TrackingSession) model.OrderSnapshot {
	return model.OrderSnapshot{
		OrderID:         st.OrderID,
		TenantID:        st.TenantID,
		BranchID:        st.BranchID,
		Provider:        st.Provider,
		ExternalOrderID: st.ProviderOrderID,
		Status:          st.Status,
		UpdatedAt:       st.LastUpdate,
	}
}
