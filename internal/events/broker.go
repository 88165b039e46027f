package events

import (
	"context"
	"sync"
)

// Broker fans events out to typed channel subscribers keyed by event type.
type Broker interface {
	Emitter
	Subscribe(eventType string) chan Event
	Unsubscribe(eventType string, ch chan Event)
	Close() error
}

// MemoryBroker is the in-process Broker. Publishing never blocks: a full
// subscriber channel drops the event for that subscriber and counts it.
type MemoryBroker struct {
	mu      sync.Mutex
	buffer  int
	subs    map[string]map[chan Event]struct{} // eventType -> set of channels
	dropped int64
}

func NewMemoryBroker(buffer int) *MemoryBroker {
	if buffer <= 0 {
		buffer = 64
	}
	return &MemoryBroker{buffer: buffer, subs: map[string]map[chan Event]struct{}{}}
}

func (b *MemoryBroker) Subscribe(eventType string) chan Event {
	ch := make(chan Event, b.buffer)
	b.mu.Lock()
	if b.subs[eventType] == nil {
		b.subs[eventType] = map[chan Event]struct{}{}
	}
	b.subs[eventType][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *MemoryBroker) Unsubscribe(eventType string, ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.subs[eventType]
	if _, ok := m[ch]; !ok {
		return
	}
	delete(m, ch)
	if len(m) == 0 {
		delete(b.subs, eventType)
	}
	close(ch)
}

func (b *MemoryBroker) Publish(_ context.Context, evt Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[evt.Type] {
		select {
		case ch <- evt:
		default:
			b.dropped++
		}
	}
}

// Dropped reports how many deliveries were skipped because a subscriber was full.
func (b *MemoryBroker) Dropped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Close closes every subscriber channel.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for typ, m := range b.subs {
		for ch := range m {
			close(ch)
		}
		delete(b.subs, typ)
	}
	return nil
}
