package events

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerPublishSubscribe(t *testing.T) {
	b := NewMemoryBroker(8)
	ch := b.Subscribe(TypeSyncCompleted)

	evt := New(TypeSyncCompleted, "t1")
	evt.OrderID = "o1"
	b.Publish(context.Background(), evt)
	b.Publish(context.Background(), New(TypeSyncFailed, "t1")) // other type, not delivered

	select {
	case got := <-ch:
		assert.Equal(t, evt.ID, got.ID)
		assert.Equal(t, "o1", got.OrderID)
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}

	b.Unsubscribe(TypeSyncCompleted, ch)
	_, ok := <-ch
	assert.False(t, ok, "channel should be closed after unsubscribe")
	b.Unsubscribe(TypeSyncCompleted, ch) // second call is a no-op
}

func TestBrokerPublishNeverBlocks(t *testing.T) {
	b := NewMemoryBroker(1)
	_ = b.Subscribe(TypeOrderStatusUpdated)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Publish(context.Background(), New(TypeOrderStatusUpdated, "t1"))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	assert.Equal(t, int64(9), b.Dropped())
}

type recordSink struct {
	mu    sync.Mutex
	got   []Event
	fails int
}

func (r *recordSink) Name() string { return "record" }
func (r *recordSink) Deliver(_ context.Context, evt Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fails > 0 {
		r.fails--
		return errors.New("transient")
	}
	r.got = append(r.got, evt)
	return nil
}
func (r *recordSink) events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.got...)
}

func TestForwarderRetriesSinkFailures(t *testing.T) {
	b := NewMemoryBroker(8)
	f := NewForwarder(b, nil)
	f.Retry.Base = time.Millisecond
	sink := &recordSink{fails: 1}

	ctx, cancel := context.WithCancel(context.Background())
	f.Attach(ctx, sink, TypeSyncFailed)
	b.Publish(ctx, New(TypeSyncFailed, "t1"))

	require.Eventually(t, func() bool { return len(sink.events()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	f.Wait()
}

type fakeWriter struct {
	msgs []kafkago.Message
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return nil
}
func (f *fakeWriter) Close() error { return nil }

func TestKafkaSinkKeysByOrder(t *testing.T) {
	w := &fakeWriter{}
	k := &KafkaSink{w: w}
	evt := New(TypeOrderStatusUpdated, "t1")
	evt.OrderID = "o-42"
	require.NoError(t, k.Deliver(context.Background(), evt))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "o-42", string(w.msgs[0].Key))
	assert.Equal(t, "event-type", w.msgs[0].Headers[0].Key)
	assert.Equal(t, TypeOrderStatusUpdated, string(w.msgs[0].Headers[0].Value))

	_, err := NewKafkaSink(nil, "topic")
	assert.Error(t, err)
}

func TestMQTTTopic(t *testing.T) {
	evt := New(TypeSyncCompleted, "t1")
	evt.BranchID = "b7"
	assert.Equal(t, "orderhub/t1/b7/sync.completed", mqttTopic("orderhub/", evt))
	evt.BranchID = ""
	assert.Equal(t, "orderhub/t1/_/sync.completed", mqttTopic("orderhub", evt))
}

func TestRedisBrokerRoundTrip(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	b, err := NewRedisBroker(url, 8, nil)
	require.NoError(t, err)
	defer b.Close()

	ch := b.Subscribe(TypeSyncCompleted)
	evt := New(TypeSyncCompleted, "t1")
	b.Publish(context.Background(), evt)
	select {
	case got := <-ch:
		assert.Equal(t, evt.ID, got.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for redis event")
	}
	b.Unsubscribe(TypeSyncCompleted, ch)
}
