package ordersync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderhub/internal/apperr"
	"orderhub/internal/config"
	"orderhub/internal/events"
	"orderhub/internal/model"
	"orderhub/internal/providers"
	"orderhub/internal/providers/careem"
	"orderhub/internal/store"
)

func careemOrder(id string, total float64) []byte {
	return []byte(fmt.Sprintf(`{"order_id":%q,"branch_id":"b1","status":"NEW",
		"customer":{"name":"Amal","phone":"+971500000000"},
		"items":[{"id":"i1","name":"Tea","quantity":1,"unit_price":10}],
		"totals":{"subtotal":10,"total":%v}}`, id, total))
}

type recorder struct {
	mu   sync.Mutex
	evts []events.Event
}

func (r *recorder) Publish(_ context.Context, e events.Event) {
	r.mu.Lock()
	r.evts = append(r.evts, e)
	r.mu.Unlock()
}

func (r *recorder) ofType(typ string) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, e := range r.evts {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

// countingStore records writes and can slow them down or fail them.
type countingStore struct {
	*store.Memory
	delay    time.Duration
	fail     atomic.Bool
	writes   atomic.Int32
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (s *countingStore) CreateSyncRecord(ctx context.Context, key model.IdempotencyKey, o model.ProviderOrder, r model.SyncResult) (model.SyncRecord, error) {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.fail.Load() {
		return model.SyncRecord{}, errors.New("connection refused")
	}
	rec, err := s.Memory.CreateSyncRecord(ctx, key, o, r)
	if err == nil {
		s.writes.Add(1)
	}
	return rec, err
}

func newCoordinator(t *testing.T, st store.Store) (*Coordinator, *recorder) {
	t.Helper()
	reg := providers.NewRegistry(nil)
	reg.Register(careem.ID, careem.New())
	rec := &recorder{}
	cfg := config.Defaults().Sync
	cfg.BatchPause = 10 * time.Millisecond
	cfg.RetryBase = time.Millisecond
	cfg.RetryMax = 5 * time.Millisecond
	return New(reg, st, NewMemoryGuard(), rec, cfg, nil), rec
}

func req(payload []byte) model.SyncRequest {
	return model.SyncRequest{TenantID: "t1", BranchID: "b1", Provider: "careem", Payload: payload}
}

func TestSynchronizeIsIdempotent(t *testing.T) {
	st := &countingStore{Memory: store.NewMemory()}
	c, rec := newCoordinator(t, st)
	ctx := context.Background()

	first, err := c.Synchronize(ctx, req(careemOrder("CRM-1", 10)))
	require.NoError(t, err)
	assert.True(t, first.Success)
	assert.Equal(t, 1, first.SyncedCount)
	assert.NotEmpty(t, first.OrderID)
	assert.Equal(t, "CRM-1", first.ProviderOrderID)

	second, err := c.Synchronize(ctx, req(careemOrder("CRM-1", 10)))
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.OrderID, second.OrderID)
	assert.NotEqual(t, first.CorrelationID, second.CorrelationID)

	assert.Equal(t, int32(1), st.writes.Load())
	completed := rec.ofType(events.TypeSyncCompleted)
	require.Len(t, completed, 1)
	assert.Equal(t, first.OrderID, completed[0].OrderID)
	assert.Equal(t, first.CorrelationID, completed[0].CorrelationID)
	require.NotNil(t, completed[0].Order)
	assert.Equal(t, "CRM-1", completed[0].Order.ExternalOrderID)
}

func TestSynchronizeConcurrentSingleWrite(t *testing.T) {
	st := &countingStore{Memory: store.NewMemory(), delay: 20 * time.Millisecond}
	c, rec := newCoordinator(t, st)

	var wg sync.WaitGroup
	var inProgress, ok atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := c.Synchronize(context.Background(), req(careemOrder("CRM-RACE", 10)))
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, apperr.SyncInProgress):
				assert.True(t, res.Retryable)
				inProgress.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), st.writes.Load())
	assert.Equal(t, int32(10), ok.Load()+inProgress.Load())
	assert.Len(t, rec.ofType(events.TypeSyncCompleted), 1)
	assert.Empty(t, rec.ofType(events.TypeSyncFailed))
}

func TestSynchronizeValidationFailure(t *testing.T) {
	st := &countingStore{Memory: store.NewMemory()}
	c, rec := newCoordinator(t, st)

	res, err := c.Synchronize(context.Background(), req(careemOrder("CRM-BAD", 99)))
	require.ErrorIs(t, err, apperr.ValidationFailed)
	assert.False(t, res.Success)
	assert.False(t, res.Retryable)
	assert.NotEmpty(t, res.Errors)
	assert.Zero(t, st.writes.Load())

	failed := rec.ofType(events.TypeSyncFailed)
	require.Len(t, failed, 1)
	assert.False(t, failed[0].Retryable)
	assert.Equal(t, "CRM-BAD", failed[0].ExternalOrderID)
}

func TestSynchronizeInvalidPayloadEmitsNothing(t *testing.T) {
	c, rec := newCoordinator(t, store.NewMemory())

	_, err := c.Synchronize(context.Background(), req([]byte(`{"order_id":`)))
	require.ErrorIs(t, err, apperr.InvalidPayload)

	r := req(careemOrder("X", 10))
	r.Provider = "ubereats"
	_, err = c.Synchronize(context.Background(), r)
	require.ErrorIs(t, err, apperr.UnsupportedProvider)

	assert.Empty(t, rec.evts)
}

func TestSynchronizePersistenceFailureIsRetryable(t *testing.T) {
	st := &countingStore{Memory: store.NewMemory()}
	st.fail.Store(true)
	c, rec := newCoordinator(t, st)

	res, err := c.Synchronize(context.Background(), req(careemOrder("CRM-DB", 10)))
	require.ErrorIs(t, err, apperr.PersistenceUnavailable)
	assert.True(t, res.Retryable)
	failed := rec.ofType(events.TypeSyncFailed)
	require.Len(t, failed, 1)
	assert.True(t, failed[0].Retryable)

	// The guard was released, so a retry reaches the store again.
	st.fail.Store(false)
	res, err = c.Synchronize(context.Background(), req(careemOrder("CRM-DB", 10)))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.False(t, c.Guard.(*MemoryGuard).Held(model.NewOrderKey("t1", "b1", "careem", "CRM-DB").String()))
}

func TestBatchWithZeroMaxAttemptsTerminates(t *testing.T) {
	st := &countingStore{Memory: store.NewMemory()}
	st.fail.Store(true)
	reg := providers.NewRegistry(nil)
	reg.Register(careem.ID, careem.New())
	cfg := config.Defaults().Sync
	cfg.MaxAttempts = 0
	cfg.RetryBase = time.Millisecond
	cfg.RetryMax = time.Millisecond
	c := New(reg, st, NewMemoryGuard(), nil, cfg, nil)

	done := make(chan []model.SyncResult, 1)
	go func() { done <- c.BatchSynchronize(context.Background(), []model.SyncRequest{req(careemOrder("CRM-Z", 10))}) }()
	select {
	case results := <-done:
		require.Len(t, results, 1)
		assert.False(t, results[0].Success)
		assert.True(t, results[0].Retryable)
	case <-time.After(2 * time.Second):
		t.Fatal("batch kept retrying an unavailable store")
	}
}

func TestSynchronizeFallsBackToOrderBranch(t *testing.T) {
	st := store.NewMemory()
	c, _ := newCoordinator(t, st)
	r := req(careemOrder("CRM-BR", 10))
	r.BranchID = ""
	_, err := c.Synchronize(context.Background(), r)
	require.NoError(t, err)

	got, err := st.FindExistingSync(context.Background(), model.NewOrderKey("t1", "b1", "careem", "CRM-BR"))
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestBatchSynchronizeIsolatesFailures(t *testing.T) {
	st := &countingStore{Memory: store.NewMemory(), delay: 5 * time.Millisecond}
	c, _ := newCoordinator(t, st)

	reqs := make([]model.SyncRequest, 12)
	for i := range reqs {
		reqs[i] = req(careemOrder(fmt.Sprintf("CRM-B%02d", i), 10))
	}
	reqs[7] = req(careemOrder("CRM-B07", 99)) // induced validation failure

	results := c.BatchSynchronize(context.Background(), reqs)
	require.Len(t, results, 12)

	seen := map[string]bool{}
	for i, res := range results {
		assert.Equal(t, fmt.Sprintf("CRM-B%02d", i), res.ProviderOrderID)
		assert.False(t, seen[res.CorrelationID], "correlation ids must be unique")
		seen[res.CorrelationID] = true
		if i == 7 {
			assert.False(t, res.Success)
			continue
		}
		assert.True(t, res.Success, "request %d", i)
	}
	assert.Equal(t, int32(11), st.writes.Load())
	assert.LessOrEqual(t, st.peak.Load(), int32(5))
}

func TestBatchSynchronizeRetriesTransientFailures(t *testing.T) {
	st := &flakyStore{Memory: store.NewMemory(), failures: 2}
	c, _ := newCoordinator(t, st)

	results := c.BatchSynchronize(context.Background(), []model.SyncRequest{req(careemOrder("CRM-FLAKY", 10))})
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	assert.Equal(t, int32(3), st.calls.Load())
}

type flakyStore struct {
	*store.Memory
	failures int32
	calls    atomic.Int32
}

func (s *flakyStore) FindExistingSync(ctx context.Context, key model.IdempotencyKey) (*model.SyncRecord, error) {
	if s.calls.Add(1) <= s.failures {
		return nil, errors.New("timeout")
	}
	return s.Memory.FindExistingSync(ctx, key)
}

// fetchingAdapter gives careem an order API for scope sync tests.
type fetchingAdapter struct {
	*careem.Adapter
	mu     sync.Mutex
	orders []json.RawMessage
	since  []time.Time
}

func (f *fetchingAdapter) FetchOrders(_ context.Context, _ string, since time.Time) ([]json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.since = append(f.since, since)
	return f.orders, nil
}

func TestScopeSyncAggregates(t *testing.T) {
	c, rec := newCoordinator(t, store.NewMemory())
	fa := &fetchingAdapter{Adapter: careem.New(), orders: []json.RawMessage{
		careemOrder("CRM-S1", 10), careemOrder("CRM-S2", 10), careemOrder("CRM-S3", 42),
	}}
	c.Providers.(*providers.Registry).Register(careem.ID, fa)

	scope := model.SyncRequest{TenantID: "t1", BranchID: "b1", Provider: "careem", Scope: model.ScopeIncremental}
	res, err := c.Synchronize(context.Background(), scope)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 2, res.SyncedCount)
	assert.Equal(t, 1, res.FailedCount)
	assert.Len(t, res.Errors, 1)
	assert.Len(t, rec.ofType(events.TypeSyncCompleted), 2)

	// A partial run does not advance the cursor.
	fa.orders = fa.orders[:2]
	res, err = c.Synchronize(context.Background(), scope)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.SyncedCount)

	_, err = c.Synchronize(context.Background(), scope)
	require.NoError(t, err)
	require.Len(t, fa.since, 3)
	assert.True(t, fa.since[0].IsZero())
	assert.True(t, fa.since[1].IsZero())
	assert.False(t, fa.since[2].IsZero())

	full := scope
	full.Scope = model.ScopeFull
	_, err = c.Synchronize(context.Background(), full)
	require.NoError(t, err)
	require.Len(t, fa.since, 4)
	assert.True(t, fa.since[3].IsZero())
}

func TestScopeSyncRequiresOrderAPI(t *testing.T) {
	c, _ := newCoordinator(t, store.NewMemory())
	_, err := c.Synchronize(context.Background(), model.SyncRequest{TenantID: "t1", Provider: "careem"})
	assert.ErrorIs(t, err, apperr.InvalidPayload)
}
