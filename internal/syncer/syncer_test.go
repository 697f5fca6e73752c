package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	conf "github.com/bartek5186/posync/internal/config"
	"github.com/bartek5186/posync/internal/db"
	"github.com/bartek5186/posync/internal/events"
	"github.com/bartek5186/posync/internal/remote"
	"github.com/bartek5186/posync/internal/remote/memory"
	"github.com/bartek5186/posync/internal/status"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	s      *Syncer
	store  *db.Handle
	remote *memory.Store
	status *status.Store
}

func newHarness(t *testing.T, mutate func(*conf.Config)) *harness {
	t.Helper()
	store, err := db.OpenAt(t.TempDir(), "sqlite")
	require.NoError(t, err)
	require.NoError(t, store.Migrate())
	t.Cleanup(func() { _ = store.Close() })

	cfg := conf.Default()
	if mutate != nil {
		mutate(cfg)
	}
	cfg.Normalize()

	rem := memory.New(zerolog.Nop())
	st := status.New(cfg.MaxOfflineQueue)
	return &harness{
		s:      New(zerolog.Nop(), cfg, store, rem, st),
		store:  store,
		remote: rem,
		status: st,
	}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func (h *harness) customers(t *testing.T, n int) []db.Customer {
	t.Helper()
	out := make([]db.Customer, 0, n)
	for i := 0; i < n; i++ {
		c := db.Customer{Name: "klient"}
		require.NoError(t, h.store.CreateCustomer(context.Background(), &c))
		out = append(out, c)
	}
	return out
}

func TestQueueDrainsInBatches(t *testing.T) {
	h := newHarness(t, nil)
	h.customers(t, 25)

	res, err := h.s.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Batches)
	assert.Equal(t, 25, res.Pushed)
	assert.Zero(t, res.Failed)
	assert.EqualValues(t, 25, res.Purged)

	left, err := h.store.CountQueue(context.Background())
	require.NoError(t, err)
	assert.Zero(t, left)
	assert.Equal(t, 25, h.remote.Len("customers"))

	snap := h.status.Snapshot()
	assert.Zero(t, snap.PendingCount)
	assert.Equal(t, status.Synced, snap.Status)
	assert.NotNil(t, snap.LastSyncTime)
}

func TestFailedItemIsRetained(t *testing.T) {
	h := newHarness(t, nil)
	cs := h.customers(t, 10)
	h.remote.FailWith("customers", cs[4].ID, errors.New("rejected by remote"))
	ctx := context.Background()

	res, err := h.s.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 9, res.Pushed)
	assert.Equal(t, 1, res.Failed)

	items, err := h.store.ListQueue(ctx, "")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, db.QueueError, items[0].Status)
	assert.Equal(t, 1, items[0].Attempts)
	assert.Contains(t, items[0].Error, "rejected by remote")
	assert.NotNil(t, items[0].LastAttempt)

	snap := h.status.Snapshot()
	require.NotEmpty(t, snap.Errors)
	assert.Equal(t, status.ErrItemFailed, snap.Errors[len(snap.Errors)-1].Type)

	// timer przy polityce manual nie ponawia
	h.remote.FailWith("customers", cs[4].ID, nil)
	_, err = h.s.Sync(ctx)
	require.NoError(t, err)
	again, err := h.store.GetQueueItem(ctx, items[0].ID)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, 1, again.Attempts)

	res, err = h.s.ForceSync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Requeued)
	assert.Equal(t, 1, res.Pushed)
	assert.Equal(t, 10, h.remote.Len("customers"))
}

func TestIdempotentPush(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	id, err := h.store.CreateOrderWithItems(ctx, &db.Order{OrderNumber: "A-1"}, []db.OrderItem{
		{ProductID: "p1", Quantity: dec("1"), Price: dec("10")},
	})
	require.NoError(t, err)
	pid, err := h.store.CreatePayment(ctx, &db.Payment{OrderID: id, Method: "cash", Amount: dec("10")})
	require.NoError(t, err)

	queued, err := h.store.GetPendingQueueItems(ctx)
	require.NoError(t, err)
	require.Len(t, queued, 2)

	_, err = h.s.Sync(ctx)
	require.NoError(t, err)

	// ponowne dostarczenie tych samych snapshotów
	for _, it := range queued {
		dup := db.SyncQueueItem{Type: it.Type, Action: it.Action, Data: it.Data, Status: db.QueuePending}
		require.NoError(t, h.store.DB.Create(&dup).Error)
	}
	res, err := h.s.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Pushed)

	assert.Equal(t, 1, h.remote.Len("orders"))
	assert.Equal(t, 1, h.remote.Len("payments"))

	rid, err := h.store.RemoteIDFor(ctx, db.KindPayment, pid)
	require.NoError(t, err)
	_, ok := h.remote.Get("payments", rid)
	assert.True(t, ok)
}

func TestPullCursorIsMonotonic(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	require.NoError(t, h.remote.Seed("products", "p1", db.Product{Name: "Chleb", Price: dec("4.20")}))
	require.NoError(t, h.remote.Seed("products", "p2", db.Product{Name: "Mleko", Price: dec("3.10")}))
	require.NoError(t, h.remote.Seed("categories", "c1", db.Category{Name: "Pieczywo"}))
	require.NoError(t, h.remote.Seed("users", "u1", db.User{Name: "Anna", PIN: "1111"}))
	require.NoError(t, h.remote.Seed("customers", "k1", db.Customer{Name: "Jan"}))

	res, err := h.s.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"product": 2, "category": 1, "user": 1, "customer": 1}, res.Pulled)

	first, ok, err := h.store.GetLastSyncTime(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, first.Equal(res.Started))

	p, err := h.store.GetProduct(ctx, "p2")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "Mleko", p.Name)

	res, err = h.s.Sync(ctx)
	require.NoError(t, err)
	for kind, n := range res.Pulled {
		assert.Zero(t, n, kind)
	}
	second, _, err := h.store.GetLastSyncTime(ctx)
	require.NoError(t, err)
	assert.False(t, second.Before(first))
}

func TestPullFailureIsPerKind(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	require.NoError(t, h.remote.Seed("users", "u1", db.User{Name: "Anna"}))
	h.remote.FailQuery("products", errors.New("index missing"))

	res, err := h.s.Sync(ctx)
	require.NoError(t, err)
	assert.Contains(t, res.PullErrors["product"], "index missing")
	assert.Equal(t, 1, res.Pulled["user"])

	_, ok, err := h.store.GetLastSyncTime(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	snap := h.status.Snapshot()
	require.NotEmpty(t, snap.Errors)
	assert.Equal(t, status.ErrPullFailed, snap.Errors[0].Type)
	assert.Equal(t, status.Synced, snap.Status)
}

func TestEngineFaultSkipsPull(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.store.Close())

	_, err := h.s.Sync(context.Background())
	require.Error(t, err)

	snap := h.status.Snapshot()
	assert.Equal(t, status.Error, snap.Status)
	require.Len(t, snap.Errors, 1)
	assert.Equal(t, status.ErrSyncFailed, snap.Errors[0].Type)
	assert.Zero(t, h.remote.Calls(memory.OpQuery))
}

func TestOfflineSyncIsNoop(t *testing.T) {
	h := newHarness(t, nil)
	h.customers(t, 1)
	h.status.SetOnline(false)

	res, err := h.s.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SkipOffline, res.Skipped)
	assert.Equal(t, status.Offline, h.status.Status())
	assert.Zero(t, h.remote.Calls(memory.OpUpsert))
}

type blockingStore struct {
	remote.Store
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (b *blockingStore) Upsert(ctx context.Context, collection, id string, body json.RawMessage) (string, error) {
	b.once.Do(func() { close(b.entered) })
	<-b.release
	return b.Store.Upsert(ctx, collection, id, body)
}

func TestConcurrentSyncIsDropped(t *testing.T) {
	h := newHarness(t, nil)
	h.customers(t, 1)
	bs := &blockingStore{Store: h.remote, entered: make(chan struct{}), release: make(chan struct{})}
	h.s.remote = bs

	done := make(chan *Result)
	go func() {
		res, _ := h.s.Sync(context.Background())
		done <- res
	}()
	<-bs.entered
	assert.Equal(t, status.Syncing, h.status.Status())

	res, err := h.s.ForceSync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SkipBusy, res.Skipped)

	close(bs.release)
	first := <-done
	assert.Equal(t, 1, first.Pushed)
	assert.Equal(t, 1, h.remote.Calls(memory.OpUpsert))
}

func TestOrderCreatedOfflineReachesRemote(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.status.SetOnline(false)

	order := &db.Order{OrderNumber: "A-7", UserID: "u1"}
	id, err := h.store.CreateOrderWithItems(ctx, order, []db.OrderItem{
		{ProductID: "p1", Quantity: dec("2"), Price: dec("15.00")},
		{ProductID: "p2", Quantity: dec("1"), Price: dec("15.00")},
	})
	require.NoError(t, err)

	n, err := h.s.RefreshPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	local, err := h.store.GetOrderWithItems(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, db.SyncPending, local.SyncStatus)

	res, err := h.s.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, SkipOffline, res.Skipped)

	h.status.SetOnline(true)
	_, err = h.s.Sync(ctx)
	require.NoError(t, err)

	left, err := h.store.CountQueue(ctx)
	require.NoError(t, err)
	assert.Zero(t, left)

	require.Equal(t, 1, h.remote.Len("orders"))
	doc, ok := h.remote.Get("orders", order.RemoteID)
	require.True(t, ok)
	var got db.Order
	require.NoError(t, json.Unmarshal(doc.Body, &got))
	assert.Equal(t, id, got.ID)
	assert.True(t, got.Total.Equal(dec("45.00")), got.Total.String())
	assert.Len(t, got.Items, 2)

	local, err = h.store.GetOrderWithItems(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, db.SyncSynced, local.SyncStatus)
	assert.NotNil(t, local.LastSynced)
}

func TestSessionUpdateUsesBackfilledID(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	s, err := h.store.OpenSession(ctx, "u1", dec("100"))
	require.NoError(t, err)
	_, err = h.store.CloseSession(ctx, s.ID, dec("150"))
	require.NoError(t, err)

	res, err := h.s.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Pushed)
	assert.Equal(t, 1, h.remote.Len("sessions"))

	rid, err := h.store.RemoteIDFor(ctx, db.KindSession, s.ID)
	require.NoError(t, err)
	doc, ok := h.remote.Get("sessions", rid)
	require.True(t, ok)
	var got db.Session
	require.NoError(t, json.Unmarshal(doc.Body, &got))
	assert.Equal(t, db.SessionClosed, got.Status)
}

func TestFailedCreateBlocksLaterUpdate(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.remote.FailWith("sessions", "", remote.ErrUnavailable)

	s, err := h.store.OpenSession(ctx, "u1", dec("100"))
	require.NoError(t, err)
	_, err = h.store.CloseSession(ctx, s.ID, dec("120"))
	require.NoError(t, err)

	res, err := h.s.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, 1, h.remote.Calls(memory.OpUpsert))

	h.remote.FailWith("sessions", "", nil)
	res, err = h.s.ForceSync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Requeued)
	assert.Equal(t, 2, res.Pushed)
	assert.Equal(t, 1, h.remote.Len("sessions"))
}

// flakyStore odrzuca failOn-te wywołanie Upsert dla kolekcji (i id, jeśli podane)
type flakyStore struct {
	remote.Store
	collection string
	id         string
	failOn     int

	mu    sync.Mutex
	calls int
}

func (f *flakyStore) Upsert(ctx context.Context, collection, id string, body json.RawMessage) (string, error) {
	if collection == f.collection && (f.id == "" || id == f.id) {
		f.mu.Lock()
		f.calls++
		n := f.calls
		f.mu.Unlock()
		if n == f.failOn {
			return "", errors.New("remote rejected write")
		}
	}
	return f.Store.Upsert(ctx, collection, id, body)
}

func TestFailureBlocksEntityInLaterBatches(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	c := db.Customer{Name: "old"}
	require.NoError(t, h.store.CreateCustomer(ctx, &c))
	h.customers(t, 9)
	c.Name = "new"
	require.NoError(t, h.store.UpdateCustomer(ctx, &c))
	h.s.remote = &flakyStore{Store: h.remote, collection: "customers", id: c.ID, failOn: 1}

	res, err := h.s.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Batches)
	assert.Equal(t, 9, res.Pushed)
	assert.Equal(t, 2, res.Failed)
	_, ok := h.remote.Get("customers", c.ID)
	assert.False(t, ok)

	failed, err := h.store.ListQueue(ctx, db.QueueError)
	require.NoError(t, err)
	require.Len(t, failed, 2)
	assert.Equal(t, db.ActionUpdate, failed[1].Action)
	assert.Contains(t, failed[1].Error, "waiting for failed queue item")

	res, err = h.s.ForceSync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Pushed)

	doc, ok := h.remote.Get("customers", c.ID)
	require.True(t, ok)
	var got db.Customer
	require.NoError(t, json.Unmarshal(doc.Body, &got))
	assert.Equal(t, "new", got.Name)
}

func TestOrderStaysPendingWhileUpdateFails(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	id, err := h.store.CreateOrderWithItems(ctx, &db.Order{OrderNumber: "D-1", Status: db.OrderDraft}, []db.OrderItem{
		{ProductID: "p1", Quantity: dec("1"), Price: dec("9.99")},
	})
	require.NoError(t, err)
	require.NoError(t, h.store.CompleteOrder(ctx, id))
	h.s.remote = &flakyStore{Store: h.remote, collection: "orders", failOn: 2}

	res, err := h.s.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Pushed)
	assert.Equal(t, 1, res.Failed)

	n, err := h.store.CountQueue(ctx, db.QueueError)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	local, err := h.store.GetOrderWithItems(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, db.SyncPending, local.SyncStatus)
	assert.NotEmpty(t, local.RemoteID)

	_, err = h.s.ForceSync(ctx)
	require.NoError(t, err)
	local, err = h.store.GetOrderWithItems(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, db.SyncSynced, local.SyncStatus)
	assert.NotNil(t, local.LastSynced)
}

func TestUnknownActionIsItemError(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	bad := db.SyncQueueItem{Type: db.KindOrder, Action: db.ActionDelete, Data: `{}`, Status: db.QueuePending}
	require.NoError(t, h.store.DB.Create(&bad).Error)
	h.customers(t, 1)

	res, err := h.s.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Pushed)

	it, err := h.store.GetQueueItem(ctx, bad.ID)
	require.NoError(t, err)
	require.NotNil(t, it)
	assert.Contains(t, it.Error, ErrUnknownAction.Error())

	_, err = Decode(bad)
	require.ErrorIs(t, err, ErrUnknownAction)
}

func TestBackoffRequeuesOnTimer(t *testing.T) {
	h := newHarness(t, func(c *conf.Config) {
		c.Retry.Policy = conf.RetryBackoff
		c.Retry.BaseSeconds = 60
	})
	ctx := context.Background()
	cs := h.customers(t, 1)
	h.remote.FailWith("customers", cs[0].ID, errors.New("nope"))

	_, err := h.s.Sync(ctx)
	require.NoError(t, err)
	h.remote.FailWith("customers", cs[0].ID, nil)

	// za wcześnie
	res, err := h.s.Sync(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Requeued)

	h.s.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	res, err = h.s.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Requeued)
	assert.Equal(t, 1, res.Pushed)
}

func TestRetryPolicyDelay(t *testing.T) {
	p := RetryPolicy{Mode: conf.RetryBackoff, MaxAttempts: 5, BaseDelay: time.Minute, MaxDelay: time.Hour}
	assert.Equal(t, time.Duration(0), p.Delay(0))
	assert.Equal(t, time.Minute, p.Delay(1))
	assert.Equal(t, 2*time.Minute, p.Delay(2))
	assert.Equal(t, 32*time.Minute, p.Delay(6))
	assert.Equal(t, time.Hour, p.Delay(7))
	assert.Equal(t, time.Hour, p.Delay(40))

	now := time.Now()
	last := now.Add(-90 * time.Second)
	assert.True(t, p.Due(db.SyncQueueItem{Attempts: 1, LastAttempt: &last}, now))
	assert.False(t, p.Due(db.SyncQueueItem{Attempts: 2, LastAttempt: &last}, now))
	assert.False(t, p.Due(db.SyncQueueItem{Attempts: 5, LastAttempt: &last}, now))

	p.Mode = conf.RetryManual
	assert.False(t, p.Due(db.SyncQueueItem{Attempts: 1, LastAttempt: &last}, now))
}

func TestEventsPublished(t *testing.T) {
	h := newHarness(t, func(c *conf.Config) { c.Terminal = "kasa-2" })
	rec := events.NewRecorder(4)
	h.s.SetPublisher(rec)
	h.customers(t, 2)

	_, err := h.s.Sync(context.Background())
	require.NoError(t, err)

	ev := <-rec.Events()
	assert.Equal(t, events.SyncCompleted, ev.Type)
	assert.Equal(t, 2, ev.Pushed)
	assert.Equal(t, "kasa-2", ev.Terminal)
}

// reentrantPublisher przy pierwszym evencie od razu woła ForceSync
type reentrantPublisher struct {
	s     *Syncer
	calls int
	inner *Result
}

func (r *reentrantPublisher) Publish(ctx context.Context, _ events.Event) error {
	r.calls++
	if r.calls == 1 {
		r.inner, _ = r.s.ForceSync(ctx)
	}
	return nil
}

func (r *reentrantPublisher) Close() error { return nil }

func TestPublishRunsAfterBusyRelease(t *testing.T) {
	h := newHarness(t, nil)
	pub := &reentrantPublisher{s: h.s}
	h.s.SetPublisher(pub)
	h.customers(t, 1)

	_, err := h.s.Sync(context.Background())
	require.NoError(t, err)
	require.NotNil(t, pub.inner)
	assert.Equal(t, SkipNone, pub.inner.Skipped)
	assert.Equal(t, 2, pub.calls)
}

func TestStartStopLoop(t *testing.T) {
	h := newHarness(t, func(c *conf.Config) { c.SyncIntervalSeconds = 1 })
	h.customers(t, 3)

	require.NoError(t, h.s.Start(context.Background()))
	assert.True(t, h.s.IsRunning())

	assert.Eventually(t, func() bool { return h.remote.Len("customers") == 3 }, 5*time.Second, 20*time.Millisecond)

	h.s.Stop()
	assert.False(t, h.s.IsRunning())
	h.s.Stop()
}
