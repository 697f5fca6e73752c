package db

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Handle {
	t.Helper()
	h, err := OpenAt(t.TempDir(), "sqlite")
	require.NoError(t, err)
	require.NoError(t, h.Migrate())
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestCreateOrderWithItemsQueuesSnapshot(t *testing.T) {
	h := newTestStore(t)
	ctx := context.Background()

	order := &Order{OrderNumber: "A-1", UserID: "u1"}
	items := []OrderItem{
		{ProductID: "p1", Quantity: dec("2"), Price: dec("15.00")},
		{ProductID: "p2", Quantity: dec("1"), Price: dec("15.00")},
	}
	id, err := h.CreateOrderWithItems(ctx, order, items)
	require.NoError(t, err)
	require.NotZero(t, id)
	assert.NotEmpty(t, order.RemoteID)

	got, err := h.GetOrderWithItems(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Len(t, got.Items, 2)
	assert.Equal(t, "45.00", got.Total.StringFixed(2))
	assert.Equal(t, SyncPending, got.SyncStatus)

	pending, err := h.GetPendingQueueItems(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, KindOrder, pending[0].Type)
	assert.Equal(t, ActionCreate, pending[0].Action)

	var snap Order
	require.NoError(t, json.Unmarshal([]byte(pending[0].Data), &snap))
	assert.Equal(t, id, snap.ID)
	assert.Equal(t, order.RemoteID, snap.RemoteID)
	assert.Len(t, snap.Items, 2)
}

func TestCreateOrderWithItemsIsAtomic(t *testing.T) {
	h := newTestStore(t)
	ctx := context.Background()

	// druga pozycja odrzucona przez hook już po zapisaniu nagłówka
	_, err := h.CreateOrderWithItems(ctx, &Order{OrderNumber: "A-2"}, []OrderItem{
		{ProductID: "p1", Quantity: dec("1"), Price: dec("10")},
		{ProductID: "p2", Quantity: dec("0"), Price: dec("10")},
	})
	require.ErrorIs(t, err, ErrInvalidItem)

	orders, err := h.ListOrders(ctx, OrderFilter{})
	require.NoError(t, err)
	assert.Empty(t, orders)

	var items int64
	require.NoError(t, h.DB.Model(&OrderItem{}).Count(&items).Error)
	assert.Zero(t, items)

	n, err := h.CountQueue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCompleteOrder(t *testing.T) {
	h := newTestStore(t)
	ctx := context.Background()

	id, err := h.CreateOrderWithItems(ctx, &Order{Status: OrderDraft}, []OrderItem{
		{ProductID: "p1", Quantity: dec("1"), Price: dec("3.50")},
	})
	require.NoError(t, err)

	require.NoError(t, h.CompleteOrder(ctx, id))
	require.ErrorIs(t, h.CompleteOrder(ctx, id), ErrOrderImmutable)
	require.ErrorIs(t, h.CompleteOrder(ctx, 999), ErrNotFound)

	pending, err := h.GetPendingQueueItems(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, ActionUpdate, pending[1].Action)
}

func TestTicketReplaceItems(t *testing.T) {
	h := newTestStore(t)
	ctx := context.Background()

	ticket := &Ticket{TicketNumber: "T-1", UserID: "u1"}
	id, err := h.CreateOrUpdateTicket(ctx, ticket, []TicketItem{
		{ProductID: "p1", Quantity: dec("1"), Price: dec("5")},
		{ProductID: "p2", Quantity: dec("2"), Price: dec("5")},
	})
	require.NoError(t, err)
	remoteID := ticket.RemoteID
	require.NotEmpty(t, remoteID)

	ticket.Status = "parked"
	ticket.Total = decimal.Zero
	_, err = h.CreateOrUpdateTicket(ctx, ticket, []TicketItem{
		{ProductID: "p3", Quantity: dec("3"), Price: dec("2")},
	})
	require.NoError(t, err)

	got, err := h.GetTicketWithItems(ctx, id)
	require.NoError(t, err)
	require.Len(t, got.Items, 1)
	assert.Equal(t, "p3", got.Items[0].ProductID)
	assert.Equal(t, "parked", got.Status)
	assert.Equal(t, remoteID, got.RemoteID)
	assert.Equal(t, "6", got.Total.String())

	pending, err := h.GetPendingQueueItems(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, ActionCreate, pending[0].Action)
	assert.Equal(t, ActionUpdate, pending[1].Action)

	require.NoError(t, h.DeleteTicket(ctx, id))
	require.NoError(t, h.DeleteTicket(ctx, id)) // drugi raz no-op

	got, err = h.GetTicketWithItems(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, got)

	n, err := h.CountQueue(ctx, QueuePending)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}

func TestUpdateMissingTicket(t *testing.T) {
	h := newTestStore(t)
	_, err := h.CreateOrUpdateTicket(context.Background(), &Ticket{ID: 42}, nil)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestQueueLifecycle(t *testing.T) {
	h := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, h.CreateCustomer(ctx, &Customer{Name: "c"}))
	}
	pending, err := h.GetPendingQueueItems(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Less(t, pending[0].ID, pending[1].ID)

	require.NoError(t, h.MarkQueueItemSynced(ctx, pending[0].ID))
	require.NoError(t, h.MarkQueueItemError(ctx, pending[1].ID, "boom"))
	require.NoError(t, h.MarkQueueItemError(ctx, pending[1].ID, "boom again"))

	failed, err := h.GetQueueItem(ctx, pending[1].ID)
	require.NoError(t, err)
	assert.Equal(t, QueueError, failed.Status)
	assert.Equal(t, 2, failed.Attempts)
	assert.Equal(t, "boom again", failed.Error)
	assert.NotNil(t, failed.LastAttempt)

	purged, err := h.PurgeSyncedQueueItems(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, purged)

	missing, err := h.GetQueueItem(ctx, pending[0].ID)
	require.NoError(t, err)
	assert.Nil(t, missing)

	n, err := h.RequeueErrored(ctx, func(it SyncQueueItem) bool { return it.Attempts < 2 })
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = h.RequeueErrored(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	left, err := h.CountQueue(ctx, QueuePending)
	require.NoError(t, err)
	assert.EqualValues(t, 2, left)
}

func TestSettingsAndCursor(t *testing.T) {
	h := newTestStore(t)
	ctx := context.Background()

	_, ok, err := h.GetSetting(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = h.GetLastSyncTime(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, h.SetSetting(ctx, "terminal", "K1"))
	require.NoError(t, h.SetSetting(ctx, "terminal", "K2"))
	v, ok, err := h.GetSetting(ctx, "terminal")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "K2", v)

	ts := time.Date(2026, 3, 1, 12, 30, 0, 123, time.UTC)
	require.NoError(t, h.SetLastSyncTime(ctx, ts))
	got, ok, err := h.GetLastSyncTime(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, ts.Equal(got))
}

func TestUpsertManyDoesNotQueue(t *testing.T) {
	h := newTestStore(t)
	ctx := context.Background()

	n, err := h.UpsertMany(ctx, KindProduct, []Product{
		{ID: "p1", Name: "Chleb", Price: dec("4.20")},
		{ID: "p2", Name: "Mleko", Price: dec("3.10")},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = h.UpsertMany(ctx, KindProduct, []Product{{ID: "p1", Name: "Chleb razowy", Price: dec("5.00")}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	p, err := h.GetProduct(ctx, "p1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "Chleb razowy", p.Name)
	assert.Equal(t, "remote", p.Source)

	_, err = h.UpsertMany(ctx, KindUser, []User{{ID: "u1", Name: "Anna", PIN: "1234"}})
	require.NoError(t, err)
	u, err := h.GetUserByPIN(ctx, "1234")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.NotNil(t, u.LastSynced)

	_, err = h.UpsertMany(ctx, KindCategory, []Product{{ID: "x"}})
	require.ErrorIs(t, err, ErrUnknownKind)
	_, err = h.UpsertMany(ctx, KindOrder, []Order{{}})
	require.ErrorIs(t, err, ErrUnknownKind)

	q, err := h.CountQueue(ctx)
	require.NoError(t, err)
	assert.Zero(t, q)
}

func TestReadsNeverFailOnMissing(t *testing.T) {
	h := newTestStore(t)
	ctx := context.Background()

	o, err := h.GetOrderWithItems(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, o)

	p, err := h.GetProductByBarcode(ctx, "590000")
	require.NoError(t, err)
	assert.Nil(t, p)

	c, err := h.GetCustomer(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, c)

	s, err := h.CurrentSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, s)

	rid, err := h.RemoteIDFor(ctx, KindPayment, 7)
	require.NoError(t, err)
	assert.Empty(t, rid)
}

func TestRecordRemoteIDBackfill(t *testing.T) {
	h := newTestStore(t)
	ctx := context.Background()

	pid, err := h.CreatePayment(ctx, &Payment{OrderID: 1, Method: "cash", Amount: dec("45.00")})
	require.NoError(t, err)

	rid, err := h.RemoteIDFor(ctx, KindPayment, pid)
	require.NoError(t, err)
	assert.Empty(t, rid)

	queued, err := h.GetPendingQueueItems(ctx)
	require.NoError(t, err)
	require.Len(t, queued, 1)

	require.NoError(t, h.RecordRemoteID(ctx, KindPayment, pid, "pay-77", queued[0].ID))
	rid, err = h.RemoteIDFor(ctx, KindPayment, pid)
	require.NoError(t, err)
	assert.Equal(t, "pay-77", rid)

	payments, err := h.ListPayments(ctx, 1)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, SyncSynced, payments[0].SyncStatus)
	assert.NotNil(t, payments[0].LastSynced)

	require.ErrorIs(t, h.RecordRemoteID(ctx, KindProduct, 1, "x", 0), ErrUnknownKind)
}

func TestRecordRemoteIDKeepsPendingWithOpenItems(t *testing.T) {
	h := newTestStore(t)
	ctx := context.Background()

	id, err := h.CreateOrderWithItems(ctx, &Order{OrderNumber: "D-2", Status: OrderDraft}, nil)
	require.NoError(t, err)
	require.NoError(t, h.CompleteOrder(ctx, id))
	queued, err := h.GetPendingQueueItems(ctx)
	require.NoError(t, err)
	require.Len(t, queued, 2)

	// create przeszedł, update jeszcze w kolejce
	require.NoError(t, h.RecordRemoteID(ctx, KindOrder, id, "ord-1", queued[0].ID))
	o, err := h.GetOrderWithItems(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "ord-1", o.RemoteID)
	assert.Equal(t, SyncPending, o.SyncStatus)

	require.NoError(t, h.MarkQueueItemSynced(ctx, queued[0].ID))
	require.NoError(t, h.MarkQueueItemError(ctx, queued[1].ID, "boom"))
	require.NoError(t, h.RecordRemoteID(ctx, KindOrder, id, "", queued[0].ID))
	o, err = h.GetOrderWithItems(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, SyncPending, o.SyncStatus)

	require.NoError(t, h.RecordRemoteID(ctx, KindOrder, id, "", queued[1].ID))
	o, err = h.GetOrderWithItems(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, SyncSynced, o.SyncStatus)
	assert.Equal(t, "ord-1", o.RemoteID)
}

func TestDeleteMissingCustomerIsNoop(t *testing.T) {
	h := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, h.DeleteCustomer(ctx, "ghost"))
	n, err := h.CountQueue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	c := Customer{Name: "Ola"}
	require.NoError(t, h.CreateCustomer(ctx, &c))
	require.NoError(t, h.DeleteCustomer(ctx, c.ID))
	require.NoError(t, h.DeleteCustomer(ctx, c.ID))

	items, err := h.ListQueue(ctx, QueuePending)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, ActionDelete, items[1].Action)
}

func TestSessionsAndStock(t *testing.T) {
	h := newTestStore(t)
	ctx := context.Background()

	s, err := h.OpenSession(ctx, "u1", dec("200"))
	require.NoError(t, err)
	cur, err := h.CurrentSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.Equal(t, s.ID, cur.ID)

	_, err = h.CloseSession(ctx, s.ID, dec("245"))
	require.NoError(t, err)
	_, err = h.CloseSession(ctx, s.ID, dec("245"))
	require.Error(t, err)

	require.NoError(t, h.SaveProducts(ctx, Product{ID: "p1", Name: "Woda", Stock: dec("10")}))
	p, err := h.AdjustStock(ctx, "p1", dec("-3"))
	require.NoError(t, err)
	assert.Equal(t, "7", p.Stock.String())
	_, err = h.AdjustStock(ctx, "zz", dec("1"))
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, h.DeleteProduct(ctx, "p1"))
	require.NoError(t, h.DeleteProduct(ctx, "p1"))

	items, err := h.ListQueue(ctx, QueuePending)
	require.NoError(t, err)
	var kinds []string
	for _, it := range items {
		kinds = append(kinds, string(it.Type)+"/"+string(it.Action))
	}
	assert.Equal(t, []string{
		"session/create", "session/update",
		"product/create", "product/update", "product/delete",
	}, kinds)
}

func TestClearAllDataKeepsQueue(t *testing.T) {
	h := newTestStore(t)
	ctx := context.Background()

	_, err := h.CreateOrderWithItems(ctx, &Order{}, []OrderItem{{ProductID: "p1", Quantity: dec("1"), Price: dec("1")}})
	require.NoError(t, err)
	require.NoError(t, h.SetSetting(ctx, "k", "v"))

	require.NoError(t, h.ClearAllData(ctx))

	orders, err := h.ListOrders(ctx, OrderFilter{})
	require.NoError(t, err)
	assert.Empty(t, orders)

	q, err := h.CountQueue(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, q)
	_, ok, err := h.GetSetting(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
}
