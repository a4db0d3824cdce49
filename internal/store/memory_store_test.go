package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/stock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T) *MemoryStore {
	store := NewMemoryStore()
	t.Cleanup(func() { store.Close() })

	store.PutProduct(&domain.Product{ID: 1, Name: "Mug", Price: decimal.RequireFromString("9.99"), Stock: 5})
	store.PutProduct(&domain.Product{
		ID:    2,
		Name:  "Shirt",
		Price: decimal.RequireFromString("20.00"),
		Sizes: []domain.SizeVariant{
			{ID: 10, ProductID: 2, Label: "S", Stock: 1},
			{ID: 11, ProductID: 2, Label: "L", PriceAdjustment: decimal.RequireFromString("2.50"), Stock: 4},
		},
	})
	return store
}

func int64Ptr(v int64) *int64 { return &v }

func addLine(t *testing.T, store *MemoryStore, userID string, productID int64, sizeID *int64, qty int) *domain.Cart {
	t.Helper()
	cart, err := store.UpdateCart(context.Background(), userID, func(c *domain.Cart) error {
		c.Items = append(c.Items, domain.LineItem{ProductID: productID, SizeID: sizeID, Quantity: qty})
		return nil
	})
	require.NoError(t, err)
	return cart
}

func startCommit(t *testing.T, store *MemoryStore, userID string) *domain.CheckoutSession {
	t.Helper()
	cs := &domain.CheckoutSession{ID: "chk-" + userID, UserID: userID, Status: domain.CheckoutStatusCommitting}
	require.NoError(t, store.CreateSession(context.Background(), cs))
	return cs
}

func TestMemoryStore_GetProduct_ReturnsCopy(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	p, err := store.GetProduct(ctx, 2)
	require.NoError(t, err)
	p.Sizes[0].Stock = 100

	again, err := store.GetProduct(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, again.Sizes[0].Stock)

	_, err = store.GetProduct(ctx, 99)
	assert.ErrorIs(t, err, domain.ErrProductNotFound)
}

func TestMemoryStore_GetProducts_SkipsUnknown(t *testing.T) {
	store := setupStore(t)

	products, err := store.GetProducts(context.Background(), []int64{1, 2, 3})
	require.NoError(t, err)
	assert.Len(t, products, 2)
	assert.Equal(t, "Mug", products[1].Name)
}

func TestMemoryStore_UpdateCart_CreatesCartAndAssignsLineIDs(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	_, err := store.GetCart(ctx, "u1")
	assert.ErrorIs(t, err, domain.ErrCartNotFound)

	cart := addLine(t, store, "u1", 1, nil, 2)
	require.Len(t, cart.Items, 1)
	assert.NotZero(t, cart.ID)
	assert.NotZero(t, cart.Items[0].ID)
	assert.False(t, cart.Items[0].AddedAt.IsZero())

	stored, err := store.GetCart(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, cart.Items, stored.Items)
}

func TestMemoryStore_UpdateCart_ErrorLeavesCartUnchanged(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	addLine(t, store, "u1", 1, nil, 2)

	boom := errors.New("boom")
	_, err := store.UpdateCart(ctx, "u1", func(c *domain.Cart) error {
		c.Items[0].Quantity = 50
		c.Items = append(c.Items, domain.LineItem{ProductID: 2, Quantity: 1})
		return boom
	})
	assert.ErrorIs(t, err, boom)

	stored, err := store.GetCart(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, stored.Items, 1)
	assert.Equal(t, 2, stored.Items[0].Quantity)
}

func TestMemoryStore_UpdateCart_SerializesPerUser(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	addLine(t, store, "u1", 1, nil, 1)

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.UpdateCart(ctx, "u1", func(c *domain.Cart) error {
				c.Items[0].Quantity++
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	cart, err := store.GetCart(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 51, cart.Items[0].Quantity)
}

func TestMemoryStore_CreateSession_DuplicateKey(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	first := &domain.CheckoutSession{ID: "a", UserID: "u1", IdempotencyKey: "key-1", Status: domain.CheckoutStatusValidating}
	require.NoError(t, store.CreateSession(ctx, first))

	dup := &domain.CheckoutSession{ID: "b", UserID: "u1", IdempotencyKey: "key-1", Status: domain.CheckoutStatusValidating}
	assert.ErrorIs(t, store.CreateSession(ctx, dup), domain.ErrDuplicateIdempotencyKey)

	otherUser := &domain.CheckoutSession{ID: "c", UserID: "u2", IdempotencyKey: "key-1", Status: domain.CheckoutStatusValidating}
	assert.NoError(t, store.CreateSession(ctx, otherUser))

	found, err := store.GetSessionByIdempotencyKey(ctx, "u1", "key-1")
	require.NoError(t, err)
	assert.Equal(t, "a", found.ID)

	_, err = store.GetSessionByIdempotencyKey(ctx, "u1", "missing")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestMemoryStore_CreateSession_OneActivePerUser(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	active := &domain.CheckoutSession{ID: "a", UserID: "u1", Status: domain.CheckoutStatusAwaitingPayment}
	require.NoError(t, store.CreateSession(ctx, active))

	second := &domain.CheckoutSession{ID: "b", UserID: "u1", Status: domain.CheckoutStatusValidating}
	assert.ErrorIs(t, store.CreateSession(ctx, second), domain.ErrCheckoutActive)
	assert.NoError(t, store.CreateSession(ctx, &domain.CheckoutSession{ID: "c", UserID: "u2", Status: domain.CheckoutStatusValidating}))

	active.Status = domain.CheckoutStatusFailed
	require.NoError(t, store.TransitionSession(ctx, active, domain.CheckoutStatusAwaitingPayment))
	assert.NoError(t, store.CreateSession(ctx, second))
}

func TestMemoryStore_TransitionSession_ComparesStatus(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	cs := &domain.CheckoutSession{ID: "a", UserID: "u1", Status: domain.CheckoutStatusValidating}
	require.NoError(t, store.CreateSession(ctx, cs))

	cs.Status = domain.CheckoutStatusAwaitingPayment
	require.NoError(t, store.TransitionSession(ctx, cs, domain.CheckoutStatusValidating))

	stale := *cs
	stale.Status = domain.CheckoutStatusFailed
	err := store.TransitionSession(ctx, &stale, domain.CheckoutStatusValidating)
	assert.ErrorIs(t, err, domain.ErrSessionStateChanged)

	stored, err := store.GetSession("a")
	require.NoError(t, err)
	assert.Equal(t, domain.CheckoutStatusAwaitingPayment, stored.Status)
}

func TestMemoryStore_GetStuckSessions(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateSession(ctx, &domain.CheckoutSession{ID: "a", UserID: "u1", Status: domain.CheckoutStatusAwaitingPayment}))
	require.NoError(t, store.CreateSession(ctx, &domain.CheckoutSession{ID: "b", UserID: "u1", Status: domain.CheckoutStatusCompleted}))

	stuck, err := store.GetStuckSessions(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	assert.Equal(t, "a", stuck[0].ID)

	stuck, err = store.GetStuckSessions(ctx, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Empty(t, stuck)
}

func TestMemoryStore_CommitOrder_Success(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	cart := addLine(t, store, "u1", 1, nil, 2)
	cart = addLine(t, store, "u1", 2, int64Ptr(11), 3)
	startCommit(t, store, "u1")

	order, err := store.CommitOrder(ctx, &domain.Commit{
		SessionID: "chk-u1",
		Order: &domain.Order{
			OrderNumber: "20261019120000ABCDEF",
			UserID:      "u1",
			Items: []domain.OrderItem{
				{ProductID: int64Ptr(1), Price: decimal.RequireFromString("9.99"), Quantity: 2},
				{ProductID: int64Ptr(2), Size: "L", Price: decimal.RequireFromString("22.50"), Quantity: 3},
			},
		},
		Decrements: []domain.StockDecrement{
			{LineID: cart.Items[0].ID, ProductID: 1, Quantity: 2},
			{LineID: cart.Items[1].ID, ProductID: 2, SizeID: int64Ptr(11), Quantity: 3},
		},
		CartLineIDs: []int64{cart.Items[0].ID, cart.Items[1].ID},
		Event:       domain.OutboxEvent{AggregateID: "20261019120000ABCDEF", EventType: domain.EventOrderCreated, Payload: []byte(`{}`)},
	})
	require.NoError(t, err)
	assert.NotZero(t, order.ID)
	assert.NotZero(t, order.Items[0].ID)

	mug, _ := store.GetProduct(ctx, 1)
	shirt, _ := store.GetProduct(ctx, 2)
	assert.Equal(t, 3, mug.Stock)
	assert.Equal(t, 1, shirt.Sizes[0].Stock)
	assert.Equal(t, 1, shirt.Sizes[1].Stock)

	emptied, err := store.GetCart(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, emptied.Items)

	session, err := store.GetSession("chk-u1")
	require.NoError(t, err)
	assert.Equal(t, domain.CheckoutStatusCompleted, session.Status)
	require.NotNil(t, session.OrderID)
	assert.Equal(t, order.ID, *session.OrderID)

	events, err := store.GetUnprocessedEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventOrderCreated, events[0].EventType)

	require.NoError(t, store.MarkEventAsProcessed(ctx, events[0].ID))
	events, err = store.GetUnprocessedEvents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestMemoryStore_CommitOrder_KeepsLinesOutsideSnapshot(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	cart := addLine(t, store, "u1", 1, nil, 1)
	snapshotLine := cart.Items[0].ID
	addLine(t, store, "u1", 2, int64Ptr(10), 1)
	startCommit(t, store, "u1")

	_, err := store.CommitOrder(ctx, &domain.Commit{
		SessionID:   "chk-u1",
		Order:       &domain.Order{UserID: "u1", Items: []domain.OrderItem{{ProductID: int64Ptr(1), Quantity: 1}}},
		Decrements:  []domain.StockDecrement{{LineID: snapshotLine, ProductID: 1, Quantity: 1}},
		CartLineIDs: []int64{snapshotLine},
	})
	require.NoError(t, err)

	remaining, err := store.GetCart(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, remaining.Items, 1)
	assert.Equal(t, int64(2), remaining.Items[0].ProductID)
}

func TestMemoryStore_CommitOrder_InsufficientStockChangesNothing(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	cart := addLine(t, store, "u1", 1, nil, 2)
	cart = addLine(t, store, "u1", 2, int64Ptr(10), 2)
	startCommit(t, store, "u1")

	_, err := store.CommitOrder(ctx, &domain.Commit{
		SessionID: "chk-u1",
		Order:     &domain.Order{UserID: "u1"},
		Decrements: []domain.StockDecrement{
			{LineID: cart.Items[0].ID, ProductID: 1, ProductName: "Mug", Quantity: 2},
			{LineID: cart.Items[1].ID, ProductID: 2, SizeID: int64Ptr(10), ProductName: "Shirt", SizeLabel: "S", Quantity: 2},
		},
		CartLineIDs: []int64{cart.Items[0].ID, cart.Items[1].ID},
	})

	var verr *stock.ViolationsError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Violations, 1)
	assert.Equal(t, cart.Items[1].ID, verr.Violations[0].LineID)
	assert.Equal(t, 1, verr.Violations[0].Available)

	mug, _ := store.GetProduct(ctx, 1)
	assert.Equal(t, 5, mug.Stock)

	orders, err := store.ListOrders(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, orders)

	stored, err := store.GetCart(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, stored.Items, 2)

	session, err := store.GetSession("chk-u1")
	require.NoError(t, err)
	assert.Equal(t, domain.CheckoutStatusCommitting, session.Status)
}

func TestMemoryStore_CommitOrder_SameLinesTwice(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	cart := addLine(t, store, "u1", 1, nil, 2)
	lineID := cart.Items[0].ID

	commit := func(sessionID string) (*domain.Order, error) {
		require.NoError(t, store.CreateSession(ctx, &domain.CheckoutSession{ID: sessionID, UserID: "u1", Status: domain.CheckoutStatusCommitting}))
		return store.CommitOrder(ctx, &domain.Commit{
			SessionID:   sessionID,
			Order:       &domain.Order{UserID: "u1", OrderNumber: sessionID},
			Decrements:  []domain.StockDecrement{{LineID: lineID, ProductID: 1, Quantity: 2}},
			CartLineIDs: []int64{lineID},
		})
	}

	_, err := commit("first")
	require.NoError(t, err)
	before, err := store.GetProduct(ctx, 1)
	require.NoError(t, err)

	_, err = commit("second")
	assert.ErrorIs(t, err, domain.ErrCartChanged)

	after, err := store.GetProduct(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, before.Stock, after.Stock)
	orders, err := store.ListOrders(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, orders, 1)
	session, err := store.GetSession("second")
	require.NoError(t, err)
	assert.Equal(t, domain.CheckoutStatusCommitting, session.Status)
}

func TestMemoryStore_CommitOrder_RequiresCommittingSession(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateSession(ctx, &domain.CheckoutSession{ID: "a", UserID: "u1", Status: domain.CheckoutStatusFailed}))

	_, err := store.CommitOrder(ctx, &domain.Commit{SessionID: "a", Order: &domain.Order{UserID: "u1"}})
	assert.ErrorIs(t, err, domain.ErrSessionStateChanged)

	_, err = store.CommitOrder(ctx, &domain.Commit{SessionID: "missing", Order: &domain.Order{UserID: "u1"}})
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestMemoryStore_ListOrders_NewestFirst(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	for _, user := range []string{"u1", "u1-second"} {
		require.NoError(t, store.CreateSession(ctx, &domain.CheckoutSession{ID: user, UserID: "u1", Status: domain.CheckoutStatusCommitting}))
		_, err := store.CommitOrder(ctx, &domain.Commit{SessionID: user, Order: &domain.Order{UserID: "u1", OrderNumber: user}})
		require.NoError(t, err)
	}

	orders, err := store.ListOrders(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "u1-second", orders[0].OrderNumber)

	_, err = store.GetOrder(ctx, 999)
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestMemoryStore_DeleteProduct_KeepsOrderHistory(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	addLine(t, store, "u2", 1, nil, 1)
	startCommit(t, store, "u1")
	order, err := store.CommitOrder(ctx, &domain.Commit{
		SessionID: "chk-u1",
		Order: &domain.Order{UserID: "u1", Items: []domain.OrderItem{
			{ProductID: int64Ptr(1), Price: decimal.RequireFromString("9.99"), Quantity: 1},
		}},
	})
	require.NoError(t, err)

	store.DeleteProduct(1)

	stored, err := store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.Items[0].ProductID)
	assert.True(t, stored.Items[0].Price.Equal(decimal.RequireFromString("9.99")))

	cart, err := store.GetCart(ctx, "u2")
	require.NoError(t, err)
	assert.Empty(t, cart.Items)
}

func TestMemoryStore_MarkEventAsProcessed_Unknown(t *testing.T) {
	store := setupStore(t)
	assert.ErrorIs(t, store.MarkEventAsProcessed(context.Background(), 42), domain.ErrEventNotFound)
}
