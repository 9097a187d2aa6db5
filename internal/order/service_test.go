package order_test

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"ms-restaurant/internal/events"
	"ms-restaurant/internal/logger"
	"ms-restaurant/internal/models"
	"ms-restaurant/internal/order"
	"ms-restaurant/internal/order/db"
)

// Mock implementations
type MockDBLayer struct {
	mock.Mock
}

func (m *MockDBLayer) GetMenuItems(ctx context.Context, ids []string) (map[string]models.MenuItem, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]models.MenuItem), args.Error(1)
}

func (m *MockDBLayer) CreateOrder(ctx context.Context, o *models.Order, entry *models.StatusLogEntry) error {
	args := m.Called(ctx, o, entry)
	return args.Error(0)
}

func (m *MockDBLayer) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Order), args.Error(1)
}

func (m *MockDBLayer) ListOrders(ctx context.Context, filter models.OrderFilter) ([]models.Order, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Order), args.Error(1)
}

func (m *MockDBLayer) ApplyStatusChange(ctx context.Context, change models.StatusChange) (bool, error) {
	args := m.Called(ctx, change)
	return args.Bool(0), args.Error(1)
}

func (m *MockDBLayer) SetItemReady(ctx context.Context, change models.ItemReadyChange) (bool, error) {
	args := m.Called(ctx, change)
	return args.Bool(0), args.Error(1)
}

func (m *MockDBLayer) MarkPaid(ctx context.Context, orderID string, at time.Time) (bool, error) {
	args := m.Called(ctx, orderID, at)
	return args.Bool(0), args.Error(1)
}

func (m *MockDBLayer) History(ctx context.Context, orderID string) ([]models.StatusLogEntry, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.StatusLogEntry), args.Error(1)
}

func (m *MockDBLayer) PurgeOrders(ctx context.Context, before time.Time, actorID string, at time.Time) (int, error) {
	args := m.Called(ctx, before, actorID, at)
	return args.Int(0), args.Error(1)
}

type MockSink struct {
	mock.Mock
}

func (m *MockSink) Publish(ctx context.Context, e events.Event) error {
	args := m.Called(ctx, e)
	return args.Error(0)
}

// recordingSink keeps every published event in order.
type recordingSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingSink) Publish(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingSink) take() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.events
	r.events = nil
	return out
}

var (
	waiter      = models.Actor{UserID: "waiter-1", Role: models.RoleWaiter}
	otherWaiter = models.Actor{UserID: "waiter-2", Role: models.RoleWaiter}
	cook        = models.Actor{UserID: "cook-1", Role: models.RoleCook}
	admin       = models.Actor{UserID: "admin-1", Role: models.RoleAdmin}
	director    = models.Actor{UserID: "director-1", Role: models.RoleDirector}
)

type fixture struct {
	svc   *order.OrderService
	db    *db.DB
	sink  *recordingSink
	clock time.Time
}

func setupService(t *testing.T) *fixture {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)
	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = bunDB.Close() })

	ctx := context.Background()
	require.NoError(t, db.CreateSchema(ctx, bunDB))
	require.NoError(t, db.SeedMenu(ctx, bunDB, []models.MenuItem{
		{ID: "soup", Name: "Soup", Price: decimal.RequireFromString("4.50"), Available: true},
		{ID: "steak", Name: "Steak", Price: decimal.RequireFromString("21.00"), Available: true},
		{ID: "pie", Name: "Pie", Price: decimal.RequireFromString("6.25"), Available: true},
		{ID: "special", Name: "Special", Price: decimal.RequireFromString("9.99"), Available: false},
	}))

	f := &fixture{db: db.New(bunDB), sink: &recordingSink{}, clock: time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)}
	f.svc = order.NewOrderService(f.db, order.NewLocalLocker(), f.sink, logger.NewNopLogger())
	f.svc.Now = func() time.Time {
		f.clock = f.clock.Add(time.Minute)
		return f.clock
	}
	return f
}

func (f *fixture) create(t *testing.T, lines ...models.OrderItemRequest) *models.Order {
	t.Helper()
	if len(lines) == 0 {
		lines = []models.OrderItemRequest{{MenuItemID: "soup", Quantity: 1}}
	}
	o, err := f.svc.CreateOrder(context.Background(), waiter, models.CreateOrderRequest{TableNumber: 7, Items: lines})
	require.NoError(t, err)
	f.sink.take()
	return o
}

func (f *fixture) history(t *testing.T, id string) []models.StatusLogEntry {
	t.Helper()
	entries, err := f.svc.History(context.Background(), id)
	require.NoError(t, err)
	return entries
}

func TestCreateOrder(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	o, err := f.svc.CreateOrder(ctx, waiter, models.CreateOrderRequest{
		TableNumber: 12,
		Notes:       " no onions ",
		Items: []models.OrderItemRequest{
			{MenuItemID: "soup", Quantity: 2},
			{MenuItemID: "steak", Quantity: 1, Notes: "medium"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, models.StatusNew, o.Status)
	assert.Equal(t, "waiter-1", o.WaiterID)
	assert.Equal(t, "no onions", o.Notes)
	assert.True(t, o.TotalAmount.Equal(decimal.RequireFromString("30.00")))
	require.Len(t, o.Items, 2)
	assert.True(t, o.Items[0].PriceAtOrder.Equal(decimal.RequireFromString("4.50")))

	stored, err := f.svc.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, stored.TotalAmount.Equal(o.TotalAmount))

	history := f.history(t, o.ID)
	require.Len(t, history, 1)
	assert.Equal(t, models.StatusNew, history[0].Status)
	assert.Nil(t, history[0].PreviousStatus)

	published := f.sink.take()
	require.Len(t, published, 1)
	assert.Equal(t, events.KindOrderNew, published[0].Kind())
	assert.Equal(t, []events.Target{events.ToRole(models.RoleCook), events.ToRole(models.RoleAdmin)}, published[0].Targets)
}

func TestCreateOrderValidation(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		actor models.Actor
		req   models.CreateOrderRequest
		want  error
	}{
		{"cook cannot create", cook, models.CreateOrderRequest{TableNumber: 1, Items: []models.OrderItemRequest{{MenuItemID: "soup", Quantity: 1}}}, order.ErrForbidden},
		{"table must be positive", waiter, models.CreateOrderRequest{TableNumber: 0, Items: []models.OrderItemRequest{{MenuItemID: "soup", Quantity: 1}}}, order.ErrValidation},
		{"needs items", waiter, models.CreateOrderRequest{TableNumber: 1}, order.ErrValidation},
		{"quantity too low", waiter, models.CreateOrderRequest{TableNumber: 1, Items: []models.OrderItemRequest{{MenuItemID: "soup", Quantity: 0}}}, order.ErrValidation},
		{"quantity too high", waiter, models.CreateOrderRequest{TableNumber: 1, Items: []models.OrderItemRequest{{MenuItemID: "soup", Quantity: 100}}}, order.ErrValidation},
		{"unknown menu item", waiter, models.CreateOrderRequest{TableNumber: 1, Items: []models.OrderItemRequest{{MenuItemID: "caviar", Quantity: 1}}}, order.ErrValidation},
		{"unavailable menu item", waiter, models.CreateOrderRequest{TableNumber: 1, Items: []models.OrderItemRequest{{MenuItemID: "special", Quantity: 1}}}, order.ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.CreateOrder(ctx, tc.actor, tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	orders, err := f.svc.ListOrders(ctx, models.OrderFilter{})
	require.NoError(t, err)
	assert.Empty(t, orders)
	assert.Empty(t, f.sink.take())
}

func TestHappyPathLifecycle(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	o := f.create(t)

	res, err := f.svc.ChangeStatus(ctx, cook, o.ID, models.StatusAccepted, "")
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, models.StatusNew, res.PreviousStatus)

	_, err = f.svc.ChangeStatus(ctx, cook, o.ID, models.StatusPreparing, "")
	require.NoError(t, err)

	_, err = f.svc.ChangeStatus(ctx, cook, o.ID, models.StatusReady, "")
	assert.ErrorIs(t, err, order.ErrItemsNotReady)
	assert.ErrorIs(t, err, order.ErrInvalidTransition)

	toggled, err := f.svc.ToggleItemReady(ctx, cook, o.ID, o.Items[0].ID)
	require.NoError(t, err)
	assert.True(t, toggled.OrderTransitioned)
	assert.Equal(t, models.StatusReady, toggled.Order.Status)
	require.NotNil(t, toggled.Order.ActualReadyTime)

	res, err = f.svc.ChangeStatus(ctx, waiter, o.ID, models.StatusDelivered, "")
	require.NoError(t, err)
	require.NotNil(t, res.Order.DeliveredTime)

	paid, err := f.svc.MarkPaid(ctx, admin, o.ID)
	require.NoError(t, err)
	assert.True(t, paid.Changed)
	assert.True(t, paid.Order.Paid)

	history := f.history(t, o.ID)
	var statuses []models.Status
	for _, e := range history {
		statuses = append(statuses, e.Status)
	}
	assert.Equal(t, []models.Status{
		models.StatusNew, models.StatusAccepted, models.StatusPreparing, models.StatusReady, models.StatusDelivered,
	}, statuses)

	stored, err := f.svc.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDelivered, stored.Status)
	assert.True(t, stored.Paid)
}

func TestThreeItemOrderBecomesReadyOnce(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	o := f.create(t,
		models.OrderItemRequest{MenuItemID: "soup", Quantity: 1},
		models.OrderItemRequest{MenuItemID: "steak", Quantity: 1},
		models.OrderItemRequest{MenuItemID: "pie", Quantity: 3},
	)
	_, err := f.svc.ChangeStatus(ctx, cook, o.ID, models.StatusPreparing, "")
	require.NoError(t, err)
	f.sink.take()

	for i, item := range o.Items {
		res, err := f.svc.ToggleItemReady(ctx, cook, o.ID, item.ID)
		require.NoError(t, err)
		assert.True(t, res.ItemUpdated)
		assert.Equal(t, i == len(o.Items)-1, res.OrderTransitioned)
	}

	var ready []events.Event
	for _, e := range f.sink.take() {
		if e.Kind() == events.KindOrderReady {
			ready = append(ready, e)
		}
	}
	require.Len(t, ready, 1)
	assert.Equal(t, []events.Target{events.ToUser("waiter-1")}, ready[0].Targets)
	payload := ready[0].Payload.(events.OrderReady)
	assert.Equal(t, models.StatusPreparing, payload.PreviousStatus)
	assert.Equal(t, 7, payload.TableNumber)

	history := f.history(t, o.ID)
	assert.Len(t, history, 3, "new, preparing, ready")
}

func TestToggleWithoutTransitionNotifiesCooksAndWaiter(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	o := f.create(t,
		models.OrderItemRequest{MenuItemID: "soup", Quantity: 1},
		models.OrderItemRequest{MenuItemID: "steak", Quantity: 1},
	)

	res, err := f.svc.ToggleItemReady(ctx, cook, o.ID, o.Items[0].ID)
	require.NoError(t, err)
	assert.False(t, res.OrderTransitioned)
	assert.True(t, res.Item.IsReady)
	assert.Equal(t, models.StatusNew, res.Order.Status, "no implicit preparing")

	published := f.sink.take()
	require.Len(t, published, 1)
	updated := published[0].Payload.(events.OrderUpdated)
	assert.Equal(t, o.Items[0].ID, updated.ItemID)
	require.NotNil(t, updated.IsReady)
	assert.True(t, *updated.IsReady)
	assert.Equal(t, []events.Target{events.ToRole(models.RoleCook), events.ToUser("waiter-1")}, published[0].Targets)

	// Toggling back un-readies the item
	res, err = f.svc.ToggleItemReady(ctx, cook, o.ID, o.Items[0].ID)
	require.NoError(t, err)
	assert.False(t, res.Item.IsReady)

	assert.Len(t, f.history(t, o.ID), 1)
}

func TestToggleItemReadyRejections(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	o := f.create(t)

	_, err := f.svc.ToggleItemReady(ctx, waiter, o.ID, o.Items[0].ID)
	assert.ErrorIs(t, err, order.ErrForbidden)

	_, err = f.svc.ToggleItemReady(ctx, cook, o.ID, "missing-item")
	assert.ErrorIs(t, err, order.ErrItemNotFound)

	_, err = f.svc.ToggleItemReady(ctx, cook, "missing-order", "missing-item")
	assert.ErrorIs(t, err, order.ErrOrderNotFound)

	_, err = f.svc.ChangeStatus(ctx, cook, o.ID, models.StatusCancelled, "out of soup")
	require.NoError(t, err)
	_, err = f.svc.ToggleItemReady(ctx, cook, o.ID, o.Items[0].ID)
	assert.ErrorIs(t, err, order.ErrInvalidTransition)
}

func TestForbiddenTransitionsLeaveNoTrace(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	o := f.create(t)

	cases := []struct {
		name   string
		actor  models.Actor
		target models.Status
	}{
		{"waiter cannot start preparing", waiter, models.StatusPreparing},
		{"waiter cannot accept", waiter, models.StatusAccepted},
		{"cook cannot deliver", cook, models.StatusDelivered},
		{"admin cannot change status", admin, models.StatusAccepted},
		{"director cannot cancel", director, models.StatusCancelled},
		{"other waiter cannot cancel", otherWaiter, models.StatusCancelled},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.ChangeStatus(ctx, tc.actor, o.ID, tc.target, "")
			assert.ErrorIs(t, err, order.ErrForbidden)
		})
	}

	assert.Len(t, f.history(t, o.ID), 1)
	assert.Empty(t, f.sink.take())
}

func TestInvalidTransitions(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	o := f.create(t)
	_, err := f.svc.ChangeStatus(ctx, waiter, o.ID, models.StatusDelivered, "")
	assert.ErrorIs(t, err, order.ErrInvalidTransition, "delivered needs ready first")

	_, err = f.svc.ChangeStatus(ctx, cook, o.ID, models.StatusPreparing, "")
	require.NoError(t, err)
	_, err = f.svc.ChangeStatus(ctx, cook, o.ID, models.StatusAccepted, "")
	assert.ErrorIs(t, err, order.ErrInvalidTransition, "no going back")

	_, err = f.svc.ChangeStatus(ctx, waiter, o.ID, models.StatusCancelled, "")
	assert.ErrorIs(t, err, order.ErrInvalidTransition, "waiter cancels only before the kitchen starts")

	_, err = f.svc.ChangeStatus(ctx, cook, o.ID, models.StatusCancelled, "")
	require.NoError(t, err)
	_, err = f.svc.ChangeStatus(ctx, cook, o.ID, models.StatusAccepted, "")
	assert.ErrorIs(t, err, order.ErrInvalidTransition, "cancelled is terminal")

	_, err = f.svc.ChangeStatus(ctx, cook, o.ID, models.Status("eaten"), "")
	assert.ErrorIs(t, err, order.ErrValidation)

	_, err = f.svc.ChangeStatus(ctx, cook, "missing", models.StatusAccepted, "")
	assert.ErrorIs(t, err, order.ErrOrderNotFound)
}

func TestSameStatusIsNoOp(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	o := f.create(t)

	_, err := f.svc.ChangeStatus(ctx, cook, o.ID, models.StatusAccepted, "")
	require.NoError(t, err)
	f.sink.take()

	res, err := f.svc.ChangeStatus(ctx, cook, o.ID, models.StatusAccepted, "")
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Len(t, f.history(t, o.ID), 2)
	assert.Empty(t, f.sink.take())

	// The role must still be allowed to target the status
	_, err = f.svc.ChangeStatus(ctx, waiter, o.ID, models.StatusAccepted, "")
	assert.ErrorIs(t, err, order.ErrForbidden)
}

func TestWaiterCancelsOwnNewOrder(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	o := f.create(t)

	res, err := f.svc.ChangeStatus(ctx, waiter, o.ID, models.StatusCancelled, "guest left")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, res.Order.Status)

	published := f.sink.take()
	require.Len(t, published, 1)
	cancelled := published[0].Payload.(events.OrderCancelled)
	assert.Equal(t, "guest left", cancelled.Reason)
	assert.Equal(t, models.StatusNew, cancelled.PreviousStatus)
	assert.Equal(t, []events.Target{events.ToRole(models.RoleCook), events.ToUser("waiter-1")}, published[0].Targets)
}

func TestStatusEventTargets(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	o := f.create(t)

	_, err := f.svc.ChangeStatus(ctx, cook, o.ID, models.StatusAccepted, "")
	require.NoError(t, err)
	published := f.sink.take()
	require.Len(t, published, 1)
	assert.Equal(t, events.KindOrderUpdated, published[0].Kind())
	assert.Equal(t, []events.Target{
		events.ToRole(models.RoleAdmin), events.ToRole(models.RoleCook), events.ToUser("waiter-1"),
	}, published[0].Targets)

	_, err = f.svc.ToggleItemReady(ctx, cook, o.ID, o.Items[0].ID)
	require.NoError(t, err)
	published = f.sink.take()
	require.Len(t, published, 2)
	assert.Equal(t, events.KindOrderReady, published[0].Kind())
	assert.Equal(t, events.KindOrderUpdated, published[1].Kind())
	assert.Equal(t, []events.Target{events.ToRole(models.RoleAdmin), events.ToRole(models.RoleCook)}, published[1].Targets)
}

func TestMarkPaid(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	o := f.create(t)

	_, err := f.svc.MarkPaid(ctx, waiter, o.ID)
	assert.ErrorIs(t, err, order.ErrForbidden)

	_, err = f.svc.MarkPaid(ctx, admin, o.ID)
	assert.ErrorIs(t, err, order.ErrNotDelivered)
	assert.ErrorIs(t, err, order.ErrInvalidTransition)

	_, err = f.svc.ToggleItemReady(ctx, cook, o.ID, o.Items[0].ID)
	require.NoError(t, err)
	_, err = f.svc.ChangeStatus(ctx, waiter, o.ID, models.StatusDelivered, "")
	require.NoError(t, err)
	f.sink.take()

	res, err := f.svc.MarkPaid(ctx, director, o.ID)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	require.NotNil(t, res.Order.PaidAt)

	published := f.sink.take()
	require.Len(t, published, 1)
	assert.Equal(t, events.KindOrderPaid, published[0].Kind())
	assert.Equal(t, []events.Target{events.ToRole(models.RoleAdmin), events.ToUser("waiter-1")}, published[0].Targets)

	// Paying twice succeeds without a second event
	res, err = f.svc.MarkPaid(ctx, admin, o.ID)
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Empty(t, f.sink.take())

	// Payment never writes to the ledger
	assert.Len(t, f.history(t, o.ID), 3)
}

func TestPurgeOrders(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	cancelled := f.create(t)
	open := f.create(t)
	_, err := f.svc.ChangeStatus(ctx, cook, cancelled.ID, models.StatusCancelled, "")
	require.NoError(t, err)

	_, err = f.svc.PurgeOrders(ctx, cook, f.clock)
	assert.ErrorIs(t, err, order.ErrForbidden)
	_, err = f.svc.PurgeOrders(ctx, admin, time.Time{})
	assert.ErrorIs(t, err, order.ErrValidation)
	_, err = f.svc.PurgeOrders(ctx, admin, f.clock.Add(24*time.Hour))
	assert.ErrorIs(t, err, order.ErrValidation)

	n, err := f.svc.PurgeOrders(ctx, admin, f.clock)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = f.svc.GetOrder(ctx, cancelled.ID)
	assert.ErrorIs(t, err, order.ErrOrderNotFound)
	_, err = f.svc.GetOrder(ctx, open.ID)
	assert.NoError(t, err)
}

func TestConcurrentTogglesTransitionOnce(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	lines := make([]models.OrderItemRequest, 8)
	for i := range lines {
		lines[i] = models.OrderItemRequest{MenuItemID: "pie", Quantity: 1}
	}
	o := f.create(t, lines...)

	var mu sync.Mutex
	f.svc.Now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		f.clock = f.clock.Add(time.Second)
		return f.clock
	}

	var wg sync.WaitGroup
	var transitions int
	for _, item := range o.Items {
		wg.Add(1)
		go func(itemID string) {
			defer wg.Done()
			res, err := f.svc.ToggleItemReady(ctx, cook, o.ID, itemID)
			if assert.NoError(t, err) && res.OrderTransitioned {
				mu.Lock()
				transitions++
				mu.Unlock()
			}
		}(item.ID)
	}
	wg.Wait()

	assert.Equal(t, 1, transitions)
	stored, err := f.svc.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReady, stored.Status)
	assert.Len(t, f.history(t, o.ID), 2)
}

func TestGetOrderMapsNotFound(t *testing.T) {
	mockDB := new(MockDBLayer)
	svc := order.NewOrderService(mockDB, nil, nil, logger.NewNopLogger())

	mockDB.On("GetOrder", mock.Anything, "missing").Return(nil, sql.ErrNoRows)
	mockDB.On("GetOrder", mock.Anything, "broken").Return(nil, errors.New("connection reset"))

	_, err := svc.GetOrder(context.Background(), "missing")
	assert.ErrorIs(t, err, order.ErrOrderNotFound)

	_, err = svc.GetOrder(context.Background(), "broken")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, order.ErrOrderNotFound)

	mockDB.AssertExpectations(t)
}

func TestPublishFailureDoesNotFailTransition(t *testing.T) {
	mockDB := new(MockDBLayer)
	mockSink := new(MockSink)
	svc := order.NewOrderService(mockDB, order.NewLocalLocker(), mockSink, logger.NewNopLogger())

	o := &models.Order{ID: "o-1", WaiterID: "waiter-1", Status: models.StatusNew, TableNumber: 3}
	mockDB.On("GetOrder", mock.Anything, "o-1").Return(o, nil)
	mockDB.On("ApplyStatusChange", mock.Anything, mock.MatchedBy(func(c models.StatusChange) bool {
		return c.From == models.StatusNew && c.To == models.StatusAccepted && c.ChangedBy == "cook-1"
	})).Return(true, nil)
	mockSink.On("Publish", mock.Anything, mock.Anything).Return(errors.New("broker down"))

	res, err := svc.ChangeStatus(context.Background(), cook, "o-1", models.StatusAccepted, "")
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, models.StatusAccepted, res.Order.Status)

	mockDB.AssertExpectations(t)
	mockSink.AssertNumberOfCalls(t, "Publish", 1)
}

func TestStaleWriteIsReportedAsConflict(t *testing.T) {
	mockDB := new(MockDBLayer)
	mockSink := new(MockSink)
	svc := order.NewOrderService(mockDB, order.NewLocalLocker(), mockSink, logger.NewNopLogger())

	o := &models.Order{ID: "o-2", WaiterID: "waiter-1", Status: models.StatusReady}
	mockDB.On("GetOrder", mock.Anything, "o-2").Return(o, nil)
	mockDB.On("ApplyStatusChange", mock.Anything, mock.Anything).Return(false, nil)

	_, err := svc.ChangeStatus(context.Background(), waiter, "o-2", models.StatusDelivered, "")
	assert.ErrorIs(t, err, order.ErrInvalidTransition)
	mockSink.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}
