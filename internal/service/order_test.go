package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/skalov/mealmart/internal/gateway"
	"github.com/skalov/mealmart/internal/models"
	"github.com/skalov/mealmart/internal/notify"
	"github.com/skalov/mealmart/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeConn satisfies repository.DBTX as an opaque token. The fake store
// dispatches on the tx flag; the querying methods are never reached.
type fakeConn struct {
	tx bool
}

func (fakeConn) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not used")
}

func (fakeConn) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not used")
}

func (fakeConn) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not used")
}

type storeState struct {
	orders   map[uuid.UUID]models.Order
	items    map[uuid.UUID][]models.OrderItem
	tracking map[uuid.UUID][]models.TrackingEvent
	txns     []models.Transaction
}

func newStoreState() *storeState {
	return &storeState{
		orders:   make(map[uuid.UUID]models.Order),
		items:    make(map[uuid.UUID][]models.OrderItem),
		tracking: make(map[uuid.UUID][]models.TrackingEvent),
	}
}

func (s *storeState) clone() *storeState {
	c := newStoreState()
	for id, o := range s.orders {
		c.orders[id] = o
	}
	for id, it := range s.items {
		c.items[id] = append([]models.OrderItem(nil), it...)
	}
	for id, tr := range s.tracking {
		c.tracking[id] = append([]models.TrackingEvent(nil), tr...)
	}
	c.txns = append([]models.Transaction(nil), s.txns...)
	return c
}

// fakeStore implements the order and payment repository interfaces over
// in-memory state with real commit/rollback semantics: writes made inside
// RunInTx land in a staged copy that replaces the committed state only when
// the callback succeeds.
type fakeStore struct {
	committed *storeState
	staged    *storeState
}

func newFakeStore() *fakeStore {
	return &fakeStore{committed: newStoreState()}
}

func (f *fakeStore) RunInTx(_ context.Context, fn func(tx repository.DBTX) error) error {
	f.staged = f.committed.clone()
	err := fn(fakeConn{tx: true})
	if err == nil {
		f.committed = f.staged
	}
	f.staged = nil
	return err
}

func (f *fakeStore) Pool() repository.DBTX {
	return fakeConn{}
}

func (f *fakeStore) state(db repository.DBTX) *storeState {
	if c, ok := db.(fakeConn); ok && c.tx && f.staged != nil {
		return f.staged
	}
	return f.committed
}

func (f *fakeStore) CreateOrder(_ context.Context, db repository.DBTX, order *models.Order) (*models.Order, error) {
	order.ID = uuid.New()
	order.Number = fmt.Sprintf("ORD%08d", len(f.state(db).orders)+1)
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt
	f.state(db).orders[order.ID] = *order
	return order, nil
}

func (f *fakeStore) AddOrderItems(_ context.Context, db repository.DBTX, orderID uuid.UUID, items []models.OrderItem) error {
	st := f.state(db)
	for _, item := range items {
		item.ID = uuid.New()
		item.OrderID = orderID
		st.items[orderID] = append(st.items[orderID], item)
	}
	return nil
}

func (f *fakeStore) UpdateOrderStatus(_ context.Context, db repository.DBTX, orderID uuid.UUID, status, notes string) error {
	st := f.state(db)
	order, ok := st.orders[orderID]
	if !ok {
		return models.ErrDataNotFound
	}
	order.Status = status
	order.UpdatedAt = time.Now()
	st.orders[orderID] = order
	st.tracking[orderID] = append(st.tracking[orderID], models.TrackingEvent{
		OrderID:   orderID,
		Status:    status,
		Notes:     notes,
		CreatedAt: time.Now(),
	})
	return nil
}

func (f *fakeStore) UpdateOrderPayment(_ context.Context, db repository.DBTX, orderID uuid.UUID, paymentID, paymentStatus string) error {
	st := f.state(db)
	order, ok := st.orders[orderID]
	if !ok {
		return models.ErrDataNotFound
	}
	order.PaymentID = paymentID
	order.PaymentStatus = paymentStatus
	st.orders[orderID] = order
	return nil
}

func (f *fakeStore) GetOrderByID(_ context.Context, db repository.DBTX, orderID uuid.UUID) (*models.Order, error) {
	order, ok := f.state(db).orders[orderID]
	if !ok {
		return nil, models.ErrDataNotFound
	}
	return &order, nil
}

func (f *fakeStore) GetOrderItems(_ context.Context, db repository.DBTX, orderID uuid.UUID) ([]models.OrderItem, error) {
	return append([]models.OrderItem(nil), f.state(db).items[orderID]...), nil
}

func (f *fakeStore) GetOrderTracking(_ context.Context, db repository.DBTX, orderID uuid.UUID) ([]models.TrackingEvent, error) {
	return append([]models.TrackingEvent(nil), f.state(db).tracking[orderID]...), nil
}

func (f *fakeStore) ListUserOrders(_ context.Context, db repository.DBTX, userID uuid.UUID, status string, limit, offset int) ([]models.Order, error) {
	var matched []models.Order
	for _, order := range f.state(db).orders {
		if order.UserID != userID {
			continue
		}
		if status != "" && order.Status != status {
			continue
		}
		matched = append(matched, order)
	}
	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (f *fakeStore) FindOrdersAwaitingRefund(_ context.Context, db repository.DBTX, limit int) ([]models.Order, error) {
	var matched []models.Order
	for _, order := range f.state(db).orders {
		if order.Status == models.OrderStatusCancelled && order.PaymentStatus == models.PaymentStatusPaid {
			matched = append(matched, order)
		}
		if len(matched) == limit {
			break
		}
	}
	return matched, nil
}

func (f *fakeStore) CreateTransaction(_ context.Context, db repository.DBTX, txn *models.Transaction) (*models.Transaction, error) {
	st := f.state(db)
	// mirrors the partial unique index: one completed payment per order
	if txn.Type == models.TransactionTypePayment && txn.Status == models.TransactionStatusCompleted {
		for _, existing := range st.txns {
			if existing.OrderID == txn.OrderID && existing.Type == models.TransactionTypePayment && existing.Status == models.TransactionStatusCompleted {
				return nil, models.ErrConflictData
			}
		}
	}
	txn.ID = uuid.New()
	txn.CreatedAt = time.Now()
	st.txns = append(st.txns, *txn)
	return txn, nil
}

func (f *fakeStore) GetTransactionByID(_ context.Context, db repository.DBTX, id uuid.UUID) (*models.Transaction, error) {
	for _, txn := range f.state(db).txns {
		if txn.ID == id {
			return &txn, nil
		}
	}
	return nil, models.ErrDataNotFound
}

func (f *fakeStore) GetTransactionsByOrder(_ context.Context, db repository.DBTX, orderID uuid.UUID) ([]models.Transaction, error) {
	var matched []models.Transaction
	for _, txn := range f.state(db).txns {
		if txn.OrderID == orderID {
			matched = append(matched, txn)
		}
	}
	return matched, nil
}

func (f *fakeStore) GetCompletedPayment(_ context.Context, db repository.DBTX, orderID uuid.UUID) (*models.Transaction, error) {
	for _, txn := range f.state(db).txns {
		if txn.OrderID == orderID && txn.Type == models.TransactionTypePayment && txn.Status == models.TransactionStatusCompleted {
			return &txn, nil
		}
	}
	return nil, models.ErrDataNotFound
}

func (f *fakeStore) UpdateTransactionStatus(_ context.Context, db repository.DBTX, id uuid.UUID, status string) error {
	st := f.state(db)
	for i := range st.txns {
		if st.txns[i].ID == id {
			st.txns[i].Status = status
			return nil
		}
	}
	return models.ErrDataNotFound
}

func (f *fakeStore) ClaimTransaction(_ context.Context, db repository.DBTX, id uuid.UUID, from, to string) error {
	st := f.state(db)
	for i := range st.txns {
		if st.txns[i].ID == id {
			if st.txns[i].Status != from {
				return models.ErrConflictData
			}
			st.txns[i].Status = to
			return nil
		}
	}
	return models.ErrConflictData
}

type fixedSelector struct {
	gw gateway.Gateway
}

func (s fixedSelector) Select(string, string) gateway.Gateway {
	return s.gw
}

// stubGateway returns scripted results without touching the network
type stubGateway struct {
	chargeResult *gateway.ChargeResult
	chargeErr    error
	refundResult *gateway.RefundResult
	refundErr    error
	refundCalls  int
}

func (g *stubGateway) Name() string { return "stub" }

func (g *stubGateway) Charge(_ context.Context, req gateway.ChargeRequest) (*gateway.ChargeResult, error) {
	if g.chargeErr != nil {
		return nil, g.chargeErr
	}
	return g.chargeResult, nil
}

func (g *stubGateway) Refund(_ context.Context, providerTxID string, amount decimal.Decimal, reason string) (*gateway.RefundResult, error) {
	g.refundCalls++
	if g.refundErr != nil {
		return nil, g.refundErr
	}
	return g.refundResult, nil
}

func (g *stubGateway) ValidateMethod(_ context.Context, method models.PaymentMethod) (*gateway.ValidationResult, error) {
	return &gateway.ValidationResult{Valid: true}, nil
}

// blockingGateway holds every refund call open until released, mimicking a
// slow provider with a request in flight
type blockingGateway struct {
	started chan struct{}
	release chan struct{}
}

func (g *blockingGateway) Name() string { return "blocking" }

func (g *blockingGateway) Charge(context.Context, gateway.ChargeRequest) (*gateway.ChargeResult, error) {
	panic("not used")
}

func (g *blockingGateway) Refund(_ context.Context, providerTxID string, amount decimal.Decimal, reason string) (*gateway.RefundResult, error) {
	g.started <- struct{}{}
	<-g.release
	return &gateway.RefundResult{Success: true, RefundID: "ref_blocking", Amount: amount}, nil
}

func (g *blockingGateway) ValidateMethod(context.Context, models.PaymentMethod) (*gateway.ValidationResult, error) {
	return &gateway.ValidationResult{Valid: true}, nil
}

func newTestService(store *fakeStore, gw gateway.Gateway) *OrderService {
	logger := zap.NewNop()
	return NewOrderService(store, store, fixedSelector{gw: gw}, notify.NewLogNotifier(logger), logger)
}

func testCart() *models.CartData {
	return &models.CartData{
		MerchantID: uuid.New(),
		CartID:     uuid.New(),
		Items: []models.CartItem{
			{MenuItemID: uuid.New(), Name: "Margherita Pizza", Quantity: 2, UnitPrice: decimal.RequireFromString("12.99")},
		},
		Subtotal:      decimal.RequireFromString("25.98"),
		TaxAmount:     decimal.RequireFromString("2.08"),
		DeliveryFee:   decimal.RequireFromString("2.99"),
		CountryCode:   "US",
		CustomerName:  "Pat Doe",
		CustomerEmail: "pat@example.com",
		MerchantName:  "Luigi's",
		DeliveryAddress: models.Address{
			Line1:       "1 Main St",
			City:        "Springfield",
			PostalCode:  "12345",
			CountryCode: "US",
		},
	}
}

func cardMethod(lastFour string) models.PaymentMethod {
	return models.PaymentMethod{Type: "card", Token: "tok_visa", LastFour: lastFour, Brand: "visa"}
}

func seedPaidOrder(t *testing.T, store *fakeStore, userID uuid.UUID) (*models.Order, *models.Transaction) {
	t.Helper()
	ctx := context.Background()

	order := &models.Order{
		UserID:        userID,
		MerchantID:    uuid.New(),
		Status:        models.OrderStatusConfirmed,
		PaymentStatus: models.PaymentStatusPaid,
		Subtotal:      decimal.RequireFromString("25.98"),
		TaxAmount:     decimal.RequireFromString("2.08"),
		DeliveryFee:   decimal.RequireFromString("2.99"),
		ProcessingFee: decimal.RequireFromString("1.05"),
		TotalAmount:   decimal.RequireFromString("32.10"),
		CurrencyCode:  "USD",
		CountryCode:   "US",
	}
	_, err := store.CreateOrder(ctx, store.Pool(), order)
	require.NoError(t, err)
	order.PaymentID = "pay_123"
	require.NoError(t, store.UpdateOrderPayment(ctx, store.Pool(), order.ID, order.PaymentID, models.PaymentStatusPaid))

	payment := &models.Transaction{
		OrderID:      order.ID,
		UserID:       userID,
		Type:         models.TransactionTypePayment,
		ProviderTxID: "pay_123",
		Status:       models.TransactionStatusCompleted,
		Amount:       order.TotalAmount,
		Currency:     "USD",
		CountryCode:  "US",
	}
	payment.Details.Gateway = "loopback"
	payment.Details.PaymentMethod.Type = "card"
	_, err = store.CreateTransaction(ctx, store.Pool(), payment)
	require.NoError(t, err)

	return order, payment
}

func TestCreateOrderWithPaymentSuccess(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, gateway.NewLoopback())
	userID := uuid.New()

	order, payment, err := svc.CreateOrderWithPayment(context.Background(), testCart(), cardMethod("4242"), userID)
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusConfirmed, order.Status)
	assert.Equal(t, models.PaymentStatusPaid, order.PaymentStatus)
	assert.NotEmpty(t, order.PaymentID)
	assert.Equal(t, "1.05", order.ProcessingFee.StringFixed(2))
	assert.Equal(t, "32.10", order.TotalAmount.StringFixed(2))
	assert.Equal(t, "USD", order.CurrencyCode)

	require.NotNil(t, payment)
	assert.Equal(t, models.TransactionTypePayment, payment.Type)
	assert.Equal(t, models.TransactionStatusCompleted, payment.Status)
	assert.True(t, payment.Amount.Equal(order.TotalAmount))

	// committed state matches what the caller got
	stored, err := store.GetOrderByID(context.Background(), store.Pool(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusConfirmed, stored.Status)
	assert.Equal(t, models.PaymentStatusPaid, stored.PaymentStatus)

	items, err := store.GetOrderItems(context.Background(), store.Pool(), order.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "25.98", items[0].TotalPrice.StringFixed(2))

	txns, err := store.GetTransactionsByOrder(context.Background(), store.Pool(), order.ID)
	require.NoError(t, err)
	require.Len(t, txns, 1)
}

func TestCreateOrderWithPaymentDeclinedLeavesNoOrder(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, gateway.NewLoopback())

	// loopback sentinel for a declined card
	order, payment, err := svc.CreateOrderWithPayment(context.Background(), testCart(), cardMethod("0002"), uuid.New())
	require.Error(t, err)
	assert.Nil(t, order)
	assert.Nil(t, payment)

	var gwErr models.GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, models.GatewayCodeCardDeclined, gwErr.Code)

	// nothing committed: no order, no items
	assert.Empty(t, store.committed.orders)
	assert.Empty(t, store.committed.items)

	// the decline left a failed audit transaction
	require.Len(t, store.committed.txns, 1)
	failed := store.committed.txns[0]
	assert.Equal(t, models.TransactionStatusFailed, failed.Status)
	assert.Equal(t, models.GatewayCodeCardDeclined, failed.Details.Reason)
}

func TestCreateOrderWithPaymentGatewayDownLeavesNoOrder(t *testing.T) {
	store := newFakeStore()
	gw := &stubGateway{chargeErr: errors.New("connection refused")}
	svc := newTestService(store, gw)

	_, _, err := svc.CreateOrderWithPayment(context.Background(), testCart(), cardMethod("4242"), uuid.New())
	require.Error(t, err)

	var gwErr models.GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, models.GatewayCodeUnavailable, gwErr.Code)

	assert.Empty(t, store.committed.orders)
}

func TestCreateOrderWithPaymentValidation(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, gateway.NewLoopback())
	userID := uuid.New()

	t.Run("empty cart", func(t *testing.T) {
		_, _, err := svc.CreateOrderWithPayment(context.Background(), &models.CartData{MerchantID: uuid.New()}, cardMethod("4242"), userID)
		assert.ErrorIs(t, err, models.ErrEmptyCart)
	})

	t.Run("nil cart", func(t *testing.T) {
		_, _, err := svc.CreateOrderWithPayment(context.Background(), nil, cardMethod("4242"), userID)
		assert.ErrorIs(t, err, models.ErrEmptyCart)
	})

	t.Run("missing method type", func(t *testing.T) {
		_, _, err := svc.CreateOrderWithPayment(context.Background(), testCart(), models.PaymentMethod{Token: "tok"}, userID)
		assert.ErrorIs(t, err, models.ErrInvalidPaymentMethod)
	})

	t.Run("zero quantity item", func(t *testing.T) {
		cart := testCart()
		cart.Items[0].Quantity = 0
		_, _, err := svc.CreateOrderWithPayment(context.Background(), cart, cardMethod("4242"), userID)
		assert.ErrorIs(t, err, models.ErrInvalidAmount)
	})

	assert.Empty(t, store.committed.orders)
}

func TestCancelOrderRefundsPayment(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, gateway.NewLoopback())
	userID := uuid.New()
	order, payment := seedPaidOrder(t, store, userID)

	cancelled, outcome, err := svc.CancelOrder(context.Background(), order.ID, "changed my mind", userID)
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusCancelled, cancelled.Status)
	assert.Equal(t, models.PaymentStatusRefunded, cancelled.PaymentStatus)

	require.NotNil(t, outcome)
	assert.True(t, outcome.Attempted)
	assert.True(t, outcome.Succeeded)
	require.NotNil(t, outcome.Refund)
	assert.Equal(t, models.TransactionTypeRefund, outcome.Refund.Type)
	assert.Equal(t, "32.10", outcome.Refund.Amount.StringFixed(2))
	assert.Equal(t, payment.ID.String(), outcome.Refund.Details.OriginalTransactionID)

	// a cancellation-driven refund keeps the order cancelled
	stored, err := store.GetOrderByID(context.Background(), store.Pool(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, stored.Status)
	assert.Equal(t, models.PaymentStatusRefunded, stored.PaymentStatus)

	// the original charge is marked refunded, the refund row is appended
	origin, err := store.GetTransactionByID(context.Background(), store.Pool(), payment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusRefunded, origin.Status)

	txns, err := store.GetTransactionsByOrder(context.Background(), store.Pool(), order.ID)
	require.NoError(t, err)
	assert.Len(t, txns, 2)
}

func TestCancelOrderForeignUser(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, gateway.NewLoopback())
	owner := uuid.New()
	order, _ := seedPaidOrder(t, store, owner)

	_, _, err := svc.CancelOrder(context.Background(), order.ID, "", uuid.New())
	assert.ErrorIs(t, err, models.ErrForbidden)

	// untouched
	stored, err := store.GetOrderByID(context.Background(), store.Pool(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusConfirmed, stored.Status)
	assert.Equal(t, models.PaymentStatusPaid, stored.PaymentStatus)
}

func TestCancelOrderTwice(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, gateway.NewLoopback())
	userID := uuid.New()
	order, _ := seedPaidOrder(t, store, userID)

	_, _, err := svc.CancelOrder(context.Background(), order.ID, "", userID)
	require.NoError(t, err)

	_, _, err = svc.CancelOrder(context.Background(), order.ID, "", userID)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	// still exactly one refund
	txns, err := store.GetTransactionsByOrder(context.Background(), store.Pool(), order.ID)
	require.NoError(t, err)
	assert.Len(t, txns, 2)
}

func TestCancelOrderNotCancellable(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, gateway.NewLoopback())
	userID := uuid.New()
	order, _ := seedPaidOrder(t, store, userID)
	require.NoError(t, store.UpdateOrderStatus(context.Background(), store.Pool(), order.ID, models.OrderStatusCompleted, "delivered"))

	_, _, err := svc.CancelOrder(context.Background(), order.ID, "", userID)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestCancelOrderUnpaidSkipsRefund(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, gateway.NewLoopback())
	userID := uuid.New()

	order := &models.Order{
		UserID:        userID,
		MerchantID:    uuid.New(),
		Status:        models.OrderStatusPending,
		PaymentStatus: models.PaymentStatusPending,
		TotalAmount:   decimal.RequireFromString("10.00"),
	}
	_, err := store.CreateOrder(context.Background(), store.Pool(), order)
	require.NoError(t, err)

	cancelled, outcome, err := svc.CancelOrder(context.Background(), order.ID, "", userID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, cancelled.Status)
	assert.False(t, outcome.Attempted)
	assert.Empty(t, store.committed.txns)
}

func TestCancelOrderRefundFailureStaysCancelled(t *testing.T) {
	store := newFakeStore()
	gw := &stubGateway{refundErr: models.NewGatewayError(models.GatewayCodeUnavailable, "gateway timeout")}
	svc := newTestService(store, gw)
	userID := uuid.New()
	order, payment := seedPaidOrder(t, store, userID)

	cancelled, outcome, err := svc.CancelOrder(context.Background(), order.ID, "", userID)
	require.NoError(t, err)

	// cancellation survives the failed refund
	assert.Equal(t, models.OrderStatusCancelled, cancelled.Status)
	assert.True(t, outcome.Attempted)
	assert.False(t, outcome.Succeeded)
	require.Error(t, outcome.Failure)

	// payment is untouched for later reconciliation
	stored, err := store.GetOrderByID(context.Background(), store.Pool(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPaid, stored.PaymentStatus)

	origin, err := store.GetTransactionByID(context.Background(), store.Pool(), payment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusCompleted, origin.Status)

	// the reconciler feed now surfaces the order
	awaiting, err := store.FindOrdersAwaitingRefund(context.Background(), store.Pool(), 10)
	require.NoError(t, err)
	require.Len(t, awaiting, 1)
	assert.Equal(t, order.ID, awaiting[0].ID)
}

func TestProcessRefundStandalone(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, gateway.NewLoopback())
	userID := uuid.New()
	order, _ := seedPaidOrder(t, store, userID)

	refund, err := svc.ProcessRefund(context.Background(), order.ID, order.TotalAmount, "quality complaint")
	require.NoError(t, err)
	assert.Equal(t, models.TransactionTypeRefund, refund.Type)

	// a standalone refund of a live order moves it to refunded
	stored, err := store.GetOrderByID(context.Background(), store.Pool(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusRefunded, stored.Status)
	assert.Equal(t, models.PaymentStatusRefunded, stored.PaymentStatus)
}

func TestProcessRefundBounds(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, gateway.NewLoopback())
	userID := uuid.New()
	order, _ := seedPaidOrder(t, store, userID)

	t.Run("exceeds original", func(t *testing.T) {
		_, err := svc.ProcessRefund(context.Background(), order.ID, decimal.RequireFromString("32.11"), "")
		assert.ErrorIs(t, err, models.ErrRefundExceedsOriginal)
	})

	t.Run("zero amount", func(t *testing.T) {
		_, err := svc.ProcessRefund(context.Background(), order.ID, decimal.Zero, "")
		assert.ErrorIs(t, err, models.ErrInvalidAmount)
	})

	t.Run("negative amount", func(t *testing.T) {
		_, err := svc.ProcessRefund(context.Background(), order.ID, decimal.RequireFromString("-1"), "")
		assert.ErrorIs(t, err, models.ErrInvalidAmount)
	})

	// state untouched by rejected refunds
	stored, err := store.GetOrderByID(context.Background(), store.Pool(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPaid, stored.PaymentStatus)
}

func TestProcessRefundNoCompletedPayment(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, gateway.NewLoopback())

	order := &models.Order{
		UserID:      uuid.New(),
		MerchantID:  uuid.New(),
		Status:      models.OrderStatusPending,
		TotalAmount: decimal.RequireFromString("10.00"),
	}
	_, err := store.CreateOrder(context.Background(), store.Pool(), order)
	require.NoError(t, err)

	_, err = svc.ProcessRefund(context.Background(), order.ID, decimal.RequireFromString("10.00"), "")
	assert.ErrorIs(t, err, models.ErrNoCompletedPayment)
}

func TestProcessRefundConcurrentKeepsSingleRefund(t *testing.T) {
	store := newFakeStore()
	gw := &blockingGateway{started: make(chan struct{}), release: make(chan struct{})}
	svc := newTestService(store, gw)
	userID := uuid.New()
	order, payment := seedPaidOrder(t, store, userID)

	errCh := make(chan error, 1)
	go func() {
		_, err := svc.ProcessRefund(context.Background(), order.ID, order.TotalAmount, "first")
		errCh <- err
	}()

	// the first refund holds the claim on the payment while its gateway call
	// is in flight; a second refund of the same payment must be turned away
	<-gw.started

	_, err := svc.ProcessRefund(context.Background(), order.ID, order.TotalAmount, "second")
	assert.ErrorIs(t, err, models.ErrNoCompletedPayment)

	close(gw.release)
	require.NoError(t, <-errCh)

	// exactly one refund row, and the refunded total never exceeds the charge
	var refunded decimal.Decimal
	var refunds int
	txns, err := store.GetTransactionsByOrder(context.Background(), store.Pool(), order.ID)
	require.NoError(t, err)
	for _, txn := range txns {
		if txn.Type == models.TransactionTypeRefund {
			refunds++
			refunded = refunded.Add(txn.Amount)
		}
	}
	assert.Equal(t, 1, refunds)
	assert.True(t, refunded.Equal(payment.Amount), "refunded %s of %s", refunded, payment.Amount)

	origin, err := store.GetTransactionByID(context.Background(), store.Pool(), payment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusRefunded, origin.Status)
}

func TestProcessRefundGatewayFailureReleasesClaim(t *testing.T) {
	store := newFakeStore()
	gw := &stubGateway{refundErr: models.NewGatewayError(models.GatewayCodeUnavailable, "gateway timeout")}
	svc := newTestService(store, gw)
	userID := uuid.New()
	order, payment := seedPaidOrder(t, store, userID)

	_, err := svc.ProcessRefund(context.Background(), order.ID, order.TotalAmount, "")
	require.Error(t, err)

	// the payment is back to completed and refundable again
	origin, err := store.GetTransactionByID(context.Background(), store.Pool(), payment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusCompleted, origin.Status)

	gw.refundErr = nil
	gw.refundResult = &gateway.RefundResult{Success: true, RefundID: "ref_retry", Amount: order.TotalAmount}

	_, err = svc.ProcessRefund(context.Background(), order.ID, order.TotalAmount, "retry")
	require.NoError(t, err)
}

func TestCreateOrderWithPaymentInvalidMethod(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, gateway.NewLoopback())

	// card with a malformed last-four fails gateway validation before any charge
	method := models.PaymentMethod{Type: "card", Token: "tok_visa", LastFour: "12ab", Brand: "visa"}

	order, payment, err := svc.CreateOrderWithPayment(context.Background(), testCart(), method, uuid.New())
	assert.ErrorIs(t, err, models.ErrInvalidPaymentMethod)
	assert.Nil(t, order)
	assert.Nil(t, payment)

	// nothing committed, no audit row either: no charge was attempted
	assert.Empty(t, store.committed.orders)
	assert.Empty(t, store.committed.txns)
}

func TestGetOrderOwnership(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, gateway.NewLoopback())
	owner := uuid.New()
	order, _ := seedPaidOrder(t, store, owner)

	got, err := svc.GetOrder(context.Background(), order.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, order.ID, got.ID)

	_, err = svc.GetOrder(context.Background(), order.ID, uuid.New())
	assert.ErrorIs(t, err, models.ErrForbidden)

	_, err = svc.GetOrder(context.Background(), uuid.New(), owner)
	assert.ErrorIs(t, err, models.ErrDataNotFound)
}

func TestListUserOrdersClampsPaging(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, gateway.NewLoopback())
	userID := uuid.New()

	for i := 0; i < 3; i++ {
		seedPaidOrder(t, store, userID)
	}
	seedPaidOrder(t, store, uuid.New())

	orders, err := svc.ListUserOrders(context.Background(), userID, "", 0, 0)
	require.NoError(t, err)
	assert.Len(t, orders, 3)

	orders, err = svc.ListUserOrders(context.Background(), userID, models.OrderStatusCancelled, 1, 10)
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestListOrderTransactionsOwnership(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, gateway.NewLoopback())
	owner := uuid.New()
	order, _ := seedPaidOrder(t, store, owner)

	txns, err := svc.ListOrderTransactions(context.Background(), order.ID, owner)
	require.NoError(t, err)
	assert.Len(t, txns, 1)

	_, err = svc.ListOrderTransactions(context.Background(), order.ID, uuid.New())
	assert.ErrorIs(t, err, models.ErrForbidden)
}

func TestRefundReconciliationFlow(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, gateway.NewLoopback())
	userID := uuid.New()
	order, _ := seedPaidOrder(t, store, userID)

	// leave the order cancelled but still paid, as after a failed refund
	require.NoError(t, store.UpdateOrderStatus(context.Background(), store.Pool(), order.ID, models.OrderStatusCancelled, "cancelled"))

	ch := make(chan uuid.UUID, 10)
	require.NoError(t, svc.GetOrdersForRefund(context.Background(), ch))
	close(ch)

	svc.RefundForOrder(context.Background(), ch)

	stored, err := store.GetOrderByID(context.Background(), store.Pool(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, stored.Status)
	assert.Equal(t, models.PaymentStatusRefunded, stored.PaymentStatus)

	// reconciled order no longer surfaces
	awaiting, err := store.FindOrdersAwaitingRefund(context.Background(), store.Pool(), 10)
	require.NoError(t, err)
	assert.Empty(t, awaiting)
}
