package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/skalov/mealmart/internal/gateway"
	"github.com/skalov/mealmart/internal/models"
	"github.com/skalov/mealmart/internal/notify"
	"github.com/skalov/mealmart/internal/pricing"
	"github.com/skalov/mealmart/internal/repository"
	"go.uber.org/zap"
)

// bound on a single gateway call; a timeout is treated as gateway failure
const gatewayCallTimeout = 30 * time.Second

// statuses a cancellation may start from
var cancellableStatuses = map[string]bool{
	models.OrderStatusPending:   true,
	models.OrderStatusConfirmed: true,
	models.OrderStatusPreparing: true,
}

// OrderRepository is interface for interacting with order-related data
type OrderRepository interface {
	// RunInTx runs fn inside a database transaction
	RunInTx(ctx context.Context, fn func(tx repository.DBTX) error) error
	// Pool returns non-transactional querying surface
	Pool() repository.DBTX
	// CreateOrder inserts new order row
	CreateOrder(ctx context.Context, db repository.DBTX, order *models.Order) (*models.Order, error)
	// AddOrderItems inserts order line items
	AddOrderItems(ctx context.Context, db repository.DBTX, orderID uuid.UUID, items []models.OrderItem) error
	// UpdateOrderStatus sets order status and appends tracking entry
	UpdateOrderStatus(ctx context.Context, db repository.DBTX, orderID uuid.UUID, status, notes string) error
	// UpdateOrderPayment attaches payment linkage to order
	UpdateOrderPayment(ctx context.Context, db repository.DBTX, orderID uuid.UUID, paymentID, paymentStatus string) error
	// GetOrderByID returns order by id
	GetOrderByID(ctx context.Context, db repository.DBTX, orderID uuid.UUID) (*models.Order, error)
	// GetOrderItems returns order line items
	GetOrderItems(ctx context.Context, db repository.DBTX, orderID uuid.UUID) ([]models.OrderItem, error)
	// GetOrderTracking returns order status history
	GetOrderTracking(ctx context.Context, db repository.DBTX, orderID uuid.UUID) ([]models.TrackingEvent, error)
	// ListUserOrders returns page of user orders
	ListUserOrders(ctx context.Context, db repository.DBTX, userID uuid.UUID, status string, limit, offset int) ([]models.Order, error)
	// FindOrdersAwaitingRefund returns cancelled orders still marked paid
	FindOrdersAwaitingRefund(ctx context.Context, db repository.DBTX, limit int) ([]models.Order, error)
}

// PaymentRepository is interface for interacting with payment transactions
type PaymentRepository interface {
	// CreateTransaction inserts new payment transaction
	CreateTransaction(ctx context.Context, db repository.DBTX, txn *models.Transaction) (*models.Transaction, error)
	// GetTransactionByID returns transaction by id
	GetTransactionByID(ctx context.Context, db repository.DBTX, id uuid.UUID) (*models.Transaction, error)
	// GetTransactionsByOrder returns all order transactions
	GetTransactionsByOrder(ctx context.Context, db repository.DBTX, orderID uuid.UUID) ([]models.Transaction, error)
	// GetCompletedPayment returns the completed payment transaction of the order
	GetCompletedPayment(ctx context.Context, db repository.DBTX, orderID uuid.UUID) (*models.Transaction, error)
	// UpdateTransactionStatus sets transaction status
	UpdateTransactionStatus(ctx context.Context, db repository.DBTX, id uuid.UUID, status string) error
	// ClaimTransaction transitions transaction status only from the expected one
	ClaimTransaction(ctx context.Context, db repository.DBTX, id uuid.UUID, from, to string) error
}

// GatewaySelector resolves payment gateway for country and method type
type GatewaySelector interface {
	Select(countryCode, methodType string) gateway.Gateway
}

// RefundOutcome reports the refund part of a cancellation separately from
// the cancellation itself: a cancelled order stays cancelled even when the
// refund fails and has to be reconciled later.
type RefundOutcome struct {
	Attempted bool
	Succeeded bool
	Refund    *models.Transaction
	Failure   error
}

// OrderService coordinates order creation, payment and refunds. It is the
// only component that drives order and transaction state transitions.
type OrderService struct {
	orders   OrderRepository
	payments PaymentRepository
	gateways GatewaySelector
	notifier notify.Notifier
	logger   *zap.Logger
}

// NewOrderService creates new OrderService instance
func NewOrderService(orders OrderRepository, payments PaymentRepository, gateways GatewaySelector, notifier notify.Notifier, logger *zap.Logger) *OrderService {
	return &OrderService{
		orders:   orders,
		payments: payments,
		gateways: gateways,
		notifier: notifier,
		logger:   logger,
	}
}

// CreateOrderWithPayment creates an order from resolved cart contents and
// charges the payment method. The order row and its items are inserted inside
// an open transaction, the gateway is charged before commit, and the
// transaction is committed only after a successful charge. On any failure the
// transaction rolls back and no order is visible to readers.
func (os *OrderService) CreateOrderWithPayment(ctx context.Context, cart *models.CartData, method models.PaymentMethod, userID uuid.UUID) (*models.Order, *models.Transaction, error) {
	if err := validateCart(cart); err != nil {
		return nil, nil, err
	}
	if method.Type == "" {
		return nil, nil, models.ErrInvalidPaymentMethod
	}

	quote, err := pricing.ComputeTotal(cart.Subtotal, cart.TaxAmount, cart.DeliveryFee, cart.DiscountAmount, cart.CountryCode)
	if err != nil {
		return nil, nil, err
	}

	currency := cart.CurrencyCode
	if currency == "" {
		currency = quote.Currency
	}

	order := &models.Order{
		UserID:          userID,
		MerchantID:      cart.MerchantID,
		CartID:          cart.CartID,
		Status:          models.OrderStatusPending,
		PaymentStatus:   models.PaymentStatusPending,
		Subtotal:        cart.Subtotal,
		TaxAmount:       cart.TaxAmount,
		DeliveryFee:     cart.DeliveryFee,
		ProcessingFee:   quote.ProcessingFee,
		DiscountAmount:  cart.DiscountAmount,
		TotalAmount:     quote.TotalAmount,
		CurrencyCode:    currency,
		CountryCode:     cart.CountryCode,
		DeliveryAddress: cart.DeliveryAddress,
		CustomerName:    cart.CustomerName,
		CustomerEmail:   cart.CustomerEmail,
		MerchantName:    cart.MerchantName,
	}

	items := make([]models.OrderItem, 0, len(cart.Items))
	for _, ci := range cart.Items {
		items = append(items, models.OrderItem{
			MenuItemID:          ci.MenuItemID,
			Name:                ci.Name,
			Quantity:            ci.Quantity,
			UnitPrice:           ci.UnitPrice,
			TotalPrice:          ci.UnitPrice.Mul(decimal.NewFromInt(int64(ci.Quantity))).Round(2),
			Customizations:      ci.Customizations,
			SpecialInstructions: ci.SpecialInstructions,
		})
	}

	gw := os.gateways.Select(cart.CountryCode, method.Type)

	if err := os.validateMethod(ctx, gw, method); err != nil {
		return nil, nil, err
	}

	var payment *models.Transaction

	txErr := os.orders.RunInTx(ctx, func(tx repository.DBTX) error {
		if _, err := os.orders.CreateOrder(ctx, tx, order); err != nil {
			return fmt.Errorf("%w: %v", models.ErrOrderCreationFailed, err)
		}

		if err := os.orders.AddOrderItems(ctx, tx, order.ID, items); err != nil {
			return fmt.Errorf("%w: %v", models.ErrOrderCreationFailed, err)
		}

		// the order row exists uncommitted before the external charge, so a
		// crash here leaves nothing durably visible
		result, err := os.charge(ctx, gw, order, method)
		if err != nil {
			return err
		}

		if err := os.orders.UpdateOrderStatus(ctx, tx, order.ID, models.OrderStatusConfirmed, "payment completed"); err != nil {
			return fmt.Errorf("%w: %v", models.ErrOrderCreationFailed, err)
		}
		if err := os.orders.UpdateOrderPayment(ctx, tx, order.ID, result.ProviderTxID, models.PaymentStatusPaid); err != nil {
			return fmt.Errorf("%w: %v", models.ErrOrderCreationFailed, err)
		}

		payment = newPaymentTransaction(order, method, gw.Name(), result)
		if _, err := os.payments.CreateTransaction(ctx, tx, payment); err != nil {
			return fmt.Errorf("%w: %v", models.ErrOrderCreationFailed, err)
		}

		order.Status = models.OrderStatusConfirmed
		order.PaymentID = result.ProviderTxID
		order.PaymentStatus = models.PaymentStatusPaid
		order.Items = items

		return nil
	})
	if txErr != nil {
		var gwErr models.GatewayError
		if errors.As(txErr, &gwErr) {
			// keep a failed-charge audit row; the order row itself rolled back
			os.recordFailedCharge(ctx, order, method, gw.Name(), gwErr)
		}
		os.logger.Error("order creation failed", zap.Error(txErr), zap.String("user_id", userID.String()))
		return nil, nil, txErr
	}

	os.logger.Info("order confirmed",
		zap.String("order_id", order.ID.String()),
		zap.String("order_number", order.Number),
		zap.String("payment_id", order.PaymentID))

	// best-effort, never fails the order
	go os.notifyConfirmed(order)

	return order, payment, nil
}

// charge invokes the gateway with an explicit timeout and maps every failure
// shape to the gateway error taxonomy
func (os *OrderService) charge(ctx context.Context, gw gateway.Gateway, order *models.Order, method models.PaymentMethod) (*gateway.ChargeResult, error) {
	chargeCtx, cancel := context.WithTimeout(ctx, gatewayCallTimeout)
	defer cancel()

	result, err := gw.Charge(chargeCtx, gateway.ChargeRequest{
		OrderID:       order.ID.String(),
		Amount:        order.TotalAmount,
		Currency:      order.CurrencyCode,
		PaymentMethod: method,
	})
	if err != nil {
		var gwErr models.GatewayError
		if errors.As(err, &gwErr) {
			return nil, gwErr
		}
		return nil, models.NewGatewayError(models.GatewayCodeUnavailable, "payment gateway is unavailable")
	}
	if !result.Success {
		if result.Failure != nil {
			return nil, *result.Failure
		}
		return nil, models.NewGatewayError(models.GatewayCodeUnavailable, "payment was not completed")
	}

	return result, nil
}

// validateMethod asks the gateway to validate the payment method before any
// money moves. A gateway failure here is mapped the same way a charge failure
// would be.
func (os *OrderService) validateMethod(ctx context.Context, gw gateway.Gateway, method models.PaymentMethod) error {
	validateCtx, cancel := context.WithTimeout(ctx, gatewayCallTimeout)
	defer cancel()

	result, err := gw.ValidateMethod(validateCtx, method)
	if err != nil {
		var gwErr models.GatewayError
		if errors.As(err, &gwErr) {
			return gwErr
		}
		return models.NewGatewayError(models.GatewayCodeUnavailable, "payment gateway is unavailable")
	}
	if !result.Valid {
		return models.ErrInvalidPaymentMethod
	}

	return nil
}

// recordFailedCharge persists an audit transaction for a declined charge.
// The order reference is ephemeral: the order row was rolled back.
func (os *OrderService) recordFailedCharge(ctx context.Context, order *models.Order, method models.PaymentMethod, gatewayName string, gwErr models.GatewayError) {
	txn := newPaymentTransaction(order, method, gatewayName, nil)
	txn.Status = models.TransactionStatusFailed
	txn.Details.Message = gwErr.Message
	txn.Details.Reason = gwErr.Code

	if _, err := os.payments.CreateTransaction(ctx, os.orders.Pool(), txn); err != nil {
		os.logger.Error("recording failed charge", zap.Error(err))
	}
}

func newPaymentTransaction(order *models.Order, method models.PaymentMethod, gatewayName string, result *gateway.ChargeResult) *models.Transaction {
	txn := &models.Transaction{
		OrderID:     order.ID,
		UserID:      order.UserID,
		Type:        models.TransactionTypePayment,
		Status:      models.TransactionStatusCompleted,
		Amount:      order.TotalAmount,
		Currency:    order.CurrencyCode,
		CountryCode: order.CountryCode,
	}
	txn.Details.Gateway = gatewayName
	txn.Details.PaymentMethod.Type = method.Type
	txn.Details.PaymentMethod.LastFour = method.LastFour
	txn.Details.PaymentMethod.Brand = method.Brand

	if result != nil {
		txn.ProviderTxID = result.ProviderTxID
		txn.Fees = result.Fees
		txn.Details.Message = result.Message
	}

	return txn
}

func validateCart(cart *models.CartData) error {
	if cart == nil || len(cart.Items) == 0 {
		return models.ErrEmptyCart
	}
	if cart.MerchantID == uuid.Nil {
		return fmt.Errorf("%w: merchant id is required", models.ErrInvalidAmount)
	}
	for _, item := range cart.Items {
		if item.Quantity <= 0 || item.UnitPrice.IsNegative() {
			return models.ErrInvalidAmount
		}
	}
	return nil
}

// CancelOrder cancels the user's order. Cancellation is irreversible by
// policy: if the order was paid a refund is attempted, but a failed refund
// leaves the order cancelled and is reported in the outcome for later
// reconciliation.
func (os *OrderService) CancelOrder(ctx context.Context, orderID uuid.UUID, reason string, userID uuid.UUID) (*models.Order, *RefundOutcome, error) {
	order, err := os.orders.GetOrderByID(ctx, os.orders.Pool(), orderID)
	if err != nil {
		return nil, nil, err
	}

	if order.UserID != userID {
		return nil, nil, models.ErrForbidden
	}

	if !cancellableStatuses[order.Status] {
		return nil, nil, models.ErrInvalidTransition
	}

	if reason == "" {
		reason = "cancelled by customer"
	}

	if err := os.orders.UpdateOrderStatus(ctx, os.orders.Pool(), orderID, models.OrderStatusCancelled, reason); err != nil {
		return nil, nil, err
	}
	order.Status = models.OrderStatusCancelled

	outcome := &RefundOutcome{}

	if order.PaymentStatus == models.PaymentStatusPaid {
		outcome.Attempted = true

		refund, err := os.ProcessRefund(ctx, orderID, order.TotalAmount, reason)
		if err != nil {
			os.logger.Error("refund after cancellation failed, manual follow-up required",
				zap.String("order_id", orderID.String()), zap.Error(err))
			outcome.Failure = err
		} else {
			outcome.Succeeded = true
			outcome.Refund = refund
			order.PaymentStatus = models.PaymentStatusRefunded
		}
	}

	go os.notify(order.UserID, order.MerchantID, order.ID, notify.ActionOrderCancelled)

	return order, outcome, nil
}

// ProcessRefund refunds amount of the order's completed payment through the
// gateway that charged it. On gateway failure order and payment state are
// left unchanged.
func (os *OrderService) ProcessRefund(ctx context.Context, orderID uuid.UUID, amount decimal.Decimal, reason string) (*models.Transaction, error) {
	order, err := os.orders.GetOrderByID(ctx, os.orders.Pool(), orderID)
	if err != nil {
		return nil, err
	}

	payment, err := os.payments.GetCompletedPayment(ctx, os.orders.Pool(), orderID)
	if err != nil {
		if errors.Is(err, models.ErrDataNotFound) {
			return nil, models.ErrNoCompletedPayment
		}
		return nil, err
	}

	if !amount.IsPositive() {
		return nil, models.ErrInvalidAmount
	}
	if amount.GreaterThan(payment.Amount) {
		return nil, models.ErrRefundExceedsOriginal
	}

	gw := os.gateways.Select(order.CountryCode, payment.Details.PaymentMethod.Type)

	// claim the payment before the gateway call so a concurrent refund of the
	// same payment loses on the status transition instead of double-refunding
	if err := os.payments.ClaimTransaction(ctx, os.orders.Pool(), payment.ID, models.TransactionStatusCompleted, models.TransactionStatusRefundPending); err != nil {
		return nil, err
	}

	refundCtx, cancel := context.WithTimeout(ctx, gatewayCallTimeout)
	defer cancel()

	result, err := gw.Refund(refundCtx, payment.ProviderTxID, amount, reason)
	if err != nil {
		os.releaseRefundClaim(ctx, payment.ID)
		var gwErr models.GatewayError
		if errors.As(err, &gwErr) {
			return nil, gwErr
		}
		return nil, models.NewGatewayError(models.GatewayCodeUnavailable, "payment gateway is unavailable")
	}
	if !result.Success {
		os.releaseRefundClaim(ctx, payment.ID)
		if result.Failure != nil {
			return nil, *result.Failure
		}
		return nil, models.NewGatewayError(models.GatewayCodeUnavailable, "refund was not completed")
	}

	refund := &models.Transaction{
		OrderID:      order.ID,
		UserID:       order.UserID,
		Type:         models.TransactionTypeRefund,
		ProviderTxID: result.RefundID,
		Status:       models.TransactionStatusCompleted,
		Amount:       amount,
		Currency:     payment.Currency,
		CountryCode:  payment.CountryCode,
	}
	refund.Details.Gateway = gw.Name()
	refund.Details.OriginalTransactionID = payment.ID.String()
	refund.Details.Reason = reason

	// a refund driven by cancellation keeps the order cancelled; a standalone
	// refund of a live order moves it to refunded
	targetStatus := models.OrderStatusRefunded
	if order.Status == models.OrderStatusCancelled {
		targetStatus = models.OrderStatusCancelled
	}

	err = os.orders.RunInTx(ctx, func(tx repository.DBTX) error {
		if err := os.orders.UpdateOrderStatus(ctx, tx, orderID, targetStatus, "refund completed"); err != nil {
			return err
		}
		if err := os.orders.UpdateOrderPayment(ctx, tx, orderID, payment.ProviderTxID, models.PaymentStatusRefunded); err != nil {
			return err
		}
		if err := os.payments.UpdateTransactionStatus(ctx, tx, payment.ID, models.TransactionStatusRefunded); err != nil {
			return err
		}
		if _, err := os.payments.CreateTransaction(ctx, tx, refund); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		// the gateway refund went through; the claim stays on the payment so
		// nobody refunds it again while the bookkeeping is repaired by hand
		os.logger.Error("persisting refund failed after gateway accepted it, manual follow-up required",
			zap.String("order_id", orderID.String()),
			zap.String("refund_id", result.RefundID),
			zap.Error(err))
		return nil, err
	}

	os.logger.Info("refund completed",
		zap.String("order_id", orderID.String()),
		zap.String("refund_id", result.RefundID),
		zap.String("amount", amount.StringFixed(2)))

	go os.notify(order.UserID, order.MerchantID, order.ID, notify.ActionOrderRefunded)

	return refund, nil
}

// releaseRefundClaim puts a claimed payment back to completed after the
// gateway refused or failed the refund, so it stays refundable
func (os *OrderService) releaseRefundClaim(ctx context.Context, paymentID uuid.UUID) {
	if err := os.payments.ClaimTransaction(ctx, os.orders.Pool(), paymentID, models.TransactionStatusRefundPending, models.TransactionStatusCompleted); err != nil {
		os.logger.Error("releasing refund claim", zap.String("transaction_id", paymentID.String()), zap.Error(err))
	}
}

// GetOrder returns the user's order with items and tracking history
func (os *OrderService) GetOrder(ctx context.Context, orderID, userID uuid.UUID) (*models.Order, error) {
	order, err := os.orders.GetOrderByID(ctx, os.orders.Pool(), orderID)
	if err != nil {
		return nil, err
	}

	if order.UserID != userID {
		return nil, models.ErrForbidden
	}

	order.Items, err = os.orders.GetOrderItems(ctx, os.orders.Pool(), orderID)
	if err != nil {
		return nil, err
	}

	order.Tracking, err = os.orders.GetOrderTracking(ctx, os.orders.Pool(), orderID)
	if err != nil {
		return nil, err
	}

	return order, nil
}

// ListUserOrders returns page of user orders
func (os *OrderService) ListUserOrders(ctx context.Context, userID uuid.UUID, status string, page, limit int) ([]models.Order, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 10
	}

	return os.orders.ListUserOrders(ctx, os.orders.Pool(), userID, status, limit, (page-1)*limit)
}

// ListOrderTransactions returns the payment audit trail of the user's order
func (os *OrderService) ListOrderTransactions(ctx context.Context, orderID, userID uuid.UUID) ([]models.Transaction, error) {
	order, err := os.orders.GetOrderByID(ctx, os.orders.Pool(), orderID)
	if err != nil {
		return nil, err
	}

	if order.UserID != userID {
		return nil, models.ErrForbidden
	}

	return os.payments.GetTransactionsByOrder(ctx, os.orders.Pool(), orderID)
}

// GetOrdersForRefund writes ids of cancelled-but-still-paid orders to the
// channel for the refund reconciler
func (os *OrderService) GetOrdersForRefund(ctx context.Context, orderCh chan<- uuid.UUID) error {
	orders, err := os.orders.FindOrdersAwaitingRefund(ctx, os.orders.Pool(), 100)
	if err != nil {
		return err
	}

	for _, order := range orders {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case orderCh <- order.ID:
		}
	}

	return nil
}

// RefundForOrder re-drives refunds for orders received from the channel.
// Charges are never retried this way; only refunds owed after cancellation.
func (os *OrderService) RefundForOrder(ctx context.Context, orderCh <-chan uuid.UUID) {
	for {
		select {
		case <-ctx.Done():
			os.logger.Debug("refund reconciliation is done")
			return
		case orderID, ok := <-orderCh:
			if !ok {
				return
			}

			os.logger.Debug("retrying refund", zap.String("order_id", orderID.String()))

			order, err := os.orders.GetOrderByID(ctx, os.orders.Pool(), orderID)
			if err != nil {
				os.logger.Error("loading order for refund retry", zap.String("order_id", orderID.String()), zap.Error(err))
				continue
			}

			if _, err := os.ProcessRefund(ctx, orderID, order.TotalAmount, "refund reconciliation"); err != nil {
				os.logger.Error("refund retry failed", zap.String("order_id", orderID.String()), zap.Error(err))
			}
		}
	}
}

func (os *OrderService) notifyConfirmed(order *models.Order) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := os.notifier.NotifyMerchant(ctx, order.MerchantID, order.ID, notify.ActionNewOrder); err != nil {
		os.logger.Warn("merchant notification failed", zap.Error(err))
	}
	if err := os.notifier.NotifyCustomer(ctx, order.UserID, order.ID, notify.ActionOrderConfirmed); err != nil {
		os.logger.Warn("customer notification failed", zap.Error(err))
	}
}

func (os *OrderService) notify(userID, merchantID, orderID uuid.UUID, action string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := os.notifier.NotifyMerchant(ctx, merchantID, orderID, action); err != nil {
		os.logger.Warn("merchant notification failed", zap.Error(err))
	}
	if err := os.notifier.NotifyCustomer(ctx, userID, orderID, action); err != nil {
		os.logger.Warn("customer notification failed", zap.Error(err))
	}
}
