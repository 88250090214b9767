package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/skalov/mealmart/internal/models"
	"github.com/skalov/mealmart/internal/repository/postgres"
)

const pgErrUniqueViolationCode = "23505"

const (
	insertOrderQuery = `
						INSERT INTO orders (id, order_number, user_id, merchant_id, cart_id, status, payment_status,
							subtotal, tax_amount, delivery_fee, processing_fee, discount_amount, total_amount,
							currency_code, country_code, delivery_address, customer_name, customer_email, merchant_name)
						VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
						RETURNING created_at, updated_at
`
	insertOrderItemQuery = `
						INSERT INTO order_items (id, order_id, menu_item_id, item_name, quantity,
							unit_price, total_price, customizations, special_instructions)
						VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`
	updateOrderStatusQuery = `
						UPDATE orders
						SET status = $2, updated_at = NOW()
						WHERE id = $1
`
	insertTrackingQuery = `
						INSERT INTO order_tracking (order_id, status, notes)
						VALUES ($1, $2, $3)
`
	updateOrderPaymentQuery = `
						UPDATE orders
						SET payment_id = $2, payment_status = $3, updated_at = NOW()
						WHERE id = $1
`
	selectOrderColumns = `id, order_number, user_id, merchant_id, cart_id, status, payment_id, payment_status,
							subtotal, tax_amount, delivery_fee, processing_fee, discount_amount, total_amount,
							currency_code, country_code, delivery_address, customer_name, customer_email, merchant_name,
							created_at, updated_at`

	selectOrderItemsQuery = `
						SELECT id, order_id, menu_item_id, item_name, quantity, unit_price, total_price,
							customizations, special_instructions
						FROM order_items
						WHERE order_id = $1
						ORDER BY id
`
	selectTrackingQuery = `
						SELECT id, order_id, status, notes, created_at FROM order_tracking
						WHERE order_id = $1
						ORDER BY created_at
`
)

// OrderRepository implements order persistence over postgres
type OrderRepository struct {
	db *postgres.DB
}

// NewOrderRepository creates new OrderRepository instance
func NewOrderRepository(db *postgres.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// RunInTx runs fn inside a database transaction
func (or *OrderRepository) RunInTx(ctx context.Context, fn func(tx DBTX) error) error {
	return or.db.RunInTx(ctx, func(tx pgx.Tx) error { return fn(tx) })
}

// Pool returns non-transactional querying surface
func (or *OrderRepository) Pool() DBTX {
	return or.db.Pool
}

// newOrderNumber generates short human-facing order number:
// ORD + last 8 digits of unix millis + 4 random upper alphanumerics.
func newOrderNumber() string {
	const alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

	ms := fmt.Sprintf("%d", time.Now().UnixMilli())
	if len(ms) > 8 {
		ms = ms[len(ms)-8:]
	}

	var sb strings.Builder
	sb.WriteString("ORD")
	sb.WriteString(ms)
	for i := 0; i < 4; i++ {
		sb.WriteByte(alphabet[rand.Intn(len(alphabet))])
	}

	return sb.String()
}

// CreateOrder inserts new order row. It assigns id, order number and
// timestamps to the passed order.
func (or *OrderRepository) CreateOrder(ctx context.Context, db DBTX, order *models.Order) (*models.Order, error) {
	order.ID = uuid.New()
	order.Number = newOrderNumber()

	address, err := json.Marshal(order.DeliveryAddress)
	if err != nil {
		return nil, err
	}

	err = db.QueryRow(ctx, insertOrderQuery,
		order.ID, order.Number, order.UserID, order.MerchantID, order.CartID, order.Status, order.PaymentStatus,
		order.Subtotal, order.TaxAmount, order.DeliveryFee, order.ProcessingFee, order.DiscountAmount, order.TotalAmount,
		order.CurrencyCode, order.CountryCode, address, order.CustomerName, order.CustomerEmail, order.MerchantName,
	).Scan(&order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		if errCode := or.db.ErrorCode(err); errCode == pgErrUniqueViolationCode {
			return nil, models.ErrConflictData
		}
		return nil, err
	}

	return order, nil
}

// AddOrderItems inserts order line items
func (or *OrderRepository) AddOrderItems(ctx context.Context, db DBTX, orderID uuid.UUID, items []models.OrderItem) error {
	for i := range items {
		item := &items[i]
		item.ID = uuid.New()
		item.OrderID = orderID

		customizations, err := json.Marshal(item.Customizations)
		if err != nil {
			return err
		}

		_, err = db.Exec(ctx, insertOrderItemQuery,
			item.ID, item.OrderID, item.MenuItemID, item.Name, item.Quantity,
			item.UnitPrice, item.TotalPrice, customizations, item.SpecialInstructions,
		)
		if err != nil {
			return err
		}
	}

	return nil
}

// UpdateOrderStatus sets order status and appends tracking entry.
// Re-applying the current status only appends another history row.
func (or *OrderRepository) UpdateOrderStatus(ctx context.Context, db DBTX, orderID uuid.UUID, status, notes string) error {
	cmd, err := db.Exec(ctx, updateOrderStatusQuery, orderID, status)
	if err != nil {
		return err
	}

	if cmd.RowsAffected() == 0 {
		return models.ErrDataNotFound
	}

	_, err = db.Exec(ctx, insertTrackingQuery, orderID, status, notes)
	return err
}

// UpdateOrderPayment attaches payment linkage to order
func (or *OrderRepository) UpdateOrderPayment(ctx context.Context, db DBTX, orderID uuid.UUID, paymentID, paymentStatus string) error {
	cmd, err := db.Exec(ctx, updateOrderPaymentQuery, orderID, paymentID, paymentStatus)
	if err != nil {
		return err
	}

	if cmd.RowsAffected() == 0 {
		return models.ErrDataNotFound
	}

	return nil
}

func scanOrder(row pgx.Row) (*models.Order, error) {
	order := models.Order{}
	var address []byte

	err := row.Scan(&order.ID, &order.Number, &order.UserID, &order.MerchantID, &order.CartID,
		&order.Status, &order.PaymentID, &order.PaymentStatus,
		&order.Subtotal, &order.TaxAmount, &order.DeliveryFee, &order.ProcessingFee,
		&order.DiscountAmount, &order.TotalAmount,
		&order.CurrencyCode, &order.CountryCode, &address,
		&order.CustomerName, &order.CustomerEmail, &order.MerchantName,
		&order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrDataNotFound
		}
		return nil, err
	}

	if err := json.Unmarshal(address, &order.DeliveryAddress); err != nil {
		return nil, err
	}

	return &order, nil
}

// GetOrderByID returns order by id
func (or *OrderRepository) GetOrderByID(ctx context.Context, db DBTX, orderID uuid.UUID) (*models.Order, error) {
	query := `SELECT ` + selectOrderColumns + ` FROM orders WHERE id = $1`
	return scanOrder(db.QueryRow(ctx, query, orderID))
}

// GetOrderItems returns order line items
func (or *OrderRepository) GetOrderItems(ctx context.Context, db DBTX, orderID uuid.UUID) ([]models.OrderItem, error) {
	rows, err := db.Query(ctx, selectOrderItemsQuery, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []models.OrderItem{}

	for rows.Next() {
		item := models.OrderItem{}
		var customizations []byte
		err = rows.Scan(&item.ID, &item.OrderID, &item.MenuItemID, &item.Name, &item.Quantity,
			&item.UnitPrice, &item.TotalPrice, &customizations, &item.SpecialInstructions)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(customizations, &item.Customizations); err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return items, nil
}

// GetOrderTracking returns order status history
func (or *OrderRepository) GetOrderTracking(ctx context.Context, db DBTX, orderID uuid.UUID) ([]models.TrackingEvent, error) {
	rows, err := db.Query(ctx, selectTrackingQuery, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []models.TrackingEvent{}

	for rows.Next() {
		ev := models.TrackingEvent{}
		err = rows.Scan(&ev.ID, &ev.OrderID, &ev.Status, &ev.Notes, &ev.CreatedAt)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return events, nil
}

// ListUserOrders returns page of user orders, newest first.
// Status filter is applied when status is non-empty.
func (or *OrderRepository) ListUserOrders(ctx context.Context, db DBTX, userID uuid.UUID, status string, limit, offset int) ([]models.Order, error) {
	query := `SELECT ` + selectOrderColumns + ` FROM orders WHERE user_id = $1`
	args := []any{userID}

	if status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}

	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	return or.queryOrders(ctx, db, query, args...)
}

// FindOrdersAwaitingRefund returns cancelled orders whose payment is still
// marked paid, i.e. the refund has not gone through yet.
func (or *OrderRepository) FindOrdersAwaitingRefund(ctx context.Context, db DBTX, limit int) ([]models.Order, error) {
	query := `SELECT ` + selectOrderColumns + ` FROM orders
						WHERE status = 'cancelled' AND payment_status = 'paid'
						ORDER BY updated_at LIMIT $1`
	return or.queryOrders(ctx, db, query, limit)
}

func (or *OrderRepository) queryOrders(ctx context.Context, db DBTX, query string, args ...any) ([]models.Order, error) {
	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := []models.Order{}

	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return orders, nil
}
