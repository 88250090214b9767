package repository

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/skalov/mealmart/internal/models"
	"github.com/skalov/mealmart/internal/repository/postgres"
)

const (
	insertTransactionQuery = `
						INSERT INTO transactions (id, order_id, user_id, transaction_type, provider_transaction_id,
							status, amount, currency, country_code, fees, details)
						VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
						RETURNING created_at, updated_at
`
	selectTransactionColumns = `id, order_id, user_id, transaction_type, provider_transaction_id,
							status, amount, currency, country_code, fees, details, created_at, updated_at`

	updateTransactionStatusQuery = `
						UPDATE transactions
						SET status = $2, updated_at = NOW()
						WHERE id = $1
`
	claimTransactionQuery = `
						UPDATE transactions
						SET status = $3, updated_at = NOW()
						WHERE id = $1 AND status = $2
`
)

// PaymentRepository implements payment transaction persistence. Transactions
// are an append-only audit trail: rows are inserted and status-updated, never
// deleted.
type PaymentRepository struct {
	db *postgres.DB
}

// NewPaymentRepository creates new PaymentRepository instance
func NewPaymentRepository(db *postgres.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// CreateTransaction inserts new payment transaction
func (pr *PaymentRepository) CreateTransaction(ctx context.Context, db DBTX, txn *models.Transaction) (*models.Transaction, error) {
	txn.ID = uuid.New()

	details, err := json.Marshal(txn.Details)
	if err != nil {
		return nil, err
	}

	err = db.QueryRow(ctx, insertTransactionQuery,
		txn.ID, txn.OrderID, txn.UserID, txn.Type, txn.ProviderTxID,
		txn.Status, txn.Amount, txn.Currency, txn.CountryCode, txn.Fees, details,
	).Scan(&txn.CreatedAt, &txn.UpdatedAt)
	if err != nil {
		return nil, err
	}

	return txn, nil
}

// GetTransactionByID returns transaction by id
func (pr *PaymentRepository) GetTransactionByID(ctx context.Context, db DBTX, id uuid.UUID) (*models.Transaction, error) {
	query := `SELECT ` + selectTransactionColumns + ` FROM transactions WHERE id = $1`
	return scanTransaction(db.QueryRow(ctx, query, id))
}

// GetTransactionsByOrder returns all order transactions, oldest first
func (pr *PaymentRepository) GetTransactionsByOrder(ctx context.Context, db DBTX, orderID uuid.UUID) ([]models.Transaction, error) {
	query := `SELECT ` + selectTransactionColumns + ` FROM transactions WHERE order_id = $1 ORDER BY created_at`

	rows, err := db.Query(ctx, query, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	txns := []models.Transaction{}

	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, *txn)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return txns, nil
}

// GetCompletedPayment returns the completed payment-type transaction of the
// order. Each order has at most one.
func (pr *PaymentRepository) GetCompletedPayment(ctx context.Context, db DBTX, orderID uuid.UUID) (*models.Transaction, error) {
	query := `SELECT ` + selectTransactionColumns + ` FROM transactions
						WHERE order_id = $1 AND transaction_type = 'payment' AND status = 'completed'
						ORDER BY created_at DESC LIMIT 1`
	return scanTransaction(db.QueryRow(ctx, query, orderID))
}

// ClaimTransaction transitions transaction status only when the row still has
// the expected current status. Returns ErrConflictData when the row was
// already moved, so concurrent claimants lose deterministically.
func (pr *PaymentRepository) ClaimTransaction(ctx context.Context, db DBTX, id uuid.UUID, from, to string) error {
	cmd, err := db.Exec(ctx, claimTransactionQuery, id, from, to)
	if err != nil {
		return err
	}

	if cmd.RowsAffected() == 0 {
		return models.ErrConflictData
	}

	return nil
}

// UpdateTransactionStatus sets transaction status
func (pr *PaymentRepository) UpdateTransactionStatus(ctx context.Context, db DBTX, id uuid.UUID, status string) error {
	cmd, err := db.Exec(ctx, updateTransactionStatusQuery, id, status)
	if err != nil {
		return err
	}

	if cmd.RowsAffected() == 0 {
		return models.ErrDataNotFound
	}

	return nil
}

func scanTransaction(row pgx.Row) (*models.Transaction, error) {
	txn := models.Transaction{}
	var details []byte

	err := row.Scan(&txn.ID, &txn.OrderID, &txn.UserID, &txn.Type, &txn.ProviderTxID,
		&txn.Status, &txn.Amount, &txn.Currency, &txn.CountryCode, &txn.Fees, &details,
		&txn.CreatedAt, &txn.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrDataNotFound
		}
		return nil, err
	}

	if err := json.Unmarshal(details, &txn.Details); err != nil {
		return nil, err
	}

	return &txn, nil
}
