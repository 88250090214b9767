package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// transaction type
const (
	TransactionTypePayment = "payment"
	TransactionTypeRefund  = "refund"
)

// transaction status
const (
	TransactionStatusPending   = "pending"
	TransactionStatusCompleted = "completed"
	TransactionStatusFailed    = "failed"
	TransactionStatusRefunded  = "refunded"
	// a refund claimed this payment and is in flight at the gateway
	TransactionStatusRefundPending = "refund_pending"
)

// Transaction is payment transaction entity. Rows are append-only: a charge
// or refund attempt is recorded once and never deleted.
type Transaction struct {
	ID uuid.UUID
	// OrderID links transaction to its order
	OrderID uuid.UUID
	UserID  uuid.UUID
	// Type is payment or refund
	Type string
	// ProviderTxID is assigned by gateway, empty until gateway responds
	ProviderTxID string
	Status       string
	Amount       decimal.Decimal
	Currency     string
	CountryCode  string
	Fees         decimal.Decimal
	Details      TransactionDetails
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TransactionDetails is opaque gateway response metadata stored as JSON
type TransactionDetails struct {
	Gateway string `json:"gateway,omitempty"`
	// OriginalTransactionID links refund to the charge it reverses
	OriginalTransactionID string `json:"original_transaction_id,omitempty"`
	Reason                string `json:"reason,omitempty"`
	Message               string `json:"message,omitempty"`
	PaymentMethod         struct {
		Type     string `json:"type,omitempty"`
		LastFour string `json:"last_four,omitempty"`
		Brand    string `json:"brand,omitempty"`
	} `json:"payment_method,omitempty"`
}

// PaymentMethod is tokenized payment method descriptor. Token is an opaque
// provider token, never a raw card number.
type PaymentMethod struct {
	Type     string
	Token    string
	LastFour string
	Brand    string
}
