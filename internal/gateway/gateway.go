// Package gateway abstracts payment providers behind a common interface and
// resolves which provider serves a given country and payment method.
package gateway

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/skalov/mealmart/internal/models"
)

// ChargeRequest is gateway charge input
type ChargeRequest struct {
	OrderID       string
	Amount        decimal.Decimal
	Currency      string
	PaymentMethod models.PaymentMethod
}

// ChargeResult is gateway charge outcome
type ChargeResult struct {
	Success      bool
	ProviderTxID string
	Amount       decimal.Decimal
	Currency     string
	Fees         decimal.Decimal
	Message      string
	ProcessedAt  time.Time
	// Failure is set when Success is false
	Failure *models.GatewayError
}

// RefundResult is gateway refund outcome
type RefundResult struct {
	Success     bool
	RefundID    string
	Amount      decimal.Decimal
	ProcessedAt time.Time
	Failure     *models.GatewayError
}

// ValidationResult is payment method validation outcome
type ValidationResult struct {
	Valid bool
	Token string
}

// Gateway is payment provider abstraction. Implementations are blocking
// remote dependencies; callers bound each call with a context deadline.
type Gateway interface {
	Name() string
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
	Refund(ctx context.Context, providerTxID string, amount decimal.Decimal, reason string) (*RefundResult, error)
	ValidateMethod(ctx context.Context, method models.PaymentMethod) (*ValidationResult, error)
}
