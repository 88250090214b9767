package models

import (
	"errors"
	"fmt"
)

var (
	ErrDataNotFound          = errors.New("data not found")
	ErrConflictData          = errors.New("data conflicts with existing data")
	ErrForbidden             = errors.New("access denied")
	ErrInvalidTransition     = errors.New("illegal order status transition")
	ErrInvalidAmount         = errors.New("amount must not be negative")
	ErrInvalidPaymentMethod  = errors.New("invalid payment method")
	ErrNoCompletedPayment    = errors.New("order has no completed payment")
	ErrRefundExceedsOriginal = errors.New("refund amount exceeds original payment")
	ErrEmptyCart             = errors.New("cart has no items")
	ErrOrderCreationFailed   = errors.New("order creation failed")
	ErrInternalError         = errors.New("internal error")
)

// gateway failure codes
const (
	GatewayCodeCardDeclined      = "card_declined"
	GatewayCodeInsufficientFunds = "insufficient_funds"
	GatewayCodeFraudDetected     = "fraud_detected"
	GatewayCodeInvalidAmount     = "invalid_amount"
	GatewayCodeAmountTooHigh     = "amount_too_high"
	GatewayCodeUnavailable       = "gateway_unavailable"
)

// GatewayError is structured payment gateway failure
type GatewayError struct {
	Code    string
	Message string
}

func (e GatewayError) Error() string {
	return fmt.Sprintf("gateway: %s: %s", e.Code, e.Message)
}

// NewGatewayError creates new GatewayError instance
func NewGatewayError(code, message string) GatewayError {
	return GatewayError{Code: code, Message: message}
}
