package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/phedde/luhn-algorithm"
	"github.com/shopspring/decimal"
	"github.com/skalov/mealmart/internal/models"
)

// charge limit for test payments
var loopbackChargeLimit = decimal.NewFromInt(1000)

// reserved lastFour sentinels triggering deterministic failures
const (
	lastFourDeclined          = "0002"
	lastFourInsufficientFunds = "0004"
	lastFourFraud             = "0009"
)

// Loopback is deterministic in-process gateway simulator used outside
// production. Specific lastFour values fail deterministically so callers can
// exercise decline paths.
type Loopback struct {
	minDelay time.Duration
	maxDelay time.Duration
}

// NewLoopback creates new Loopback instance
func NewLoopback() *Loopback {
	return &Loopback{
		minDelay: 20 * time.Millisecond,
		maxDelay: 60 * time.Millisecond,
	}
}

func (g *Loopback) Name() string { return "loopback" }

// simulateLatency blocks for a bounded random delay, or until ctx is done
func (g *Loopback) simulateLatency(ctx context.Context) error {
	delay := g.minDelay + time.Duration(rand.Int63n(int64(g.maxDelay-g.minDelay)))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

// Charge simulates a charge
func (g *Loopback) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	if err := g.simulateLatency(ctx); err != nil {
		return nil, err
	}

	if !req.Amount.IsPositive() {
		return failedCharge(models.GatewayCodeInvalidAmount, "amount must be greater than 0"), nil
	}

	if req.Amount.GreaterThan(loopbackChargeLimit) {
		return failedCharge(models.GatewayCodeAmountTooHigh, "amount exceeds limit for test payments"), nil
	}

	switch req.PaymentMethod.LastFour {
	case lastFourDeclined:
		return failedCharge(models.GatewayCodeCardDeclined, "card was declined"), nil
	case lastFourInsufficientFunds:
		return failedCharge(models.GatewayCodeInsufficientFunds, "insufficient funds"), nil
	case lastFourFraud:
		return failedCharge(models.GatewayCodeFraudDetected, "transaction flagged for fraud"), nil
	}

	return &ChargeResult{
		Success:      true,
		ProviderTxID: newProviderID("txn"),
		Amount:       req.Amount,
		Currency:     req.Currency,
		Fees:         req.Amount.Mul(decimal.NewFromFloat(0.029)).Add(decimal.NewFromFloat(0.30)).Round(2),
		Message:      "payment processed (test mode)",
		ProcessedAt:  time.Now().UTC(),
	}, nil
}

// Refund simulates a refund
func (g *Loopback) Refund(ctx context.Context, providerTxID string, amount decimal.Decimal, reason string) (*RefundResult, error) {
	if err := g.simulateLatency(ctx); err != nil {
		return nil, err
	}

	if !amount.IsPositive() {
		return &RefundResult{
			Success: false,
			Failure: &models.GatewayError{Code: models.GatewayCodeInvalidAmount, Message: "amount must be greater than 0"},
		}, nil
	}

	return &RefundResult{
		Success:     true,
		RefundID:    newProviderID("ref"),
		Amount:      amount,
		ProcessedAt: time.Now().UTC(),
	}, nil
}

// ValidateMethod checks the payment method descriptor. Card tokens that carry
// a full number are Luhn-checked.
func (g *Loopback) ValidateMethod(ctx context.Context, method models.PaymentMethod) (*ValidationResult, error) {
	if err := g.simulateLatency(ctx); err != nil {
		return nil, err
	}

	if method.Type == "" {
		return &ValidationResult{Valid: false}, nil
	}

	if method.Type == "card" {
		if num, err := strconv.ParseInt(method.LastFour, 10, 64); err != nil || num < 0 {
			return &ValidationResult{Valid: false}, nil
		}
		if cardNum, err := strconv.ParseInt(method.Token, 10, 64); err == nil {
			if !luhn.IsValid(cardNum) {
				return &ValidationResult{Valid: false}, nil
			}
		}
	}

	return &ValidationResult{Valid: true, Token: newProviderID("tok")}, nil
}

func failedCharge(code, message string) *ChargeResult {
	return &ChargeResult{
		Success:      false,
		ProviderTxID: newProviderID("failed"),
		ProcessedAt:  time.Now().UTC(),
		Failure:      &models.GatewayError{Code: code, Message: message},
	}
}

func newProviderID(prefix string) string {
	return fmt.Sprintf("%s_%d_%06d", prefix, time.Now().UnixMilli(), rand.Intn(1000000))
}
