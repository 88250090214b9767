// Package notify delivers best-effort order notifications. Failures are
// logged and never propagated to the order flow.
package notify

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// notification actions
const (
	ActionNewOrder       = "new_order"
	ActionOrderConfirmed = "order_confirmed"
	ActionOrderCancelled = "order_cancelled"
	ActionOrderRefunded  = "order_refunded"
)

// Notifier sends order event notifications
type Notifier interface {
	NotifyMerchant(ctx context.Context, merchantID, orderID uuid.UUID, action string) error
	NotifyCustomer(ctx context.Context, userID, orderID uuid.UUID, action string) error
}

// LogNotifier logs notifications instead of delivering them. Stands in until
// a real notification channel is wired.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates new LogNotifier instance
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) NotifyMerchant(ctx context.Context, merchantID, orderID uuid.UUID, action string) error {
	n.logger.Info("notify merchant",
		zap.String("merchant_id", merchantID.String()),
		zap.String("order_id", orderID.String()),
		zap.String("action", action))
	return nil
}

func (n *LogNotifier) NotifyCustomer(ctx context.Context, userID, orderID uuid.UUID, action string) error {
	n.logger.Info("notify customer",
		zap.String("user_id", userID.String()),
		zap.String("order_id", orderID.String()),
		zap.String("action", action))
	return nil
}
