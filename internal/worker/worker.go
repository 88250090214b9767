package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type OrderService interface {
	RefundForOrder(ctx context.Context, orderCh <-chan uuid.UUID)
	GetOrdersForRefund(ctx context.Context, orderCh chan<- uuid.UUID) error
}

// RefundReconciler re-drives refunds owed to cancelled orders whose gateway
// refund failed during cancellation. Charges are never retried here.
type RefundReconciler struct {
	svc      OrderService
	interval time.Duration
	logger   *zap.Logger
}

// NewRefundReconciler creates new refund reconciler
func NewRefundReconciler(svc OrderService, interval time.Duration, logger *zap.Logger) *RefundReconciler {
	return &RefundReconciler{
		svc:      svc,
		interval: interval,
		logger:   logger,
	}
}

// Run polls for orders awaiting refund until ctx is done
func (rr *RefundReconciler) Run(ctx context.Context) {
	orders := make(chan uuid.UUID, 10)

	go rr.svc.RefundForOrder(ctx, orders)

	ticker := time.NewTicker(rr.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			rr.logger.Debug("refund reconciler is done")
			return
		case <-ticker.C:
			if err := rr.svc.GetOrdersForRefund(ctx, orders); err != nil {
				rr.logger.Error("error getting orders for refund", zap.Error(err))
			}
		}
	}
}
