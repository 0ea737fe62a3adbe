package service

import (
	"context"

	"import-sourcing/internal/apperror"
	"import-sourcing/internal/models"
	"import-sourcing/internal/util"

	"go.uber.org/zap"
)

// SagaOrchestrator reacts to payment outcomes published by the payment gate
// and moves paid orders into fulfillment
type SagaOrchestrator struct {
	tracking *TrackingService
	logger   *zap.Logger
}

// NewSagaOrchestrator creates a new saga orchestrator
func NewSagaOrchestrator(tracking *TrackingService) *SagaOrchestrator {
	return &SagaOrchestrator{
		tracking: tracking,
		logger:   util.GetLogger(),
	}
}

// HandlePaymentCompleted confirms payment on the order's tracking timeline.
// An order already past awaiting_payment is left as is.
func (so *SagaOrchestrator) HandlePaymentCompleted(ctx context.Context, event *models.PaymentCompletedEvent) error {
	ctx, span := util.StartSpan(ctx, "SagaOrchestrator.HandlePaymentCompleted")
	defer span.End()

	if event.Purpose != models.PaymentPurposeImportOrder {
		return nil
	}

	so.logger.Info("Handling payment completed",
		zap.String("payment_id", event.PaymentID),
		zap.String("order_id", event.RelatedID))

	_, err := so.tracking.Advance(ctx, AdvanceInput{
		OrderID: event.RelatedID,
		Status:  models.ShippingPaymentConfirmed,
	})
	switch {
	case err == nil:
		return nil
	case apperror.Is(err, apperror.KindStateConflict):
		so.logger.Info("Order already past payment confirmation",
			zap.String("order_id", event.RelatedID),
			zap.String("reason", err.Error()))
		return nil
	case apperror.Is(err, apperror.KindNotFound):
		so.logger.Warn("Paid order not found", zap.String("order_id", event.RelatedID))
		return nil
	default:
		util.SpanError(span, err)
		return err
	}
}

// HandlePaymentFailed records a failed charge. The order stays awaiting
// payment so the buyer can retry checkout.
func (so *SagaOrchestrator) HandlePaymentFailed(ctx context.Context, event *models.PaymentFailedEvent) error {
	so.logger.Warn("Handling payment failed",
		zap.String("payment_id", event.PaymentID),
		zap.String("purpose", string(event.Purpose)),
		zap.String("related_id", event.RelatedID),
		zap.String("reason", event.Reason))
	return nil
}
