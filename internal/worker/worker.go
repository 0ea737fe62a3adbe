package worker

import (
	"context"
	"time"

	"import-sourcing/internal/apperror"
	"import-sourcing/internal/broker"
	"import-sourcing/internal/models"
	"import-sourcing/internal/service"
	"import-sourcing/internal/store"
	"import-sourcing/internal/util"

	"go.uber.org/zap"
)

// recoveryBatchSize bounds the requests re-triggered per tick
const recoveryBatchSize = 50

// SourcingWorker consumes sourcing triggers and runs the sourcing agent
type SourcingWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	agent        *service.SourcingAgent
	logger       *zap.Logger
}

// NewSourcingWorker creates a new sourcing worker
func NewSourcingWorker(
	consumer *broker.Consumer,
	processed broker.ProcessedEvents,
	agent *service.SourcingAgent,
) *SourcingWorker {
	w := &SourcingWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(processed),
		agent:        agent,
		logger:       util.GetLogger(),
	}
	w.eventHandler.OnRequestSubmitted(w.handleRequestSubmitted)
	return w
}

// handleRequestSubmitted runs the agent once per trigger. A request another
// worker already finished is not an error.
func (w *SourcingWorker) handleRequestSubmitted(ctx context.Context, event *models.RequestSubmittedEvent) error {
	res, err := w.agent.ProcessRequest(ctx, event.RequestID)
	if apperror.Is(err, apperror.KindStateConflict) || apperror.Is(err, apperror.KindNotFound) {
		w.logger.Info("Skipping sourcing trigger",
			zap.String("request_id", event.RequestID),
			zap.Bool("retry", event.Retry),
			zap.String("reason", err.Error()))
		return nil
	}
	if err != nil {
		return err
	}

	w.logger.Info("Request sourced",
		zap.String("request_id", event.RequestID),
		zap.String("source", res.Source),
		zap.Int("quotes", len(res.Quotes)))
	return nil
}

// Start starts the worker
func (w *SourcingWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting sourcing worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *SourcingWorker) Stop() error {
	w.logger.Info("Stopping sourcing worker")
	return w.consumer.Close()
}

// FulfillmentWorker moves paid orders into fulfillment
type FulfillmentWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewFulfillmentWorker creates a new fulfillment worker
func NewFulfillmentWorker(
	consumer *broker.Consumer,
	processed broker.ProcessedEvents,
	sagaOrchestrator *service.SagaOrchestrator,
) *FulfillmentWorker {
	eventHandler := broker.NewEventHandler(processed)

	eventHandler.OnPaymentCompleted(sagaOrchestrator.HandlePaymentCompleted)
	eventHandler.OnPaymentFailed(sagaOrchestrator.HandlePaymentFailed)

	return &FulfillmentWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		logger:       util.GetLogger(),
	}
}

// Start starts the worker
func (w *FulfillmentWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting fulfillment worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *FulfillmentWorker) Stop() error {
	w.logger.Info("Stopping fulfillment worker")
	return w.consumer.Close()
}

// PaymentConfirmer moves a paid order into fulfillment
type PaymentConfirmer interface {
	HandlePaymentCompleted(ctx context.Context, event *models.PaymentCompletedEvent) error
}

// RecoveryWorker re-publishes sourcing triggers for requests that were never
// processed, either because the trigger was lost or a claim went stale. It
// also confirms paid orders whose PaymentCompleted event was never handled.
type RecoveryWorker struct {
	store      store.Repository
	publisher  service.EventPublisher
	confirmer  PaymentConfirmer
	interval   time.Duration
	staleAfter time.Duration
	now        func() time.Time
	logger     *zap.Logger
}

// NewRecoveryWorker creates a new recovery worker. confirmer may be nil.
func NewRecoveryWorker(
	store store.Repository,
	publisher service.EventPublisher,
	confirmer PaymentConfirmer,
	interval, staleAfter time.Duration,
) *RecoveryWorker {
	return &RecoveryWorker{
		store:      store,
		publisher:  publisher,
		confirmer:  confirmer,
		interval:   interval,
		staleAfter: staleAfter,
		now:        time.Now,
		logger:     util.GetLogger(),
	}
}

// Start runs a recovery pass every interval until ctx is cancelled
func (w *RecoveryWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting recovery worker", zap.Duration("interval", w.interval))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Stopping recovery worker")
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.RunOnce(ctx); err != nil {
				w.logger.Error("Recovery pass failed", zap.Error(err))
			}
		}
	}
}

// RunOnce re-triggers stale requests and confirms stuck paid orders. It
// returns how many of either were recovered.
func (w *RecoveryWorker) RunOnce(ctx context.Context) (int, error) {
	cutoff := w.now().Add(-w.staleAfter)

	sent, err := w.retriggerRequests(ctx, cutoff)
	if err != nil {
		return sent, err
	}
	confirmed, err := w.confirmPaidOrders(ctx, cutoff)
	return sent + confirmed, err
}

func (w *RecoveryWorker) retriggerRequests(ctx context.Context, cutoff time.Time) (int, error) {
	stale, err := w.store.ListStaleImportRequests(ctx, cutoff, recoveryBatchSize)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, req := range stale {
		event := &models.RequestSubmittedEvent{
			BaseEvent: broker.NewBaseEvent(models.EventTypeRequestSubmitted),
			RequestID: req.ID,
			OwnerID:   req.OwnerID,
			Retry:     true,
		}
		if err := w.publisher.PublishRequestSubmitted(ctx, event); err != nil {
			util.SourcingTriggerFailuresTotal.Inc()
			w.logger.Warn("Failed to re-trigger sourcing",
				zap.String("request_id", req.ID),
				zap.Error(err))
			continue
		}
		sent++
	}

	if sent > 0 {
		w.logger.Info("Re-triggered stale requests", zap.Int("count", sent))
	}
	return sent, nil
}

// confirmPaidOrders replays payment confirmation for orders that were paid
// before cutoff but never left awaiting_payment
func (w *RecoveryWorker) confirmPaidOrders(ctx context.Context, cutoff time.Time) (int, error) {
	if w.confirmer == nil {
		return 0, nil
	}
	waiting, err := w.store.ListOrdersByShippingStatus(ctx, models.ShippingAwaitingPayment)
	if err != nil {
		return 0, err
	}

	confirmed, attempted := 0, 0
	for _, order := range waiting {
		if order.PaymentStatus != models.OrderPaymentPaid || !order.UpdatedAt.Before(cutoff) {
			continue
		}
		if attempted == recoveryBatchSize {
			break
		}
		attempted++

		req, err := w.store.GetImportRequest(ctx, order.RequestID)
		if err == nil && req.Status.IsTerminal() {
			continue
		}

		event := &models.PaymentCompletedEvent{
			BaseEvent: broker.NewBaseEvent(models.EventTypePaymentCompleted),
			Purpose:   models.PaymentPurposeImportOrder,
			RelatedID: order.ID,
		}
		if err := w.confirmer.HandlePaymentCompleted(ctx, event); err != nil {
			w.logger.Warn("Failed to confirm paid order",
				zap.String("order_id", order.ID),
				zap.Error(err))
			continue
		}
		confirmed++
	}

	if confirmed > 0 {
		w.logger.Info("Confirmed stuck paid orders", zap.Int("count", confirmed))
	}
	return confirmed, nil
}
