package service

import (
	"context"

	"import-sourcing/internal/apperror"
	"import-sourcing/internal/broker"
	"import-sourcing/internal/models"
	"import-sourcing/internal/store"
	"import-sourcing/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OrderService turns a selected quote into an import order
type OrderService struct {
	store     store.Repository
	publisher EventPublisher
	notifier  Notifier
	logger    *zap.Logger
}

// NewOrderService creates a new order service. notifier may be nil.
func NewOrderService(store store.Repository, publisher EventPublisher, notifier Notifier) *OrderService {
	return &OrderService{
		store:     store,
		publisher: publisher,
		notifier:  notifier,
		logger:    util.GetLogger(),
	}
}

// SelectQuote creates an order awaiting payment for one of the buyer's quotes.
// A quote is consumed by at most one order.
func (s *OrderService) SelectQuote(ctx context.Context, buyerID, quoteID string) (*models.ImportOrder, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.SelectQuote")
	defer span.End()

	quote, err := s.store.GetQuote(ctx, quoteID)
	if err != nil {
		return nil, err
	}

	req, err := s.store.GetImportRequest(ctx, quote.RequestID)
	if err != nil {
		return nil, err
	}
	if !visibleTo(buyerID, req.OwnerID) {
		return nil, apperror.NotFound("quote", quoteID)
	}
	if req.Status != models.RequestStatusQuoted {
		return nil, apperror.Conflict("import request %s is %s; quotes can no longer be selected", req.ID, req.Status)
	}

	order := &models.ImportOrder{
		ID:             uuid.New().String(),
		OwnerID:        req.OwnerID,
		QuoteID:        quote.ID,
		RequestID:      req.ID,
		PaymentStatus:  models.OrderPaymentPending,
		ShippingStatus: models.ShippingAwaitingPayment,
	}
	initial := &models.TrackingEvent{
		ID:          uuid.New().String(),
		Status:      models.ShippingAwaitingPayment,
		Description: models.ShippingAwaitingPayment.DefaultDescription(),
	}

	if err := s.store.CreateOrder(ctx, order, initial); err != nil {
		util.SpanError(span, err)
		return nil, err
	}

	util.ImportOrdersCreatedTotal.Inc()
	s.logger.Info("Import order created",
		zap.String("order_id", order.ID),
		zap.String("quote_id", quote.ID),
		zap.String("request_id", req.ID))

	event := &models.OrderCreatedEvent{
		BaseEvent: broker.NewBaseEvent(models.EventTypeOrderCreated),
		OrderID:   order.ID,
		QuoteID:   quote.ID,
		RequestID: req.ID,
		OwnerID:   order.OwnerID,
	}
	if err := s.publisher.PublishOrderCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderCreated event", zap.Error(err))
	}

	publishOrderUpdate(ctx, s.notifier, s.logger, order, initial)
	return order, nil
}

// ListByOwner returns the buyer's orders, newest first
func (s *OrderService) ListByOwner(ctx context.Context, ownerID string) ([]models.ImportOrder, error) {
	return s.store.ListOrdersByOwner(ctx, ownerID)
}

// ListByShippingStatus returns orders at one stage, or all orders for ""
func (s *OrderService) ListByShippingStatus(ctx context.Context, status models.ShippingStatus) ([]models.ImportOrder, error) {
	if status != "" && !status.Valid() {
		return nil, apperror.Validation(map[string]string{"shipping_status": "unknown shipping stage"})
	}
	return s.store.ListOrdersByShippingStatus(ctx, status)
}

// requireLiveRequest fails with a conflict once the order's request was
// cancelled or rejected
func requireLiveRequest(ctx context.Context, repo store.Repository, order *models.ImportOrder) error {
	req, err := repo.GetImportRequest(ctx, order.RequestID)
	if err != nil {
		return err
	}
	if req.Status.IsTerminal() {
		return apperror.Conflict("import request %s is %s; order %s is closed", req.ID, req.Status, order.ID)
	}
	return nil
}
