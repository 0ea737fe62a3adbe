package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"import-sourcing/internal/apperror"
	"import-sourcing/internal/broker"
	"import-sourcing/internal/models"
	"import-sourcing/internal/store"
	"import-sourcing/internal/util"
	"import-sourcing/internal/validation"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrLiveUpdatesUnavailable is returned by Subscribe without a subscriber
var ErrLiveUpdatesUnavailable = errors.New("live updates unavailable")

// OrderUpdate is pushed to order subscribers on every change
type OrderUpdate struct {
	OrderID        string                    `json:"order_id"`
	PaymentStatus  models.OrderPaymentStatus `json:"payment_status"`
	ShippingStatus models.ShippingStatus     `json:"shipping_status"`
	Event          *models.TrackingEvent     `json:"event,omitempty"`
}

func publishOrderUpdate(ctx context.Context, notifier Notifier, logger *zap.Logger, order *models.ImportOrder, event *models.TrackingEvent) {
	if notifier == nil {
		return
	}
	update := OrderUpdate{
		OrderID:        order.ID,
		PaymentStatus:  order.PaymentStatus,
		ShippingStatus: order.ShippingStatus,
		Event:          event,
	}
	if err := notifier.Publish(ctx, OrderChannel(order.ID), update); err != nil {
		logger.Warn("Failed to notify order subscribers", zap.String("order_id", order.ID), zap.Error(err))
	}
}

// TrackingService advances orders through the shipping stages
type TrackingService struct {
	store      store.Repository
	publisher  EventPublisher
	notifier   Notifier
	subscriber Subscriber
	now        func() time.Time
	logger     *zap.Logger
}

// NewTrackingService creates a new tracking service. notifier and subscriber
// may be nil.
func NewTrackingService(store store.Repository, publisher EventPublisher, notifier Notifier, subscriber Subscriber) *TrackingService {
	return &TrackingService{
		store:      store,
		publisher:  publisher,
		notifier:   notifier,
		subscriber: subscriber,
		now:        time.Now,
		logger:     util.GetLogger(),
	}
}

// AdvanceInput moves an order to a later stage
type AdvanceInput struct {
	OrderID           string                `json:"-" binding:"required"`
	Status            models.ShippingStatus `json:"status" binding:"required,shipping_stage"`
	Description       string                `json:"description" binding:"max=500"`
	EstimatedDelivery *time.Time            `json:"estimated_delivery"`
	TrackingNumber    string                `json:"tracking_number" binding:"max=100"`
}

// Advance appends a tracking event and moves the order to in.Status in one
// write. The stage must be strictly after the current one, and an order
// leaves awaiting_payment only once paid.
func (s *TrackingService) Advance(ctx context.Context, in AdvanceInput) (*models.TrackingEvent, error) {
	ctx, span := util.StartSpan(ctx, "TrackingService.Advance")
	defer span.End()

	in.Description = strings.TrimSpace(in.Description)
	in.TrackingNumber = strings.TrimSpace(in.TrackingNumber)
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	description := in.Description
	if description == "" {
		description = in.Status.DefaultDescription()
	}
	trackingNumber := in.TrackingNumber

	current, err := s.store.GetOrder(ctx, in.OrderID)
	if err != nil {
		return nil, err
	}
	if err := requireLiveRequest(ctx, s.store, current); err != nil {
		return nil, err
	}

	order, event, err := s.store.AdvanceShipment(ctx, in.OrderID, func(order *models.ImportOrder) (*models.TrackingEvent, error) {
		current := models.StageIndex(order.ShippingStatus)
		if models.StageIndex(in.Status) <= current {
			return nil, apperror.Conflict("order %s is %s and cannot move to %s", order.ID, order.ShippingStatus, in.Status)
		}
		if order.ShippingStatus == models.ShippingAwaitingPayment && order.PaymentStatus != models.OrderPaymentPaid {
			return nil, apperror.Conflict("order %s is awaiting payment", order.ID)
		}

		order.ShippingStatus = in.Status
		if in.Status == models.ShippingDelivered {
			deliveredAt := s.now().UTC()
			order.DeliveredAt = &deliveredAt
		}
		if in.EstimatedDelivery != nil {
			estimate := in.EstimatedDelivery.UTC()
			order.EstimatedDelivery = &estimate
		}
		if trackingNumber != "" {
			order.TrackingNumber = &trackingNumber
		}

		return &models.TrackingEvent{
			ID:          uuid.New().String(),
			Status:      in.Status,
			Description: description,
		}, nil
	})
	if err != nil {
		util.SpanError(span, err)
		return nil, err
	}

	util.ShipmentAdvancesTotal.WithLabelValues(string(event.Status)).Inc()
	s.logger.Info("Shipment advanced",
		zap.String("order_id", order.ID),
		zap.String("status", string(event.Status)))

	published := &models.ShipmentAdvancedEvent{
		BaseEvent:       broker.NewBaseEvent(models.EventTypeShipmentAdvanced),
		OrderID:         order.ID,
		Status:          event.Status,
		TrackingEventID: event.ID,
		Description:     event.Description,
	}
	if err := s.publisher.PublishShipmentAdvanced(ctx, published); err != nil {
		s.logger.Error("Failed to publish ShipmentAdvanced event", zap.Error(err))
	}

	publishOrderUpdate(ctx, s.notifier, s.logger, order, event)
	return event, nil
}

// StageProgress marks whether an order has reached one stage
type StageProgress struct {
	Status  models.ShippingStatus `json:"status"`
	Reached bool                  `json:"reached"`
}

// OrderStatus is the buyer view of an order
type OrderStatus struct {
	CurrentStage models.ShippingStatus `json:"current_stage"`
	Order        models.ImportOrder    `json:"order"`
	Quote        *models.SupplierQuote `json:"quote,omitempty"`
	LatestEvent  *models.TrackingEvent `json:"latest_event,omitempty"`
	Stages       []StageProgress       `json:"stages"`
}

// GetStatus returns the current stage with order, quote and latest event
// from one snapshot
func (s *TrackingService) GetStatus(ctx context.Context, viewerID, orderID string) (*OrderStatus, error) {
	snap, err := s.snapshot(ctx, viewerID, orderID)
	if err != nil {
		return nil, err
	}

	current := models.StageIndex(snap.Order.ShippingStatus)
	stages := make([]StageProgress, len(models.ShippingStages))
	for i, stage := range models.ShippingStages {
		stages[i] = StageProgress{Status: stage, Reached: i <= current}
	}

	return &OrderStatus{
		CurrentStage: snap.Order.ShippingStatus,
		Order:        snap.Order,
		Quote:        snap.Quote,
		LatestEvent:  snap.LatestEvent(),
		Stages:       stages,
	}, nil
}

// GetHistory returns the order's tracking events, oldest first unless
// newestFirst is set
func (s *TrackingService) GetHistory(ctx context.Context, viewerID, orderID string, newestFirst bool) ([]models.TrackingEvent, error) {
	snap, err := s.snapshot(ctx, viewerID, orderID)
	if err != nil {
		return nil, err
	}

	events := snap.Events
	if newestFirst {
		for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
			events[i], events[j] = events[j], events[i]
		}
	}
	return events, nil
}

// Subscribe streams live order updates until ctx is done
func (s *TrackingService) Subscribe(ctx context.Context, viewerID, orderID string) (<-chan []byte, error) {
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !visibleTo(viewerID, order.OwnerID) {
		return nil, apperror.NotFound("order", orderID)
	}
	if s.subscriber == nil {
		return nil, ErrLiveUpdatesUnavailable
	}
	return s.subscriber.Subscribe(ctx, OrderChannel(orderID))
}

func (s *TrackingService) snapshot(ctx context.Context, viewerID, orderID string) (*models.OrderSnapshot, error) {
	snap, err := s.store.GetOrderSnapshot(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !visibleTo(viewerID, snap.Order.OwnerID) {
		return nil, apperror.NotFound("order", orderID)
	}
	return snap, nil
}
