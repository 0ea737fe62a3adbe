package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"import-sourcing/internal/models"
	"import-sourcing/internal/util"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// NewBaseEvent stamps a fresh event id and time
func NewBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
	}
}

// PublishRequestSubmitted publishes the sourcing trigger for a request
func (ep *EventPublisher) PublishRequestSubmitted(ctx context.Context, event *models.RequestSubmittedEvent) error {
	return ep.producer.PublishEvent(ctx, "request-"+event.RequestID, event)
}

// PublishQuotesGenerated publishes QuotesGenerated event
func (ep *EventPublisher) PublishQuotesGenerated(ctx context.Context, event *models.QuotesGeneratedEvent) error {
	return ep.producer.PublishEvent(ctx, "request-"+event.RequestID, event)
}

// PublishOrderCreated publishes OrderCreated event
func (ep *EventPublisher) PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error {
	return ep.producer.PublishEvent(ctx, "order-"+event.OrderID, event)
}

// PublishPaymentCompleted publishes PaymentCompleted event
func (ep *EventPublisher) PublishPaymentCompleted(ctx context.Context, event *models.PaymentCompletedEvent) error {
	return ep.producer.PublishEvent(ctx, "payment-"+event.PaymentID, event)
}

// PublishPaymentFailed publishes PaymentFailed event
func (ep *EventPublisher) PublishPaymentFailed(ctx context.Context, event *models.PaymentFailedEvent) error {
	return ep.producer.PublishEvent(ctx, "payment-"+event.PaymentID, event)
}

// PublishShipmentAdvanced publishes ShipmentAdvanced event
func (ep *EventPublisher) PublishShipmentAdvanced(ctx context.Context, event *models.ShipmentAdvancedEvent) error {
	return ep.producer.PublishEvent(ctx, "order-"+event.OrderID, event)
}

// ProcessedEvents records consumed event ids
type ProcessedEvents interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// EventHandler routes incoming events and skips ids already processed
type EventHandler struct {
	processed          ProcessedEvents
	onRequestSubmitted func(context.Context, *models.RequestSubmittedEvent) error
	onPaymentCompleted func(context.Context, *models.PaymentCompletedEvent) error
	onPaymentFailed    func(context.Context, *models.PaymentFailedEvent) error
	logger             *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler(processed ProcessedEvents) *EventHandler {
	return &EventHandler{processed: processed, logger: util.GetLogger()}
}

// OnRequestSubmitted registers a handler for RequestSubmitted events
func (eh *EventHandler) OnRequestSubmitted(handler func(context.Context, *models.RequestSubmittedEvent) error) {
	eh.onRequestSubmitted = handler
}

// OnPaymentCompleted registers a handler for PaymentCompleted events
func (eh *EventHandler) OnPaymentCompleted(handler func(context.Context, *models.PaymentCompletedEvent) error) {
	eh.onPaymentCompleted = handler
}

// OnPaymentFailed registers a handler for PaymentFailed events
func (eh *EventHandler) OnPaymentFailed(handler func(context.Context, *models.PaymentFailedEvent) error) {
	eh.onPaymentFailed = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	switch baseEvent.EventType {
	case models.EventTypeRequestSubmitted:
		if eh.onRequestSubmitted == nil {
			return nil
		}
		var event models.RequestSubmittedEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			return fmt.Errorf("failed to unmarshal RequestSubmitted event: %w", err)
		}
		return eh.once(ctx, baseEvent, func() error { return eh.onRequestSubmitted(ctx, &event) })

	case models.EventTypePaymentCompleted:
		if eh.onPaymentCompleted == nil {
			return nil
		}
		var event models.PaymentCompletedEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			return fmt.Errorf("failed to unmarshal PaymentCompleted event: %w", err)
		}
		return eh.once(ctx, baseEvent, func() error { return eh.onPaymentCompleted(ctx, &event) })

	case models.EventTypePaymentFailed:
		if eh.onPaymentFailed == nil {
			return nil
		}
		var event models.PaymentFailedEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			return fmt.Errorf("failed to unmarshal PaymentFailed event: %w", err)
		}
		return eh.once(ctx, baseEvent, func() error { return eh.onPaymentFailed(ctx, &event) })

	default:
		eh.logger.Debug("Ignoring event", zap.String("type", baseEvent.EventType))
	}

	return nil
}

func (eh *EventHandler) once(ctx context.Context, base models.BaseEvent, fn func() error) error {
	if eh.processed != nil {
		done, err := eh.processed.IsEventProcessed(ctx, base.EventID)
		if err != nil {
			return fmt.Errorf("failed to check event processed: %w", err)
		}
		if done {
			eh.logger.Info("Event already processed", zap.String("event_id", base.EventID))
			return nil
		}
	}

	eh.logger.Info("Handling event", zap.String("type", base.EventType), zap.String("event_id", base.EventID))
	if err := fn(); err != nil {
		return err
	}

	if eh.processed != nil {
		if err := eh.processed.MarkEventProcessed(ctx, base.EventID, base.EventType); err != nil {
			eh.logger.Error("Failed to mark event processed", zap.Error(err))
		}
	}
	return nil
}
