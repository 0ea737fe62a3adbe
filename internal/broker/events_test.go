package broker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"import-sourcing/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type processedSet map[string]string

func (p processedSet) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	_, ok := p[eventID]
	return ok, nil
}

func (p processedSet) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	p[eventID] = eventType
	return nil
}

func message(t *testing.T, event interface{}) kafka.Message {
	t.Helper()
	value, err := json.Marshal(event)
	require.NoError(t, err)
	return kafka.Message{Value: value}
}

func TestHandleMessageRunsEachEventOnce(t *testing.T) {
	processed := processedSet{}
	handler := NewEventHandler(processed)

	var seen []string
	handler.OnRequestSubmitted(func(ctx context.Context, e *models.RequestSubmittedEvent) error {
		seen = append(seen, e.RequestID)
		return nil
	})

	event := &models.RequestSubmittedEvent{
		BaseEvent: NewBaseEvent(models.EventTypeRequestSubmitted),
		RequestID: "req-1",
		OwnerID:   "buyer-1",
	}
	msg := message(t, event)

	require.NoError(t, handler.HandleMessage(context.Background(), msg))
	require.NoError(t, handler.HandleMessage(context.Background(), msg))

	assert.Equal(t, []string{"req-1"}, seen)
	assert.Equal(t, models.EventTypeRequestSubmitted, processed[event.EventID])
}

func TestHandleMessageLeavesFailedEventsUnmarked(t *testing.T) {
	processed := processedSet{}
	handler := NewEventHandler(processed)

	calls := 0
	handler.OnPaymentCompleted(func(ctx context.Context, e *models.PaymentCompletedEvent) error {
		calls++
		if calls == 1 {
			return errors.New("database unavailable")
		}
		return nil
	})

	msg := message(t, &models.PaymentCompletedEvent{
		BaseEvent: NewBaseEvent(models.EventTypePaymentCompleted),
		PaymentID: "pay-1",
		Purpose:   models.PaymentPurposeImportOrder,
		RelatedID: "order-1",
	})

	assert.Error(t, handler.HandleMessage(context.Background(), msg))
	assert.Empty(t, processed)
	require.NoError(t, handler.HandleMessage(context.Background(), msg))
	assert.Equal(t, 2, calls)
	assert.Len(t, processed, 1)
}

func TestHandleMessageRoutesPaymentEvents(t *testing.T) {
	handler := NewEventHandler(nil)

	var completed, failed []string
	handler.OnPaymentCompleted(func(ctx context.Context, e *models.PaymentCompletedEvent) error {
		completed = append(completed, e.PaymentID)
		return nil
	})
	handler.OnPaymentFailed(func(ctx context.Context, e *models.PaymentFailedEvent) error {
		failed = append(failed, e.PaymentID)
		return nil
	})

	ctx := context.Background()
	require.NoError(t, handler.HandleMessage(ctx, message(t, &models.PaymentCompletedEvent{
		BaseEvent: NewBaseEvent(models.EventTypePaymentCompleted),
		PaymentID: "pay-1",
	})))
	require.NoError(t, handler.HandleMessage(ctx, message(t, &models.PaymentFailedEvent{
		BaseEvent: NewBaseEvent(models.EventTypePaymentFailed),
		PaymentID: "pay-2",
	})))
	require.NoError(t, handler.HandleMessage(ctx, message(t, &models.ShipmentAdvancedEvent{
		BaseEvent: NewBaseEvent(models.EventTypeShipmentAdvanced),
		OrderID:   "order-1",
	})))

	assert.Equal(t, []string{"pay-1"}, completed)
	assert.Equal(t, []string{"pay-2"}, failed)
}

func TestHandleMessageRejectsGarbage(t *testing.T) {
	handler := NewEventHandler(nil)
	err := handler.HandleMessage(context.Background(), kafka.Message{Value: []byte("not json")})
	assert.Error(t, err)
}
