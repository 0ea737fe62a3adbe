package service

import (
	"context"
	"time"

	"import-sourcing/internal/models"
	"import-sourcing/internal/paystack"
	"import-sourcing/internal/reasoning"
)

// EventPublisher emits domain events to the message broker
type EventPublisher interface {
	PublishRequestSubmitted(ctx context.Context, event *models.RequestSubmittedEvent) error
	PublishQuotesGenerated(ctx context.Context, event *models.QuotesGeneratedEvent) error
	PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error
	PublishPaymentCompleted(ctx context.Context, event *models.PaymentCompletedEvent) error
	PublishPaymentFailed(ctx context.Context, event *models.PaymentFailedEvent) error
	PublishShipmentAdvanced(ctx context.Context, event *models.ShipmentAdvancedEvent) error
}

// Notifier pushes live updates to subscribers of a channel
type Notifier interface {
	Publish(ctx context.Context, channel string, payload interface{}) error
}

// Subscriber receives live updates published on a channel
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// Locker provides a short-lived mutual exclusion across processes
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	ReleaseLock(ctx context.Context, key, token string) error
}

// IdempotencyKeys remembers keys that have already been handled
type IdempotencyKeys interface {
	HasIdempotencyKey(ctx context.Context, key string) (bool, error)
	ClaimIdempotencyKey(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// SupplierFinder proposes supplier candidates for a product
type SupplierFinder interface {
	FindSuppliers(ctx context.Context, q reasoning.Query) ([]models.SupplierCandidate, error)
}

// PaymentProvider opens checkout sessions with the payment gateway
type PaymentProvider interface {
	InitializeTransaction(ctx context.Context, params paystack.InitializeParams) (*paystack.InitializeResult, error)
}

// RequestChannel is the live update channel of an import request
func RequestChannel(requestID string) string {
	return "import-request:" + requestID
}

// OrderChannel is the live tracking channel of an order
func OrderChannel(orderID string) string {
	return "order-tracking:" + orderID
}
