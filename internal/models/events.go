package models

import "time"

// Event types
const (
	EventTypeRequestSubmitted = "IMPORT_REQUEST_SUBMITTED"
	EventTypeQuotesGenerated  = "IMPORT_QUOTES_GENERATED"
	EventTypeOrderCreated     = "IMPORT_ORDER_CREATED"
	EventTypePaymentCompleted = "PAYMENT_COMPLETED"
	EventTypePaymentFailed    = "PAYMENT_FAILED"
	EventTypeShipmentAdvanced = "SHIPMENT_ADVANCED"
)

// Quote sources
const (
	QuoteSourceAI       = "ai"
	QuoteSourceFallback = "fallback"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// RequestSubmittedEvent triggers the sourcing agent for a request
type RequestSubmittedEvent struct {
	BaseEvent
	RequestID string `json:"request_id"`
	OwnerID   string `json:"owner_id"`
	Retry     bool   `json:"retry,omitempty"`
}

// QuotesGeneratedEvent published once a request's quotes are persisted
type QuotesGeneratedEvent struct {
	BaseEvent
	RequestID  string `json:"request_id"`
	QuoteCount int    `json:"quote_count"`
	Source     string `json:"source"`
}

// OrderCreatedEvent published when a buyer selects a quote
type OrderCreatedEvent struct {
	BaseEvent
	OrderID   string `json:"order_id"`
	QuoteID   string `json:"quote_id"`
	RequestID string `json:"request_id"`
	OwnerID   string `json:"owner_id"`
}

// PaymentCompletedEvent published when a webhook completes a payment
type PaymentCompletedEvent struct {
	BaseEvent
	PaymentID string         `json:"payment_id"`
	Purpose   PaymentPurpose `json:"purpose"`
	RelatedID string         `json:"related_id"`
	Amount    int64          `json:"amount"`
	Currency  string         `json:"currency"`
	Reference string         `json:"reference"`
}

// PaymentFailedEvent published when the provider reports a failed charge
type PaymentFailedEvent struct {
	BaseEvent
	PaymentID string         `json:"payment_id"`
	Purpose   PaymentPurpose `json:"purpose"`
	RelatedID string         `json:"related_id"`
	Reason    string         `json:"reason"`
}

// ShipmentAdvancedEvent published on every tracking transition
type ShipmentAdvancedEvent struct {
	BaseEvent
	OrderID         string         `json:"order_id"`
	Status          ShippingStatus `json:"status"`
	TrackingEventID string         `json:"tracking_event_id"`
	Description     string         `json:"description"`
}
