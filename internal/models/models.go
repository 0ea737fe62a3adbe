package models

import (
	"encoding/json"
	"time"
)

// RequestStatus is the processing status of an ImportRequest
type RequestStatus string

const (
	RequestStatusPending         RequestStatus = "pending"
	RequestStatusFindingSupplier RequestStatus = "finding_supplier"
	RequestStatusQuoted          RequestStatus = "quoted"
	RequestStatusPaid            RequestStatus = "paid"
	RequestStatusRejected        RequestStatus = "rejected"
	RequestStatusCancelled       RequestStatus = "cancelled"
)

// IsTerminal reports whether no further sourcing work applies to the request
func (s RequestStatus) IsTerminal() bool {
	return s == RequestStatusRejected || s == RequestStatusCancelled
}

// ShippingMode is the freight mode of a single quote
type ShippingMode string

const (
	ShippingModeAir ShippingMode = "air"
	ShippingModeSea ShippingMode = "sea"
)

// ShippingModes lists the modes every supplier is quoted in
var ShippingModes = []ShippingMode{ShippingModeAir, ShippingModeSea}

// PreferredShipping is the buyer's stated preference on a request
type PreferredShipping string

const (
	PreferAir  PreferredShipping = "air"
	PreferSea  PreferredShipping = "sea"
	PreferBoth PreferredShipping = "both"
)

// Valid reports whether p is an accepted preference
func (p PreferredShipping) Valid() bool {
	switch p {
	case PreferAir, PreferSea, PreferBoth:
		return true
	}
	return false
}

// OrderPaymentStatus is the payment state tracked on an ImportOrder
type OrderPaymentStatus string

const (
	OrderPaymentPending OrderPaymentStatus = "pending"
	OrderPaymentPaid    OrderPaymentStatus = "paid"
	OrderPaymentFailed  OrderPaymentStatus = "failed"
)

// PaymentStatus is the state of a Payment transaction
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

// PaymentPurpose names what a payment unlocks
type PaymentPurpose string

const (
	PaymentPurposeImportOrder PaymentPurpose = "import_order"
	PaymentPurposePromotion   PaymentPurpose = "promotion"
)

// Valid reports whether p is a known purpose
func (p PaymentPurpose) Valid() bool {
	return p == PaymentPurposeImportOrder || p == PaymentPurposePromotion
}

// ImportRequest is a buyer's ask to source a product internationally
type ImportRequest struct {
	ID                 string            `db:"id" json:"id"`
	OwnerID            string            `db:"owner_id" json:"owner_id"`
	Title              string            `db:"title" json:"title"`
	Description        string            `db:"description" json:"description"`
	Quantity           int               `db:"quantity" json:"quantity"`
	DestinationCountry string            `db:"destination_country" json:"destination_country"`
	PreferredShipping  PreferredShipping `db:"preferred_shipping" json:"preferred_shipping"`
	Status             RequestStatus     `db:"status" json:"status"`
	AIProcessed        bool              `db:"ai_processed" json:"ai_processed"`
	ClaimedAt          *time.Time        `db:"claimed_at" json:"-"`
	CreatedAt          time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time         `db:"updated_at" json:"updated_at"`
}

// SupplierQuote is one priced option: one supplier in one shipping mode.
// Costs are minor currency units.
type SupplierQuote struct {
	ID               string       `db:"id" json:"id"`
	RequestID        string       `db:"request_id" json:"request_id"`
	SupplierName     string       `db:"supplier_name" json:"supplier_name"`
	SupplierCountry  string       `db:"supplier_country" json:"supplier_country"`
	ProductCost      int64        `db:"product_cost" json:"product_cost"`
	ShippingCost     int64        `db:"shipping_cost" json:"shipping_cost"`
	ServiceFee       int64        `db:"service_fee" json:"service_fee"`
	TotalCost        int64        `db:"total_cost" json:"total_cost"`
	Currency         string       `db:"currency" json:"currency"`
	DeliveryDays     int          `db:"delivery_days" json:"delivery_days"`
	ShippingMode     ShippingMode `db:"shipping_mode" json:"shipping_mode"`
	MinOrderQuantity int          `db:"min_order_quantity" json:"min_order_quantity"`
	Rating           float64      `db:"rating" json:"rating"`
	CreatedAt        time.Time    `db:"created_at" json:"created_at"`
}

// AmountDue is what the buyer pays for the quote: total plus service fee
func (q *SupplierQuote) AmountDue() int64 {
	return q.TotalCost + q.ServiceFee
}

// ImportOrder is a buyer's commitment to exactly one quote
type ImportOrder struct {
	ID                string             `db:"id" json:"id"`
	OwnerID           string             `db:"owner_id" json:"owner_id"`
	QuoteID           string             `db:"quote_id" json:"quote_id"`
	RequestID         string             `db:"request_id" json:"request_id"`
	PaymentStatus     OrderPaymentStatus `db:"payment_status" json:"payment_status"`
	ShippingStatus    ShippingStatus     `db:"shipping_status" json:"shipping_status"`
	TrackingNumber    *string            `db:"tracking_number" json:"tracking_number,omitempty"`
	EstimatedDelivery *time.Time         `db:"estimated_delivery" json:"estimated_delivery,omitempty"`
	DeliveredAt       *time.Time         `db:"delivered_at" json:"delivered_at,omitempty"`
	CreatedAt         time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time          `db:"updated_at" json:"updated_at"`
}

// TrackingEvent is an append-only record of one shipping status change
type TrackingEvent struct {
	ID          string         `db:"id" json:"id"`
	OrderID     string         `db:"order_id" json:"order_id"`
	Status      ShippingStatus `db:"status" json:"status"`
	Description string         `db:"description" json:"description"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
}

// Payment is one payment attempt against the external provider
type Payment struct {
	ID                string          `db:"id" json:"id"`
	PayerID           string          `db:"payer_id" json:"payer_id"`
	Email             string          `db:"email" json:"email"`
	Amount            int64           `db:"amount" json:"amount"`
	Currency          string          `db:"currency" json:"currency"`
	Provider          string          `db:"provider" json:"provider"`
	ProviderReference *string         `db:"provider_reference" json:"provider_reference,omitempty"`
	Status            PaymentStatus   `db:"status" json:"status"`
	Purpose           PaymentPurpose  `db:"purpose" json:"purpose"`
	RelatedID         string          `db:"related_id" json:"related_id"`
	Metadata          json.RawMessage `db:"metadata" json:"metadata,omitempty"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
}

// Promotion is a paid listing boost, activated by a completed payment
type Promotion struct {
	ID        string    `db:"id" json:"id"`
	OwnerID   string    `db:"owner_id" json:"owner_id"`
	ListingID string    `db:"listing_id" json:"listing_id"`
	IsActive  bool      `db:"is_active" json:"is_active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// SupplierCandidate is one supplier proposal before it is split into quotes.
// Costs are minor currency units.
type SupplierCandidate struct {
	Name             string  `json:"name"`
	Country          string  `json:"country"`
	ProductCost      int64   `json:"product_cost"`
	AirShippingCost  int64   `json:"air_shipping_cost"`
	SeaShippingCost  int64   `json:"sea_shipping_cost"`
	AirDeliveryDays  int     `json:"air_delivery_days"`
	SeaDeliveryDays  int     `json:"sea_delivery_days"`
	MinOrderQuantity int     `json:"min_order_quantity"`
	Rating           float64 `json:"rating"`
}

// OrderSnapshot is a consistent read of an order with its quote and history
type OrderSnapshot struct {
	Order  ImportOrder     `json:"order"`
	Quote  *SupplierQuote  `json:"quote,omitempty"`
	Events []TrackingEvent `json:"events"`
}

// LatestEvent returns the most recent tracking event, or nil
func (s *OrderSnapshot) LatestEvent() *TrackingEvent {
	if len(s.Events) == 0 {
		return nil
	}
	return &s.Events[len(s.Events)-1]
}

// ProcessedEvent for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
