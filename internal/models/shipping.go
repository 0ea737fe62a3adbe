package models

// ShippingStatus is one stage of the fixed fulfillment sequence of an order.
// It is a separate enumeration from RequestStatus even where names overlap.
type ShippingStatus string

const (
	ShippingAwaitingPayment    ShippingStatus = "awaiting_payment"
	ShippingPaymentConfirmed   ShippingStatus = "payment_confirmed"
	ShippingFindingSupplier    ShippingStatus = "finding_supplier"
	ShippingSupplierProcessing ShippingStatus = "supplier_processing"
	ShippingShipped            ShippingStatus = "shipped"
	ShippingArrivedCountry     ShippingStatus = "arrived_country"
	ShippingCustomsClearance   ShippingStatus = "customs_clearance"
	ShippingOutForDelivery     ShippingStatus = "out_for_delivery"
	ShippingDelivered          ShippingStatus = "delivered"
)

// ShippingStages is the canonical stage order. Index defines direction.
var ShippingStages = []ShippingStatus{
	ShippingAwaitingPayment,
	ShippingPaymentConfirmed,
	ShippingFindingSupplier,
	ShippingSupplierProcessing,
	ShippingShipped,
	ShippingArrivedCountry,
	ShippingCustomsClearance,
	ShippingOutForDelivery,
	ShippingDelivered,
}

var stageDescriptions = map[ShippingStatus]string{
	ShippingAwaitingPayment:    "Order created. Awaiting payment confirmation.",
	ShippingPaymentConfirmed:   "Payment confirmed. Your order is being prepared.",
	ShippingFindingSupplier:    "Confirming availability with the supplier.",
	ShippingSupplierProcessing: "Supplier is processing and packing your order.",
	ShippingShipped:            "Your order has been shipped.",
	ShippingArrivedCountry:     "Shipment has arrived in the destination country.",
	ShippingCustomsClearance:   "Shipment is going through customs clearance.",
	ShippingOutForDelivery:     "Your order is out for delivery.",
	ShippingDelivered:          "Your order has been delivered.",
}

// StageIndex returns the position of s in ShippingStages, or -1
func StageIndex(s ShippingStatus) int {
	for i, stage := range ShippingStages {
		if stage == s {
			return i
		}
	}
	return -1
}

// Valid reports whether s is a member of the stage list
func (s ShippingStatus) Valid() bool {
	return StageIndex(s) >= 0
}

// IsTerminal reports whether s ends the sequence
func (s ShippingStatus) IsTerminal() bool {
	return s == ShippingDelivered
}

// DefaultDescription is the buyer-facing text used when none is supplied
func (s ShippingStatus) DefaultDescription() string {
	return stageDescriptions[s]
}
