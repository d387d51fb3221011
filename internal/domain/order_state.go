package domain

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending indicates the order exists and awaits a payment reference.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusPaymentSubmitted indicates a payment reference awaits review.
	OrderStatusPaymentSubmitted OrderStatus = "payment_submitted"
	// OrderStatusConfirmed indicates a reviewer verified the payment.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusVerificationFailed indicates a reviewer rejected the payment.
	OrderStatusVerificationFailed OrderStatus = "verification_failed"
	// OrderStatusProcessing indicates fulfilment has started.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped indicates the order has been handed to a carrier.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered indicates the order reached the buyer.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled indicates the order was cancelled before confirmation.
	OrderStatusCancelled OrderStatus = "cancelled"
)

var orderStateTransitions = map[OrderStatus]map[OrderStatus]struct{}{
	OrderStatusPending: {
		OrderStatusPaymentSubmitted: {},
		OrderStatusCancelled:        {},
	},
	OrderStatusPaymentSubmitted: {
		OrderStatusConfirmed:          {},
		OrderStatusVerificationFailed: {},
		OrderStatusCancelled:          {},
	},
	OrderStatusVerificationFailed: {
		OrderStatusPaymentSubmitted: {},
		OrderStatusCancelled:        {},
	},
	OrderStatusConfirmed: {
		OrderStatusProcessing: {},
	},
	OrderStatusProcessing: {
		OrderStatusShipped: {},
	},
	OrderStatusShipped: {
		OrderStatusDelivered: {},
	},
}

// CanTransition reports whether the order state machine allows moving from one status to another.
func CanTransition(from, to OrderStatus) bool {
	next, ok := orderStateTransitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

// Terminal reports whether no automatic transition leaves the status.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}
