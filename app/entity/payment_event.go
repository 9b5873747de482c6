package entity

import "time"

const (
	EventPaymentCreated     = "payment_created"
	EventPaymentAuthorized  = "payment_authorized"
	EventPaymentConfirmed   = "payment_confirmed"
	EventPaymentFailed      = "payment_failed"
	EventPaymentRefunded    = "payment_refunded"
	EventPaymentCancelled   = "payment_cancelled"
	EventCallbackDispatched = "callback_dispatched"
	EventCallbackFailed     = "callback_dispatch_failed"
)

// PaymentEvent is both the audit trail of a payment and the outbox relayed to
// the event stream; PublishedAt is set once the relay has delivered it.
type PaymentEvent struct {
	ID uint64

	PaymentID uint64

	EventType string

	OldStatus *PaymentStatus
	NewStatus PaymentStatus

	AmountCents int64

	ProviderEventID *string
	PayloadJSON     *string

	PublishedAt *time.Time
	CreatedAt   time.Time
}
