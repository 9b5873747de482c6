package entity

import "time"

const (
	WebhookStatusProcessed int32 = 10
	WebhookStatusIgnored   int32 = 15
	WebhookStatusRejected  int32 = 20
)

// PaymentCallback records an inbound gateway notification. It is kept for
// audit only and never drives state on its own.
type PaymentCallback struct {
	ID uint64

	PaymentID *uint64

	Provider        string
	ProviderEventID *string
	EventType       string
	Signature       string
	PayloadJSON     string
	Status          int32
	Error           *string

	CreatedAt time.Time
	UpdatedAt time.Time
}
