package entity

import "time"

type Refund struct {
	ID uint64

	PaymentID uint64

	AmountCents      int64
	ProviderRefundID *string
	IdempotencyKey   string
	Reason           *string

	CreatedAt time.Time
}
