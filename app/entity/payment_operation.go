package entity

import "time"

type Operation string

const (
	OperationAuthorize Operation = "authorize"
	OperationConfirm   Operation = "confirm"
	OperationFail      Operation = "fail"
	OperationRefund    Operation = "refund"
	OperationCancel    Operation = "cancel"
)

// PaymentOperation remembers which client idempotency keys were already
// applied to a payment so a retried request has at most one effect.
type PaymentOperation struct {
	ID uint64

	PaymentID      uint64
	Operation      Operation
	IdempotencyKey string
	AmountCents    int64
	ResultStatus   PaymentStatus

	CreatedAt time.Time
}

// SameRequest reports whether a retried call carries the same parameters as
// the one recorded under its key.
func (o *PaymentOperation) SameRequest(amountCents int64) bool {
	return o.AmountCents == amountCents
}
