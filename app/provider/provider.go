package provider

import (
	"context"
	"net/http"
	"time"
)

// Status is the gateway-side state of a payment, normalised across gateways.
// An empty Status means the gateway did not report anything conclusive.
type Status string

const (
	StatusUnknown    Status = ""
	StatusPending    Status = "pending"
	StatusAuthorized Status = "authorized"
	StatusConfirmed  Status = "confirmed"
	StatusFailed     Status = "failed"
	StatusRefunded   Status = "refunded"
)

// Reference identifies a payment on the gateway side. OrderID is the
// gateway's top level object (payment link, order, preference or payment
// intent) and ChargeID the chargeable object inside it, when the gateway has
// one. External carries the reference this service sent at creation time.
type Reference struct {
	OrderID  string
	ChargeID string
	External string
}

func (r Reference) Empty() bool {
	return r.OrderID == "" && r.ChargeID == "" && r.External == ""
}

type LinkInput struct {
	ExternalReference string
	AmountCents       int64
	Currency          string
	Description       string
	PayerEmail        string
	Metadata          map[string]string
}

type LinkResult struct {
	Reference  Reference
	PaymentURL string
	Status     Status
}

type PreAuthInput struct {
	ExternalReference string
	IdempotencyKey    string
	AmountCents       int64
	Currency          string
	Description       string
	PaymentToken      string
	PaymentMethodID   string
	PayerEmail        string
	Installments      int32
	Metadata          map[string]string
}

// PreAuthResult reports a hold placed on the client's funds. A declined card is
// not an error: Status is StatusFailed and FailureReason explains why.
type PreAuthResult struct {
	Reference     Reference
	Status        Status
	ExpiresAt     *time.Time
	FailureReason string
}

type CaptureInput struct {
	Reference      Reference
	AmountCents    *int64
	IdempotencyKey string
}

type ChargeResult struct {
	ChargeID    string
	Status      Status
	AmountCents int64
}

type RefundInput struct {
	Reference      Reference
	AmountCents    *int64
	IdempotencyKey string
	Reason         string
}

type RefundResult struct {
	RefundID    string
	Status      Status
	AmountCents int64
}

// WebhookEvent is a verified gateway notification. Status is StatusUnknown for
// event types that carry no state change. RefundedCents is the cumulative
// amount the gateway reports as returned, zero when not reported.
type WebhookEvent struct {
	EventID       string
	EventType     string
	Reference     Reference
	Status        Status
	AmountCents   int64
	RefundedCents int64
}

// Provider is the contract every payment gateway adapter satisfies. Errors are
// classified with ErrUnavailable, ErrRejected and ErrSignatureInvalid.
type Provider interface {
	Name() string
	CreatePaymentLink(ctx context.Context, input *LinkInput) (*LinkResult, error)
	CreatePreAuthorization(ctx context.Context, input *PreAuthInput) (*PreAuthResult, error)
	CapturePreAuth(ctx context.Context, input *CaptureInput) (*ChargeResult, error)
	GetPaymentStatus(ctx context.Context, ref Reference) (Status, error)
	RefundPayment(ctx context.Context, input *RefundInput) (*RefundResult, error)
	VerifyAndParseWebhook(ctx context.Context, headers http.Header, payload []byte) (*WebhookEvent, error)
}
