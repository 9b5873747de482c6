package entity

import "time"

const (
	CallbackDeliveryNone    int32 = 0
	CallbackDeliveryPending int32 = 1
	CallbackDeliverySuccess int32 = 10
	CallbackDeliveryFailed  int32 = 20
)

const (
	ResourceTypeBooking      = "booking"
	ResourceTypeSubscription = "subscription"
)

// PaymentFlow selects how money is collected: a hosted payment link the
// client pays on the gateway, or a pre-authorization captured later.
type PaymentFlow string

const (
	PaymentFlowLink    PaymentFlow = "link"
	PaymentFlowPreAuth PaymentFlow = "preauth"
)

type Payment struct {
	ID uint64

	RequestID     string
	CallerService string

	UserID       string
	ResourceType string
	ResourceID   string
	Description  string

	AmountCents int64
	Currency    string

	Status   PaymentStatus
	Flow     PaymentFlow
	Provider string

	// ExternalReference is the id this service hands to the gateway
	// (reference_id, external_reference, client_reference_id) so notifications
	// about payments the gateway created on its own can still be matched.
	ExternalReference string

	ProviderOrderID        *string
	ProviderChargeID       *string
	CheckoutURL            *string
	AuthorizationExpiresAt *time.Time

	CapturedCents int64
	RefundedCents int64
	FailureReason *string

	StatusCallbackURL string

	Metadata map[string]string

	CallbackDeliveryStatus   int32
	CallbackDeliveryAttempts int32
	CallbackDeliveryNextAt   *time.Time
	CallbackDeliveryLastErr  *string

	Version int64

	DeletedAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RefundableCents is the captured amount not yet returned to the client.
func (p *Payment) RefundableCents() int64 {
	if p.Status != PaymentStatusConfirmed {
		return 0
	}
	remaining := p.CapturedCents - p.RefundedCents
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (p *Payment) HasProviderReference() bool {
	return (p.ProviderOrderID != nil && *p.ProviderOrderID != "") ||
		(p.ProviderChargeID != nil && *p.ProviderChargeID != "")
}

func (p *Payment) AuthorizationExpired(now time.Time) bool {
	return p.AuthorizationExpiresAt != nil && !now.Before(*p.AuthorizationExpiresAt)
}

func (p *Payment) Clone() *Payment {
	if p == nil {
		return nil
	}
	c := *p
	if p.Metadata != nil {
		c.Metadata = make(map[string]string, len(p.Metadata))
		for k, v := range p.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}
