package types

import "net/http"

// Request and response messages shared by the HTTP and gRPC surfaces. The
// getters let the service depend on small interfaces instead of these structs.

type CreatePaymentRequest struct {
	RequestId         string            `json:"request_id" validate:"required,max=128"`
	CallerService     string            `json:"caller_service" validate:"required,max=64"`
	UserId            string            `json:"user_id" validate:"required,max=64"`
	ResourceType      string            `json:"resource_type" validate:"required,oneof=booking subscription"`
	ResourceId        string            `json:"resource_id" validate:"required,max=64"`
	Description       string            `json:"description" validate:"max=255"`
	AmountCents       int64             `json:"amount_cents" validate:"gt=0"`
	Currency          string            `json:"currency" validate:"len=3,alpha"`
	Flow              string            `json:"flow" validate:"omitempty,oneof=link preauth"`
	PayerEmail        string            `json:"payer_email" validate:"omitempty,email"`
	StatusCallbackUrl string            `json:"status_callback_url" validate:"required,url"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

func (r *CreatePaymentRequest) GetRequestId() string           { return r.RequestId }
func (r *CreatePaymentRequest) GetCallerService() string       { return r.CallerService }
func (r *CreatePaymentRequest) GetUserId() string              { return r.UserId }
func (r *CreatePaymentRequest) GetResourceType() string        { return r.ResourceType }
func (r *CreatePaymentRequest) GetResourceId() string          { return r.ResourceId }
func (r *CreatePaymentRequest) GetDescription() string         { return r.Description }
func (r *CreatePaymentRequest) GetAmountCents() int64          { return r.AmountCents }
func (r *CreatePaymentRequest) GetCurrency() string            { return r.Currency }
func (r *CreatePaymentRequest) GetFlow() string                { return r.Flow }
func (r *CreatePaymentRequest) GetPayerEmail() string          { return r.PayerEmail }
func (r *CreatePaymentRequest) GetStatusCallbackUrl() string   { return r.StatusCallbackUrl }
func (r *CreatePaymentRequest) GetMetadata() map[string]string { return r.Metadata }

type GetPaymentRequest struct {
	Id uint64 `json:"id" validate:"required"`
}

func (r *GetPaymentRequest) GetId() uint64 { return r.Id }

type ListPaymentsRequest struct {
	CallerService string `json:"caller_service"`
	UserId        string `json:"user_id"`
	ResourceType  string `json:"resource_type" validate:"omitempty,oneof=booking subscription"`
	ResourceId    string `json:"resource_id"`
	Status        string `json:"status" validate:"omitempty,oneof=pending authorized confirmed failed refunded cancelled"`
	Provider      string `json:"provider" validate:"omitempty,oneof=stripe pagbank mercadopago"`
	Limit         int32  `json:"limit" validate:"gte=1,lte=500"`
	Offset        int32  `json:"offset" validate:"gte=0"`
}

func (r *ListPaymentsRequest) GetCallerService() string { return r.CallerService }
func (r *ListPaymentsRequest) GetUserId() string        { return r.UserId }
func (r *ListPaymentsRequest) GetResourceType() string  { return r.ResourceType }
func (r *ListPaymentsRequest) GetResourceId() string    { return r.ResourceId }
func (r *ListPaymentsRequest) GetStatus() string        { return r.Status }
func (r *ListPaymentsRequest) GetProvider() string      { return r.Provider }
func (r *ListPaymentsRequest) GetLimit() int32          { return r.Limit }
func (r *ListPaymentsRequest) GetOffset() int32         { return r.Offset }

type AuthorizePaymentRequest struct {
	Id              uint64 `json:"id" validate:"required"`
	IdempotencyKey  string `json:"idempotency_key" validate:"required,max=128"`
	PaymentToken    string `json:"payment_token" validate:"max=512"`
	PaymentMethodId string `json:"payment_method_id" validate:"max=64"`
	PayerEmail      string `json:"payer_email" validate:"omitempty,email"`
	Installments    int32  `json:"installments" validate:"gte=0,lte=24"`
}

func (r *AuthorizePaymentRequest) GetId() uint64              { return r.Id }
func (r *AuthorizePaymentRequest) GetIdempotencyKey() string  { return r.IdempotencyKey }
func (r *AuthorizePaymentRequest) GetPaymentToken() string    { return r.PaymentToken }
func (r *AuthorizePaymentRequest) GetPaymentMethodId() string { return r.PaymentMethodId }
func (r *AuthorizePaymentRequest) GetPayerEmail() string      { return r.PayerEmail }
func (r *AuthorizePaymentRequest) GetInstallments() int32     { return r.Installments }

type ConfirmPaymentRequest struct {
	Id             uint64 `json:"id" validate:"required"`
	IdempotencyKey string `json:"idempotency_key" validate:"required,max=128"`
	AmountCents    int64  `json:"amount_cents" validate:"gte=0"`
}

func (r *ConfirmPaymentRequest) GetId() uint64             { return r.Id }
func (r *ConfirmPaymentRequest) GetIdempotencyKey() string { return r.IdempotencyKey }
func (r *ConfirmPaymentRequest) GetAmountCents() int64     { return r.AmountCents }

type FailPaymentRequest struct {
	Id             uint64 `json:"id" validate:"required"`
	IdempotencyKey string `json:"idempotency_key" validate:"required,max=128"`
	Reason         string `json:"reason" validate:"max=1024"`
}

func (r *FailPaymentRequest) GetId() uint64             { return r.Id }
func (r *FailPaymentRequest) GetIdempotencyKey() string { return r.IdempotencyKey }
func (r *FailPaymentRequest) GetReason() string         { return r.Reason }

type RefundPaymentRequest struct {
	Id             uint64 `json:"id" validate:"required"`
	IdempotencyKey string `json:"idempotency_key" validate:"required,max=128"`
	AmountCents    int64  `json:"amount_cents" validate:"gte=0"`
	Reason         string `json:"reason" validate:"max=255"`
}

func (r *RefundPaymentRequest) GetId() uint64             { return r.Id }
func (r *RefundPaymentRequest) GetIdempotencyKey() string { return r.IdempotencyKey }
func (r *RefundPaymentRequest) GetAmountCents() int64     { return r.AmountCents }
func (r *RefundPaymentRequest) GetReason() string         { return r.Reason }

type CancelPaymentRequest struct {
	Id             uint64 `json:"id" validate:"required"`
	IdempotencyKey string `json:"idempotency_key" validate:"required,max=128"`
	Reason         string `json:"reason" validate:"max=1024"`
}

func (r *CancelPaymentRequest) GetId() uint64             { return r.Id }
func (r *CancelPaymentRequest) GetIdempotencyKey() string { return r.IdempotencyKey }
func (r *CancelPaymentRequest) GetReason() string         { return r.Reason }

type ListRefundsRequest struct {
	Id uint64 `json:"id" validate:"required"`
}

func (r *ListRefundsRequest) GetId() uint64 { return r.Id }

// ProviderWebhookRequest is a raw gateway notification. The payload must be
// kept byte for byte since signatures are computed over it.
type ProviderWebhookRequest struct {
	Provider string
	Headers  http.Header
	Payload  []byte
}

func (r *ProviderWebhookRequest) GetProvider() string     { return r.Provider }
func (r *ProviderWebhookRequest) GetHeaders() http.Header { return r.Headers }
func (r *ProviderWebhookRequest) GetPayload() []byte      { return r.Payload }

type Payment struct {
	Id                     uint64            `json:"id"`
	RequestId              string            `json:"request_id"`
	CallerService          string            `json:"caller_service"`
	UserId                 string            `json:"user_id"`
	ResourceType           string            `json:"resource_type"`
	ResourceId             string            `json:"resource_id"`
	Description            string            `json:"description,omitempty"`
	AmountCents            int64             `json:"amount_cents"`
	Currency               string            `json:"currency"`
	Status                 string            `json:"status"`
	Flow                   string            `json:"flow"`
	Provider               string            `json:"provider"`
	ProviderOrderId        string            `json:"provider_order_id,omitempty"`
	ProviderChargeId       string            `json:"provider_charge_id,omitempty"`
	CheckoutUrl            string            `json:"checkout_url,omitempty"`
	AuthorizationExpiresAt string            `json:"authorization_expires_at,omitempty"`
	CapturedCents          int64             `json:"captured_cents"`
	RefundedCents          int64             `json:"refunded_cents"`
	RefundableCents        int64             `json:"refundable_cents"`
	FailureReason          string            `json:"failure_reason,omitempty"`
	StatusCallbackUrl      string            `json:"status_callback_url"`
	Metadata               map[string]string `json:"metadata,omitempty"`
	CreatedAt              string            `json:"created_at"`
	UpdatedAt              string            `json:"updated_at"`
}

type Refund struct {
	Id               uint64 `json:"id"`
	PaymentId        uint64 `json:"payment_id"`
	AmountCents      int64  `json:"amount_cents"`
	ProviderRefundId string `json:"provider_refund_id,omitempty"`
	Reason           string `json:"reason,omitempty"`
	CreatedAt        string `json:"created_at"`
}

type PaymentEnvelopeResponse struct {
	Payment *Payment `json:"payment"`
}

type ListPaymentsResponse struct {
	Payments []*Payment `json:"payments"`
}

type ListRefundsResponse struct {
	Refunds []*Refund `json:"refunds"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

type WebhookResponse struct {
	Status string `json:"status"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
