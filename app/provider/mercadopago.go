package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vibast-solutions/ms-go-lavago-payments/config"
)

const mercadoPagoName = config.ProviderMercadoPago

type MercadoPagoProvider struct {
	cfg config.MercadoPagoConfig
	api *apiClient
	now func() time.Time
}

func NewMercadoPagoProvider(cfg config.MercadoPagoConfig, timeout time.Duration) *MercadoPagoProvider {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.mercadopago.com"
	}
	if cfg.AuthorizationTTL <= 0 {
		cfg.AuthorizationTTL = 5 * 24 * time.Hour
	}

	return &MercadoPagoProvider{
		cfg: cfg,
		api: newAPIClient(mercadoPagoName, cfg.BaseURL, cfg.AccessToken, timeout),
		now: time.Now,
	}
}

func (p *MercadoPagoProvider) Name() string {
	return mercadoPagoName
}

// CreatePaymentLink opens a Checkout Pro preference; init_point is the URL the
// client pays on.
func (p *MercadoPagoProvider) CreatePaymentLink(ctx context.Context, input *LinkInput) (*LinkResult, error) {
	if err := p.ensureConfigured(); err != nil {
		return nil, err
	}

	request := map[string]any{
		"items": []map[string]any{{
			"id":          input.ExternalReference,
			"title":       productName(input.Description),
			"quantity":    1,
			"unit_price":  centsToAmount(input.AmountCents),
			"currency_id": strings.ToUpper(input.Currency),
		}},
		"external_reference": input.ExternalReference,
		"metadata":           input.Metadata,
	}
	if input.PayerEmail != "" {
		request["payer"] = map[string]any{"email": input.PayerEmail}
	}
	if p.cfg.NotificationURL != "" {
		request["notification_url"] = p.cfg.NotificationURL
	}

	var preference struct {
		ID        string `json:"id"`
		InitPoint string `json:"init_point"`
	}
	if err := p.api.doJSON(ctx, http.MethodPost, "/checkout/preferences", request, &preference, nil); err != nil {
		return nil, err
	}
	if preference.ID == "" {
		return nil, fmt.Errorf("mercadopago preference id missing")
	}

	return &LinkResult{
		Reference:  Reference{OrderID: preference.ID, External: input.ExternalReference},
		PaymentURL: preference.InitPoint,
		Status:     StatusPending,
	}, nil
}

func (p *MercadoPagoProvider) CreatePreAuthorization(ctx context.Context, input *PreAuthInput) (*PreAuthResult, error) {
	if err := p.ensureConfigured(); err != nil {
		return nil, err
	}

	installments := input.Installments
	if installments <= 0 {
		installments = 1
	}
	request := map[string]any{
		"transaction_amount": centsToAmount(input.AmountCents),
		"token":              input.PaymentToken,
		"description":        productName(input.Description),
		"installments":       installments,
		"capture":            false,
		"external_reference": input.ExternalReference,
		"payer":              map[string]any{"email": input.PayerEmail},
		"metadata":           input.Metadata,
	}
	if input.PaymentMethodID != "" {
		request["payment_method_id"] = input.PaymentMethodID
	}
	if p.cfg.NotificationURL != "" {
		request["notification_url"] = p.cfg.NotificationURL
	}

	var payment mercadoPagoPayment
	headers := map[string]string{"X-Idempotency-Key": input.IdempotencyKey}
	if err := p.api.doJSON(ctx, http.MethodPost, "/v1/payments", request, &payment, headers); err != nil {
		return nil, err
	}

	result := &PreAuthResult{
		Reference: Reference{
			OrderID:  payment.ID.String(),
			ChargeID: payment.ID.String(),
			External: input.ExternalReference,
		},
		Status: payment.status(),
	}
	if result.Status == StatusAuthorized {
		expiresAt := p.now().Add(p.cfg.AuthorizationTTL)
		result.ExpiresAt = &expiresAt
	}
	if result.Status == StatusFailed {
		result.FailureReason = payment.StatusDetail
	}

	return result, nil
}

func (p *MercadoPagoProvider) CapturePreAuth(ctx context.Context, input *CaptureInput) (*ChargeResult, error) {
	if err := p.ensureConfigured(); err != nil {
		return nil, err
	}
	paymentID := mercadoPagoPaymentID(input.Reference)
	if paymentID == "" {
		return nil, fmt.Errorf("%w: mercadopago payment reference missing", ErrRejected)
	}

	request := map[string]any{"capture": true}
	if input.AmountCents != nil {
		request["transaction_amount"] = centsToAmount(*input.AmountCents)
	}

	var payment mercadoPagoPayment
	headers := map[string]string{"X-Idempotency-Key": input.IdempotencyKey}
	if err := p.api.doJSON(ctx, http.MethodPut, "/v1/payments/"+url.PathEscape(paymentID), request, &payment, headers); err != nil {
		return nil, err
	}

	return &ChargeResult{
		ChargeID:    payment.ID.String(),
		Status:      payment.status(),
		AmountCents: amountToCents(payment.TransactionAmount),
	}, nil
}

func (p *MercadoPagoProvider) GetPaymentStatus(ctx context.Context, ref Reference) (Status, error) {
	if err := p.ensureConfigured(); err != nil {
		return StatusUnknown, err
	}
	paymentID := mercadoPagoPaymentID(ref)
	if paymentID == "" {
		return StatusUnknown, nil
	}

	payment, err := p.fetchPayment(ctx, paymentID)
	if err != nil {
		return StatusUnknown, err
	}
	return payment.status(), nil
}

func (p *MercadoPagoProvider) RefundPayment(ctx context.Context, input *RefundInput) (*RefundResult, error) {
	if err := p.ensureConfigured(); err != nil {
		return nil, err
	}
	paymentID := mercadoPagoPaymentID(input.Reference)
	if paymentID == "" {
		return nil, fmt.Errorf("%w: mercadopago payment reference missing", ErrRejected)
	}

	// An empty body refunds the full amount.
	request := map[string]any{}
	if input.AmountCents != nil {
		request["amount"] = centsToAmount(*input.AmountCents)
	}

	var refund struct {
		ID     json.Number     `json:"id"`
		Status string          `json:"status"`
		Amount decimal.Decimal `json:"amount"`
	}
	headers := map[string]string{"X-Idempotency-Key": input.IdempotencyKey}
	path := "/v1/payments/" + url.PathEscape(paymentID) + "/refunds"
	if err := p.api.doJSON(ctx, http.MethodPost, path, request, &refund, headers); err != nil {
		return nil, err
	}

	status := StatusRefunded
	if refund.Status == "rejected" || refund.Status == "cancelled" {
		status = StatusFailed
	}
	return &RefundResult{
		RefundID:    refund.ID.String(),
		Status:      status,
		AmountCents: amountToCents(refund.Amount),
	}, nil
}

// VerifyAndParseWebhook validates x-signature and resolves the payment the
// notification points at. MercadoPago notifications only carry the payment id,
// so the status and references are fetched from the API.
func (p *MercadoPagoProvider) VerifyAndParseWebhook(ctx context.Context, headers http.Header, payload []byte) (*WebhookEvent, error) {
	if strings.TrimSpace(p.cfg.WebhookSecret) == "" {
		return nil, fmt.Errorf("%w: mercadopago webhook secret", ErrNotConfigured)
	}

	var notification struct {
		ID     json.RawMessage `json:"id"`
		Type   string          `json:"type"`
		Action string          `json:"action"`
		Data   struct {
			ID json.RawMessage `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &notification); err != nil {
		return nil, fmt.Errorf("%w: malformed mercadopago notification: %v", ErrRejected, err)
	}

	dataID := rawID(notification.Data.ID)
	if !verifyMercadoPagoSignature(headers.Get("x-signature"), headers.Get("x-request-id"), dataID, p.cfg.WebhookSecret) {
		return nil, ErrSignatureInvalid
	}

	event := &WebhookEvent{
		EventID:   rawID(notification.ID),
		EventType: notification.Action,
		Status:    StatusUnknown,
	}
	if event.EventType == "" {
		event.EventType = notification.Type
	}
	if notification.Type != "payment" || dataID == "" {
		return event, nil
	}

	if err := p.ensureConfigured(); err != nil {
		return nil, err
	}
	payment, err := p.fetchPayment(ctx, dataID)
	if err != nil {
		return nil, err
	}

	event.Reference = Reference{ChargeID: dataID, External: payment.ExternalReference}
	event.Status = payment.status()
	event.AmountCents = amountToCents(payment.TransactionAmount)
	event.RefundedCents = amountToCents(payment.TransactionAmountRefunded)

	return event, nil
}

func (p *MercadoPagoProvider) fetchPayment(ctx context.Context, paymentID string) (*mercadoPagoPayment, error) {
	var payment mercadoPagoPayment
	if err := p.api.do(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(paymentID), nil, &payment, nil); err != nil {
		return nil, err
	}
	return &payment, nil
}

func (p *MercadoPagoProvider) ensureConfigured() error {
	if strings.TrimSpace(p.cfg.AccessToken) == "" {
		return fmt.Errorf("%w: mercadopago access token", ErrNotConfigured)
	}
	return nil
}

type mercadoPagoPayment struct {
	ID                        json.Number     `json:"id"`
	Status                    string          `json:"status"`
	StatusDetail              string          `json:"status_detail"`
	ExternalReference         string          `json:"external_reference"`
	TransactionAmount         decimal.Decimal `json:"transaction_amount"`
	TransactionAmountRefunded decimal.Decimal `json:"transaction_amount_refunded"`
}

func (m *mercadoPagoPayment) status() Status {
	switch m.Status {
	case "pending", "in_process", "in_mediation":
		return StatusPending
	case "authorized":
		return StatusAuthorized
	case "approved":
		return StatusConfirmed
	case "rejected", "cancelled":
		return StatusFailed
	case "refunded", "charged_back":
		return StatusRefunded
	default:
		return StatusUnknown
	}
}

// mercadoPagoPaymentID returns the numeric payment id. Preference ids (link
// payments before the client pays) are not payments and yield "".
func mercadoPagoPaymentID(ref Reference) string {
	for _, id := range []string{ref.ChargeID, ref.OrderID} {
		if id != "" && isDigits(id) {
			return id
		}
	}
	return ""
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// centsToAmount renders integer cents as the decimal major-unit amount
// MercadoPago expects, as a JSON number.
func centsToAmount(cents int64) json.Number {
	return json.Number(decimal.New(cents, -2).StringFixed(2))
}

func amountToCents(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

func rawID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if json.Unmarshal(raw, &s) == nil {
			return strings.TrimSpace(s)
		}
		return ""
	}
	return strings.TrimSpace(string(raw))
}

// verifyMercadoPagoSignature checks the x-signature header ("ts=...,v1=...")
// against the HMAC-SHA256 of the manifest MercadoPago signs.
func verifyMercadoPagoSignature(signatureHeader, requestID, dataID, secret string) bool {
	if strings.TrimSpace(signatureHeader) == "" || secret == "" {
		return false
	}

	var ts, v1 string
	for _, part := range strings.Split(signatureHeader, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "ts":
			ts = strings.TrimSpace(value)
		case "v1":
			v1 = strings.TrimSpace(value)
		}
	}
	if ts == "" || v1 == "" {
		return false
	}

	manifest := "id:" + strings.ToLower(dataID) + ";"
	if requestID != "" {
		manifest += "request-id:" + requestID + ";"
	}
	manifest += "ts:" + ts + ";"

	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(manifest))
	expected := mac.Sum(nil)

	candidate, err := hex.DecodeString(v1)
	if err != nil {
		return false
	}
	return hmac.Equal(candidate, expected)
}
