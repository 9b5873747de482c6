package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/vibast-solutions/ms-go-lavago-payments/config"
)

const stripeName = config.ProviderStripe

type StripeProvider struct {
	cfg config.StripeConfig
	api *apiClient
	now func() time.Time
}

func NewStripeProvider(cfg config.StripeConfig, timeout time.Duration) *StripeProvider {
	if cfg.SignatureToleranceSeconds <= 0 {
		cfg.SignatureToleranceSeconds = 300
	}
	if cfg.AuthorizationTTL <= 0 {
		cfg.AuthorizationTTL = 7 * 24 * time.Hour
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.stripe.com"
	}

	return &StripeProvider{
		cfg: cfg,
		api: newAPIClient(stripeName, cfg.BaseURL, cfg.SecretKey, timeout),
		now: time.Now,
	}
}

func (p *StripeProvider) Name() string {
	return stripeName
}

func (p *StripeProvider) CreatePaymentLink(ctx context.Context, input *LinkInput) (*LinkResult, error) {
	if err := p.ensureConfigured(); err != nil {
		return nil, err
	}

	productValues := url.Values{}
	productValues.Set("name", productName(input.Description))
	var product struct {
		ID string `json:"id"`
	}
	if err := p.postForm(ctx, "/v1/products", productValues, "", &product); err != nil {
		return nil, err
	}
	productID := strings.TrimSpace(product.ID)
	if productID == "" {
		return nil, errors.New("stripe product id missing")
	}

	priceValues := url.Values{}
	priceValues.Set("currency", strings.ToLower(input.Currency))
	priceValues.Set("unit_amount", strconv.FormatInt(input.AmountCents, 10))
	priceValues.Set("product", productID)
	var price struct {
		ID string `json:"id"`
	}
	if err := p.postForm(ctx, "/v1/prices", priceValues, "", &price); err != nil {
		return nil, err
	}
	priceID := strings.TrimSpace(price.ID)
	if priceID == "" {
		return nil, errors.New("stripe price id missing")
	}

	linkValues := url.Values{}
	linkValues.Set("line_items[0][price]", priceID)
	linkValues.Set("line_items[0][quantity]", "1")
	linkValues.Set("after_completion[type]", "hosted_confirmation")
	for k, v := range input.Metadata {
		linkValues.Set("metadata["+k+"]", v)
		linkValues.Set("payment_intent_data[metadata]["+k+"]", v)
	}
	linkValues.Set("metadata[external_reference]", input.ExternalReference)
	linkValues.Set("payment_intent_data[metadata][external_reference]", input.ExternalReference)

	var link struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	if err := p.postForm(ctx, "/v1/payment_links", linkValues, "", &link); err != nil {
		return nil, err
	}
	if strings.TrimSpace(link.ID) == "" {
		return nil, errors.New("stripe payment link id missing")
	}

	return &LinkResult{
		Reference:  Reference{OrderID: strings.TrimSpace(link.ID), External: input.ExternalReference},
		PaymentURL: strings.TrimSpace(link.URL),
		Status:     StatusPending,
	}, nil
}

// CreatePreAuthorization confirms a manual-capture PaymentIntent. The hold is
// released by Stripe after seven days unless captured.
func (p *StripeProvider) CreatePreAuthorization(ctx context.Context, input *PreAuthInput) (*PreAuthResult, error) {
	if err := p.ensureConfigured(); err != nil {
		return nil, err
	}

	values := url.Values{}
	values.Set("amount", strconv.FormatInt(input.AmountCents, 10))
	values.Set("currency", strings.ToLower(input.Currency))
	values.Set("capture_method", "manual")
	values.Set("confirm", "true")
	values.Set("payment_method", input.PaymentToken)
	values.Set("payment_method_types[0]", "card")
	if input.Description != "" {
		values.Set("description", input.Description)
	}
	if input.PayerEmail != "" {
		values.Set("receipt_email", input.PayerEmail)
	}
	for k, v := range input.Metadata {
		values.Set("metadata["+k+"]", v)
	}
	values.Set("metadata[external_reference]", input.ExternalReference)

	var intent stripePaymentIntent
	if err := p.postForm(ctx, "/v1/payment_intents", values, input.IdempotencyKey, &intent); err != nil {
		return nil, err
	}

	result := &PreAuthResult{
		Reference: Reference{
			OrderID:  intent.ID,
			ChargeID: parseStringish(intent.LatestCharge),
			External: input.ExternalReference,
		},
		Status: intent.status(),
	}
	if result.Status == StatusAuthorized {
		expiresAt := p.now().Add(p.cfg.AuthorizationTTL)
		result.ExpiresAt = &expiresAt
	}
	if result.Status == StatusFailed && intent.LastPaymentError != nil {
		result.FailureReason = intent.LastPaymentError.Message
	}

	return result, nil
}

func (p *StripeProvider) CapturePreAuth(ctx context.Context, input *CaptureInput) (*ChargeResult, error) {
	if err := p.ensureConfigured(); err != nil {
		return nil, err
	}
	intentID := stripeIntentID(input.Reference)
	if intentID == "" {
		return nil, fmt.Errorf("%w: stripe payment intent reference missing", ErrRejected)
	}

	values := url.Values{}
	if input.AmountCents != nil {
		values.Set("amount_to_capture", strconv.FormatInt(*input.AmountCents, 10))
	}

	var intent stripePaymentIntent
	if err := p.postForm(ctx, "/v1/payment_intents/"+url.PathEscape(intentID)+"/capture", values, input.IdempotencyKey, &intent); err != nil {
		return nil, err
	}

	return &ChargeResult{
		ChargeID:    parseStringish(intent.LatestCharge),
		Status:      intent.status(),
		AmountCents: intent.AmountReceived,
	}, nil
}

func (p *StripeProvider) GetPaymentStatus(ctx context.Context, ref Reference) (Status, error) {
	if err := p.ensureConfigured(); err != nil {
		return StatusUnknown, err
	}
	intentID := stripeIntentID(ref)
	if intentID == "" {
		return StatusUnknown, nil
	}

	var intent stripePaymentIntent
	path := "/v1/payment_intents/" + url.PathEscape(intentID) + "?expand[]=latest_charge"
	if err := p.api.do(ctx, http.MethodGet, path, nil, &intent, nil); err != nil {
		return StatusUnknown, err
	}

	return intent.status(), nil
}

func (p *StripeProvider) RefundPayment(ctx context.Context, input *RefundInput) (*RefundResult, error) {
	if err := p.ensureConfigured(); err != nil {
		return nil, err
	}
	intentID := stripeIntentID(input.Reference)
	if intentID == "" {
		return nil, fmt.Errorf("%w: stripe payment intent reference missing", ErrRejected)
	}

	values := url.Values{}
	values.Set("payment_intent", intentID)
	if input.AmountCents != nil {
		values.Set("amount", strconv.FormatInt(*input.AmountCents, 10))
	}
	if input.Reason != "" {
		values.Set("metadata[reason]", input.Reason)
	}

	var refund struct {
		ID     string `json:"id"`
		Amount int64  `json:"amount"`
		Status string `json:"status"`
	}
	if err := p.postForm(ctx, "/v1/refunds", values, input.IdempotencyKey, &refund); err != nil {
		return nil, err
	}

	status := StatusRefunded
	if refund.Status == "failed" || refund.Status == "canceled" {
		status = StatusFailed
	}
	return &RefundResult{RefundID: refund.ID, Status: status, AmountCents: refund.Amount}, nil
}

func (p *StripeProvider) VerifyAndParseWebhook(_ context.Context, headers http.Header, payload []byte) (*WebhookEvent, error) {
	if strings.TrimSpace(p.cfg.WebhookSecret) == "" {
		return nil, fmt.Errorf("%w: stripe webhook secret", ErrNotConfigured)
	}
	if !verifyStripeSignature(payload, headers.Get("Stripe-Signature"), p.cfg.WebhookSecret, p.cfg.SignatureToleranceSeconds, p.now()) {
		return nil, ErrSignatureInvalid
	}

	var event struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Data struct {
			Object json.RawMessage `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("%w: malformed stripe event: %v", ErrRejected, err)
	}

	result := &WebhookEvent{
		EventID:   strings.TrimSpace(event.ID),
		EventType: event.Type,
	}

	switch event.Type {
	case "payment_intent.amount_capturable_updated":
		assignIntentFields(result, event.Data.Object)
		result.Status = StatusAuthorized
	case "payment_intent.succeeded":
		assignIntentFields(result, event.Data.Object)
		result.Status = StatusConfirmed
	case "payment_intent.payment_failed", "payment_intent.canceled":
		assignIntentFields(result, event.Data.Object)
		result.Status = StatusFailed
	case "charge.refunded":
		assignChargeFields(result, event.Data.Object)
		result.Status = StatusRefunded
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		if assignCheckoutSessionFields(result, event.Data.Object) {
			result.Status = StatusConfirmed
		}
	case "checkout.session.async_payment_failed", "checkout.session.expired":
		assignCheckoutSessionFields(result, event.Data.Object)
		result.Status = StatusFailed
	default:
		result.Status = StatusUnknown
	}

	return result, nil
}

func (p *StripeProvider) ensureConfigured() error {
	if strings.TrimSpace(p.cfg.SecretKey) == "" {
		return fmt.Errorf("%w: stripe secret key", ErrNotConfigured)
	}
	return nil
}

func (p *StripeProvider) postForm(ctx context.Context, path string, values url.Values, idempotencyKey string, out any) error {
	headers := map[string]string{
		"Content-Type":    "application/x-www-form-urlencoded",
		"Idempotency-Key": idempotencyKey,
	}
	return p.api.do(ctx, http.MethodPost, path, strings.NewReader(values.Encode()), out, headers)
}

type stripePaymentIntent struct {
	ID               string          `json:"id"`
	Status           string          `json:"status"`
	Amount           int64           `json:"amount"`
	AmountReceived   int64           `json:"amount_received"`
	LatestCharge     json.RawMessage `json:"latest_charge"`
	LastPaymentError *struct {
		Message string `json:"message"`
	} `json:"last_payment_error"`
}

func (i *stripePaymentIntent) status() Status {
	switch i.Status {
	case "requires_capture":
		return StatusAuthorized
	case "succeeded":
		var charge struct {
			Refunded bool `json:"refunded"`
		}
		if len(i.LatestCharge) > 0 && i.LatestCharge[0] == '{' && json.Unmarshal(i.LatestCharge, &charge) == nil && charge.Refunded {
			return StatusRefunded
		}
		return StatusConfirmed
	case "canceled":
		return StatusFailed
	case "requires_payment_method":
		if i.LastPaymentError != nil {
			return StatusFailed
		}
		return StatusPending
	case "processing", "requires_action", "requires_confirmation":
		return StatusPending
	default:
		return StatusUnknown
	}
}

func stripeIntentID(ref Reference) string {
	for _, id := range []string{ref.OrderID, ref.ChargeID} {
		if strings.HasPrefix(id, "pi_") {
			return id
		}
	}
	return ""
}

func productName(description string) string {
	name := strings.TrimSpace(description)
	if name == "" {
		return "payment"
	}
	return name
}

func verifyStripeSignature(payload []byte, signatureHeader string, webhookSecret string, toleranceSeconds int64, now time.Time) bool {
	signatureHeader = strings.TrimSpace(signatureHeader)
	if signatureHeader == "" || strings.TrimSpace(webhookSecret) == "" {
		return false
	}

	parts := strings.Split(signatureHeader, ",")
	var ts string
	v1 := make([]string, 0, 1)
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(part, "t=") {
			ts = strings.TrimSpace(strings.TrimPrefix(part, "t="))
		}
		if strings.HasPrefix(part, "v1=") {
			v1 = append(v1, strings.TrimSpace(strings.TrimPrefix(part, "v1=")))
		}
	}
	if ts == "" || len(v1) == 0 {
		return false
	}

	tsUnix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false
	}
	current := now.Unix()
	if current-tsUnix > toleranceSeconds || tsUnix-current > toleranceSeconds {
		return false
	}

	mac := hmac.New(sha256.New, []byte(webhookSecret))
	_, _ = mac.Write([]byte(ts + "." + string(payload)))
	expected := mac.Sum(nil)

	for _, sig := range v1 {
		candidate, err := hex.DecodeString(sig)
		if err != nil {
			continue
		}
		if hmac.Equal(candidate, expected) {
			return true
		}
	}

	return false
}

func assignIntentFields(event *WebhookEvent, payload json.RawMessage) {
	var object struct {
		ID             string            `json:"id"`
		AmountReceived int64             `json:"amount_received"`
		Amount         int64             `json:"amount"`
		LatestCharge   json.RawMessage   `json:"latest_charge"`
		Metadata       map[string]string `json:"metadata"`
	}
	if json.Unmarshal(payload, &object) != nil {
		return
	}
	event.Reference = Reference{
		OrderID:  strings.TrimSpace(object.ID),
		ChargeID: parseStringish(object.LatestCharge),
		External: object.Metadata["external_reference"],
	}
	event.AmountCents = object.AmountReceived
}

func assignChargeFields(event *WebhookEvent, payload json.RawMessage) {
	var object struct {
		ID             string            `json:"id"`
		PaymentIntent  json.RawMessage   `json:"payment_intent"`
		AmountCaptured int64             `json:"amount_captured"`
		AmountRefunded int64             `json:"amount_refunded"`
		Metadata       map[string]string `json:"metadata"`
	}
	if json.Unmarshal(payload, &object) != nil {
		return
	}
	event.Reference = Reference{
		OrderID:  parseStringish(object.PaymentIntent),
		ChargeID: strings.TrimSpace(object.ID),
		External: object.Metadata["external_reference"],
	}
	event.AmountCents = object.AmountCaptured
	event.RefundedCents = object.AmountRefunded
}

func assignCheckoutSessionFields(event *WebhookEvent, payload json.RawMessage) bool {
	var object struct {
		ID            string            `json:"id"`
		PaymentLink   json.RawMessage   `json:"payment_link"`
		PaymentIntent json.RawMessage   `json:"payment_intent"`
		PaymentStatus string            `json:"payment_status"`
		AmountTotal   int64             `json:"amount_total"`
		Metadata      map[string]string `json:"metadata"`
	}
	if json.Unmarshal(payload, &object) != nil {
		return false
	}

	orderID := parseStringish(object.PaymentLink)
	if orderID == "" {
		orderID = strings.TrimSpace(object.ID)
	}
	event.Reference = Reference{
		OrderID:  orderID,
		ChargeID: parseStringish(object.PaymentIntent),
		External: object.Metadata["external_reference"],
	}
	event.AmountCents = object.AmountTotal

	return object.PaymentStatus == "paid" || object.PaymentStatus == "no_payment_required"
}

func parseStringish(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if json.Unmarshal(raw, &s) == nil {
			return strings.TrimSpace(s)
		}
		return ""
	}
	var obj struct {
		ID string `json:"id"`
	}
	if json.Unmarshal(raw, &obj) == nil {
		return strings.TrimSpace(obj.ID)
	}
	return ""
}
