package provider

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vibast-solutions/ms-go-lavago-payments/config"
)

const pagBankName = config.ProviderPagBank

type PagBankProvider struct {
	cfg config.PagBankConfig
	api *apiClient
	now func() time.Time
}

func NewPagBankProvider(cfg config.PagBankConfig, timeout time.Duration) *PagBankProvider {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.pagseguro.com"
	}
	if cfg.AuthorizationTTL <= 0 {
		cfg.AuthorizationTTL = 5 * 24 * time.Hour
	}
	if cfg.WebhookToken == "" {
		cfg.WebhookToken = cfg.Token
	}

	return &PagBankProvider{
		cfg: cfg,
		api: newAPIClient(pagBankName, cfg.BaseURL, cfg.Token, timeout),
		now: time.Now,
	}
}

func (p *PagBankProvider) Name() string {
	return pagBankName
}

func (p *PagBankProvider) CreatePaymentLink(ctx context.Context, input *LinkInput) (*LinkResult, error) {
	if err := p.ensureConfigured(); err != nil {
		return nil, err
	}

	request := map[string]any{
		"reference_id": input.ExternalReference,
		"items": []map[string]any{{
			"reference_id": input.ExternalReference,
			"name":         productName(input.Description),
			"quantity":     1,
			"unit_amount":  input.AmountCents,
		}},
	}
	if input.PayerEmail != "" {
		request["customer"] = map[string]any{"email": input.PayerEmail}
	}
	if p.cfg.NotificationURL != "" {
		request["notification_urls"] = []string{p.cfg.NotificationURL}
		request["payment_notification_urls"] = []string{p.cfg.NotificationURL}
	}

	var checkout struct {
		ID    string        `json:"id"`
		Links []pagBankLink `json:"links"`
	}
	if err := p.api.doJSON(ctx, http.MethodPost, "/checkouts", request, &checkout, nil); err != nil {
		return nil, err
	}
	if checkout.ID == "" {
		return nil, fmt.Errorf("pagbank checkout id missing")
	}

	return &LinkResult{
		Reference:  Reference{OrderID: checkout.ID, External: input.ExternalReference},
		PaymentURL: linkByRel(checkout.Links, "PAY"),
		Status:     StatusPending,
	}, nil
}

// CreatePreAuthorization places an order whose credit card charge is created
// with capture disabled.
func (p *PagBankProvider) CreatePreAuthorization(ctx context.Context, input *PreAuthInput) (*PreAuthResult, error) {
	if err := p.ensureConfigured(); err != nil {
		return nil, err
	}

	installments := input.Installments
	if installments <= 0 {
		installments = 1
	}
	request := map[string]any{
		"reference_id": input.ExternalReference,
		"items": []map[string]any{{
			"reference_id": input.ExternalReference,
			"name":         productName(input.Description),
			"quantity":     1,
			"unit_amount":  input.AmountCents,
		}},
		"charges": []map[string]any{{
			"reference_id": input.ExternalReference,
			"description":  productName(input.Description),
			"amount": map[string]any{
				"value":    input.AmountCents,
				"currency": strings.ToUpper(input.Currency),
			},
			"payment_method": map[string]any{
				"type":         "CREDIT_CARD",
				"installments": installments,
				"capture":      false,
				"card":         map[string]any{"encrypted": input.PaymentToken},
			},
		}},
	}
	if input.PayerEmail != "" {
		request["customer"] = map[string]any{"email": input.PayerEmail}
	}
	if p.cfg.NotificationURL != "" {
		request["notification_urls"] = []string{p.cfg.NotificationURL}
	}

	var order pagBankOrder
	headers := map[string]string{"x-idempotency-key": input.IdempotencyKey}
	if err := p.api.doJSON(ctx, http.MethodPost, "/orders", request, &order, headers); err != nil {
		return nil, err
	}

	result := &PreAuthResult{
		Reference: Reference{OrderID: order.ID, External: input.ExternalReference},
		Status:    StatusPending,
	}
	if charge := order.charge(); charge != nil {
		result.Reference.ChargeID = charge.ID
		result.Status = charge.status()
		if result.Status == StatusFailed {
			result.FailureReason = charge.PaymentResponse.Message
		}
	}
	if result.Status == StatusAuthorized {
		expiresAt := p.now().Add(p.cfg.AuthorizationTTL)
		result.ExpiresAt = &expiresAt
	}

	return result, nil
}

func (p *PagBankProvider) CapturePreAuth(ctx context.Context, input *CaptureInput) (*ChargeResult, error) {
	if err := p.ensureConfigured(); err != nil {
		return nil, err
	}
	if input.Reference.ChargeID == "" {
		return nil, fmt.Errorf("%w: pagbank charge reference missing", ErrRejected)
	}

	request := map[string]any{}
	if input.AmountCents != nil {
		request["amount"] = map[string]any{"value": *input.AmountCents}
	}

	var charge pagBankCharge
	headers := map[string]string{"x-idempotency-key": input.IdempotencyKey}
	path := "/charges/" + url.PathEscape(input.Reference.ChargeID) + "/capture"
	if err := p.api.doJSON(ctx, http.MethodPost, path, request, &charge, headers); err != nil {
		return nil, err
	}

	return &ChargeResult{
		ChargeID:    charge.ID,
		Status:      charge.status(),
		AmountCents: charge.Amount.Summary.Paid,
	}, nil
}

func (p *PagBankProvider) GetPaymentStatus(ctx context.Context, ref Reference) (Status, error) {
	if err := p.ensureConfigured(); err != nil {
		return StatusUnknown, err
	}

	switch {
	case strings.HasPrefix(ref.OrderID, "ORDE_"):
		var order pagBankOrder
		if err := p.api.do(ctx, http.MethodGet, "/orders/"+url.PathEscape(ref.OrderID), nil, &order, nil); err != nil {
			return StatusUnknown, err
		}
		if charge := order.charge(); charge != nil {
			return charge.status(), nil
		}
		return StatusPending, nil
	case ref.ChargeID != "":
		var charge pagBankCharge
		if err := p.api.do(ctx, http.MethodGet, "/charges/"+url.PathEscape(ref.ChargeID), nil, &charge, nil); err != nil {
			return StatusUnknown, err
		}
		return charge.status(), nil
	default:
		return StatusUnknown, nil
	}
}

// RefundPayment cancels the captured charge, fully or for the given amount.
func (p *PagBankProvider) RefundPayment(ctx context.Context, input *RefundInput) (*RefundResult, error) {
	if err := p.ensureConfigured(); err != nil {
		return nil, err
	}
	if input.Reference.ChargeID == "" {
		return nil, fmt.Errorf("%w: pagbank charge reference missing", ErrRejected)
	}

	request := map[string]any{}
	if input.AmountCents != nil {
		request["amount"] = map[string]any{"value": *input.AmountCents}
	}

	var charge pagBankCharge
	headers := map[string]string{"x-idempotency-key": input.IdempotencyKey}
	path := "/charges/" + url.PathEscape(input.Reference.ChargeID) + "/cancel"
	if err := p.api.doJSON(ctx, http.MethodPost, path, request, &charge, headers); err != nil {
		return nil, err
	}

	status := StatusRefunded
	if charge.Status == "DECLINED" {
		status = StatusFailed
	}
	return &RefundResult{
		RefundID:    charge.ID,
		Status:      status,
		AmountCents: amountOrDefault(input.AmountCents, charge.Amount.Summary.Refunded),
	}, nil
}

func (p *PagBankProvider) VerifyAndParseWebhook(_ context.Context, headers http.Header, payload []byte) (*WebhookEvent, error) {
	if strings.TrimSpace(p.cfg.WebhookToken) == "" {
		return nil, fmt.Errorf("%w: pagbank webhook token", ErrNotConfigured)
	}
	if !verifyPagBankSignature(payload, headers.Get("x-authenticity-token"), p.cfg.WebhookToken) {
		return nil, ErrSignatureInvalid
	}

	var order pagBankOrder
	if err := json.Unmarshal(payload, &order); err != nil {
		return nil, fmt.Errorf("%w: malformed pagbank notification: %v", ErrRejected, err)
	}

	event := &WebhookEvent{
		EventType: "order",
		Reference: Reference{OrderID: order.ID, External: order.ReferenceID},
		Status:    StatusUnknown,
	}
	if charge := order.charge(); charge != nil {
		event.EventType = "charge." + strings.ToLower(charge.Status)
		event.EventID = charge.ID + ":" + charge.Status
		event.Reference.ChargeID = charge.ID
		event.Status = charge.status()
		event.AmountCents = charge.Amount.Summary.Paid
		event.RefundedCents = charge.Amount.Summary.Refunded
	}

	return event, nil
}

func (p *PagBankProvider) ensureConfigured() error {
	if strings.TrimSpace(p.cfg.Token) == "" {
		return fmt.Errorf("%w: pagbank token", ErrNotConfigured)
	}
	return nil
}

type pagBankLink struct {
	Rel  string `json:"rel"`
	Href string `json:"href"`
}

type pagBankOrder struct {
	ID          string          `json:"id"`
	ReferenceID string          `json:"reference_id"`
	Charges     []pagBankCharge `json:"charges"`
}

// charge returns the most recent charge of the order.
func (o *pagBankOrder) charge() *pagBankCharge {
	if len(o.Charges) == 0 {
		return nil
	}
	return &o.Charges[len(o.Charges)-1]
}

type pagBankCharge struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount struct {
		Value   int64 `json:"value"`
		Summary struct {
			Total    int64 `json:"total"`
			Paid     int64 `json:"paid"`
			Refunded int64 `json:"refunded"`
		} `json:"summary"`
	} `json:"amount"`
	PaymentResponse struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"payment_response"`
}

func (c *pagBankCharge) status() Status {
	switch c.Status {
	case "AUTHORIZED":
		return StatusAuthorized
	case "PAID":
		return StatusConfirmed
	case "IN_ANALYSIS", "WAITING":
		return StatusPending
	case "DECLINED":
		return StatusFailed
	case "CANCELED":
		if c.Amount.Summary.Refunded > 0 || c.Amount.Summary.Paid > 0 {
			return StatusRefunded
		}
		return StatusFailed
	default:
		return StatusUnknown
	}
}

func linkByRel(links []pagBankLink, rel string) string {
	for _, link := range links {
		if strings.EqualFold(link.Rel, rel) {
			return link.Href
		}
	}
	return ""
}

// verifyPagBankSignature checks x-authenticity-token, the hex SHA-256 of the
// account token and the raw body joined by a dash.
func verifyPagBankSignature(payload []byte, signature, token string) bool {
	signature = strings.TrimSpace(strings.ToLower(signature))
	if signature == "" || token == "" {
		return false
	}
	sum := sha256.Sum256([]byte(token + "-" + string(payload)))
	expected := hex.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}
