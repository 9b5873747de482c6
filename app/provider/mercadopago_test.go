package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vibast-solutions/ms-go-lavago-payments/config"
)

func newMercadoPagoForTest(baseURL string) *MercadoPagoProvider {
	return NewMercadoPagoProvider(config.MercadoPagoConfig{
		AccessToken:   "mp-token",
		WebhookSecret: "mp-secret",
		BaseURL:       baseURL,
	}, time.Second)
}

func signMercadoPago(dataID, requestID, ts, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte("id:" + dataID + ";request-id:" + requestID + ";ts:" + ts + ";"))
	return "ts=" + ts + ",v1=" + hex.EncodeToString(mac.Sum(nil))
}

func TestCentsToAmount(t *testing.T) {
	if got := centsToAmount(5000); got != "50.00" {
		t.Fatalf("expected 50.00, got %s", got)
	}
	if got := centsToAmount(1); got != "0.01" {
		t.Fatalf("expected 0.01, got %s", got)
	}
	if got := amountToCents(decimal.RequireFromString("19.99")); got != 1999 {
		t.Fatalf("expected 1999, got %d", got)
	}
}

func TestMercadoPagoPreAuthorization(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/payments" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("X-Idempotency-Key") != "idem-1" {
			t.Fatalf("expected idempotency key, got %q", r.Header.Get("X-Idempotency-Key"))
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body["capture"] != false || body["transaction_amount"] != 50.0 {
			t.Fatalf("unexpected body: %v", body)
		}
		_, _ = w.Write([]byte(`{"id":123456,"status":"authorized","transaction_amount":50.00}`))
	}))
	defer server.Close()

	result, err := newMercadoPagoForTest(server.URL).CreatePreAuthorization(context.Background(), &PreAuthInput{
		ExternalReference: "ext-1",
		IdempotencyKey:    "idem-1",
		AmountCents:       5000,
		Currency:          "BRL",
		PaymentToken:      "card-token",
		PayerEmail:        "client@example.com",
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.Status != StatusAuthorized || result.Reference.ChargeID != "123456" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestMercadoPagoCaptureUsesPut(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/v1/payments/123456" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"id":123456,"status":"approved","transaction_amount":30.00}`))
	}))
	defer server.Close()

	amount := int64(3000)
	result, err := newMercadoPagoForTest(server.URL).CapturePreAuth(context.Background(), &CaptureInput{
		Reference:   Reference{ChargeID: "123456"},
		AmountCents: &amount,
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.Status != StatusConfirmed || result.AmountCents != 3000 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestMercadoPagoWebhookResolvesPayment(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/payments/777" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"id":777,"status":"refunded","external_reference":"ext-7","transaction_amount":50.00,"transaction_amount_refunded":50.00}`))
	}))
	defer server.Close()

	p := newMercadoPagoForTest(server.URL)
	payload := []byte(`{"id":99,"type":"payment","action":"payment.updated","data":{"id":"777"}}`)
	headers := http.Header{}
	headers.Set("x-request-id", "req-1")
	headers.Set("x-signature", signMercadoPago("777", "req-1", "1700000000", "mp-secret"))

	event, err := p.VerifyAndParseWebhook(context.Background(), headers, payload)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if event.Status != StatusRefunded || event.RefundedCents != 5000 {
		t.Fatalf("unexpected event: %+v", event)
	}
	if event.Reference.ChargeID != "777" || event.Reference.External != "ext-7" || event.EventID != "99" {
		t.Fatalf("unexpected event identity: %+v", event)
	}
}

func TestMercadoPagoWebhookRejectsBadSignature(t *testing.T) {
	p := newMercadoPagoForTest("http://127.0.0.1:1")
	payload := []byte(`{"id":99,"type":"payment","data":{"id":"777"}}`)
	headers := http.Header{}
	headers.Set("x-request-id", "req-1")
	headers.Set("x-signature", signMercadoPago("777", "req-1", "1700000000", "other-secret"))

	if _, err := p.VerifyAndParseWebhook(context.Background(), headers, payload); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected signature invalid, got %v", err)
	}
}

func TestMercadoPagoPaymentIDIgnoresPreferences(t *testing.T) {
	if id := mercadoPagoPaymentID(Reference{OrderID: "123-abc-pref"}); id != "" {
		t.Fatalf("expected empty id for preference, got %s", id)
	}
	if id := mercadoPagoPaymentID(Reference{OrderID: "123-abc-pref", ChargeID: "42"}); id != "42" {
		t.Fatalf("expected charge id, got %s", id)
	}
}
