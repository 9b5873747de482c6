//go:build e2e
// +build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"testing"
	"time"

	paymentgrpc "github.com/vibast-solutions/ms-go-lavago-payments/app/grpc"
	"github.com/vibast-solutions/ms-go-lavago-payments/app/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const (
	defaultPaymentsHTTPBase = "http://localhost:48080"
	defaultPaymentsGRPCAddr = "localhost:49090"
)

type httpClient struct {
	baseURL string
	client  *http.Client
}

func newHTTPClient(baseURL string) *httpClient {
	return &httpClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *httpClient) doJSON(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	return c.do(t, method, path, body, map[string]string{"X-API-Key": paymentsCallerAPIKey()})
}

func (c *httpClient) doJSONWithAPIKey(t *testing.T, method, path string, body any, apiKey string) (*http.Response, []byte) {
	headers := map[string]string{}
	if apiKey != "" {
		headers["X-API-Key"] = apiKey
	}
	return c.do(t, method, path, body, headers)
}

func (c *httpClient) do(t *testing.T, method, path string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()

	var reqBody io.Reader = bytes.NewReader(nil)
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("json marshal failed: %v", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reqBody)
	if err != nil {
		t.Fatalf("new request failed: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Request-ID", fmt.Sprintf("e2e-http-%d", time.Now().UnixNano()))
	for name, value := range headers {
		req.Header.Set(name, value)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		t.Fatalf("http request failed: %v", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response failed: %v", err)
	}

	return resp, bodyBytes
}

func waitForHTTP(baseURL string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	client := &http.Client{Timeout: 2 * time.Second}
	for time.Now().Before(deadline) {
		resp, err := client.Get(baseURL + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(500 * time.Millisecond)
	}
	return fmt.Errorf("http service not ready at %s", baseURL)
}

func waitForGRPC(addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		time.Sleep(500 * time.Millisecond)
	}
	return fmt.Errorf("grpc service not ready at %s", addr)
}

func withGRPCHeaders(apiKey string) grpc.DialOption {
	return grpc.WithUnaryInterceptor(func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "x-request-id", fmt.Sprintf("e2e-grpc-%d", time.Now().UnixNano()))
		if apiKey != "" {
			ctx = metadata.AppendToOutgoingContext(ctx, "x-api-key", apiKey)
		}
		return invoker(ctx, method, req, reply, cc, opts...)
	})
}

func dialPaymentsGRPC(t *testing.T, addr string, opts ...grpc.DialOption) *grpc.ClientConn {
	t.Helper()
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		t.Fatalf("grpc dial failed: %v", err)
	}
	return conn
}

func grpcContextWithHeaders(apiKey, requestID string) context.Context {
	ctx := context.Background()
	if requestID != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "x-request-id", requestID)
	}
	if apiKey != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "x-api-key", apiKey)
	}
	return ctx
}

func TestPaymentsE2E(t *testing.T) {
	httpBase := os.Getenv("PAYMENTS_HTTP_URL")
	if httpBase == "" {
		httpBase = defaultPaymentsHTTPBase
	}
	grpcAddr := os.Getenv("PAYMENTS_GRPC_ADDR")
	if grpcAddr == "" {
		grpcAddr = defaultPaymentsGRPCAddr
	}

	if err := waitForHTTP(httpBase, 30*time.Second); err != nil {
		t.Fatalf("http not ready: %v", err)
	}
	if err := waitForGRPC(grpcAddr, 30*time.Second); err != nil {
		t.Fatalf("grpc not ready: %v", err)
	}

	client := newHTTPClient(httpBase)

	conn := dialPaymentsGRPC(t, grpcAddr, withGRPCHeaders(paymentsCallerAPIKey()))
	defer conn.Close()
	grpcClient := paymentgrpc.NewPaymentsServiceClient(conn)

	rawConn := dialPaymentsGRPC(t, grpcAddr)
	defer rawConn.Close()
	rawGRPCClient := paymentgrpc.NewPaymentsServiceClient(rawConn)

	t.Run("HTTPMissingRequestID", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, httpBase+"/payments", nil)
		if err != nil {
			t.Fatalf("new request failed: %v", err)
		}
		req.Header.Set("X-API-Key", paymentsCallerAPIKey())
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("expected 400 for missing x-request-id, got %d", resp.StatusCode)
		}
	})

	t.Run("HTTPUnauthorizedMissingAPIKey", func(t *testing.T) {
		resp, _ := client.doJSONWithAPIKey(t, http.MethodGet, "/payments", nil, "")
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("expected 401 for missing x-api-key, got %d", resp.StatusCode)
		}
	})

	t.Run("HTTPForbiddenInsufficientAccess", func(t *testing.T) {
		resp, _ := client.doJSONWithAPIKey(t, http.MethodGet, "/payments", nil, paymentsNoAccessAPIKey())
		if resp.StatusCode != http.StatusForbidden {
			t.Fatalf("expected 403 for insufficient access, got %d", resp.StatusCode)
		}
	})

	t.Run("HTTPMetricsExposed", func(t *testing.T) {
		resp, body := client.doJSONWithAPIKey(t, http.MethodGet, "/metrics", nil, "")
		if resp.StatusCode != http.StatusOK || !bytes.Contains(body, []byte("payments_")) {
			t.Fatalf("expected prometheus output, got %d", resp.StatusCode)
		}
	})

	t.Run("GRPCHealth", func(t *testing.T) {
		res, err := healthpb.NewHealthClient(rawConn).Check(context.Background(), &healthpb.HealthCheckRequest{Service: paymentgrpc.ServiceName})
		if err != nil {
			t.Fatalf("health check failed: %v", err)
		}
		if res.GetStatus() != healthpb.HealthCheckResponse_SERVING {
			t.Fatalf("expected SERVING, got %v", res.GetStatus())
		}
	})

	t.Run("GRPCMissingRequestID", func(t *testing.T) {
		_, err := rawGRPCClient.GetPayment(context.Background(), &types.GetPaymentRequest{Id: 1})
		if status.Code(err) != codes.InvalidArgument {
			t.Fatalf("expected InvalidArgument for missing x-request-id, got %v", err)
		}
	})

	t.Run("GRPCUnauthorizedMissingAPIKey", func(t *testing.T) {
		ctx := grpcContextWithHeaders("", fmt.Sprintf("e2e-grpc-no-auth-%d", time.Now().UnixNano()))
		_, err := rawGRPCClient.GetPayment(ctx, &types.GetPaymentRequest{Id: 1})
		if status.Code(err) != codes.Unauthenticated {
			t.Fatalf("expected Unauthenticated, got %v", err)
		}
	})

	t.Run("GRPCForbiddenInsufficientAccess", func(t *testing.T) {
		ctx := grpcContextWithHeaders(paymentsNoAccessAPIKey(), fmt.Sprintf("e2e-grpc-forbidden-%d", time.Now().UnixNano()))
		_, err := rawGRPCClient.GetPayment(ctx, &types.GetPaymentRequest{Id: 1})
		if status.Code(err) != codes.PermissionDenied {
			t.Fatalf("expected PermissionDenied, got %v", err)
		}
	})

	t.Run("HTTPValidationCreate", func(t *testing.T) {
		resp, _ := client.doJSON(t, http.MethodPost, "/payments", map[string]any{})
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("expected 400 for invalid create request, got %d", resp.StatusCode)
		}
	})

	t.Run("GRPCValidationCreate", func(t *testing.T) {
		_, err := grpcClient.CreatePayment(context.Background(), &types.CreatePaymentRequest{})
		if status.Code(err) != codes.InvalidArgument {
			t.Fatalf("expected InvalidArgument, got %v", err)
		}
	})

	t.Run("HTTPPreAuthPaymentStartsPending", func(t *testing.T) {
		resp, body := client.doJSON(t, http.MethodPost, "/payments", map[string]any{
			"caller_service":      "bookings-service",
			"user_id":             "e2e-user",
			"resource_type":       "booking",
			"resource_id":         fmt.Sprintf("bk-%d", time.Now().UnixNano()),
			"amount_cents":        4500,
			"currency":            "BRL",
			"flow":                "preauth",
			"status_callback_url": "http://localhost:1/callback",
		})
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("expected 201, got %d body=%s", resp.StatusCode, string(body))
		}
		var payload types.PaymentEnvelopeResponse
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Fatalf("unmarshal create failed: %v body=%s", err, string(body))
		}
		if payload.Payment.Status != "pending" || payload.Payment.CapturedCents != 0 {
			t.Fatalf("unexpected payment: %+v", payload.Payment)
		}

		path := "/payments/" + strconv.FormatUint(payload.Payment.Id, 10)
		resp, body = client.doJSON(t, http.MethodPost, path+"/confirm", map[string]any{})
		if resp.StatusCode != http.StatusConflict {
			t.Fatalf("expected 409 confirming a pending payment, got %d body=%s", resp.StatusCode, string(body))
		}

		resp, body = client.doJSON(t, http.MethodPost, path+"/cancel", map[string]any{"reason": "e2e"})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200 cancelling, got %d body=%s", resp.StatusCode, string(body))
		}
		resp, body = client.doJSON(t, http.MethodPost, path+"/refund", map[string]any{"amount_cents": 100})
		if resp.StatusCode != http.StatusConflict {
			t.Fatalf("expected 409 refunding a cancelled payment, got %d body=%s", resp.StatusCode, string(body))
		}

		resp, body = client.doJSON(t, http.MethodGet, path+"/refunds", nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200 listing refunds, got %d body=%s", resp.StatusCode, string(body))
		}
	})

	t.Run("HTTPListPayments", func(t *testing.T) {
		resp, body := client.doJSON(t, http.MethodGet, "/payments?limit=10&offset=0", nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d body=%s", resp.StatusCode, string(body))
		}
		var payload types.ListPaymentsResponse
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Fatalf("unmarshal list payments failed: %v body=%s", err, string(body))
		}
	})

	t.Run("HTTPCancelNotFound", func(t *testing.T) {
		resp, body := client.doJSON(t, http.MethodPost, "/payments/999999/cancel", map[string]any{"reason": "e2e"})
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("expected 404, got %d body=%s", resp.StatusCode, string(body))
		}
	})

	t.Run("HTTPWebhookBadSignature", func(t *testing.T) {
		resp, body := client.do(t, http.MethodPost, "/webhooks/providers/stripe", map[string]any{"id": "evt_e2e"}, map[string]string{
			"Stripe-Signature": "t=1,v1=deadbeef",
		})
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d body=%s", resp.StatusCode, string(body))
		}
	})

	t.Run("HTTPWebhookUnknownProvider", func(t *testing.T) {
		resp, body := client.do(t, http.MethodPost, "/webhooks/providers/paypal", map[string]any{"id": "evt_e2e"}, nil)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d body=%s", resp.StatusCode, string(body))
		}
	})

	t.Run("GRPCGetNotFound", func(t *testing.T) {
		_, err := grpcClient.GetPayment(context.Background(), &types.GetPaymentRequest{Id: 999999})
		if status.Code(err) != codes.NotFound {
			t.Fatalf("expected NotFound, got %v", err)
		}
	})

	t.Run("GRPCListPayments", func(t *testing.T) {
		res, err := grpcClient.ListPayments(context.Background(), &types.ListPaymentsRequest{
			Limit:  10,
			Offset: 0,
		})
		if err != nil {
			t.Fatalf("grpc list payments failed: %v", err)
		}
		if res == nil {
			t.Fatal("expected list response")
		}
	})

	t.Run("GRPCCancelNotFound", func(t *testing.T) {
		_, err := grpcClient.CancelPayment(context.Background(), &types.CancelPaymentRequest{Id: 999999, Reason: "e2e"})
		if status.Code(err) != codes.NotFound {
			t.Fatalf("expected NotFound, got %v", err)
		}
	})

	t.Run("HTTPGetNotFound", func(t *testing.T) {
		resp, body := client.doJSON(t, http.MethodGet, "/payments/"+strconv.FormatUint(999999, 10), nil)
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("expected 404, got %d body=%s", resp.StatusCode, string(body))
		}
	})
}
