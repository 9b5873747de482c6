package provider

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/vibast-solutions/ms-go-lavago-payments/app/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/vibast-solutions/ms-go-lavago-payments/app/provider"

type instrumentedProvider struct {
	next   Provider
	tracer trace.Tracer
}

// Instrument wraps next with a span and latency/outcome metrics per call.
func Instrument(next Provider) Provider {
	return &instrumentedProvider{next: next, tracer: otel.Tracer(tracerName)}
}

func (p *instrumentedProvider) Name() string {
	return p.next.Name()
}

func (p *instrumentedProvider) start(ctx context.Context, operation string) (context.Context, trace.Span, time.Time) {
	ctx, span := p.tracer.Start(ctx, "provider."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("payment.provider", p.next.Name())),
	)
	return ctx, span, time.Now()
}

func (p *instrumentedProvider) finish(span trace.Span, operation string, started time.Time, err error) {
	outcome := outcomeOf(err)
	metrics.RecordProviderRequest(p.next.Name(), operation, outcome, time.Since(started))
	span.SetAttributes(attribute.String("payment.provider.outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	span.End()
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	case errors.Is(err, ErrRejected):
		return "rejected"
	case errors.Is(err, ErrSignatureInvalid):
		return "signature_invalid"
	default:
		return "error"
	}
}

func (p *instrumentedProvider) CreatePaymentLink(ctx context.Context, input *LinkInput) (*LinkResult, error) {
	ctx, span, started := p.start(ctx, "create_payment_link")
	result, err := p.next.CreatePaymentLink(ctx, input)
	p.finish(span, "create_payment_link", started, err)
	return result, err
}

func (p *instrumentedProvider) CreatePreAuthorization(ctx context.Context, input *PreAuthInput) (*PreAuthResult, error) {
	ctx, span, started := p.start(ctx, "create_pre_authorization")
	result, err := p.next.CreatePreAuthorization(ctx, input)
	p.finish(span, "create_pre_authorization", started, err)
	return result, err
}

func (p *instrumentedProvider) CapturePreAuth(ctx context.Context, input *CaptureInput) (*ChargeResult, error) {
	ctx, span, started := p.start(ctx, "capture_pre_auth")
	result, err := p.next.CapturePreAuth(ctx, input)
	p.finish(span, "capture_pre_auth", started, err)
	return result, err
}

func (p *instrumentedProvider) GetPaymentStatus(ctx context.Context, ref Reference) (Status, error) {
	ctx, span, started := p.start(ctx, "get_payment_status")
	status, err := p.next.GetPaymentStatus(ctx, ref)
	p.finish(span, "get_payment_status", started, err)
	return status, err
}

func (p *instrumentedProvider) RefundPayment(ctx context.Context, input *RefundInput) (*RefundResult, error) {
	ctx, span, started := p.start(ctx, "refund_payment")
	result, err := p.next.RefundPayment(ctx, input)
	p.finish(span, "refund_payment", started, err)
	return result, err
}

func (p *instrumentedProvider) VerifyAndParseWebhook(ctx context.Context, headers http.Header, payload []byte) (*WebhookEvent, error) {
	ctx, span, started := p.start(ctx, "verify_webhook")
	event, err := p.next.VerifyAndParseWebhook(ctx, headers, payload)
	p.finish(span, "verify_webhook", started, err)
	return event, err
}
