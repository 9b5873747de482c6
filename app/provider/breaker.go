package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/eapache/go-resiliency/breaker"
)

var ErrCircuitOpen = breaker.ErrBreakerOpen

// Breaker trips after maxFailures unavailable responses and fails fast until
// resetTimeout has elapsed. Rejections do not count as failures.
type Breaker struct {
	cb *breaker.Breaker
}

func NewBreaker(maxFailures int, resetTimeout time.Duration) *Breaker {
	if maxFailures <= 0 {
		maxFailures = 5
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}
	return &Breaker{cb: breaker.New(maxFailures, 1, resetTimeout)}
}

func (b *Breaker) Open() bool {
	return b.cb.GetState() == breaker.Open
}

func (b *Breaker) run(name string, call func() error) error {
	var callErr error
	err := b.cb.Run(func() error {
		callErr = call()
		if errors.Is(callErr, ErrUnavailable) {
			return callErr
		}
		return nil
	})
	if errors.Is(err, breaker.ErrBreakerOpen) {
		return fmt.Errorf("%w: %s: %w", ErrUnavailable, name, ErrCircuitOpen)
	}
	return callErr
}

type breakerProvider struct {
	next    Provider
	breaker *Breaker
}

// WithBreaker guards every outbound gateway call with b. Webhook verification
// is local work and is never short-circuited.
func WithBreaker(next Provider, b *Breaker) Provider {
	return &breakerProvider{next: next, breaker: b}
}

func guarded[T any](p *breakerProvider, call func() (T, error)) (T, error) {
	var result T
	err := p.breaker.run(p.next.Name(), func() error {
		var err error
		result, err = call()
		return err
	})
	return result, err
}

func (p *breakerProvider) Name() string {
	return p.next.Name()
}

func (p *breakerProvider) CreatePaymentLink(ctx context.Context, input *LinkInput) (*LinkResult, error) {
	return guarded(p, func() (*LinkResult, error) { return p.next.CreatePaymentLink(ctx, input) })
}

func (p *breakerProvider) CreatePreAuthorization(ctx context.Context, input *PreAuthInput) (*PreAuthResult, error) {
	return guarded(p, func() (*PreAuthResult, error) { return p.next.CreatePreAuthorization(ctx, input) })
}

func (p *breakerProvider) CapturePreAuth(ctx context.Context, input *CaptureInput) (*ChargeResult, error) {
	return guarded(p, func() (*ChargeResult, error) { return p.next.CapturePreAuth(ctx, input) })
}

func (p *breakerProvider) GetPaymentStatus(ctx context.Context, ref Reference) (Status, error) {
	return guarded(p, func() (Status, error) { return p.next.GetPaymentStatus(ctx, ref) })
}

func (p *breakerProvider) RefundPayment(ctx context.Context, input *RefundInput) (*RefundResult, error) {
	return guarded(p, func() (*RefundResult, error) { return p.next.RefundPayment(ctx, input) })
}

func (p *breakerProvider) VerifyAndParseWebhook(ctx context.Context, headers http.Header, payload []byte) (*WebhookEvent, error) {
	return p.next.VerifyAndParseWebhook(ctx, headers, payload)
}
