package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-lavago-payments/app/entity"
	"github.com/vibast-solutions/ms-go-lavago-payments/app/metrics"
	"github.com/vibast-solutions/ms-go-lavago-payments/app/provider"
	"github.com/vibast-solutions/ms-go-lavago-payments/app/repository"
	"go.opentelemetry.io/otel/attribute"
)

const (
	webhookOutcomeProcessed = "processed"
	webhookOutcomeIgnored   = "ignored"
	webhookOutcomeRejected  = "rejected"
	webhookOutcomeFailed    = "failed"
)

type providerWebhookRequest interface {
	GetProvider() string
	GetHeaders() http.Header
	GetPayload() []byte
}

// observation is what the gateway says about a payment, from a webhook or a
// status query. authoritative is set when the status came from a query.
type observation struct {
	reference     provider.Reference
	status        provider.Status
	amountCents   int64
	refundedCents int64
	eventID       string
	authoritative bool
}

// HandleProviderWebhook verifies a gateway notification and drives the payment
// it refers to through the same transitions as the API. Replays and stale
// notifications are no-ops.
func (s *PaymentService) HandleProviderWebhook(ctx context.Context, req providerWebhookRequest) (*entity.Payment, error) {
	ctx, span := s.startSpan(ctx, "payments.webhook")
	defer span.End()

	providerName := strings.ToLower(strings.TrimSpace(req.GetProvider()))
	if providerName != s.provider.Name() {
		metrics.RecordWebhook(providerName, webhookOutcomeRejected)
		return nil, s.spanError(span, fmt.Errorf("%w: %q", ErrProviderUnsupported, providerName))
	}

	payload := req.GetPayload()
	event, err := s.provider.VerifyAndParseWebhook(ctx, req.GetHeaders(), payload)
	if err != nil {
		switch {
		case errors.Is(err, provider.ErrSignatureInvalid):
			s.recordCallback(ctx, nil, req, nil, entity.WebhookStatusRejected, err.Error())
			metrics.RecordWebhook(providerName, webhookOutcomeRejected)
			return nil, s.spanError(span, fmt.Errorf("%w: %v", ErrSignatureInvalid, err))
		case errors.Is(err, provider.ErrRejected):
			s.recordCallback(ctx, nil, req, nil, entity.WebhookStatusRejected, err.Error())
			metrics.RecordWebhook(providerName, webhookOutcomeRejected)
			return nil, s.spanError(span, fmt.Errorf("%w: %v", ErrInvalidRequest, err))
		default:
			metrics.RecordWebhook(providerName, webhookOutcomeFailed)
			return nil, s.spanError(span, providerError(err))
		}
	}

	logger := s.logger.WithFields(logrus.Fields{
		"provider":   providerName,
		"event_id":   event.EventID,
		"event_type": event.EventType,
	})

	if event.Reference.Empty() {
		logger.Info("webhook_without_reference")
		s.recordCallback(ctx, nil, req, event, entity.WebhookStatusIgnored, "no payment reference")
		metrics.RecordWebhook(providerName, webhookOutcomeIgnored)
		return nil, ErrPaymentNotFound
	}

	found, err := s.paymentRepo.FindByProviderReference(ctx, providerName, event.Reference.OrderID, event.Reference.ChargeID, event.Reference.External)
	if err != nil {
		metrics.RecordWebhook(providerName, webhookOutcomeFailed)
		return nil, s.spanError(span, err)
	}
	if found == nil {
		logger.WithFields(logrus.Fields{
			"order_id":  event.Reference.OrderID,
			"charge_id": event.Reference.ChargeID,
		}).Warn("webhook_payment_not_found")
		s.recordCallback(ctx, nil, req, event, entity.WebhookStatusIgnored, "payment not found for reference")
		metrics.RecordWebhook(providerName, webhookOutcomeIgnored)
		return nil, ErrPaymentNotFound
	}
	span.SetAttributes(attribute.Int64("payment.id", int64(found.ID)))

	outcome := webhookOutcomeProcessed
	payment, err := s.withPaymentLock(ctx, found.ID, func(payment *entity.Payment) (*entity.Payment, error) {
		if event.EventID != "" {
			seen, err := s.eventRepo.ExistsForProviderEvent(ctx, payment.ID, event.EventID)
			if err != nil {
				return nil, err
			}
			if seen {
				outcome = webhookOutcomeIgnored
				logger.WithField("payment_id", payment.ID).Info("webhook_duplicate")
				return payment, nil
			}
		}

		updated, changed, err := s.reconcile(ctx, payment, observation{
			reference:     event.Reference,
			status:        event.Status,
			amountCents:   event.AmountCents,
			refundedCents: event.RefundedCents,
			eventID:       event.EventID,
		})
		if err == nil && !changed {
			outcome = webhookOutcomeIgnored
		}
		return updated, err
	})

	paymentID := found.ID
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			outcome = webhookOutcomeRejected
			logger.WithError(err).WithField("payment_id", paymentID).Warn("webhook_transition_rejected")
			s.recordCallback(ctx, &paymentID, req, event, entity.WebhookStatusRejected, err.Error())
		} else {
			outcome = webhookOutcomeFailed
		}
		metrics.RecordWebhook(providerName, outcome)
		return nil, s.spanError(span, err)
	}

	status := entity.WebhookStatusProcessed
	if outcome == webhookOutcomeIgnored {
		status = entity.WebhookStatusIgnored
	}
	s.recordCallback(ctx, &paymentID, req, event, status, "")
	metrics.RecordWebhook(providerName, outcome)

	return payment, nil
}

// reconcile moves payment to the state the gateway reports. A target that is
// one edge away is applied directly; anything else is confirmed with a status
// query first so out-of-order notifications cannot skip states unchecked.
// The caller must hold the payment lock.
func (s *PaymentService) reconcile(ctx context.Context, payment *entity.Payment, obs observation) (*entity.Payment, bool, error) {
	ref := mergeReference(referenceOf(payment), obs.reference)

	if obs.status == provider.StatusUnknown && !obs.authoritative {
		status, err := s.queryStatus(ctx, ref)
		if err != nil {
			return nil, false, err
		}
		obs.status = status
		obs.authoritative = true
	}

	target, known := statusFromProvider(obs.status)
	if known && !obs.authoritative && !behind(payment.Status, target) {
		path, ok := entity.PathTo(payment.Status, target)
		if !ok || len(path) > 1 {
			status, err := s.queryStatus(ctx, ref)
			if err != nil {
				return nil, false, err
			}
			if !refundConsistent(status, obs, payment.AmountCents) {
				obs.refundedCents = 0
			}
			obs.status = status
			obs.authoritative = true
			target, known = statusFromProvider(status)
		}
	}

	var changed bool
	updated, err := s.commitWithRetry(ctx, payment, func(p *entity.Payment, now time.Time) (*repository.TransitionCommit, error) {
		changed = false
		refChanged := applyReference(p, obs.reference)
		if !known || behind(p.Status, target) {
			if !refChanged {
				return nil, nil
			}
			changed = true
			return &repository.TransitionCommit{Payment: p}, nil
		}

		path, ok := entity.PathTo(p.Status, target)
		if !ok {
			return nil, fmt.Errorf("%w: gateway reports %s for a %s payment", ErrInvalidTransition, target, p.Status)
		}
		if target == entity.PaymentStatusConfirmed && obs.refundedCents > p.RefundedCents {
			path = append(path, entity.TransitionRefund)
		}

		facts := transitionFacts{
			capturedCents:   obs.amountCents,
			reason:          "reported by " + s.provider.Name(),
			providerEventID: obs.eventID,
		}

		var (
			events []*entity.PaymentEvent
			refund *entity.Refund
		)
		for _, transition := range path {
			if transition == entity.TransitionRefund {
				facts.refundCents = refundDelta(p, obs.refundedCents)
				if facts.refundCents <= 0 {
					continue
				}
			}
			event, err := s.applyTransition(p, transition, facts, now)
			if err != nil {
				return nil, err
			}
			events = append(events, event)
			if transition == entity.TransitionRefund {
				refund = &entity.Refund{
					AmountCents:    facts.refundCents,
					IdempotencyKey: gatewayRefundKey(obs.eventID, p.RefundedCents),
					CreatedAt:      now,
				}
			}
		}

		if len(events) == 0 && !refChanged {
			return nil, nil
		}
		changed = true
		return &repository.TransitionCommit{Payment: p, Events: events, Refund: refund}, nil
	})
	if err != nil {
		return nil, false, err
	}
	return updated, changed, nil
}

// refundConsistent reports whether a signed cumulative refund still holds once
// the gateway's own status is known. A partial refund leaves a capture
// confirmed, so it survives a confirmed answer.
func refundConsistent(queried provider.Status, obs observation, amountCents int64) bool {
	switch queried {
	case obs.status, provider.StatusRefunded:
		return true
	case provider.StatusConfirmed:
		captured := obs.amountCents
		if captured <= 0 || captured > amountCents {
			captured = amountCents
		}
		return obs.refundedCents < captured
	default:
		return false
	}
}

func (s *PaymentService) queryStatus(ctx context.Context, ref provider.Reference) (provider.Status, error) {
	if ref.OrderID == "" && ref.ChargeID == "" {
		return provider.StatusUnknown, nil
	}
	status, err := s.provider.GetPaymentStatus(ctx, ref)
	if err != nil {
		return provider.StatusUnknown, providerError(err)
	}
	return status, nil
}

func (s *PaymentService) recordCallback(
	ctx context.Context,
	paymentID *uint64,
	req providerWebhookRequest,
	event *provider.WebhookEvent,
	status int32,
	reason string,
) {
	now := s.now()
	callback := &entity.PaymentCallback{
		PaymentID:   paymentID,
		Provider:    strings.ToLower(strings.TrimSpace(req.GetProvider())),
		Signature:   truncate(signatureHeader(req.GetHeaders()), 512),
		PayloadJSON: string(req.GetPayload()),
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if event != nil {
		callback.EventType = event.EventType
		if event.EventID != "" {
			eventID := event.EventID
			callback.ProviderEventID = &eventID
		}
	}
	if reason != "" {
		trimmed := truncate(reason, 1024)
		callback.Error = &trimmed
	}

	if err := s.callbackRepo.Create(ctx, callback); err != nil {
		s.logger.WithError(err).Error("webhook_log_failed")
	}
}

func statusFromProvider(status provider.Status) (entity.PaymentStatus, bool) {
	switch status {
	case provider.StatusAuthorized:
		return entity.PaymentStatusAuthorized, true
	case provider.StatusConfirmed:
		return entity.PaymentStatusConfirmed, true
	case provider.StatusFailed:
		return entity.PaymentStatusFailed, true
	case provider.StatusRefunded:
		return entity.PaymentStatusRefunded, true
	default:
		return "", false
	}
}

// behind reports whether target is a state the payment has already passed.
func behind(current, target entity.PaymentStatus) bool {
	if current == target {
		return false
	}
	_, ok := entity.PathTo(target, current)
	return ok
}

// refundDelta is what still has to be recorded locally to match the gateway's
// cumulative refunded amount. An unreported amount means a full refund.
func refundDelta(payment *entity.Payment, reportedCents int64) int64 {
	if reportedCents <= 0 || reportedCents > payment.CapturedCents {
		return payment.CapturedCents - payment.RefundedCents
	}
	return reportedCents - payment.RefundedCents
}

func gatewayRefundKey(eventID string, refundedCents int64) string {
	if eventID != "" {
		return truncate("gateway:"+eventID, 128)
	}
	return fmt.Sprintf("gateway:reconcile:%d", refundedCents)
}

func mergeReference(known, reported provider.Reference) provider.Reference {
	if known.OrderID == "" {
		known.OrderID = reported.OrderID
	}
	if known.ChargeID == "" {
		known.ChargeID = reported.ChargeID
	}
	if known.External == "" {
		known.External = reported.External
	}
	return known
}

func signatureHeader(headers http.Header) string {
	for _, name := range []string{"Stripe-Signature", "X-Signature", "X-Authenticity-Token"} {
		if value := headers.Get(name); value != "" {
			return value
		}
	}
	return ""
}
