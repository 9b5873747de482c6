package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-lavago-payments/app/entity"
	"github.com/vibast-solutions/ms-go-lavago-payments/app/lock"
	"github.com/vibast-solutions/ms-go-lavago-payments/app/metrics"
	"github.com/vibast-solutions/ms-go-lavago-payments/app/provider"
	"github.com/vibast-solutions/ms-go-lavago-payments/app/repository"
	"go.opentelemetry.io/otel/attribute"
)

const maxCommitAttempts = 3

type authorizeRequest interface {
	GetId() uint64
	GetIdempotencyKey() string
	GetPaymentToken() string
	GetPaymentMethodId() string
	GetPayerEmail() string
	GetInstallments() int32
}

type confirmRequest interface {
	GetId() uint64
	GetIdempotencyKey() string
	GetAmountCents() int64
}

type failRequest interface {
	GetId() uint64
	GetIdempotencyKey() string
	GetReason() string
}

type refundRequest interface {
	GetId() uint64
	GetIdempotencyKey() string
	GetAmountCents() int64
	GetReason() string
}

type cancelRequest interface {
	GetId() uint64
	GetIdempotencyKey() string
	GetReason() string
}

// transitionFacts carries what a transition needs beyond the edge itself.
type transitionFacts struct {
	capturedCents   int64
	refundCents     int64
	reason          string
	providerEventID string
}

// buildFunc mutates a fresh copy of the payment and returns what to persist,
// or nil when the payment already reflects the requested outcome.
type buildFunc func(payment *entity.Payment, now time.Time) (*repository.TransitionCommit, error)

func (s *PaymentService) Authorize(ctx context.Context, req authorizeRequest) (*entity.Payment, error) {
	ctx, span := s.startSpan(ctx, "payments.authorize")
	defer span.End()
	span.SetAttributes(attribute.Int64("payment.id", int64(req.GetId())))

	key, err := requireKey(req.GetIdempotencyKey())
	if err != nil {
		return nil, s.spanError(span, err)
	}

	payment, err := s.withPaymentLock(ctx, req.GetId(), func(payment *entity.Payment) (*entity.Payment, error) {
		if replayed, err := s.replayed(ctx, payment, entity.OperationAuthorize, key, 0); err != nil || replayed {
			return payment, err
		}
		if payment.Flow != entity.PaymentFlowPreAuth {
			return nil, fmt.Errorf("%w: only pre-authorization payments can be authorized", ErrInvalidRequest)
		}

		switch payment.Status {
		case entity.PaymentStatusAuthorized, entity.PaymentStatusConfirmed, entity.PaymentStatusRefunded:
			return payment, nil
		case entity.PaymentStatusPending:
		default:
			return nil, s.rejectTransition(entity.OperationAuthorize, payment.Status)
		}

		result, err := s.provider.CreatePreAuthorization(ctx, &provider.PreAuthInput{
			ExternalReference: payment.ExternalReference,
			IdempotencyKey:    providerIdempotencyKey(payment, entity.OperationAuthorize, key),
			AmountCents:       payment.AmountCents,
			Currency:          payment.Currency,
			Description:       payment.Description,
			PaymentToken:      strings.TrimSpace(req.GetPaymentToken()),
			PaymentMethodID:   strings.TrimSpace(req.GetPaymentMethodId()),
			PayerEmail:        strings.TrimSpace(req.GetPayerEmail()),
			Installments:      req.GetInstallments(),
			Metadata:          payment.Metadata,
		})
		if err != nil {
			if errors.Is(err, provider.ErrRejected) {
				return s.failAfterRejection(ctx, payment, entity.OperationAuthorize, key, 0, err.Error())
			}
			return nil, providerError(err)
		}

		if result.Status == provider.StatusFailed {
			reason := result.FailureReason
			if reason == "" {
				reason = "pre-authorization declined"
			}
			return s.failAfterRejection(ctx, payment, entity.OperationAuthorize, key, 0, reason)
		}

		return s.commitWithRetry(ctx, payment, func(p *entity.Payment, now time.Time) (*repository.TransitionCommit, error) {
			if p.Status != entity.PaymentStatusPending {
				return nil, nil
			}
			applyReference(p, result.Reference)
			if result.ExpiresAt != nil {
				expiresAt := result.ExpiresAt.UTC()
				p.AuthorizationExpiresAt = &expiresAt
			}

			var path []entity.Transition
			switch result.Status {
			case provider.StatusAuthorized:
				path = []entity.Transition{entity.TransitionAuthorize}
			case provider.StatusConfirmed:
				path = []entity.Transition{entity.TransitionAuthorize, entity.TransitionCapture}
			}

			events, err := s.applyPath(p, path, transitionFacts{capturedCents: p.AmountCents}, now)
			if err != nil {
				return nil, err
			}
			return &repository.TransitionCommit{
				Payment:   p,
				Events:    events,
				Operation: newOperation(entity.OperationAuthorize, key, 0, p.Status, now),
			}, nil
		})
	})
	return payment, s.spanError(span, err)
}

func (s *PaymentService) Confirm(ctx context.Context, req confirmRequest) (*entity.Payment, error) {
	ctx, span := s.startSpan(ctx, "payments.confirm")
	defer span.End()
	span.SetAttributes(attribute.Int64("payment.id", int64(req.GetId())))

	key, err := requireKey(req.GetIdempotencyKey())
	if err != nil {
		return nil, s.spanError(span, err)
	}
	amount := req.GetAmountCents()
	if amount < 0 {
		return nil, s.spanError(span, fmt.Errorf("%w: amount_cents must be >= 0", ErrInvalidRequest))
	}

	payment, err := s.withPaymentLock(ctx, req.GetId(), func(payment *entity.Payment) (*entity.Payment, error) {
		if replayed, err := s.replayed(ctx, payment, entity.OperationConfirm, key, amount); err != nil || replayed {
			return payment, err
		}

		switch payment.Status {
		case entity.PaymentStatusConfirmed, entity.PaymentStatusRefunded:
			return payment, nil
		case entity.PaymentStatusAuthorized:
		default:
			return nil, s.rejectTransition(entity.OperationConfirm, payment.Status)
		}
		if amount > payment.AmountCents {
			return nil, fmt.Errorf("%w: capture amount exceeds authorized amount", ErrInvalidRequest)
		}
		if payment.AuthorizationExpired(s.now()) {
			metrics.RecordRejectedTransition(string(entity.OperationConfirm))
			return nil, fmt.Errorf("%w: authorization expired at %s", ErrInvalidTransition, payment.AuthorizationExpiresAt.Format(time.RFC3339))
		}

		input := &provider.CaptureInput{
			Reference:      referenceOf(payment),
			IdempotencyKey: providerIdempotencyKey(payment, entity.OperationConfirm, key),
		}
		if amount > 0 {
			input.AmountCents = &amount
		}
		charge, err := s.provider.CapturePreAuth(ctx, input)
		if err != nil {
			if errors.Is(err, provider.ErrRejected) {
				return s.failAfterRejection(ctx, payment, entity.OperationConfirm, key, amount, err.Error())
			}
			return nil, providerError(err)
		}
		if charge.Status == provider.StatusFailed {
			return s.failAfterRejection(ctx, payment, entity.OperationConfirm, key, amount, "capture declined")
		}

		captured := charge.AmountCents
		if captured <= 0 {
			captured = amount
		}
		if captured <= 0 {
			captured = payment.AmountCents
		}

		return s.commitWithRetry(ctx, payment, func(p *entity.Payment, now time.Time) (*repository.TransitionCommit, error) {
			if p.Status != entity.PaymentStatusAuthorized {
				return nil, nil
			}
			applyReference(p, provider.Reference{ChargeID: charge.ChargeID})
			event, err := s.applyTransition(p, entity.TransitionCapture, transitionFacts{capturedCents: captured}, now)
			if err != nil {
				return nil, err
			}
			return &repository.TransitionCommit{
				Payment:   p,
				Events:    []*entity.PaymentEvent{event},
				Operation: newOperation(entity.OperationConfirm, key, amount, p.Status, now),
			}, nil
		})
	})
	return payment, s.spanError(span, err)
}

// Fail marks a payment failed without contacting the gateway.
func (s *PaymentService) Fail(ctx context.Context, req failRequest) (*entity.Payment, error) {
	ctx, span := s.startSpan(ctx, "payments.fail")
	defer span.End()

	reason := strings.TrimSpace(req.GetReason())
	if reason == "" {
		reason = "failed by caller"
	}
	payment, err := s.localTransition(ctx, req.GetId(), req.GetIdempotencyKey(), entity.OperationFail, entity.TransitionFail, reason)
	return payment, s.spanError(span, err)
}

// Cancel abandons a payment that has not been captured. Authorization holds
// are left to expire on the gateway side.
func (s *PaymentService) Cancel(ctx context.Context, req cancelRequest) (*entity.Payment, error) {
	ctx, span := s.startSpan(ctx, "payments.cancel")
	defer span.End()

	reason := strings.TrimSpace(req.GetReason())
	if reason == "" {
		reason = "cancelled by caller"
	}
	payment, err := s.localTransition(ctx, req.GetId(), req.GetIdempotencyKey(), entity.OperationCancel, entity.TransitionCancel, reason)
	return payment, s.spanError(span, err)
}

func (s *PaymentService) localTransition(
	ctx context.Context,
	id uint64,
	rawKey string,
	operation entity.Operation,
	transition entity.Transition,
	reason string,
) (*entity.Payment, error) {
	key, err := requireKey(rawKey)
	if err != nil {
		return nil, err
	}

	return s.withPaymentLock(ctx, id, func(payment *entity.Payment) (*entity.Payment, error) {
		if replayed, err := s.replayed(ctx, payment, operation, key, 0); err != nil || replayed {
			return payment, err
		}
		if !entity.CanApply(payment.Status, transition) {
			return nil, s.rejectTransition(operation, payment.Status)
		}

		return s.commitWithRetry(ctx, payment, func(p *entity.Payment, now time.Time) (*repository.TransitionCommit, error) {
			event, err := s.applyTransition(p, transition, transitionFacts{reason: reason}, now)
			if err != nil {
				return nil, err
			}
			return &repository.TransitionCommit{
				Payment:   p,
				Events:    []*entity.PaymentEvent{event},
				Operation: newOperation(operation, key, 0, p.Status, now),
			}, nil
		})
	})
}

// Refund returns money on a confirmed payment. A zero amount refunds whatever
// is left; partial refunds keep the payment confirmed.
func (s *PaymentService) Refund(ctx context.Context, req refundRequest) (*entity.Payment, error) {
	ctx, span := s.startSpan(ctx, "payments.refund")
	defer span.End()
	span.SetAttributes(attribute.Int64("payment.id", int64(req.GetId())))

	key, err := requireKey(req.GetIdempotencyKey())
	if err != nil {
		return nil, s.spanError(span, err)
	}
	requested := req.GetAmountCents()
	if requested < 0 {
		return nil, s.spanError(span, fmt.Errorf("%w: amount_cents must be > 0", ErrInvalidRequest))
	}
	reason := strings.TrimSpace(req.GetReason())

	payment, err := s.withPaymentLock(ctx, req.GetId(), func(payment *entity.Payment) (*entity.Payment, error) {
		if replayed, err := s.replayed(ctx, payment, entity.OperationRefund, key, requested); err != nil || replayed {
			return payment, err
		}
		if payment.Status != entity.PaymentStatusConfirmed {
			return nil, s.rejectTransition(entity.OperationRefund, payment.Status)
		}

		amount := requested
		if amount == 0 {
			amount = payment.RefundableCents()
		}
		if amount <= 0 || amount > payment.RefundableCents() {
			metrics.RecordRejectedTransition(string(entity.OperationRefund))
			return nil, fmt.Errorf("%w: refund of %d exceeds refundable %d", ErrInvalidTransition, amount, payment.RefundableCents())
		}

		result, err := s.provider.RefundPayment(ctx, &provider.RefundInput{
			Reference:      referenceOf(payment),
			AmountCents:    &amount,
			IdempotencyKey: providerIdempotencyKey(payment, entity.OperationRefund, key),
			Reason:         reason,
		})
		if err != nil {
			return nil, providerError(err)
		}
		if result.Status == provider.StatusFailed {
			return nil, fmt.Errorf("%w: refund declined", ErrProviderRejected)
		}

		return s.commitWithRetry(ctx, payment, func(p *entity.Payment, now time.Time) (*repository.TransitionCommit, error) {
			event, err := s.applyTransition(p, entity.TransitionRefund, transitionFacts{refundCents: amount, reason: reason}, now)
			if err != nil {
				return nil, err
			}

			refund := &entity.Refund{
				AmountCents:    amount,
				IdempotencyKey: key,
				CreatedAt:      now,
			}
			if result.RefundID != "" {
				refundID := result.RefundID
				refund.ProviderRefundID = &refundID
			}
			if reason != "" {
				refund.Reason = &reason
			}

			return &repository.TransitionCommit{
				Payment:   p,
				Events:    []*entity.PaymentEvent{event},
				Operation: newOperation(entity.OperationRefund, key, requested, p.Status, now),
				Refund:    refund,
			}, nil
		})
	})
	return payment, s.spanError(span, err)
}

// failAfterRejection records a gateway refusal as a failed payment and then
// surfaces the refusal to the caller.
func (s *PaymentService) failAfterRejection(
	ctx context.Context,
	payment *entity.Payment,
	operation entity.Operation,
	key string,
	amountCents int64,
	reason string,
) (*entity.Payment, error) {
	reason = truncate(reason, 1024)
	updated, err := s.commitWithRetry(ctx, payment, func(p *entity.Payment, now time.Time) (*repository.TransitionCommit, error) {
		if !entity.CanApply(p.Status, entity.TransitionFail) {
			return nil, nil
		}
		event, err := s.applyTransition(p, entity.TransitionFail, transitionFacts{reason: reason}, now)
		if err != nil {
			return nil, err
		}
		return &repository.TransitionCommit{
			Payment:   p,
			Events:    []*entity.PaymentEvent{event},
			Operation: newOperation(operation, key, amountCents, p.Status, now),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return updated, fmt.Errorf("%w: %s", ErrProviderRejected, reason)
}

// withPaymentLock loads the payment under its lock and runs fn. A lock that
// cannot be acquired in time means another transition is in flight.
func (s *PaymentService) withPaymentLock(
	ctx context.Context,
	id uint64,
	fn func(payment *entity.Payment) (*entity.Payment, error),
) (*entity.Payment, error) {
	if id == 0 {
		return nil, fmt.Errorf("%w: id is required", ErrInvalidRequest)
	}

	release, err := s.locker.Lock(ctx, lock.PaymentKey(id))
	if err != nil {
		if errors.Is(err, lock.ErrLockTimeout) {
			return nil, fmt.Errorf("%w: payment is busy", ErrInvalidTransition)
		}
		return nil, err
	}
	defer release()

	payment, err := s.paymentRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, ErrPaymentNotFound
	}

	return fn(payment)
}

// commitWithRetry applies build to a copy of payment and commits it. When the
// row moved underneath us the payment is re-read and build runs again against
// the fresh state, which re-validates the transition.
func (s *PaymentService) commitWithRetry(ctx context.Context, payment *entity.Payment, build buildFunc) (*entity.Payment, error) {
	current := payment
	for attempt := 0; attempt < maxCommitAttempts; attempt++ {
		working := current.Clone()
		now := s.now()
		commit, err := build(working, now)
		if err != nil {
			return nil, err
		}
		if commit == nil {
			return current, nil
		}
		working.UpdatedAt = now

		err = s.store.CommitTransition(ctx, commit)
		if err == nil {
			for _, event := range commit.Events {
				s.logger.WithFields(logrus.Fields{
					"payment_id": working.ID,
					"event_type": event.EventType,
					"new_status": event.NewStatus,
				}).Info("payment_transition")
			}
			return working, nil
		}

		switch {
		case errors.Is(err, repository.ErrOperationAlreadyApplied):
			return s.GetPayment(ctx, payment.ID)
		case errors.Is(err, repository.ErrVersionConflict):
			s.logger.WithField("payment_id", payment.ID).Warn("payment_version_conflict")
			reloaded, findErr := s.GetPayment(ctx, payment.ID)
			if findErr != nil {
				return nil, findErr
			}
			current = reloaded
		case errors.Is(err, repository.ErrPaymentNotFound):
			return nil, ErrPaymentNotFound
		default:
			return nil, err
		}
	}

	return nil, fmt.Errorf("%w: payment changed concurrently", ErrInvalidTransition)
}

// applyTransition is the single place payment state moves. API calls,
// webhooks and jobs all go through it.
func (s *PaymentService) applyTransition(
	payment *entity.Payment,
	transition entity.Transition,
	facts transitionFacts,
	now time.Time,
) (*entity.PaymentEvent, error) {
	from := payment.Status
	to, ok := entity.Next(from, transition)
	if !ok {
		metrics.RecordRejectedTransition(string(transition))
		return nil, fmt.Errorf("%w: cannot %s a %s payment", ErrInvalidTransition, transition, from)
	}

	event := &entity.PaymentEvent{
		OldStatus: &from,
		CreatedAt: now,
	}
	if facts.providerEventID != "" {
		eventID := facts.providerEventID
		event.ProviderEventID = &eventID
	}

	switch transition {
	case entity.TransitionAuthorize:
		event.EventType = entity.EventPaymentAuthorized
		event.AmountCents = payment.AmountCents
	case entity.TransitionCapture:
		captured := facts.capturedCents
		if captured <= 0 || captured > payment.AmountCents {
			captured = payment.AmountCents
		}
		payment.CapturedCents = captured
		event.EventType = entity.EventPaymentConfirmed
		event.AmountCents = captured
	case entity.TransitionRefund:
		remaining := payment.CapturedCents - payment.RefundedCents
		if facts.refundCents <= 0 || facts.refundCents > remaining {
			metrics.RecordRejectedTransition(string(transition))
			return nil, fmt.Errorf("%w: refund of %d exceeds refundable %d", ErrInvalidTransition, facts.refundCents, remaining)
		}
		payment.RefundedCents += facts.refundCents
		if payment.RefundedCents < payment.CapturedCents {
			to = entity.PaymentStatusConfirmed
		}
		event.EventType = entity.EventPaymentRefunded
		event.AmountCents = facts.refundCents
	case entity.TransitionFail:
		event.EventType = entity.EventPaymentFailed
	case entity.TransitionCancel:
		event.EventType = entity.EventPaymentCancelled
	}

	if facts.reason != "" && (transition == entity.TransitionFail || transition == entity.TransitionCancel) {
		reason := truncate(facts.reason, 1024)
		payment.FailureReason = &reason
	}

	payment.Status = to
	event.NewStatus = to
	if to.Settled() {
		s.markForCallbackDelivery(payment, now)
	}

	metrics.RecordTransition(string(transition), string(from), string(to))
	return event, nil
}

func (s *PaymentService) applyPath(
	payment *entity.Payment,
	path []entity.Transition,
	facts transitionFacts,
	now time.Time,
) ([]*entity.PaymentEvent, error) {
	events := make([]*entity.PaymentEvent, 0, len(path))
	for _, transition := range path {
		event, err := s.applyTransition(payment, transition, facts, now)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}

// replayed reports whether key was already applied to this payment. The same
// key with different parameters is a caller bug.
func (s *PaymentService) replayed(
	ctx context.Context,
	payment *entity.Payment,
	operation entity.Operation,
	key string,
	amountCents int64,
) (bool, error) {
	if key == "" {
		return false, nil
	}
	existing, err := s.operationRepo.FindByKey(ctx, payment.ID, operation, key)
	if err != nil {
		return false, err
	}
	if existing == nil {
		return false, nil
	}
	if !existing.SameRequest(amountCents) {
		return false, fmt.Errorf("%w: key %q", ErrIdempotencyConflict, key)
	}
	return true, nil
}

func (s *PaymentService) rejectTransition(operation entity.Operation, status entity.PaymentStatus) error {
	metrics.RecordRejectedTransition(string(operation))
	return fmt.Errorf("%w: cannot %s a %s payment", ErrInvalidTransition, operation, status)
}

func requireKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("%w: idempotency key is required", ErrInvalidRequest)
	}
	return truncate(key, 128), nil
}

func newOperation(operation entity.Operation, key string, amountCents int64, result entity.PaymentStatus, now time.Time) *entity.PaymentOperation {
	if key == "" {
		return nil
	}
	return &entity.PaymentOperation{
		Operation:      operation,
		IdempotencyKey: key,
		AmountCents:    amountCents,
		ResultStatus:   result,
		CreatedAt:      now,
	}
}

// providerIdempotencyKey scopes a client key to one payment and operation so
// the gateway deduplicates retries of the same call only.
func providerIdempotencyKey(payment *entity.Payment, operation entity.Operation, key string) string {
	return truncate(fmt.Sprintf("%s:%s:%s", payment.ExternalReference, operation, key), 255)
}
