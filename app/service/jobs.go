package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-lavago-payments/app/entity"
	"github.com/vibast-solutions/ms-go-lavago-payments/app/mapper"
	"github.com/vibast-solutions/ms-go-lavago-payments/app/metrics"
	"github.com/vibast-solutions/ms-go-lavago-payments/app/provider"
	"github.com/vibast-solutions/ms-go-lavago-payments/app/repository"
	"github.com/vibast-solutions/ms-go-lavago-payments/app/types"
)

// RunReconcileBatch polls the gateway for payments that have been waiting on
// a notification for too long.
func (s *PaymentService) RunReconcileBatch(ctx context.Context) error {
	ctx, span := s.startSpan(ctx, "payments.job.reconcile")
	defer span.End()

	now := s.now()
	before := now.Add(-s.paymentsCfg.ReconcileStaleAfter)
	items, err := s.paymentRepo.ListForReconcile(ctx, before, s.batchSize())
	if err != nil {
		return s.spanError(span, err)
	}

	var firstErr error
	for _, item := range items {
		if item == nil || !item.HasProviderReference() {
			continue
		}

		_, err := s.withPaymentLock(ctx, item.ID, func(payment *entity.Payment) (*entity.Payment, error) {
			if payment.Status != entity.PaymentStatusPending && payment.Status != entity.PaymentStatusAuthorized {
				return payment, nil
			}
			status, err := s.queryStatus(ctx, referenceOf(payment))
			if err != nil {
				return nil, err
			}
			updated, _, err := s.reconcile(ctx, payment, observation{status: status, authoritative: true})
			return updated, err
		})
		if err != nil {
			s.logger.WithError(err).WithField("payment_id", item.ID).Warn("reconcile_failed")
			firstErr = keepFirstErr(firstErr, err)
		}
	}

	return s.spanError(span, firstErr)
}

// RunExpirePendingBatch cancels payments left pending past the timeout. A
// payment the gateway already moved on is reconciled instead.
func (s *PaymentService) RunExpirePendingBatch(ctx context.Context) error {
	ctx, span := s.startSpan(ctx, "payments.job.expire_pending")
	defer span.End()

	now := s.now()
	cutoff := now.Add(-s.paymentsCfg.PendingTimeout)
	items, err := s.paymentRepo.ListExpiredPending(ctx, cutoff, s.batchSize())
	if err != nil {
		return s.spanError(span, err)
	}

	var firstErr error
	for _, item := range items {
		if item == nil {
			continue
		}

		_, err := s.withPaymentLock(ctx, item.ID, func(payment *entity.Payment) (*entity.Payment, error) {
			if payment.Status != entity.PaymentStatusPending {
				return payment, nil
			}

			if payment.HasProviderReference() {
				status, err := s.queryStatus(ctx, referenceOf(payment))
				if err != nil {
					return nil, err
				}
				if status != provider.StatusUnknown && status != provider.StatusPending {
					updated, _, err := s.reconcile(ctx, payment, observation{status: status, authoritative: true})
					return updated, err
				}
			}

			return s.commitWithRetry(ctx, payment, func(p *entity.Payment, now time.Time) (*repository.TransitionCommit, error) {
				if p.Status != entity.PaymentStatusPending {
					return nil, nil
				}
				event, err := s.applyTransition(p, entity.TransitionCancel, transitionFacts{reason: "pending timeout"}, now)
				if err != nil {
					return nil, err
				}
				return &repository.TransitionCommit{Payment: p, Events: []*entity.PaymentEvent{event}}, nil
			})
		})
		if err != nil {
			s.logger.WithError(err).WithField("payment_id", item.ID).Warn("expire_pending_failed")
			firstErr = keepFirstErr(firstErr, err)
		}
	}

	return s.spanError(span, firstErr)
}

func (s *PaymentService) RunDispatchCallbacksBatch(ctx context.Context) error {
	now := s.now()
	items, err := s.paymentRepo.ListDueCallbackDispatch(ctx, now, s.batchSize())
	if err != nil {
		return err
	}

	var firstErr error
	for _, payment := range items {
		if payment == nil {
			continue
		}
		if err := s.dispatchCallback(ctx, payment, now); err != nil {
			firstErr = keepFirstErr(firstErr, err)
		}
	}

	return firstErr
}

// RunPublishEventsBatch relays committed events to the stream. Once an event
// of a payment fails, later events of the same payment wait for the next run
// so consumers see them in order.
func (s *PaymentService) RunPublishEventsBatch(ctx context.Context) error {
	items, err := s.eventRepo.ListUnpublished(ctx, s.batchSize())
	if err != nil {
		return err
	}

	var (
		firstErr  error
		published = make([]uint64, 0, len(items))
		blocked   = map[uint64]bool{}
	)
	for _, event := range items {
		if event == nil || blocked[event.PaymentID] {
			continue
		}
		if err := s.publisher.Publish(ctx, event); err != nil {
			metrics.RecordEventPublished("failed")
			blocked[event.PaymentID] = true
			s.logger.WithError(err).WithFields(logrus.Fields{
				"event_id":   event.ID,
				"payment_id": event.PaymentID,
			}).Warn("event_publish_failed")
			firstErr = keepFirstErr(firstErr, err)
			continue
		}
		metrics.RecordEventPublished("ok")
		published = append(published, event.ID)
	}

	if len(published) > 0 {
		if err := s.eventRepo.MarkPublished(ctx, published, s.now()); err != nil {
			return err
		}
	}

	return firstErr
}

func (s *PaymentService) dispatchCallback(ctx context.Context, payment *entity.Payment, now time.Time) error {
	if strings.TrimSpace(payment.StatusCallbackURL) == "" {
		errMsg := "status_callback_url is empty"
		payment.CallbackDeliveryStatus = entity.CallbackDeliveryFailed
		payment.CallbackDeliveryNextAt = nil
		payment.CallbackDeliveryLastErr = &errMsg
		payment.UpdatedAt = now
		_, err := s.saveDelivery(ctx, payment)
		return err
	}

	payload := &types.PaymentEnvelopeResponse{Payment: mapper.PaymentToResponse(payment)}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, payment.StatusCallbackURL, bytes.NewReader(body))
	if err != nil {
		return s.recordDispatchFailure(ctx, payment, now, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", payment.RequestID)
	if s.appAPIKey != "" {
		req.Header.Set("X-API-Key", s.appAPIKey)
	}

	resp, err := s.callbackHTTP.Do(req)
	if err != nil {
		return s.recordDispatchFailure(ctx, payment, now, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return s.recordDispatchFailure(ctx, payment, now, fmt.Errorf("callback endpoint returned status=%d", resp.StatusCode))
	}

	payment.CallbackDeliveryStatus = entity.CallbackDeliverySuccess
	payment.CallbackDeliveryNextAt = nil
	payment.CallbackDeliveryLastErr = nil
	payment.UpdatedAt = now

	saved, err := s.saveDelivery(ctx, payment)
	if err != nil || !saved {
		return err
	}

	s.recordDeliveryEvent(ctx, payment, entity.EventCallbackDispatched, now)
	return nil
}

func (s *PaymentService) recordDispatchFailure(ctx context.Context, payment *entity.Payment, now time.Time, dispatchErr error) error {
	payment.CallbackDeliveryAttempts++
	trimmed := truncate(dispatchErr.Error(), 1024)
	payment.CallbackDeliveryLastErr = &trimmed

	maxAttempts := s.paymentsCfg.CallbackMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	if payment.CallbackDeliveryAttempts >= maxAttempts {
		payment.CallbackDeliveryStatus = entity.CallbackDeliveryFailed
		payment.CallbackDeliveryNextAt = nil
	} else {
		retryInterval := s.paymentsCfg.CallbackRetryInterval
		if retryInterval <= 0 {
			retryInterval = 5 * time.Minute
		}
		next := now.Add(retryInterval)
		payment.CallbackDeliveryStatus = entity.CallbackDeliveryPending
		payment.CallbackDeliveryNextAt = &next
	}
	payment.UpdatedAt = now

	saved, err := s.saveDelivery(ctx, payment)
	if err != nil {
		return err
	}
	if saved {
		s.recordDeliveryEvent(ctx, payment, entity.EventCallbackFailed, now)
	}
	return dispatchErr
}

// saveDelivery returns false when a transition committed while the callback
// was in flight. That transition already queued a fresh callback.
func (s *PaymentService) saveDelivery(ctx context.Context, payment *entity.Payment) (bool, error) {
	err := s.paymentRepo.UpdateCallbackDelivery(ctx, payment)
	if errors.Is(err, repository.ErrCallbackSuperseded) {
		s.logger.WithFields(logrus.Fields{
			"payment_id": payment.ID,
			"version":    payment.Version,
		}).Info("callback_superseded")
		return false, nil
	}
	return err == nil, err
}

func (s *PaymentService) recordDeliveryEvent(ctx context.Context, payment *entity.Payment, eventType string, now time.Time) {
	err := s.eventRepo.Create(ctx, &entity.PaymentEvent{
		PaymentID: payment.ID,
		EventType: eventType,
		NewStatus: payment.Status,
		CreatedAt: now,
	})
	if err != nil {
		s.logger.WithError(err).WithField("payment_id", payment.ID).Warn("payment_event_write_failed")
	}
}

func keepFirstErr(current error, candidate error) error {
	if current != nil {
		return current
	}
	return candidate
}
