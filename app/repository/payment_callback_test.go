package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/vibast-solutions/ms-go-lavago-payments/app/entity"
)

func TestPaymentCallbackRepositoryCreateDefaultsEventType(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPaymentCallbackRepository(db)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO payment_callbacks")).
		WithArgs(nil, "stripe", nil, "unknown", "t=1,v1=bad", `{"id":"evt"}`, entity.WebhookStatusRejected, "signature mismatch", now, now).
		WillReturnResult(sqlmock.NewResult(9, 1))

	reason := "signature mismatch"
	entry := &entity.PaymentCallback{
		Provider:    "stripe",
		Signature:   "t=1,v1=bad",
		PayloadJSON: `{"id":"evt"}`,
		Status:      entity.WebhookStatusRejected,
		Error:       &reason,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := repo.Create(context.Background(), entry); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if entry.ID != 9 || entry.EventType != "unknown" {
		t.Fatalf("unexpected entry after insert: %+v", entry)
	}
}

func TestPaymentCallbackRepositoryCreateWrapsError(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPaymentCallbackRepository(db)
	now := time.Now()
	paymentID := uint64(4)
	eventID := "evt_4"
	dbErr := errors.New("connection reset")

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO payment_callbacks")).
		WithArgs(paymentID, "pagbank", eventID, "CHARGE.PAID", "", "{}", entity.WebhookStatusProcessed, nil, now, now).
		WillReturnError(dbErr)

	err := repo.Create(context.Background(), &entity.PaymentCallback{
		PaymentID:       &paymentID,
		Provider:        "pagbank",
		ProviderEventID: &eventID,
		EventType:       "CHARGE.PAID",
		PayloadJSON:     "{}",
		Status:          entity.WebhookStatusProcessed,
		CreatedAt:       now,
		UpdatedAt:       now,
	})
	if !errors.Is(err, dbErr) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}
