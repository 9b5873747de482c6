package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/vibast-solutions/ms-go-lavago-payments/app/entity"
)

var paymentColumnNames = []string{
	"id", "request_id", "caller_service", "user_id", "resource_type", "resource_id", "description",
	"amount_cents", "currency", "status", "flow", "provider", "external_reference",
	"provider_order_id", "provider_charge_id", "checkout_url", "authorization_expires_at",
	"captured_cents", "refunded_cents", "failure_reason", "status_callback_url", "metadata_json",
	"callback_delivery_status", "callback_delivery_attempts", "callback_delivery_next_at", "callback_delivery_last_error",
	"version", "deleted_at", "created_at", "updated_at",
}

func paymentRow(id uint64, status entity.PaymentStatus, version int64) []driver.Value {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	return []driver.Value{
		id, "req-1", "bookings-service", "user-1", "booking", "bk-1", "Lavagem",
		int64(5000), "BRL", string(status), "preauth", "stripe", "ext-1",
		"pi_1", "ch_1", nil, nil,
		int64(0), int64(0), nil, "", `{"source":"app"}`,
		int32(0), int32(0), nil, nil,
		version, nil, now, now,
	}
}

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func TestPaymentRepositoryCreate(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPaymentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO payments")).
		WillReturnResult(sqlmock.NewResult(42, 1))

	payment := &entity.Payment{
		RequestID:     "req-1",
		CallerService: "bookings-service",
		AmountCents:   5000,
		Currency:      "BRL",
		Status:        entity.PaymentStatusPending,
		Flow:          entity.PaymentFlowPreAuth,
		Provider:      "stripe",
	}
	if err := repo.Create(context.Background(), payment); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if payment.ID != 42 {
		t.Fatalf("expected id 42, got %d", payment.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPaymentRepositoryCreateDuplicate(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPaymentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO payments")).
		WillReturnError(&mysqlDriver.MySQLError{Number: 1062, Message: "Duplicate entry"})

	err := repo.Create(context.Background(), &entity.Payment{})
	if !errors.Is(err, ErrPaymentAlreadyExists) {
		t.Fatalf("expected already exists, got %v", err)
	}
}

func TestPaymentRepositoryUpdateChecksVersion(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPaymentRepository(db)

	payment := &entity.Payment{ID: 7, Status: entity.PaymentStatusConfirmed, Version: 3}

	mock.ExpectExec(regexp.QuoteMeta("UPDATE payments SET")).
		WithArgs(
			"confirmed", nil, nil, nil, nil, int64(0), int64(0), nil, "{}",
			int32(0), int32(0), nil, nil, sqlmock.AnyArg(), uint64(7), int64(3),
		).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := repo.Update(context.Background(), payment); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if payment.Version != 4 {
		t.Fatalf("expected version 4, got %d", payment.Version)
	}

	mock.ExpectExec(regexp.QuoteMeta("UPDATE payments SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	if err := repo.Update(context.Background(), payment); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}
	if payment.Version != 4 {
		t.Fatalf("expected version unchanged after conflict, got %d", payment.Version)
	}
}

func TestPaymentRepositoryUpdateCallbackDeliveryGuardsVersion(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPaymentRepository(db)

	payment := &entity.Payment{ID: 9, Version: 5, CallbackDeliveryStatus: entity.CallbackDeliverySuccess}

	mock.ExpectExec(regexp.QuoteMeta("WHERE id = ? AND version = ? AND deleted_at IS NULL")).
		WithArgs(entity.CallbackDeliverySuccess, int32(0), nil, nil, uint64(9), int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := repo.UpdateCallbackDelivery(context.Background(), payment); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	mock.ExpectExec(regexp.QuoteMeta("UPDATE payments SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	if err := repo.UpdateCallbackDelivery(context.Background(), payment); !errors.Is(err, ErrCallbackSuperseded) {
		t.Fatalf("expected superseded callback, got %v", err)
	}
	if payment.Version != 5 {
		t.Fatalf("callback delivery must not advance the version, got %d", payment.Version)
	}
}

func TestPaymentRepositoryFindByIDNotFound(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPaymentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM payments")).
		WithArgs(uint64(9)).
		WillReturnRows(sqlmock.NewRows(paymentColumnNames))

	payment, err := repo.FindByID(context.Background(), 9)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if payment != nil {
		t.Fatalf("expected nil payment, got %+v", payment)
	}
}

func TestPaymentRepositoryFindByIDScansRow(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPaymentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE id = ? AND deleted_at IS NULL")).
		WithArgs(uint64(1)).
		WillReturnRows(sqlmock.NewRows(paymentColumnNames).AddRow(paymentRow(1, entity.PaymentStatusAuthorized, 2)...))

	payment, err := repo.FindByID(context.Background(), 1)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if payment.Status != entity.PaymentStatusAuthorized || payment.Flow != entity.PaymentFlowPreAuth {
		t.Fatalf("unexpected payment: %+v", payment)
	}
	if payment.ProviderOrderID == nil || *payment.ProviderOrderID != "pi_1" {
		t.Fatalf("unexpected order id: %v", payment.ProviderOrderID)
	}
	if payment.Version != 2 || payment.Metadata["source"] != "app" {
		t.Fatalf("unexpected version/metadata: %d %v", payment.Version, payment.Metadata)
	}
}

func TestPaymentRepositoryFindByProviderReference(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPaymentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("(provider_order_id = ? OR provider_charge_id = ? OR provider_order_id = ? OR external_reference = ?)")).
		WithArgs("stripe", "pi_1", "ch_1", "ch_1", "ext-1").
		WillReturnRows(sqlmock.NewRows(paymentColumnNames).AddRow(paymentRow(3, entity.PaymentStatusConfirmed, 1)...))

	payment, err := repo.FindByProviderReference(context.Background(), "stripe", "pi_1", "ch_1", "ext-1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if payment == nil || payment.ID != 3 {
		t.Fatalf("unexpected payment: %+v", payment)
	}

	payment, err = repo.FindByProviderReference(context.Background(), "stripe", "", "", "")
	if err != nil || payment != nil {
		t.Fatalf("expected no lookup for empty reference, got %+v %v", payment, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPaymentRepositoryListAppliesFilters(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPaymentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE deleted_at IS NULL AND user_id = ? AND status = ? ORDER BY id DESC LIMIT ? OFFSET ?")).
		WithArgs("user-1", "confirmed", int32(50), int32(0)).
		WillReturnRows(sqlmock.NewRows(paymentColumnNames).
			AddRow(paymentRow(2, entity.PaymentStatusConfirmed, 1)...).
			AddRow(paymentRow(1, entity.PaymentStatusConfirmed, 1)...))

	payments, err := repo.List(context.Background(), PaymentFilter{
		UserID: "user-1",
		Status: entity.PaymentStatusConfirmed,
		Limit:  50,
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(payments) != 2 {
		t.Fatalf("expected 2 payments, got %d", len(payments))
	}
}
