package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/vibast-solutions/ms-go-lavago-payments/app/entity"
)

var ErrOperationAlreadyApplied = errors.New("operation already applied")

type PaymentOperationRepository struct {
	db DBTX
}

func NewPaymentOperationRepository(db DBTX) *PaymentOperationRepository {
	return &PaymentOperationRepository{db: db}
}

func (r *PaymentOperationRepository) Create(ctx context.Context, operation *entity.PaymentOperation) error {
	query := `
		INSERT INTO payment_operations (
			payment_id, operation, idempotency_key, amount_cents, result_status, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		operation.PaymentID,
		string(operation.Operation),
		operation.IdempotencyKey,
		operation.AmountCents,
		string(operation.ResultStatus),
		operation.CreatedAt,
	)
	if err != nil {
		if isDuplicateEntryError(err) {
			return ErrOperationAlreadyApplied
		}
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	operation.ID = uint64(id)

	return nil
}

func (r *PaymentOperationRepository) FindByKey(ctx context.Context, paymentID uint64, operation entity.Operation, key string) (*entity.PaymentOperation, error) {
	query := `
		SELECT id, payment_id, operation, idempotency_key, amount_cents, result_status, created_at
		FROM payment_operations
		WHERE payment_id = ? AND operation = ? AND idempotency_key = ?
		LIMIT 1
	`

	var (
		item         entity.PaymentOperation
		op           string
		resultStatus string
	)
	err := r.db.QueryRowContext(ctx, query, paymentID, string(operation), key).Scan(
		&item.ID,
		&item.PaymentID,
		&op,
		&item.IdempotencyKey,
		&item.AmountCents,
		&resultStatus,
		&item.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	item.Operation = entity.Operation(op)
	item.ResultStatus = entity.PaymentStatus(resultStatus)

	return &item, nil
}
