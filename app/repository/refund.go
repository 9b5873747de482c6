package repository

import (
	"context"
	"database/sql"

	"github.com/vibast-solutions/ms-go-lavago-payments/app/entity"
)

type RefundRepository struct {
	db DBTX
}

func NewRefundRepository(db DBTX) *RefundRepository {
	return &RefundRepository{db: db}
}

func (r *RefundRepository) Create(ctx context.Context, refund *entity.Refund) error {
	query := `
		INSERT INTO payment_refunds (
			payment_id, amount_cents, provider_refund_id, idempotency_key, reason, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		refund.PaymentID,
		refund.AmountCents,
		nullableStringValue(refund.ProviderRefundID),
		refund.IdempotencyKey,
		nullableStringValue(refund.Reason),
		refund.CreatedAt,
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	refund.ID = uint64(id)

	return nil
}

func (r *RefundRepository) ListByPayment(ctx context.Context, paymentID uint64) ([]*entity.Refund, error) {
	query := `
		SELECT id, payment_id, amount_cents, provider_refund_id, idempotency_key, reason, created_at
		FROM payment_refunds
		WHERE payment_id = ?
		ORDER BY id ASC
	`

	rows, err := r.db.QueryContext(ctx, query, paymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	refunds := make([]*entity.Refund, 0)
	for rows.Next() {
		var (
			refund           entity.Refund
			providerRefundID sql.NullString
			reason           sql.NullString
		)
		if err := rows.Scan(
			&refund.ID,
			&refund.PaymentID,
			&refund.AmountCents,
			&providerRefundID,
			&refund.IdempotencyKey,
			&reason,
			&refund.CreatedAt,
		); err != nil {
			return nil, err
		}
		refund.ProviderRefundID = stringPtrFromNull(providerRefundID)
		refund.Reason = stringPtrFromNull(reason)
		refunds = append(refunds, &refund)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return refunds, nil
}
