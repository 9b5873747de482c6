package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/vibast-solutions/ms-go-lavago-payments/app/entity"
)

type PaymentEventRepository struct {
	db DBTX
}

func NewPaymentEventRepository(db DBTX) *PaymentEventRepository {
	return &PaymentEventRepository{db: db}
}

func (r *PaymentEventRepository) Create(ctx context.Context, event *entity.PaymentEvent) error {
	query := `
		INSERT INTO payment_events (
			payment_id, event_type, old_status, new_status, amount_cents, provider_event_id, payload_json, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		event.PaymentID,
		event.EventType,
		nullableStatusValue(event.OldStatus),
		string(event.NewStatus),
		event.AmountCents,
		nullableStringValue(event.ProviderEventID),
		nullableStringValue(event.PayloadJSON),
		event.CreatedAt,
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	event.ID = uint64(id)

	return nil
}

// ExistsForProviderEvent reports whether a gateway event id was already applied
// to the payment.
func (r *PaymentEventRepository) ExistsForProviderEvent(ctx context.Context, paymentID uint64, providerEventID string) (bool, error) {
	query := `
		SELECT 1 FROM payment_events
		WHERE payment_id = ? AND provider_event_id = ?
		LIMIT 1
	`

	var one int
	err := r.db.QueryRowContext(ctx, query, paymentID, providerEventID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ListUnpublished returns outbox rows in insertion order.
func (r *PaymentEventRepository) ListUnpublished(ctx context.Context, limit int32) ([]*entity.PaymentEvent, error) {
	query := `
		SELECT id, payment_id, event_type, old_status, new_status, amount_cents,
			provider_event_id, payload_json, published_at, created_at
		FROM payment_events
		WHERE published_at IS NULL
		ORDER BY id ASC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]*entity.PaymentEvent, 0)
	for rows.Next() {
		var (
			event           entity.PaymentEvent
			oldStatus       sql.NullString
			newStatus       string
			providerEventID sql.NullString
			payloadJSON     sql.NullString
			publishedAt     sql.NullTime
		)
		if err := rows.Scan(
			&event.ID,
			&event.PaymentID,
			&event.EventType,
			&oldStatus,
			&newStatus,
			&event.AmountCents,
			&providerEventID,
			&payloadJSON,
			&publishedAt,
			&event.CreatedAt,
		); err != nil {
			return nil, err
		}
		event.OldStatus = statusPtrFromNull(oldStatus)
		event.NewStatus = entity.PaymentStatus(newStatus)
		event.ProviderEventID = stringPtrFromNull(providerEventID)
		event.PayloadJSON = stringPtrFromNull(payloadJSON)
		event.PublishedAt = timePtrFromNull(publishedAt)
		events = append(events, &event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return events, nil
}

func (r *PaymentEventRepository) MarkPublished(ctx context.Context, ids []uint64, publishedAt time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := make([]string, len(ids))
	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, publishedAt)
	for i, id := range ids {
		placeholders[i] = "?"
		args = append(args, id)
	}

	query := `UPDATE payment_events SET published_at = ? WHERE id IN (` + strings.Join(placeholders, ", ") + `)`
	_, err := r.db.ExecContext(ctx, query, args...)
	return err
}
