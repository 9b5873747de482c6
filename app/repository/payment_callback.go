package repository

import (
	"context"
	"fmt"

	"github.com/vibast-solutions/ms-go-lavago-payments/app/entity"
)

const unknownWebhookEventType = "unknown"

// PaymentCallbackRepository appends to the inbound webhook log. Rows are never
// updated once written.
type PaymentCallbackRepository struct {
	db DBTX
}

func NewPaymentCallbackRepository(db DBTX) *PaymentCallbackRepository {
	return &PaymentCallbackRepository{db: db}
}

func (r *PaymentCallbackRepository) Create(ctx context.Context, entry *entity.PaymentCallback) error {
	eventType := entry.EventType
	if eventType == "" {
		eventType = unknownWebhookEventType
	}

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO payment_callbacks (
			payment_id, provider, provider_event_id, event_type, signature,
			payload_json, status, error, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nullableUint64Value(entry.PaymentID),
		entry.Provider,
		nullableStringValue(entry.ProviderEventID),
		eventType,
		entry.Signature,
		entry.PayloadJSON,
		entry.Status,
		nullableStringValue(entry.Error),
		entry.CreatedAt,
		entry.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert webhook log: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	entry.ID = uint64(id)
	entry.EventType = eventType
	return nil
}
