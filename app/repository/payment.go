package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/vibast-solutions/ms-go-lavago-payments/app/entity"
)

var (
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrPaymentAlreadyExists = errors.New("payment already exists")
	ErrVersionConflict      = errors.New("payment was modified concurrently")

	ErrCallbackSuperseded = errors.New("payment changed after the status callback was built")
)

const paymentColumns = `
	id, request_id, caller_service, user_id, resource_type, resource_id, description,
	amount_cents, currency, status, flow, provider, external_reference,
	provider_order_id, provider_charge_id, checkout_url, authorization_expires_at,
	captured_cents, refunded_cents, failure_reason, status_callback_url, metadata_json,
	callback_delivery_status, callback_delivery_attempts, callback_delivery_next_at, callback_delivery_last_error,
	version, deleted_at, created_at, updated_at`

type PaymentFilter struct {
	CallerService string
	UserID        string
	ResourceType  string
	ResourceID    string
	Status        entity.PaymentStatus
	Provider      string
	Limit         int32
	Offset        int32
}

type PaymentRepository struct {
	db DBTX
}

func NewPaymentRepository(db DBTX) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Create(ctx context.Context, payment *entity.Payment) error {
	metadataJSON, err := serializeMetadata(payment.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO payments (
			request_id, caller_service, user_id, resource_type, resource_id, description,
			amount_cents, currency, status, flow, provider, external_reference,
			provider_order_id, provider_charge_id, checkout_url, authorization_expires_at,
			captured_cents, refunded_cents, failure_reason, status_callback_url, metadata_json,
			callback_delivery_status, callback_delivery_attempts, callback_delivery_next_at, callback_delivery_last_error,
			version, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		payment.RequestID,
		payment.CallerService,
		payment.UserID,
		payment.ResourceType,
		payment.ResourceID,
		payment.Description,
		payment.AmountCents,
		payment.Currency,
		string(payment.Status),
		string(payment.Flow),
		payment.Provider,
		payment.ExternalReference,
		nullableStringValue(payment.ProviderOrderID),
		nullableStringValue(payment.ProviderChargeID),
		nullableStringValue(payment.CheckoutURL),
		nullableTimeValue(payment.AuthorizationExpiresAt),
		payment.CapturedCents,
		payment.RefundedCents,
		nullableStringValue(payment.FailureReason),
		payment.StatusCallbackURL,
		metadataJSON,
		payment.CallbackDeliveryStatus,
		payment.CallbackDeliveryAttempts,
		nullableTimeValue(payment.CallbackDeliveryNextAt),
		nullableStringValue(payment.CallbackDeliveryLastErr),
		payment.Version,
		payment.CreatedAt,
		payment.UpdatedAt,
	)
	if err != nil {
		if isDuplicateEntryError(err) {
			return ErrPaymentAlreadyExists
		}
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	payment.ID = uint64(id)
	return nil
}

func (r *PaymentRepository) Update(ctx context.Context, payment *entity.Payment) error {
	metadataJSON, err := serializeMetadata(payment.Metadata)
	if err != nil {
		return err
	}

	query := `
		UPDATE payments SET
			status = ?,
			provider_order_id = ?,
			provider_charge_id = ?,
			checkout_url = ?,
			authorization_expires_at = ?,
			captured_cents = ?,
			refunded_cents = ?,
			failure_reason = ?,
			metadata_json = ?,
			callback_delivery_status = ?,
			callback_delivery_attempts = ?,
			callback_delivery_next_at = ?,
			callback_delivery_last_error = ?,
			version = version + 1,
			updated_at = ?
		WHERE id = ? AND version = ? AND deleted_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query,
		string(payment.Status),
		nullableStringValue(payment.ProviderOrderID),
		nullableStringValue(payment.ProviderChargeID),
		nullableStringValue(payment.CheckoutURL),
		nullableTimeValue(payment.AuthorizationExpiresAt),
		payment.CapturedCents,
		payment.RefundedCents,
		nullableStringValue(payment.FailureReason),
		metadataJSON,
		payment.CallbackDeliveryStatus,
		payment.CallbackDeliveryAttempts,
		nullableTimeValue(payment.CallbackDeliveryNextAt),
		nullableStringValue(payment.CallbackDeliveryLastErr),
		payment.UpdatedAt,
		payment.ID,
		payment.Version,
	)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrVersionConflict
	}

	payment.Version++
	return nil
}

// UpdateCallbackDelivery is guarded by the version the callback was built
// from, so a transition committed meanwhile keeps its own pending callback.
func (r *PaymentRepository) UpdateCallbackDelivery(ctx context.Context, payment *entity.Payment) error {
	query := `
		UPDATE payments SET
			callback_delivery_status = ?,
			callback_delivery_attempts = ?,
			callback_delivery_next_at = ?,
			callback_delivery_last_error = ?
		WHERE id = ? AND version = ? AND deleted_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query,
		payment.CallbackDeliveryStatus,
		payment.CallbackDeliveryAttempts,
		nullableTimeValue(payment.CallbackDeliveryNextAt),
		nullableStringValue(payment.CallbackDeliveryLastErr),
		payment.ID,
		payment.Version,
	)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrCallbackSuperseded
	}

	return nil
}

func (r *PaymentRepository) FindByID(ctx context.Context, id uint64) (*entity.Payment, error) {
	query := `SELECT ` + paymentColumns + `
		FROM payments
		WHERE id = ? AND deleted_at IS NULL
	`

	return r.findOne(ctx, query, id)
}

func (r *PaymentRepository) FindByCallerRequestID(ctx context.Context, callerService, requestID string) (*entity.Payment, error) {
	query := `SELECT ` + paymentColumns + `
		FROM payments
		WHERE caller_service = ? AND request_id = ?
		LIMIT 1
	`

	return r.findOne(ctx, query, callerService, requestID)
}

// FindByProviderReference matches a gateway notification to a payment by any
// of the references the gateway may echo back. Empty references are ignored.
func (r *PaymentRepository) FindByProviderReference(ctx context.Context, provider, orderID, chargeID, externalRef string) (*entity.Payment, error) {
	matches := make([]string, 0, 3)
	args := []interface{}{provider}
	if orderID != "" {
		matches = append(matches, "provider_order_id = ?")
		args = append(args, orderID)
	}
	if chargeID != "" {
		matches = append(matches, "provider_charge_id = ?", "provider_order_id = ?")
		args = append(args, chargeID, chargeID)
	}
	if externalRef != "" {
		matches = append(matches, "external_reference = ?")
		args = append(args, externalRef)
	}
	if len(matches) == 0 {
		return nil, nil
	}

	query := `SELECT ` + paymentColumns + `
		FROM payments
		WHERE provider = ? AND deleted_at IS NULL AND (` + strings.Join(matches, " OR ") + `)
		ORDER BY id DESC
		LIMIT 1
	`

	return r.findOne(ctx, query, args...)
}

func (r *PaymentRepository) List(ctx context.Context, filter PaymentFilter) ([]*entity.Payment, error) {
	query := `SELECT ` + paymentColumns + `
		FROM payments
	`

	conditions := []string{"deleted_at IS NULL"}
	args := make([]interface{}, 0, 8)

	if strings.TrimSpace(filter.CallerService) != "" {
		conditions = append(conditions, "caller_service = ?")
		args = append(args, filter.CallerService)
	}
	if strings.TrimSpace(filter.UserID) != "" {
		conditions = append(conditions, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if strings.TrimSpace(filter.ResourceType) != "" {
		conditions = append(conditions, "resource_type = ?")
		args = append(args, filter.ResourceType)
	}
	if strings.TrimSpace(filter.ResourceID) != "" {
		conditions = append(conditions, "resource_id = ?")
		args = append(args, filter.ResourceID)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}
	if strings.TrimSpace(filter.Provider) != "" {
		conditions = append(conditions, "provider = ?")
		args = append(args, filter.Provider)
	}

	query += " WHERE " + strings.Join(conditions, " AND ")
	query += " ORDER BY id DESC LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	return r.findMany(ctx, query, args...)
}

func (r *PaymentRepository) ListDueCallbackDispatch(ctx context.Context, now time.Time, limit int32) ([]*entity.Payment, error) {
	query := `SELECT ` + paymentColumns + `
		FROM payments
		WHERE callback_delivery_status = ?
		  AND callback_delivery_next_at IS NOT NULL
		  AND callback_delivery_next_at <= ?
		  AND deleted_at IS NULL
		ORDER BY callback_delivery_next_at ASC
		LIMIT ?
	`

	return r.findMany(ctx, query, entity.CallbackDeliveryPending, now, limit)
}

func (r *PaymentRepository) ListExpiredPending(ctx context.Context, cutoff time.Time, limit int32) ([]*entity.Payment, error) {
	query := `SELECT ` + paymentColumns + `
		FROM payments
		WHERE status = ?
		  AND created_at <= ?
		  AND deleted_at IS NULL
		ORDER BY created_at ASC
		LIMIT ?
	`

	return r.findMany(ctx, query, string(entity.PaymentStatusPending), cutoff, limit)
}

func (r *PaymentRepository) ListForReconcile(ctx context.Context, before time.Time, limit int32) ([]*entity.Payment, error) {
	query := `SELECT ` + paymentColumns + `
		FROM payments
		WHERE status IN (?, ?)
		  AND (provider_order_id IS NOT NULL OR provider_charge_id IS NOT NULL)
		  AND updated_at <= ?
		  AND deleted_at IS NULL
		ORDER BY updated_at ASC
		LIMIT ?
	`

	return r.findMany(ctx, query,
		string(entity.PaymentStatusPending),
		string(entity.PaymentStatusAuthorized),
		before,
		limit,
	)
}

func (r *PaymentRepository) findOne(ctx context.Context, query string, args ...interface{}) (*entity.Payment, error) {
	payment := &entity.Payment{}
	if err := scanPayment(r.db.QueryRowContext(ctx, query, args...), payment); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	return payment, nil
}

func (r *PaymentRepository) findMany(ctx context.Context, query string, args ...interface{}) ([]*entity.Payment, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := make([]*entity.Payment, 0)
	for rows.Next() {
		item := &entity.Payment{}
		if err := scanPayment(rows, item); err != nil {
			return nil, err
		}
		payments = append(payments, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return payments, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPayment(scan rowScanner, payment *entity.Payment) error {
	var status string
	var flow string
	var providerOrderID sql.NullString
	var providerChargeID sql.NullString
	var checkoutURL sql.NullString
	var authorizationExpiresAt sql.NullTime
	var failureReason sql.NullString
	var metadataJSON string
	var callbackNextAt sql.NullTime
	var callbackLastErr sql.NullString
	var deletedAt sql.NullTime

	err := scan.Scan(
		&payment.ID,
		&payment.RequestID,
		&payment.CallerService,
		&payment.UserID,
		&payment.ResourceType,
		&payment.ResourceID,
		&payment.Description,
		&payment.AmountCents,
		&payment.Currency,
		&status,
		&flow,
		&payment.Provider,
		&payment.ExternalReference,
		&providerOrderID,
		&providerChargeID,
		&checkoutURL,
		&authorizationExpiresAt,
		&payment.CapturedCents,
		&payment.RefundedCents,
		&failureReason,
		&payment.StatusCallbackURL,
		&metadataJSON,
		&payment.CallbackDeliveryStatus,
		&payment.CallbackDeliveryAttempts,
		&callbackNextAt,
		&callbackLastErr,
		&payment.Version,
		&deletedAt,
		&payment.CreatedAt,
		&payment.UpdatedAt,
	)
	if err != nil {
		return err
	}

	payment.Status = entity.PaymentStatus(status)
	payment.Flow = entity.PaymentFlow(flow)
	payment.ProviderOrderID = stringPtrFromNull(providerOrderID)
	payment.ProviderChargeID = stringPtrFromNull(providerChargeID)
	payment.CheckoutURL = stringPtrFromNull(checkoutURL)
	payment.AuthorizationExpiresAt = timePtrFromNull(authorizationExpiresAt)
	payment.FailureReason = stringPtrFromNull(failureReason)
	payment.CallbackDeliveryNextAt = timePtrFromNull(callbackNextAt)
	payment.CallbackDeliveryLastErr = stringPtrFromNull(callbackLastErr)
	payment.DeletedAt = timePtrFromNull(deletedAt)

	metadata, err := parseMetadata(metadataJSON)
	if err != nil {
		return err
	}
	payment.Metadata = metadata

	return nil
}
