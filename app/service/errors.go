package service

import "errors"

var (
	ErrInvalidRequest       = errors.New("invalid request")
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrPaymentAlreadyExists = errors.New("payment already exists")
	// ErrInvalidTransition covers moves outside the lifecycle graph and the
	// losing side of a race on the same payment.
	ErrInvalidTransition   = errors.New("invalid payment transition")
	ErrProviderUnavailable = errors.New("payment provider unavailable")
	ErrProviderRejected    = errors.New("payment provider rejected the request")
	ErrSignatureInvalid    = errors.New("webhook signature invalid")
	ErrProviderUnsupported = errors.New("provider is not supported")
	ErrIdempotencyConflict = errors.New("idempotency key reused with different parameters")
)
