package provider

import "errors"

var (
	// ErrUnavailable covers timeouts, network failures, 5xx and throttling.
	// The call may be retried later; nothing is known to have changed.
	ErrUnavailable = errors.New("payment provider unavailable")
	// ErrRejected means the gateway refused the request for a business or
	// validation reason. Retrying the same request will not help.
	ErrRejected         = errors.New("payment provider rejected the request")
	ErrSignatureInvalid = errors.New("webhook signature invalid")
	ErrNotConfigured    = errors.New("payment provider is not configured")
	ErrNotSupported     = errors.New("provider is not supported")
)
