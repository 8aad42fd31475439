package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Request validation sentinels.
var (
	errAtLeastOneMessage = errors.New("at least one message is required")
	errUnknownRole       = errors.New("message role must be user, assistant, or system")
	errMaxTokensPositive = errors.New("max_tokens must be positive")
	errTemperatureRange  = errors.New("temperature must be between 0 and 2")
)

// CallError is the single error kind adapters surface for failed provider
// calls. Transient marks errors worth retrying (timeouts, connection
// failures, 5xx); auth failures and other 4xx responses are permanent.
type CallError struct {
	Provider  string
	Cause     error
	Transient bool
}

func (e *CallError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("provider %s call failed (%s): %v", e.Provider, kind, e.Cause)
}

func (e *CallError) Unwrap() error { return e.Cause }

// TransientError wraps cause as a retryable provider failure.
func TransientError(provider string, cause error) *CallError {
	return &CallError{Provider: provider, Cause: cause, Transient: true}
}

// PermanentError wraps cause as a non-retryable provider failure.
func PermanentError(provider string, cause error) *CallError {
	return &CallError{Provider: provider, Cause: cause, Transient: false}
}

// StatusError builds a CallError from an HTTP status code: 5xx and 429 are
// transient, everything else is permanent.
func StatusError(provider string, status int, cause error) *CallError {
	return &CallError{
		Provider:  provider,
		Cause:     cause,
		Transient: status >= 500 || status == 429,
	}
}

// FromTransportError classifies a transport-level error: context deadline
// expiry and network errors are transient; anything else is handed through
// as permanent unless it is already a CallError.
func FromTransportError(provider string, err error) *CallError {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return TransientError(provider, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return TransientError(provider, err)
	}
	return PermanentError(provider, err)
}

// IsTransient reports whether err is a retryable provider failure.
// Errors that are not CallErrors are conservatively treated as transient,
// matching the failover behaviour for unclassified upstream errors.
func IsTransient(err error) bool {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Transient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return err != nil
}
