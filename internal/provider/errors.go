package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// TransientError marks a provider failure worth retrying: timeouts,
// rate limits, 5xx responses.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient provider error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// FatalError marks a provider failure that retrying cannot fix: auth
// rejection, content-policy refusal, malformed request.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal provider error: %v", e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	// Context deadline on an individual call is a timeout, retryable.
	return errors.Is(err, context.DeadlineExceeded)
}

// IsFatal reports whether err must abort the job immediately.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// classifyStatus maps an HTTP status to the retry taxonomy.
func classifyStatus(status int, err error) error {
	switch {
	case status == http.StatusTooManyRequests || status >= 500:
		return &TransientError{Err: err}
	case status == http.StatusUnauthorized || status == http.StatusForbidden ||
		status == http.StatusUnprocessableEntity:
		return &FatalError{Err: err}
	default:
		return &TransientError{Err: err}
	}
}

// wrapTransportError classifies network-level failures. Context
// cancellation passes through untouched so callers can distinguish
// shutdown from provider trouble.
func wrapTransportError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &TransientError{Err: err}
}
