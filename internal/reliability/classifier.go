// Package reliability classifies failures so callers can tell a client
// whether trying again later is worthwhile. Nothing here retries.
package reliability

import (
	"context"
	"errors"
)

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// IsTransient reports whether err came from a deadline rather than from the
// request itself. Cancellation by the caller is not transient.
func IsTransient(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
