package youtube

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"autochatter/internal/retry"

	"google.golang.org/api/googleapi"
)

// APIError is the classified result of a failed API call. Transient errors
// (rate limiting and server-side failures) are retried by PostComment;
// everything else is permanent.
type APIError struct {
	// Op is the API method, e.g. "commentThreads.insert".
	Op string
	// StatusCode is the HTTP status, or 0 when no response was received.
	StatusCode int
	// Class is the retry classification.
	Class retry.Class
	// Err is the underlying error.
	Err error
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("youtube: %s: %s error (status %d): %v", e.Op, e.Class, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("youtube: %s: %s error: %v", e.Op, e.Class, e.Err)
}

func (e *APIError) Unwrap() error { return e.Err }

// RetryClass implements retry.Classified.
func (e *APIError) RetryClass() retry.Class { return e.Class }

// Transient reports whether the error is worth retrying.
func (e *APIError) Transient() bool { return e.Class == retry.Transient }

// wrapAPIError classifies err from the API call op.
func wrapAPIError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &APIError{Op: op, Class: retry.Permanent, Err: err}
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return &APIError{Op: op, StatusCode: gerr.Code, Class: classifyStatus(gerr.Code), Err: err}
	}
	return &APIError{Op: op, Class: retry.Permanent, Err: err}
}

// classifyStatus maps an HTTP status to a retry class: 429 and 5xx are
// transient.
func classifyStatus(code int) retry.Class {
	if code == http.StatusTooManyRequests || code >= 500 {
		return retry.Transient
	}
	return retry.Permanent
}
