// Package errors classifies backend failures for the retry loop and turns
// them into one-line status messages.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"
)

const payloadPreview = 200

// TransientError is a failure worth another attempt: timeouts, dropped
// connections and non-2xx statuses.
type TransientError struct {
	Err        error
	StatusCode int
	Message    string
}

func (e *TransientError) Error() string {
	switch {
	case e.Message != "":
		return e.Message
	case e.StatusCode > 0:
		return fmt.Sprintf("status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transient: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// MalformedPayloadError is a response that arrived but cannot be used, such
// as undecodable JSON, garbled text or a provider error marker.
type MalformedPayloadError struct {
	Reason  string
	Payload string
}

func (e *MalformedPayloadError) Error() string {
	return "malformed payload: " + e.Reason
}

// PermanentError stops the retry loop at once.
type PermanentError struct {
	Err     error
	Message string
}

func (e *PermanentError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("permanent: %v", e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// DegradedError means the backend is off limits for now and the caller
// should use its fallback.
type DegradedError struct {
	Err     error
	Message string
}

func (e *DegradedError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("degraded: %v", e.Err)
}

func (e *DegradedError) Unwrap() error { return e.Err }

// NewTransientError wraps err with a status-line message.
func NewTransientError(err error, message string) *TransientError {
	return &TransientError{Err: err, Message: message}
}

// NewStatusError wraps a non-success HTTP response. Every non-2xx status is
// retried.
func NewStatusError(statusCode int, body string) *TransientError {
	return &TransientError{
		Err:        fmt.Errorf("%s: %s", http.StatusText(statusCode), preview(body)),
		StatusCode: statusCode,
	}
}

// NewMalformedPayloadError keeps a preview of payload for the logs.
func NewMalformedPayloadError(reason, payload string) *MalformedPayloadError {
	return &MalformedPayloadError{Reason: reason, Payload: preview(payload)}
}

// NewPermanentError wraps err with a status-line message.
func NewPermanentError(err error, message string) *PermanentError {
	return &PermanentError{Err: err, Message: message}
}

// NewDegradedError wraps err with a status-line message.
func NewDegradedError(err error, message string) *DegradedError {
	return &DegradedError{Err: err, Message: message}
}

// IsTransient reports whether another attempt may succeed. Unclassified
// errors are retried; cancellation, permanent and degraded errors are not.
func IsTransient(err error) bool {
	switch {
	case err == nil:
		return false
	case IsPermanent(err), IsDegraded(err):
		return false
	case errors.Is(err, context.Canceled):
		return false
	}
	return true
}

// IsMalformed reports whether err carries a MalformedPayloadError.
func IsMalformed(err error) bool {
	var target *MalformedPayloadError
	return errors.As(err, &target)
}

// IsPermanent reports whether err carries a PermanentError.
func IsPermanent(err error) bool {
	var target *PermanentError
	return errors.As(err, &target)
}

// IsDegraded reports whether err carries a DegradedError.
func IsDegraded(err error) bool {
	var target *DegradedError
	return errors.As(err, &target)
}

// Describe renders err as a short status line.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	if msg := classifiedMessage(err); msg != "" {
		return msg
	}

	var errno syscall.Errno
	if errors.As(err, &errno) && errno == syscall.ECONNREFUSED {
		return "Service is not reachable."
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "Request timed out."
	}

	text := strings.ToLower(err.Error())
	switch {
	case strings.Contains(text, "rate limit"), strings.Contains(text, "too many requests"):
		return "Rate limit reached; backing off before the next attempt."
	case strings.Contains(text, "deadline exceeded"), strings.Contains(text, "timeout"):
		return "Request timed out."
	case strings.Contains(text, "connection refused"):
		return "Service is not reachable."
	case strings.Contains(text, "unauthorized"), strings.Contains(text, "401"):
		return "Authentication failed. Check the API key for this provider."
	}
	return err.Error()
}

func classifiedMessage(err error) string {
	var transient *TransientError
	if errors.As(err, &transient) && transient.Message != "" {
		return transient.Message
	}
	var permanent *PermanentError
	if errors.As(err, &permanent) && permanent.Message != "" {
		return permanent.Message
	}
	var degraded *DegradedError
	if errors.As(err, &degraded) && degraded.Message != "" {
		return degraded.Message
	}
	return ""
}

func preview(s string) string {
	if len(s) <= payloadPreview {
		return s
	}
	return s[:payloadPreview] + "..."
}
