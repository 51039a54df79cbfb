package upload

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Severity describes how the transfer pipeline reacts to a failure.
type Severity string

const (
	// SeverityRetryable means the same request can be retried with backoff.
	SeverityRetryable Severity = "retryable"
	// SeverityReissue means the part needs a fresh presigned URL before retrying.
	SeverityReissue Severity = "reissue"
	// SeverityFatal means the session cannot recover without user action.
	SeverityFatal Severity = "fatal"
)

// Error codes reported by the client-side upload pipeline.
const (
	CodeValidation            = "VALIDATION_ERROR"
	CodeTransientTransfer     = "TRANSIENT_TRANSFER_ERROR"
	CodeCancelled             = "CANCELLED"
	CodeURLExpired            = "URL_EXPIRED"
	CodeMissingIntegrityToken = "MISSING_INTEGRITY_TOKEN"
	CodeSizeMismatch          = "SIZE_MISMATCH"
	CodeStorageVerification   = "STORAGE_VERIFICATION_FAILED"
	CodeAnalysisTrigger       = "ANALYSIS_TRIGGER_FAILED"
)

// Error carries structured failure information for an upload session.
// Code identifies the failure class, Severity drives the retry decision,
// and Details holds request-scoped context such as the part number.
type Error struct {
	Code     string
	Message  string
	Severity Severity
	Cause    error
	Details  map[string]interface{}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is / errors.As chains.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsRetryable checks if the failure can be retried on the same URL.
func (e *Error) IsRetryable() bool {
	return e.Severity == SeverityRetryable
}

// IsFatal checks if the failure ends the session attempt.
func (e *Error) IsFatal() bool {
	return e.Severity == SeverityFatal
}

// WithDetail attaches request-scoped context to the error.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewError creates a structured upload error.
func NewError(code, message string, severity Severity) *Error {
	return &Error{
		Code:     code,
		Message:  message,
		Severity: severity,
	}
}

// WrapError creates a structured upload error around a cause.
func WrapError(cause error, code, message string, severity Severity) *Error {
	return &Error{
		Code:     code,
		Message:  message,
		Severity: severity,
		Cause:    cause,
	}
}

// NewValidation creates a fatal validation error.
func NewValidation(format string, args ...interface{}) *Error {
	return NewError(CodeValidation, fmt.Sprintf(format, args...), SeverityFatal)
}

// NewCancelled creates the error reported when a transfer is cancelled.
// A cancelled transfer is never retried and keeps its committed progress.
func NewCancelled(cause error) *Error {
	return WrapError(cause, CodeCancelled, "transfer cancelled", SeverityFatal)
}

// AsError extracts a structured upload error from an error chain.
func AsError(err error) (*Error, bool) {
	var uerr *Error
	if errors.As(err, &uerr) {
		return uerr, true
	}
	return nil, false
}

// IsCode checks if the error chain contains an upload error with the code.
func IsCode(err error, code string) bool {
	uerr, ok := AsError(err)
	return ok && uerr.Code == code
}

// ClassifyStatus maps a storage PUT response status to a structured error.
// 403 means the presigned URL expired and a fresh one is required, 429 and
// 5xx are transient, any other non-success status is treated as fatal.
func ClassifyStatus(status int) *Error {
	switch {
	case status == http.StatusForbidden:
		return NewError(CodeURLExpired, fmt.Sprintf("storage rejected presigned url (status %d)", status), SeverityReissue)
	case status == http.StatusTooManyRequests || status >= 500:
		return NewError(CodeTransientTransfer, fmt.Sprintf("storage returned status %d", status), SeverityRetryable)
	default:
		return NewError(CodeValidation, fmt.Sprintf("storage rejected upload (status %d)", status), SeverityFatal)
	}
}

// Classify wraps an arbitrary transfer failure into a structured error.
// Context cancellation maps to Cancelled, network failures are transient.
func Classify(err error) *Error {
	if uerr, ok := AsError(err); ok {
		return uerr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return NewCancelled(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return WrapError(err, CodeTransientTransfer, "network error during transfer", SeverityRetryable)
	}
	return WrapError(err, CodeTransientTransfer, "transfer failed", SeverityRetryable)
}
