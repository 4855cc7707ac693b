// Package errors provides standardized error codes for the wssh client.
//
// Error codes follow the format {domain}.{error} where:
//   - domain: The subsystem that generated the error (validation, geometry, transport, ...)
//   - error: The specific error type within that domain
//
// Only validation errors are ever handed back to the caller as data. Everything
// else is logged at the boundary where it was detected and never crosses a
// component boundary.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Error codes by domain.
const (
	// Validation domain - connection form input
	CodeValidationFailed = "validation.failed" // One or more field violations

	// Geometry domain - pixel to cell conversion
	CodeGeometryUnavailable = "geometry.unavailable" // No measurement strategy produced cell metrics

	// Transport domain - the WebSocket channel
	CodeTransportError    = "transport.error"     // Error reported by the channel (not terminal)
	CodeTransportClosed   = "transport.closed"    // Channel closed; the session is over
	CodeTransportDial     = "transport.dial"      // Handshake failed
	CodeTransportURL      = "transport.bad_url"   // Page URL could not be turned into a socket URL
	CodeTransportPinning  = "transport.pinning"   // Peer certificate fingerprint mismatch
	CodeTransportSendFail = "transport.send_fail" // Frame could not be written

	// Decode domain - inbound payloads
	CodeDecodeFailed = "decode.failed" // Chunk could not be decoded to text

	// Session domain - bridge lifecycle
	CodeSessionAlreadyUsed = "session.already_used" // Connect called on a non-idle bridge

	// Storage domain - durable form fields
	CodeStorageOpenFailed  = "storage.open_failed"  // Database open failed
	CodeStorageQueryFailed = "storage.query_failed" // Database query failed
	CodeStorageSaveFailed  = "storage.save_failed"  // Failed to save data

	// General domain - catch-all errors
	CodeUnknown  = "error.unknown"  // Unknown error
	CodeInternal = "error.internal" // Internal error
)

// CodedError wraps an error with a stable error code.
type CodedError struct {
	Code    string // Stable error code (e.g., "transport.closed")
	Message string // Human-readable error message
	Cause   error  // Underlying error (may be nil)
}

// Error implements the error interface.
func (e *CodedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CodedError) Unwrap() error {
	return e.Cause
}

// New creates a new CodedError with the given code and message.
func New(code, message string) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a new CodedError wrapping an existing error.
func Wrap(code, message string, cause error) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// GetCode extracts the error code from an error.
// Falls back to CodeUnknown for errors that carry no code.
func GetCode(err error) string {
	if err == nil {
		return ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}

	var verr *ValidationError
	if errors.As(err, &verr) {
		return CodeValidationFailed
	}

	return CodeUnknown
}

// GetMessage extracts a human-readable message from an error.
func GetMessage(err error) string {
	if err == nil {
		return ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Message
	}

	return err.Error()
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code string) bool {
	return GetCode(err) == code
}

// ValidationError carries every field violation found in one pass.
// It is the only error type handed back to callers for display.
type ValidationError struct {
	Violations []string
}

// Error joins the violations with semicolons.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", CodeValidationFailed, strings.Join(e.Violations, "; "))
}

// Validation creates a ValidationError from accumulated violations.
// Returns nil when there is nothing to report.
func Validation(violations []string) *ValidationError {
	if len(violations) == 0 {
		return nil
	}
	v := make([]string, len(violations))
	copy(v, violations)
	return &ValidationError{Violations: v}
}

// GeometryUnavailable creates a "geometry.unavailable" error.
// The resize is skipped for this cycle and retried on the next trigger.
func GeometryUnavailable(reason string) *CodedError {
	msg := "cell metrics unavailable"
	if reason != "" {
		msg = fmt.Sprintf("%s: %s", msg, reason)
	}
	return New(CodeGeometryUnavailable, msg)
}

// TransportError creates a "transport.error" error.
func TransportError(cause error) *CodedError {
	return Wrap(CodeTransportError, "transport reported an error", cause)
}

// TransportClosed creates a "transport.closed" error carrying the peer's reason.
func TransportClosed(reason string) *CodedError {
	msg := "transport closed"
	if reason != "" {
		msg = fmt.Sprintf("%s: %s", msg, reason)
	}
	return New(CodeTransportClosed, msg)
}

// DialFailed creates a "transport.dial" error.
func DialFailed(url string, cause error) *CodedError {
	return Wrap(CodeTransportDial, fmt.Sprintf("failed to open %s", url), cause)
}

// BadURL creates a "transport.bad_url" error.
func BadURL(raw string, cause error) *CodedError {
	return Wrap(CodeTransportURL, fmt.Sprintf("cannot derive socket URL from %q", raw), cause)
}

// PinMismatch creates a "transport.pinning" error.
func PinMismatch(want, got string) *CodedError {
	return New(CodeTransportPinning, fmt.Sprintf("certificate fingerprint %s does not match pinned %s", got, want))
}

// DecodeFailed creates a "decode.failed" error.
func DecodeFailed(cause error) *CodedError {
	return Wrap(CodeDecodeFailed, "inbound payload could not be decoded", cause)
}

// SessionAlreadyUsed creates a "session.already_used" error.
// A bridge instance connects at most once; callers must build a new one.
func SessionAlreadyUsed(state string) *CodedError {
	return New(CodeSessionAlreadyUsed, fmt.Sprintf("bridge is %s; create a new instance to reconnect", state))
}

// Internal creates an "error.internal" error.
func Internal(message string, cause error) *CodedError {
	return Wrap(CodeInternal, message, cause)
}
