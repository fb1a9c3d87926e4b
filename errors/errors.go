// Package errors defines the error taxonomy for the Stellar Swap SDK.
//
// All SDK errors are represented as SwapError, which provides:
//   - Code: Machine-readable error identifier from the closed taxonomy
//   - Message: Human-readable error description
//   - Layer: Which component layer produced the error (core, quote, build, submit, swap)
//   - Cause: Underlying error, if any
//   - Context: Additional error details (asset code, account address, etc.)
//
// Components classify raw upstream failures into the taxonomy at their
// boundary; raw HTTP statuses and provider-specific strings never propagate
// past the builder or the submission client. The orchestrator branches on
// Code alone.
package errors

import "fmt"

// Code is a machine-readable error identifier.
type Code string

// The closed taxonomy used throughout the SDK. UNKNOWN is never silently
// retried; automatic retry of an unclassified failure risks double-submission.
const (
	NETWORK_UNREACHABLE Code = "NETWORK_UNREACHABLE"
	RATE_LIMITED        Code = "RATE_LIMITED"
	TRUSTLINE_REQUIRED  Code = "TRUSTLINE_REQUIRED"
	SEQUENCE_CONFLICT   Code = "SEQUENCE_CONFLICT"
	VALIDATION_REJECTED Code = "VALIDATION_REJECTED"
	ACCOUNT_UNKNOWN     Code = "ACCOUNT_UNKNOWN"
	SIGNATURE_FAILED    Code = "SIGNATURE_FAILED"
	UNKNOWN             Code = "UNKNOWN"
)

// TRANSITION_INVALID marks an illegal orchestrator state transition. It is an
// internal invariant violation, not a classification of an upstream failure,
// and never appears in a SubmissionResult.
const TRANSITION_INVALID Code = "TRANSITION_INVALID"

// SwapError is the base error type for all SDK errors.
type SwapError struct {
	Code    Code
	Message string
	Layer   string // "core", "quote", "build", "submit", "swap"
	Cause   error
	Context map[string]any
}

// Error returns a formatted error string.
func (e *SwapError) Error() string {
	msg := fmt.Sprintf("[%s] %s: %s", e.Layer, e.Code, e.Message)
	if e.Cause != nil {
		msg += fmt.Sprintf(" (caused by: %v)", e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause error, enabling error chain inspection.
func (e *SwapError) Unwrap() error {
	return e.Cause
}

// Is checks if the target error is a SwapError with the same code.
func (e *SwapError) Is(target error) bool {
	other, ok := target.(*SwapError)
	if !ok {
		return false
	}
	return e.Code == other.Code
}

// WithContext attaches a key/value detail to the error and returns it.
func (e *SwapError) WithContext(key string, value any) *SwapError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

func newError(layer string, code Code, message string, cause error) *SwapError {
	return &SwapError{
		Code:    code,
		Message: message,
		Layer:   layer,
		Cause:   cause,
		Context: make(map[string]any),
	}
}

// NewCoreError creates a core layer error (HTTP transport, account reads).
func NewCoreError(code Code, message string, cause error) *SwapError {
	return newError("core", code, message, cause)
}

// NewQuoteError creates a quote fetcher layer error.
func NewQuoteError(code Code, message string, cause error) *SwapError {
	return newError("quote", code, message, cause)
}

// NewBuildError creates a transaction builder layer error.
func NewBuildError(code Code, message string, cause error) *SwapError {
	return newError("build", code, message, cause)
}

// NewSubmitError creates a submission client layer error.
func NewSubmitError(code Code, message string, cause error) *SwapError {
	return newError("submit", code, message, cause)
}

// NewSwapError creates an orchestrator layer error.
func NewSwapError(code Code, message string, cause error) *SwapError {
	return newError("swap", code, message, cause)
}

// As checks if err is a SwapError and assigns it.
func As(err error, target **SwapError) bool {
	if err == nil {
		return false
	}
	if v, ok := err.(*SwapError); ok {
		*target = v
		return true
	}
	return false
}

// CodeOf returns the taxonomy code carried by err, or UNKNOWN if err is not a
// SwapError. The orchestrator's retry policy branches on this.
func CodeOf(err error) Code {
	var serr *SwapError
	if As(err, &serr) {
		return serr.Code
	}
	return UNKNOWN
}
