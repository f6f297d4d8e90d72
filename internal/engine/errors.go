package engine

import (
	"errors"
	"fmt"
)

// OpError represents an error surfaced at the core boundary.
//
// Every failure is categorized by an ErrorCode so callers (and the CLI exit
// path) can react without string matching. Precondition failures leave the
// managed state unchanged; INVALID_STATE is fatal and the engine refuses
// further mutations until repaired externally.
type OpError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Path identifies the primary path involved, when any.
	Path string

	// SecondaryPath identifies the destination for move/copy failures.
	SecondaryPath string

	// Err is the underlying cause, when any.
	Err error
}

// ErrorCode categorizes core errors.
type ErrorCode string

const (
	// ErrCodeNotFound indicates a path or hash is absent.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// ErrCodeAlreadyExists indicates a create/move/copy destination is present.
	ErrCodeAlreadyExists ErrorCode = "ALREADY_EXISTS"

	// ErrCodeInsufficientMetadata indicates undo was called with metadata
	// missing fields required by its kind.
	ErrCodeInsufficientMetadata ErrorCode = "INSUFFICIENT_METADATA"

	// ErrCodeContentUnavailable indicates a required pre-image hash is not
	// retrievable: never stored, or obliterated.
	ErrCodeContentUnavailable ErrorCode = "CONTENT_UNAVAILABLE"

	// ErrCodeInvalidState indicates the managed state fails a validity
	// invariant (corruption).
	ErrCodeInvalidState ErrorCode = "INVALID_STATE"

	// ErrCodeResourceExhausted indicates store capacity, path length, or
	// history size was exceeded.
	ErrCodeResourceExhausted ErrorCode = "RESOURCE_EXHAUSTED"

	// ErrCodeIoFailure indicates underlying storage reported a failure.
	ErrCodeIoFailure ErrorCode = "IO_FAILURE"

	// ErrCodeConflict indicates a transaction is already active, or the
	// record's state machine forbids the transition.
	ErrCodeConflict ErrorCode = "CONFLICT"
)

// Error implements the error interface.
func (e *OpError) Error() string {
	switch {
	case e.Path != "" && e.SecondaryPath != "":
		return fmt.Sprintf("%s: %s (path=%s, secondary=%s)", e.Code, e.Message, e.Path, e.SecondaryPath)
	case e.Path != "":
		return fmt.Sprintf("%s: %s (path=%s)", e.Code, e.Message, e.Path)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *OpError) Unwrap() error {
	return e.Err
}

// CodeOf extracts the error code from an error chain.
// Returns IO_FAILURE for errors that are not OpErrors.
func CodeOf(err error) ErrorCode {
	var oe *OpError
	if errors.As(err, &oe) {
		return oe.Code
	}
	return ErrCodeIoFailure
}

// IsNotFound reports whether the error is a NOT_FOUND error.
// Uses errors.As to handle wrapped errors.
func IsNotFound(err error) bool {
	return hasCode(err, ErrCodeNotFound)
}

// IsAlreadyExists reports whether the error is an ALREADY_EXISTS error.
func IsAlreadyExists(err error) bool {
	return hasCode(err, ErrCodeAlreadyExists)
}

// IsContentUnavailable reports whether the error is a CONTENT_UNAVAILABLE error.
func IsContentUnavailable(err error) bool {
	return hasCode(err, ErrCodeContentUnavailable)
}

// IsInsufficientMetadata reports whether the error is an INSUFFICIENT_METADATA error.
func IsInsufficientMetadata(err error) bool {
	return hasCode(err, ErrCodeInsufficientMetadata)
}

// IsConflict reports whether the error is a CONFLICT error.
func IsConflict(err error) bool {
	return hasCode(err, ErrCodeConflict)
}

// IsInvalidState reports whether the error is an INVALID_STATE error.
func IsInvalidState(err error) bool {
	return hasCode(err, ErrCodeInvalidState)
}

// IsResourceExhausted reports whether the error is a RESOURCE_EXHAUSTED error.
func IsResourceExhausted(err error) bool {
	return hasCode(err, ErrCodeResourceExhausted)
}

func hasCode(err error, code ErrorCode) bool {
	var oe *OpError
	if errors.As(err, &oe) {
		return oe.Code == code
	}
	return false
}

// errNotFound creates a NOT_FOUND error for a path.
func errNotFound(path string) *OpError {
	return &OpError{Code: ErrCodeNotFound, Message: "path does not exist", Path: path}
}

// errAlreadyExists creates an ALREADY_EXISTS error for a path.
func errAlreadyExists(path string) *OpError {
	return &OpError{Code: ErrCodeAlreadyExists, Message: "path already exists", Path: path}
}

// errContentUnavailable creates a CONTENT_UNAVAILABLE error for a hash,
// distinguishing obliterated content from content that was never staged.
func errContentUnavailable(h string, obliterated bool) *OpError {
	msg := "pre-image content was never stored"
	if obliterated {
		msg = "pre-image content has been obliterated"
	}
	return &OpError{Code: ErrCodeContentUnavailable, Message: msg, Path: h}
}

// errIo wraps an underlying storage failure.
func errIo(path string, err error) *OpError {
	return &OpError{Code: ErrCodeIoFailure, Message: "storage failure", Path: path, Err: err}
}
