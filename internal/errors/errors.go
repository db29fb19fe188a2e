// Package errors defines the translation pipeline's typed error taxonomy.
package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorCode represents a translation pipeline error code.
type ErrorCode string

const (
	ErrValidation       ErrorCode = "VALIDATION_ERROR"          // malformed inbound request, never published
	ErrQueueFull        ErrorCode = "QUEUE_FULL"                // pool queue at capacity
	ErrTimeout          ErrorCode = "TRANSLATION_TIMEOUT"       // backend exceeded its deadline
	ErrBackend          ErrorCode = "TRANSLATION_BACKEND_ERROR" // backend returned a failure
	ErrSegmentation     ErrorCode = "SEGMENTATION_ERROR"        // malformed unicode input
	ErrCacheUnavailable ErrorCode = "CACHE_UNAVAILABLE"         // cache store failed; caller degrades
	ErrShuttingDown     ErrorCode = "SHUTTING_DOWN"             // pool no longer accepts work
	ErrInternal         ErrorCode = "INTERNAL"
)

// TranslatorError represents a structured error with code, message, and details.
type TranslatorError struct {
	Code    ErrorCode
	Message string
	Details map[string]any
	Err     error
}

// Error implements the error interface.
func (e *TranslatorError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *TranslatorError) Unwrap() error {
	return e.Err
}

// NewValidation creates an error for a malformed inbound request.
func NewValidation(msg string) *TranslatorError {
	return &TranslatorError{
		Code:    ErrValidation,
		Message: msg,
	}
}

// NewQueueFull creates an error for a push against a full pool queue.
func NewQueueFull(pool string, capacity int) *TranslatorError {
	return &TranslatorError{
		Code:    ErrQueueFull,
		Message: fmt.Sprintf("%s queue is full (capacity %d)", pool, capacity),
		Details: map[string]any{"pool": pool, "capacity": capacity},
	}
}

// NewTimeout creates an error for a backend call that exceeded its deadline.
func NewTimeout(timeout time.Duration, err error) *TranslatorError {
	return &TranslatorError{
		Code:    ErrTimeout,
		Message: fmt.Sprintf("translation exceeded %s", timeout),
		Details: map[string]any{"timeout_ms": timeout.Milliseconds()},
		Err:     err,
	}
}

// NewBackend wraps an opaque backend failure.
func NewBackend(err error) *TranslatorError {
	msg := "translation backend failed"
	if err != nil {
		msg = err.Error()
	}
	return &TranslatorError{
		Code:    ErrBackend,
		Message: msg,
		Err:     err,
	}
}

// NewSegmentation creates an error for text the segmenter cannot process.
func NewSegmentation(msg string) *TranslatorError {
	return &TranslatorError{
		Code:    ErrSegmentation,
		Message: msg,
	}
}

// NewCacheUnavailable wraps a cache store failure.
func NewCacheUnavailable(op string, err error) *TranslatorError {
	msg := op + " failed"
	if err != nil {
		msg = fmt.Sprintf("%s failed: %v", op, err)
	}
	return &TranslatorError{
		Code:    ErrCacheUnavailable,
		Message: msg,
		Details: map[string]any{"op": op},
		Err:     err,
	}
}

// NewShuttingDown creates an error for work submitted after shutdown began.
func NewShuttingDown(pool string) *TranslatorError {
	return &TranslatorError{
		Code:    ErrShuttingDown,
		Message: fmt.Sprintf("%s pool is shutting down", pool),
		Details: map[string]any{"pool": pool},
	}
}

// NewInternal creates an error for unexpected internal failures.
func NewInternal(err error) *TranslatorError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &TranslatorError{
		Code:    ErrInternal,
		Message: msg,
		Err:     err,
	}
}

// IsCode checks if err (or anything it wraps) is a TranslatorError with the given code.
func IsCode(err error, code ErrorCode) bool {
	var tErr *TranslatorError
	if stderrors.As(err, &tErr) {
		return tErr.Code == code
	}
	return false
}

// CodeOf returns the code of the first TranslatorError in err's chain, or ErrInternal.
func CodeOf(err error) ErrorCode {
	var tErr *TranslatorError
	if stderrors.As(err, &tErr) {
		return tErr.Code
	}
	return ErrInternal
}

// MessageOf returns the human-readable message without the code prefix.
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var tErr *TranslatorError
	if stderrors.As(err, &tErr) {
		return tErr.Message
	}
	return err.Error()
}
