package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a specific failure kind for conversation operations.
type ErrorCode string

const (
	// ErrCodeNotFound indicates the session is absent or expired.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	// ErrCodeInvalidRequest indicates malformed input parameters.
	ErrCodeInvalidRequest ErrorCode = "INVALID_REQUEST"
	// ErrCodeConversationComplete indicates the session already finished.
	// This is a normal terminal signal, not an exceptional failure.
	ErrCodeConversationComplete ErrorCode = "CONVERSATION_COMPLETE"
	// ErrCodeUpstreamGeneration indicates the generation service exhausted
	// its retry budget.
	ErrCodeUpstreamGeneration ErrorCode = "UPSTREAM_GENERATION"
	// ErrCodeUpstreamSynthesis indicates speech synthesis failure. Never
	// surfaced as a turn failure; recorded so callers of the speech plugin
	// can degrade to text-only.
	ErrCodeUpstreamSynthesis ErrorCode = "UPSTREAM_SYNTHESIS"
	// ErrCodeConflict indicates a concurrent mutation was detected by the
	// store. Retryable.
	ErrCodeConflict ErrorCode = "CONFLICT"
	// ErrCodeStoreUnavailable indicates session store infrastructure failure.
	ErrCodeStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"
)

// ConversationError is a structured error for conversation operations.
type ConversationError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *ConversationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *ConversationError) Unwrap() error {
	return e.Cause
}

// GetCode returns the error code.
func (e *ConversationError) GetCode() ErrorCode {
	return e.Code
}

// Retryable reports whether the failure kind is transient and the whole
// operation may be retried by the caller.
func (e *ConversationError) Retryable() bool {
	switch e.Code {
	case ErrCodeConflict, ErrCodeStoreUnavailable, ErrCodeUpstreamGeneration:
		return true
	default:
		return false
	}
}

// Convenience constructors for common error types.

// NotFound creates a session-not-found error.
func NotFound(sessionID string) *ConversationError {
	return &ConversationError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("session not found: %s", sessionID),
	}
}

// InvalidRequest creates an invalid request error.
func InvalidRequest(msg string) *ConversationError {
	return &ConversationError{Code: ErrCodeInvalidRequest, Message: msg}
}

// ConversationComplete creates a conversation complete signal.
func ConversationComplete(sessionID string) *ConversationError {
	return &ConversationError{
		Code:    ErrCodeConversationComplete,
		Message: fmt.Sprintf("conversation already complete: %s", sessionID),
	}
}

// UpstreamGeneration creates a generation failure error.
func UpstreamGeneration(cause error) *ConversationError {
	return &ConversationError{Code: ErrCodeUpstreamGeneration, Message: "generation service failed", Cause: cause}
}

// UpstreamSynthesis creates a synthesis failure error.
func UpstreamSynthesis(cause error) *ConversationError {
	return &ConversationError{Code: ErrCodeUpstreamSynthesis, Message: "speech synthesis failed", Cause: cause}
}

// Conflict creates a concurrent-mutation error.
func Conflict(sessionID string) *ConversationError {
	return &ConversationError{
		Code:    ErrCodeConflict,
		Message: fmt.Sprintf("concurrent mutation detected: %s", sessionID),
	}
}

// StoreUnavailable creates a store infrastructure error.
func StoreUnavailable(cause error) *ConversationError {
	return &ConversationError{Code: ErrCodeStoreUnavailable, Message: "session store unavailable", Cause: cause}
}

// Wrap wraps an existing error with a code and message.
func Wrap(cause error, code ErrorCode, msg string) *ConversationError {
	return &ConversationError{Code: code, Message: msg, Cause: cause}
}

// IsCode checks if an error carries a specific code anywhere in its chain.
func IsCode(err error, code ErrorCode) bool {
	var convErr *ConversationError
	if errors.As(err, &convErr) {
		return convErr.Code == code
	}
	return false
}

// GetCodeFromError extracts the error code from any error.
// Returns the provided default code if the error is not a ConversationError.
func GetCodeFromError(err error, defaultCode ErrorCode) ErrorCode {
	var convErr *ConversationError
	if errors.As(err, &convErr) {
		return convErr.Code
	}
	return defaultCode
}
