package core

import (
	"context"
	"errors"
	"fmt"
)

// Error represents a coaching engine error.
type Error struct {
	Type      ErrorType `json:"type"`
	Message   string    `json:"message"`
	Code      string    `json:"code,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for error wrapping.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same type.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Type == e.Type && (t.Message == "" || t.Message == e.Message)
}

// ErrorType categorizes errors.
type ErrorType string

const (
	ErrInvalidRequest          ErrorType = "invalid_request_error"
	ErrNotFound                ErrorType = "not_found_error"
	ErrSessionEnded            ErrorType = "session_ended_error"
	ErrOverloaded              ErrorType = "overloaded_error"
	ErrProviderTimeout         ErrorType = "provider_timeout_error"
	ErrProvider                ErrorType = "provider_error"
	ErrProviderMalformed       ErrorType = "provider_malformed_response_error"
	ErrTranscriptionConnection ErrorType = "transcription_connection_error"
	ErrStaleResult             ErrorType = "stale_result_error"
	ErrRateLimit               ErrorType = "rate_limit_error"
	ErrAuthentication          ErrorType = "authentication_error"
	ErrInternal                ErrorType = "internal_error"
)

// NewInvalidRequestError creates an invalid request error.
func NewInvalidRequestError(message string) *Error {
	return &Error{Type: ErrInvalidRequest, Message: message}
}

// NewNotFoundError creates a not found error for a session id.
func NewNotFoundError(sessionID string) *Error {
	return &Error{
		Type:      ErrNotFound,
		Message:   fmt.Sprintf("session %q not found", sessionID),
		SessionID: sessionID,
	}
}

// NewSessionEndedError reports a mutation attempt on an ended session.
func NewSessionEndedError(sessionID string) *Error {
	return &Error{
		Type:      ErrSessionEnded,
		Message:   fmt.Sprintf("session %q has ended", sessionID),
		SessionID: sessionID,
	}
}

// NewOverloadedError creates an overloaded error.
func NewOverloadedError(message string) *Error {
	return &Error{Type: ErrOverloaded, Message: message}
}

// NewProviderError creates a reasoning provider error.
func NewProviderError(provider string, underlying error) *Error {
	return &Error{
		Type:    ErrProvider,
		Message: fmt.Sprintf("%s: %v", provider, underlying),
		Cause:   underlying,
	}
}

// NewProviderTimeoutError reports a provider call that exceeded its deadline.
func NewProviderTimeoutError(provider string, underlying error) *Error {
	return &Error{
		Type:    ErrProviderTimeout,
		Message: fmt.Sprintf("%s: request timed out", provider),
		Cause:   underlying,
	}
}

// NewMalformedResponseError reports a provider payload that failed validation.
func NewMalformedResponseError(underlying error) *Error {
	return &Error{
		Type:    ErrProviderMalformed,
		Message: underlying.Error(),
		Cause:   underlying,
	}
}

// NewTranscriptionConnectionError reports a dropped transcription stream.
func NewTranscriptionConnectionError(sessionID string, underlying error) *Error {
	msg := "transcription connection lost"
	if underlying != nil {
		msg = fmt.Sprintf("%s: %v", msg, underlying)
	}
	return &Error{
		Type:      ErrTranscriptionConnection,
		Message:   msg,
		SessionID: sessionID,
		Cause:     underlying,
	}
}

// NewStaleResultError reports a guidance result that arrived after its session ended.
func NewStaleResultError(sessionID string) *Error {
	return &Error{
		Type:      ErrStaleResult,
		Message:   "result arrived after session left active state",
		SessionID: sessionID,
	}
}

// NewRateLimitError reports a client that exceeded its request or connection budget.
func NewRateLimitError(message string) *Error {
	return &Error{Type: ErrRateLimit, Message: message}
}

// NewAuthenticationError reports a missing or unknown API key.
func NewAuthenticationError(message string) *Error {
	return &Error{Type: ErrAuthentication, Message: message}
}

// KindOf returns the ErrorType of err, or "" if err is not an *Error.
func KindOf(err error) ErrorType {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Type
	}
	return ""
}

// IsNotFound reports whether err is a not found error.
func IsNotFound(err error) bool {
	return KindOf(err) == ErrNotFound
}

// IsProviderFailure reports whether err belongs to the provider failure family
// that is absorbed by the fallback path.
func IsProviderFailure(err error) bool {
	switch KindOf(err) {
	case ErrProvider, ErrProviderTimeout, ErrProviderMalformed:
		return true
	default:
		return false
	}
}

// ClassifyProviderFailure maps a failed provider call made under ctx to the provider
// failure family. Errors already in the family pass through; deadline expiry becomes
// a timeout and anything else a provider error.
func ClassifyProviderFailure(ctx context.Context, provider string, err error) error {
	if IsProviderFailure(err) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return NewProviderTimeoutError(provider, err)
	}
	return NewProviderError(provider, err)
}
