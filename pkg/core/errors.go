// Package core holds the provider abstraction and shared error taxonomy for
// the voice-agent pipeline.
package core

import (
	"errors"
	"fmt"
)

// ErrStreamUnavailable is surfaced when an adapter's transport failed and the
// single in-adapter retry also failed. The current turn ends without an
// assistant message; the session continues.
var ErrStreamUnavailable = errors.New("stream unavailable")

// ErrRateMissing is returned by the cost calculator when a mandatory rate for
// the configured provider is absent from the rate tables.
var ErrRateMissing = errors.New("rate missing")

// ErrorType categorizes pipeline errors.
type ErrorType string

const (
	ErrInvalidConfig  ErrorType = "invalid_config_error"
	ErrAuthentication ErrorType = "authentication_error"
	ErrRateLimit      ErrorType = "rate_limit_error"
	ErrTransport      ErrorType = "transport_error"
	ErrProvider       ErrorType = "provider_error"
	ErrProtocol       ErrorType = "protocol_error"
)

// Error is a typed pipeline error.
type Error struct {
	Type     ErrorType `json:"type"`
	Message  string    `json:"message"`
	Provider string    `json:"provider,omitempty"`
	wrapped  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s: %s: %s", e.Type, e.Provider, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error, if any.
func (e *Error) Unwrap() error { return e.wrapped }

// IsRetryable reports whether the operation may be retried.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrRateLimit, ErrTransport:
		return true
	default:
		return false
	}
}

// NewConfigError creates a configuration error. Configuration errors fail
// fast at session construction; no partial session is recorded.
func NewConfigError(format string, args ...any) *Error {
	return &Error{Type: ErrInvalidConfig, Message: fmt.Sprintf(format, args...)}
}

// NewTransportError wraps a transient network failure from a provider.
func NewTransportError(provider string, err error) *Error {
	return &Error{Type: ErrTransport, Provider: provider, Message: err.Error(), wrapped: err}
}

// NewProviderError wraps a non-transport failure from a provider.
func NewProviderError(provider string, err error) *Error {
	return &Error{Type: ErrProvider, Provider: provider, Message: err.Error(), wrapped: err}
}

// NewProtocolError records an event that violated a pipeline invariant. The
// caller logs it and drops the offending event rather than corrupting state.
func NewProtocolError(format string, args ...any) *Error {
	return &Error{Type: ErrProtocol, Message: fmt.Sprintf(format, args...)}
}
