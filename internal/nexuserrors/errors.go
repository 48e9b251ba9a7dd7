// Package nexuserrors defines the unified error taxonomy used across the gateway.
package nexuserrors

import "fmt"

// Code identifies the semantic category of a gateway error, independent of the
// underlying Go type. It maps directly onto the OpenAI-compatible error envelope's
// "code" field.
type Code string

const (
	ErrInvalidRequest       Code = "invalid_request"
	ErrModelNotFound        Code = "model_not_found"
	ErrCapabilityMismatch   Code = "capability_mismatch"
	ErrNoHealthyBackend     Code = "service_unavailable"
	ErrQueueFull            Code = "queue_full"
	ErrQueueTimeout         Code = "queue_timeout"
	ErrBudgetHardLimit      Code = "budget_hard_limit"
	ErrUpstreamTimeout      Code = "upstream_timeout"
	ErrUpstreamBackend      Code = "backend_error"
	ErrPrivacyViolation     Code = "privacy_violation_on_failover"
	ErrTierUnmet            Code = "tier_unmet"
	ErrInternal             Code = "internal_error"
)

// Error is a structured gateway error carrying everything needed to render the
// OpenAI-compatible envelope and pick an HTTP status.
type Error struct {
	Code       Code
	Message    string
	HTTPStatus int
	Retryable  bool
	Agent      string
	Context    map[string]any
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New creates an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

func (e *Error) WithAgent(agent string) *Error {
	e.Agent = agent
	return e
}

func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// IsRetryable reports whether err is a retryable gateway Error.
func IsRetryable(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Retryable
	}
	return false
}

// GetCode extracts the Code from err, or "" if err is not a gateway Error.
func GetCode(err error) Code {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ""
}

// EnvelopeType maps a Code to the OpenAI-compatible envelope "type" field.
func (c Code) EnvelopeType() string {
	switch c {
	case ErrInvalidRequest, ErrCapabilityMismatch, ErrModelNotFound:
		return "invalid_request_error"
	case ErrUpstreamTimeout:
		return "timeout"
	case ErrUpstreamBackend:
		return "backend_error"
	case ErrPrivacyViolation, ErrTierUnmet:
		return "nexus_routing_error"
	case ErrNoHealthyBackend:
		return "server_error"
	case ErrQueueFull, ErrQueueTimeout, ErrBudgetHardLimit:
		return "service_unavailable"
	default:
		return "server_error"
	}
}
