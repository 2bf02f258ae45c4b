package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for propagation and HTTP mapping
type Kind int

const (
	KindValidation Kind = iota + 1
	KindNotFound
	KindStateConflict
	KindExpired
	KindAuthorization
	KindRiskDenied
	KindUpstreamChain
)

// Machine-readable error codes surfaced to API clients
const (
	CodeUnsupportedChainPair   = "UNSUPPORTED_CHAIN_PAIR"
	CodeInvalidAmount          = "INVALID_AMOUNT"
	CodeQuoteNotFound          = "QUOTE_NOT_FOUND"
	CodeUserNotFound           = "USER_NOT_FOUND"
	CodeQuoteExpired           = "QUOTE_EXPIRED"
	CodeQuoteNotPending        = "QUOTE_NOT_PENDING"
	CodeAlreadyCommitted       = "ALREADY_COMMITTED"
	CodeApprovalRequired       = "APPROVAL_REQUIRED"
	CodeInvalidStateTransition = "INVALID_STATE_TRANSITION"
	CodeApprovalNotFound       = "APPROVAL_NOT_FOUND"
	CodeApprovalExpired        = "APPROVAL_EXPIRED"
	CodeAlreadyUsed            = "ALREADY_USED"
	CodeNonceMismatch          = "NONCE_MISMATCH"
	CodeMessageMismatch        = "MESSAGE_MISMATCH"
	CodeSignatureInvalid       = "SIGNATURE_INVALID"
	CodeInsufficientBalance    = "INSUFFICIENT_BALANCE"
	CodeAmountMismatch         = "AMOUNT_MISMATCH"
	CodeCircuitBreakerOpen     = "CIRCUIT_BREAKER_OPEN"
	CodeDailyLimitExceeded     = "DAILY_LIMIT_EXCEEDED"
	CodeOutflowThreshold       = "OUTFLOW_THRESHOLD_EXCEEDED"
	CodeUpstreamChain          = "UPSTREAM_CHAIN_ERROR"
)

// Error is the typed error used across the engine. Detail carries
// caller-actionable context (remaining budget, breaker reason) and never
// internal signing material.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Detail  map[string]interface{}
	wrapped error
}

func (e *Error) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.wrapped }

// Is matches two engine errors by code, so services can compare against
// bare sentinels built with the same constructor.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// WithDetail attaches a single context field and returns the error.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Detail == nil {
		e.Detail = map[string]interface{}{}
	}
	e.Detail[key] = value
	return e
}

// Wrap records an underlying cause and returns the error.
func (e *Error) Wrap(err error) *Error {
	e.wrapped = err
	return e
}

func newError(kind Kind, code, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Validation reports malformed input (bad shapes, non-positive amounts).
func Validation(code, format string, args ...interface{}) *Error {
	return newError(KindValidation, code, format, args...)
}

// NotFound reports an unknown quote/approval/user.
func NotFound(code, format string, args ...interface{}) *Error {
	return newError(KindNotFound, code, format, args...)
}

// StateConflict reports a lost conditional update. This is an expected
// outcome under concurrency, not a crash.
func StateConflict(code, format string, args ...interface{}) *Error {
	return newError(KindStateConflict, code, format, args...)
}

// Expired reports use of a quote or approval past its expires_at.
func Expired(code, format string, args ...interface{}) *Error {
	return newError(KindExpired, code, format, args...)
}

// Authorization reports a signature, nonce, or balance failure.
func Authorization(code, format string, args ...interface{}) *Error {
	return newError(KindAuthorization, code, format, args...)
}

// RiskDenied reports a breaker or limit rejection.
func RiskDenied(code, format string, args ...interface{}) *Error {
	return newError(KindRiskDenied, code, format, args...)
}

// Upstream reports a failure of an external chain collaborator.
func Upstream(format string, args ...interface{}) *Error {
	return newError(KindUpstreamChain, CodeUpstreamChain, format, args...)
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// CodeOf extracts the machine code, or "" for untyped errors.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// HTTPStatus maps an error kind to the response status used by handlers.
func HTTPStatus(err error) int {
	var e *Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindStateConflict:
		return http.StatusConflict
	case KindExpired:
		return http.StatusGone
	case KindAuthorization:
		return http.StatusUnauthorized
	case KindRiskDenied:
		return http.StatusForbidden
	case KindUpstreamChain:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
