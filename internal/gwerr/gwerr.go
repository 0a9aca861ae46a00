// Package gwerr defines the gateway's coded error taxonomy.
//
// Code ranges are wire-level stable:
//
//	1000       unknown
//	1010-1099  connection
//	1100-1199  auth
//	1200-1299  data
//	1300-1399  subscription
package gwerr

import (
	"fmt"

	"ctp-md-gateway/internal/sanitize"
)

// Code is a machine-readable gateway error code.
type Code int

const (
	Unknown Code = 1000

	ConnectionFailed   Code = 1010
	ConnectionTimeout  Code = 1011
	ConnectionLost     Code = 1012
	ReconnectExhausted Code = 1013

	AuthFailed            Code = 1100
	AuthInvalidCredential Code = 1101
	AuthExpired           Code = 1102
	AuthPermissionDenied  Code = 1103

	DataInvalid          Code = 1200
	DataValidationFailed Code = 1201
	DataParseError       Code = 1202
	DataTimestampInvalid Code = 1203

	SubscriptionFailed        Code = 1300
	SubscriptionLimitExceeded Code = 1301
	SymbolNotFound            Code = 1302
	SymbolInvalidFormat       Code = 1303
)

var codeNames = map[Code]string{
	Unknown:                   "UNKNOWN",
	ConnectionFailed:          "CONNECTION_FAILED",
	ConnectionTimeout:         "CONNECTION_TIMEOUT",
	ConnectionLost:            "CONNECTION_LOST",
	ReconnectExhausted:        "RECONNECT_EXHAUSTED",
	AuthFailed:                "AUTH_FAILED",
	AuthInvalidCredential:     "AUTH_INVALID_CREDENTIAL",
	AuthExpired:               "AUTH_EXPIRED",
	AuthPermissionDenied:      "AUTH_PERMISSION_DENIED",
	DataInvalid:               "DATA_INVALID",
	DataValidationFailed:      "DATA_VALIDATION_FAILED",
	DataParseError:            "DATA_PARSE_ERROR",
	DataTimestampInvalid:      "DATA_TIMESTAMP_INVALID",
	SubscriptionFailed:        "SUBSCRIPTION_FAILED",
	SubscriptionLimitExceeded: "SUBSCRIPTION_LIMIT_EXCEEDED",
	SymbolNotFound:            "SYMBOL_NOT_FOUND",
	SymbolInvalidFormat:       "SYMBOL_INVALID_FORMAT",
}

var codeDescriptions = map[Code]string{
	Unknown:                   "unknown error",
	ConnectionFailed:          "connection failed",
	ConnectionTimeout:         "connection timed out",
	ConnectionLost:            "connection lost",
	ReconnectExhausted:        "reconnect attempts exhausted",
	AuthFailed:                "authentication failed",
	AuthInvalidCredential:     "invalid credential",
	AuthExpired:               "credential expired",
	AuthPermissionDenied:      "permission denied",
	DataInvalid:               "invalid data",
	DataValidationFailed:      "data validation failed",
	DataParseError:            "data parse error",
	DataTimestampInvalid:      "invalid timestamp",
	SubscriptionFailed:        "subscription failed",
	SubscriptionLimitExceeded: "subscription limit exceeded",
	SymbolNotFound:            "symbol not found",
	SymbolInvalidFormat:       "invalid symbol format",
}

// Name returns the stable upper-snake name for the code.
func (c Code) Name() string {
	if n, ok := codeNames[c]; ok {
		return n
	}
	return codeNames[Unknown]
}

// Description returns the human-readable description for the code.
func (c Code) Description() string {
	if d, ok := codeDescriptions[c]; ok {
		return d
	}
	return codeDescriptions[Unknown]
}

// Error is a gateway error carrying a code, a redacted context map and an
// optional underlying cause. The context is sanitized once at construction
// and callers only ever see copies, so it cannot drift out of sync with
// redaction afterwards.
type Error struct {
	Message string
	Code    Code
	context map[string]any
	cause   error
}

// New builds a gateway error. ctx may be nil; it is sanitized and copied.
func New(code Code, message string, ctx map[string]any) *Error {
	return &Error{
		Message: message,
		Code:    code,
		context: sanitize.Context(ctx),
	}
}

// Wrap builds a gateway error chained onto cause.
func Wrap(code Code, message string, ctx map[string]any, cause error) *Error {
	e := New(code, message, ctx)
	e.cause = cause
	return e
}

// Newf builds a gateway error with a formatted message and no context.
func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...), nil)
}

func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code.Name(), e.Message)
}

// Unwrap exposes the cause for errors.Is / errors.As.
func (e *Error) Unwrap() error {
	return e.cause
}

// Context returns a copy of the redacted context map.
func (e *Error) Context() map[string]any {
	out := make(map[string]any, len(e.context))
	for k, v := range e.context {
		out[k] = v
	}
	return out
}

// Serialize renders the error as a transport-neutral map.
func (e *Error) Serialize() map[string]any {
	out := map[string]any{
		"exception_type":    "GatewayError",
		"message":           e.Message,
		"error_code":        int(e.Code),
		"error_name":        e.Code.Name(),
		"error_description": e.Code.Description(),
		"context":           e.Context(),
		"cause":             nil,
	}
	if e.cause != nil {
		out["cause"] = e.cause.Error()
	}
	return out
}

// CodeOf extracts the gateway code from err, walking the wrap chain.
// Non-gateway errors map to Unknown.
func CodeOf(err error) Code {
	for err != nil {
		if ge, ok := err.(*Error); ok {
			return ge.Code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return Unknown
}
