package jobs

import (
	"errors"
	"fmt"
	"strings"
)

type Code int

const (
	ErrNotFound Code = iota
	ErrInvalidRequest
	ErrInvalidTransition
	ErrExecutionFailed
	ErrChainFailed
)

func (c Code) String() string {
	switch c {
	case ErrNotFound:
		return "ERR_NOT_FOUND"
	case ErrInvalidRequest:
		return "ERR_INVALID_REQUEST"
	case ErrInvalidTransition:
		return "ERR_INVALID_TRANSITION"
	case ErrExecutionFailed:
		return "ERR_EXECUTION_FAILED"
	case ErrChainFailed:
		return "ERR_CHAIN_FAILED"
	default:
		return "ERR_UNKNOWN"
	}
}

// Error is the orchestration error carried across the core's boundaries.
type Error struct {
	Code    Code
	Message string
	Context map[string]any
	Cause   error
}

func NewError(code Code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
	}
}

func NewErrorWithCause(code Code, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
		Cause:   cause,
	}
}

func (e *Error) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if len(e.Context) > 0 {
		var ctxParts []string
		for k, v := range e.Context {
			ctxParts = append(ctxParts, fmt.Sprintf("%s=%v", k, v))
		}
		parts = append(parts, fmt.Sprintf("context: %s", strings.Join(ctxParts, ", ")))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause: %v", e.Cause))
	}

	return strings.Join(parts, " | ")
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) WithContext(key string, value any) *Error {
	e.Context[key] = value
	return e
}

// IsCode reports whether err is an orchestration error with the given code.
func IsCode(err error, code Code) bool {
	var oerr *Error
	if errors.As(err, &oerr) {
		return oerr.Code == code
	}
	return false
}
