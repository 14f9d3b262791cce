package common

import (
	"errors"
	"fmt"
)

const (
	CodeInvalidConfig      = "INVALID_CONFIG"
	CodeCaptureUnavailable = "CAPTURE_UNAVAILABLE"
	CodeAlreadyRunning     = "ALREADY_RUNNING"
	CodeDeliveryFailed     = "DELIVERY_FAILED"
	CodeRejectedByServer   = "REJECTED_BY_SERVER"
)

// Error carries one of the agent error codes. Two Errors match under errors.Is
// when their codes are equal, so callers compare against the Err* values.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func WrapError(code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

var (
	ErrInvalidConfig      = NewError(CodeInvalidConfig, "invalid config")
	ErrCaptureUnavailable = NewError(CodeCaptureUnavailable, "capture unavailable")
	ErrAlreadyRunning     = NewError(CodeAlreadyRunning, "already running")
	ErrDeliveryFailed     = NewError(CodeDeliveryFailed, "delivery failed")
	ErrRejectedByServer   = NewError(CodeRejectedByServer, "rejected by server")
)

// ErrorCode returns the code of err, or "" when err is not an agent error.
func ErrorCode(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
