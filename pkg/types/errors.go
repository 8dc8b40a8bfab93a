package types

import (
	"errors"
	"fmt"
)

// ErrorCode 领域错误码
type ErrorCode string

const (
	CodeValidation           ErrorCode = "VALIDATION_ERROR"
	CodeNotFound             ErrorCode = "NOT_FOUND"
	CodeNoCapableDevice      ErrorCode = "NO_CAPABLE_DEVICE"
	CodeConfirmationRequired ErrorCode = "CONFIRMATION_REQUIRED"
	CodeInternal             ErrorCode = "INTERNAL_ERROR"
)

// Error 领域错误，按错误码比较
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is 让 errors.Is 只比较错误码
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

var (
	ErrValidation           = &Error{Code: CodeValidation}
	ErrNotFound             = &Error{Code: CodeNotFound}
	ErrNoCapableDevice      = &Error{Code: CodeNoCapableDevice}
	ErrConfirmationRequired = &Error{Code: CodeConfirmationRequired}
)

// NewError 创建带消息的领域错误
func NewError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf 返回错误对应的错误码，非领域错误一律视为基础设施错误
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// MessageOf 返回领域错误的消息，非领域错误返回 err.Error()
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return err.Error()
}
