package service

import (
	"errors"
	"fmt"
)

// 业务错误码（稳定对外，handler 按码映射响应）
const (
	CodeValidationError  = "VALIDATION_ERROR"
	CodePermissionDenied = "PERMISSION_DENIED"
	CodeStaleState       = "STALE_STATE"
	CodeNotFound         = "NOT_FOUND"
	CodeConfigIncomplete = "CONFIG_INCOMPLETE"
)

// Error 带错误码的业务错误
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

// NewError 创建业务错误
func NewError(code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf 提取错误码，非业务错误返回空串
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsRetryable STALE_STATE 属于冲突，调用方重新拉取可执行动作后重试即可
func IsRetryable(err error) bool {
	return CodeOf(err) == CodeStaleState
}
