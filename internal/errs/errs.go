// Package errs 定义采集源共用的错误分类：瞬时错误下个周期重试，
// 格式错误跳过本次载荷，权限错误禁用该采集源。
package errs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"syscall"
)

// Code 错误类别
type Code string

const (
	Transient   Code = "TRANSIENT_IO"
	DataFormat  Code = "DATA_FORMAT"
	Permission  Code = "PERMISSION"
	Unsupported Code = "UNSUPPORTED"
)

// Error 带类别的错误
type Error struct {
	Code Code
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Op)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New 构造指定类别的错误
func New(code Code, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

// Wrap 按底层错误自动归类后包装，err 为 nil 时返回 nil
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return &Error{Code: e.Code, Op: op, Err: err}
	}
	return &Error{Code: Classify(err), Op: op, Err: err}
}

// Is 判断错误链中是否存在指定类别
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}

// CodeOf 提取错误类别，未分类的错误按 Classify 推断
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Classify(err)
}

// Classify 根据系统错误推断类别
func Classify(err error) Code {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, fs.ErrPermission), errors.Is(err, syscall.EACCES), errors.Is(err, syscall.EPERM):
		return Permission
	case errors.Is(err, errors.ErrUnsupported):
		return Unsupported
	case errors.Is(err, fs.ErrNotExist),
		errors.Is(err, syscall.EAGAIN),
		errors.Is(err, syscall.EWOULDBLOCK),
		errors.Is(err, syscall.EINTR),
		errors.Is(err, syscall.EBUSY),
		errors.Is(err, os.ErrDeadlineExceeded),
		errors.Is(err, context.DeadlineExceeded):
		return Transient
	}
	return Transient
}
