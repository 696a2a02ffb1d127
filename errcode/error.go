// Package errcode provides layered error codes shared by every package.
// Code format: MMBBBB (MM = module code, BBBB = business code).
package errcode

import (
	"errors"
	"fmt"
)

// LayeredError is a coded error that carries an optional cause and
// context data. Values are immutable: every With/Wrap returns a copy.
type LayeredError struct {
	module string
	code   int
	msgKey string
	msg    string
	data   map[string]interface{}
	cause  error
}

// New creates a sentinel error.
// moduleCode: 10-99, businessCode: 1-9999.
func New(moduleCode, businessCode int, module, msgKey, msg string) *LayeredError {
	return &LayeredError{
		module: module,
		code:   moduleCode*10000 + businessCode,
		msgKey: msgKey,
		msg:    msg,
		data:   make(map[string]interface{}),
	}
}

func (e *LayeredError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.cause)
	}
	return e.msg
}

// Code returns the full MMBBBB code.
func (e *LayeredError) Code() int { return e.code }

// ModuleCode returns the MM part of the code.
func (e *LayeredError) ModuleCode() int { return e.code / 10000 }

func (e *LayeredError) Module() string { return e.module }

// MsgKey is the message key for localisation.
func (e *LayeredError) MsgKey() string { return e.msgKey }

func (e *LayeredError) Message() string { return e.msg }

func (e *LayeredError) Data() map[string]interface{} { return e.data }

func (e *LayeredError) Cause() error { return e.cause }

func (e *LayeredError) Unwrap() error { return e.cause }

// WithMsg replaces the message.
func (e *LayeredError) WithMsg(msg string) *LayeredError {
	clone := *e
	clone.msg = msg
	return &clone
}

// WithMsgf replaces the message with a formatted one.
func (e *LayeredError) WithMsgf(format string, args ...interface{}) *LayeredError {
	clone := *e
	clone.msg = fmt.Sprintf(format, args...)
	return &clone
}

// WithData adds one context value.
func (e *LayeredError) WithData(key string, value interface{}) *LayeredError {
	clone := *e
	clone.data = e.cloneData()
	clone.data[key] = value
	return &clone
}

// WithFields adds several context values.
func (e *LayeredError) WithFields(fields map[string]interface{}) *LayeredError {
	clone := *e
	clone.data = e.cloneData()
	for k, v := range fields {
		clone.data[k] = v
	}
	return &clone
}

// Wrap attaches cause. Wrapping nil returns e unchanged.
func (e *LayeredError) Wrap(cause error) *LayeredError {
	if cause == nil {
		return e
	}
	clone := *e
	clone.cause = cause
	return &clone
}

// Wrapf attaches cause and replaces the message.
func (e *LayeredError) Wrapf(cause error, format string, args ...interface{}) *LayeredError {
	clone := *e.WithMsgf(format, args...)
	clone.cause = cause
	return &clone
}

// Is matches any LayeredError with the same code, so errors.Is works
// against sentinels regardless of message or data.
func (e *LayeredError) Is(target error) bool {
	t, ok := target.(*LayeredError)
	if !ok {
		return false
	}
	return e.code == t.code
}

func (e *LayeredError) cloneData() map[string]interface{} {
	data := make(map[string]interface{}, len(e.data))
	for k, v := range e.data {
		data[k] = v
	}
	return data
}

func (e *LayeredError) String() string {
	if e.cause != nil {
		return fmt.Sprintf("LayeredError{code:%d, module:%s, msg:%s, cause:%v}", e.code, e.module, e.msg, e.cause)
	}
	return fmt.Sprintf("LayeredError{code:%d, module:%s, msg:%s}", e.code, e.module, e.msg)
}

// As returns the outermost LayeredError in err's chain.
func As(err error) (*LayeredError, bool) {
	var le *LayeredError
	if errors.As(err, &le) {
		return le, true
	}
	return nil, false
}

// CodeOf returns the code of the outermost LayeredError in err's chain, or 0.
func CodeOf(err error) int {
	if le, ok := As(err); ok {
		return le.code
	}
	return 0
}
