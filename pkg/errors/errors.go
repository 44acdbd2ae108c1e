// Package errors provides typed errors for airbridge.
//
// Every failure that crosses a package boundary is an *Error carrying an
// ErrorType, so callers branch on the category (retry a rate limit, restart
// on an expired iterator, abort on a warehouse failure) without matching on
// message text. The standard library helpers are re-exported so a single
// import covers both.
package errors

import (
	"errors"
	"fmt"
	"runtime"
	"sort"

	"go.uber.org/zap"
)

// ErrorType is the category of an error.
type ErrorType string

const (
	ErrorTypeInternal       ErrorType = "internal"
	ErrorTypeValidation     ErrorType = "validation"
	ErrorTypeNotFound       ErrorType = "not_found"
	ErrorTypeConnection     ErrorType = "connection"
	ErrorTypeAuthentication ErrorType = "authentication"
	ErrorTypeConfig         ErrorType = "config"
	ErrorTypeData           ErrorType = "data"

	// ErrorTypeRateLimit is a 429 that outlived the retry budget
	ErrorTypeRateLimit ErrorType = "rate_limit"
	// ErrorTypeHTTP is any other non-success API response
	ErrorTypeHTTP ErrorType = "http"
	// ErrorTypeIterator is an expired list-records iterator
	ErrorTypeIterator ErrorType = "iterator"
	// ErrorTypeWarehouse is a failed warehouse statement
	ErrorTypeWarehouse ErrorType = "warehouse"
	// ErrorTypeQuery is a failed source table query
	ErrorTypeQuery ErrorType = "query"
)

// Error is a categorized error with optional details and the stack where it
// was created.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}
	Stack   []StackFrame
}

// StackFrame is one caller frame.
type StackFrame struct {
	Function string
	File     string
	Line     int
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// ErrorType returns e.Type.
func (e *Error) ErrorType() ErrorType {
	return e.Type
}

// Typed is implemented by errors that carry a category. Error types defined
// in other packages implement it to take part in TypeOf and IsRetryable.
type Typed interface {
	ErrorType() ErrorType
}

// WithDetail attaches a key/value pair and returns e.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates an error of errType.
func New(errType ErrorType, message string) *Error {
	return &Error{Type: errType, Message: message, Stack: captureStack(3)}
}

// Newf creates an error of errType with a formatted message.
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{Type: errType, Message: fmt.Sprintf(format, args...), Stack: captureStack(3)}
}

// Wrap puts err under a new category and message. The innermost stack is
// kept. Wrap(nil, ...) returns nil.
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}
	wrapped := &Error{Type: errType, Message: message, Cause: err}
	var inner *Error
	if errors.As(err, &inner) {
		wrapped.Stack = inner.Stack
	} else {
		wrapped.Stack = captureStack(3)
	}
	return wrapped
}

// Wrapf is Wrap with a formatted message.
func Wrapf(err error, errType ErrorType, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return Wrap(err, errType, fmt.Sprintf(format, args...))
}

// TypeOf returns the category of the outermost Typed error in err's chain,
// or ErrorTypeInternal when there is none.
func TypeOf(err error) ErrorType {
	var t Typed
	if errors.As(err, &t) {
		return t.ErrorType()
	}
	return ErrorTypeInternal
}

// IsType reports whether the outermost Typed error in err's chain has
// errType.
func IsType(err error, errType ErrorType) bool {
	var t Typed
	return errors.As(err, &t) && t.ErrorType() == errType
}

// IsRetryable reports whether the operation that failed may be retried as a
// whole. An expired iterator counts: the scan restarts from the first page.
func IsRetryable(err error) bool {
	switch TypeOf(err) {
	case ErrorTypeRateLimit, ErrorTypeConnection, ErrorTypeIterator:
		return true
	}
	return false
}

// Fields renders err as zap fields: the error itself, its category and any
// details, sorted by key.
func Fields(err error) []zap.Field {
	fields := []zap.Field{zap.Error(err)}
	var t Typed
	if !errors.As(err, &t) {
		return fields
	}
	fields = append(fields, zap.String("error_type", string(t.ErrorType())))

	var e *Error
	if !errors.As(err, &e) {
		return fields
	}

	keys := make([]string, 0, len(e.Details))
	for k := range e.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fields = append(fields, zap.Any(k, e.Details[k]))
	}
	return fields
}

// Is, As and Join re-export the standard library helpers.
var (
	Is   = errors.Is
	As   = errors.As
	Join = errors.Join
)

func captureStack(skip int) []StackFrame {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	stack := make([]StackFrame, 0, n)
	for {
		frame, more := frames.Next()
		stack = append(stack, StackFrame{Function: frame.Function, File: frame.File, Line: frame.Line})
		if !more {
			break
		}
	}
	return stack
}
