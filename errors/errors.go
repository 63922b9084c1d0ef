// Package errors provides the domain error type shared by the dispatch tools
// and the mapping from those errors to process exit codes.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a specific error type
type ErrorCode int

const (
	// ErrUnexpected covers every fault that has no dedicated code
	// (malformed configuration, failure to spawn a process, I/O errors).
	ErrUnexpected ErrorCode = iota
	ErrUsage
	ErrConfigNotFound
	ErrDeviceNotFound
	ErrActionNotFound
	ErrSubprocessFailed
	ErrInterrupted
)

// Process exit codes. Subprocess failures forward the child's own status.
const (
	ExitOK             = 0
	ExitFault          = 1
	ExitUsage          = 1
	ExitDeviceNotFound = 2
	ExitActionNotFound = 3
	ExitConfigNotFound = 4
	ExitInterrupted    = 130
)

var codeNames = map[ErrorCode]string{
	ErrUnexpected:       "unexpected fault",
	ErrUsage:            "usage",
	ErrConfigNotFound:   "config not found",
	ErrDeviceNotFound:   "device not found",
	ErrActionNotFound:   "action not found",
	ErrSubprocessFailed: "subprocess failed",
	ErrInterrupted:      "interrupted",
}

// String implements fmt.Stringer
func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// Error represents a domain-specific error with context
type Error struct {
	// Code identifies the error type
	Code ErrorCode

	// Message provides human-readable error details
	Message string

	// Op describes the operation that failed
	Op string

	// Status is the exit status of a failed subprocess
	Status int

	// Cause is the underlying error that triggered this one
	Cause error

	// Context holds additional error context
	Context map[string]interface{}
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := e.Message
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap implements the errors.Unwrap interface
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is implements the errors.Is interface
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Sentinels for errors.Is checks.
var (
	ConfigNotFound   = &Error{Code: ErrConfigNotFound}
	DeviceNotFound   = &Error{Code: ErrDeviceNotFound}
	ActionNotFound   = &Error{Code: ErrActionNotFound}
	SubprocessFailed = &Error{Code: ErrSubprocessFailed}
	Interrupted      = &Error{Code: ErrInterrupted}
	Usage            = &Error{Code: ErrUsage}
)

// New creates a new Error
func New(code ErrorCode, message string) error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new Error with a formatted message
func Newf(code ErrorCode, format string, args ...interface{}) error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps an error with additional context
func Wrap(err error, code ErrorCode, message string) error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Subprocess reports a command that completed with a non-zero status.
func Subprocess(command string, status int) error {
	return &Error{
		Code:    ErrSubprocessFailed,
		Message: fmt.Sprintf("exit status %d", status),
		Op:      command,
		Status:  status,
	}
}

// WithOp adds an operation name to the error
func WithOp(err error, op string) error {
	if err == nil {
		return nil
	}

	var e *Error
	if !errors.As(err, &e) {
		return &Error{
			Code:    ErrUnexpected,
			Message: err.Error(),
			Op:      op,
			Cause:   err,
		}
	}

	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Op:      op,
		Status:  e.Status,
		Cause:   e.Cause,
		Context: e.Context,
	}
}

// WithContext adds context to the error
func WithContext(err error, context map[string]interface{}) error {
	if err == nil {
		return nil
	}

	var e *Error
	if !errors.As(err, &e) {
		return &Error{
			Code:    ErrUnexpected,
			Message: err.Error(),
			Cause:   err,
			Context: context,
		}
	}

	// Merge contexts if error already has context
	newContext := make(map[string]interface{})
	for k, v := range e.Context {
		newContext[k] = v
	}
	for k, v := range context {
		newContext[k] = v
	}

	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Op:      e.Op,
		Status:  e.Status,
		Cause:   e.Cause,
		Context: newContext,
	}
}

// GetCode returns the error code from an error
func GetCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrUnexpected
}

// GetContext returns the error context
func GetContext(err error) map[string]interface{} {
	var e *Error
	if errors.As(err, &e) {
		return e.Context
	}
	return nil
}

// ExitCode maps an error returned by a dispatcher to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	var e *Error
	if !errors.As(err, &e) {
		return ExitFault
	}

	switch e.Code {
	case ErrUsage:
		return ExitUsage
	case ErrDeviceNotFound:
		return ExitDeviceNotFound
	case ErrActionNotFound:
		return ExitActionNotFound
	case ErrConfigNotFound:
		return ExitConfigNotFound
	case ErrInterrupted:
		return ExitInterrupted
	case ErrSubprocessFailed:
		if e.Status == 0 {
			return ExitFault
		}
		return e.Status
	default:
		return ExitFault
	}
}

// IsNotFound returns true for any of the lookup failures
func IsNotFound(err error) bool {
	switch GetCode(err) {
	case ErrConfigNotFound, ErrDeviceNotFound, ErrActionNotFound:
		return true
	}
	return false
}

// IsInterrupted returns true if the error is an interrupt
func IsInterrupted(err error) bool {
	return err != nil && GetCode(err) == ErrInterrupted
}
