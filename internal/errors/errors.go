package errors

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-readable error type mapped to process exit codes.
type Code int

const (
	CodeSuccess        Code = 0
	CodeInternal       Code = 1
	CodeUsage          Code = 2
	CodeConfig         Code = 3
	CodeUnavailable    Code = 12
	CodeReverted       Code = 20
	CodeNoRoute        Code = 21
	CodeNoWallet       Code = 22
	CodeSecretRequired Code = 23
	CodeExecuteFailed  Code = 24
)

// Error is a typed engine error that carries a stable error code.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code Code) bool {
	if typed, ok := As(err); ok {
		return typed.Code == code
	}
	return false
}

func ExitCode(err error) int {
	if err == nil {
		return int(CodeSuccess)
	}
	if typed, ok := As(err); ok {
		return int(typed.Code)
	}
	return int(CodeInternal)
}
