package errors

import (
	"errors"

	"github.com/kestrelnet/splittun/util"
)

// causeError prefixes a lower-level error with additional context:
// "<message>: <cause>".
type causeError struct {
	message string
	cause   error
}

func (e *causeError) Error() string {
	return e.message + ": " + e.cause.Error()
}

func (e *causeError) Unwrap() error {
	return e.cause
}

// extendedError appends context after a lower-level error: "<cause>: <message>".
type extendedError struct {
	message string
	cause   error
}

func (e *extendedError) Error() string {
	if e.cause == nil {
		return e.message
	}
	return e.cause.Error() + ": " + e.message
}

func (e *extendedError) Unwrap() error {
	return e.cause
}

func New(message ...any) error {
	return errors.New(util.ToString(message...))
}

func Cause(cause error, message ...any) error {
	if cause == nil {
		panic("cause on an nil error")
	}
	return &causeError{util.ToString(message...), cause}
}

func Extend(cause error, message ...any) error {
	if cause == nil {
		panic("extend on an nil error")
	}
	return &extendedError{util.ToString(message...), cause}
}
