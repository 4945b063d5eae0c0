// Package errors wraps pkg/errors and includes some custom features such as
// error codes.
package errors

import (
	"fmt"

	"github.com/pkg/errors"
)

// Code is an error code which can be used to check against a given error. For
// example, see the Is() method.
type Code string

const (
	ErrUncoded Code = "Uncoded"

	// ErrConfig is a malformed object key, a missing or invalid
	// configuration value. Runs abort before touching the index.
	ErrConfig Code = "ConfigError"

	// ErrSchema is a header field missing from the index mapping, or a
	// record whose field count differs from the header.
	ErrSchema Code = "SchemaError"

	// ErrTransport is a failure talking to the search endpoint, including
	// a non-2xx answer to a request which must succeed.
	ErrTransport Code = "TransportError"

	// ErrPartialBulk marks a run in which the engine accepted every bulk
	// request but rejected some items. It is reported as the warning code
	// of the run's result, never returned as an error.
	ErrPartialBulk Code = "PartialBulkFailure"

	// ErrAlias is a failed alias lookup or rebind after a successful load.
	ErrAlias Code = "AliasError"

	// ErrSource is a failure reading the source object or its companion
	// configuration object.
	ErrSource Code = "SourceError"
)

func New(code Code, message string) error {
	return errors.WithStack(codedError{
		Code:    code,
		Message: message,
	})
}

// Newf is New with a formatted message.
func Newf(code Code, format string, args ...interface{}) error {
	return New(code, fmt.Sprintf(format, args...))
}

// WithCode attaches code to err, keeping err's message. A nil err stays nil.
func WithCode(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return errors.WithStack(codedError{
		Code:    code,
		Message: message + ": " + err.Error(),
		cause:   err,
	})
}

// Is is a fork of the Is() method from `pkg/errors` which takes as its target
// an error Code instead of an error.
func Is(err error, target Code) bool {
	match := codedError{
		Code: target,
	}
	return errors.Is(err, match)
}

// CodeOf returns the code of the first coded error in err's chain, or
// ErrUncoded.
func CodeOf(err error) Code {
	var ce codedError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ErrUncoded
}

func WithMessagef(err error, format string, args ...interface{}) error {
	return errors.WithMessagef(err, format, args...)
}

func Wrap(err error, message string) error {
	return errors.Wrap(err, message)
}

func Wrapf(err error, fmt string, args ...interface{}) error {
	return errors.Wrapf(err, fmt, args...)
}

// codedError is the fundamental type used by this package to provide coded
// errors.
type codedError struct {
	Code    Code
	Message string

	cause error
}

func (ce codedError) Error() string {
	return ce.Message
}

func (ce codedError) Is(err error) bool {
	if e, ok := err.(codedError); ok && ce.Code == e.Code {
		return true
	}
	return false
}

// Unwrap exposes the error given to WithCode, so errors.Is against
// sentinel values like context.Canceled keeps working.
func (ce codedError) Unwrap() error {
	return ce.cause
}

