// Package errs defines the runtime's error taxonomy and the wrapping
// helpers used to attach the offending node/value name to an error as it
// propagates to the session caller.
package errs

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Kind is the opaque, stable-across-components error category.
type Kind uint8

const (
	// Unknown is returned by KindOf for errors not produced by this package.
	Unknown Kind = iota
	InvalidArgument
	OutOfMemory
	NotFound
	NotImplemented
	InvalidModel
	RuntimeError
	DeviceError
)

func (k Kind) String() string {
	switch k {
	case InvalidArgument:
		return "InvalidArgument"
	case OutOfMemory:
		return "OutOfMemory"
	case NotFound:
		return "NotFound"
	case NotImplemented:
		return "NotImplemented"
	case InvalidModel:
		return "InvalidModel"
	case RuntimeError:
		return "RuntimeError"
	case DeviceError:
		return "DeviceError"
	default:
		return "Unknown"
	}
}

// taggedError carries a Kind and a short free-form message naming the
// offending node or value.
type taggedError struct {
	kind Kind
	msg  string
	err  error // wrapped cause, may be nil
}

func (e *taggedError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.msg, e.err)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.msg)
}

func (e *taggedError) Unwrap() error { return e.err }

// New creates a new error of the given kind with a message naming the
// offending node, value, or configuration field.
func New(kind Kind, msg string) error {
	return pkgerrors.WithStack(&taggedError{kind: kind, msg: msg})
}

// Newf is New with fmt.Sprintf-style formatting.
func Newf(kind Kind, format string, args ...interface{}) error {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap attaches kind and a contextual message to an existing error, keeping
// it unwrappable via errors.Is/errors.As and preserving a stack trace.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return pkgerrors.WithStack(&taggedError{kind: kind, msg: msg, err: err})
}

// Wrapf is Wrap with fmt.Sprintf-style formatting.
func Wrapf(kind Kind, err error, format string, args ...interface{}) error {
	return Wrap(kind, err, fmt.Sprintf(format, args...))
}

// KindOf walks the error chain and returns the first Kind it finds, or
// Unknown if err was not produced by this package.
func KindOf(err error) Kind {
	var tagged *taggedError
	if errors.As(err, &tagged) {
		return tagged.kind
	}
	return Unknown
}

// Is reports whether err's Kind equals kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
