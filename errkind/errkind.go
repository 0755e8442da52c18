// Package errkind classifies the errors the radio core can raise so that
// callers can branch on kind rather than string-matching messages.
package errkind

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind enumerates the error categories raised by the driver, modem, facade,
// beacon, and echo actors.
type Kind int

const (
	// Unknown is the zero value; never returned by the core itself.
	Unknown Kind = iota
	NotConnected
	AlreadyRunning
	InvalidChip
	IoError
	Timeout
	InvalidParam
	InvalidHex
	CrcError
	ResourceBusy
)

func (k Kind) String() string {
	switch k {
	case NotConnected:
		return "not_connected"
	case AlreadyRunning:
		return "already_running"
	case InvalidChip:
		return "invalid_chip"
	case IoError:
		return "io_error"
	case Timeout:
		return "timeout"
	case InvalidParam:
		return "invalid_param"
	case InvalidHex:
		return "invalid_hex"
	case CrcError:
		return "crc_error"
	case ResourceBusy:
		return "resource_busy"
	default:
		return "unknown"
	}
}

// Error carries a Kind alongside the failing operation and the underlying
// cause, so a caller can log the operation and switch on Kind without
// parsing the message.
type Error struct {
	kind Kind
	op   string
	err  error
}

// New builds an *Error for op with no further wrapped cause.
func New(kind Kind, op string, msg string) *Error {
	return &Error{kind: kind, op: op, err: errors.New(msg)}
}

// Wrap attaches kind and op to an existing error, preserving it as the cause.
func Wrap(kind Kind, op string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{kind: kind, op: op, err: errors.WithStack(err)}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.op, e.kind, e.err)
}

// Unwrap lets errors.Is / errors.As and errors.Cause reach the wrapped error.
func (e *Error) Unwrap() error { return e.err }

// Kind returns the error's category.
func (e *Error) Kind() Kind { return e.kind }

// Op returns the name of the failing operation.
func (e *Error) Op() string { return e.op }

// Is reports whether err is (or wraps) a *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.kind == kind
	}
	return false
}
