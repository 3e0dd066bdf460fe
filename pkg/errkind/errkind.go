// Package errkind classifies errors into the small set of kinds callers
// branch on: bad input, I/O, timeouts, protocol violations, config
// validation, and lifecycle misuse.
package errkind

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

type Kind int

const (
	Unknown Kind = iota
	InvalidArgument
	Io
	Timeout
	Protocol
	Validation
	State
)

func (k Kind) String() string {
	switch k {
	case InvalidArgument:
		return "invalid argument"
	case Io:
		return "io"
	case Timeout:
		return "timeout"
	case Protocol:
		return "protocol"
	case Validation:
		return "validation"
	case State:
		return "state"
	default:
		return "unknown"
	}
}

type kindError struct {
	kind Kind
	err  error
}

func (e *kindError) Error() string { return e.err.Error() }
func (e *kindError) Unwrap() error { return e.err }

// New returns a new error of the given kind.
func New(kind Kind, msg string) error {
	return &kindError{kind: kind, err: pkgerrors.New(msg)}
}

// Newf returns a new formatted error of the given kind.
func Newf(kind Kind, format string, args ...any) error {
	return &kindError{kind: kind, err: pkgerrors.Errorf(format, args...)}
}

// Wrap annotates err with a message and tags it with kind. A nil err
// returns nil.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, err: pkgerrors.Wrap(err, msg)}
}

// Wrapf annotates err with a formatted message and tags it with kind.
func Wrapf(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, err: pkgerrors.Wrapf(err, format, args...)}
}

// KindOf returns the kind of err, walking the wrap chain. Errors that
// were never tagged report Unknown.
func KindOf(err error) Kind {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return Unknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

var _ fmt.Stringer = Unknown
