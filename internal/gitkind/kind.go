// Package gitkind gives every error produced anywhere in gitcore one of a
// small closed set of kinds (spec §7), so callers can branch on "why" without
// caring which package raised the error.
package gitkind

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind is the closed set of error categories a gitcore operation can fail
// with.
type Kind int

const (
	// Unknown is never returned by gitcore itself; it is the zero value so
	// an Error built as a zero value rather than through New, Newf or Wrap
	// is visibly mis-constructed.
	Unknown Kind = iota
	NotFound
	Corrupt
	LockFailure
	ConflictingName
	Unmerged
	IoError
	ProtocolError
	Cancelled
	Unsupported
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not-found"
	case Corrupt:
		return "corrupt"
	case LockFailure:
		return "lock-failure"
	case ConflictingName:
		return "conflicting-name"
	case Unmerged:
		return "unmerged"
	case IoError:
		return "io-error"
	case ProtocolError:
		return "protocol-error"
	case Cancelled:
		return "cancelled"
	case Unsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// Error is a gitcore error tagged with a Kind and a wrapped cause.
type Error struct {
	kind  Kind
	cause error
}

// New builds a Kind-tagged error from a message, capturing a stack trace via
// github.com/pkg/errors the same way Nivl-git-go's errutil package does.
func New(k Kind, msg string) error {
	return &Error{kind: k, cause: errors.New(msg)}
}

// Newf is New with fmt.Sprintf formatting.
func Newf(k Kind, format string, args ...interface{}) error {
	return &Error{kind: k, cause: errors.New(fmt.Sprintf(format, args...))}
}

// Wrap tags an existing error with a Kind, preserving it as the cause so
// errors.Cause(err) / %+v still reach the original stack.
func Wrap(k Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{kind: k, cause: errors.Wrap(err, msg)}
}

func (e *Error) Error() string { return e.kind.String() + ": " + e.cause.Error() }
func (e *Error) Unwrap() error { return e.cause }
func (e *Error) Kind() Kind    { return e.kind }

// Is reports whether err (or any error it wraps) carries Kind k.
func Is(err error, k Kind) bool {
	var ge *Error
	for err != nil {
		if e, ok := err.(*Error); ok {
			ge = e
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return ge != nil && ge.kind == k
}

// Of returns the Kind of err, or Unknown if err was not produced through
// this package.
func Of(err error) Kind {
	var ge *Error
	for err != nil {
		if e, ok := err.(*Error); ok {
			ge = e
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if ge == nil {
		return Unknown
	}
	return ge.kind
}
