// Package fault classifies the failures that cross component boundaries.
// Every Error carries a user-facing Message that is kept separate from the
// wrapped internal cause, so that what is shown to a user never leaks
// diagnostic detail.
package fault

import (
	"errors"
	"fmt"
)

// Kind enumerates the error classes surfaced by the runner and editor.
type Kind int

const (
	// Unknown is returned by KindOf for errors that were never classified.
	Unknown Kind = iota
	// NotFound means a snippet, library or id could not be resolved. It is
	// surfaced to the user and never retried.
	NotFound
	// Malformed means library text, a function annotation or a snippet body
	// could not be parsed. Callers degrade to a partial result.
	Malformed
	// OriginMismatch means a message arrived from an unexpected origin. It is
	// dropped silently.
	OriginMismatch
	// TransportFailure means the underlying send primitive failed. It is
	// logged and swallowed.
	TransportFailure
	// StaleConflict means the tracked snippet changed remotely. It becomes a
	// user prompt, not an exception.
	StaleConflict
)

var kindNames = map[Kind]string{
	Unknown:          "unknown",
	NotFound:         "not_found",
	Malformed:        "malformed",
	OriginMismatch:   "origin_mismatch",
	TransportFailure: "transport_failure",
	StaleConflict:    "stale_conflict",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is a classified failure.
type Error struct {
	Kind Kind
	// Message is safe to show to a user.
	Message string
	// Err is the internal cause, if any.
	Err error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New returns a classified error with no internal cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf is New with fmt.Sprintf formatting of the user message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err and attaches a user-facing message.
func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf reports the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Unknown
}

// Is reports whether err's chain contains an *Error of the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// UserMessage returns the user-facing message of err, or fallback when err
// was never classified.
func UserMessage(err error, fallback string) string {
	var fe *Error
	if errors.As(err, &fe) && fe.Message != "" {
		return fe.Message
	}
	return fallback
}
