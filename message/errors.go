package message

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorKind classifies a failed call.
type ErrorKind string

const (
	// Recoverable per request: reported to the caller in an error response.
	KindMethodNotFound   ErrorKind = "MethodNotFound"
	KindBadParameters    ErrorKind = "BadParameters"
	KindInvocationFailed ErrorKind = "InvocationFailed"
	KindTypeMismatch     ErrorKind = "TypeMismatch"
	KindRateLimited      ErrorKind = "RateLimited"

	// Connection-fatal: the connection is closed, nothing is sent.
	KindHandshakeFailed ErrorKind = "HandshakeFailed"
	KindTransportError  ErrorKind = "TransportError"
)

// Fatal reports whether errors of this kind terminate the connection.
func (k ErrorKind) Fatal() bool {
	return k == KindHandshakeFailed || k == KindTransportError
}

// Error is both the wire shape of a response error and a Go error.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message,omitempty"`
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is matches any *Error of the same kind, so callers can test with
// errors.Is(err, &message.Error{Kind: message.KindMethodNotFound}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf returns the kind of err if it is an *Error, or "" otherwise.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
