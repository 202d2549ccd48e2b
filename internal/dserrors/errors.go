// Package dserrors defines the error taxonomy shared by every node in the
// pipeline. Low-level clients wrap their failures with a Kind; the executor
// and spiders branch on Kind (via IsTransient) rather than on concrete error
// types.
package dserrors

import (
	"errors"
	"fmt"
)

// Kind classifies an error for retry/ack decisions.
type Kind string

const (
	KindConfig         Kind = "CONFIG"
	KindTransport      Kind = "TRANSPORT"
	KindProtocol       Kind = "PROTOCOL"
	KindNotFound       Kind = "NOT_FOUND"
	KindConflict       Kind = "CONFLICT"
	KindBadQuery       Kind = "BAD_QUERY"
	KindTimeout        Kind = "TIMEOUT"
	KindStatusMismatch Kind = "STATUS_MISMATCH"
	KindNoPageVariable Kind = "NO_PAGE_VARIABLE"
	KindUnknownSpider  Kind = "UNKNOWN_SPIDER"
	KindProxyAcquire   Kind = "PROXY_ACQUIRE"
	KindProxyConnect   Kind = "PROXY_CONNECT"
	KindHTTPTransport  Kind = "HTTP_TRANSPORT"
)

// Error carries a Kind alongside the wrapped cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		if e.Msg != "" {
			return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error with a message.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf creates a classified error with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a Kind to an existing error. Returns nil when err is nil.
func Wrap(kind Kind, msg string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the Kind from an error chain. Unclassified errors report
// KindProtocol — a malformed payload is the common unclassified case and is
// never worth a redelivery.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindProtocol
}

// Is reports whether the error chain carries the given Kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsTransient reports whether the error should be retried (nack+requeue at
// the executor, reconnect at the clients). Everything else is terminal for
// the message that caused it.
func IsTransient(err error) bool {
	switch KindOf(err) {
	case KindTransport, KindTimeout, KindHTTPTransport:
		return true
	default:
		return false
	}
}
