package email

import (
	"errors"
	"fmt"
)

// Kind classifies a send failure. Callers branch on the kind rather than
// matching on message text.
type Kind int

const (
	// KindValidation: malformed send options, detected before any I/O.
	KindValidation Kind = iota
	// KindConnection: dial, TLS or read-timeout failure. Fatal to the
	// current attempt; never retried by the engine itself.
	KindConnection
	// KindProtocol: the server answered a command with an unexpected
	// status code. Raw carries the rejecting line.
	KindProtocol
	// KindAuth: the server rejected an authentication step.
	KindAuth
	// KindSerialization: attachment encoding or DKIM signer failure.
	KindSerialization
	// KindProvider: a REST backend reported a terminal API failure.
	KindProvider
)

// String returns the kind tag used in error text.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConnection:
		return "connection"
	case KindProtocol:
		return "protocol"
	case KindAuth:
		return "auth"
	case KindSerialization:
		return "serialization"
	case KindProvider:
		return "provider"
	default:
		return "unknown"
	}
}

// Reason refines KindConnection errors so callers can distinguish a
// timeout from a refused connection without string matching.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonRefused
	ReasonDNS
	ReasonTimeout
)

// String returns the reason tag used in error text.
func (r Reason) String() string {
	switch r {
	case ReasonRefused:
		return "refused"
	case ReasonDNS:
		return "dns"
	case ReasonTimeout:
		return "timeout"
	default:
		return ""
	}
}

// Error is the tagged failure returned by every backend. The original
// cause is preserved for inspection via Unwrap.
type Error struct {
	Kind      Kind
	Component string // originating component, e.g. "smtp", "ses"
	Message   string
	Raw       string // raw server line for protocol/auth failures
	Reason    Reason // set for KindConnection only
	Cause     error
}

// Error implements the error interface with a component-prefixed message.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s error: %s", e.Component, e.Kind, e.Message)
	if e.Raw != "" {
		msg += fmt.Sprintf(" (server said %q)", e.Raw)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the original cause, if any.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsKind reports whether err is (or wraps) an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// IsTimeout reports whether err is a connection error classified as a
// timeout.
func IsTimeout(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindConnection && e.Reason == ReasonTimeout
}
