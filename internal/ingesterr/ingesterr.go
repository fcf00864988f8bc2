// Package ingesterr classifies pipeline failures into the fixed taxonomy the
// rest of the system branches on: whether to retry, open a breaker, route to
// the dead-letter log, or exit the process.
package ingesterr

import (
	"errors"
	"fmt"
)

// Kind is one of the fixed error categories the pipeline reacts to.
type Kind string

const (
	// TransportUnavailable covers log-store/state-store connectivity failures.
	TransportUnavailable Kind = "transport_unavailable"
	// AuthSetupRequired means no refresh token/persisted credential exists.
	AuthSetupRequired Kind = "auth_setup_required"
	// TokenRefreshFailed means an OAuth2 refresh attempt failed.
	TokenRefreshFailed Kind = "token_refresh_failed"
	// ImapTransport covers reconnect-worthy IMAP network failures.
	ImapTransport Kind = "imap_transport"
	// ImapAuth covers IMAP-level authentication rejection.
	ImapAuth Kind = "imap_auth"
	// ImapProtocol covers malformed or unexpected IMAP responses.
	ImapProtocol Kind = "imap_protocol"
	// CircuitOpen is returned by a breaker-guarded call while Open.
	CircuitOpen Kind = "circuit_open"
	// InvariantViolation marks a record that is structurally unprocessable.
	InvariantViolation Kind = "invariant_violation"
	// ProcessingTransient marks a handler failure eligible for backoff retry.
	ProcessingTransient Kind = "processing_transient"
	// ExcessiveRedelivery marks an entry that exceeded max delivery attempts.
	ExcessiveRedelivery Kind = "excessive_redelivery"
	// Shutdown is not a failure — it signals orderly termination.
	Shutdown Kind = "shutdown"
)

// Error wraps a Kind with a message and an optional underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error with no underlying cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error around an existing error, preserving it for errors.Is/As.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err is an *Error of the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, or "" if err is not a tagged *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Retryable reports whether a failure of this kind should be retried by the
// circuit breaker / backoff machinery rather than treated as terminal.
func (k Kind) Retryable() bool {
	switch k {
	case TransportUnavailable, ImapTransport, ProcessingTransient, CircuitOpen:
		return true
	default:
		return false
	}
}
