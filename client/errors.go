package client

import (
	"errors"
	"fmt"
)

// ErrCircuitOpen is returned when the circuit breaker for a registry host is
// open and no request was attempted.
var ErrCircuitOpen = errors.New("circuit breaker open for registry host")

// Reason classifies a transport failure. The classification happens once, at
// the HTTP boundary, so callers never have to walk a chain of wrapped errors
// to decide how to react.
type Reason int

const (
	// ReasonOther covers failures that are neither connection-level nor a
	// protocol rejection. They are never retried.
	ReasonOther Reason = iota

	// ReasonConnectFailed marks a connection-level failure: dial errors,
	// DNS resolution failures, TLS setup failures.
	ReasonConnectFailed

	// ReasonProtocolRejected marks an HTTP/2 session terminated by the
	// server (a GOAWAY), the usual sign that it does not really speak the
	// protocol it advertised.
	ReasonProtocolRejected
)

func (r Reason) String() string {
	switch r {
	case ReasonConnectFailed:
		return "connect failed"
	case ReasonProtocolRejected:
		return "protocol rejected"
	default:
		return "transport error"
	}
}

// connectError tags a failure that happened while setting up a connection:
// dialing, name resolution, or the TLS handshake. classify maps it to
// ReasonConnectFailed.
type connectError struct {
	err error
}

func (e *connectError) Error() string {
	return "connection setup: " + e.err.Error()
}

func (e *connectError) Unwrap() error {
	return e.err
}

// TransportError represents a failed HTTP exchange with a registry.
type TransportError struct {
	URL    string
	Reason Reason
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Reason, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// AuthError reports a token that cannot be used to build a request. It is
// raised at request-construction time, before any network call.
type AuthError struct {
	Detail string
}

func (e *AuthError) Error() string {
	return "invalid registry token: " + e.Detail
}
