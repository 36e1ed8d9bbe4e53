package btp

import (
	"errors"
	"fmt"
)

// ErrTimeout is returned when an outbound request's deadline elapses
// before a Response or Error frame with the matching request ID arrives.
var ErrTimeout = errors.New("btp: request timed out")

// ErrConnectionLost is returned for all pending requests on a connection
// whose underlying socket closes or errors.
var ErrConnectionLost = errors.New("btp: connection lost")

// ErrAuthRejected is returned when the server rejects a client's auth
// sub-protocol payload.
var ErrAuthRejected = errors.New("btp: auth rejected")

// ErrDuplicateRequest is returned when an inbound Message reuses a
// request ID that is still in flight on the same connection.
var ErrDuplicateRequest = errors.New("btp: duplicate in-flight request id")

// PeerError wraps an application-level error message returned by a peer
// in a Type-Error frame.
type PeerError struct {
	Message string
}

func (e *PeerError) Error() string {
	return fmt.Sprintf("btp: peer error: %s", e.Message)
}
