// Package clientconn implements the per-device client connection (C7): a
// framed demux loop, the Disconnected/Connecting/Connected/Streaming/Error
// state machine, heartbeat generation and liveness timeout, and a bounded
// fixed-delay reconnect policy.
package clientconn

import "fmt"

// State is one of the five client connection states in §4.7.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateStreaming
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateStreaming:
		return "streaming"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// transitionError reports an attempt to act on a connection in a state that
// doesn't permit it (e.g. RequestStream while Disconnected).
type transitionError struct {
	from State
	op   string
}

func (e *transitionError) Error() string {
	return fmt.Sprintf("clientconn: cannot %s from state %s", e.op, e.from)
}
