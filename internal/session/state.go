// Package session implements the client side of the transcription channel:
// a persistent duplex websocket that carries audio frames outbound and
// caption events inbound, with a bounded send queue and reconnect handling.
package session

import (
	"errors"
	"fmt"
)

// State is the lifecycle state of a transport session.
type State int32

const (
	// StateIdle - no connection attempted yet.
	StateIdle State = iota
	// StateConnecting - websocket handshake in progress.
	StateConnecting
	// StateActive - bidirectional flow of frames and events.
	StateActive
	// StateDegraded - connection dropped while the session is still wanted;
	// outbound frames are buffered (drop-oldest) while reconnecting.
	StateDegraded
	// StateClosed - terminal; no further frames are accepted.
	StateClosed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnecting:
		return "CONNECTING"
	case StateActive:
		return "ACTIVE"
	case StateDegraded:
		return "DEGRADED"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// Errors returned by session operations.
var (
	ErrNotStarted     = errors.New("session not started")
	ErrSessionClosed  = errors.New("session is closed")
	ErrAlreadyStarted = errors.New("session already started")
)
