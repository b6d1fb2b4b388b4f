package relay

import (
	"errors"
	"fmt"
	"sync"
)

// UtteranceState is the lifecycle state of the utterance currently being
// recognized on a relay session.
type UtteranceState int

const (
	// UtteranceOpen - partials may be emitted, one final is still pending.
	UtteranceOpen UtteranceState = iota
	// UtteranceFinalEmitted - the final was committed; further finals for
	// this utterance are rejected.
	UtteranceFinalEmitted
	// UtteranceDropped - abandoned after a backend error, no final was
	// emitted and none will be.
	UtteranceDropped
	// UtteranceClosed - session torn down.
	UtteranceClosed
)

// String returns the string representation of the state.
func (s UtteranceState) String() string {
	switch s {
	case UtteranceOpen:
		return "OPEN"
	case UtteranceFinalEmitted:
		return "FINAL_EMITTED"
	case UtteranceDropped:
		return "DROPPED"
	case UtteranceClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// Errors for invalid utterance transitions.
var (
	ErrUtteranceClosed     = errors.New("utterance lifecycle is closed")
	ErrFinalAlreadyEmitted = errors.New("final already emitted for this utterance")
)

// Lifecycle enforces finality monotonicity for one relay session: within an
// utterance partials may repeat, the final is committed at most once, and a
// partial arriving after a final opens the next utterance.
//
//	OPEN ──EmitFinal()──→ FINAL_EMITTED ──EmitPartial()──→ OPEN (next utterance)
type Lifecycle struct {
	mu         sync.Mutex
	state      UtteranceState
	utterances int
}

// NewLifecycle starts with the first utterance open.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{state: UtteranceOpen}
}

// State returns the current state.
func (l *Lifecycle) State() UtteranceState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Utterances returns the number of completed utterances.
func (l *Lifecycle) Utterances() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.utterances
}

// EmitPartial validates a partial emission. After a final it advances to the
// next utterance, so interleaved streams keep flowing.
func (l *Lifecycle) EmitPartial() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case UtteranceOpen:
		return nil
	case UtteranceFinalEmitted:
		l.state = UtteranceOpen
		return nil
	case UtteranceDropped:
		// A fresh backend call after a drop starts a new utterance.
		l.state = UtteranceOpen
		return nil
	default:
		return ErrUtteranceClosed
	}
}

// EmitFinal validates and records the utterance's single final.
func (l *Lifecycle) EmitFinal() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case UtteranceOpen:
		l.state = UtteranceFinalEmitted
		l.utterances++
		return nil
	case UtteranceFinalEmitted:
		return ErrFinalAlreadyEmitted
	case UtteranceDropped:
		return ErrUtteranceClosed
	default:
		return ErrUtteranceClosed
	}
}

// Drop abandons the in-flight utterance without a final. Returns false if the
// lifecycle is already closed.
func (l *Lifecycle) Drop() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == UtteranceClosed {
		return false
	}
	l.state = UtteranceDropped
	return true
}

// Close is terminal and idempotent.
func (l *Lifecycle) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = UtteranceClosed
}
