// Package stt defines the interface for streaming speech-to-text backends.
package stt

import (
	"context"
	"errors"
)

// ErrNotStarted is returned when audio is sent before Start.
var ErrNotStarted = errors.New("stt: stream not started")

// Callback receives recognition results from the backend.
type Callback interface {
	// OnPartial is called for each interim hypothesis of the current utterance.
	OnPartial(text string)

	// OnFinal is called exactly once per utterance with the committed text.
	OnFinal(text string, confidence float64)

	// OnError is called when the backend stream fails. No further callbacks
	// follow on this stream.
	OnError(err error)
}

// Adapter is one streaming recognition call to a backend. A relay opens a
// fresh adapter for each backend call, including proactive rotations.
type Adapter interface {
	// Start opens the stream and registers the callback.
	Start(ctx context.Context, cb Callback) error

	// SendAudio forwards raw PCM bytes to the backend.
	SendAudio(ctx context.Context, audio []byte) error

	// Close half-closes the audio direction; trailing results may still
	// arrive through the callback.
	Close() error
}

// Factory opens a new backend call. Relays hold a Factory rather than an
// Adapter so they can rotate long-lived streams.
type Factory func(ctx context.Context) (Adapter, error)
