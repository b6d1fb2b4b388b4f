// Package frame captures live audio into fixed-size PCM frames.
package frame

import "context"

// Frame is one time-ordered chunk of single-channel 16-bit linear PCM audio.
// A session's frames are produced and transmitted in increasing Seq order.
type Frame struct {
	Seq        uint64
	SampleRate int
	// PCM holds little-endian 16-bit signed samples.
	PCM []byte
}

// Source yields successive windows of single-channel float samples in
// [-1.0, 1.0]. Next returns io.EOF when the source is exhausted; any other
// error means the source became unavailable mid-capture.
type Source interface {
	Next(ctx context.Context) ([]float32, error)
}

// Sink receives frames from a Producer. Send must not block indefinitely;
// Finish signals end-of-stream after the last frame.
type Sink interface {
	Send(f Frame) error
	Finish()
}
