// Package mock provides a scripted STT adapter for running without cloud
// credentials. It emits progressive partial transcripts and exactly one final
// transcript per utterance.
package mock

import (
	"context"
	"sync"
	"time"

	"conference-transcription-service/internal/stt"
)

// SimulatedUtterance is one scripted utterance with progressive hypotheses.
type SimulatedUtterance struct {
	Partials   []string
	Final      string
	Confidence float64
}

// DefaultUtterances provides sample classroom speech for simulation.
var DefaultUtterances = []SimulatedUtterance{
	{
		Partials:   []string{"Buenos", "Buenos dias", "Buenos dias a"},
		Final:      "Buenos dias a todos.",
		Confidence: 0.95,
	},
	{
		Partials:   []string{"Hoy vamos", "Hoy vamos a hablar"},
		Final:      "Hoy vamos a hablar de la fotosintesis.",
		Confidence: 0.92,
	},
	{
		Partials:   []string{"Alguien tiene", "Alguien tiene una pregunta"},
		Final:      "Alguien tiene una pregunta sobre el tema?",
		Confidence: 0.89,
	},
	{
		Partials:   []string{"Muy bien", "Muy bien, continuamos"},
		Final:      "Muy bien, continuamos con el siguiente punto.",
		Confidence: 0.97,
	},
}

// Adapter implements stt.Adapter with scripted responses. One partial is
// emitted per audio chunk, then a single final once the script is exhausted.
type Adapter struct {
	delay time.Duration

	mu            sync.Mutex
	cb            stt.Callback
	utterance     SimulatedUtterance
	audioReceived int
	partialIndex  int
	finalSent     bool
	closed        bool
}

var (
	utteranceCounter int
	counterMu        sync.Mutex
)

// New creates a mock adapter. Successive adapters cycle through the default
// utterances.
func New() *Adapter {
	counterMu.Lock()
	idx := utteranceCounter % len(DefaultUtterances)
	utteranceCounter++
	counterMu.Unlock()

	return &Adapter{
		utterance: DefaultUtterances[idx],
		delay:     20 * time.Millisecond,
	}
}

// Factory returns an stt.Factory producing fresh mock adapters.
func Factory() stt.Factory {
	return func(ctx context.Context) (stt.Adapter, error) {
		return New(), nil
	}
}

// Start registers the callback.
func (a *Adapter) Start(ctx context.Context, cb stt.Callback) error {
	a.mu.Lock()
	a.cb = cb
	a.mu.Unlock()
	return nil
}

// SendAudio consumes one audio chunk and schedules the next scripted result.
func (a *Adapter) SendAudio(ctx context.Context, audio []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed || a.cb == nil {
		return nil
	}
	a.audioReceived++

	if a.partialIndex < len(a.utterance.Partials) {
		partial := a.utterance.Partials[a.partialIndex]
		a.partialIndex++
		go a.deliverPartial(partial)
		return nil
	}

	if !a.finalSent {
		a.finalSent = true
		go a.deliverFinal()
	}
	return nil
}

// Close ends the session. If the script's final was not yet reached it is
// delivered now, mirroring a backend flushing on half-close.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true

	if !a.finalSent && a.cb != nil {
		a.finalSent = true
		go a.deliverFinal()
	}
	return nil
}

func (a *Adapter) deliverPartial(text string) {
	time.Sleep(a.delay)
	a.mu.Lock()
	cb := a.cb
	closed := a.closed
	a.mu.Unlock()
	if !closed && cb != nil {
		cb.OnPartial(text)
	}
}

func (a *Adapter) deliverFinal() {
	time.Sleep(a.delay)
	a.mu.Lock()
	cb := a.cb
	utt := a.utterance
	a.mu.Unlock()
	if cb != nil {
		cb.OnFinal(utt.Final, utt.Confidence)
	}
}
