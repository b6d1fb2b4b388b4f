// Package fanout delivers caption events from recognition relays to an
// arbitrary set of subscribers: websocket writers, the transcript store,
// the Kafka publisher. Sequence numbers are assigned here, at publish time,
// so every subscriber observes the same per-session ordering.
package fanout

import (
	"sync"

	"github.com/rs/zerolog"

	"conference-transcription-service/internal/models"
	"conference-transcription-service/internal/observability/metrics"
)

// Subscriber receives every event published after it subscribes. Handlers
// run on the publisher's goroutine and must not block.
type Subscriber func(ev models.CaptionEvent)

// Subscription identifies a registered subscriber for removal.
type Subscription struct {
	id int
}

// Registry is a concurrency-safe event bus with per-session sequencing.
type Registry struct {
	log     zerolog.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	nextID int
	subs   map[int]Subscriber
	seqs   map[string]uint64
}

// NewRegistry creates an empty registry.
func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{
		log:     log,
		metrics: metrics.DefaultMetrics,
		subs:    make(map[int]Subscriber),
		seqs:    make(map[string]uint64),
	}
}

// Subscribe registers a handler. Events published before registration are
// never replayed.
func (r *Registry) Subscribe(sub Subscriber) Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := r.nextID
	r.subs[id] = sub
	return Subscription{id: id}
}

// Unsubscribe removes a handler. Removing an unknown subscription is a no-op.
func (r *Registry) Unsubscribe(s Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs, s.id)
}

// Publish stamps the event with the session's next sequence number and
// delivers it to every current subscriber. A panicking subscriber is logged
// and does not affect delivery to the others.
func (r *Registry) Publish(ev models.CaptionEvent) models.CaptionEvent {
	r.mu.Lock()
	r.seqs[ev.SessionID]++
	ev.Sequence = r.seqs[ev.SessionID]
	targets := make([]Subscriber, 0, len(r.subs))
	for _, sub := range r.subs {
		targets = append(targets, sub)
	}
	r.mu.Unlock()

	for _, sub := range targets {
		r.invoke(sub, ev)
	}

	if ev.IsError() {
		r.metrics.RecordErrorEvent()
	} else {
		r.metrics.RecordEvent(ev.IsFinal)
	}
	return ev
}

// EndSession forgets the session's sequence counter. A session id reused
// after this restarts at 1.
func (r *Registry) EndSession(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.seqs, sessionID)
}

// SubscriberCount reports the number of registered handlers.
func (r *Registry) SubscriberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

func (r *Registry) invoke(sub Subscriber, ev models.CaptionEvent) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error().
				Interface("panic", p).
				Str("sessionID", ev.SessionID).
				Uint64("sequence", ev.Sequence).
				Msg("subscriber panicked, event skipped for this subscriber")
		}
	}()
	sub(ev)
}
