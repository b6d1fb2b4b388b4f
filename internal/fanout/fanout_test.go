package fanout

import (
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"conference-transcription-service/internal/models"
)

func captionEvent(sessionID, text string) models.CaptionEvent {
	return models.CaptionEvent{
		EventType: models.EventCaptionPartial,
		SessionID: sessionID,
		Text:      text,
	}
}

func TestPublish_AssignsMonotonicSequencePerSession(t *testing.T) {
	r := NewRegistry(zerolog.Nop())

	var mu sync.Mutex
	got := make(map[string][]uint64)
	r.Subscribe(func(ev models.CaptionEvent) {
		mu.Lock()
		got[ev.SessionID] = append(got[ev.SessionID], ev.Sequence)
		mu.Unlock()
	})

	for i := 0; i < 3; i++ {
		r.Publish(captionEvent("room:alice", "a"))
	}
	for i := 0; i < 2; i++ {
		r.Publish(captionEvent("room:bob", "b"))
	}

	mu.Lock()
	defer mu.Unlock()
	wantAlice := []uint64{1, 2, 3}
	for i, seq := range got["room:alice"] {
		if seq != wantAlice[i] {
			t.Errorf("alice seq[%d] = %d, want %d", i, seq, wantAlice[i])
		}
	}
	wantBob := []uint64{1, 2}
	for i, seq := range got["room:bob"] {
		if seq != wantBob[i] {
			t.Errorf("bob seq[%d] = %d, want %d", i, seq, wantBob[i])
		}
	}
}

func TestPublish_ReturnsStampedEvent(t *testing.T) {
	r := NewRegistry(zerolog.Nop())

	ev := r.Publish(captionEvent("s1", "hola"))
	if ev.Sequence != 1 {
		t.Errorf("first sequence = %d, want 1", ev.Sequence)
	}
	ev = r.Publish(captionEvent("s1", "hola a"))
	if ev.Sequence != 2 {
		t.Errorf("second sequence = %d, want 2", ev.Sequence)
	}
}

func TestSubscribe_LateSubscriberMissesEarlierEvents(t *testing.T) {
	r := NewRegistry(zerolog.Nop())

	r.Publish(captionEvent("s1", "before"))

	var mu sync.Mutex
	var seen []string
	r.Subscribe(func(ev models.CaptionEvent) {
		mu.Lock()
		seen = append(seen, ev.Text)
		mu.Unlock()
	})

	r.Publish(captionEvent("s1", "after"))

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 || seen[0] != "after" {
		t.Errorf("late subscriber saw %v, want only [after]", seen)
	}
}

func TestUnsubscribe_StopsDelivery(t *testing.T) {
	r := NewRegistry(zerolog.Nop())

	var mu sync.Mutex
	count := 0
	sub := r.Subscribe(func(models.CaptionEvent) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	r.Publish(captionEvent("s1", "one"))
	r.Unsubscribe(sub)
	r.Publish(captionEvent("s1", "two"))

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Errorf("delivery count = %d, want 1", count)
	}

	// Unknown subscriptions are ignored.
	r.Unsubscribe(Subscription{id: 999})
}

func TestPublish_PanickingSubscriberIsIsolated(t *testing.T) {
	r := NewRegistry(zerolog.Nop())

	r.Subscribe(func(models.CaptionEvent) {
		panic("subscriber bug")
	})

	var mu sync.Mutex
	var seen []string
	r.Subscribe(func(ev models.CaptionEvent) {
		mu.Lock()
		seen = append(seen, ev.Text)
		mu.Unlock()
	})

	r.Publish(captionEvent("s1", "still delivered"))
	r.Publish(captionEvent("s1", "and again"))

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 {
		t.Errorf("healthy subscriber saw %d events, want 2", len(seen))
	}
}

func TestEndSession_ResetsSequence(t *testing.T) {
	r := NewRegistry(zerolog.Nop())

	r.Publish(captionEvent("s1", "a"))
	r.Publish(captionEvent("s1", "b"))
	r.EndSession("s1")

	ev := r.Publish(captionEvent("s1", "fresh"))
	if ev.Sequence != 1 {
		t.Errorf("sequence after EndSession = %d, want 1", ev.Sequence)
	}
}

func TestPublish_ConcurrentSessionsKeepIndependentOrder(t *testing.T) {
	r := NewRegistry(zerolog.Nop())

	var mu sync.Mutex
	lastSeq := make(map[string]uint64)
	ordered := true
	r.Subscribe(func(ev models.CaptionEvent) {
		mu.Lock()
		if ev.Sequence != lastSeq[ev.SessionID]+1 {
			ordered = false
		}
		lastSeq[ev.SessionID] = ev.Sequence
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for _, id := range []string{"s1", "s2", "s3"} {
		wg.Add(1)
		go func(sessionID string) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				r.Publish(captionEvent(sessionID, "x"))
			}
		}(id)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if !ordered {
		t.Error("per-session sequences were not gapless and increasing")
	}
	for _, id := range []string{"s1", "s2", "s3"} {
		if lastSeq[id] != 50 {
			t.Errorf("session %s final sequence = %d, want 50", id, lastSeq[id])
		}
	}
}
