// Package models defines the data structures for caption events.
package models

// Event types attached to caption events as they flow through the fan-out
// and out to Kafka.
const (
	EventCaptionPartial = "caption.transcript.partial"
	EventCaptionFinal   = "caption.transcript.final"
	EventCaptionError   = "caption.transcript.error"
)

// CaptionEvent is one recognition hypothesis for a session. Events are
// immutable after publication; the fan-out assigns Sequence at publish time.
type CaptionEvent struct {
	EventType  string  `json:"eventType"`
	SessionID  string  `json:"sessionId"`
	Room       string  `json:"room"`
	Identity   string  `json:"identity"`
	Label      string  `json:"label,omitempty"` // display name for transcript lines

	Sequence   uint64  `json:"sequence"`
	Text       string  `json:"text"`
	IsFinal    bool    `json:"isFinal"`
	Confidence float64 `json:"confidence,omitempty"`
	Timestamp  int64   `json:"timestamp"` // ms since epoch, assigned at publish time
	Terminal   bool    `json:"terminal,omitempty"`
}

// IsError reports whether the event is an error event rather than a
// transcription hypothesis.
func (e CaptionEvent) IsError() bool {
	return e.EventType == EventCaptionError
}
