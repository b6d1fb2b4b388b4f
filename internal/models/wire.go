package models

import "encoding/json"

// Message types carried on the transcription channel. Audio travels as
// binary websocket frames; transcription and error messages travel as JSON
// text frames.
const (
	MessageTranscription = "transcription"
	MessageError         = "error"
)

// ServerMessage is one inbound JSON message on the transcription channel,
// relay to client.
type ServerMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Sequence  uint64 `json:"sequence,omitempty"`
	Text      string `json:"text,omitempty"`
	IsFinal   bool   `json:"isFinal,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
	// Message carries a human-readable description on error messages.
	Message string `json:"message,omitempty"`
	// Terminal marks the last error message a session will ever deliver.
	Terminal bool `json:"terminal,omitempty"`
}

// Encode marshals the message for the websocket text frame.
func (m ServerMessage) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// FromCaptionEvent converts a fan-out event into its wire representation.
func FromCaptionEvent(ev CaptionEvent) ServerMessage {
	if ev.IsError() {
		return ServerMessage{
			Type:      MessageError,
			SessionID: ev.SessionID,
			Sequence:  ev.Sequence,
			Timestamp: ev.Timestamp,
			Message:   ev.Text,
			Terminal:  ev.Terminal,
		}
	}
	return ServerMessage{
		Type:      MessageTranscription,
		SessionID: ev.SessionID,
		Sequence:  ev.Sequence,
		Text:      ev.Text,
		IsFinal:   ev.IsFinal,
		Timestamp: ev.Timestamp,
	}
}
