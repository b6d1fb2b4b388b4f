// Package transcript persists per-room transcripts as JSON files. Each room
// gets one document holding its transcript lines in arrival order; final
// caption events append through a fan-out subscriber.
package transcript

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"conference-transcription-service/internal/fanout"
	"conference-transcription-service/internal/models"
)

// Document is the on-disk shape of one room's transcript.
type Document struct {
	Room        string   `json:"room"`
	Transcripts []string `json:"transcripts"`
}

// Line is one parsed transcript line.
type Line struct {
	Label   string
	Message string
}

// ErrNotFound is returned when a room has no stored transcript.
var ErrNotFound = errors.New("transcript not found")

// lineRe extracts the speaker label and message from a formatted line.
var lineRe = regexp.MustCompile(`\[(.*?)\s-\s\d+\]:\s(.*)`)

// FormatLine renders one transcript line: "[<label> - <timestampMs>]: <message>".
func FormatLine(label string, timestampMs int64, message string) string {
	return fmt.Sprintf("[%s - %d]: %s", label, timestampMs, message)
}

// ParseLine splits a formatted line into label and message. The bool is false
// for lines that do not match the format.
func ParseLine(line string) (Line, bool) {
	m := lineRe.FindStringSubmatch(line)
	if m == nil {
		return Line{}, false
	}
	return Line{Label: m[1], Message: m[2]}, true
}

// Store is a file-backed transcript store, one JSON document per room.
// Safe for concurrent use.
type Store struct {
	dir string
	log zerolog.Logger
	mu  sync.Mutex
}

// NewStore creates the store, making the directory if needed.
func NewStore(dir string, log zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create transcripts dir: %w", err)
	}
	return &Store{dir: dir, log: log}, nil
}

// Append adds one formatted line to the room's transcript, creating the
// document on first write.
func (s *Store) Append(room, line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.loadLocked(room)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		doc = Document{Room: room}
	}
	doc.Transcripts = append(doc.Transcripts, line)
	return s.saveLocked(doc)
}

// Save replaces the room's transcript wholesale.
func (s *Store) Save(doc Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(doc)
}

// Load returns the room's transcript, or ErrNotFound.
func (s *Store) Load(room string) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(room)
}

// Conversation joins the room's transcript lines for prompt building.
func (s *Store) Conversation(room string) (string, error) {
	doc, err := s.Load(room)
	if err != nil {
		return "", err
	}
	return strings.Join(doc.Transcripts, "\n"), nil
}

// Subscriber returns a fan-out handler that appends final captions to their
// room's transcript. Partials and error events are ignored.
func (s *Store) Subscriber() fanout.Subscriber {
	return func(ev models.CaptionEvent) {
		if !ev.IsFinal || ev.IsError() {
			return
		}
		label := ev.Label
		if label == "" {
			label = ev.Identity
		}
		line := FormatLine(label, ev.Timestamp, ev.Text)
		if err := s.Append(ev.Room, line); err != nil {
			s.log.Error().Err(err).Str("room", ev.Room).Msg("transcript append failed")
		}
	}
}

func (s *Store) path(room string) string {
	// Room names come from URLs; keep them out of parent directories.
	name := filepath.Base(room) + ".json"
	return filepath.Join(s.dir, name)
}

func (s *Store) loadLocked(room string) (Document, error) {
	data, err := os.ReadFile(s.path(room))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Document{}, ErrNotFound
		}
		return Document{}, fmt.Errorf("read transcript: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("decode transcript: %w", err)
	}
	return doc, nil
}

func (s *Store) saveLocked(doc Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}
	if err := os.WriteFile(s.path(doc.Room), data, 0o644); err != nil {
		return fmt.Errorf("write transcript: %w", err)
	}
	return nil
}
