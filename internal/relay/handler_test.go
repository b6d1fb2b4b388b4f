package relay

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"conference-transcription-service/internal/fanout"
	"conference-transcription-service/internal/models"
	"conference-transcription-service/internal/stt/mock"
)

func newTestServer(t *testing.T) (*httptest.Server, *fanout.Registry) {
	t.Helper()
	registry := fanout.NewRegistry(zerolog.Nop())
	cfg := testRelayConfig()
	cfg.DrainTimeout = 300 * time.Millisecond
	h := NewHandler(cfg, mock.Factory(), registry, zerolog.Nop())
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv, registry
}

func wsURL(srv *httptest.Server, query string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/?" + query
}

func TestHandler_RejectsMissingParams(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, query := range []string{"", "room=aula-1", "identity=alice"} {
		resp, err := http.Get(srv.URL + "/?" + query)
		if err != nil {
			t.Fatalf("GET: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("query %q status = %d, want 400", query, resp.StatusCode)
		}
	}
}

func TestHandler_StreamsCaptionsOverWebsocket(t *testing.T) {
	srv, _ := newTestServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "room=aula-1&identity=alice&label=Alice"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Push audio until the scripted utterance completes.
	chunk := make([]byte, 320)
	go func() {
		for i := 0; i < 10; i++ {
			if err := conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
				return
			}
			time.Sleep(30 * time.Millisecond)
		}
	}()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var partials int
	var final models.ServerMessage
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v (partials so far %d)", err, partials)
		}
		var msg models.ServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("decode %q: %v", data, err)
		}
		if msg.Type != models.MessageTranscription {
			t.Fatalf("unexpected message %+v", msg)
		}
		if msg.IsFinal {
			final = msg
			break
		}
		partials++
	}

	if partials == 0 {
		t.Error("no partials before the final")
	}
	if final.Text == "" || final.SessionID != "aula-1:alice" {
		t.Errorf("final = %+v", final)
	}
	if final.Sequence != uint64(partials)+1 {
		t.Errorf("final sequence = %d, want %d", final.Sequence, partials+1)
	}
}

func TestHandler_GracefulCloseEndsSession(t *testing.T) {
	srv, registry := newTestServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "room=aula-1&identity=bob"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	conn.WriteMessage(websocket.BinaryMessage, make([]byte, 320))
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()

	// The handler unsubscribes its writer once the drain completes.
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if registry.SubscriberCount() == 0 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Errorf("subscriber count = %d after close, want 0", registry.SubscriberCount())
}
