package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"conference-transcription-service/internal/frame"
	"conference-transcription-service/internal/models"
)

// fakeConn is a scriptable connection: reads are fed through a channel and
// writes are recorded.
type fakeConn struct {
	mu     sync.Mutex
	writes []fakeWrite
	reads  chan fakeRead
	closed bool
}

type fakeWrite struct {
	messageType int
	data        []byte
}

type fakeRead struct {
	messageType int
	data        []byte
	err         error
}

func newFakeConn() *fakeConn {
	return &fakeConn{reads: make(chan fakeRead, 16)}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("write on closed conn")
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	c.writes = append(c.writes, fakeWrite{messageType: messageType, data: cp})
	return nil
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	r, ok := <-c.reads
	if !ok {
		return 0, nil, errors.New("conn closed")
	}
	return r.messageType, r.data, r.err
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.reads)
	}
	return nil
}

func (c *fakeConn) writeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.writes)
}

func (c *fakeConn) writeAt(i int) fakeWrite {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes[i]
}

func testConfig() Config {
	return Config{
		QueueCapacity:        4,
		ReconnectMaxAttempts: 3,
		ReconnectBackoff:     time.Millisecond,
		ReconnectMaxBackoff:  5 * time.Millisecond,
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func pcmFrame(seq uint64) frame.Frame {
	return frame.Frame{Seq: seq, SampleRate: 16000, PCM: []byte{byte(seq), 0}}
}

func TestSendDropsOldestAtCapacity(t *testing.T) {
	s := New(testConfig(), nil, nil, zerolog.Nop())
	// Mark active without running the I/O loops so the queue is observable.
	s.state = StateActive

	for i := 0; i < 7; i++ {
		if err := s.Send(pcmFrame(uint64(i))); err != nil {
			t.Fatalf("Send(%d): %v", i, err)
		}
	}

	if got := s.Dropped(); got != 3 {
		t.Errorf("dropped = %d, want 3", got)
	}
	if got := s.QueueLen(); got != 4 {
		t.Errorf("queue length = %d, want 4", got)
	}
	// The survivors are the newest frames, still in order.
	for i, f := range s.queue {
		if want := uint64(i + 3); f.Seq != want {
			t.Errorf("queue[%d].Seq = %d, want %d", i, f.Seq, want)
		}
	}
}

func TestSendStateErrors(t *testing.T) {
	s := New(testConfig(), nil, nil, zerolog.Nop())
	if err := s.Send(pcmFrame(0)); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Send while idle = %v, want ErrNotStarted", err)
	}

	s.state = StateClosed
	if err := s.Send(pcmFrame(0)); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Send while closed = %v, want ErrSessionClosed", err)
	}
}

func TestStartReconnectBudgetExhausted(t *testing.T) {
	var attempts int
	dialErr := errors.New("refused")
	dial := func(ctx context.Context) (Conn, error) {
		attempts++
		return nil, dialErr
	}

	var mu sync.Mutex
	var events []models.ServerMessage
	onEvent := func(msg models.ServerMessage) {
		mu.Lock()
		events = append(events, msg)
		mu.Unlock()
	}

	s := New(testConfig(), dial, onEvent, zerolog.Nop())
	err := s.Start(context.Background())
	if err == nil {
		t.Fatal("Start succeeded, want error")
	}
	if !errors.Is(err, dialErr) {
		t.Errorf("Start error = %v, want wrapped %v", err, dialErr)
	}
	if attempts != 3 {
		t.Errorf("dial attempts = %d, want 3", attempts)
	}
	if got := s.State(); got != StateClosed {
		t.Errorf("state = %v, want CLOSED", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 1 {
		t.Fatalf("events = %d, want exactly one terminal error", len(events))
	}
	if events[0].Type != models.MessageError || !events[0].Terminal {
		t.Errorf("event = %+v, want terminal error", events[0])
	}
}

func TestWriteLoopSendsFramesInOrder(t *testing.T) {
	conn := newFakeConn()
	dial := func(ctx context.Context) (Conn, error) { return conn, nil }

	s := New(testConfig(), dial, nil, zerolog.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Close()

	for i := 0; i < 3; i++ {
		if err := s.Send(pcmFrame(uint64(i))); err != nil {
			t.Fatalf("Send(%d): %v", i, err)
		}
	}

	waitFor(t, func() bool { return conn.writeCount() >= 3 }, "frames on the wire")
	for i := 0; i < 3; i++ {
		w := conn.writeAt(i)
		if w.messageType != websocket.BinaryMessage {
			t.Errorf("write[%d] type = %d, want binary", i, w.messageType)
		}
		if w.data[0] != byte(i) {
			t.Errorf("write[%d] payload = %v, want frame %d first", i, w.data, i)
		}
	}
}

func TestReadLoopDeliversEvents(t *testing.T) {
	conn := newFakeConn()
	dial := func(ctx context.Context) (Conn, error) { return conn, nil }

	got := make(chan models.ServerMessage, 4)
	onEvent := func(msg models.ServerMessage) { got <- msg }

	s := New(testConfig(), dial, onEvent, zerolog.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Close()

	msg := models.ServerMessage{
		Type:     models.MessageTranscription,
		Sequence: 7,
		Text:     "hola a todos",
		IsFinal:  true,
	}
	data, _ := json.Marshal(msg)
	conn.reads <- fakeRead{messageType: websocket.TextMessage, data: data}
	// Binary and malformed payloads are skipped without killing the loop.
	conn.reads <- fakeRead{messageType: websocket.BinaryMessage, data: []byte{1, 2}}
	conn.reads <- fakeRead{messageType: websocket.TextMessage, data: []byte("{not json")}

	select {
	case ev := <-got:
		if ev.Text != msg.Text || ev.Sequence != 7 || !ev.IsFinal {
			t.Errorf("event = %+v, want %+v", ev, msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
	}
}

func TestDegradedReconnectsAndResumes(t *testing.T) {
	connA := newFakeConn()
	connB := newFakeConn()
	var dials int
	dial := func(ctx context.Context) (Conn, error) {
		dials++
		switch dials {
		case 1:
			return connA, nil
		case 2:
			return nil, errors.New("transient")
		default:
			return connB, nil
		}
	}

	s := New(testConfig(), dial, nil, zerolog.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Close()

	// Kill the first connection from the read side.
	connA.reads <- fakeRead{err: errors.New("connection reset")}

	waitFor(t, func() bool { return s.State() == StateActive && dials >= 3 }, "reconnect")

	// Frames sent after recovery land on the replacement connection.
	if err := s.Send(pcmFrame(42)); err != nil {
		t.Fatalf("Send after reconnect: %v", err)
	}
	waitFor(t, func() bool { return connB.writeCount() >= 1 }, "frame on new conn")
	if w := connB.writeAt(0); w.data[0] != 42 {
		t.Errorf("payload on new conn = %v, want frame 42", w.data)
	}
}

func TestDegradedBuffersThenTerminates(t *testing.T) {
	connA := newFakeConn()
	var dials int
	dial := func(ctx context.Context) (Conn, error) {
		dials++
		if dials == 1 {
			return connA, nil
		}
		return nil, errors.New("refused")
	}

	got := make(chan models.ServerMessage, 4)
	s := New(testConfig(), dial, func(msg models.ServerMessage) { got <- msg }, zerolog.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	connA.reads <- fakeRead{err: errors.New("connection reset")}

	// Reconnect budget: 3 attempts after the initial dial.
	waitFor(t, func() bool { return s.State() == StateClosed }, "terminal close")
	if dials != 4 {
		t.Errorf("dial calls = %d, want 4 (1 initial + 3 redials)", dials)
	}

	select {
	case ev := <-got:
		if !ev.Terminal || ev.Type != models.MessageError {
			t.Errorf("event = %+v, want terminal error", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no terminal error event")
	}
	select {
	case ev := <-got:
		t.Fatalf("unexpected second event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFinishFlushesAndSendsClose(t *testing.T) {
	conn := newFakeConn()
	dial := func(ctx context.Context) (Conn, error) { return conn, nil }

	s := New(testConfig(), dial, nil, zerolog.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Close()

	if err := s.Send(pcmFrame(1)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	s.Finish()

	waitFor(t, func() bool {
		n := conn.writeCount()
		return n >= 2 && conn.writeAt(n-1).messageType == websocket.CloseMessage
	}, "close frame after flush")
}

func TestCloseIdempotent(t *testing.T) {
	conn := newFakeConn()
	dial := func(ctx context.Context) (Conn, error) { return conn, nil }

	s := New(testConfig(), dial, nil, zerolog.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if got := s.State(); got != StateClosed {
		t.Errorf("state = %v, want CLOSED", got)
	}
	if err := s.Start(context.Background()); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Start after Close = %v, want ErrSessionClosed", err)
	}
}

func TestStateString(t *testing.T) {
	cases := []struct {
		state State
		want  string
	}{
		{StateIdle, "IDLE"},
		{StateConnecting, "CONNECTING"},
		{StateActive, "ACTIVE"},
		{StateDegraded, "DEGRADED"},
		{StateClosed, "CLOSED"},
		{State(99), "UNKNOWN(99)"},
	}
	for _, c := range cases {
		if got := c.state.String(); got != c.want {
			t.Errorf("State(%d).String() = %q, want %q", c.state, got, c.want)
		}
	}
}
