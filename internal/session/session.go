package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"conference-transcription-service/internal/frame"
	"conference-transcription-service/internal/models"
	"conference-transcription-service/internal/observability/metrics"
)

// Conn is the subset of a websocket connection the session uses. It is
// satisfied by *websocket.Conn.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

// DialFunc opens one duplex connection to the relay.
type DialFunc func(ctx context.Context) (Conn, error)

// EventHandler receives inbound caption and error messages while the session
// is Active, plus the single terminal error message if reconnects are
// exhausted.
type EventHandler func(msg models.ServerMessage)

// Config bounds a transport session.
type Config struct {
	URL                  string
	QueueCapacity        int
	ReconnectMaxAttempts int
	ReconnectBackoff     time.Duration
	ReconnectMaxBackoff  time.Duration
	DialTimeout          time.Duration
}

// Session is one participant's transcription stream over a persistent
// duplex channel. Outbound frames pass through a bounded drop-oldest queue
// so a slow transport can never stall the capture path.
type Session struct {
	cfg     Config
	dial    DialFunc
	onEvent EventHandler
	log     zerolog.Logger
	metrics *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	state        State
	conn         Conn
	connGen      int
	queue        []frame.Frame
	notify       chan struct{}
	dropped      uint64
	discarded    uint64 // inbound events discarded while not Active
	finishing    bool
	reconnecting bool
	terminalSent bool
	startedAt    time.Time
}

// New creates a session. If dial is nil the session dials cfg.URL with a
// gorilla websocket dialer.
func New(cfg Config, dial DialFunc, onEvent EventHandler, log zerolog.Logger) *Session {
	s := &Session{
		cfg:     cfg,
		dial:    dial,
		onEvent: onEvent,
		log:     log,
		metrics: metrics.DefaultMetrics,
		state:   StateIdle,
		notify:  make(chan struct{}, 1),
	}
	if s.dial == nil {
		s.dial = func(ctx context.Context) (Conn, error) {
			dialer := websocket.Dialer{HandshakeTimeout: cfg.DialTimeout}
			c, _, err := dialer.DialContext(ctx, cfg.URL, nil)
			if err != nil {
				return nil, err
			}
			return c, nil
		}
	}
	if onEvent == nil {
		s.onEvent = func(models.ServerMessage) {}
	}
	return s
}

// Start transitions Idle -> Connecting and performs the initial handshake,
// with the same bounded attempt budget used for later reconnects. On success
// the session is Active and its I/O loops are running.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateClosed:
		s.mu.Unlock()
		return ErrSessionClosed
	case StateIdle:
	default:
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.state = StateConnecting
	s.startedAt = time.Now()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.metrics.RecordSessionStart()

	conn, err := s.connect(s.ctx)
	if err != nil {
		s.terminate(err)
		return err
	}

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		conn.Close()
		return ErrSessionClosed
	}
	s.conn = conn
	s.connGen++
	gen := s.connGen
	s.state = StateActive
	s.mu.Unlock()

	go s.writeLoop(conn, gen)
	go s.readLoop(conn, gen)
	return nil
}

// Send enqueues one frame for transmission. It never blocks: when the queue
// is at capacity the oldest frame is dropped first and counted. Frames are
// accepted while Connecting, Active or Degraded.
func (s *Session) Send(f frame.Frame) error {
	s.mu.Lock()
	switch s.state {
	case StateIdle:
		s.mu.Unlock()
		return ErrNotStarted
	case StateClosed:
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if len(s.queue) >= s.cfg.QueueCapacity {
		drop := len(s.queue) - s.cfg.QueueCapacity + 1
		s.queue = s.queue[drop:]
		s.dropped += uint64(drop)
		for i := 0; i < drop; i++ {
			s.metrics.RecordFrameDropped("queue_overflow")
		}
	}
	s.queue = append(s.queue, f)
	s.mu.Unlock()

	s.wake()
	return nil
}

// Finish signals end-of-stream: the queue is drained, a close frame is sent,
// and the session stays open for trailing events until the relay closes.
func (s *Session) Finish() {
	s.mu.Lock()
	s.finishing = true
	s.mu.Unlock()
	s.wake()
}

// Close is idempotent. Pending buffers are discarded, in-flight sends are
// abandoned and the duplex channel is released.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	s.queue = nil
	conn := s.conn
	s.conn = nil
	cancel := s.cancel
	startedAt := s.startedAt
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
	if !startedAt.IsZero() {
		s.metrics.RecordSessionEnd(time.Since(startedAt).Seconds())
	}
	return nil
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Dropped returns the number of outbound frames dropped by the queue.
func (s *Session) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// QueueLen returns the number of frames currently buffered.
func (s *Session) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *Session) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Session) writeLoop(conn Conn, gen int) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.notify:
		}

		for {
			s.mu.Lock()
			if s.state != StateActive || s.connGen != gen {
				requeue := len(s.queue) > 0
				s.mu.Unlock()
				if requeue {
					// Hand the wake token to the writer of the current
					// connection so buffered frames are not stranded.
					s.wake()
				}
				return
			}
			if len(s.queue) == 0 {
				fin := s.finishing
				s.mu.Unlock()
				if fin {
					_ = conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
				break
			}
			f := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()

			if err := conn.WriteMessage(websocket.BinaryMessage, f.PCM); err != nil {
				s.degrade(gen, err)
				return
			}
		}
	}
}

func (s *Session) readLoop(conn Conn, gen int) {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			fin := s.finishing
			s.mu.Unlock()
			if fin {
				// Normal teardown after end-of-stream.
				s.Close()
				return
			}
			s.degrade(gen, err)
			return
		}
		if mt != websocket.TextMessage {
			continue
		}

		var msg models.ServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.log.Warn().Err(err).Msg("malformed message on transcription channel")
			continue
		}

		s.mu.Lock()
		active := s.state == StateActive && s.connGen == gen
		if !active {
			s.discarded++
		}
		s.mu.Unlock()

		if active {
			s.onEvent(msg)
		} else {
			s.metrics.RecordEventDropped("session_not_active")
		}
	}
}

// degrade transitions Active -> Degraded for the given connection generation
// and kicks off a single background reconnect.
func (s *Session) degrade(gen int, cause error) {
	s.mu.Lock()
	if s.state == StateClosed || s.connGen != gen {
		s.mu.Unlock()
		return
	}
	if s.state == StateDegraded {
		s.mu.Unlock()
		return
	}
	s.state = StateDegraded
	conn := s.conn
	s.conn = nil
	launch := !s.reconnecting
	if launch {
		s.reconnecting = true
	}
	s.mu.Unlock()

	s.log.Warn().Err(cause).Msg("transport degraded")
	if conn != nil {
		conn.Close()
	}
	if launch {
		go s.redial()
	}
}

func (s *Session) redial() {
	conn, err := s.connect(s.ctx)

	s.mu.Lock()
	s.reconnecting = false
	if s.state == StateClosed {
		s.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		s.mu.Unlock()
		s.terminate(err)
		return
	}
	s.conn = conn
	s.connGen++
	gen := s.connGen
	s.state = StateActive
	s.mu.Unlock()

	go s.writeLoop(conn, gen)
	go s.readLoop(conn, gen)
	s.wake()
}

// terminate closes the session after exhausted reconnects and delivers
// exactly one terminal error event.
func (s *Session) terminate(cause error) {
	s.mu.Lock()
	alreadyClosed := s.state == StateClosed
	sendTerminal := !s.terminalSent
	s.terminalSent = true
	s.mu.Unlock()

	if !alreadyClosed {
		s.metrics.ReconnectFailures.Inc()
		s.Close()
	}
	if sendTerminal {
		s.onEvent(models.ServerMessage{
			Type:      models.MessageError,
			Message:   cause.Error(),
			Terminal:  true,
			Timestamp: time.Now().UnixMilli(),
		})
	}
}
