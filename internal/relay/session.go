// Package relay bridges participant websocket connections to the streaming
// speech backend. Each connection gets one relay session that forwards audio
// in arrival order, republishes recognition results through the fan-out
// registry, and manages backend call lifetime (proactive rotation and
// bounded reopen on failure).
package relay

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"conference-transcription-service/internal/fanout"
	"conference-transcription-service/internal/models"
	"conference-transcription-service/internal/observability/metrics"
	"conference-transcription-service/internal/stt"
)

// Config bounds backend call lifetime and recovery.
type Config struct {
	// MaxStreamDuration is the proactive rotation point. Streaming calls are
	// replaced shortly before the backend would forcibly end them.
	MaxStreamDuration time.Duration
	// ReopenMaxAttempts bounds consecutive reopen attempts after a backend
	// failure before the session is closed.
	ReopenMaxAttempts int
	// ReopenBackoff is the initial delay between reopen attempts; it doubles
	// per failure.
	ReopenBackoff time.Duration
	// DrainTimeout is how long a graceful shutdown waits for trailing finals
	// after half-closing the backend call.
	DrainTimeout time.Duration
	// EventQueueCapacity bounds the per-connection outbound event queue.
	EventQueueCapacity int
}

// DefaultConfig returns conservative production settings.
func DefaultConfig() Config {
	return Config{
		MaxStreamDuration:  4 * time.Minute,
		ReopenMaxAttempts:  3,
		ReopenBackoff:      500 * time.Millisecond,
		DrainTimeout:       time.Second,
		EventQueueCapacity: 64,
	}
}

var errRelayClosed = errors.New("relay session is closed")

// Session is one participant's recognition pipeline. Audio arrives through
// ProcessAudio, results leave through the fan-out registry.
type Session struct {
	id       string
	room     string
	identity string
	label    string

	cfg      Config
	factory  stt.Factory
	registry *fanout.Registry
	log      zerolog.Logger
	metrics  *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	lifecycle *Lifecycle

	mu            sync.Mutex
	adapter       stt.Adapter
	adapterGen    int
	rotateTimer   *time.Timer
	reopening     bool
	finishing     bool
	closed        bool
	droppedFrames uint64
	terminalSent  bool
}

// NewSession builds a relay session for one participant. The session id is
// room:identity, the key used for fan-out sequencing.
func NewSession(cfg Config, room, identity, label string, factory stt.Factory, registry *fanout.Registry, log zerolog.Logger) *Session {
	id := room + ":" + identity
	return &Session{
		id:        id,
		room:      room,
		identity:  identity,
		label:     label,
		cfg:       cfg,
		factory:   factory,
		registry:  registry,
		log:       log.With().Str("sessionID", id).Logger(),
		metrics:   metrics.DefaultMetrics,
		lifecycle: NewLifecycle(),
	}
}

// ID returns the session identifier (room:identity).
func (s *Session) ID() string { return s.id }

// Start opens the first backend call.
func (s *Session) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	adapter, err := s.openAdapter(s.ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.installAdapterLocked(adapter)
	s.mu.Unlock()
	return nil
}

// ProcessAudio forwards one audio chunk to the backend in arrival order.
// During a backend gap (reopen in progress) the chunk is dropped and counted,
// never buffered for replay.
func (s *Session) ProcessAudio(ctx context.Context, pcm []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errRelayClosed
	}
	adapter := s.adapter
	gen := s.adapterGen
	if adapter == nil {
		s.droppedFrames++
		s.mu.Unlock()
		s.metrics.RecordFrameDropped("backend_gap")
		return nil
	}
	s.mu.Unlock()

	s.metrics.RecordFrame(len(pcm))
	if err := adapter.SendAudio(ctx, pcm); err != nil {
		s.backendFailed(gen, err)
		return nil
	}
	return nil
}

// DroppedFrames reports audio chunks discarded during backend gaps.
func (s *Session) DroppedFrames() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.droppedFrames
}

// Finish half-closes the backend call so pending finals flush, then waits up
// to the drain timeout before tearing the session down.
func (s *Session) Finish() {
	s.mu.Lock()
	if s.closed || s.finishing {
		s.mu.Unlock()
		return
	}
	s.finishing = true
	adapter := s.adapter
	s.mu.Unlock()

	if adapter != nil {
		if err := adapter.Close(); err != nil {
			s.log.Warn().Err(err).Msg("backend half-close failed")
		}
	}

	select {
	case <-time.After(s.cfg.DrainTimeout):
	case <-s.ctx.Done():
	}
	s.Close()
}

// Close tears the session down. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	adapter := s.adapter
	s.adapter = nil
	if s.rotateTimer != nil {
		s.rotateTimer.Stop()
		s.rotateTimer = nil
	}
	s.mu.Unlock()

	s.lifecycle.Close()
	if adapter != nil {
		adapter.Close()
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.registry.EndSession(s.id)
	s.log.Info().Int("utterances", s.lifecycle.Utterances()).Msg("relay session closed")
}

// openAdapter opens one backend call and registers this session's callback.
func (s *Session) openAdapter(ctx context.Context) (stt.Adapter, error) {
	adapter, err := s.factory(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	gen := s.adapterGen + 1
	s.mu.Unlock()

	if err := adapter.Start(ctx, &sessionCallback{s: s, gen: gen}); err != nil {
		adapter.Close()
		return nil, err
	}
	s.metrics.RecordBackendOpen()
	return adapter, nil
}

// installAdapterLocked swaps in a newly opened adapter and arms the rotation
// timer. Caller holds s.mu.
func (s *Session) installAdapterLocked(adapter stt.Adapter) {
	s.adapterGen++
	s.adapter = adapter
	gen := s.adapterGen

	if s.rotateTimer != nil {
		s.rotateTimer.Stop()
	}
	if s.cfg.MaxStreamDuration > 0 {
		s.rotateTimer = time.AfterFunc(s.cfg.MaxStreamDuration, func() {
			s.rotate(gen)
		})
	}
}

// rotate proactively replaces the backend call before it hits the provider's
// stream duration ceiling. The old call is half-closed so its trailing final
// still flushes.
func (s *Session) rotate(gen int) {
	s.mu.Lock()
	if s.closed || s.finishing || s.adapterGen != gen {
		s.mu.Unlock()
		return
	}
	old := s.adapter
	s.adapter = nil
	s.mu.Unlock()

	s.log.Info().Msg("rotating backend call before max stream duration")
	s.metrics.RecordBackendReopen("rotation")
	if old != nil {
		old.Close()
	}

	adapter, err := s.openAdapter(s.ctx)
	if err != nil {
		s.backendFailed(gen, err)
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		adapter.Close()
		return
	}
	s.installAdapterLocked(adapter)
	s.mu.Unlock()
}

// backendFailed handles a failed backend call for the given generation:
// the in-flight utterance is dropped, then reopen attempts run with capped
// exponential backoff. Exhausting the budget closes the session with one
// terminal error event.
func (s *Session) backendFailed(gen int, cause error) {
	s.mu.Lock()
	if s.closed || s.finishing || s.adapterGen != gen || s.reopening {
		s.mu.Unlock()
		return
	}
	s.reopening = true
	old := s.adapter
	s.adapter = nil
	s.mu.Unlock()

	code := classifyBackendError(cause)
	s.metrics.RecordBackendError(code.String())
	s.log.Warn().Err(cause).Str("code", code.String()).Msg("backend call failed")

	// No final will be emitted for the interrupted utterance.
	s.lifecycle.Drop()
	if old != nil {
		old.Close()
	}

	go s.reopen(cause)
}

func (s *Session) reopen(cause error) {
	backoff := s.cfg.ReopenBackoff
	for attempt := 1; attempt <= s.cfg.ReopenMaxAttempts; attempt++ {
		select {
		case <-s.ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2

		adapter, err := s.openAdapter(s.ctx)
		if err != nil {
			s.log.Warn().Err(err).
				Int("attempt", attempt).
				Int("maxAttempts", s.cfg.ReopenMaxAttempts).
				Msg("backend reopen failed")
			cause = err
			continue
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			adapter.Close()
			return
		}
		s.installAdapterLocked(adapter)
		s.reopening = false
		s.mu.Unlock()

		s.metrics.RecordBackendReopen("error_recovery")
		s.log.Info().Int("attempt", attempt).Msg("backend call reopened")
		return
	}

	s.terminate(cause)
}

// terminate publishes exactly one terminal error event and closes the session.
func (s *Session) terminate(cause error) {
	s.mu.Lock()
	sendTerminal := !s.terminalSent
	s.terminalSent = true
	s.mu.Unlock()

	if sendTerminal {
		s.registry.Publish(models.CaptionEvent{
			EventType: models.EventCaptionError,
			SessionID: s.id,
			Room:      s.room,
			Identity:  s.identity,
			Text:      cause.Error(),
			Terminal:  true,
			Timestamp: time.Now().UnixMilli(),
		})
	}
	s.Close()
}

// classifyBackendError maps a backend failure to a grpc status code.
func classifyBackendError(err error) codes.Code {
	if st, ok := status.FromError(err); ok {
		return st.Code()
	}
	return codes.Unknown
}

// sessionCallback binds backend results to one adapter generation so a
// replaced call cannot fail or speak for its successor.
type sessionCallback struct {
	s   *Session
	gen int
}

func (c *sessionCallback) OnPartial(text string) {
	s := c.s
	if !c.current() {
		return
	}
	if err := s.lifecycle.EmitPartial(); err != nil {
		s.log.Debug().Err(err).Msg("partial suppressed")
		return
	}
	s.registry.Publish(models.CaptionEvent{
		EventType: models.EventCaptionPartial,
		SessionID: s.id,
		Room:      s.room,
		Identity:  s.identity,
		Label:     s.label,
		Text:      text,
		Timestamp: time.Now().UnixMilli(),
	})
}

func (c *sessionCallback) OnFinal(text string, confidence float64) {
	s := c.s
	if !c.deliverable() {
		return
	}
	if err := s.lifecycle.EmitFinal(); err != nil {
		s.log.Debug().Err(err).Msg("duplicate final suppressed")
		return
	}
	s.registry.Publish(models.CaptionEvent{
		EventType:  models.EventCaptionFinal,
		SessionID:  s.id,
		Room:       s.room,
		Identity:   s.identity,
		Label:      s.label,
		Text:       text,
		IsFinal:    true,
		Confidence: confidence,
		Timestamp:  time.Now().UnixMilli(),
	})
}

func (c *sessionCallback) OnError(err error) {
	c.s.backendFailed(c.gen, err)
}

// current reports whether this callback's adapter is still installed.
func (c *sessionCallback) current() bool {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	return !c.s.closed && c.s.adapterGen == c.gen
}

// deliverable is current plus the drain window: trailing finals from a
// half-closed call still publish while the session finishes.
func (c *sessionCallback) deliverable() bool {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if c.s.closed {
		return false
	}
	if c.s.finishing {
		return true
	}
	return c.s.adapterGen == c.gen || c.gen == c.s.adapterGen-1
}
