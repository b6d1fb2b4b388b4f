package relay

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"conference-transcription-service/internal/fanout"
	"conference-transcription-service/internal/models"
	"conference-transcription-service/internal/observability/metrics"
	"conference-transcription-service/internal/stt"
)

const writeTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  16 * 1024,
	WriteBufferSize: 16 * 1024,
	// Browser clients connect from the conferencing app's origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler upgrades participant connections and runs one relay session per
// connection.
type Handler struct {
	cfg      Config
	factory  stt.Factory
	registry *fanout.Registry
	log      zerolog.Logger
	metrics  *metrics.Metrics
}

// NewHandler builds the websocket endpoint handler.
func NewHandler(cfg Config, factory stt.Factory, registry *fanout.Registry, log zerolog.Logger) *Handler {
	return &Handler{
		cfg:      cfg,
		factory:  factory,
		registry: registry,
		log:      log,
		metrics:  metrics.DefaultMetrics,
	}
}

// ServeHTTP handles GET /v1/transcription?room=...&identity=...&label=...
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	room := r.URL.Query().Get("room")
	identity := r.URL.Query().Get("identity")
	label := r.URL.Query().Get("label")
	if room == "" || identity == "" {
		http.Error(w, "room and identity are required", http.StatusBadRequest)
		return
	}
	if label == "" {
		label = identity
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	sess := NewSession(h.cfg, room, identity, label, h.factory, h.registry, h.log)
	// The same participant can reconnect; the connection id tells the two
	// lives apart in logs.
	log := h.log.With().
		Str("sessionID", sess.ID()).
		Str("connID", uuid.NewString()).
		Logger()

	if err := sess.Start(r.Context()); err != nil {
		log.Error().Err(err).Msg("backend open failed")
		msg, _ := encodeEvent(models.CaptionEvent{
			EventType: models.EventCaptionError,
			SessionID: sess.ID(),
			Text:      "recognition backend unavailable",
			Terminal:  true,
			Timestamp: time.Now().UnixMilli(),
		})
		conn.WriteMessage(websocket.TextMessage, msg)
		conn.Close()
		return
	}

	h.metrics.RecordSessionStart()
	started := time.Now()
	log.Info().Str("room", room).Str("identity", identity).Msg("relay session started")

	// Outbound events for this connection flow through a bounded queue; a
	// consumer that stops reading loses events rather than stalling the
	// publisher.
	out := make(chan models.CaptionEvent, h.cfg.EventQueueCapacity)
	sub := h.registry.Subscribe(func(ev models.CaptionEvent) {
		if ev.SessionID != sess.ID() {
			return
		}
		select {
		case out <- ev:
		default:
			h.metrics.RecordEventDropped("subscriber_backlog")
		}
	})

	stop := make(chan struct{})
	writerDone := make(chan struct{})
	go h.writePump(conn, out, stop, writerDone, log)

	h.readPump(r.Context(), conn, sess, log)

	h.registry.Unsubscribe(sub)
	close(stop)
	<-writerDone
	conn.Close()

	h.metrics.RecordSessionEnd(time.Since(started).Seconds())
	log.Info().Dur("duration", time.Since(started)).Msg("relay session ended")
}

// readPump forwards binary frames to the backend until the client goes away.
// A normal close half-closes the backend so trailing finals drain first.
func (h *Handler) readPump(ctx context.Context, conn *websocket.Conn, sess *Session, log zerolog.Logger) {
	defer sess.Close()

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				sess.Finish()
			} else {
				log.Warn().Err(err).Msg("client connection lost")
			}
			return
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		if err := sess.ProcessAudio(ctx, data); err != nil {
			return
		}
	}
}

// writePump serializes events onto the connection. It owns all writes after
// session start.
func (h *Handler) writePump(conn *websocket.Conn, out <-chan models.CaptionEvent, stop <-chan struct{}, done chan<- struct{}, log zerolog.Logger) {
	defer close(done)
	for {
		var ev models.CaptionEvent
		select {
		case <-stop:
			return
		case ev = <-out:
		}

		data, err := encodeEvent(ev)
		if err != nil {
			log.Error().Err(err).Msg("event encode failed")
			continue
		}
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Warn().Err(err).Msg("event write failed")
			return
		}
	}
}

func encodeEvent(ev models.CaptionEvent) ([]byte, error) {
	return models.FromCaptionEvent(ev).Encode()
}
